// Command lessonbox runs interactive coding lessons from the terminal or
// over HTTP.
package main

func main() {
	Execute()
}
