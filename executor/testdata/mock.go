//go:build wasip1

// Mock guest for testing the executor without a real interpreter.
// Build with: GOOS=wasip1 GOARCH=wasm go build -o mock.wasm mock.go
//
// Each line of an exec command is one instruction:
//
//	print <text>     write text to stdout
//	warn <text>      write text to stderr
//	value <text>     report text as the final value
//	fail <msg>       fail the execution
//	set <k> <v>      remember v under k
//	get <k>          print the remembered value
//	call <fn> <k=v>  call a host function and print its data
//	spin             loop forever
//	quit             exit the guest
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

func main() {
	fmt.Fprint(os.Stderr, "\x00GORU_READY\x00")

	vars := map[string]string{}
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var cmd struct {
			Type string `json:"type"`
			Code string `json:"code"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			continue
		}
		if cmd.Type == "exit" {
			return
		}
		if cmd.Type != "exec" {
			continue
		}

		if err := run(cmd.Code, vars, scanner); err != "" {
			fmt.Fprintf(os.Stderr, "\x00GORU_ERROR:%s\x00", err)
			continue
		}
		fmt.Fprint(os.Stderr, "\x00GORU_DONE\x00")
	}
}

func run(code string, vars map[string]string, scanner *bufio.Scanner) string {
	for _, line := range strings.Split(code, "\n") {
		op, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch op {
		case "print":
			fmt.Println(arg)
		case "warn":
			fmt.Fprintln(os.Stderr, arg)
		case "value":
			fmt.Fprintf(os.Stderr, "\x00GORU_VALUE:%s\x00", arg)
		case "fail":
			return arg
		case "set":
			k, v, _ := strings.Cut(arg, " ")
			vars[k] = v
		case "get":
			fmt.Println(vars[arg])
		case "call":
			fn, kv, _ := strings.Cut(arg, " ")
			args := map[string]any{}
			if k, v, ok := strings.Cut(kv, "="); ok {
				args[k] = v
			}
			req, _ := json.Marshal(map[string]any{"fn": fn, "args": args})
			fmt.Fprintf(os.Stderr, "\x00GORU:%s\x00", req)
			if !scanner.Scan() {
				return "no response"
			}
			var resp struct {
				Data  any    `json:"data"`
				Error string `json:"error"`
			}
			json.Unmarshal(scanner.Bytes(), &resp)
			if resp.Error != "" {
				return resp.Error
			}
			fmt.Println(resp.Data)
		case "spin":
			for {
			}
		case "quit":
			os.Exit(3)
		}
	}
	return ""
}
