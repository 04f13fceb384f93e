// Package session runs code against one long-lived interpreter.
//
// A [Session] wraps an [Interpreter] whose global namespace persists across
// calls, so a block that defines a function makes it available to every
// later block. [Session.Execute] redirects the interpreter's printed output
// into a buffer for the duration of the call (see [Capture]), evaluates the
// code, and composes printed text and the final expression value into a
// [Result]:
//
//	sess := session.New(interp)
//	res := sess.Execute(ctx, "print('x')\n1 + 1")
//	// res.Output == "x\n2"
//
// Failures never escape as panics; they become a Result whose Output starts
// with "Error: " and whose Err wraps [ErrExecution].
package session
