package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/orchestrator"
	"github.com/caffeineduck/lessonbox/session"
)

var replCmd = &cobra.Command{
	Use:   "repl [lesson]",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session. With a lesson,
its hidden and fixed blocks run first and its editable blocks can be edited
and run.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Lesson commands:
  :blocks          list editable blocks
  :show <id>       print a block's current text
  :edit <id>       replace a block's text (end with a line containing only .)
  :run <id>        run an editable block

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.lessonbox_history)")
	rootCmd.AddCommand(replCmd)
}

// lineReader is the part of *readline.Instance the loop uses.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(string)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".lessonbox_history")
	}

	var l *lesson.Lesson
	if len(args) > 0 {
		var err error
		if l, err = lesson.Load(args[0]); err != nil {
			return err
		}
	}

	rt, err := newRuntime(cfg, l)
	if err != nil {
		return err
	}
	defer rt.Close()

	r := &repl{out: cmd.OutOrStdout(), errOut: cmd.ErrOrStderr()}
	if l != nil {
		o, err := rt.newOrchestrator(l, orchestrator.NewWriterDisplay(r.out))
		if err != nil {
			return err
		}
		defer o.Close()
		if err := o.Boot(cmd.Context(), rt.start); err != nil {
			return err
		}
		r.orch = o
		r.sess = o.Session()
	} else {
		sess, err := rt.start(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.Close()
		r.sess = sess
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(r.errOut, "lessonbox %s REPL (type 'exit' to quit, Ctrl+D to exit)\n", r.sess.Interpreter().Name())
	return r.loop(cmd.Context(), rl)
}

type repl struct {
	sess   *session.Session
	orch   *orchestrator.Orchestrator
	out    io.Writer
	errOut io.Writer
}

func (r *repl) loop(ctx context.Context, rl lineReader) error {
	var multiLine strings.Builder
	inMultiLine := false

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if inMultiLine {
					multiLine.Reset()
					inMultiLine = false
					rl.SetPrompt(">>> ")
				}
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			inMultiLine = true
			rl.SetPrompt("... ")
			continue
		}

		if inMultiLine {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			inMultiLine = false
			rl.SetPrompt(">>> ")
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, ":"):
			if err := r.command(ctx, rl, line); err != nil {
				fmt.Fprintf(r.errOut, "Error: %v\n", err)
			}
			continue
		}

		r.print(r.sess.Execute(ctx, line))
	}
}

func (r *repl) print(res session.Result) {
	fmt.Fprint(r.out, res.Output)
	if !strings.HasSuffix(res.Output, "\n") {
		fmt.Fprintln(r.out)
	}
}

func (r *repl) command(ctx context.Context, rl lineReader, line string) error {
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, ":"), " ")
	arg = strings.TrimSpace(arg)

	if r.orch == nil {
		return errors.New("no lesson loaded")
	}

	switch name {
	case "blocks":
		for _, b := range r.orch.Lesson().ByCategory(lesson.Editable) {
			fmt.Fprintln(r.out, b.ID)
		}
		return nil
	case "show":
		src, err := r.orch.Source(arg)
		if err != nil {
			return err
		}
		fmt.Fprintln(r.out, src)
		return nil
	case "edit":
		if _, err := r.orch.Source(arg); err != nil {
			return err
		}
		src, err := readBlock(rl)
		if err != nil {
			return err
		}
		return r.orch.SetSource(arg, src)
	case "run":
		res, err := r.orch.Trigger(ctx, arg)
		if err != nil {
			return err
		}
		r.print(res)
		return nil
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

// readBlock reads lines until one containing only ".".
func readBlock(rl lineReader) (string, error) {
	rl.SetPrompt("... ")
	defer rl.SetPrompt(">>> ")

	var lines []string
	for {
		line, err := rl.Readline()
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(line) == "." {
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}
