package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/quiz"
)

var quizCmd = &cobra.Command{
	Use:   "quiz <lesson>",
	Short: "Take a lesson's quiz",
	Long: `Walk through a lesson's multiple-choice quiz. Answer each question with
its option number. Results are reported to --report-url when set, and the
completion is recorded in --store.`,
	Args: cobra.ExactArgs(1),
	RunE: runQuiz,
}

func init() {
	rootCmd.AddCommand(quizCmd)
}

func runQuiz(cmd *cobra.Command, args []string) error {
	l, err := lesson.Load(args[0])
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, l)
	if err != nil {
		return err
	}
	defer rt.Close()

	q, err := rt.newQuiz(l)
	if err != nil {
		return err
	}
	if q == nil {
		return fmt.Errorf("%s has no quiz", args[0])
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "^C",
		Stdin:           io.NopCloser(cmd.InOrStdin()),
		Stdout:          cmd.OutOrStdout(),
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	return takeQuiz(cmd.Context(), q, rl, cmd.OutOrStdout())
}

// takeQuiz runs the question loop until the learner declines a restart or
// input ends.
func takeQuiz(ctx context.Context, q *quiz.Quiz, rl lineReader, out io.Writer) error {
	for {
		st := q.State()
		fmt.Fprintf(out, "\n%s\n%s\n", st.Progress, st.Prompt)
		for i, opt := range st.Options {
			fmt.Fprintf(out, "  %d) %s\n", i+1, opt)
		}

		checked, err := answer(ctx, q, rl, out)
		if err != nil {
			return err
		}
		if checked.Correct {
			fmt.Fprintln(out, "Correct!")
		} else {
			fmt.Fprintf(out, "Incorrect. The answer was %d) %s\n", checked.CorrectOption+1, st.Options[checked.CorrectOption])
		}

		if checked.Results == nil {
			if err := q.Next(); err != nil {
				return err
			}
			continue
		}

		res := checked.Results
		fmt.Fprintf(out, "\nQuiz Complete!\nYour score: %d out of %d\n%s\n", res.Score, res.Total, res.Feedback)

		fmt.Fprintln(out, "Try again? [y/N]")
		line, err := rl.Readline()
		if err != nil || !strings.EqualFold(strings.TrimSpace(line), "y") {
			return nil
		}
		q.Restart()
	}
}

// answer reads option numbers until one is accepted and checked.
func answer(ctx context.Context, q *quiz.Quiz, rl lineReader, out io.Writer) (quiz.Checked, error) {
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				return quiz.Checked{}, errQuizAborted
			}
			return quiz.Checked{}, fmt.Errorf("read input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line != "" {
			n, err := strconv.Atoi(line)
			if err != nil {
				fmt.Fprintln(out, "Enter an option number.")
				continue
			}
			if err := q.Select(n - 1); err != nil {
				fmt.Fprintln(out, "Enter an option number.")
				continue
			}
		}

		checked, err := q.Check(ctx)
		if errors.Is(err, quiz.ErrNoSelection) {
			fmt.Fprintln(out, quiz.SelectPrompt)
			continue
		}
		return checked, err
	}
}

var errQuizAborted = errors.New("quiz aborted")
