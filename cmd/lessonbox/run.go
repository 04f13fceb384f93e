package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/lessonbox/lesson"
	"github.com/caffeineduck/lessonbox/orchestrator"
)

var runCmd = &cobra.Command{
	Use:   "run <lesson>",
	Short: "Run a lesson's hidden and fixed blocks",
	Long: `Load a lesson, start its interpreter, fetch its data files and run its
hidden and fixed blocks in order, printing each fixed block and its output.

With --editable, editable blocks are then run once with their initial text.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var execCmd = &cobra.Command{
	Use:   "exec [file]",
	Short: "Execute code in a fresh session",
	Long: `Execute code in a fresh interpreter session and print its output.

Code can be provided via:
  - File argument: lessonbox exec script.star
  - Inline flag: lessonbox exec -c 'print(1+1)'
  - Stdin: echo '1+1' | lessonbox exec`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	runCmd.Flags().Bool("editable", false, "Also run editable blocks once")
	execCmd.Flags().StringP("code", "c", "", "Code to execute")
	rootCmd.AddCommand(runCmd, execCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	runEditable, _ := cmd.Flags().GetBool("editable")

	l, err := lesson.Load(args[0])
	if err != nil {
		return err
	}
	rt, err := newRuntime(cfg, l)
	if err != nil {
		return err
	}
	defer rt.Close()

	out := cmd.OutOrStdout()
	if l.Title != "" {
		fmt.Fprintf(out, "# %s\n\n", l.Title)
	}

	o, err := rt.newOrchestrator(l, orchestrator.NewWriterDisplay(out))
	if err != nil {
		return err
	}
	defer o.Close()

	if err := o.Boot(cmd.Context(), rt.start); err != nil {
		return err
	}

	if runEditable {
		for _, b := range l.ByCategory(lesson.Editable) {
			if _, err := o.Trigger(cmd.Context(), b.ID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s: %v\n", b.ID, err)
			}
		}
	}

	if failed := failedBlocks(o.Snapshot()); len(failed) > 0 {
		return fmt.Errorf("%d block(s) failed: %v", len(failed), failed)
	}
	return nil
}

func failedBlocks(snap orchestrator.Snapshot) []string {
	var ids []string
	for _, b := range snap.Blocks {
		if b.Status == orchestrator.StatusFailed && b.Category != lesson.Hidden {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

func runExec(cmd *cobra.Command, args []string) error {
	code, _ := cmd.Flags().GetString("code")

	var source string
	switch {
	case code != "":
		source = code
	case len(args) > 0:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		source = string(data)
	default:
		in := cmd.InOrStdin()
		if f, ok := in.(*os.File); ok {
			// No piped input, show help
			if stat, err := f.Stat(); err == nil && stat.Mode()&os.ModeCharDevice != 0 {
				return cmd.Help()
			}
		}
		data, err := io.ReadAll(in)
		if err != nil {
			return err
		}
		source = string(data)
		if source == "" {
			return cmd.Help()
		}
	}

	rt, err := newRuntime(cfg, nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	sess, err := rt.start(cmd.Context())
	if err != nil {
		return err
	}
	defer sess.Close()

	result := sess.Execute(cmd.Context(), source)
	fmt.Fprintln(cmd.OutOrStdout(), result.Output)
	if !result.Succeeded {
		return result.Err
	}
	return nil
}
