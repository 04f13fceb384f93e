package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/lessonbox/lesson"
)

var convertCmd = &cobra.Command{
	Use:   "convert <page.html>",
	Short: "Convert a lesson page to a YAML manifest",
	Long: `Discover the code blocks, data files and quiz of a lesson page and print
them as a YAML manifest.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		l, err := lesson.ParseHTML(f)
		if err != nil {
			return err
		}
		data, err := lesson.Marshal(l)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(convertCmd)
}
