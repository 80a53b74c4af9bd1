package main

import (
	"os"

	"edgechat/internal/transcript"

	"github.com/spf13/cobra"
)

func renderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render [transcript.yaml]",
		Short: "Render an exported transcript as merged display turns",
		Long:  "Loads a YAML transcript of raw records, coalesces fragmented assistant records into logical turns, and prints the result.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := transcript.Load(args[0])
			if err != nil {
				return err
			}
			return transcript.Render(os.Stdout, t)
		},
	}
}
