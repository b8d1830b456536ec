package cli

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check every alert once and send crossing notifications",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return RunJob(cmd.Context(), cfgFile)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
