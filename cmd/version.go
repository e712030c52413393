package cmd

import (
	"fmt"

	"github.com/DavidNingthou/TICSAI/ticsai"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of the application",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf(
			"version=%s commit=%s built: %s",
			ticsai.Version,
			ticsai.CommitSHA,
			ticsai.BuildTime,
		)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
