package cmd

import (
	"log"

	"github.com/DavidNingthou/TICSAI/ticsai"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [flags]",
	Short: "Starts the TICS AI Telegram bot",
	Run: func(cmd *cobra.Command, _ []string) {
		ctx := cmd.Context()
		bot, err := ticsai.New(cfg)
		if err != nil {
			log.Fatalf("error creating ticsai: %s", err.Error())
		}

		if err = bot.Run(ctx); err != nil {
			log.Fatalf("error running ticsai: %s", err.Error())
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
