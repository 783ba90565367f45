package cmd

import (
	"log"

	"github.com/confideapp/confide/confide"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the confession bot and admin API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := confide.New(cfg)
			if err != nil {
				log.Fatalf("error creating confide: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running confide: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
