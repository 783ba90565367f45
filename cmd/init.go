package cmd

import (
	"fmt"
	"log"

	"github.com/confideapp/confide/confide"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and run migrations",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			log.Fatal("Environment variable CONFIDE_DATABASE_TYPE not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			log.Fatal(
				"Environment variable CONFIDE_DATABASE not set (must be a valid " +
					"database connection string or sqlite file path)",
			)
		}
		// Run database migrations
		if _, err := confide.CreateDB(ctx, cfg.DatabaseType, cfg.Database); err != nil {
			log.Fatalf("Error creating database: %v", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		if cfg.API.AdminUsername == "" || cfg.API.AdminPasswordHash == "" {
			fmt.Fprintln(
				out,
				"Admin credentials are not set. Use the 'hash-password' subcommand "+
					"to generate a password hash, then set CONFIDE_API_ADMIN_USERNAME "+
					"and CONFIDE_API_ADMIN_PASSWORD_HASH to enable the admin API login.",
			)
		}
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
