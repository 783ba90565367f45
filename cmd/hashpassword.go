package cmd

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"github.com/confideapp/confide/confide"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader is a function type for reading passwords. It's really only
// here to make testing easier.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an admin password for use with the API config",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()

		if customPasswordReader == nil {
			customPasswordReader = func() ([]byte, error) {
				return term.ReadPassword(int(syscall.Stdin))
			}
		}

		var password string
		for {
			fmt.Fprint(out, "Enter admin password: ")
			passwordBytes, _ := customPasswordReader()
			password = string(passwordBytes)
			fmt.Fprintln(out)

			fmt.Fprint(out, "Confirm admin password: ")
			confirmPasswordBytes, _ := customPasswordReader()
			confirmPassword := string(confirmPasswordBytes)
			fmt.Fprintln(out)

			if password == confirmPassword {
				break
			}
			fmt.Fprintln(out, "Passwords do not match. Please try again.")
		}

		hashedPassword, err := confide.HashPassword(password)
		if err != nil {
			log.Fatalf("Error hashing password: %v", err)
		}

		fmt.Fprintln(out, "Set the following environment variable to enable API login:")
		fmt.Fprintf(out, "CONFIDE_API_ADMIN_PASSWORD_HASH='%s'\n", hashedPassword)

		if cfg.API.AdminUsername == "" {
			reader := bufio.NewReader(os.Stdin)
			fmt.Fprint(out, "Enter admin username: ")
			username, _ := reader.ReadString('\n')
			username = strings.TrimSpace(username)
			if username != "" {
				fmt.Fprintf(out, "CONFIDE_API_ADMIN_USERNAME='%s'\n", username)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
