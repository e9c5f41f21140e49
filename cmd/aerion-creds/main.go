// aerion-creds manages the credential vault directly: setting, reading, and
// clearing the IMAP/SMTP secret stored for one account, and reporting
// whether the OS keyring or the encrypted-file fallback is active. Useful
// for bootstrapping a new account or rotating a password without having to
// go through the sync daemon.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hkdb/aerion-sync/internal/credentials"
)

var databaseDir string

func main() {
	root := &cobra.Command{
		Use:   "aerion-creds",
		Short: "Manage the aerion-syncd credential vault",
	}
	root.PersistentFlags().StringVar(&databaseDir, "database", "./data", "directory holding the credential vault fallback file")

	root.AddCommand(setCmd(), getCmd(), deleteCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore() (*credentials.Store, error) {
	return credentials.NewStore(databaseDir)
}

func parseRole(s string) (credentials.Role, error) {
	switch strings.ToLower(s) {
	case "imap":
		return credentials.RoleIMAP, nil
	case "smtp":
		return credentials.RoleSMTP, nil
	default:
		return "", fmt.Errorf("role must be \"imap\" or \"smtp\", got %q", s)
	}
}

func setCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "set <account-key>",
		Short: "Set the secret for an account/role, reading it from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			secret, err := readSecretFromStdin()
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.SetSecret(args[0], r, secret); err != nil {
				return err
			}
			fmt.Printf("stored %s secret for %s\n", role, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "imap", "imap or smtp")
	return cmd
}

func getCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "get <account-key>",
		Short: "Print the secret for an account/role to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			secret, err := store.GetSecret(args[0], r)
			if err != nil {
				return err
			}
			fmt.Println(secret)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "imap", "imap or smtp")
	return cmd
}

func deleteCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "delete <account-key>",
		Short: "Remove the stored secret for an account/role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			if err := store.DeleteSecret(args[0], r); err != nil {
				return err
			}
			fmt.Printf("deleted %s secret for %s\n", role, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "imap", "imap or smtp")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which credential backend is active",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			if store.IsKeyringEnabled() {
				fmt.Println("backend: OS keyring")
			} else {
				fmt.Println("backend: encrypted file fallback")
			}
			return nil
		},
	}
}

func readSecretFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read secret from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
