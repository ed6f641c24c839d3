package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"epmcquery/pkg/auth"
	"epmcquery/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage checkpoint database credentials",
	Long: `Manage stored database credentials for the checkpoint store.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
CLOUD_SQL_USER and CLOUD_SQL_PASSWORD are read as a last fallback.

A run uses --sqluser/--sqlpass first, then --dbcreds, then these stores.`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store database credentials securely",
	Example: `  # Store credentials for the default profile
  epmcquery auth login

  # Store credentials for a second database
  epmcquery auth login staging`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove stored credentials",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogout,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authListCmd)
}

func profileArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return "default"
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	profile := profileArg(args)
	reader := bufio.NewReader(os.Stdin)

	if existing, _ := manager.Retrieve(profile); existing != nil {
		fmt.Fprintf(ui.Output, "Profile '%s' already exists. Update credentials? (y/N): ", profile)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return nil
		}
	}

	fmt.Fprint(ui.Output, "Database user: ")
	user, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read user: %w", err)
	}
	user = strings.TrimSpace(user)

	fmt.Fprint(ui.Output, "Database password: ")
	password, err := readPassword(reader)
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}

	creds := &auth.Credentials{Profile: profile, User: user, Password: password}
	if err := manager.Store(creds); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess("Credentials saved for profile " + profile)
	if profile != "default" {
		fmt.Fprintf(ui.Output, "\nUse them with:\n  epmcquery run --profile %s ...\n", profile)
	}
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	profile := profileArg(args)
	if err := manager.Delete(profile); err != nil {
		return fmt.Errorf("failed to remove profile %s: %w", profile, err)
	}
	ui.PrintSuccess("Profile removed: " + profile)
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	profiles, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}

	if len(profiles) == 0 {
		ui.PrintInfo("No stored profiles", "Use 'epmcquery auth login' to add one")
		return nil
	}

	ui.PrintHighlight("Stored Profiles")
	fmt.Fprintln(ui.Output)
	for i, creds := range profiles {
		sanitized := auth.Sanitize(creds)
		fmt.Fprintf(ui.Output, "%d. Profile: %s\n", i+1, sanitized.Profile)
		fmt.Fprintf(ui.Output, "   User: %s\n", sanitized.User)
		fmt.Fprintf(ui.Output, "   Password: %s\n", sanitized.Password)
		if !sanitized.LastModified.IsZero() {
			fmt.Fprintf(ui.Output, "   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(ui.Output)
	}
	return nil
}

// readPassword reads a password without echo when stdin is a terminal
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		password, err := term.ReadPassword(fd)
		fmt.Fprintln(ui.Output)
		if err == nil {
			return string(password), nil
		}
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
