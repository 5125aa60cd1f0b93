package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"docharvest/pkg/auth"
	"docharvest/pkg/github"
	"docharvest/pkg/ratelimit"
	"docharvest/pkg/ui"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var skipVerify bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage the GitHub token",
	Long: `Manage the GitHub personal access token used for API requests.

Tokens are looked up in this order:
  - The github.token config value
  - DOCHARVEST_GITHUB_TOKEN and GITHUB_TOKEN environment variables
  - The system keychain (written by 'docharvest auth login')

Without a token GitHub allows 60 requests per hour.`,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a GitHub token in the system keychain",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored GitHub token",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which token is used and verify it",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, logoutCmd, statusCmd)

	loginCmd.Flags().BoolVar(&skipVerify, "no-verify", false, "store the token without checking it against the API")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager := auth.NewManager()
	auth.ShowTokenGuide(os.Stdout)

	fmt.Print("GitHub token: ")
	token, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	if token == "" {
		return auth.ErrInvalidCredentials
	}

	if !skipVerify {
		login, err := verifyToken(token)
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}
		ui.PrintInfo("Authenticated as", login)
	}

	if err := manager.Store(auth.DefaultAccount, token); err != nil {
		if errors.Is(err, auth.ErrStoreUnavailable) {
			ui.PrintWarning("No writable credential store. Export the token instead:")
			fmt.Println("  export GITHUB_TOKEN=" + auth.MaskToken(token))
		}
		return err
	}
	ui.PrintSuccess("Token stored")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := auth.NewManager().Delete(auth.DefaultAccount); err != nil {
		if errors.Is(err, auth.ErrCredentialsNotFound) {
			ui.PrintWarning("No stored token")
			return nil
		}
		return err
	}
	ui.PrintSuccess("Token removed from the keychain")

	for _, key := range auth.TokenEnvVars {
		if os.Getenv(key) != "" {
			ui.PrintWarning(key + " is still set in the environment")
		}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	manager := auth.NewManager()
	ui.PrintInfo("Stores", strings.Join(manager.Stores(), ", "))

	cred, err := manager.Retrieve(auth.DefaultAccount)
	if err != nil {
		ui.PrintWarning("No token found, requests are unauthenticated")
		return nil
	}
	ui.PrintInfo("Token", auth.MaskToken(cred.Token))
	ui.PrintInfo("Source", cred.Source)
	if !cred.LastModified.IsZero() {
		ui.PrintInfo("Stored", cred.LastModified.Format(time.RFC3339))
	}

	login, err := verifyToken(cred.Token)
	if err != nil {
		ui.PrintError("Verification failed", err)
		return nil
	}
	ui.PrintSuccess("Authenticated as " + login)
	return nil
}

// verifyToken calls the API with token and returns the login.
func verifyToken(token string) (string, error) {
	cfg, log, err := loadConfig(nil)
	if err != nil {
		return "", err
	}

	budget := ratelimit.NewBudget(budgetConfig(cfg.GitHub), log)
	client, err := github.NewClient(githubOptions(cfg.GitHub, token), budget, nil, log)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GitHub.Timeout)
	defer cancel()
	return client.VerifyCredentials(ctx)
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return strings.TrimSpace(string(secret)), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
