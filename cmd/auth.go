package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/relief/credentials"
)

// AuthCommandDeps holds the dependencies for auth commands.
type AuthCommandDeps struct {
	// OpenStore opens the credential store. An empty passphrase uses the
	// default key provider.
	OpenStore func(passphrase string) (*credentials.Store, error)
	// ReadSecret reads a secret without echo.
	ReadSecret func(in io.Reader, out io.Writer, prompt string) (string, error)
}

// DefaultAuthDeps returns the default dependencies for production use.
func DefaultAuthDeps() *AuthCommandDeps {
	return &AuthCommandDeps{
		OpenStore:  openCredentialStore,
		ReadSecret: readSecret,
	}
}

func openCredentialStore(passphrase string) (*credentials.Store, error) {
	if passphrase == "" {
		return credentials.NewStore()
	}
	dir, err := credentials.CredentialsDir()
	if err != nil {
		return nil, err
	}
	kp, err := credentials.NewPassphraseKeyProviderInDir(passphrase, dir)
	if err != nil {
		return nil, err
	}
	return credentials.NewStoreInDir(dir, kp)
}

// readSecret reads hidden input from a terminal, falling back to a plain
// line read when stdin is not a terminal.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	if in == os.Stdin && term.IsTerminal(int(syscall.Stdin)) {
		b, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type authOptions struct {
	passphrase string
}

type authSetOptions struct {
	apiKey           string
	databasePassword string
	redisPassword    string
}

// NewAuthCommand creates the auth command group.
func NewAuthCommand(deps *AuthCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultAuthDeps()
	}
	opts := &authOptions{}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage stored secrets",
		Long: `Manage the secrets relief uses to reach its backends.

Secrets are stored encrypted in ~/.relief/credentials.yaml. The encryption
key lives in the system keyring, in RELIEF_ENCRYPTION_KEY, or is derived
from --passphrase.

Environment variables take precedence over stored secrets.`,
	}

	cmd.PersistentFlags().StringVar(&opts.passphrase, "passphrase", "", "Derive the encryption key from a passphrase instead of the keyring")

	cmd.AddCommand(newAuthSetKeyCommand(deps, opts))
	cmd.AddCommand(newAuthStatusCommand(deps, opts))
	cmd.AddCommand(newAuthClearCommand(deps, opts))
	return cmd
}

func newAuthSetKeyCommand(deps *AuthCommandDeps, auth *authOptions) *cobra.Command {
	opts := &authSetOptions{}

	cmd := &cobra.Command{
		Use:   "set-key",
		Short: "Store the classifier API key and backend passwords",
		Long: `Store the remote classifier API key and, optionally, the database and
Redis passwords.

With no flags, prompts for the classifier API key without echo.`,
		Example: `  relief auth set-key
  relief auth set-key --api-key sk-abc123 --passphrase "correct horse"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.apiKey == "" && opts.databasePassword == "" && opts.redisPassword == "" {
				key, err := deps.ReadSecret(cmd.InOrStdin(), cmd.OutOrStdout(), "Classifier API key: ")
				if err != nil {
					return err
				}
				if key == "" {
					return fmt.Errorf("no API key provided")
				}
				opts.apiKey = key
			}

			store, err := deps.OpenStore(auth.passphrase)
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			err = store.Update(func(c *credentials.Credentials) {
				if opts.apiKey != "" {
					c.ClassifierAPIKey = opts.apiKey
				}
				if opts.databasePassword != "" {
					c.DatabasePassword = opts.databasePassword
				}
				if opts.redisPassword != "" {
					c.RedisPassword = opts.redisPassword
				}
			})
			if err != nil {
				return fmt.Errorf("saving credentials: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, colorize(colorGreen, "Credentials saved."))
			if opts.apiKey != "" {
				fmt.Fprintf(out, "  Classifier API key: %s\n", credentials.MaskSecret(opts.apiKey))
			}
			fmt.Fprintf(out, "\nStored in: %s\n", store.Path())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.apiKey, "api-key", "", "Remote classifier API key")
	cmd.Flags().StringVar(&opts.databasePassword, "database-password", "", "Database password")
	cmd.Flags().StringVar(&opts.redisPassword, "redis-password", "", "Redis password")
	return cmd
}

func newAuthStatusCommand(deps *AuthCommandDeps, auth *authOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show stored secrets, masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if env := os.Getenv(credentials.ClassifierAPIKeyEnv); env != "" {
				fmt.Fprintf(out, "Classifier API key: %s (from %s)\n", credentials.MaskSecret(env), credentials.ClassifierAPIKeyEnv)
			}

			store, err := deps.OpenStore(auth.passphrase)
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			fmt.Fprintf(out, "Key storage: %s\n", store.KeyDescription())

			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials.")
				fmt.Fprintln(out, "Run 'relief auth set-key' to store the classifier API key.")
				return nil
			}

			creds, err := store.Load()
			if err != nil {
				return fmt.Errorf("loading credentials: %w", err)
			}

			fmt.Fprintf(out, "Stored in:   %s\n", store.Path())
			if !creds.LastUpdated.IsZero() {
				fmt.Fprintf(out, "Updated:     %s\n", creds.LastUpdated.Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(out, "  Classifier API key: %s\n", maskedOrNone(creds.ClassifierAPIKey))
			fmt.Fprintf(out, "  Database password:  %s\n", maskedOrNone(creds.DatabasePassword))
			fmt.Fprintf(out, "  Redis password:     %s\n", maskedOrNone(creds.RedisPassword))
			return nil
		},
	}
}

func newAuthClearCommand(deps *AuthCommandDeps, auth *authOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "clear",
		Short:   "Remove stored secrets",
		Aliases: []string{"logout"},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			store, err := deps.OpenStore(auth.passphrase)
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}

			if !store.Exists() {
				fmt.Fprintln(out, "No stored credentials found.")
				return nil
			}
			if err := store.Delete(); err != nil {
				return fmt.Errorf("removing credentials: %w", err)
			}
			fmt.Fprintln(out, "Stored credentials have been removed.")

			if os.Getenv(credentials.ClassifierAPIKeyEnv) != "" {
				fmt.Fprintf(out, "\nNote: %s is still set.\n", credentials.ClassifierAPIKeyEnv)
			}
			return nil
		},
	}
}

func maskedOrNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return credentials.MaskSecret(s)
}
