package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/vibesec/vibesec-login/internal"
	"github.com/vibesec/vibesec-login/internal/config"
	"github.com/vibesec/vibesec-login/internal/log"
	"github.com/vibesec/vibesec-login/internal/urlutil"
)

var BuildVersion = "dev"

// redirectParam tells the login endpoint where to send the browser back to
const redirectParam = "redirect_uri"

func generateDefaultConfig(path string) error {
	defaultConfig := map[string]any{
		"version": config.VersionPrefix,
		"backend": map[string]any{
			"baseURL":         config.DefaultBaseURL,
			"exchangeTimeout": "30s",
		},
		"app": map[string]any{
			"loginURL":      config.DefaultLoginURL,
			"entryURL":      config.DefaultEntryURL,
			"redirectDelay": "1s",
		},
		"callback": map[string]any{
			"addr": config.DefaultCallbackAddr,
		},
		"session": map[string]any{
			"storage":       config.StorageFile,
			"encryptionKey": map[string]string{"$env": "VIBESEC_ENCRYPTION_KEY"},
		},
	}

	data, err := json.MarshalIndent(defaultConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func validateConfig(w io.Writer, path string) error {
	result, err := config.ValidateFile(path)
	if err != nil {
		return fmt.Errorf("error during validation: %w", err)
	}

	fmt.Fprintf(w, "Validating: %s\n", path)

	if len(result.Errors) > 0 {
		fmt.Fprintf(w, "\nErrors (%d):\n", len(result.Errors))
		for _, err := range result.Errors {
			if err.Path != "" {
				fmt.Fprintf(w, "  - %s: %s\n", err.Path, err.Message)
			} else {
				fmt.Fprintf(w, "  - %s\n", err.Message)
			}
		}
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings (%d):\n", len(result.Warnings))
		for _, warn := range result.Warnings {
			if warn.Path != "" {
				fmt.Fprintf(w, "  - %s: %s\n", warn.Path, warn.Message)
			} else {
				fmt.Fprintf(w, "  - %s\n", warn.Message)
			}
		}
	}

	fmt.Fprintln(w)
	if len(result.Errors) == 0 && len(result.Warnings) == 0 {
		fmt.Fprintln(w, "Result: PASS")
	} else if len(result.Errors) == 0 {
		fmt.Fprintln(w, "Result: FAIL (warnings present)")
	} else {
		fmt.Fprintln(w, "Result: FAIL")
	}

	if len(result.Errors) > 0 || len(result.Warnings) > 0 {
		return fmt.Errorf("validation failed: %d error(s), %d warning(s)", len(result.Errors), len(result.Warnings))
	}
	return nil
}

type cli struct {
	configPath string
	logLevel   string
}

func (c *cli) loadConfig() (config.Config, error) {
	if c.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(c.configPath)
}

// newApp loads the config and builds the application. The caller closes it.
func (c *cli) newApp(ctx context.Context) (*internal.LoginApp, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return internal.NewLoginApp(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "vibesec-login",
		Short:         "Sign in to VibeSec and manage the local session",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.logLevel != "" {
				return log.SetLogLevel(c.logLevel)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (defaults to the hosted backend with keyring storage)")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: error, warn, info, debug or trace")

	root.AddCommand(
		newLoginCmd(c),
		newWhoamiCmd(c),
		newLogoutCmd(c),
		newAccountCmd(c),
		newHealthCmd(c),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newLoginCmd(c *cli) *cobra.Command {
	var (
		noBrowser bool
		testCode  bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the browser and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Listen(); err != nil {
				return fmt.Errorf("failed to start callback server: %w", err)
			}

			target, err := loginTarget(ctx, app, testCode)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Open this URL to sign in:\n\n  %s\n\n", target)
			if !noBrowser {
				if err := browser.OpenURL(target); err != nil {
					log.LogWarnWithFields("main", "Could not open browser", map[string]any{"error": err.Error()})
				}
			}

			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			snap, err := app.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Signed in as %s\n", snap.UserID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the sign-in URL without opening a browser")
	cmd.Flags().BoolVar(&testCode, "test-code", false, "skip the identity provider and sign in with a backend-issued test code")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up if sign-in has not completed after this long (0 waits forever)")
	return cmd
}

// loginTarget is the first URL the browser opens: the provider login with
// our callback as return address, or the callback itself carrying a test
// code.
func loginTarget(ctx context.Context, app *internal.LoginApp, testCode bool) (string, error) {
	if testCode {
		code, err := app.API().TestCode(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to get test code: %w", err)
		}
		return app.CallbackURLWithCode(code)
	}

	u, err := url.Parse(app.LoginURL())
	if err != nil {
		return "", fmt.Errorf("invalid login URL: %w", err)
	}
	return urlutil.WithParam(u, redirectParam, app.CallbackURL()).String(), nil
}

func newWhoamiCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			user, err := app.API().Me(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s <%s>\n", user.Name, user.Email)
			if user.GitHubUsername != "" {
				fmt.Fprintf(out, "GitHub: %s\n", user.GitHubUsername)
			}
			return nil
		},
	}
}

func newLogoutCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and remove the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.API().Logout(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newAccountCmd(c *cli) *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Manage the VibeSec account",
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete",
		Short: "Permanently delete the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete the account without --yes")
			}
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.API().DeleteAccount(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Account deleted")
			return nil
		},
	}
	del.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	account.AddCommand(del)
	return account
}

func newHealthCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.API().Health(cmd.Context()); err != nil {
				return fmt.Errorf("backend unhealthy: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Backend OK")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Create or check a config file",
	}
	cfg.AddCommand(
		&cobra.Command{
			Use:   "init <path>",
			Short: "Generate a default config file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := generateDefaultConfig(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Generated default config at: %s\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate <path>",
			Short: "Validate a config file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return validateConfig(cmd.OutOrStdout(), args[0])
			},
		},
	)
	return cfg
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), BuildVersion)
		},
	}
}

func main() {
	// stdout carries the sign-in URL and command output only
	browser.Stdout = os.Stderr

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.LogError("%v", err)
		stop()
		os.Exit(1)
	}
}
