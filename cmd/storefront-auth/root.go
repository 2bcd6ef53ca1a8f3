package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	jsonOutput  bool
	sessionName string
)

var rootCmd = &cobra.Command{
	Use:   "storefront-auth",
	Short: "Inspect and drive the storefront's buyer, seller and admin sessions",
	Long: `storefront-auth manages the three isolated storefront sessions (main, seller,
admin) against the hosted auth backend. Sessions persist in FOLDER/sessions.json
between runs, each under its own storage key.

Environment Variables:
  BACKEND_URL        Backend base URL, e.g. https://abcd.supabase.co (required)
  BACKEND_ANON_KEY   Public (anon) API key (required)
  FOLDER             Data folder for persisted sessions (default: ./data)
  ENV, LOG_LEVEL     Logging environment and level`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output JSON instead of human-readable text")
	rootCmd.PersistentFlags().StringVarP(&sessionName, "session", "s", "seller", "Session type: main, seller or admin")
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp wires the app for one command invocation and tears it down afterwards.
func withApp(fn func(ctx context.Context, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := commandContext()
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return fmt.Errorf("configuration: %w", err)
		}
		defer a.Close()

		return fn(ctx, a)
	}
}
