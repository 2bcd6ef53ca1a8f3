package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jrsteele09/go-storefront-auth/auth"
	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/internal/utils"
	"github.com/jrsteele09/go-storefront-auth/profiles"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/spf13/cobra"
)

var (
	signInEmail    string
	signInPassword string
	refreshProfile bool
)

var statusCmd = &cobra.Command{
	Use:   "status [type...]",
	Short: "Restore sessions and show who is signed in",
	Long:  `Bootstrap the given session types (all of them when none are named) and print their state, user and profile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		types := make([]sessions.SessionType, 0, len(args))
		for _, arg := range args {
			t, err := sessions.ParseSessionType(arg)
			if err != nil {
				return err
			}
			types = append(types, t)
		}
		return withApp(func(ctx context.Context, a *app) error {
			return runStatus(ctx, os.Stdout, a.registry, types, jsonOutput)
		})(cmd, args)
	},
}

var signInCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign a seller or admin session in",
	Long: `Sign the session selected with --session in with email and password. The
password may also be supplied through STOREFRONT_PASSWORD. Other sessions are
left untouched.`,
	RunE: withApp(func(ctx context.Context, a *app) error {
		password := signInPassword
		if password == "" {
			password = os.Getenv("STOREFRONT_PASSWORD")
		}
		return runSignIn(ctx, os.Stdout, a.registry, sessionName, signInEmail, password, jsonOutput)
	}),
}

var signOutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign one session out",
	Long:  `Revoke the selected session's refresh token and clear it locally. The local clear happens even when revocation fails.`,
	RunE: withApp(func(ctx context.Context, a *app) error {
		return runSignOut(ctx, os.Stdout, a.registry, sessionName, jsonOutput)
	}),
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a valid access token for one session",
	Long:  `Print the selected session's access token, refreshing it first when it expires within the expiry buffer.`,
	RunE: withApp(func(ctx context.Context, a *app) error {
		return runToken(ctx, os.Stdout, a.registry, sessionName)
	}),
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the signed-in user's profile for one session",
	RunE: withApp(func(ctx context.Context, a *app) error {
		return runProfile(ctx, os.Stdout, a.registry, sessionName, refreshProfile, jsonOutput)
	}),
}

func init() {
	signInCmd.Flags().StringVar(&signInEmail, "email", "", "Account email")
	signInCmd.Flags().StringVar(&signInPassword, "password", "", "Account password (or STOREFRONT_PASSWORD)")
	_ = signInCmd.MarkFlagRequired("email")

	profileCmd.Flags().BoolVar(&refreshProfile, "refresh", false, "Re-read the profile row after restoring the session")

	rootCmd.AddCommand(statusCmd, signInCmd, signOutCmd, tokenCmd, profileCmd)
}

func runStatus(ctx context.Context, w io.Writer, registry *auth.Registry, types []sessions.SessionType, jsonOut bool) error {
	if len(types) == 0 {
		types = registry.Types()
	}

	out := make([]sessionOutput, 0, len(types))
	for _, t := range types {
		m, err := bootstrapped(ctx, registry, t.String())
		if err != nil {
			return err
		}
		out = append(out, newSessionOutput(registry, m))
	}

	if jsonOut {
		return writeJSON(w, out)
	}
	for i, s := range out {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, formatSessionHuman(s))
	}
	return nil
}

func runSignIn(ctx context.Context, w io.Writer, registry *auth.Registry, name, email, password string, jsonOut bool) error {
	if strings.TrimSpace(email) == "" || password == "" {
		return errors.New("email and password are required")
	}
	m, err := bootstrapped(ctx, registry, name)
	if err != nil {
		return err
	}
	if err := m.SignIn(ctx, email, password); err != nil {
		if errors.Is(err, apperrors.ErrSignInNotExposed) {
			return fmt.Errorf("the %s session signs in through the storefront's full-page flow", m.Type())
		}
		return fmt.Errorf("sign-in failed: %w", err)
	}
	return printSession(w, registry, m, jsonOut)
}

func runSignOut(ctx context.Context, w io.Writer, registry *auth.Registry, name string, jsonOut bool) error {
	m, err := bootstrapped(ctx, registry, name)
	if err != nil {
		return err
	}
	m.SignOut(ctx)
	return printSession(w, registry, m, jsonOut)
}

func runToken(ctx context.Context, w io.Writer, registry *auth.Registry, name string) error {
	t, err := sessions.ParseSessionType(name)
	if err != nil {
		return err
	}
	raw := registry.GetValidToken(ctx, t)
	if raw == "" {
		return apperrors.Wrapf(apperrors.ErrNoSession, "%s", t)
	}
	fmt.Fprintln(w, raw)
	return nil
}

func runProfile(ctx context.Context, w io.Writer, registry *auth.Registry, name string, refresh, jsonOut bool) error {
	m, err := bootstrapped(ctx, registry, name)
	if err != nil {
		return err
	}
	if refresh {
		m.RefreshProfile(ctx)
	}

	snap := m.Snapshot()
	if snap.User == nil {
		return apperrors.Wrapf(apperrors.ErrNoSession, "%s", m.Type())
	}
	if jsonOut {
		return writeJSON(w, snap.Profile)
	}
	fmt.Fprintln(w, formatProfileHuman(snap.Profile))
	return nil
}

// bootstrapped resolves name and restores that session, once.
func bootstrapped(ctx context.Context, registry *auth.Registry, name string) (*auth.SessionManager, error) {
	t, err := sessions.ParseSessionType(name)
	if err != nil {
		return nil, err
	}
	m, err := registry.Get(t)
	if err != nil {
		return nil, err
	}
	if _, err := m.Bootstrap(ctx); err != nil && !errors.Is(err, apperrors.ErrAlreadyBootstrapped) {
		return nil, err
	}
	return m, nil
}

type sessionOutput struct {
	sessions.Snapshot
	StorageKey string `json:"storage_key"`
}

func newSessionOutput(registry *auth.Registry, m *auth.SessionManager) sessionOutput {
	key, _ := registry.StorageKey(m.Type())
	return sessionOutput{Snapshot: m.Snapshot(), StorageKey: key}
}

func printSession(w io.Writer, registry *auth.Registry, m *auth.SessionManager, jsonOut bool) error {
	s := newSessionOutput(registry, m)
	if jsonOut {
		return writeJSON(w, s)
	}
	fmt.Fprintln(w, formatSessionHuman(s))
	return nil
}

// formatSessionHuman formats a session for human readability
func formatSessionHuman(s sessionOutput) string {
	user := "(anonymous)"
	if s.User != nil {
		user = s.User.ID
		if s.User.Email != "" {
			user += " <" + s.User.Email + ">"
		}
	}

	return fmt.Sprintf(`Session:  %s
Key:      %s
State:    %s
User:     %s
Profile:  %s`, s.Type, s.StorageKey, s.State, user, profileSummary(s.Profile))
}

func formatProfileHuman(p *profiles.Profile) string {
	if p == nil {
		return "No profile row for this user."
	}
	v := utils.Value(p)
	return fmt.Sprintf(`ID:       %s
Name:     %s
Email:    %s
Role:     %s`, v.ID, utils.ValueOr(nonEmpty(v.DisplayName()), "-"), utils.ValueOr(nonEmpty(v.Email), "-"), v.Role)
}

func profileSummary(p *profiles.Profile) string {
	if p == nil {
		return "(none)"
	}
	return fmt.Sprintf("%s [%s]", utils.ValueOr(nonEmpty(p.DisplayName()), p.ID), p.Role)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return utils.Ptr(s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
