package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/go-storefront-auth/sessions"
	"github.com/jrsteele09/go-storefront-auth/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local session inspector",
	Long: `Restore all three sessions, keep their tokens fresh in the background and
serve the session inspector on PORT until interrupted.`,
	RunE: withApp(runServe),
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, a *app) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	displayAppname(a.config.GetAppName())

	snaps, err := a.registry.BootstrapAll(ctx)
	if err != nil {
		return err
	}
	for _, t := range a.registry.Types() {
		s := snaps[t]
		ev := log.Info().Str("session", t.String()).Stringer("state", s.State)
		if s.User != nil {
			ev = ev.Str("user_id", s.User.ID)
		}
		ev.Msg("session restored")
	}

	a.startAutoRefresh(ctx)

	handler, err := server.New(a.config.GetEnv(), a.registry, a.metrics)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              a.config.GetPort(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(httpServer) }()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	return shutdown(httpServer)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Strs("sessions", sessionNames()).Msg("session inspector listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	log.Info().Msg("session inspector stopped")
	return nil
}

func sessionNames() []string {
	names := make([]string, 0, len(sessions.AllTypes))
	for _, t := range sessions.AllTypes {
		names = append(names, t.String())
	}
	return names
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
