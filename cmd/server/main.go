// SuccessDesk: a customer-success assistant that classifies each query and
// hands it to one of five specialist agents.
//
// The default command serves the HTTP API. The remaining commands run a
// single operation against the same components without HTTP:
//   - route     classify and answer one query
//   - validate  check a provider API key
//   - agents    list the agent catalog
//   - quota     show or reset a session's message quota
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/agentoven/successdesk/internal/config"
	"github.com/agentoven/successdesk/internal/store"
	"github.com/agentoven/successdesk/pkg/models"
	"github.com/agentoven/successdesk/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "successdesk",
	Short:         "successdesk - multi-agent customer success assistant",
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var routeCmd = &cobra.Command{
	Use:   "route <query>",
	Short: "Classify a query and print the agent's answer",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoute,
}

var validateCmd = &cobra.Command{
	Use:   "validate <provider> <api-key>",
	Short: "Check that an API key is accepted by its provider",
	Args:  cobra.ExactArgs(2),
	RunE:  runValidate,
}

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List the agent catalog",
	RunE:  runAgents,
}

var quotaCmd = &cobra.Command{
	Use:   "quota <session-id>",
	Short: "Show a session's message quota (requires DATABASE_PATH)",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuota,
}

var (
	agentFlag   string
	contextFlag string
	resetFlag   bool
)

func init() {
	routeCmd.Flags().StringVarP(&agentFlag, "agent", "a", "", "Skip classification and use this agent")
	routeCmd.Flags().StringVarP(&contextFlag, "context", "c", "", "Customer context as a JSON document")
	quotaCmd.Flags().BoolVar(&resetFlag, "reset", false, "Set the message count back to zero first")
	rootCmd.AddCommand(serveCmd, routeCmd, validateCmd, agentsCmd, quotaCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// setupLogging configures the global zerolog logger.
func setupLogging(cfg config.LoggingConfig, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "json" {
		log.Logger = zerolog.New(out).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
}

// build loads configuration, configures logging and assembles the server.
func build(ctx context.Context) (*server.Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Logging, os.Stderr)
	return server.NewWithConfig(ctx, cfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := build(ctx)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer srv.Store.Close()
	defer srv.ShutdownFunc(context.Background())

	log.Info().Msg("🎧 SuccessDesk starting...")

	if err := srv.Janitor.Start(ctx); err != nil {
		return fmt.Errorf("start retention janitor: %w", err)
	}

	// Agent calls can take most of a minute on their own, and the workflow
	// makes two of them in sequence.
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", srv.Port).Msg("🚀 SuccessDesk is ready")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("🛑 Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func runRoute(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	req := &models.RouteRequest{Query: args[0]}
	if agentFlag != "" {
		id := models.AgentID(agentFlag)
		if !id.Valid() {
			return fmt.Errorf("unknown agent %q (want one of %v)", agentFlag, models.AgentIDs)
		}
		req.ExplicitAgent = id
	}
	if contextFlag != "" {
		if err := json.Unmarshal([]byte(contextFlag), &req.Context); err != nil {
			return fmt.Errorf("parse --context: %w", err)
		}
	}

	srv, err := build(ctx)
	if err != nil {
		return err
	}
	defer srv.Store.Close()

	resp, err := srv.Orchestrator.Route(ctx, req)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), resp)
}

func runValidate(cmd *cobra.Command, args []string) error {
	provider, err := models.ParseProvider(args[0])
	if err != nil {
		return err
	}

	srv, err := build(cmd.Context())
	if err != nil {
		return err
	}
	defer srv.Store.Close()

	result := srv.Router.KeyValidator().Validate(cmd.Context(), provider, args[1])
	if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
		return err
	}
	if !result.IsValid {
		return errors.New("key rejected")
	}
	return nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	srv, err := build(cmd.Context())
	if err != nil {
		return err
	}
	defer srv.Store.Close()

	out := cmd.OutOrStdout()
	for _, def := range srv.Catalog.List() {
		state := "enabled"
		if !def.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(out, "%-10s %-28s %-14s %s\n", def.ID, def.Name, def.Model, state)
	}
	return nil
}

func runQuota(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	srv, err := build(ctx)
	if err != nil {
		return err
	}
	defer srv.Store.Close()

	sessionID := args[0]
	if _, err := srv.Store.GetSession(ctx, sessionID); err != nil {
		if store.IsNotFound(err) {
			return fmt.Errorf("session %s not found", sessionID)
		}
		return err
	}
	if resetFlag {
		if err := srv.Quota.Reset(ctx, sessionID); err != nil {
			return err
		}
	}

	st, err := srv.Quota.Status(ctx, sessionID)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), st)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
