// Package server provides the public entry point for initializing the
// successdesk server.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
//
// The CLI also uses it to run the orchestrator once without HTTP.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/agentoven/successdesk/internal/agents"
	"github.com/agentoven/successdesk/internal/api"
	"github.com/agentoven/successdesk/internal/api/handlers"
	"github.com/agentoven/successdesk/internal/api/middleware"
	"github.com/agentoven/successdesk/internal/auth"
	"github.com/agentoven/successdesk/internal/catalog"
	"github.com/agentoven/successdesk/internal/clientlog"
	"github.com/agentoven/successdesk/internal/config"
	"github.com/agentoven/successdesk/internal/quota"
	"github.com/agentoven/successdesk/internal/retention"
	modelrouter "github.com/agentoven/successdesk/internal/router"
	"github.com/agentoven/successdesk/internal/sessions"
	"github.com/agentoven/successdesk/internal/store"
	"github.com/agentoven/successdesk/internal/telemetry"
	"github.com/agentoven/successdesk/pkg/models"

	"github.com/rs/zerolog/log"
)

// Server holds the initialized successdesk components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the data store (in-memory or SQLite).
	Store store.Store

	Router       *modelrouter.ModelRouter
	Catalog      *catalog.Catalog
	Orchestrator *agents.Orchestrator
	Quota        *quota.Gate
	Janitor      *retention.Janitor

	// Config is the server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc func(context.Context) error
}

// New loads configuration from the environment and initializes the server.
func New(ctx context.Context) (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg)
}

// NewWithConfig initializes every component with an explicit configuration.
// ctx bounds background work started here (the rate limiter sweeper); the
// retention janitor is built but only runs once Janitor.Start is called.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := store.Open(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if cfg.Database.Path == "" {
		log.Info().Msg("✅ In-memory store initialized")
	} else {
		log.Info().Str("path", cfg.Database.Path).Msg("✅ SQLite store initialized")
	}

	cat, err := catalog.New(dataStore)
	if err != nil {
		dataStore.Close()
		return nil, err
	}
	if cfg.Catalog.OverrideFile != "" {
		if err := cat.LoadFile(cfg.Catalog.OverrideFile); err != nil {
			dataStore.Close()
			return nil, err
		}
	}
	if err := cat.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to restore agent overrides")
	}
	log.Info().Int("agents", len(cat.List())).Msg("✅ Prompt catalog loaded")

	shared := map[models.Provider]string{
		models.ProviderOpenAI:    cfg.Providers.OpenAIKey,
		models.ProviderAnthropic: cfg.Providers.AnthropicKey,
	}
	for _, p := range models.Providers {
		if shared[p] == "" {
			log.Warn().Str("provider", string(p)).Msg("No shared API key; users must supply their own")
		}
	}

	mr := modelrouter.NewModelRouter(dataStore, modelrouter.Options{
		SharedKeys:         shared,
		OpenAIBaseURL:      cfg.Providers.OpenAIBaseURL,
		AnthropicBaseURL:   cfg.Providers.AnthropicBaseURL,
		CallTimeout:        cfg.Providers.CallTimeout,
		ValidateTimeout:    cfg.Providers.ValidateTimeout,
		BreakerMaxFailures: cfg.Providers.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Providers.BreakerOpenTimeout,
	})
	log.Info().Msg("✅ Model Router initialized")

	orch := agents.NewOrchestrator(
		agents.NewClassifier(mr, cfg.Classifier.Model, cfg.Classifier.ConfidenceFloor),
		agents.NewDispatcher(cat, mr),
	)

	credSecret := cfg.Quota.CredentialSecret
	if credSecret == "" {
		credSecret = randomSecret()
		log.Warn().Msg("CREDENTIAL_SECRET not set; stored user keys will not survive a restart")
	}
	sealer, err := quota.NewSealer(credSecret)
	if err != nil {
		dataStore.Close()
		return nil, err
	}
	gate := quota.NewGate(dataStore, sealer, shared, cfg.Quota.FreeMessageLimit)
	log.Info().Int("free_messages", gate.Limit()).Msg("✅ Quota gate initialized")

	issuer, err := sessions.NewIssuer(cfg.Session.Secret, cfg.Session.TTL)
	if err != nil {
		dataStore.Close()
		return nil, err
	}

	janitor := retention.NewJanitor(dataStore, cfg.Retention)
	if cfg.Retention.ArchiveDir != "" {
		janitor.SetArchiver(retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.ArchiveCompress))
	}

	operators := auth.NewAPIKeyProvider(cfg.Auth.OperatorAPIKeys)
	if !operators.Enabled() {
		if cfg.IsDevelopment() {
			log.Warn().Msg("OPERATOR_API_KEYS not set; the admin API is unauthenticated in development")
		} else {
			log.Warn().Msg("OPERATOR_API_KEYS not set; the admin API is disabled")
		}
	}

	h := handlers.New(dataStore, mr, cat, orch, gate, clientlog.NewBuffer(cfg.Retention.ClientLogSize), handlers.Options{
		ClassifierModel:  cfg.Classifier.Model,
		ChatMessageLimit: cfg.Quota.ChatMessageLimit,
		Version:          cfg.Version,
	})
	sess := middleware.NewSessions(issuer, dataStore, cfg.Session.CookieName, !cfg.IsDevelopment())

	return &Server{
		Handler:      api.NewRouter(ctx, cfg, h, sess, operators),
		Store:        dataStore,
		Router:       mr,
		Catalog:      cat,
		Orchestrator: orch,
		Quota:        gate,
		Janitor:      janitor,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
