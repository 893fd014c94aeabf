// ABOUTME: Hub wiring and lifecycle: store, broadcaster, providers, orchestrator, HTTP
// ABOUTME: Run blocks until ctx cancel or server error, then shuts down gracefully

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/yashkhare0/talkto/internal/config"
	"github.com/yashkhare0/talkto/internal/dedupe"
	"github.com/yashkhare0/talkto/internal/invoke"
	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/roster"
	"github.com/yashkhare0/talkto/internal/store"
)

const (
	shutdownTimeout = 5 * time.Second

	// dedupe window for client-supplied message ids
	seenTTL     = 5 * time.Minute
	seenMaxSize = 10000

	// SystemAgentName is the hub's own identity in the roster.
	SystemAgentName = "talkto"

	// DefaultChannelName always exists so a fresh hub is usable.
	DefaultChannelName = "general"
)

// Hub owns every long-lived component and serves the HTTP API.
type Hub struct {
	cfg          *config.Config
	store        store.Store
	broadcaster  *Broadcaster
	seen         *dedupe.Cache
	opencode     *provider.OpenCodeClient
	clients      provider.Set
	tracker      *provider.Tracker
	resolver     *invoke.Resolver
	ghosts       *invoke.GhostCache
	orchestrator *invoke.Orchestrator
	httpServer   *http.Server
	logger       *slog.Logger
}

// New wires up a hub from config. The returned hub is not yet
// listening; call Run.
func New(cfg *config.Config, logger *slog.Logger) (*Hub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	opencode := provider.NewOpenCodeClient(logger)
	clients := provider.Set{
		provider.KindOpenCode: opencode,
		provider.KindClaude:   provider.NewClaudeClient(cfg.Providers.ClaudeBin, logger),
		provider.KindCodex:    provider.NewCodexClient(cfg.Providers.CodexBin, logger),
	}

	h := &Hub{
		cfg:         cfg,
		store:       st,
		broadcaster: NewBroadcaster(logger),
		seen:        dedupe.New(seenTTL, seenMaxSize),
		opencode:    opencode,
		clients:     clients,
		tracker:     provider.NewTracker(),
		logger:      logger.With("component", "hub"),
	}

	h.resolver = invoke.NewResolver(st, clients, logger)
	h.ghosts = invoke.NewGhostCache(st, h.resolver, cfg.Invoke.GhostRefreshInterval, logger)
	h.orchestrator = invoke.NewOrchestrator(invoke.Config{
		Store:         st,
		Resolver:      h.resolver,
		Tracker:       h.tracker,
		Notifier:      h,
		Logger:        logger,
		PromptTimeout: cfg.Invoke.PromptTimeout,
		ContextWindow: cfg.Invoke.ContextWindow,
	})

	h.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           h.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := h.bootstrap(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}

	return h, nil
}

// bootstrap ensures the baseline roster and channel exist and seeds
// the optional agents file.
func (h *Hub) bootstrap(ctx context.Context) error {
	system := &store.Agent{
		ID:     uuid.New().String(),
		Name:   SystemAgentName,
		Kind:   store.AgentKindSystem,
		Status: store.AgentStatusOnline,
	}
	if err := h.store.CreateAgent(ctx, system); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("creating system agent: %w", err)
	}

	general := &store.Channel{
		ID:   uuid.New().String(),
		Name: DefaultChannelName,
		Kind: store.ChannelKindChannel,
	}
	if err := h.store.CreateChannel(ctx, general); err != nil && !errors.Is(err, store.ErrDuplicate) {
		return fmt.Errorf("creating default channel: %w", err)
	}

	if h.cfg.Agents.File == "" {
		return nil
	}
	entries, err := roster.Load(h.cfg.Agents.File)
	if err != nil {
		return fmt.Errorf("loading agent roster: %w", err)
	}
	if err := roster.Seed(ctx, h.store, entries, h.logger); err != nil {
		return fmt.Errorf("seeding agent roster: %w", err)
	}
	return nil
}

// Run starts the ghost-cache refresh loop and the HTTP server, then
// blocks until ctx is cancelled or the server fails.
func (h *Hub) Run(ctx context.Context) error {
	go h.ghosts.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("http server listening", "addr", h.httpServer.Addr)
		if err := h.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		h.logger.Info("shutdown signal received")
		return h.gracefulShutdown()
	case err := <-errCh:
		h.logger.Error("http server failed", "error", err)
		_ = h.gracefulShutdown()
		return err
	}
}

// gracefulShutdown stops accepting requests, drains in-flight
// invocations, then releases everything. Uses a fresh context because
// the run context is already cancelled.
func (h *Hub) gracefulShutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := h.httpServer.Shutdown(shutdownCtx); err != nil {
		h.logger.Warn("http shutdown incomplete", "error", err)
		firstErr = err
	}

	h.orchestrator.Drain(shutdownTimeout)
	h.broadcaster.Close()
	h.opencode.Close()
	h.seen.Close()

	if err := h.store.Close(); err != nil {
		h.logger.Warn("store close failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	h.logger.Info("shutdown complete")
	return firstErr
}

// NewMessage implements invoke.Notifier.
func (h *Hub) NewMessage(msg *store.Message) {
	h.broadcaster.Publish(NewMessageEvent(msg))
}

// Typing implements invoke.Notifier.
func (h *Hub) Typing(agentName, channelID string, isTyping bool, errMsg string) {
	h.broadcaster.Publish(AgentTypingEvent(agentName, channelID, isTyping, errMsg))
}

// StreamDelta implements invoke.Notifier.
func (h *Hub) StreamDelta(agentName, channelID, text string) {
	h.broadcaster.Publish(AgentStreamEvent(agentName, channelID, text))
}
