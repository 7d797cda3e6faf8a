package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chatflow-gateway/internal/ai"
	"chatflow-gateway/internal/api"
	"chatflow-gateway/internal/automation"
	"chatflow-gateway/internal/config"
	"chatflow-gateway/internal/database"
	"chatflow-gateway/internal/logger"
	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/telegram"
	"chatflow-gateway/internal/whatsapp"
	"chatflow-gateway/internal/ws"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger.Setup(*cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DB, cfg.IsDevelopment())
	if err != nil {
		return err
	}
	if err := database.SyncConfig(ctx, db, cfg); err != nil {
		return err
	}
	store := database.NewStore(db)

	hub := ws.NewHub()
	go hub.Run(ctx)

	responder := &ai.Responder{
		Bots:      store,
		Leads:     store,
		Knowledge: store,
		Toolbox: &ai.Toolbox{
			Catalog:    store,
			Scheduling: store,
			Leads:      store,
		},
		Loop:          ai.Loop{MaxIterations: cfg.AI.MaxIterations},
		HistoryWindow: cfg.AI.HistoryWindow,
		HistoryLimit:  cfg.AI.HistoryLimit,
	}
	if cfg.AI.APIKey != "" {
		model, err := ai.NewOpenAI(ai.Config{APIKey: cfg.AI.APIKey, BaseURL: cfg.AI.BaseURL, Model: cfg.AI.Model})
		if err != nil {
			return err
		}
		responder.Model = model
		slog.Info("AI responder enabled", "model", model.Model())
	} else {
		slog.Warn("OPENAI_API_KEY not set, AI replies disabled")
	}

	rules := automation.NewRuleCache()
	pending := automation.NewPendingInputs()
	executor := automation.NewExecutor(responder, store, store, store, pending, cfg.HTTPActionTimeout)
	engine := automation.NewEngine(rules, store, store, store, executor)
	engine.Observer = hub

	tg := telegram.NewConnector()
	tg.APIServer = cfg.Telegram.APIServer
	manager := session.NewManager(session.Config{
		ReconnectDelay: cfg.Session.ReconnectDelay,
		SendRate:       cfg.Session.SendRate,
		SendBurst:      cfg.Session.SendBurst,
	}, engine, store, hub,
		whatsapp.NewConnector(cfg.WhatsApp.AuthDir, cfg.WhatsApp.PrintQR),
		tg,
	)

	loaded, err := rules.Warm(ctx, store)
	if err != nil {
		return err
	}
	slog.Info("flows compiled", "bots", loaded)

	bots, err := store.ListBots(ctx)
	if err != nil {
		return err
	}
	targets := make([]session.Target, 0, len(bots))
	for _, b := range bots {
		targets = append(targets, session.Target{BotID: b.ID, Options: database.SessionOptions(b)})
	}
	restored := manager.Restore(ctx, targets)
	slog.Info("sessions restored", "count", restored, "bots", len(bots))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Store:    store,
		Sessions: manager,
		Rules:    rules,
		Pending:  pending,
		Hub:      hub,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		slog.Error("session shutdown", "error", err)
	}
	return nil
}
