package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"tg-notify-relay/internal/config"
	"tg-notify-relay/internal/engine"
	"tg-notify-relay/internal/mailbox"
	"tg-notify-relay/internal/server"
	"tg-notify-relay/internal/storage"
	"tg-notify-relay/internal/telegram"
	"tg-notify-relay/internal/twilio"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newTelegramClient() *telegram.Client {
	cfg := a.Config.Telegram
	return telegram.NewClient(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.RequestTimeout, a.Logger)
}

func (a *App) newCaller() engine.Caller {
	if !a.Config.Twilio.Enabled {
		return nil
	}
	cfg := a.Config.Twilio
	return twilio.NewCaller(twilio.Options{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		From:       cfg.From,
		To:         cfg.To,
		Language:   cfg.Language,
		BaseURL:    cfg.APIBase,
		Timeout:    cfg.RequestTimeout,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database.DSN, a.Config.Database.MaxOpenConns, a.Config.Database.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// commandJournal bridges mailbox commands onto the audit store.
type commandJournal struct {
	store *storage.Store
}

func (j commandJournal) InsertCommand(ctx context.Context, cmd mailbox.Command) error {
	return j.store.InsertCommand(ctx, storage.CommandRecord{
		Seq:       cmd.Seq,
		Target:    cmd.Target,
		Action:    cmd.Action,
		Args:      cmd.Args,
		CreatedAt: cmd.CreatedAt,
	})
}

// Run executes the long-running relay service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; audit persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	client := a.newTelegramClient()
	caller := a.newCaller()
	if caller == nil {
		a.Logger.Warn().Msg("twilio 未配置，critical 告警将不会打电话")
	}

	var alertJournal storage.AlertJournal
	var cmdJournal mailbox.Journal
	if store != nil {
		alertJournal = store
		cmdJournal = commandJournal{store: store}
		go a.pruneAuditLoop(ctx, store, time.Hour, a.Config.Database.AuditRetention)
	}

	eng := engine.New(engine.Options{
		Window:    a.Config.Escalation.Window,
		Retention: a.Config.Escalation.Retention,
	}, client, caller, alertJournal, a.Logger)

	box := mailbox.New(mailbox.Options{
		MaxEntries: a.Config.Mailbox.MaxEntries,
		MaxAge:     a.Config.Mailbox.MaxAge,
	}, cmdJournal, a.Logger)

	poller := telegram.NewPoller(client, eng, box, a.Config.Telegram.PollTimeout, a.Logger)

	srv := server.New(server.Options{
		APIKey:          a.Config.Server.APIKey,
		WebhookSecret:   a.Config.Server.WebhookSecret,
		VoiceConfigured: caller != nil,
	}, eng, box, client, a.Logger)

	httpServer := &http.Server{
		Addr:    a.Config.Server.ListenAddr,
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 3)

	go func() {
		if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("engine: %w", err)
		}
	}()
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("telegram poller: %w", err)
		}
	}()
	go func() {
		a.Logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	a.Logger.Info().Msg("notify relay started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http shutdown failed")
	}

	if runErr != nil {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("notify relay stopped")
	return nil
}
