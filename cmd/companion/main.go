package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"OverlayCompanion/internal/config"
	"OverlayCompanion/internal/domain"
	"OverlayCompanion/internal/hostbridge"
	"OverlayCompanion/internal/httpapi"
	"OverlayCompanion/internal/notifications"
	"OverlayCompanion/internal/reconcile"
	"OverlayCompanion/internal/service"
	"OverlayCompanion/internal/store/postgres"
	"OverlayCompanion/internal/store/sqlite"
	"OverlayCompanion/internal/transport"

	"golang.org/x/sync/errgroup"
)

const autoShareInterval = 5 * time.Second

// deps outlive a reload; everything else is rebuilt per session.
type deps struct {
	cfg    config.Config
	logger *slog.Logger
	prefs  service.PrefsStore
	dbPing func(context.Context) error
	mirror notifications.Mirror
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := deps{cfg: cfg, logger: logger}

	if cfg.DBDSN != "" {
		pgPool, err := postgres.Open(ctx, cfg.DBDSN)
		if err != nil {
			logger.Error("db open failed", "err", err)
			os.Exit(1)
		}
		defer pgPool.Close()
		if err := postgres.EnsureSchema(ctx, pgPool); err != nil {
			logger.Error("db schema failed", "err", err)
			os.Exit(1)
		}
		d.prefs = postgres.NewPrefsStore(pgPool, "")
		d.dbPing = pgPool.Ping
		logger.Info("preferences in postgres")
	} else {
		db, err := sqlite.Open(ctx, cfg.PrefsPath)
		if err != nil {
			logger.Error("prefs open failed", "err", err, "path", cfg.PrefsPath)
			os.Exit(1)
		}
		defer db.Close()
		d.prefs = sqlite.NewPrefsStore(db)
		d.dbPing = db.PingContext
		logger.Info("preferences in sqlite", "path", cfg.PrefsPath)
	}

	if cfg.MirrorEnabled() {
		sender, err := notifications.NewFCMSender(ctx, cfg.FCMProjectID, cfg.FCMCredentials)
		if err != nil {
			logger.Warn("phone mirror disabled", "err", err)
		} else {
			d.mirror = &notifications.PhoneMirror{Sender: sender, Token: cfg.FCMDeviceToken}
			logger.Info("phone mirror enabled")
		}
	}

	for {
		reload, err := runSession(ctx, d)
		if err != nil {
			logger.Error("companion stopped", "err", err)
			os.Exit(1)
		}
		if !reload || ctx.Err() != nil {
			return
		}
		logger.Info("reloading session")
	}
}

// runSession builds one session graph and serves it until ctx is done or the
// backend forces a reload. It reports whether a reload was requested.
func runSession(parent context.Context, d deps) (bool, error) {
	cfg, logger := d.cfg, d.logger

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	reloadCh := make(chan struct{}, 1)

	session := &domain.Session{}
	hub := httpapi.NewHub(logger)
	defer hub.Close()

	prefs := &service.PreferencesService{Store: d.prefs, Publisher: hub, Logger: logger}
	if err := prefs.Load(ctx); err != nil {
		return false, fmt.Errorf("load preferences: %w", err)
	}

	sink := &notifications.Sink{
		Publisher:    hub,
		Player:       notifications.CuePlayer{Publisher: hub},
		Mirror:       d.mirror,
		SoundEnabled: prefs.SoundEnabled,
		Logger:       logger,
	}
	rec := reconcile.New(reconcile.Options{Notifier: sink, Logger: logger})

	var dialer transport.Dialer
	if cfg.PushEnabled() {
		dialer = transport.WSDialer{URL: cfg.PushURL.String()}
	}
	tr := transport.New(transport.Options{
		Dialer:         dialer,
		Poller:         transport.NewPollClient(&http.Client{Timeout: cfg.RequestTimeout}, cfg.APIBase.String()),
		Session:        session,
		Logger:         logger,
		ReconnectDelay: cfg.ReconnectDelay,
		InitRetry:      cfg.InitRetry,
		DialTimeout:    cfg.RequestTimeout,
	})
	defer tr.Close()

	bridge := hostbridge.New(hostbridge.Options{Session: session, Logger: logger})
	defer bridge.Close()

	sessions := &service.SessionService{
		Session:   session,
		Prefs:     prefs,
		Notifier:  sink,
		Publisher: hub,
		Logger:    logger,
		Reload: func() {
			select {
			case reloadCh <- struct{}{}:
			default:
			}
		},
	}
	friends := &service.FriendsService{
		Session:    session,
		Transport:  tr,
		Reconciler: rec,
		Notifier:   sink,
		Publisher:  hub,
		Logger:     logger,
	}
	loc := &service.LocationService{
		Session:    session,
		Transport:  tr,
		Reconciler: rec,
		Notifier:   sink,
		Host:       bridge,
		Publisher:  hub,
		Logger:     logger,
	}
	panel := &service.PanelService{
		Session:    session,
		Reconciler: rec,
		Prefs:      prefs,
		Connection: tr,
		Publisher:  hub,
	}
	earnings := &service.EarningsService{Prefs: prefs, Publisher: hub, Logger: logger}
	if err := earnings.Load(); err != nil {
		logger.Warn("earnings state unreadable, starting fresh", "err", err)
	}

	sessions.Bind(tr)
	friends.Bind(tr)
	loc.Bind(tr)

	bridge.OnVisibility(func(v hostbridge.Visibility) { panel.SetVisibility(v) })
	bridge.OnPosition(loc.HandlePosition)
	bridge.OnWallet(func(w hostbridge.Wallet) { earnings.HandleWallet(ctx, w) })
	bridge.OnIdentity(func(userID string) {
		logger.Info("identity received from host", "user_id", userID)
	})

	if userID, ok := sessions.Resume(ctx); ok {
		logger.Info("session resumed", "user_id", userID)
	}
	panel.SetPinned(prefs.Settings().TrackerPinned)

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.NewRouter(httpapi.RouterOpts{
			Logger:         logger,
			IsProd:         cfg.IsProd(),
			AllowedOrigins: cfg.AllowedOrigins,
			DBPing:         d.dbPing,
			Session:        sessions,
			Friends:        friends,
			Location:       loc,
			Panel:          panel,
			Earnings:       earnings,
			Prefs:          prefs,
			Connection:     tr,
			Notifications:  sink,
			Hub:            hub,
			Host:           bridge,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(bridge.Close)
	srv.RegisterOnShutdown(hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "env", cfg.Env, "addr", cfg.Addr, "push", cfg.PushEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error { return tr.Run(gctx) })
	g.Go(func() error { return friends.RunPoller(gctx, cfg.PollInterval) })
	g.Go(func() error { return loc.RunAutoShare(gctx, autoShareInterval) })
	g.Go(func() error { return panel.RunRenderLoop(gctx, cfg.RenderInterval) })

	reload := false
	select {
	case <-gctx.Done():
	case <-reloadCh:
		reload = true
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	cancel()

	if err := g.Wait(); err != nil {
		return false, err
	}
	return reload, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
