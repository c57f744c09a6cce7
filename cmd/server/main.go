package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"forager/internal/adjudicator"
	"forager/internal/argon2"
	"forager/internal/banano"
	"forager/internal/captcha"
	"forager/internal/classifier"
	"forager/internal/config"
	"forager/internal/database"
	"forager/internal/filters"
	"forager/internal/handlers"
	"forager/internal/jobs"
	"forager/internal/logging"
	"forager/internal/metrics"
	"forager/internal/notify"
	"forager/internal/payout"
	"forager/internal/proxycheck"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, closer := logging.Setup(logging.Options{
		Service: "banano-forager",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	defer closer.Close()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	var m *metrics.Faucet
	if cfg.EnableMetrics {
		m = metrics.Registry()
	}

	node := banano.NewClient(cfg.NodeURL, cfg.WalletID,
		banano.WithTimeout(cfg.NodeTimeout),
		banano.WithSendTimeout(cfg.PaymentTimeout),
	)
	notifier := notify.New(cfg.WebhookURL)
	committer := payout.NewCommitter(node, cfg.FaucetAddress, db,
		payout.WithNotifier(notifier),
		payout.WithMetrics(m),
		payout.WithLogger(logger.With(slog.String("component", "payout"))),
	)

	var pow *argon2.Service
	if cfg.CaptchaProvider == config.CaptchaProofOfWork {
		pow = argon2.NewService(cfg, db)
	}
	verifier, err := captcha.New(cfg, pow)
	if err != nil {
		return fmt.Errorf("captcha: %w", err)
	}

	var scorer proxycheck.Scorer = proxycheck.Disabled{}
	if cfg.ProxyCheckEnabled {
		scorer = proxycheck.NewGetIPIntel(cfg.ProxyCheckURL, cfg.ProxyCheckContact, cfg.ProxyCheckTimeout)
	}

	chain := filters.Chain{
		filters.AddressFormat{},
		filters.Captcha{Verifier: verifier, Logger: logger},
		filters.History{Source: node, MinAge: cfg.MinAddressAge},
		filters.Blacklist{Store: db, Exempt: cfg.DonationAddress},
		filters.Proxy{Scorer: scorer, Threshold: cfg.ProxyThreshold, Logger: logger},
	}

	adj := adjudicator.New(adjudicator.SettingsFromConfig(cfg), chain, db,
		classifier.NewHTTP(cfg.ClassifierURL, cfg.ClassifierTimeout),
		committer,
		adjudicator.WithMetrics(m),
		adjudicator.WithLogger(logger.With(slog.String("component", "adjudicator"))),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.NodeTimeout)
	if balance, err := committer.Refresh(startCtx); err != nil {
		logger.Warn("faucet balance unavailable at startup", slog.Any("error", err))
	} else {
		logger.Info("faucet balance", slog.String("balance", balance.String()))
	}
	cancelStart()

	scheduler := jobs.New(logger.With(slog.String("component", "jobs")), cfg.PaymentTimeout+cfg.NodeTimeout)
	if err := scheduler.AddSweep(cfg.SweepSchedule, committer, cfg.SweepOnStart); err != nil {
		return err
	}
	if pow != nil {
		if err := scheduler.AddCleanup(cfg.CleanupSchedule, pow); err != nil {
			return err
		}
	}

	var challenges handlers.ChallengeIssuer
	if pow != nil {
		challenges = pow
	}
	handler := handlers.NewHandler(cfg, adj, db, committer, challenges, logger)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      handler.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	scheduler.Start()
	defer scheduler.Stop()

	logger.Info("forager server starting",
		slog.String("addr", server.Addr),
		slog.String("db_backend", cfg.DBBackend),
		slog.String("captcha", cfg.CaptchaProvider),
		slog.String("max_reward", cfg.MaxReward.String()),
		slog.Duration("cooldown", cfg.Cooldown),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
