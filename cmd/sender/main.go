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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"mailcast/internal/compose"
	"mailcast/internal/config"
	"mailcast/internal/httpapi"
	"mailcast/internal/links"
	"mailcast/internal/logging"
	"mailcast/internal/observability"
	"mailcast/internal/relay"
	"mailcast/internal/segment"
	"mailcast/internal/sender"
	"mailcast/internal/store/pg"
)

func main() {
	cfg := config.LoadSender()
	logging.Init("sender", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{})
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pg.New(db)

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	defer startupCancel()
	if err := db.Ping(startupCtx); err != nil {
		slog.Error("db not reachable", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	relayClient := &relay.Client{
		BaseURL: cfg.RelayBaseURL,
		APIKey:  cfg.RelayAPIKey,
		HTTP:    &http.Client{Timeout: mustDuration(cfg.RelaySendTimeout)},
	}

	api := httpapi.New()
	api.Router.HandleFunc("/healthz", httpapi.Healthz())
	api.Router.HandleFunc("/readyz", httpapi.Readyz(2*time.Second,
		httpapi.Check{Name: "db", Probe: func(c context.Context) error { return db.Ping(c) }},
		httpapi.Check{Name: "relay", Probe: func(c context.Context) error { return relayHealthy(c, cfg.RelayBaseURL) }},
	))

	healthSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpapi.Logging(api.Router),
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("sender health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "relay",
		MaxRequests: 3,
		Timeout:     mustDuration(cfg.RelayRetryWait),
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
	})
	var limiter *rate.Limiter
	if cfg.ThrottlePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.ThrottlePerSec), cfg.ThrottleBurst)
	}

	loop := &sender.Loop{
		Claimer: &sender.Claimer{
			Store:    store,
			Segments: &segment.Resolver{Store: store},
		},
		Composer: &compose.Composer{
			Store:  store,
			Links:  &links.Rewriter{Store: store},
			Config: compose.Config{VERPEnabled: cfg.VERPEnabled},
		},
		Transport:      relayClient,
		Store:          store,
		Breaker:        cb,
		Limiter:        limiter,
		Concurrency:    cfg.Concurrency,
		PollInterval:   mustDuration(cfg.PollInterval),
		RetryInterval:  mustDuration(cfg.RetryInterval),
		RelayRetryWait: mustDuration(cfg.RelayRetryWait),
		SendTimeout:    mustDuration(cfg.RelaySendTimeout),
	}

	loopErrCh := make(chan error, 1)
	go func() {
		slog.Info("sender loop starting",
			"concurrency", cfg.Concurrency,
			"relay", cfg.RelayBaseURL,
			"verp_enabled", cfg.VERPEnabled,
		)
		loopErrCh <- loop.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-loopErrCh:
		if err != nil && err != context.Canceled {
			slog.Error("sender loop failed", "err", err)
			os.Exit(1)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("sender health server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("sender shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-loopErrCh:
	case <-time.After(15 * time.Second):
		slog.Info("sender shutdown timeout waiting for in-flight sends")
	}
}

func relayHealthy(ctx context.Context, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("relay health: %s", resp.Status)
	}
	return nil
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("invalid duration %q: %v", s, err))
	}
	return d
}
