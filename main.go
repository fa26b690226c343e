package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NotVinay/tastystream/config"
	"github.com/NotVinay/tastystream/logging"
	"github.com/NotVinay/tastystream/streamer"
	"github.com/NotVinay/tastystream/tastyworks"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	logging.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("tastystream stopped", "error", err)
		os.Exit(1)
	}
}

// run logs in, starts the streamers and serves the API until ctx is done or
// the quote streamer stops.
func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	client := tastyworks.NewClient(cfg.Tastyworks.APIURL)
	session, err := client.Login(ctx, cfg.Tastyworks.Username, cfg.Tastyworks.Password)
	if err != nil {
		return err
	}
	log.Info("logged in", "api_url", client.BaseURL())

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := streamer.NewMetrics(reg)

	opts := []streamer.Option{
		streamer.WithLogger(log),
		streamer.WithHandshakeTimeout(cfg.Streamer.HandshakeTimeout),
		streamer.WithKeepAlive(cfg.Streamer.KeepAlive),
		streamer.WithMetrics(metrics),
	}
	if cfg.Streamer.Reconnect.Enabled {
		opts = append(opts, streamer.WithReconnect(cfg.Streamer.Reconnect))
	}

	s, err := streamer.Dial(ctx, session, opts...)
	if err != nil {
		return fmt.Errorf("starting quote streamer: %w", err)
	}
	defer s.Close()

	store := newSnapshotStore()
	go store.consume(s.Events())

	for eventType, symbols := range cfg.Streamer.Subscriptions {
		if err := s.Subscribe(ctx, eventType, symbols...); err != nil {
			return err
		}
		log.Info("subscribed", "type", eventType, "symbols", symbols)
	}

	if len(cfg.Tastyworks.Accounts) > 0 {
		account, err := streamer.DialAccount(ctx, session, cfg.Tastyworks.AccountURL,
			streamer.WithLogger(log),
			streamer.WithMetrics(metrics))
		if err != nil {
			return fmt.Errorf("starting account streamer: %w", err)
		}
		defer account.Close()
		go store.consumeAccount(account.Events())

		if _, err := account.Subscribe(ctx, cfg.Tastyworks.Accounts...); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	newAPIHandler(s, store, log).routes(mux, cfg.Server.AllowedOrigins)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
	case <-s.Done():
		runErr = s.Err()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "error", err)
	}
	return runErr
}
