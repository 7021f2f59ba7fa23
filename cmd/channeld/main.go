// channeld keeps a reconnecting event channel open, prints received events
// and sends events typed on stdin.
// Usage: go run ./cmd/channeld -config configs/channeld.example.yaml
//
// Each stdin line is an event name optionally followed by a JSON payload:
//
//	chat {"text":"hello"}
//	ping
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

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/channels/internal/channel"
	"github.com/rickgao/channels/internal/config"
	"github.com/rickgao/channels/internal/database"
	"github.com/rickgao/channels/internal/journal"
	"github.com/rickgao/channels/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/channeld.example.yaml", "path to config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting channeld", append(version.Attrs(), "config", *configPath)...)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	for _, w := range cfg.Warnings() {
		logger.Warn("config warning", "detail", w)
	}

	logger.Info("configuration loaded",
		"address", cfg.Channel.Address,
		"reconnect_interval", cfg.Channel.ReconnectInterval.Duration(),
		"events", cfg.Channel.Events,
		"journal", cfg.Journal.Enabled,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	ch := channel.New(cfg.Channel.Address, channelOptions(cfg.Channel, logger), logger)
	defer ch.Close()

	events := eventNames(cfg.Channel.Events)
	watchEvents(ch, events, os.Stdout)

	// Optional journal
	var writer *journal.Writer
	if cfg.Journal.Enabled {
		writer, err = startJournal(ctx, cfg, ch, events, logger)
		if err != nil {
			logger.Error("failed to start journal", "error", err)
			os.Exit(1)
		}
	}

	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
		Handler:           createHealthHandler(ch, writer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// stdin is not interruptible, so the sender lives outside the group
	go sendLines(ctx, os.Stdin, ch, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return healthServer.Shutdown(shutdownCtx)
	})

	// Stats printer
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logStats(logger, ch, writer)
			}
		}
	})

	logger.Info("channeld running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("channeld failed", "error", err)
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if writer != nil {
		if err := writer.Stop(shutdownCtx); err != nil {
			logger.Error("journal stop failed", "error", err)
		}
	}
	ch.Close()

	logger.Info("channeld stopped")
}

// startJournal connects to the database and attaches a journal writer.
func startJournal(ctx context.Context, cfg *config.Config, ch *channel.Channel, events []channel.Event, logger *slog.Logger) (*journal.Writer, error) {
	logger.Info("connecting to database",
		"host", cfg.Journal.Database.Host,
		"port", cfg.Journal.Database.Port,
		"database", cfg.Journal.Database.Name,
	)

	pool, err := database.Connect(ctx, cfg.Journal.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	w := journal.NewWriter(journal.Config{
		BatchSize:     cfg.Journal.BatchSize,
		FlushInterval: cfg.Journal.FlushInterval,
		BufferSize:    cfg.Journal.BufferSize,
	}, cfg.Channel.Address, pool, logger)

	if err := w.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	w.Attach(ch, events)
	if err := w.Start(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connected")
	return w, nil
}

func logStats(logger *slog.Logger, ch *channel.Channel, writer *journal.Writer) {
	s := ch.Stats()
	attrs := []any{
		"state", s.State.String(),
		"attempts", s.Attempts,
		"opens", s.Opens,
		"messages", s.Messages,
		"decode_errors", s.DecodeErrors,
		"listener_panics", s.ListenerPanics,
	}
	if writer != nil {
		js := writer.Stats()
		attrs = append(attrs,
			"journal_inserts", js.Inserts,
			"journal_errors", js.Errors,
			"journal_queued", js.Queued,
		)
	}
	logger.Info("stats", attrs...)
}
