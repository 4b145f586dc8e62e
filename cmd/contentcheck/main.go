// CLAUDE:SUMMARY CLI entry point for contentcheck: one check run per invocation, or serve the record API.
// Command contentcheck checks one region of a web page for changes.
//
// Usage:
//
//	contentcheck -input input.yaml                 # one check run
//	contentcheck -input input.json -watch-id shop  # override CONTENTCHECK_TASK_ID
//	contentcheck -serve :8080                      # serve stored records
//
// Settings come from the environment, optionally loaded from .env.
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

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/contentcheck/contentcheck"
)

func main() {
	inputPath := flag.String("input", "", "path to the run input (YAML or JSON)")
	serveAddr := flag.String("serve", "", "serve the record API on this address instead of running a check")
	watchID := flag.String("watch-id", "", "watch key, overrides CONTENTCHECK_TASK_ID")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings, err := contentcheck.SettingsFromEnv(os.Getenv)
	if err != nil {
		logger.Error("contentcheck: settings", "error", err)
		os.Exit(1)
	}
	if *watchID != "" {
		settings.WatchID = *watchID
	}

	if *serveAddr != "" {
		err = serve(ctx, logger, settings, *serveAddr)
	} else if *inputPath != "" {
		err = check(ctx, logger, settings, *inputPath)
	} else {
		fmt.Fprintln(os.Stderr, "usage: contentcheck -input <file> | -serve <addr>")
		os.Exit(2)
	}
	if err != nil {
		logger.Error("contentcheck: fatal", "error", err)
		os.Exit(1)
	}
}

func check(ctx context.Context, logger *slog.Logger, s contentcheck.Settings, inputPath string) error {
	if err := s.Validate(); err != nil {
		return err
	}
	in, err := contentcheck.LoadInputFile(inputPath)
	if err != nil {
		return err
	}

	db, err := contentcheck.OpenDB(s)
	if err != nil {
		return fmt.Errorf("%w: %w", contentcheck.ErrStore, err)
	}
	defer db.Close()

	b := contentcheck.NewBrowser(s.Browser, in.ProxyURL, logger)
	defer b.Close()

	var pubs []contentcheck.Publisher
	if s.Slack.WebhookURL != "" {
		pubs = append(pubs, contentcheck.NewSlackPublisher(s.Slack.WebhookURL, logger))
	}

	c := contentcheck.New(contentcheck.Options{
		Input:      in,
		DB:         db,
		StoreName:  s.StoreName(),
		Browser:    b,
		Mailer:     contentcheck.NewMailer(s.SMTP),
		Publishers: pubs,
		PublicURL:  s.PublicURL,
		Logger:     logger,
	})

	res, err := c.Run(ctx)
	if err != nil {
		var cerr *contentcheck.CaptureError
		if errors.As(err, &cerr) {
			return fmt.Errorf("%s: %w", cerr.Message(""), err)
		}
		return err
	}
	logger.Info("contentcheck: done", "run", res.RunID, "decision", res.Decision.Kind.String(),
		"notified", res.Decision.Kind == contentcheck.Changed && res.DispatchErr == nil)
	return nil
}

func serve(ctx context.Context, logger *slog.Logger, s contentcheck.Settings, addr string) error {
	db, err := contentcheck.OpenDB(s)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           contentcheck.NewRecordHandler(db, logger),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("contentcheck: record api listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("contentcheck: shutdown", "error", err)
	}
	logger.Info("contentcheck: record api stopped")
	return nil
}
