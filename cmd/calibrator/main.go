// Package main is the goal-calibrator command line: fetch results, train
// calibration curves, postprocess raw batches and promote them safely.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/goal-calibrator/internal/config"
	"github.com/yourusername/goal-calibrator/internal/datasource"
	"github.com/yourusername/goal-calibrator/internal/logger"
	"github.com/yourusername/goal-calibrator/internal/metrics"
	"github.com/yourusername/goal-calibrator/internal/notify"
	"github.com/yourusername/goal-calibrator/internal/promotion"
	"github.com/yourusername/goal-calibrator/internal/repository"
	"github.com/yourusername/goal-calibrator/internal/service"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// exitRejected is the exit code of a run whose candidate was rejected while
// --fail-on-reject is set
const exitRejected = 2

var errRejected = errors.New("candidate rejected by safety gate")

// annotationResults marks commands that call the results API. Only those
// build the HTTP client and need fetch credentials.
const annotationResults = "results"

var resultsAnnotation = map[string]string{annotationResults: "true"}

func needsResults(cmd *cobra.Command) bool {
	return cmd.Annotations[annotationResults] == "true"
}

var (
	configFile string
	log        *logrus.Logger
	cfg        *config.Config
	repos      *repository.Repositories
	pipeline   *service.Pipeline
	closers    []func()
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config/config.yaml", "Path to configuration file")
}

var rootCmd = &cobra.Command{
	Use:           "calibrator",
	Short:         "Calibrate and safely publish football match probabilities",
	Long:          `Fetches historical results, trains per-league isotonic calibration curves, postprocesses raw prediction batches and promotes them behind a safety gate with backups and rollback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd.Context()); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := setupDependencies(cmd.Context(), needsResults(cmd)); err != nil {
			return fmt.Errorf("failed to setup dependencies: %w", err)
		}
		return nil
	},
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	if err == nil {
		return
	}
	if errors.Is(err, errRejected) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitRejected)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func loadConfig(ctx context.Context) error {
	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	var err error
	cfg, err = config.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}
	if cfg.Secrets.Enabled {
		if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
			return fmt.Errorf("failed to load secrets: %w", err)
		}
	}
	return config.Validate(cfg)
}

func setupDependencies(ctx context.Context, withResults bool) error {
	format := cfg.App.LogFormat
	if format == "" {
		format = "text"
		if cfg.IsProduction() {
			format = "json"
		}
	}
	log = logger.NewLoggerWithOutput(cfg.App.LogLevel, format, os.Stdout)
	metrics.InitRegistry()

	var err error
	repos, err = repository.NewRepositories(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open repositories: %w", err)
	}
	closers = append(closers, repos.Close)

	var fetcher *service.HistoricalFetcher
	if withResults {
		source, httpClient, err := datasource.NewResultsSource(cfg, log)
		if err != nil {
			return fmt.Errorf("failed to create results source: %w", err)
		}
		closers = append(closers, func() { _ = httpClient.Close() })
		fetcher = service.NewHistoricalFetcher(source, repos.Archive, repos.History, cfg.Fetch.Leagues, cfg.Fetch.Workers, log)
	}

	var (
		listeners []promotion.Listener
		notifiers []service.RunNotifier
	)
	if cfg.Redis.Enabled {
		pub := notify.NewRedisLastUpdatePublisher(ctx, cfg.Redis, log)
		closers = append(closers, func() { _ = pub.Close() })
		listeners = append(listeners, pub)
	}
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
		if err != nil {
			// notifications are best-effort
			log.WithError(err).Warn("Telegram notifications disabled")
		} else {
			listeners = append(listeners, tg)
			notifiers = append(notifiers, tg)
		}
	}

	promoter := promotion.NewManager(promotion.Config{
		LivePath:      cfg.Paths.Live,
		BackupsDir:    cfg.Paths.BackupsDir,
		LockFile:      cfg.LockFile(),
		RetainBackups: cfg.Promotion.RetainBackups,
	}, log, promotion.WithListeners(listeners...))

	pipeline = service.NewPipeline(cfg, service.Dependencies{
		Fetcher:   fetcher,
		History:   repos.History,
		Curves:    repos.Curves,
		Archive:   repos.Archive,
		Runs:      repos.Runs,
		Promoter:  promoter,
		Notifiers: notifiers,
	}, log)

	log.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"version":     Version,
	}).Debug("Dependencies ready")
	return nil
}
