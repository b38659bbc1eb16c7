package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourusername/goal-calibrator/internal/health"
	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/scheduler"
	"github.com/yourusername/goal-calibrator/internal/storage"
)

const (
	dateLayout = "2006-01-02"
	jobTimeout = 30 * time.Minute
)

var (
	fetchFrom     string
	fetchTo       string
	rawPath       string
	outPath       string
	candidatePath string
	batchPath     string
	forcePromote  bool
	failOnReject  bool
	fetchDryRun   bool
	retainKeep    int
	runsLimit     int
)

func init() {
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "First day to fetch (YYYY-MM-DD), default today minus lookback_days")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "Last day to fetch (YYYY-MM-DD), default today")
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "Print the joined records without storing them")

	postprocessCmd.Flags().StringVar(&rawPath, "raw", "", "Raw batch file, default paths.raw_batch")
	postprocessCmd.Flags().StringVarP(&outPath, "out", "o", "", "Write the calibrated batch here instead of the candidates directory")

	evaluateCmd.Flags().StringVar(&candidatePath, "candidate", "", "Candidate batch to evaluate")
	_ = evaluateCmd.MarkFlagRequired("candidate")
	evaluateCmd.Flags().BoolVar(&failOnReject, "fail-on-reject", false, "Exit with code 2 when the gate rejects")

	promoteCmd.Flags().StringVar(&candidatePath, "candidate", "", "Candidate batch to promote")
	_ = promoteCmd.MarkFlagRequired("candidate")
	promoteCmd.Flags().BoolVar(&forcePromote, "force", false, "Promote even when the gate rejects")

	runCmd.Flags().BoolVar(&failOnReject, "fail-on-reject", false, "Exit with code 2 when the gate rejects")

	auditCmd.Flags().StringVar(&batchPath, "batch", "", "Calibrated batch to audit, default paths.live")

	backupsCmd.Flags().IntVar(&retainKeep, "retain", 0, "Delete all but the newest N backups before listing")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Number of runs to list")

	rootCmd.AddCommand(fetchCmd, trainCmd, postprocessCmd, evaluateCmd, promoteCmd,
		rollbackCmd, backupsCmd, runCmd, runsCmd, statsCmd, scheduleCmd, auditCmd, versionCmd)
}

var fetchCmd = &cobra.Command{
	Use:         "fetch",
	Short:       "Fetch finished fixtures and join them with archived predictions",
	Annotations: resultsAnnotation,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		to := now
		from := now.AddDate(0, 0, -cfg.Fetch.LookbackDays)
		var err error
		if fetchFrom != "" {
			if from, err = time.Parse(dateLayout, fetchFrom); err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
		}
		if fetchTo != "" {
			if to, err = time.Parse(dateLayout, fetchTo); err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
		}

		if fetchDryRun {
			records, err := pipeline.PreviewHistory(cmd.Context(), from, to)
			if err != nil {
				return err
			}
			if records == nil {
				records = []models.HistoricalOutcomeRecord{}
			}
			return printJSON(records)
		}

		summary, err := pipeline.FetchHistory(cmd.Context(), from, to)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Fit calibration curves from stored history",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, summary, err := pipeline.Train(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var postprocessCmd = &cobra.Command{
	Use:   "postprocess",
	Short: "Calibrate a raw batch into a candidate",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := rawPath
		if path == "" {
			path = cfg.Paths.RawBatch
		}
		raw, err := pipeline.LoadRawBatch(path)
		if err != nil {
			return err
		}
		batch, summary, err := pipeline.Postprocess(cmd.Context(), raw)
		if err != nil {
			return err
		}

		dest := outPath
		if dest == "" {
			if dest, err = pipeline.SaveCandidate(batch, uuid.New().String()); err != nil {
				return err
			}
		} else if err := storage.WriteJSONAtomic(dest, batch); err != nil {
			return fmt.Errorf("failed to write %s: %w", dest, err)
		}

		log.WithField("path", dest).Info("Candidate written")
		return printJSON(summary)
	},
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run the safety gate on a candidate and write its report",
	RunE: func(cmd *cobra.Command, args []string) error {
		candidate, err := pipeline.ReadCandidate(candidatePath)
		if err != nil {
			return err
		}
		report, reportPath, err := pipeline.Evaluate(cmd.Context(), candidate, candidatePath)
		if err != nil {
			return err
		}
		log.WithField("report", reportPath).Info("Gate report written")
		if err := printJSON(report); err != nil {
			return err
		}
		if !report.Decision.Accepted && (failOnReject || cfg.Gate.FailOnReject) {
			return errRejected
		}
		return nil
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Gate a candidate and make it live",
	RunE: func(cmd *cobra.Command, args []string) error {
		result, report, err := pipeline.PromoteCandidate(cmd.Context(), candidatePath, forcePromote)
		if err != nil {
			return err
		}
		if result == nil {
			if report != nil {
				_ = printJSON(report.Decision)
			}
			return errRejected
		}
		return printJSON(result)
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <backup-id>",
	Short: "Restore a backup as the live batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := pipeline.Rollback(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List backups of the live batch, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("retain") {
			if retainKeep < 1 {
				return fmt.Errorf("--retain must be at least 1")
			}
			removed, err := pipeline.RetainBackups(retainKeep)
			if err != nil {
				return err
			}
			log.WithField("removed", len(removed)).Info("Old backups deleted")
		}

		backups, err := pipeline.Backups()
		if err != nil {
			return err
		}
		if backups == nil {
			backups = []models.BackupRecord{}
		}
		return printJSON(backups)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded pipeline runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runsLimit < 1 {
			return fmt.Errorf("--limit must be at least 1")
		}
		runs, err := pipeline.Runs(cmd.Context(), runsLimit)
		if err != nil {
			return err
		}
		if runs == nil {
			runs = []models.PipelineRun{}
		}
		return printJSON(runs)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show history size and Brier, log-loss and accuracy of the active curves",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := pipeline.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

var runCmd = &cobra.Command{
	Use:         "run",
	Short:       "Fetch, train, postprocess, evaluate and promote once",
	Annotations: resultsAnnotation,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run, err := pipeline.Run(ctx)
		if perr := printJSON(run); perr != nil && err == nil {
			err = perr
		}
		if err != nil {
			return err
		}
		if run.Outcome == models.RunOutcomeRejected && (failOnReject || cfg.Gate.FailOnReject) {
			return errRejected
		}
		return nil
	},
}

var scheduleCmd = &cobra.Command{
	Use:         "schedule",
	Short:       "Run the pipeline on the configured cron schedule",
	Annotations: resultsAnnotation,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sched := scheduler.NewScheduler(func(ctx context.Context) error {
			_, err := pipeline.Run(ctx)
			return err
		}, log, jobTimeout)
		if err := sched.Schedule(cfg.Schedule.Cron); err != nil {
			return err
		}

		var ops *health.Server
		if cfg.Metrics.Enabled {
			ops = health.NewServer(health.Config{
				ServiceName: cfg.App.Name,
				Version:     Version,
				Commit:      GitCommit,
				Port:        cfg.Metrics.Port,
				MetricsPath: cfg.Metrics.Path,
				Logger:      log,
				Checks:      map[string]health.Pinger{"storage": repos},
				LastRun:     pipeline.LastRun,
				NextRun:     sched.NextRun,
			})
			if err := ops.Start(ctx); err != nil {
				return err
			}
		}

		if cfg.Schedule.RunOnStart {
			if err := sched.RunNow(ctx); err != nil {
				log.WithError(err).Error("Initial pipeline run failed")
			}
		}
		if err := sched.Start(); err != nil {
			return err
		}
		if ops != nil {
			ops.SetReady(true)
		}
		log.WithField("next_run", sched.NextRun()).Info("Scheduler running")

		<-ctx.Done()
		log.Info("Shutting down")
		if ops != nil {
			ops.SetReady(false)
		}
		return sched.Stop()
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report extreme values and market gaps per league",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := batchPath
		if path == "" {
			path = cfg.Paths.Live
		}
		batch, err := pipeline.ReadCandidate(path)
		if err != nil {
			return err
		}
		return printJSON(pipeline.Gate().Audit(batch))
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// no config needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("calibrator %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
