package main

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/balsam/internal/repositories"
	"github.com/Ramsey-B/balsam/pkg/export"
	"github.com/Ramsey-B/balsam/pkg/jobs"
	"github.com/Ramsey-B/balsam/pkg/loader"
	"github.com/Ramsey-B/balsam/pkg/locking"
	"github.com/Ramsey-B/balsam/pkg/matching"
	"github.com/Ramsey-B/balsam/pkg/models"
	"github.com/Ramsey-B/balsam/pkg/statusstore"
)

type reconcileOptions struct {
	boPath         string
	partnerPath    string
	modelPath      string
	thresholdsPath string
	outPath        string
	sheet          string
	includeMatched bool
	withDB         bool
	scope          models.JobScope
}

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	ro := &reconcileOptions{}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation in-process and print its summary",
		Long: "Run one reconciliation without the HTTP API. Key statuses and thresholds come from\n" +
			"the database when --with-db is set, otherwise from --thresholds and an empty status table.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return reconcile(cmd, opts, ro)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&ro.boPath, "bo", "", "back-office feed (CSV or XLSX)")
	flags.StringVar(&ro.partnerPath, "partner", "", "partner feed (CSV or XLSX)")
	flags.StringVar(&ro.modelPath, "model", "", "processing model YAML file")
	flags.StringVar(&ro.thresholdsPath, "thresholds", "", "threshold YAML file")
	flags.StringVar(&ro.outPath, "out", "", "write the result workbook to this path")
	flags.StringVar(&ro.sheet, "sheet", "", "sheet to read from XLSX feeds (default first sheet)")
	flags.BoolVar(&ro.includeMatched, "include-matched", false, "add a sheet with matched keys to the workbook")
	flags.BoolVar(&ro.withDB, "with-db", false, "read key statuses and thresholds from the database")
	flags.StringVar(&ro.scope.OwnerCode, "owner", "", "owner code of the run")
	flags.StringVar(&ro.scope.Service, "service", "", "service of the run")
	flags.StringVar(&ro.scope.Country, "country", "", "country of the run")
	flags.StringVar(&ro.scope.ReportDate, "date", "", "report date of the run")
	_ = cmd.MarkFlagRequired("bo")
	_ = cmd.MarkFlagRequired("partner")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func reconcile(cmd *cobra.Command, opts *rootOptions, ro *reconcileOptions) error {
	ctx := cmd.Context()
	cfg, logger := opts.cfg, opts.logger

	model, err := loader.LoadModel(ro.modelPath)
	if err != nil {
		return err
	}

	var thresholds jobs.ThresholdSource = jobs.StaticThresholds(nil)
	if ro.thresholdsPath != "" {
		rows, err := loader.LoadThresholds(ro.thresholdsPath)
		if err != nil {
			return err
		}
		thresholds = jobs.StaticThresholds(rows)
	}

	var statuses statusstore.Reader = statusstore.NewMemoryStore()
	if ro.withDB {
		db, err := connectDatabase(ctx, opts)
		if err != nil {
			return err
		}
		defer db.Close()

		statuses = repositories.NewKeyStatusRepository(db, logger)
		if ro.thresholdsPath == "" {
			thresholds = repositories.NewThresholdRepository(db, logger)
		}
	}

	results := jobs.NewMemoryResults()
	coordinator := jobs.NewCoordinator(jobs.Config{
		HolderID:          cfg.HolderID,
		LockTTL:           cfg.LockTTL,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ChunkSize:         cfg.NormalizeChunkSize,
		Matcher:           matching.Config{BucketCheckEvery: cfg.MatchBucketCheckEvery},
	}, jobs.Dependencies{
		Jobs:       jobs.NewMemoryStore(),
		Locker:     locking.NewMemoryLocker(),
		Loader:     loader.NewFileLoader(logger, loader.Options{Delimiter: csvDelimiter(cfg), Sheet: ro.sheet}),
		Thresholds: thresholds,
		Statuses:   statuses,
		Results:    results,
		Logger:     logger,
	})

	job, err := coordinator.Submit(ctx, jobs.SubmitRequest{
		BOFilePath:      ro.boPath,
		PartnerFilePath: ro.partnerPath,
		Model:           *model,
		Scope:           ro.scope,
		ClientID:        "cli",
	})
	if err != nil {
		return err
	}

	job, err = coordinator.Run(ctx, job.ID)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusCompleted {
		msg := string(job.Status)
		if job.ErrorMessage != nil {
			msg = *job.ErrorMessage
		}
		return errors.Errorf("reconciliation %s did not complete: %s", job.ID, msg)
	}

	result, _ := results.Result(job.ID)
	if err := printSummary(cmd, result.Summary()); err != nil {
		return err
	}

	if ro.outPath == "" {
		return nil
	}
	if err := export.SaveAs(ro.outPath, result, export.Options{IncludeMatched: ro.includeMatched}); err != nil {
		return err
	}
	logger.WithContext(ctx).Infof("Wrote reconciliation workbook to %s", ro.outPath)
	return nil
}

func printSummary(cmd *cobra.Command, summary models.ResultSummary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(summary), "failed to print summary")
}
