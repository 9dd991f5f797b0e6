package main

import (
	"net/http"
	"os"
	"time"

	"github.com/UditKarth/RoboticsMap/internal/config"
	"github.com/UditKarth/RoboticsMap/internal/export"
	"github.com/UditKarth/RoboticsMap/internal/geocode"
	"github.com/UditKarth/RoboticsMap/internal/normalize"
	"github.com/UditKarth/RoboticsMap/internal/observability"
	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/pipeline"
	"github.com/UditKarth/RoboticsMap/internal/storage"
	"github.com/UditKarth/RoboticsMap/internal/watermark"
	"github.com/rs/zerolog"
)

// ingestRequest carries the flags shared by backfill and update.
type ingestRequest struct {
	mode       watermark.Mode
	from       string
	until      string
	skipExport bool
}

// newClient builds the OpenAlex client from config.
func newClient(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics) *openalex.Client {
	oa := cfg.OpenAlex
	return openalex.NewClient(
		openalex.WithHTTPClient(&http.Client{Timeout: oa.Timeout}),
		openalex.WithBaseURL(oa.BaseURL),
		openalex.WithMailto(oa.Mailto),
		openalex.WithRateLimit(oa.RateLimit),
		openalex.WithRetry(oa.MaxAttempts, oa.BaseDelay, oa.MaxDelay),
		openalex.WithLogger(logger),
		openalex.WithRetryObserver(func(int, error) { metrics.FetchRetries.Inc() }),
	)
}

// newRunner wires the pipeline against an open store.
func newRunner(cfg *config.Config, db *storage.DB, logger zerolog.Logger, metrics *observability.Metrics) (*pipeline.Runner, *geocode.Resolver) {
	client := newClient(cfg, logger, metrics)

	normOpts := []normalize.Option{normalize.WithLogger(logger)}
	var resolver *geocode.Resolver
	if cfg.OpenAlex.ResolveInstitutions {
		resolver = geocode.New(db, client, geocode.WithLogger(logger))
		normOpts = append(normOpts, normalize.WithResolver(resolver))
	}

	runner := pipeline.NewRunner(pipeline.Config{
		Fetcher:         client,
		Normalizer:      normalize.New(normOpts...),
		Store:           db,
		Exporter:        export.New(db, cfg.DataDir, export.WithLogger(logger)),
		BackfillStart:   cfg.BackfillStart(),
		ConceptID:       cfg.OpenAlex.ConceptID,
		PerPage:         cfg.OpenAlex.PerPage,
		LockPath:        config.LockPath(cfg.DataDir),
		Metrics:         metrics,
		MetricsTextfile: cfg.Metrics.Textfile,
		Logger:          logger,
	})
	return runner, resolver
}

// runIngest executes a backfill or update run and exits with its code.
func runIngest(req ingestRequest) {
	cfg := mustLoadConfig()

	from, ok, err := parseDateFlag("from", req.from)
	if err != nil {
		exitWithError(ExitError, "%v", err)
	}
	if ok {
		cfg.Ingest.BackfillFrom = from.String()
	}

	until := cfg.UntilDate(time.Now())
	if d, ok, err := parseDateFlag("until", req.until); err != nil {
		exitWithError(ExitError, "%v", err)
	} else if ok {
		until = d
	}
	if until.Before(cfg.BackfillStart()) && req.mode == watermark.Backfill {
		exitWithError(ExitError, "--until %s is before the backfill start %s", until, cfg.BackfillStart())
	}

	logger := newLogger(cfg)
	db := mustOpenDatabase(cfg)
	metrics := observability.NewMetrics("rmap")
	runner, resolver := newRunner(cfg, db, logger, metrics)

	ctx, stop := signalContext()
	res, runErr := runner.Run(ctx, pipeline.Options{
		Mode:       req.mode,
		Until:      until,
		SkipExport: req.skipExport,
	})
	stop()

	if resolver != nil {
		stats := resolver.Stats()
		logger.Debug().
			Int("cache_hits", stats.CacheHits).
			Int("store_hits", stats.StoreHits).
			Int("remote_hits", stats.RemoteHits).
			Int("no_geo", stats.NoGeo).
			Int("failures", stats.Failures).
			Msg("institution geo lookups")
	}
	db.Close()

	reportRun(res, runErr)
}

// reportRun prints a run result and exits with the matching code.
func reportRun(res *pipeline.Result, err error) {
	code := exitCodeFor(err)

	if res == nil {
		if pipeline.IsLocked(err) {
			exitWithError(code, "%v (is another rmap run in progress?)", err)
		}
		exitWithError(code, "%v", err)
	}

	if humanOutput {
		outputHuman("%s\n", pipeline.Describe(res))
		if res.Export != nil {
			outputHuman("exported %d institutions to %s\n", res.Export.Institutions, res.Export.InstitutionsPath)
		}
		if err != nil {
			outputHuman("error: %v\n", err)
		}
	} else {
		outputJSON(res)
	}
	os.Exit(code)
}
