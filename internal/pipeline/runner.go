package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/UditKarth/RoboticsMap/internal/export"
	"github.com/UditKarth/RoboticsMap/internal/lock"
	"github.com/UditKarth/RoboticsMap/internal/normalize"
	"github.com/UditKarth/RoboticsMap/internal/observability"
	"github.com/UditKarth/RoboticsMap/internal/openalex"
	"github.com/UditKarth/RoboticsMap/internal/reference"
	"github.com/UditKarth/RoboticsMap/internal/storage"
	"github.com/UditKarth/RoboticsMap/internal/watermark"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Fetcher walks the works pages of a query in order.
type Fetcher interface {
	Walk(ctx context.Context, q openalex.Query, cursor string, fn func(*openalex.WorksPage) error) error
}

// Store is the write side of the store used by a run.
type Store interface {
	watermark.Store
	ApplyBatch(ctx context.Context, units []reference.Unit) error
	RecordRun(ctx context.Context, r storage.RunRecord) error
	SetLastExport(ctx context.Context, t time.Time) error
}

// Exporter regenerates the summary documents.
type Exporter interface {
	Export(ctx context.Context) (*export.Summary, error)
}

// Options selects what a single run does.
type Options struct {
	Mode watermark.Mode
	// Until is the inclusive end of the fetch window.
	Until civil.Date
	// SkipExport stops after the watermark is committed.
	SkipExport bool
}

// Config wires a Runner.
type Config struct {
	Fetcher    Fetcher
	Normalizer *normalize.Normalizer
	Store      Store
	Exporter   Exporter

	// BackfillStart is the first date fetched when there is no watermark.
	BackfillStart civil.Date
	ConceptID     string
	PerPage       int

	// LockPath is the advisory lock held for the whole run.
	LockPath string

	Metrics         *observability.Metrics
	MetricsTextfile string
	Logger          zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Runner executes pipeline runs. Runs against the same data directory are
// serialized by the lock; a Runner itself holds no per-run state.
type Runner struct {
	cfg     Config
	tracker *watermark.Tracker
}

// NewRunner creates a Runner.
func NewRunner(cfg Config) *Runner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.New()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewMetrics("rmap")
	}
	return &Runner{
		cfg:     cfg,
		tracker: watermark.NewTracker(cfg.Store, cfg.BackfillStart),
	}
}

// run is the mutable state of one invocation.
type run struct {
	r      *Runner
	ctx    context.Context
	log    zerolog.Logger
	state  State
	res    *Result
	start  time.Time
	maxDay civil.Date
}

// Run performs one ingestion pass. The watermark advances only after every
// page committed; a fetch or write failure leaves it untouched and returns
// the error with the result in state Aborted. An export failure returns the
// result in state ExportFailed with ingestion already committed.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Mode == "" {
		opts.Mode = watermark.Incremental
	}

	l, err := lock.Acquire(r.cfg.LockPath)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	start := r.cfg.Now()
	id := ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String()

	ru := &run{
		r:     r,
		ctx:   ctx,
		log:   observability.WithRunContext(r.cfg.Logger, id, string(opts.Mode)),
		state: Idle,
		start: start,
		res:   &Result{RunID: id, Mode: opts.Mode, State: Idle},
	}

	err = ru.execute(opts)
	ru.finish(err)
	return ru.res, err
}

func (ru *run) execute(opts Options) error {
	r := ru.r
	ctx := ru.ctx

	ru.transition(Fetching)

	prev, ok, err := r.tracker.Read(ctx)
	if err != nil {
		return ru.abort(err)
	}
	if ok {
		ru.res.PreviousWatermark = prev.String()
	}

	window, err := r.tracker.Window(ctx, opts.Mode, opts.Until)
	if err != nil {
		return ru.abort(err)
	}
	ru.res.Window = window
	ru.record()

	if window.Empty() {
		ru.res.Skipped = true
		ru.log.Info().Str("window", window.String()).Msg("nothing to fetch")
	} else {
		ru.log.Info().Str("window", window.String()).Msg("fetching works")

		q := openalex.Query{
			ConceptID: r.cfg.ConceptID,
			From:      window.From,
			To:        window.To,
			PerPage:   r.cfg.PerPage,
		}
		if err := r.cfg.Fetcher.Walk(ctx, q, "", ru.page); err != nil {
			return ru.abort(err)
		}
	}

	ru.transition(Committed)

	if ru.maxDay.IsValid() {
		wm, err := r.tracker.Advance(ctx, ru.maxDay)
		if err != nil {
			return ru.abort(&storage.StoreWriteError{Op: "advance watermark", Err: err})
		}
		ru.res.Watermark = wm.String()
		r.cfg.Metrics.Watermark.Set(float64(wm.In(time.UTC).Unix()))
	} else {
		ru.res.Watermark = ru.res.PreviousWatermark
	}

	ru.log.Info().
		Int("pages", ru.res.Pages).
		Int("papers", ru.res.Papers).
		Int("malformed", ru.res.Malformed).
		Str("watermark", ru.res.Watermark).
		Msg("ingestion committed")

	if opts.SkipExport {
		ru.transition(Done)
		return nil
	}

	ru.transition(Exporting)
	summary, err := r.cfg.Exporter.Export(ctx)
	if err != nil {
		ru.transition(ExportFailed)
		return err
	}
	ru.res.Export = summary
	if err := r.cfg.Store.SetLastExport(ctx, r.cfg.Now()); err != nil {
		ru.log.Warn().Err(err).Msg("recording export time")
	}

	ru.transition(Done)
	return nil
}

// page normalizes and commits one page as a single transaction.
func (ru *run) page(p *openalex.WorksPage) error {
	r := ru.r
	if ru.state != Fetching {
		ru.transition(Fetching)
	}

	ru.res.Pages++
	ru.res.Records += len(p.Results)
	r.cfg.Metrics.PagesFetched.Inc()
	r.cfg.Metrics.RecordsFetched.Add(float64(len(p.Results)))

	units := make([]reference.Unit, 0, len(p.Results))
	var pageMax civil.Date
	for _, w := range p.Results {
		u, err := r.cfg.Normalizer.Normalize(ru.ctx, w)
		if err != nil {
			if normalize.IsMalformed(err) {
				ru.res.Malformed++
				r.cfg.Metrics.RecordsMalformed.Inc()
				ru.log.Debug().Err(err).Msg("skipping record")
				continue
			}
			// A failed geo lookup aborts the page so no paper is
			// committed with links missing.
			return err
		}
		ru.res.DroppedInstitutions += u.DroppedInstitutions
		r.cfg.Metrics.InstitutionsDropped.Add(float64(u.DroppedInstitutions))
		if u.Paper.Published.After(pageMax) {
			pageMax = u.Paper.Published
		}
		units = append(units, *u)
	}

	// Stop before the commit if the run was cancelled. The error matches a
	// cancellation inside the fetcher so both exit the same way.
	if err := ru.ctx.Err(); err != nil {
		return &openalex.FetchError{Cursor: p.Cursor, Err: err}
	}

	ru.transition(Writing)
	if err := r.cfg.Store.ApplyBatch(ru.ctx, units); err != nil {
		return err
	}

	ru.res.Papers += len(units)
	r.cfg.Metrics.PapersWritten.Add(float64(len(units)))
	if pageMax.After(ru.maxDay) {
		ru.maxDay = pageMax
	}

	ru.log.Debug().
		Str("cursor", p.Cursor).
		Int("records", len(p.Results)).
		Int("papers", len(units)).
		Msg("page committed")

	ru.transition(Fetching)
	return nil
}

func (ru *run) abort(err error) error {
	ru.transition(Aborted)
	return err
}

func (ru *run) transition(to State) {
	from := ru.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		ru.log.Error().Str("from", string(from)).Str("to", string(to)).Msg("illegal state transition")
	}
	ru.state = to
	ru.res.State = to
	if ru.r.cfg.OnTransition != nil {
		ru.r.cfg.OnTransition(from, to)
	}
}

// finish records the run outcome, metrics and the final log line.
func (ru *run) finish(err error) {
	r := ru.r
	ru.res.Duration = r.cfg.Now().Sub(ru.start)
	if err != nil {
		ru.res.Error = err.Error()
	}

	ru.record()

	m := r.cfg.Metrics
	m.Runs.WithLabelValues(string(ru.res.Mode), string(ru.res.State)).Inc()
	m.RunDuration.Set(ru.res.Duration.Seconds())
	if ru.res.State == Done {
		m.LastSuccess.Set(float64(r.cfg.Now().Unix()))
	}
	if r.cfg.MetricsTextfile != "" {
		if werr := m.WriteTextfile(r.cfg.MetricsTextfile); werr != nil {
			ru.log.Warn().Err(werr).Msg("writing metrics textfile")
		}
	}

	ev := ru.log.Info()
	if err != nil {
		ev = ru.log.Error().Err(err)
	}
	ev.Str("state", string(ru.res.State)).
		Dur("duration", ru.res.Duration).
		Int("papers", ru.res.Papers).
		Msg("run finished")
}

// record persists the run row. The run outcome does not depend on it.
func (ru *run) record() {
	rec := storage.RunRecord{
		ID:                  ru.res.RunID,
		Mode:                string(ru.res.Mode),
		State:               string(ru.res.State),
		Pages:               ru.res.Pages,
		Records:             ru.res.Records,
		Papers:              ru.res.Papers,
		Malformed:           ru.res.Malformed,
		DroppedInstitutions: ru.res.DroppedInstitutions,
		Watermark:           ru.res.Watermark,
		Error:               ru.res.Error,
		StartedAt:           ru.start,
	}
	if ru.res.Window.From.IsValid() {
		rec.From = ru.res.Window.From.String()
		rec.To = ru.res.Window.To.String()
	}
	if ru.res.State.Terminal() {
		rec.FinishedAt = ru.start.Add(ru.res.Duration)
	}

	// Use a fresh context so a cancelled run is still recorded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ru.ctx), 5*time.Second)
	defer cancel()
	if err := ru.r.cfg.Store.RecordRun(ctx, rec); err != nil {
		ru.log.Warn().Err(err).Msg("recording run")
	}
}

// IsLocked reports whether err means another run holds the lock.
func IsLocked(err error) bool {
	return errors.Is(err, lock.ErrLocked)
}

// Describe renders a one-line human summary of a result.
func Describe(res *Result) string {
	if res == nil {
		return "no run"
	}
	s := fmt.Sprintf("run %s (%s): %s, window %s, %d pages, %d papers, %d malformed",
		res.RunID, res.Mode, res.State, res.Window, res.Pages, res.Papers, res.Malformed)
	if res.Watermark != "" {
		s += ", watermark " + res.Watermark
	}
	return s
}
