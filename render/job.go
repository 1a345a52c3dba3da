// Package render glues card rendering together: orders and resolves cards,
// drives backend through batched round trips, writes artifacts and reports
// progress.
package render

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"cardgen/card"
	"cardgen/common"
	"cardgen/driver"
	"cardgen/fontfit"
	"cardgen/progress"
	"cardgen/variant"
)

var (
	ErrNoCards    = errors.New("no cards to render")
	ErrNoTemplate = errors.New("no template specified")
)

// Options are explicit settings of the renderer, nothing is read from global
// state.
type Options struct {
	Log     *zap.Logger
	Fitter  *fontfit.Fitter
	Metrics *Metrics
	Now     func() time.Time
	// CacheSingle allows reusing previously rendered single card documents.
	CacheSingle bool
}

// Flags of bulk job.
type Flags struct {
	ExportEditable bool
	Alphabetical   bool
	// CSVOnly produces tabular export only, backend is never used.
	CSVOnly bool
}

// Job describes bulk rendering request.
type Job struct {
	// ID is generated when empty.
	ID         string
	Cards      []card.Card
	TemplateID string
	// Variants defaults to the map with default variant only.
	Variants *variant.Map
	// Output is artifact path without extension.
	Output string
	Flags  Flags
}

// Formats returns artifacts job produces in order of production.
func (j *Job) Formats() []common.ExportFmt {
	if j.Flags.CSVOnly {
		return []common.ExportFmt{common.ExportFmtCsv}
	}
	if j.Flags.ExportEditable {
		return []common.ExportFmt{common.ExportFmtCsv, common.ExportFmtPptx, common.ExportFmtPdf}
	}
	return []common.ExportFmt{common.ExportFmtCsv, common.ExportFmtPdf}
}

// Result of successful job.
type Result struct {
	JobID string
	// Artifacts actually written.
	Artifacts []string
	// Notes on skipped optional exports.
	Notes    []string
	Progress string
	// CopyID is working copy left behind by backend.
	CopyID string
}

// Renderer executes rendering jobs on a single driver.
type Renderer struct {
	drv    driver.Driver
	opts   Options
	log    *zap.Logger
	export *ExportManager
	// collapses concurrent requests for the same single card
	single singleflight.Group
}

// New returns renderer using drv. Driver may be nil when only tabular jobs are
// executed.
func New(drv driver.Driver, opts Options) *Renderer {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Fitter == nil {
		opts.Fitter = fontfit.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Log.Named("render")
	return &Renderer{
		drv:    drv,
		opts:   opts,
		log:    log,
		export: newExportManager(drv, log, opts.Metrics),
	}
}

func (r *Renderer) driverName() string {
	if r.drv == nil {
		return "none"
	}
	return r.drv.Name()
}

func (r *Renderer) batch(h *driver.Handle, sink progress.Sink) *BatchRenderer {
	return &BatchRenderer{drv: r.drv, h: h, fit: r.opts.Fitter, sink: sink, log: r.log, m: r.opts.Metrics}
}

// prepare validates job and resolves card variants. Nothing is written and
// backend is not touched when it fails.
func (r *Renderer) prepare(job *Job) ([]card.Card, []int, error) {
	if len(job.Cards) == 0 {
		return nil, nil, ErrNoCards
	}
	if len(job.Output) == 0 {
		return nil, nil, errors.New("no output path specified")
	}
	cards := append([]card.Card(nil), job.Cards...)
	if job.Flags.Alphabetical {
		card.SortAlphabetical(cards)
	}
	if job.Flags.CSVOnly {
		return cards, nil, nil
	}
	if len(job.TemplateID) == 0 {
		return nil, nil, ErrNoTemplate
	}
	if r.drv == nil {
		return nil, nil, errors.New("no rendering backend available")
	}
	vm := job.Variants
	if vm == nil {
		vm, _ = variant.New()
	}
	units, err := vm.ResolveCards(cards)
	if err != nil {
		return nil, nil, err
	}
	return cards, units, nil
}

// Render executes bulk job. On failure after backend was engaged working copy
// is kept for inspection and progress file never reaches 100%.
func (r *Renderer) Render(ctx context.Context, job Job) (res *Result, err error) {
	started := r.opts.Now()

	cards, units, err := r.prepare(&job)
	if err != nil {
		return nil, err
	}
	if len(job.ID) == 0 {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("unable to generate job id: %w", err)
		}
		job.ID = id.String()
	}
	kind := "bulk"
	if job.Flags.CSVOnly {
		kind = "csv"
	}
	defer func() {
		r.opts.Metrics.job(r.driverName(), kind, r.opts.Now().Sub(started), err)
	}()

	log := r.log.With(zap.String("job", job.ID))
	log.Info("Rendering started", zap.Int("cards", len(cards)), zap.String("output", job.Output), zap.String("template", job.TemplateID))

	pf, err := progress.Create(job.Output+progress.Ext, job.Formats(), log)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, pf.Close())
		if err != nil {
			res = nil
		}
	}()
	logSink := progress.Log(log)
	sink := progress.Tee(pf, logSink)

	res = &Result{JobID: job.ID, Progress: pf.Name()}

	csvPath := job.Output + common.ExportFmtCsv.Ext()
	if err := r.export.Tabular(csvPath, cards); err != nil {
		return nil, fmt.Errorf("tabular export failed: %w", err)
	}
	res.Artifacts = append(res.Artifacts, csvPath)
	// tabular stage has no line of its own in progress file
	_ = logSink.Emit(progress.Event{Stage: progress.StageTabular, Note: "tabular export written"})

	if !job.Flags.CSVOnly {
		if err := r.renderBulk(ctx, log, &job, cards, units, sink, res); err != nil {
			return nil, err
		}
	}

	if err := sink.Emit(progress.Event{Stage: progress.StageDone, Percent: 100}); err != nil {
		return nil, err
	}
	log.Info("Rendering done", zap.Strings("artifacts", res.Artifacts), zap.Duration("elapsed", r.opts.Now().Sub(started)))
	return res, nil
}

func (r *Renderer) renderBulk(ctx context.Context, log *zap.Logger, job *Job, cards []card.Card, units []int, sink progress.Sink, res *Result) (err error) {
	r.opts.Metrics.roundTrip(r.drv.Name(), driver.OpOpen)
	h, err := r.drv.Open(ctx, job.TemplateID, filepath.Base(job.Output))
	if err != nil {
		return &driver.BatchError{Op: driver.OpOpen, Err: err}
	}
	res.CopyID = h.ID
	log = log.With(zap.String("copy", h.ID))

	defer func() {
		// bulk copies are retained either way, on failure for inspection
		cctx, cancel := cleanupContext(ctx)
		defer cancel()
		if rerr := r.drv.Release(cctx, h); rerr != nil {
			log.Warn("Unable to release working copy", zap.Error(rerr))
		}
		if err != nil {
			log.Error("Rendering failed, working copy kept", zap.Error(err))
		}
	}()

	if want := slices.Max(units) + 1; len(h.Units) < want {
		return fmt.Errorf("template %s has %d units, variants require %d", job.TemplateID, len(h.Units), want)
	}

	b := r.batch(h, sink)
	if _, err := b.Run(ctx, cards, units); err != nil {
		return err
	}
	r.opts.Metrics.rendered(r.drv.Name(), len(cards))

	if job.Flags.ExportEditable {
		b.emit(progress.StageExportEditable, percentEditable, "exporting to PPTX")
		path := job.Output + common.ExportFmtPptx.Ext()
		if note := r.export.Editable(ctx, h, path); len(note) > 0 {
			b.emit(progress.StageExportEditable, percentSkipped, note)
			res.Notes = append(res.Notes, note)
		} else {
			res.Artifacts = append(res.Artifacts, path)
		}
	}

	b.emit(progress.StageExportFlattened, percentFlattened, "exporting to PDF")
	path := job.Output + common.ExportFmtPdf.Ext()
	if err := r.export.Flattened(ctx, h, path); err != nil {
		return err
	}
	res.Artifacts = append(res.Artifacts, path)
	return nil
}
