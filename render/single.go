package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"cardgen/card"
	"cardgen/config"
	"cardgen/driver"
	"cardgen/progress"
	"cardgen/variant"
)

// SingleCard describes request to render one card into its own flattened
// document.
type SingleCard struct {
	Card card.Card
	// Template is catalog name, used to place cached documents.
	Template   string
	TemplateID string
	Variants   *variant.Map
	// VariantName resolves display names for preview notes.
	VariantName func(id string) string
	// Dir is root of single card output.
	Dir string
	// Refresh ignores cached document.
	Refresh bool
}

// Path returns location of the card document: <dir>/<template>/<id>.pdf.
func (s *SingleCard) Path() string {
	return filepath.Join(s.Dir, config.CleanFileName(s.Template), config.CleanFileName(s.Card.ID)+".pdf")
}

func (s *SingleCard) previewPath() string {
	return filepath.Join(s.Dir, config.CleanFileName(s.Template), config.CleanFileName(s.Card.ID)+" preview.pdf")
}

func (r *Renderer) checkSingle(req *SingleCard) error {
	if len(req.Card.ID) == 0 {
		return ErrNoCards
	}
	if len(req.TemplateID) == 0 {
		return ErrNoTemplate
	}
	if r.drv == nil {
		return errors.New("no rendering backend available")
	}
	if req.Variants == nil {
		req.Variants, _ = variant.New()
	}
	return nil
}

// Single renders one card and returns path to its document. Previously
// rendered document is reused when caching is enabled. Working copy is
// disposed on success and kept on failure, no progress is reported.
func (r *Renderer) Single(ctx context.Context, req SingleCard) (_ string, err error) {
	if err := r.checkSingle(&req); err != nil {
		return "", err
	}
	unit, err := req.Variants.Resolve(req.Card.Variant())
	if err != nil {
		return "", fmt.Errorf("card %s: %w", req.Card.ID, err)
	}

	path := req.Path()
	log := r.log.With(zap.String("card", req.Card.ID), zap.String("path", path))

	if r.opts.CacheSingle && !req.Refresh {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() && info.Size() > 0 {
			log.Debug("Using cached card document")
			r.opts.Metrics.cacheHit()
			return path, nil
		}
	}

	_, err, shared := r.single.Do(path, func() (any, error) {
		started := r.opts.Now()
		err := r.ephemeral(ctx, log, req.TemplateID, req.Card.ID, func(h *driver.Handle) error {
			return r.renderSingle(ctx, h, &req.Card, unit, path)
		})
		r.opts.Metrics.job(r.drv.Name(), "single", r.opts.Now().Sub(started), err)
		return nil, err
	})
	if err != nil {
		return "", err
	}
	if shared {
		log.Debug("Card document shared with concurrent request")
	}
	return path, nil
}

// renderSingle works on a single unit, bulk reorder is unnecessary.
func (r *Renderer) renderSingle(ctx context.Context, h *driver.Handle, c *card.Card, unit int, path string) error {
	if unit >= len(h.Units) {
		return fmt.Errorf("%w: template has %d units, unit %d requested", driver.ErrUnknownUnit, len(h.Units), unit)
	}
	b := r.batch(h, progress.Discard)

	var dup driver.UnitID
	if err := b.roundTrip(ctx, driver.OpDuplicate, 0, func() error {
		ids, err := r.drv.Duplicate(ctx, h, h.Units[unit:unit+1])
		if err != nil {
			return err
		}
		if len(ids) != 1 {
			return fmt.Errorf("requested 1 copy, got %d", len(ids))
		}
		dup = ids[0]
		return nil
	}); err != nil {
		return err
	}

	sub := driver.Substitution{Unit: dup, Fields: c.Fields()}
	if err := b.roundTrip(ctx, driver.OpMeasure, 0, func() error {
		g, err := r.drv.Measure(ctx, h, dup)
		if err != nil {
			return err
		}
		sub.FontSize = r.opts.Fitter.Fit(c.FittingText(), g)
		return nil
	}); err != nil {
		return err
	}
	if err := b.roundTrip(ctx, driver.OpSubstitute, 0, func() error {
		return r.drv.Substitute(ctx, h, []driver.Substitution{sub})
	}); err != nil {
		return err
	}
	if err := b.cleanup(ctx); err != nil {
		return err
	}
	if err := r.export.Flattened(ctx, h, path); err != nil {
		return err
	}
	r.opts.Metrics.rendered(r.drv.Name(), 1)
	return nil
}

// Preview renders the card once on every template variant, each copy of the
// message is prefixed with the variant name. Preview is never cached.
func (r *Renderer) Preview(ctx context.Context, req SingleCard) (_ string, err error) {
	if err := r.checkSingle(&req); err != nil {
		return "", err
	}
	ids := req.Variants.IDs()
	cards := make([]card.Card, 0, len(ids))
	units := make([]int, 0, len(ids))
	for i, id := range ids {
		name := id
		if req.VariantName != nil {
			name = req.VariantName(id)
		}
		cards = append(cards, req.Card.WithPreviewNote(id, name))
		units = append(units, i)
	}

	path := req.previewPath()
	log := r.log.With(zap.String("card", req.Card.ID), zap.String("path", path))

	started := r.opts.Now()
	defer func() {
		r.opts.Metrics.job(r.drv.Name(), "preview", r.opts.Now().Sub(started), err)
	}()

	err = r.ephemeral(ctx, log, req.TemplateID, req.Card.ID+" preview", func(h *driver.Handle) error {
		if len(h.Units) < len(units) {
			return fmt.Errorf("template %s has %d units, variants require %d", req.TemplateID, len(h.Units), len(units))
		}
		if _, err := r.batch(h, progress.Discard).Run(ctx, cards, units); err != nil {
			return err
		}
		if err := r.export.Flattened(ctx, h, path); err != nil {
			return err
		}
		r.opts.Metrics.rendered(r.drv.Name(), len(cards))
		return nil
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// ephemeral runs fn on a fresh working copy. Copy is disposed when fn
// succeeds and released (kept) otherwise.
func (r *Renderer) ephemeral(ctx context.Context, log *zap.Logger, templateID, title string, fn func(h *driver.Handle) error) (err error) {
	r.opts.Metrics.roundTrip(r.drv.Name(), driver.OpOpen)
	h, err := r.drv.Open(ctx, templateID, title)
	if err != nil {
		return &driver.BatchError{Op: driver.OpOpen, Err: err}
	}
	log = log.With(zap.String("copy", h.ID))

	defer func() {
		cctx, cancel := cleanupContext(ctx)
		defer cancel()

		if err != nil {
			log.Error("Rendering failed, working copy kept", zap.Error(err))
			if rerr := r.drv.Release(cctx, h); rerr != nil {
				log.Warn("Unable to release working copy", zap.Error(rerr))
			}
			return
		}
		if derr := r.drv.Dispose(cctx, h); derr != nil {
			log.Warn("Unable to dispose working copy", zap.Error(derr))
		}
	}()
	return fn(h)
}

// cleanupContext survives cancellation of the job.
func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
}
