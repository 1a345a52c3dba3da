package render

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"cardgen/card"
	"cardgen/driver"
	"cardgen/fontfit"
	"cardgen/progress"
)

// Percent ranges of bulk rendering stages.
var (
	bandDuplicate  = progress.Band{From: 0, To: 25}
	bandBuild      = progress.Band{From: 27, To: 50}
	bandSubstitute = progress.Band{From: 50, To: 65}
)

const (
	percentReorder   = 65
	percentCleanup   = 70
	percentEditable  = 70
	percentSkipped   = 75
	percentFlattened = 85

	// how often building replacements is reported
	buildReportEvery = 50
)

// BatchRenderer renders cards onto an open working copy: duplicates template
// units, sizes and substitutes text, puts units in card order and removes
// template units. Round trips are issued sequentially and are never retried.
type BatchRenderer struct {
	drv  driver.Driver
	h    *driver.Handle
	fit  *fontfit.Fitter
	sink progress.Sink
	log  *zap.Logger
	m    *Metrics
}

func (b *BatchRenderer) emit(stage progress.Stage, percent float64, note string) {
	if err := b.sink.Emit(progress.Event{Stage: stage, Percent: percent, Note: note}); err != nil {
		// progress is informational, rendering goes on
		b.log.Warn("Unable to report progress", zap.Error(err))
	}
}

// roundTrip runs single chunk. Context is checked before every round trip,
// canceled job fails like any other error.
func (b *BatchRenderer) roundTrip(ctx context.Context, op string, batch int, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return &driver.BatchError{Op: op, Batch: batch, Err: err}
	}
	b.m.roundTrip(b.drv.Name(), op)
	if err := fn(); err != nil {
		return &driver.BatchError{Op: op, Batch: batch, Err: err}
	}
	return nil
}

// Run renders cards, units[i] is template unit index of cards[i]. It
// returns new units in card order.
func (b *BatchRenderer) Run(ctx context.Context, cards []card.Card, units []int) ([]driver.UnitID, error) {
	if len(cards) != len(units) {
		return nil, fmt.Errorf("%d cards with %d units", len(cards), len(units))
	}

	dups, err := b.duplicate(ctx, units)
	if err != nil {
		return nil, err
	}
	geometry, err := b.measure(ctx, slices.Clone(units))
	if err != nil {
		return nil, err
	}
	if err := b.substitute(ctx, b.build(cards, units, dups, geometry)); err != nil {
		return nil, err
	}
	if err := b.reorder(ctx, dups); err != nil {
		return nil, err
	}
	if err := b.cleanup(ctx); err != nil {
		return nil, err
	}
	return dups, nil
}

// duplicate makes one copy of the template unit per card, copies are
// collected in card order.
func (b *BatchRenderer) duplicate(ctx context.Context, units []int) ([]driver.UnitID, error) {
	srcs := make([]driver.UnitID, len(units))
	for i, u := range units {
		if u < 0 || u >= len(b.h.Units) {
			return nil, fmt.Errorf("%w: template has %d units, unit %d requested", driver.ErrUnknownUnit, len(b.h.Units), u)
		}
		srcs[i] = b.h.Units[u]
	}

	total := len(srcs)
	dups := make([]driver.UnitID, 0, total)
	batch := 0
	for chunk := range slices.Chunk(srcs, b.drv.Limits().DuplicateChunk()) {
		err := b.roundTrip(ctx, driver.OpDuplicate, batch, func() error {
			ids, err := b.drv.Duplicate(ctx, b.h, chunk)
			if err != nil {
				return err
			}
			if len(ids) != len(chunk) {
				return fmt.Errorf("requested %d copies, got %d", len(chunk), len(ids))
			}
			dups = append(dups, ids...)
			return nil
		})
		if err != nil {
			return nil, err
		}
		batch++
		b.emit(progress.StageDuplicating, bandDuplicate.At(len(dups), total), fmt.Sprintf("duplicating slides (%d/%d)", len(dups), total))
	}
	b.emit(progress.StageDuplicating, bandDuplicate.To, "all slides duplicated")
	return dups, nil
}

// measure fetches content container geometry once per distinct template unit.
func (b *BatchRenderer) measure(ctx context.Context, units []int) (map[int]*fontfit.Geometry, error) {
	slices.Sort(units)
	units = slices.Compact(units)

	res := make(map[int]*fontfit.Geometry, len(units))
	for i, u := range units {
		err := b.roundTrip(ctx, driver.OpMeasure, i, func() error {
			g, err := b.drv.Measure(ctx, b.h, b.h.Units[u])
			if err != nil {
				return err
			}
			if g == nil {
				b.log.Debug("Template unit has no content container", zap.Int("unit", u))
			}
			res[u] = g
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// build prepares one substitution per card.
func (b *BatchRenderer) build(cards []card.Card, units []int, dups []driver.UnitID, geometry map[int]*fontfit.Geometry) []driver.Substitution {
	subs := make([]driver.Substitution, len(cards))
	for i := range cards {
		if i%buildReportEvery == 0 {
			b.emit(progress.StageSubstituting, bandBuild.At(i, len(cards)), fmt.Sprintf("building replacements (%d/%d)", i, len(cards)))
		}
		subs[i] = driver.Substitution{
			Unit:     dups[i],
			Fields:   cards[i].Fields(),
			FontSize: b.fit.Fit(cards[i].FittingText(), geometry[units[i]]),
		}
	}
	b.emit(progress.StageSubstituting, bandBuild.To, "applying replacements to slides")
	return subs
}

func (b *BatchRenderer) substitute(ctx context.Context, subs []driver.Substitution) error {
	total, done, batch := len(subs), 0, 0
	for chunk := range slices.Chunk(subs, b.drv.Limits().SubstituteChunk()) {
		if err := b.roundTrip(ctx, driver.OpSubstitute, batch, func() error {
			return b.drv.Substitute(ctx, b.h, chunk)
		}); err != nil {
			return err
		}
		batch++
		done += len(chunk)
		b.emit(progress.StageSubstituting, bandSubstitute.At(done, total), fmt.Sprintf("applying replacements (%d/%d)", done, total))
	}
	return nil
}

// reorder puts new units at the beginning of the document in card order.
func (b *BatchRenderer) reorder(ctx context.Context, dups []driver.UnitID) error {
	b.emit(progress.StageReordering, percentReorder, "reordering slides")

	size := b.drv.Limits().DuplicateChunk()
	for batch, start := 0, 0; start < len(dups); batch, start = batch+1, start+size {
		chunk := dups[start:min(start+size, len(dups))]
		if err := b.roundTrip(ctx, driver.OpReorder, batch, func() error {
			return b.drv.Reorder(ctx, b.h, chunk, start)
		}); err != nil {
			return err
		}
	}
	return nil
}

// cleanup removes original template units.
func (b *BatchRenderer) cleanup(ctx context.Context) error {
	b.emit(progress.StageCleaning, percentCleanup, "cleaning up template slides")

	batch := 0
	for chunk := range slices.Chunk(b.h.Units, b.drv.Limits().DuplicateChunk()) {
		if err := b.roundTrip(ctx, driver.OpDelete, batch, func() error {
			return b.drv.Delete(ctx, b.h, chunk)
		}); err != nil {
			return err
		}
		batch++
	}
	return nil
}
