// Package driver defines contract every rendering backend implements. A
// backend edits an isolated working copy of a template: duplicates template
// units, substitutes placeholders, reorders and deletes units and exports the
// result.
package driver

import (
	"context"
	"errors"
	"fmt"

	"cardgen/card"
	"cardgen/common"
	"cardgen/fontfit"
)

// UnitID identifies a unit (slide) inside working copy.
type UnitID string

// Handle is a working copy opened by a driver. Handle is exclusively owned by
// a single job.
type Handle struct {
	// ID of the working copy.
	ID    string
	Title string
	// Units are template units in order at the time of opening.
	Units []UnitID
	// Private is driver specific state.
	Private any
}

// Limits describe backend capabilities.
type Limits struct {
	// BatchCeiling is the maximum number of mutation operations sent in one
	// round trip.
	BatchCeiling int
	// SubstitutionOps is number of operations single card substitution
	// expands into.
	SubstitutionOps int
}

// DuplicateChunk returns number of units duplicated per round trip.
func (l Limits) DuplicateChunk() int {
	return max(1, l.BatchCeiling)
}

// SubstituteChunk returns number of cards substituted per round trip.
func (l Limits) SubstituteChunk() int {
	return max(1, l.BatchCeiling/max(1, l.SubstitutionOps))
}

// Substitution replaces placeholders on one unit and sets font size of its
// content container. Zero FontSize leaves font unchanged.
type Substitution struct {
	Unit     UnitID
	Fields   map[card.Placeholder]string
	FontSize float64
}

// Driver is a rendering backend.
type Driver interface {
	Name() string
	Limits() Limits

	// Open makes isolated working copy of template, original is never
	// mutated.
	Open(ctx context.Context, templateID, title string) (*Handle, error)
	// Duplicate copies units appending copies to the end of the working copy.
	// Returned ids are in the order of srcs.
	Duplicate(ctx context.Context, h *Handle, srcs []UnitID) ([]UnitID, error)
	// Measure returns geometry of content container on unit, nil if unit has
	// no content container.
	Measure(ctx context.Context, h *Handle, unit UnitID) (*fontfit.Geometry, error)
	Substitute(ctx context.Context, h *Handle, subs []Substitution) error
	// Reorder moves units so that units[i] ends up at position start+i.
	Reorder(ctx context.Context, h *Handle, units []UnitID, start int) error
	Delete(ctx context.Context, h *Handle, units []UnitID) error
	// Export produces document in requested format. ErrSizeLimit is returned
	// when backend refuses to export document of this size.
	Export(ctx context.Context, h *Handle, f common.ExportFmt) ([]byte, error)
	// Dispose destroys working copy.
	Dispose(ctx context.Context, h *Handle) error
	// Release frees resources held for working copy keeping the copy itself.
	Release(ctx context.Context, h *Handle) error
}

var (
	ErrSizeLimit      = errors.New("export size limit exceeded")
	ErrUnknownUnit    = errors.New("unknown unit")
	ErrNotFound       = errors.New("template not found")
	ErrUnsupportedFmt = errors.New("unsupported export format")
)

// Operation names used in BatchError.
const (
	OpOpen       = "open"
	OpDuplicate  = "duplicate"
	OpMeasure    = "measure"
	OpSubstitute = "substitute"
	OpReorder    = "reorder"
	OpDelete     = "delete"
	OpExport     = "export"
)

// BatchError reports failed round trip.
type BatchError struct {
	Op    string
	Batch int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s batch %d: %v", e.Op, e.Batch, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}
