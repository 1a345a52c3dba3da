// Package drivertest provides in-memory driver for pipeline tests.
package drivertest

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"cardgen/archive"
	"cardgen/card"
	"cardgen/common"
	"cardgen/driver"
	"cardgen/fontfit"
)

// Call records single driver round trip.
type Call struct {
	Op    string
	Units []driver.UnitID
	// Start is reorder position.
	Start int
	// Size is number of items in the round trip.
	Size int
}

// Unit is rendered state of a single unit.
type Unit struct {
	ID       driver.UnitID
	Source   int
	Fields   map[card.Placeholder]string
	FontSize float64
}

type doc struct {
	units    []*Unit
	disposed bool
	released bool
}

// Driver is a fake backend keeping documents in memory. Exported fields must
// be set before first use.
type Driver struct {
	L driver.Limits
	// TemplateUnits is number of units in every opened template.
	TemplateUnits int
	// Geometry per template unit index, missing entry means unit has no
	// content container.
	Geometry map[int]*fontfit.Geometry
	// ExportErr makes export of the format fail.
	ExportErr map[common.ExportFmt]error
	// FailOp and FailCall make n-th (1-based) call of the operation fail with
	// FailErr.
	FailOp   string
	FailCall int
	FailErr  error

	mu     sync.Mutex
	seq    int
	docs   map[string]*doc
	calls  []Call
	counts map[string]int
	opened []string
}

// New returns fake with given ceiling and template units, every unit has
// base geometry.
func New(ceiling, units int) *Driver {
	d := &Driver{
		L:             driver.Limits{BatchCeiling: ceiling, SubstitutionOps: 1},
		TemplateUnits: units,
		Geometry:      make(map[int]*fontfit.Geometry),
	}
	for i := range units {
		d.Geometry[i] = &fontfit.Geometry{Width: fontfit.BaseWidth, Height: fontfit.BaseHeight}
	}
	return d
}

func (d *Driver) Name() string          { return "fake" }
func (d *Driver) Limits() driver.Limits { return d.L }

// record registers call and returns injected failure if any. Must be called
// with lock held.
func (d *Driver) record(c Call) error {
	if d.counts == nil {
		d.counts = make(map[string]int)
	}
	d.counts[c.Op]++
	d.calls = append(d.calls, c)
	if d.FailOp == c.Op && d.counts[c.Op] == d.FailCall {
		return d.FailErr
	}
	return nil
}

func (d *Driver) doc(h *driver.Handle) (*doc, error) {
	doc, ok := d.docs[h.ID]
	if !ok || doc.disposed {
		return nil, fmt.Errorf("working copy %s is not open", h.ID)
	}
	return doc, nil
}

func (doc *doc) find(id driver.UnitID) (int, error) {
	idx := slices.IndexFunc(doc.units, func(u *Unit) bool { return u.ID == id })
	if idx < 0 {
		return -1, fmt.Errorf("%w: %s", driver.ErrUnknownUnit, id)
	}
	return idx, nil
}

func (d *Driver) Open(ctx context.Context, templateID, title string) (*driver.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: driver.OpOpen}); err != nil {
		return nil, err
	}
	if d.docs == nil {
		d.docs = make(map[string]*doc)
	}
	d.seq++
	h := &driver.Handle{ID: fmt.Sprintf("copy-%d", d.seq), Title: title}
	doc := &doc{}
	for i := range d.TemplateUnits {
		id := driver.UnitID(fmt.Sprintf("t%d", i))
		doc.units = append(doc.units, &Unit{ID: id, Source: i})
		h.Units = append(h.Units, id)
	}
	d.docs[h.ID] = doc
	d.opened = append(d.opened, h.ID)
	return h, nil
}

func (d *Driver) Duplicate(ctx context.Context, h *driver.Handle, srcs []driver.UnitID) ([]driver.UnitID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: driver.OpDuplicate, Units: slices.Clone(srcs), Size: len(srcs)}); err != nil {
		return nil, err
	}
	doc, err := d.doc(h)
	if err != nil {
		return nil, err
	}
	res := make([]driver.UnitID, 0, len(srcs))
	for _, src := range srcs {
		idx, err := doc.find(src)
		if err != nil {
			return nil, err
		}
		d.seq++
		u := &Unit{ID: driver.UnitID(fmt.Sprintf("u%d", d.seq)), Source: doc.units[idx].Source}
		doc.units = append(doc.units, u)
		res = append(res, u.ID)
	}
	return res, nil
}

func (d *Driver) Measure(ctx context.Context, h *driver.Handle, unit driver.UnitID) (*fontfit.Geometry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: driver.OpMeasure, Units: []driver.UnitID{unit}, Size: 1}); err != nil {
		return nil, err
	}
	doc, err := d.doc(h)
	if err != nil {
		return nil, err
	}
	idx, err := doc.find(unit)
	if err != nil {
		return nil, err
	}
	return d.Geometry[doc.units[idx].Source], nil
}

func (d *Driver) Substitute(ctx context.Context, h *driver.Handle, subs []driver.Substitution) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	units := make([]driver.UnitID, 0, len(subs))
	for _, s := range subs {
		units = append(units, s.Unit)
	}
	if err := d.record(Call{Op: driver.OpSubstitute, Units: units, Size: len(subs) * max(1, d.L.SubstitutionOps)}); err != nil {
		return err
	}
	doc, err := d.doc(h)
	if err != nil {
		return err
	}
	for _, s := range subs {
		idx, err := doc.find(s.Unit)
		if err != nil {
			return err
		}
		doc.units[idx].Fields = s.Fields
		doc.units[idx].FontSize = s.FontSize
	}
	return nil
}

func (d *Driver) Reorder(ctx context.Context, h *driver.Handle, units []driver.UnitID, start int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: driver.OpReorder, Units: slices.Clone(units), Start: start, Size: len(units)}); err != nil {
		return err
	}
	doc, err := d.doc(h)
	if err != nil {
		return err
	}
	for i, id := range units {
		idx, err := doc.find(id)
		if err != nil {
			return err
		}
		u := doc.units[idx]
		doc.units = slices.Delete(doc.units, idx, idx+1)
		pos := min(start+i, len(doc.units))
		doc.units = slices.Insert(doc.units, pos, u)
	}
	return nil
}

func (d *Driver) Delete(ctx context.Context, h *driver.Handle, units []driver.UnitID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: driver.OpDelete, Units: slices.Clone(units), Size: len(units)}); err != nil {
		return err
	}
	doc, err := d.doc(h)
	if err != nil {
		return err
	}
	for _, id := range units {
		idx, err := doc.find(id)
		if err != nil {
			return err
		}
		doc.units = slices.Delete(doc.units, idx, idx+1)
	}
	return nil
}

// Export returns minimal but well formed document listing units in order.
func (d *Driver) Export(ctx context.Context, h *driver.Handle, f common.ExportFmt) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: driver.OpExport + ":" + f.String()}); err != nil {
		return nil, err
	}
	doc, err := d.doc(h)
	if err != nil {
		return nil, err
	}
	if err := d.ExportErr[f]; err != nil {
		return nil, err
	}

	var listing strings.Builder
	for _, u := range doc.units {
		fmt.Fprintf(&listing, "%s %d %s %v\n", u.ID, u.Source, u.Fields[card.PlaceholderMessage], u.FontSize)
	}
	switch f {
	case common.ExportFmtPdf:
		return []byte("%PDF-1.7\n" + listing.String() + "%%EOF\n"), nil
	case common.ExportFmtPptx:
		var buf bytes.Buffer
		err := archive.WriteParts(&buf, []archive.Part{
			{Name: "[Content_Types].xml", Data: []byte(`<?xml version="1.0"?><Types/>`)},
			{Name: "_rels/.rels", Data: []byte(`<?xml version="1.0"?><Relationships/>`)},
			{Name: "ppt/presentation.xml", Data: []byte(listing.String())},
		})
		return buf.Bytes(), err
	default:
		return nil, driver.ErrUnsupportedFmt
	}
}

func (d *Driver) Dispose(ctx context.Context, h *driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: "dispose"}); err != nil {
		return err
	}
	doc, err := d.doc(h)
	if err != nil {
		return err
	}
	doc.disposed = true
	return nil
}

func (d *Driver) Release(ctx context.Context, h *driver.Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.record(Call{Op: "release"}); err != nil {
		return err
	}
	if doc, ok := d.docs[h.ID]; ok {
		doc.released = true
	}
	return nil
}

// Calls returns recorded calls, optionally only of given operations.
func (d *Driver) Calls(ops ...string) []Call {
	d.mu.Lock()
	defer d.mu.Unlock()

	var res []Call
	for _, c := range d.calls {
		if len(ops) == 0 || slices.Contains(ops, c.Op) {
			res = append(res, c)
		}
	}
	return res
}

// Count returns number of calls of operation.
func (d *Driver) Count(op string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[op]
}

// Units returns current units of working copy.
func (d *Driver) Units(id string) []Unit {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[id]
	if !ok {
		return nil
	}
	res := make([]Unit, 0, len(doc.units))
	for _, u := range doc.units {
		res = append(res, *u)
	}
	return res
}

// Disposed reports whether working copy was destroyed.
func (d *Driver) Disposed(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	return ok && doc.disposed
}

// Released reports whether working copy was released and kept.
func (d *Driver) Released(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.docs[id]
	return ok && doc.released
}

// Handles returns ids of all working copies in order of opening.
func (d *Driver) Handles() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.opened)
}
