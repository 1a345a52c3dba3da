// Package local implements rendering backend editing presentation packages
// in memory. Flattened documents are produced by office converter running as
// external process, only one working copy may be open in the process at any
// time.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"cardgen/common"
	"cardgen/config"
	"cardgen/driver"
	"cardgen/fontfit"
)

// office converter cannot run more than one instance per user profile
var instance = semaphore.NewWeighted(1)

var errClosed = errors.New("working copy is closed")

// Options of the local driver.
type Options struct {
	Log          *zap.Logger
	Converter    string
	Args         []string
	Timeout      time.Duration
	BatchCeiling int
	// WorkDir receives retained working copies, when empty they are dropped.
	WorkDir string
	// FixZip rewrites produced packages without data descriptors.
	FixZip bool
}

// Driver is a local rendering backend.
type Driver struct {
	opts Options
	log  *zap.Logger
	// convert runs converter producing pdf for the input file in outDir
	convert func(ctx context.Context, in, outDir string) error
}

// New returns local driver.
func New(opts Options) *Driver {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	d := &Driver{opts: opts, log: opts.Log.Named("driver.local")}
	d.convert = d.runConverter
	return d
}

// Available checks if office converter could be found.
func Available(converter string) bool {
	_, err := exec.LookPath(converter)
	return err == nil
}

type workCopy struct {
	mu     sync.Mutex
	doc    *document
	closed bool
}

func (d *Driver) Name() string {
	return "local"
}

func (d *Driver) Limits() driver.Limits {
	return driver.Limits{BatchCeiling: d.opts.BatchCeiling, SubstitutionOps: 1}
}

// Open blocks until no other working copy is open.
func (d *Driver) Open(ctx context.Context, templateID, title string) (*driver.Handle, error) {
	if err := instance.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	h, err := d.open(templateID, title)
	if err != nil {
		instance.Release(1)
		return nil, err
	}
	return h, nil
}

func (d *Driver) open(templateID, title string) (*driver.Handle, error) {
	data, err := os.ReadFile(templateID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", driver.ErrNotFound, templateID)
		}
		return nil, fmt.Errorf("unable to read template: %w", err)
	}
	doc, units, err := loadDocument(data)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	d.log.Debug("Working copy opened", zap.String("template", templateID), zap.Stringer("copy", id), zap.Int("units", len(units)))
	return &driver.Handle{ID: id.String(), Title: title, Units: units, Private: &workCopy{doc: doc}}, nil
}

// with runs fn on working copy document.
func with(h *driver.Handle, fn func(doc *document) error) error {
	wc, ok := h.Private.(*workCopy)
	if !ok {
		return fmt.Errorf("working copy %s does not belong to local driver", h.ID)
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.closed {
		return fmt.Errorf("%s: %w", h.ID, errClosed)
	}
	return fn(wc.doc)
}

func (d *Driver) Duplicate(ctx context.Context, h *driver.Handle, srcs []driver.UnitID) ([]driver.UnitID, error) {
	res := make([]driver.UnitID, 0, len(srcs))
	err := with(h, func(doc *document) error {
		for _, src := range srcs {
			id, err := doc.duplicate(src)
			if err != nil {
				return err
			}
			res = append(res, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (d *Driver) Measure(ctx context.Context, h *driver.Handle, unit driver.UnitID) (g *fontfit.Geometry, err error) {
	err = with(h, func(doc *document) error {
		s, err := doc.slide(unit)
		if err != nil {
			return err
		}
		g = measure(s.doc)
		return nil
	})
	return g, err
}

func (d *Driver) Substitute(ctx context.Context, h *driver.Handle, subs []driver.Substitution) error {
	return with(h, func(doc *document) error {
		for _, sub := range subs {
			s, err := doc.slide(sub.Unit)
			if err != nil {
				return err
			}
			substitute(s.doc, sub.Fields, sub.FontSize)
		}
		return nil
	})
}

func (d *Driver) Reorder(ctx context.Context, h *driver.Handle, units []driver.UnitID, start int) error {
	return with(h, func(doc *document) error {
		for i, u := range units {
			if err := doc.move(u, start+i); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *Driver) Delete(ctx context.Context, h *driver.Handle, units []driver.UnitID) error {
	return with(h, func(doc *document) error {
		for _, u := range units {
			if err := doc.remove(u); err != nil {
				return err
			}
		}
		return nil
	})
}

// pack returns serialized working copy, finalized if requested.
func (d *Driver) pack(h *driver.Handle) ([]byte, error) {
	var data []byte
	err := with(h, func(doc *document) (err error) {
		data, err = doc.serialize()
		return err
	})
	if err != nil {
		return nil, err
	}
	if d.opts.FixZip {
		return fixZip(data)
	}
	return data, nil
}

func (d *Driver) Export(ctx context.Context, h *driver.Handle, f common.ExportFmt) ([]byte, error) {
	switch f {
	case common.ExportFmtPptx:
		return d.pack(h)
	case common.ExportFmtPdf:
		data, err := d.pack(h)
		if err != nil {
			return nil, err
		}
		return d.flatten(ctx, h, data)
	default:
		return nil, fmt.Errorf("%w: %s", driver.ErrUnsupportedFmt, f)
	}
}

func (d *Driver) close(h *driver.Handle) error {
	wc, ok := h.Private.(*workCopy)
	if !ok {
		return fmt.Errorf("working copy %s does not belong to local driver", h.ID)
	}
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.closed {
		return nil
	}
	wc.closed = true
	wc.doc = nil
	instance.Release(1)
	return nil
}

// Dispose drops working copy.
func (d *Driver) Dispose(ctx context.Context, h *driver.Handle) error {
	d.log.Debug("Working copy disposed", zap.String("copy", h.ID))
	return d.close(h)
}

// Release keeps working copy in work directory when one is configured.
func (d *Driver) Release(ctx context.Context, h *driver.Handle) (err error) {
	defer func() {
		if cerr := d.close(h); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if len(d.opts.WorkDir) == 0 {
		return nil
	}
	data, err := d.pack(h)
	if err != nil {
		if errors.Is(err, errClosed) {
			return nil
		}
		return err
	}
	if err := os.MkdirAll(d.opts.WorkDir, 0755); err != nil {
		return fmt.Errorf("unable to create work directory: %w", err)
	}
	name := filepath.Join(d.opts.WorkDir, config.CleanFileName(h.Title+" "+h.ID)+common.ExportFmtPptx.Ext())
	if err := os.WriteFile(name, data, 0644); err != nil {
		return fmt.Errorf("unable to keep working copy: %w", err)
	}
	d.log.Info("Working copy kept", zap.String("copy", h.ID), zap.String("path", name))
	return nil
}
