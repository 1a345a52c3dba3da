package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cardgen/card"
	"cardgen/common"
	"cardgen/driver"
)

// ExportManager writes job artifacts. Every artifact is written to a
// temporary file next to its destination and renamed into place, so readers
// never see partially written artifact.
type ExportManager struct {
	drv driver.Driver
	log *zap.Logger
	m   *Metrics
}

func newExportManager(drv driver.Driver, log *zap.Logger, m *Metrics) *ExportManager {
	return &ExportManager{drv: drv, log: log, m: m}
}

// Tabular writes cards in the given order. It does not depend on the driver.
func (e *ExportManager) Tabular(path string, cards []card.Card) error {
	buf := new(bytes.Buffer)
	if err := card.WriteCSV(buf, cards); err != nil {
		return err
	}
	return writeArtifact(path, buf.Bytes())
}

// Editable exports editable document. Failure is never fatal: note describing
// why artifact was not produced is returned instead, empty note means
// success.
func (e *ExportManager) Editable(ctx context.Context, h *driver.Handle, path string) string {
	data, err := e.export(ctx, h, common.ExportFmtPptx)
	if err == nil {
		err = writeArtifact(path, data)
	}
	switch {
	case err == nil:
		return ""
	case errors.Is(err, driver.ErrSizeLimit):
		e.log.Warn("Editable export skipped: document is too large", zap.String("copy", h.ID))
		e.m.skip(e.drv.Name(), "size")
		return "PPTX skipped (too large)"
	default:
		e.log.Warn("Editable export failed", zap.String("copy", h.ID), zap.Error(err))
		e.m.skip(e.drv.Name(), "error")
		return "PPTX export failed"
	}
}

// Flattened exports print ready document, any failure is fatal.
func (e *ExportManager) Flattened(ctx context.Context, h *driver.Handle, path string) error {
	data, err := e.export(ctx, h, common.ExportFmtPdf)
	if err != nil {
		return err
	}
	return writeArtifact(path, data)
}

func (e *ExportManager) export(ctx context.Context, h *driver.Handle, f common.ExportFmt) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.m.roundTrip(e.drv.Name(), driver.OpExport)
	data, err := e.drv.Export(ctx, h, f)
	if err != nil {
		return nil, &driver.BatchError{Op: driver.OpExport, Err: fmt.Errorf("%s: %w", f, err)}
	}
	if err := verify(f, data); err != nil {
		return nil, &driver.BatchError{Op: driver.OpExport, Err: err}
	}
	return data, nil
}

// verify checks that backend returned document of requested type.
func verify(f common.ExportFmt, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%s: backend returned empty document", f)
	}
	var ok bool
	switch f {
	case common.ExportFmtPdf:
		ok = filetype.Is(data, "pdf")
	case common.ExportFmtPptx:
		// presentation is a zip package, detection of its flavor depends on
		// part order
		ok = filetype.Is(data, "pptx") || filetype.Is(data, "zip")
	default:
		ok = true
	}
	if !ok {
		kind, _ := filetype.Match(data)
		return fmt.Errorf("%s: backend returned unexpected content (%s)", f, kind.MIME.Value)
	}
	return nil
}

// writeArtifact atomically replaces file at path with data.
func writeArtifact(path string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("unable to create output directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("unable to create artifact: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp.Name()))
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("unable to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("unable to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("unable to write artifact: %w", err)
	}
	return nil
}
