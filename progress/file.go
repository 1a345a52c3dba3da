package progress

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"cardgen/common"
)

// Ext is extension of progress file.
const Ext = ".txt"

var ErrClosed = errors.New("progress file is closed")

// File is the single writer of a progress file. It keeps percent
// non-decreasing and never rewrites written lines.
type File struct {
	mu     sync.Mutex
	f      *os.File
	last   float64
	closed bool
	log    *zap.Logger
}

// Header lists expected artifact extensions.
func Header(formats []common.ExportFmt) string {
	exts := make([]string, 0, len(formats))
	for _, f := range formats {
		exts = append(exts, f.Ext())
	}
	return strings.Join(exts, ", ")
}

// Create creates progress file, writes header line and initial "0%".
func Create(path string, formats []common.ExportFmt, log *zap.Logger) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("unable to create progress file: %w", err)
	}
	pf := &File{f: f, log: log.Named("progress")}
	if _, err := f.WriteString(Header(formats) + "\n" + Event{Stage: StageStarted}.Line() + "\n"); err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write progress header: %w", err)
	}
	return pf, nil
}

// Name returns path of progress file.
func (pf *File) Name() string {
	return pf.f.Name()
}

// Emit appends event as a complete line. Percent lower than already
// reported is raised, final stage is always written as plain "100%".
func (pf *File) Emit(e Event) error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.closed {
		return ErrClosed
	}
	if e.Stage == StageDone {
		e = Event{Stage: StageDone, Percent: 100}
	}
	e.Percent = min(max(e.Percent, pf.last), 100)
	pf.last = e.Percent

	line := e.Line()
	pf.log.Debug("Progress", zap.String("line", line))
	// single write, readers never observe line without its terminator
	// unless write is interrupted
	if _, err := pf.f.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("unable to write progress: %w", err)
	}
	return nil
}

// Close closes the file, safe to call more than once.
func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	if pf.closed {
		return nil
	}
	pf.closed = true
	return pf.f.Close()
}
