package progress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/maruel/natural"
)

// StampLayout is time layout used in default job names.
const StampLayout = "01-02-2006 at 15-04-05"

var stampRe = regexp.MustCompile(`^(.*) (\d{2}-\d{2}-\d{4} at \d{2}-\d{2}-\d{2})$`)

// Status describes a job found in output directory.
type Status struct {
	Name     string
	Template string
	Started  time.Time
	Expected []string
	Done     []string
	Last     string
	Percent  float64
	Complete bool
	// Stalled is true for incomplete jobs which did not report for a while.
	Stalled bool
}

// SplitName extracts template name and start time from job name produced
// with default naming, otherwise whole name is template and time is zero.
func SplitName(name string) (string, time.Time) {
	m := stampRe.FindStringSubmatch(name)
	if m == nil {
		return name, time.Time{}
	}
	t, err := time.ParseInLocation(StampLayout, m[2], time.Local)
	if err != nil {
		return name, time.Time{}
	}
	return m[1], t
}

// List returns status of every job in directory, newest first. Jobs which
// did not update progress for longer than stall are marked stalled.
func List(dir string, stall time.Duration) ([]Status, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read output directory: %w", err)
	}

	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Name()] = true
	}

	var res []Status
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != Ext {
			continue
		}
		name := strings.TrimSuffix(f.Name(), Ext)
		st := Status{Name: name}
		st.Template, st.Started = SplitName(name)

		info, err := f.Info()
		if err != nil {
			continue
		}
		if st.Started.IsZero() {
			st.Started = info.ModTime()
		}

		rec, err := Read(filepath.Join(dir, f.Name()))
		if err != nil && !errors.Is(err, ErrIncomplete) {
			return nil, err
		}
		if rec != nil {
			st.Expected, st.Last, st.Percent, st.Complete = rec.Expected, rec.Last, rec.Percent, rec.Complete()
			for _, ext := range rec.Expected {
				if present[name+ext] {
					st.Done = append(st.Done, ext)
				}
			}
		}
		st.Stalled = !st.Complete && stall > 0 && time.Since(info.ModTime()) > stall
		res = append(res, st)
	}

	slices.SortStableFunc(res, func(a, b Status) int {
		if c := b.Started.Compare(a.Started); c != 0 {
			return c
		}
		switch {
		case a.Name == b.Name:
			return 0
		case natural.Less(a.Name, b.Name):
			return -1
		default:
			return 1
		}
	})
	return res, nil
}

// Follow calls fn every time new complete progress line appears in file at
// path until job completes or context is canceled. File may not exist yet.
func Follow(ctx context.Context, path string, fn func(*Record)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to watch progress: %w", err)
	}
	defer w.Close()

	// watch directory: file could be created after we start
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("unable to watch progress: %w", err)
	}

	var seen string
	check := func() bool {
		rec, err := Read(path)
		if err != nil {
			return false
		}
		if rec.Last != seen {
			seen = rec.Last
			fn(rec)
		}
		return rec.Complete()
	}
	if check() {
		return nil
	}

	abs, _ := filepath.Abs(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watching progress: %w", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if p, _ := filepath.Abs(ev.Name); p != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if check() {
				return nil
			}
		}
	}
}
