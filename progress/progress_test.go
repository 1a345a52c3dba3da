package progress

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"cardgen/common"
)

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
}

var allFormats = []common.ExportFmt{common.ExportFmtCsv, common.ExportFmtPptx, common.ExportFmtPdf}

func TestEvent_Line(t *testing.T) {
	tests := []struct {
		ev   Event
		want string
	}{
		{ev: Event{Percent: 0}, want: "0%"},
		{ev: Event{Percent: 12.5, Note: "duplicating slides (5/40)"}, want: "12.5% duplicating slides (5/40)"},
		{ev: Event{Percent: 33.3333333}, want: "33.33%"},
		{ev: Event{Percent: 75, Note: "PPTX skipped\n(too large)"}, want: "75% PPTX skipped (too large)"},
	}
	for _, tt := range tests {
		if got := tt.ev.Line(); got != tt.want {
			t.Errorf("Line() = %q, want %q", got, tt.want)
		}
	}
}

func TestBand_At(t *testing.T) {
	b := Band{From: 0, To: 25}
	tests := []struct {
		done, total int
		want        float64
	}{
		{done: 0, total: 4, want: 0},
		{done: 1, total: 4, want: 6.25},
		{done: 4, total: 4, want: 25},
		{done: 9, total: 4, want: 25},
		{done: 0, total: 0, want: 25},
	}
	for _, tt := range tests {
		if got := b.At(tt.done, tt.total); got != tt.want {
			t.Errorf("At(%d, %d) = %v, want %v", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.txt")

	pf, err := Create(path, allFormats, testLogger(t))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	events := []Event{
		{Stage: StageDuplicating, Percent: 10, Note: "duplicating slides (1/2)"},
		// going back is not allowed
		{Stage: StageDuplicating, Percent: 5},
		{Stage: StageExportEditable, Percent: 75, Note: "PPTX skipped (too large)"},
		{Stage: StageExportFlattened, Percent: 150},
		{Stage: StageDone, Percent: 42, Note: "ignored"},
	}
	for _, e := range events {
		if err := pf.Emit(e); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := pf.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if err := pf.Emit(Event{Percent: 100}); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit() after close error = %v, want ErrClosed", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := ".csv, .pptx, .pdf\n0%\n10% duplicating slides (1/2)\n10%\n75% PPTX skipped (too large)\n100%\n100%\n"
	if diff := cmp.Diff(want, string(data)); diff != "" {
		t.Errorf("progress file mismatch (-want +got):\n%s", diff)
	}

	rec, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !rec.Complete() {
		t.Errorf("Complete() = false, last = %q", rec.Last)
	}
	prev := -1.0
	for _, l := range rec.Lines {
		p, _, err := ParseLine(l)
		if err != nil {
			t.Fatalf("ParseLine() error = %v", err)
		}
		if p < prev {
			t.Errorf("percent decreased: %v after %v", p, prev)
		}
		prev = p
	}

	// single writer - second job with the same name must not clobber file
	if _, err := Create(path, allFormats, testLogger(t)); err == nil {
		t.Errorf("Create() over existing progress file should fail")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    *Record
		wantErr error
	}{
		{
			name:    "nothing complete",
			data:    ".csv, .p",
			wantErr: ErrIncomplete,
		},
		{
			name: "partial last line ignored",
			data: ".csv, .pdf\n0%\n27% building replacem",
			want: &Record{Expected: []string{".csv", ".pdf"}, Lines: []string{"0%"}, Last: "0%"},
		},
		{
			name: "header only",
			data: ".csv\n",
			want: &Record{Expected: []string{".csv"}},
		},
		{
			name: "note",
			data: ".csv, .pptx, .pdf\n0%\n75% PPTX export failed\n",
			want: &Record{
				Expected: []string{".csv", ".pptx", ".pdf"},
				Lines:    []string{"0%", "75% PPTX export failed"},
				Last:     "75% PPTX export failed",
				Percent:  75,
				Note:     "PPTX export failed",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.data))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if _, err := Parse([]byte(".csv\nnot a percent\n")); err == nil {
		t.Errorf("Parse() expected error for malformed line")
	}
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}

	write("sp_2026 10-18-2024 at 09-00-00.txt", ".csv, .pptx, .pdf\n0%\n100%\n")
	write("sp_2026 10-18-2024 at 09-00-00.csv", "")
	write("sp_2026 10-18-2024 at 09-00-00.pdf", "")
	write("fa_2026 10-19-2024 at 11-30-00.txt", ".csv, .pdf\n0%\n50% applying replacements to slides\n")
	write("fa_2026 10-19-2024 at 11-30-00.csv", "")
	write("fa_2026 10-19-2024 at 11-30-00.pdf.tmp-123", "")
	write("custom.txt", ".csv\n")
	write("readme.md", "")

	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "fa_2026 10-19-2024 at 11-30-00.txt"), old, old); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}

	got, err := List(dir, 10*time.Minute)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("List() returned %d jobs, want 3", len(got))
	}

	// custom name gets file time which is now - newest
	if got[0].Name != "custom" || got[0].Template != "custom" || got[0].Complete {
		t.Errorf("unexpected first status: %+v", got[0])
	}

	fa := got[1]
	if fa.Template != "fa_2026" || fa.Percent != 50 || fa.Complete || !fa.Stalled {
		t.Errorf("unexpected running job status: %+v", fa)
	}
	if diff := cmp.Diff([]string{".csv"}, fa.Done); diff != "" {
		t.Errorf("Done mismatch (-want +got):\n%s", diff)
	}

	sp := got[2]
	wantStart := time.Date(2024, 10, 18, 9, 0, 0, 0, time.Local)
	if sp.Template != "sp_2026" || !sp.Started.Equal(wantStart) || !sp.Complete || sp.Stalled {
		t.Errorf("unexpected complete job status: %+v", sp)
	}
	if diff := cmp.Diff([]string{".csv", ".pdf"}, sp.Done); diff != "" {
		t.Errorf("Done mismatch (-want +got):\n%s", diff)
	}
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.txt")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var lines []string
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, path, func(r *Record) { lines = append(lines, r.Last) })
	}()

	// give watcher a chance to start before file exists
	time.Sleep(50 * time.Millisecond)

	pf, err := Create(path, []common.ExportFmt{common.ExportFmtCsv}, testLogger(t))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, p := range []float64{30, 60} {
		time.Sleep(20 * time.Millisecond)
		if err := pf.Emit(Event{Stage: StageSubstituting, Percent: p}); err != nil {
			t.Fatalf("Emit() error = %v", err)
		}
	}
	if err := pf.Emit(Event{Stage: StageDone}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	pf.Close()

	if err := <-done; err != nil {
		t.Fatalf("Follow() error = %v", err)
	}
	if len(lines) == 0 || lines[len(lines)-1] != "100%" {
		t.Errorf("Follow() should end on completion, saw %q", lines)
	}
}

func TestTee(t *testing.T) {
	var a, b []Event
	s := Tee(
		SinkFunc(func(e Event) error { a = append(a, e); return nil }),
		nil,
		SinkFunc(func(e Event) error { b = append(b, e); return errors.New("boom") }),
		Log(testLogger(t)),
	)
	if err := s.Emit(Event{Percent: 1}); err == nil {
		t.Errorf("Tee should return sink errors")
	}
	if len(a) != 1 || len(b) != 1 {
		t.Errorf("all sinks should receive event")
	}
}
