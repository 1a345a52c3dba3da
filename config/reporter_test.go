package config

import (
	"archive/zip"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func archiveNames(t *testing.T, path string) []string {
	t.Helper()

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("failed to open report: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestReportClose_RemovesCopies(t *testing.T) {
	tmp := t.TempDir()

	conf := ReporterConfig{Destination: filepath.Join(tmp, "report.zip")}
	r, err := conf.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	progress := filepath.Join(tmp, "job.txt")
	if err := os.WriteFile(progress, []byte(".csv, .pdf\n0%\n"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if err := r.StoreCopy("progress", progress); err != nil {
		t.Fatalf("StoreCopy() error: %v", err)
	}
	if len(r.copies) != 1 {
		t.Fatalf("expected one temporary copy, got %d", len(r.copies))
	}
	copyDir := r.copies[0]

	if err := r.Close(); err != nil {
		t.Fatalf("Report.Close() error: %v", err)
	}

	if _, err := os.Stat(copyDir); !os.IsNotExist(err) {
		t.Errorf("expected temporary copy %s to be removed", copyDir)
	}
	// original must be left alone
	if _, err := os.Stat(progress); err != nil {
		t.Errorf("stored file should not be removed, but got error: %v", err)
	}
}

func TestReportArtifacts(t *testing.T) {
	tmp := t.TempDir()

	conf := ReporterConfig{Destination: filepath.Join(tmp, "report.zip")}
	r, err := conf.Prepare()
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	base := filepath.Join(tmp, "out")
	for _, ext := range []string{".csv", ".pdf"} {
		if err := os.WriteFile(base+ext, []byte("data"), 0644); err != nil {
			t.Fatalf("failed to write artifact: %v", err)
		}
	}
	// pptx was never produced
	r.StoreArtifacts("job", base+".csv", base+".pptx", base+".pdf")
	r.StoreData("config.yaml", []byte("version: 1\n"))

	if err := r.Close(); err != nil {
		t.Fatalf("Report.Close() error: %v", err)
	}

	want := []string{"MANIFEST", "config.yaml", "job/out.csv", "job/out.pdf"}
	if diff := cmp.Diff(want, archiveNames(t, conf.Destination)); diff != "" {
		t.Errorf("report content mismatch (-want +got):\n%s", diff)
	}
}

func TestReportStore_OverwritePanics(t *testing.T) {
	r := &Report{entries: make(map[string]entry)}
	r.Store("a", "/tmp/one")

	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on overwrite")
		}
	}()
	r.Store("a", "/tmp/two")
}

func TestReportClose_NilReport(t *testing.T) {
	var r *Report
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil report should not error, got: %v", err)
	}
	// all store methods must be no-op
	r.Store("x", "y")
	r.StoreData("x", nil)
	r.StoreArtifacts("x", "y")
	if err := r.StoreCopy("x", "y"); err != nil {
		t.Errorf("StoreCopy on nil report should not error, got: %v", err)
	}
}

func TestReportClose_NilFile(t *testing.T) {
	r := &Report{entries: make(map[string]entry)}
	if err := r.Close(); err != nil {
		t.Errorf("Close with nil file should not error, got: %v", err)
	}
}
