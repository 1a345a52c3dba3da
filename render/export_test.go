package render

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"cardgen/common"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		f       common.ExportFmt
		data    []byte
		wantErr bool
	}{
		{name: "pdf", f: common.ExportFmtPdf, data: []byte("%PDF-1.7\n%%EOF\n")},
		{name: "empty pdf", f: common.ExportFmtPdf, data: nil, wantErr: true},
		{name: "html instead of pdf", f: common.ExportFmtPdf, data: []byte("<html><body>quota</body></html>"), wantErr: true},
		{name: "zip package", f: common.ExportFmtPptx, data: []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00")},
		{name: "pdf instead of pptx", f: common.ExportFmtPptx, data: []byte("%PDF-1.7\n"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := verify(tt.f, tt.data); (err != nil) != tt.wantErr {
				t.Errorf("verify() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.pdf")

	if err := writeArtifact(path, []byte("one")); err != nil {
		t.Fatalf("writeArtifact() error: %v", err)
	}
	if err := writeArtifact(path, []byte("two")); err != nil {
		t.Fatalf("writeArtifact() error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "two" {
		t.Errorf("artifact content = %q, %v", data, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestOutputName(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	tests := []struct {
		name          string
		field         string
		transliterate bool
		want          string
	}{
		{name: "default", field: "", want: "Thank You 03-05-2024 at 14-07-09"},
		{name: "template", field: `{{ .Template }} {{ .Now | date "01-02-2006 at 15-04-05" }}`, want: "Thank You 03-05-2024 at 14-07-09"},
		{name: "cards", field: `{{ .Template }}-{{ .Cards }}`, want: "Thank You-12"},
		{name: "separators dropped", field: `{{ .Template }}/x`, want: "Thank Youx"},
		{name: "transliterated", field: `{{ .Template }}`, transliterate: true, want: "thank-you"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := OutputName(tt.field, NameValues{Template: "Thank You", Now: now, Cards: 12}, tt.transliterate)
			if err != nil {
				t.Fatalf("OutputName() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("OutputName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputName_BadTemplate(t *testing.T) {
	if _, err := OutputName("{{ .Missing", NameValues{}, false); err == nil {
		t.Errorf("OutputName() should fail on malformed template")
	}
}
