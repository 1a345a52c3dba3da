package progress

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var ErrIncomplete = errors.New("progress header is not written yet")

// Record is a parsed progress file.
type Record struct {
	// Expected artifact extensions.
	Expected []string
	// Lines are complete progress lines after header.
	Lines []string
	// Last complete progress line, empty when there is none.
	Last    string
	Percent float64
	Note    string
}

// Complete reports whether job finished successfully.
func (r *Record) Complete() bool {
	return r.Last == "100%"
}

// Parse parses progress file content. Trailing text without line terminator
// is being written and is ignored.
func Parse(data []byte) (*Record, error) {
	if i := bytes.LastIndexByte(data, '\n'); i >= 0 {
		data = data[:i+1]
	} else {
		return nil, ErrIncomplete
	}

	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	r := &Record{}
	for _, ext := range strings.Split(lines[0], ",") {
		if ext = strings.TrimSpace(ext); len(ext) > 0 {
			r.Expected = append(r.Expected, ext)
		}
	}
	for _, l := range lines[1:] {
		l = strings.TrimRight(l, "\r")
		if len(l) == 0 {
			continue
		}
		r.Lines = append(r.Lines, l)
	}
	if len(r.Lines) > 0 {
		r.Last = r.Lines[len(r.Lines)-1]
		p, note, err := ParseLine(r.Last)
		if err != nil {
			return nil, err
		}
		r.Percent, r.Note = p, note
	}
	return r, nil
}

// ParseLine splits progress line into percent and note.
func ParseLine(line string) (float64, string, error) {
	head, note, _ := strings.Cut(line, " ")
	num, ok := strings.CutSuffix(head, "%")
	if !ok {
		return 0, "", fmt.Errorf("malformed progress line %q", line)
	}
	p, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, "", fmt.Errorf("malformed progress line %q: %w", line, err)
	}
	return p, note, nil
}

// Read reads and parses progress file.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}
