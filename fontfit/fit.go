// Package fontfit picks the largest font size at which text fits into a
// rectangular text box. Sizes are taken from a table calibrated on a base box
// and scaled to the actual box geometry.
package fontfit

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// EMUPerInch converts office document units to inches.
const EMUPerInch = 914400

// Base box the default table was calibrated on, inches.
const (
	BaseWidth  = 5.88
	BaseHeight = 3.01
)

// Row describes capacity of the base box at a given font size.
type Row struct {
	Size         float64
	CharsPerLine int
	MaxLines     int
}

// Table is ordered from largest to smallest size.
type Table []Row

// DefaultTable is shared and must not be modified.
var DefaultTable = Table{
	{Size: 12, CharsPerLine: 85, MaxLines: 13},
	{Size: 11, CharsPerLine: 95, MaxLines: 14},
	{Size: 10, CharsPerLine: 105, MaxLines: 16},
	{Size: 9, CharsPerLine: 125, MaxLines: 17},
	{Size: 8, CharsPerLine: 135, MaxLines: 19},
	{Size: 7.5, CharsPerLine: 147, MaxLines: 21},
	{Size: 7, CharsPerLine: 160, MaxLines: 22},
}

// Geometry is size of a text box in inches. Zero dimension means unknown.
type Geometry struct {
	Width  float64
	Height float64
}

// GeometryFromEMU converts box extents to inches.
func GeometryFromEMU(cx, cy float64) Geometry {
	return Geometry{Width: cx / EMUPerInch, Height: cy / EMUPerInch}
}

func (g Geometry) String() string {
	return fmt.Sprintf("%.2fx%.2fin", g.Width, g.Height)
}

// Fitter computes font sizes. It is immutable and safe for concurrent use.
type Fitter struct {
	table        Table
	baseW, baseH float64
}

var defaultFitter = &Fitter{table: DefaultTable, baseW: BaseWidth, baseH: BaseHeight}

// Default returns fitter using DefaultTable.
func Default() *Fitter {
	return defaultFitter
}

// New validates table and creates fitter for it.
func New(table Table, baseW, baseH float64) (*Fitter, error) {
	if len(table) == 0 {
		return nil, errors.New("font size table is empty")
	}
	if baseW <= 0 || baseH <= 0 {
		return nil, fmt.Errorf("invalid base box %.2fx%.2f", baseW, baseH)
	}
	for i, r := range table {
		if r.Size <= 0 || r.CharsPerLine <= 0 || r.MaxLines <= 0 {
			return nil, fmt.Errorf("invalid font size table row %d: %+v", i, r)
		}
		if i > 0 && r.Size >= table[i-1].Size {
			return nil, fmt.Errorf("font size table is not ordered by descending size at row %d", i)
		}
	}
	return &Fitter{table: table, baseW: baseW, baseH: baseH}, nil
}

// Largest returns the largest size in the table.
func (f *Fitter) Largest() float64 {
	return f.table[0].Size
}

// Smallest returns the smallest size in the table.
func (f *Fitter) Smallest() float64 {
	return f.table[len(f.table)-1].Size
}

// Fit returns the largest size at which text fits into the box. Nil box (or
// unknown dimension) uses base box. When nothing fits smallest size is
// returned.
func (f *Fitter) Fit(text string, box *Geometry) float64 {
	if len(text) == 0 {
		return f.Largest()
	}

	ws, hs := 1.0, 1.0
	if box != nil {
		if box.Width > 0 {
			ws = box.Width / f.baseW
		}
		if box.Height > 0 {
			hs = box.Height / f.baseH
		}
	}

	lines := lineLengths(text)
	for _, r := range f.table {
		cpl := int(float64(r.CharsPerLine) * ws)
		maxLines := int(float64(r.MaxLines) * hs)
		if wrapped(lines, cpl) <= maxLines {
			return r.Size
		}
	}
	return f.Smallest()
}

// lineLengths splits text on line breaks and returns number of characters in
// every literal line.
func lineLengths(text string) []int {
	text = norm.NFC.String(text)
	parts := strings.Split(text, "\n")
	lens := make([]int, len(parts))
	for i, p := range parts {
		lens[i] = utf8.RuneCountInString(strings.TrimSuffix(p, "\r"))
	}
	return lens
}

// wrapped counts lines after wrapping at cpl characters. Empty line takes a
// line, non-empty line could not be placed at all when cpl is 0.
func wrapped(lines []int, cpl int) int {
	total := 0
	for _, n := range lines {
		switch {
		case n == 0:
			total++
		case cpl <= 0:
			return math.MaxInt
		default:
			total += (n + cpl - 1) / cpl
		}
	}
	return total
}
