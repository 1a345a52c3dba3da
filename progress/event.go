// Package progress reports advancement of rendering jobs. Jobs emit typed
// events, File adapter renders them into append-only text file polled by
// readers:
//
//	.csv, .pptx, .pdf
//	0%
//	12.5% duplicating slides (5/40)
//	...
//	100%
//
// First line lists extensions of artifacts job is going to produce, every
// following line is "<percent>%[ <note>]". Percent never decreases and lines
// are never rewritten.
package progress

import (
	"math"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Stage of a rendering job.
type Stage int

const (
	StageStarted Stage = iota
	StageTabular
	StageDuplicating
	StageSubstituting
	StageReordering
	StageCleaning
	StageExportEditable
	StageExportFlattened
	StageDone
)

var stageNames = [...]string{
	"started",
	"tabular",
	"duplicating",
	"substituting",
	"reordering",
	"cleaning",
	"export-editable",
	"export-flattened",
	"done",
}

func (s Stage) String() string {
	if s >= 0 && int(s) < len(stageNames) {
		return stageNames[s]
	}
	return "Stage(" + strconv.Itoa(int(s)) + ")"
}

// Event is a single progress report.
type Event struct {
	Stage   Stage
	Percent float64
	Note    string
}

// Line renders event in the text format.
func (e Event) Line() string {
	var sb strings.Builder
	sb.WriteString(FormatPercent(e.Percent))
	sb.WriteByte('%')
	if len(e.Note) > 0 {
		sb.WriteByte(' ')
		// notes must never break line structure
		sb.WriteString(strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' {
				return ' '
			}
			return r
		}, e.Note))
	}
	return sb.String()
}

// FormatPercent rounds to two decimals and drops trailing zeros.
func FormatPercent(p float64) string {
	return strconv.FormatFloat(math.Round(p*100)/100, 'f', -1, 64)
}

// Band is a percent range allotted to a stage.
type Band struct {
	From, To float64
}

// At linearly interpolates position done out of total within band.
func (b Band) At(done, total int) float64 {
	if total <= 0 {
		return b.To
	}
	done = min(max(done, 0), total)
	return b.From + (b.To-b.From)*float64(done)/float64(total)
}

// Sink consumes progress events.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts function to Sink.
type SinkFunc func(Event) error

func (f SinkFunc) Emit(e Event) error {
	return f(e)
}

// Discard drops all events.
var Discard Sink = SinkFunc(func(Event) error { return nil })

type tee []Sink

func (t tee) Emit(e Event) (err error) {
	for _, s := range t {
		err = multierr.Append(err, s.Emit(e))
	}
	return err
}

// Tee delivers every event to all sinks.
func Tee(sinks ...Sink) Sink {
	var res tee
	for _, s := range sinks {
		if s != nil {
			res = append(res, s)
		}
	}
	return res
}

// Log sink writes events to the logger at debug level.
func Log(log *zap.Logger) Sink {
	return SinkFunc(func(e Event) error {
		log.Debug("Progress", zap.Stringer("stage", e.Stage), zap.Float64("percent", e.Percent), zap.String("note", e.Note))
		return nil
	})
}
