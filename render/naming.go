package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/gosimple/slug"

	"cardgen/config"
	"cardgen/progress"
)

// NameValues are available to output name template.
type NameValues struct {
	Context  string
	Template string
	Now      time.Time
	JobID    string
	Cards    int
}

// DefaultName is used when name template is empty or cannot be expanded.
func DefaultName(template string, now time.Time) string {
	return template + " " + now.Format(progress.StampLayout)
}

// OutputName expands output name template into a single cleaned file name
// (without extension). Path separators produced by template are dropped, job
// artifacts always stay in output directory.
func OutputName(field string, values NameValues, transliterate bool) (string, error) {
	name := DefaultName(values.Template, values.Now)
	if len(field) > 0 {
		values.Context = string(config.OutputNameTemplateFieldName)
		tmpl, err := template.New(values.Context).Funcs(sprig.FuncMap()).Parse(field)
		if err != nil {
			return "", fmt.Errorf("unable to parse template field %s: %w", values.Context, err)
		}
		buf := new(bytes.Buffer)
		if err := tmpl.Execute(buf, values); err != nil {
			return "", fmt.Errorf("unable to expand template field %s: %w", values.Context, err)
		}
		name = strings.TrimSpace(buf.String())
	}
	if transliterate {
		name = slug.Make(name)
	}
	return config.CleanFileName(name), nil
}
