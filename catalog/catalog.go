// Package catalog provides access to directory of named card templates.
//
// Every template is a presentation package "<name>.pptx" with optional
// sidecar "<name>.yaml" describing its variants and the id of the remote copy
// of the same template:
//
//	remote_id: 1AbCdEf
//	variants:
//	  - id: "12"
//	    name: Winter
//	  - id: "9"
//	    name: Spring
//
// Template units are expected in variant order: unit 0 is the default
// variant, unit N is variant N. A template with only a sidecar (no package)
// could be rendered remotely.
package catalog

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/maruel/natural"
	yaml "gopkg.in/yaml.v3"

	"cardgen/archive"
	"cardgen/common"
	"cardgen/variant"
)

var ErrUnknownTemplate = errors.New("unknown template")

const (
	packageExt = ".pptx"
	sidecarExt = ".yaml"
)

// Variant is a template variant.
type Variant struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type sidecar struct {
	RemoteID string    `yaml:"remote_id"`
	Variants []Variant `yaml:"variants"`
}

// Entry describes a single template.
type Entry struct {
	Name     string
	Path     string
	RemoteID string
	Variants []Variant
}

// TemplateID returns reference to the template understood by driver of the
// requested kind, empty when driver cannot use this template.
func (e *Entry) TemplateID(kind common.DriverKind) string {
	switch kind {
	case common.DriverKindLocal:
		return e.Path
	case common.DriverKindRemote:
		return e.RemoteID
	default:
		return ""
	}
}

// VariantMap builds variant map in template unit order.
func (e *Entry) VariantMap() (*variant.Map, error) {
	ids := make([]string, 0, len(e.Variants))
	for _, v := range e.Variants {
		ids = append(ids, v.ID)
	}
	m, err := variant.New(ids...)
	if err != nil {
		return nil, fmt.Errorf("template %q: %w", e.Name, err)
	}
	return m, nil
}

// VariantName returns human readable name of a variant.
func (e *Entry) VariantName(id string) string {
	for _, v := range e.Variants {
		if v.ID == id {
			if len(v.Name) > 0 {
				return v.Name
			}
			return v.ID
		}
	}
	return id
}

// Catalog is a snapshot of the template directory.
type Catalog struct {
	dir     string
	entries map[string]*Entry
}

// Open scans directory and loads all templates.
func Open(dir string) (*Catalog, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read template catalog: %w", err)
	}

	c := &Catalog{dir: dir, entries: make(map[string]*Entry)}
	get := func(name string) *Entry {
		e, ok := c.entries[name]
		if !ok {
			e = &Entry{Name: name}
			c.entries[name] = e
		}
		return e
	}

	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), "~$") || strings.HasPrefix(f.Name(), ".") {
			// skip office lock files and hidden files
			continue
		}
		ext := strings.ToLower(filepath.Ext(f.Name()))
		name := strings.TrimSuffix(f.Name(), filepath.Ext(f.Name()))
		path := filepath.Join(dir, f.Name())

		switch ext {
		case packageExt:
			get(name).Path = path
		case sidecarExt:
			sc, err := readSidecar(path)
			if err != nil {
				return nil, err
			}
			e := get(name)
			e.RemoteID, e.Variants = sc.RemoteID, sc.Variants
		}
	}
	for _, e := range c.entries {
		if _, err := e.VariantMap(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func readSidecar(path string) (*sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read template description: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc sidecar
	if err := dec.Decode(&sc); err != nil && len(bytes.TrimSpace(data)) > 0 {
		return nil, fmt.Errorf("unable to decode template description %s: %w", filepath.Base(path), err)
	}
	return &sc, nil
}

// Dir returns catalog location.
func (c *Catalog) Dir() string {
	return c.dir
}

// Get returns template by name.
func (c *Catalog) Get(name string) (*Entry, error) {
	if e, ok := c.entries[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
}

// List returns all templates in natural name order.
func (c *Catalog) List() []*Entry {
	res := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		res = append(res, e)
	}
	slices.SortFunc(res, func(a, b *Entry) int {
		switch {
		case a.Name == b.Name:
			return 0
		case natural.Less(a.Name, b.Name):
			return -1
		default:
			return 1
		}
	})
	return res
}

// CountUnits returns number of slides in the template package.
func (e *Entry) CountUnits() (int, error) {
	if len(e.Path) == 0 {
		return 0, fmt.Errorf("template %q has no package", e.Name)
	}
	count := 0
	err := archive.Walk(e.Path, "ppt/slides/slide", func(f *zip.File) error {
		if strings.HasSuffix(f.Name, ".xml") && !strings.Contains(strings.TrimPrefix(f.Name, "ppt/slides/"), "/") {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("template %q: %w", e.Name, err)
	}
	return count, nil
}
