// Package archive builds safe Walk abstraction on top of "archive/zip" for
// office document packages.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// MaxPartSize limits uncompressed size of a single package part.
const MaxPartSize = 256 << 20

// WalkFunc is the type of the function called for each file in archive
// visited by Walk. If an error is returned, processing stops.
type WalkFunc func(file *zip.File) error

// Walk walks all files in the archive file which names start with prefix.
func Walk(archive, prefix string, walkFn WalkFunc) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	return walk(r.File, prefix, walkFn)
}

// WalkBytes is Walk for in-memory archive.
func WalkBytes(data []byte, prefix string, walkFn WalkFunc) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}
	return walk(r.File, prefix, walkFn)
}

// Entries with path traversal components ("..") or absolute paths fail whole
// walk.
func walk(files []*zip.File, prefix string, walkFn WalkFunc) error {
	for _, f := range files {
		name := f.FileHeader.Name
		if !isSafePath(name) {
			return fmt.Errorf("zip entry %q: unsafe path (absolute or contains path traversal)", name)
		}
		if !f.FileInfo().IsDir() && strings.HasPrefix(name, prefix) {
			if err := walkFn(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Part is a single file of a package.
type Part struct {
	Name   string
	Method uint16
	Data   []byte
}

// ReadParts loads all package parts preserving their order.
func ReadParts(data []byte) ([]Part, error) {
	var parts []Part
	err := WalkBytes(data, "", func(f *zip.File) error {
		if f.UncompressedSize64 > MaxPartSize {
			return fmt.Errorf("zip entry %q is too large (%d bytes)", f.Name, f.UncompressedSize64)
		}
		content, err := ReadFile(f)
		if err != nil {
			return err
		}
		parts = append(parts, Part{Name: f.Name, Method: f.Method, Data: content})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parts, nil
}

// ReadFile reads content of archive entry, no more than MaxPartSize bytes.
func ReadFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("zip entry %q: %w", f.Name, err)
	}
	defer rc.Close()

	content, err := io.ReadAll(io.LimitReader(rc, MaxPartSize+1))
	if err != nil {
		return nil, fmt.Errorf("zip entry %q: %w", f.Name, err)
	}
	if len(content) > MaxPartSize {
		return nil, fmt.Errorf("zip entry %q is too large", f.Name)
	}
	return content, nil
}

// WriteParts serializes parts into new archive.
func WriteParts(w io.Writer, parts []Part) error {
	zw := zip.NewWriter(w)
	for _, p := range parts {
		method := p.Method
		if method != zip.Store {
			method = zip.Deflate
		}
		fw, err := zw.CreateHeader(&zip.FileHeader{Name: p.Name, Method: method})
		if err != nil {
			return fmt.Errorf("zip entry %q: %w", p.Name, err)
		}
		if _, err := fw.Write(p.Data); err != nil {
			return fmt.Errorf("zip entry %q: %w", p.Name, err)
		}
	}
	return zw.Close()
}

// isSafePath returns false for paths that could escape the extraction
// directory: absolute paths and those containing ".." components.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return false
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
