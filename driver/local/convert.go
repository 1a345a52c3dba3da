package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	fixzip "github.com/hidez8891/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cardgen/driver"
	"cardgen/misc"
)

// flatten converts presentation package to pdf using office converter.
func (d *Driver) flatten(ctx context.Context, h *driver.Handle, pptx []byte) (_ []byte, err error) {
	dir, err := os.MkdirTemp("", misc.GetAppName()+"-convert-")
	if err != nil {
		return nil, fmt.Errorf("unable to create conversion directory: %w", err)
	}
	defer func() {
		err = multierr.Append(err, os.RemoveAll(dir))
	}()

	in := filepath.Join(dir, "document.pptx")
	if err := os.WriteFile(in, pptx, 0644); err != nil {
		return nil, fmt.Errorf("unable to prepare conversion: %w", err)
	}

	cctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	d.log.Debug("Converting working copy", zap.String("copy", h.ID), zap.Int("size", len(pptx)))
	if err := d.convert(cctx, in, dir); err != nil {
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("conversion timed out after %s: %w", d.opts.Timeout, err)
		}
		return nil, err
	}

	out := filepath.Join(dir, "document.pdf")
	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("converter did not produce document: %w", err)
	}
	return data, nil
}

func profileURL(dir string) string {
	p := filepath.ToSlash(dir)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

func (d *Driver) runConverter(ctx context.Context, in, outDir string) error {
	args := slices.Clone(d.opts.Args)
	args = append(args,
		// private profile, shared one could be locked by running office
		"-env:UserInstallation="+profileURL(filepath.Join(outDir, "profile")),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", outDir,
		in)

	cmd := exec.CommandContext(ctx, d.opts.Converter, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	d.log.Debug("Starting converter", zap.String("converter", d.opts.Converter), zap.Strings("args", args))

	out, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("unable to redirect converter output: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start converter: %w", err)
	}

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		d.log.Debug("Converter", zap.String("stdout", scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		d.log.Warn("Converter stdout pipe broken", zap.Error(err))
	}

	if err := cmd.Wait(); err != nil {
		if stderr.Len() > 0 {
			d.log.Warn("Converter", zap.String("stderr", stderr.String()))
		}
		return fmt.Errorf("converter returned error: %w", err)
	}
	return nil
}

// fixZip rewrites package without data descriptors, some consumers of
// office documents do not handle them.
func fixZip(data []byte) (_ []byte, err error) {
	tmp, err := os.CreateTemp("", misc.GetAppName()+"-pkg-*.pptx")
	if err != nil {
		return nil, fmt.Errorf("unable to create temporary package: %w", err)
	}
	defer func() {
		err = multierr.Append(err, os.Remove(tmp.Name()))
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("unable to write temporary package: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("unable to write temporary package: %w", err)
	}

	r, err := fixzip.OpenReader(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("unable to read package: %w", err)
	}
	defer r.Close()

	buf := new(bytes.Buffer)
	w := fixzip.NewWriter(buf)
	for _, file := range r.File {
		// unset data descriptor flag.
		file.Flags &= ^fixzip.FlagDataDescriptor

		if err := w.CopyFile(file); err != nil {
			w.Close()
			return nil, fmt.Errorf("unable to rewrite package: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("unable to rewrite package: %w", err)
	}
	return buf.Bytes(), nil
}
