// Package commands implements program subcommands on top of the rendering
// pipeline.
package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"cardgen/catalog"
	"cardgen/common"
	"cardgen/config"
	"cardgen/driver"
	"cardgen/driver/local"
	"cardgen/driver/remote"
	"cardgen/render"
	"cardgen/source"
	"cardgen/state"
	"cardgen/variant"
)

// selectDriver resolves "auto" into concrete backend: local converter when it
// could be found, remote API otherwise.
func selectDriver(kind common.DriverKind, cfg *config.Config, available func(string) bool) common.DriverKind {
	if kind != common.DriverKindAuto {
		return kind
	}
	if available(cfg.Local.Converter) {
		return common.DriverKindLocal
	}
	return common.DriverKindRemote
}

func newDriver(ctx context.Context, env *state.LocalEnv, kind common.DriverKind) (driver.Driver, error) {
	cfg := env.Cfg
	switch kind {
	case common.DriverKindLocal:
		if !local.Available(cfg.Local.Converter) {
			env.Log.Warn("Office converter not found, flattened export will fail", zap.String("converter", cfg.Local.Converter))
		}
		return local.New(local.Options{
			Log:          env.Log,
			Converter:    cfg.Local.Converter,
			Args:         cfg.Local.ConverterArgs,
			Timeout:      cfg.Local.ConvertTimeout,
			BatchCeiling: cfg.Local.BatchCeiling,
			WorkDir:      cfg.Local.WorkDir,
			FixZip:       cfg.Local.FixZip,
		}), nil
	case common.DriverKindRemote:
		if !cfg.Remote.HasRemoteCredentials() {
			env.Log.Debug("No remote credentials configured, using application default credentials")
		}
		return remote.New(ctx, remote.Options{
			Log:               env.Log,
			CredentialsFile:   cfg.Remote.CredentialsFile,
			CredentialsJSON:   []byte(cfg.Remote.CredentialsJSON.Reveal()),
			SharedDriveID:     cfg.Remote.SharedDriveID,
			Endpoint:          cfg.Remote.Endpoint,
			BatchCeiling:      cfg.Remote.BatchCeiling,
			RequestsPerMinute: cfg.Remote.RequestsPerMinute,
			ReadRetries:       cfg.Remote.ReadRetries,
			RetryBase:         cfg.Remote.RetryBase,
		})
	default:
		return nil, fmt.Errorf("unsupported driver %s", kind)
	}
}

// backend is everything needed to render cards with a single template.
type backend struct {
	kind     common.DriverKind
	entry    *catalog.Entry
	variants *variant.Map
	renderer *render.Renderer
}

// prepareBackend looks up template, builds its variant map and creates
// renderer. When noDriver is set renderer never touches rendering backend.
func prepareBackend(ctx context.Context, env *state.LocalEnv, name string, src source.Source, group string, noDriver bool) (*backend, error) {
	cat, err := catalog.Open(env.Cfg.Catalog.Dir)
	if err != nil {
		return nil, err
	}
	entry, err := cat.Get(name)
	if err != nil {
		return nil, err
	}

	b := &backend{entry: entry}
	if b.variants, err = variantMap(ctx, entry, src, group); err != nil {
		return nil, err
	}

	var drv driver.Driver
	if !noDriver {
		b.kind = selectDriver(env.DriverKind(), env.Cfg, local.Available)
		if len(entry.TemplateID(b.kind)) == 0 {
			return nil, fmt.Errorf("template %q cannot be used by %s driver: %w", entry.Name, b.kind, render.ErrNoTemplate)
		}
		if err := checkUnits(entry, b.variants); err != nil {
			return nil, err
		}
		if drv, err = newDriver(ctx, env, b.kind); err != nil {
			return nil, err
		}
		env.Log.Debug("Rendering backend selected", zap.Stringer("driver", b.kind), zap.String("template", entry.Name))
	}

	b.renderer = render.New(drv, render.Options{
		Log:         env.Log,
		Metrics:     render.NewMetrics(env.Metrics),
		Now:         env.Now,
		CacheSingle: env.Cfg.Output.CacheSingle,
	})
	return b, nil
}

func (b *backend) templateID() string {
	return b.entry.TemplateID(b.kind)
}

// variantMap prefers variants described next to template, message source is
// asked only when template does not describe any.
func variantMap(ctx context.Context, entry *catalog.Entry, src source.Source, group string) (*variant.Map, error) {
	if len(entry.Variants) > 0 || src == nil {
		return entry.VariantMap()
	}
	vs, err := src.Variants(ctx, group)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(vs))
	for _, v := range vs {
		ids = append(ids, v.ID)
	}
	if len(vs) > 0 {
		// keep names for previews
		entry.Variants = vs
	}
	return variant.New(ids...)
}

// checkUnits makes sure local template has a unit for every variant. Remote
// templates are verified by the driver when working copy is opened.
func checkUnits(entry *catalog.Entry, vm *variant.Map) error {
	if len(entry.Path) == 0 {
		return nil
	}
	n, err := entry.CountUnits()
	if err != nil {
		return err
	}
	if n < vm.Len() {
		return fmt.Errorf("template %q has %d slides, %d variants expected", entry.Name, n, vm.Len())
	}
	return nil
}

// openSource opens message source requested on command line.
func openSource(cmd *cli.Command) (source.Source, error) {
	cards, db := cmd.String("cards"), cmd.String("db")
	switch {
	case len(cards) > 0 && len(db) > 0:
		return nil, errors.New("only one of --cards and --db could be specified")
	case len(cards) > 0:
		return source.OpenCSV(cards)
	case len(db) > 0:
		return source.OpenDB(db)
	default:
		return nil, errors.New("no cards source has been specified, use --cards or --db")
	}
}

// destination returns absolute output directory: first argument or
// configured default. Directory is created when necessary.
func destination(cmd *cli.Command, def string, log *zap.Logger) (string, error) {
	dst := cmd.Args().Get(0)
	if len(dst) == 0 {
		dst = def
	}
	if cmd.Args().Len() > 1 {
		log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}
	dst, err := filepath.Abs(dst)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return "", fmt.Errorf("unable to create output directory: %w", err)
	}
	return dst, nil
}
