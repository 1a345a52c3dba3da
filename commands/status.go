package commands

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"cardgen/catalog"
	"cardgen/progress"
	"cardgen/state"
)

// Status lists jobs in output directory or follows progress of a single job.
func Status(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)
	log := env.Log.Named("status")

	dir := cmd.Args().Get(0)
	if len(dir) == 0 {
		dir = env.Cfg.Output.BulkDir
	}

	if name := cmd.String("follow"); len(name) > 0 {
		path := filepath.Join(dir, strings.TrimSuffix(name, progress.Ext)+progress.Ext)
		log.Info("Following job progress", zap.String("file", path))
		return progress.Follow(ctx, path, func(rec *progress.Record) {
			log.Info("Progress", zap.String("job", name), zap.String("line", rec.Last))
		})
	}

	list, err := progress.List(dir, cmd.Duration("stall"))
	if err != nil {
		return err
	}
	if len(list) == 0 {
		log.Info("No jobs found", zap.String("dir", dir))
		return nil
	}
	return writeStatus(cmd.Root().Writer, list)
}

func jobState(s *progress.Status) string {
	switch {
	case s.Complete:
		return "done"
	case s.Stalled:
		return "stalled"
	default:
		return "running"
	}
}

func writeStatus(out io.Writer, list []progress.Status) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSTARTED\tPROGRESS\tSTATE\tLAST")
	for i := range list {
		s := &list[i]
		started := "-"
		if !s.Started.IsZero() {
			started = s.Started.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s%%\t%s\t%s\n", s.Name, started, progress.FormatPercent(s.Percent), jobState(s), s.Last)
	}
	return w.Flush()
}

// Templates lists catalog with variants of every template.
func Templates(ctx context.Context, cmd *cli.Command) error {
	env := state.EnvFromContext(ctx)

	cat, err := catalog.Open(env.Cfg.Catalog.Dir)
	if err != nil {
		return err
	}
	return writeTemplates(cmd.Root().Writer, cat.List())
}

func writeTemplates(out io.Writer, entries []*catalog.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEMPLATE\tLOCAL\tREMOTE\tVARIANTS")
	for _, e := range entries {
		names := make([]string, 0, len(e.Variants))
		for _, v := range e.Variants {
			names = append(names, e.VariantName(v.ID))
		}
		local, remote := "no", "no"
		if len(e.Path) > 0 {
			local = "yes"
		}
		if len(e.RemoteID) > 0 {
			remote = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, local, remote, strings.Join(names, ", "))
	}
	return w.Flush()
}
