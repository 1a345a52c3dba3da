package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"cardgen/progress"
	"cardgen/render"
	"cardgen/state"
)

// Render renders all cards of a group into a single job: tabular export,
// optional editable document and flattened document.
func Render(ctx context.Context, cmd *cli.Command) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("render")

	name := cmd.String("template")
	if len(name) == 0 {
		return errors.New("no template has been specified")
	}

	src, err := openSource(cmd)
	if err != nil {
		return err
	}
	defer src.Close()

	group := cmd.String("group")
	cards, err := src.Cards(ctx, group, false)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		log.Warn("No cards to render, nothing to do", zap.String("group", group))
		return nil
	}

	flags := render.Flags{
		ExportEditable: cmd.Bool("editable"),
		Alphabetical:   cmd.Bool("alphabetical"),
		CSVOnly:        cmd.Bool("csv-only"),
	}

	b, err := prepareBackend(ctx, env, name, src, group, flags.CSVOnly)
	if err != nil {
		return err
	}

	dst, err := destination(cmd, env.Cfg.Output.BulkDir, log)
	if err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("unable to generate job id: %w", err)
	}
	out, err := render.OutputName(env.Cfg.Output.NameTemplate, render.NameValues{
		Template: b.entry.Name,
		Now:      env.Now(),
		JobID:    id.String(),
		Cards:    len(cards),
	}, env.Cfg.Output.FileNameTransliterate)
	if err != nil {
		return err
	}

	job := render.Job{
		ID:         id.String(),
		Cards:      cards,
		TemplateID: b.templateID(),
		Variants:   b.variants,
		Output:     filepath.Join(dst, out),
		Flags:      flags,
	}
	if _, err := os.Stat(job.Output + progress.Ext); err == nil {
		return fmt.Errorf("job %q already exists in %s", out, dst)
	}

	res, err := b.renderer.Render(ctx, job)
	storeJob(env, &job)
	if err != nil {
		return err
	}

	for _, note := range res.Notes {
		log.Warn("Optional export skipped", zap.String("note", note))
	}
	log.Info("Cards rendered", zap.String("job", res.JobID), zap.Int("cards", len(cards)), zap.Strings("artifacts", res.Artifacts))
	if len(res.CopyID) > 0 {
		log.Info("Working copy retained", zap.String("copy", res.CopyID))
	}
	return nil
}

// storeJob puts whatever job left behind into debug report.
func storeJob(env *state.LocalEnv, job *render.Job) {
	if env.Rpt == nil {
		return
	}
	var paths []string
	for _, f := range job.Formats() {
		paths = append(paths, job.Output+f.Ext())
	}
	env.Rpt.StoreArtifacts("job", paths...)
	if err := env.Rpt.StoreCopy("job/progress", job.Output+progress.Ext); err != nil {
		env.Log.Debug("Unable to store progress in report", zap.Error(err))
	}
}
