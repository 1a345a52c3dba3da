package commands

import (
	"context"
	"errors"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"cardgen/render"
	"cardgen/state"
)

// Card renders a single card, or its preview on every template variant, into
// its own flattened document.
func Card(ctx context.Context, cmd *cli.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	env := state.EnvFromContext(ctx)
	log := env.Log.Named("card")

	id := cmd.String("id")
	if len(id) == 0 {
		return errors.New("no card id has been specified")
	}

	src, err := openSource(cmd)
	if err != nil {
		return err
	}
	defer src.Close()

	c, err := src.Card(ctx, id)
	if err != nil {
		return err
	}

	// cards are rendered with template of their group by default
	name := cmd.String("template")
	if len(name) == 0 {
		name = c.Group
	}
	if len(name) == 0 {
		return errors.New("card has no group, template must be specified")
	}

	b, err := prepareBackend(ctx, env, name, src, c.Group, false)
	if err != nil {
		return err
	}

	dst, err := destination(cmd, env.Cfg.Output.SingleDir, log)
	if err != nil {
		return err
	}

	req := render.SingleCard{
		Card:        *c,
		Template:    b.entry.Name,
		TemplateID:  b.templateID(),
		Variants:    b.variants,
		VariantName: b.entry.VariantName,
		Dir:         dst,
		Refresh:     cmd.Bool("refresh"),
	}

	var path string
	if cmd.Bool("preview") {
		path, err = b.renderer.Preview(ctx, req)
	} else {
		path, err = b.renderer.Single(ctx, req)
	}
	if err != nil {
		return err
	}
	env.Rpt.StoreArtifacts("card", path)

	log.Info("Card document ready", zap.String("card", c.ID), zap.String("location", path))
	return nil
}
