package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"cardgen/commands"
	"cardgen/common"
	"cardgen/config"
	"cardgen/misc"
	"cardgen/render"
	"cardgen/state"
)

// initializeAppContext prepares application context before command execution but
// after command line has been parsed
func initializeAppContext(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	var err error

	if cmd.NArg() == 0 {
		// nothing to do, just return
		return ctx, nil
	}

	env := state.EnvFromContext(ctx)

	configFile := cmd.String("config")
	if env.Cfg, err = config.LoadConfiguration(configFile); err != nil {
		return ctx, fmt.Errorf("unable to prepare configuration: %w", err)
	}
	if cmd.Bool("debug") {
		if env.Rpt, err = env.Cfg.Reporting.Prepare(); err != nil {
			return ctx, fmt.Errorf("unable to prepare debug reporter: %w", err)
		}
		if len(configFile) > 0 {
			// secrets are masked by Dump
			if data, err := config.Dump(env.Cfg); err == nil {
				env.Rpt.StoreData(fmt.Sprintf("config/%s", filepath.Base(configFile)), data)
			}
		}
	}
	if env.Log, err = env.Cfg.Logging.Prepare(env.Rpt); err != nil {
		return ctx, fmt.Errorf("unable to prepare logs: %w", err)
	}
	env.RedirectStdLog()

	if name := cmd.String("driver"); len(name) > 0 {
		if env.Driver, err = common.ParseDriverKind(name); err != nil {
			return ctx, fmt.Errorf("unknown driver requested: %w", err)
		}
	}

	env.Log.Debug("Program started", zap.Strings("args", os.Args), zap.String("ver", misc.GetVersion()), zap.String("runtime", runtime.Version()), zap.String("hash", misc.GetGitHash()))

	if env.Rpt != nil {
		env.Log.Info("Creating debug report", zap.String("location", env.Rpt.Name()))
	}
	if len(configFile) == 0 && env.Log != nil {
		env.Log.Info("Using defaults (no configuration file)")
	}
	return ctx, nil
}

func destroyAppContext(ctx context.Context, cmd *cli.Command) (err error) {
	env := state.EnvFromContext(ctx)

	if env.Cfg != nil && len(env.Cfg.Metrics.PushgatewayURL) > 0 {
		// run context may be canceled already, metrics of interrupted job are still useful
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if er := render.PushMetrics(pctx, env.Cfg.Metrics.PushgatewayURL, env.Cfg.Metrics.Job, env.Metrics); er != nil && env.Log != nil {
			env.Log.Warn("Metrics were not pushed", zap.Error(er))
		}
		cancel()
	}

	if env.Log != nil {
		env.Log.Debug("Program ended", zap.Duration("elapsed", env.Uptime()), zap.Strings("parsed args", cmd.Args().Slice()))
	}

	// close logging
	env.RestoreStdLog()

	// log is synced now and result can be used in report if necessary, errors
	// must be reported directly to stderr from now on
	if env.Rpt != nil {
		if er := env.Rpt.Close(); er != nil {
			err = multierr.Append(err, fmt.Errorf("unable to close debug report: %w", er))
		}
	}
	// reporting is closed now - remove empty panic file if any
	if env.Cfg != nil && len(env.Cfg.Logging.FileLogger.Destination) > 0 {
		debug.SetCrashOutput(nil, debug.CrashOptions{})
		fname := filepath.Join(filepath.Dir(env.Cfg.Logging.FileLogger.Destination), misc.GetAppName()+"-panic.log")
		if fi, er := os.Stat(fname); er == nil && fi.Size() == 0 {
			if er := os.Remove(fname); er != nil {
				err = multierr.Append(err, fmt.Errorf("unable to remove empty panic log file '%s': %w", fname, er))
			}
		}
	}
	return
}

// Subcommands return regular errors, cli.Exit() is never used.
var errWasHandled bool

// this is called before appContext is destroyed, so we have a chance to
// properly log any error from subcommand
func exitErrHandler(ctx context.Context, _ *cli.Command, err error) {
	env := state.EnvFromContext(ctx)

	if env.Log != nil {
		env.Log.Error("Program ended with error", zap.Error(err))
		errWasHandled = true
	}
}

func usageErrorHandler(_ context.Context, _ *cli.Command, err error, _ bool) error {
	// reported either by exitErrHandler or on exit directly to stderr
	return err
}

func subcommandNotFoundHandler(ctx context.Context, _ *cli.Command, name string) {
	state.EnvFromContext(ctx).Log.Warn("Unknown command, nothing to do", zap.String("command", name))
}

var sourceFlags = []cli.Flag{
	&cli.StringFlag{Name: "cards", Usage: "read cards from tabular `FILE` (CSV)"},
	&cli.StringFlag{Name: "db", Usage: "read cards from message database `FILE` (SQLite)"},
}

func main() {

	// rendering may take a long time, interrupt leaves working copy and
	// incomplete progress behind
	ctx, stop := signal.NotifyContext(state.ContextWithEnv(context.Background()), os.Interrupt, syscall.SIGTERM)

	app := &cli.Command{
		Name:            misc.GetAppName(),
		Usage:           "bulk rendering of personalized cards from presentation templates",
		Version:         misc.GetVersion() + " (" + runtime.Version() + ") : " + misc.GetGitHash(),
		HideHelpCommand: true,
		Before:          initializeAppContext,
		After:           destroyAppContext,
		OnUsageError:    usageErrorHandler,
		ExitErrHandler:  exitErrHandler,
		CommandNotFound: subcommandNotFoundHandler,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, DefaultText: "", Usage: "load configuration from `FILE` (YAML)"},
			&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}, Usage: "changes program behavior to help troubleshooting, produces report archive"},
			&cli.StringFlag{Name: "driver", DefaultText: "from configuration",
				Usage: "rendering backend `KIND` (supported: " + strings.Join(common.DriverKindNames(), ", ") + ")"},
		},
		Commands: []*cli.Command{
			{
				Name:         "render",
				Usage:        "Renders all cards of a group into tabular, editable and flattened documents",
				OnUsageError: usageErrorHandler,
				Action:       commands.Render,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "catalog template `NAME`"},
					&cli.StringFlag{Name: "group", Aliases: []string{"g"}, Usage: "render only cards of message `GROUP`"},
					&cli.BoolFlag{Name: "editable", Aliases: []string{"e"}, Usage: "also export editable document (skipped when too large)"},
					&cli.BoolFlag{Name: "alphabetical", Aliases: []string{"a"}, Usage: "order cards by recipient email"},
					&cli.BoolFlag{Name: "csv-only", Usage: "produce tabular export only, rendering backend is not used"},
				}, sourceFlags...),
				ArgsUsage: "[DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(`%s
DESTINATION:
    output directory, artifact names are derived from output name template
    if absent - configured bulk output directory

Progress of the job is written next to artifacts into "<name>.txt", job is
complete when its last line is "100%%".
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "card",
				Usage:        "Renders single card into its own flattened document",
				OnUsageError: usageErrorHandler,
				Action:       commands.Card,
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "id", Usage: "card `ID`"},
					&cli.StringFlag{Name: "template", Aliases: []string{"t"}, Usage: "catalog template `NAME`, card group if absent"},
					&cli.BoolFlag{Name: "preview", Usage: "render card on every template variant"},
					&cli.BoolFlag{Name: "refresh", Usage: "ignore previously rendered document"},
				}, sourceFlags...),
				ArgsUsage: "[DESTINATION]",
				CustomHelpTemplate: fmt.Sprintf(`%s
DESTINATION:
    output directory, document is placed into "<template>/<id>.pdf"
    if absent - configured single card output directory
`, cli.CommandHelpTemplate),
			},
			{
				Name:         "status",
				Usage:        "Reports progress of rendering jobs",
				OnUsageError: usageErrorHandler,
				Action:       commands.Status,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "follow", Aliases: []string{"f"}, Usage: "follow progress of job `NAME` until it completes"},
					&cli.DurationFlag{Name: "stall", Value: 10 * time.Minute, Usage: "incomplete jobs silent for this long are reported as stalled"},
				},
				ArgsUsage: "[DIRECTORY]",
			},
			{
				Name:         "templates",
				Usage:        "Lists templates in catalog",
				OnUsageError: usageErrorHandler,
				Action:       commands.Templates,
			},
			{
				Name:  "dumpconfig",
				Usage: "Dumps either default or actual configuration (YAML)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "default", Usage: "output default embedded configuration"},
				},
				OnUsageError: usageErrorHandler,
				Action:       outputConfiguration,
				ArgsUsage:    "DESTINATION",
				CustomHelpTemplate: fmt.Sprintf(`%s

DESTINATION:
    file name to write configuration to, if absent - STDOUT

Produces file with actual "active" configuration values which is composition of
default values and values specified in configuration file. To see default
configuration embedded into the program use --default flag. Secrets are
never written.
`, cli.CommandHelpTemplate),
			},
		},
	}

	var err error
	// NOTE: os.Exit is called at the end of main to set exit code, make sure
	// there are no other deffered functions after that
	defer func() {
		stop()
		if err != nil {
			// It may happen that log is either not set yet (argument parsing) or already closed,
			// report errors to stderr directly
			if !errWasHandled {
				fmt.Fprintf(os.Stderr, "Program ended with error: %v\n", err)
			}
			os.Exit(1)
		}
	}()
	err = app.Run(ctx, os.Args)
}

func outputConfiguration(ctx context.Context, cmd *cli.Command) error {

	env := state.EnvFromContext(ctx)
	if cmd.Args().Len() > 1 {
		env.Log.Warn("Malformed command line, too many destinations", zap.Strings("ignoring", cmd.Args().Slice()[1:]))
	}

	fname := cmd.Args().Get(0)

	var (
		err   error
		data  []byte
		state string
	)

	out := os.Stdout
	if len(fname) > 0 {
		out, err = os.Create(fname)
		if err != nil {
			return fmt.Errorf("unable to create destination file '%s': %w", fname, err)
		}
		defer out.Close()
	}

	if cmd.Bool("default") {
		state = "default"
		data, err = config.Prepare()
	} else {
		state = "actual"
		data, err = config.Dump(env.Cfg)
	}
	if err != nil {
		return fmt.Errorf("unable to get configuration: %w", err)
	}

	if len(fname) == 0 {
		fname = "STDOUT"
	}
	env.Log.Info("Outputing configuration", zap.String("state", state), zap.String("file", fname))

	if _, err = out.Write(data); err != nil {
		return fmt.Errorf("unable to write configuration: %w", err)
	}
	return nil
}
