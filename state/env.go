// Package state defines shared program state.
package state

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cardgen/common"
	"cardgen/config"
)

type envKey struct{}

// LocalEnv keeps everything program needs in a single place.
type LocalEnv struct {
	Cfg *config.Config
	Rpt *config.Report
	Log *zap.Logger

	// Metrics collects job metrics for the whole run, pushed on exit when
	// push gateway is configured.
	Metrics *prometheus.Registry

	// used by render and card subcommands
	Driver common.DriverKind
	Now    func() time.Time

	start         time.Time
	restoreStdLog func()
}

func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		start:   time.Now(),
		Metrics: prometheus.NewRegistry(),
		Now:     time.Now,
	}
}

func EnvFromContext(ctx context.Context) *LocalEnv {
	if env, ok := ctx.Value(envKey{}).(*LocalEnv); ok {
		return env
	}
	// this should never happen
	panic("localenv not found in context")
}

func ContextWithEnv(ctx context.Context) context.Context {
	return context.WithValue(ctx, envKey{}, newLocalEnv())
}

func (e *LocalEnv) Uptime() time.Duration {
	return time.Since(e.start)
}

// DriverKind returns requested driver, command line takes precedence over
// configuration.
func (e *LocalEnv) DriverKind() common.DriverKind {
	if e.Driver != common.DriverKindAuto || e.Cfg == nil {
		return e.Driver
	}
	return e.Cfg.Driver.Kind
}

func (e *LocalEnv) RedirectStdLog() {
	if e.Log == nil {
		return
	}
	e.restoreStdLog = zap.RedirectStdLog(e.Log.Named("stdlog"))
}

func (e *LocalEnv) RestoreStdLog() {
	if e.Log != nil {
		_ = e.Log.Sync()
	}
	if e.restoreStdLog != nil {
		e.restoreStdLog()
	}
}
