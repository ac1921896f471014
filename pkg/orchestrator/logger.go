// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"github.com/pterm/pterm"

	"github.com/pgmakeschemas/pgms/pkg/model"
)

// Logger reports per-host phase progress and, at verbose level 2,
// per-fragment detail.
type Logger interface {
	LogHostStart(host string)
	LogHostComplete(host string)
	LogHostFailed(host string, err error)
	LogPhase(host, phase string)
	LogFragment(host string, i int, meta model.FragmentMeta)
	Info(msg string, args ...any)
}

type ptermLogger struct {
	logger  pterm.Logger
	verbose int
}

// NewLogger returns a Logger backed by pterm's default logger. verbose
// controls per-fragment detail: level 2 or above logs LogFragment calls.
func NewLogger(verbose int) Logger {
	return &ptermLogger{logger: pterm.DefaultLogger, verbose: verbose}
}

// NewNoopLogger returns a Logger that discards everything, for tests and
// --output-only runs that don't want console chatter.
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (l *ptermLogger) LogHostStart(host string) {
	l.logger.Info("starting host", l.logger.Args("host", host))
}

func (l *ptermLogger) LogHostComplete(host string) {
	l.logger.Info("host complete", l.logger.Args("host", host))
}

func (l *ptermLogger) LogHostFailed(host string, err error) {
	l.logger.Error("host failed", l.logger.Args("host", host, "error", err))
}

func (l *ptermLogger) LogPhase(host, phase string) {
	l.logger.Info("phase", l.logger.Args("host", host, "phase", phase))
}

func (l *ptermLogger) LogFragment(host string, i int, meta model.FragmentMeta) {
	if l.verbose < 2 {
		return
	}
	l.logger.Info("fragment", l.logger.Args("host", host, "index", i, "path", meta.FilePath, "kind", meta.FilePathType))
}

func (l *ptermLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.logger.Args(args...))
}

type noopLogger struct{}

func (noopLogger) LogHostStart(string) {}
func (noopLogger) LogHostComplete(string) {}
func (noopLogger) LogHostFailed(string, error) {}
func (noopLogger) LogPhase(string, string) {}
func (noopLogger) LogFragment(string, int, model.FragmentMeta) {}
func (noopLogger) Info(string, ...any) {}
