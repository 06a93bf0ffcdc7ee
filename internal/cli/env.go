// Package cli wires every core package into the cobra command tree the
// operator drives: add, projects, loops (list/show/sync/create/delete),
// run, serve, doctor, guardrails, mcp (spec §6 "CLI to operator").
// cmd/cli/main.go does nothing but call cli.NewRootCommand and Execute it;
// every command's actual behavior lives here.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/logging"
	"github.com/ralphx/ralphx/internal/store"
)

// env bundles the config, logger, and open store shared by every
// subcommand that touches a project. Built lazily per-invocation, never
// held across commands, so each `ralphx` process does exactly one unit of
// work and exits — matching the teacher's short-lived CLI-invocation model.
type env struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	projectDir string
	color      bool // true if stdout is a terminal and NO_COLOR is unset
}

func openEnv(projectDir, logLevel string) (*env, error) {
	cfg, err := config.Load(projectDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, OutputPath: "stderr"})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("open project store: %w", err)
	}

	return &env{
		cfg: cfg, logger: logger, store: st, projectDir: projectDir,
		color: isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == "",
	}, nil
}

func (e *env) close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

func (e *env) ok(format string, args ...any) {
	if e.color {
		color.New(color.FgGreen).Fprintf(os.Stdout, "✓ ")
	} else {
		fmt.Fprint(os.Stdout, "OK ")
	}
	fmt.Fprintf(os.Stdout, format+"\n", args...)
}

func (e *env) warn(format string, args ...any) {
	if e.color {
		color.New(color.FgYellow).Fprintf(os.Stderr, "! ")
	} else {
		fmt.Fprint(os.Stderr, "WARN ")
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func (e *env) fail(format string, args ...any) {
	if e.color {
		color.New(color.FgRed).Fprintf(os.Stderr, "✗ ")
	} else {
		fmt.Fprint(os.Stderr, "FAIL ")
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// background returns a context canceled on SIGINT/SIGTERM, used by `run`
// and `doctor` (mirrors the teacher's runServe shutdown-signal wiring).
func background() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()
	return ctx, cancel
}
