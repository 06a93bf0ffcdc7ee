package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ralphx/ralphx/internal/claim"
	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/credential"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/internal/eventbus"
	"github.com/ralphx/ralphx/internal/executor"
	"github.com/ralphx/ralphx/internal/llmadapter"
	"github.com/ralphx/ralphx/internal/metrics"
	"github.com/ralphx/ralphx/internal/prompt"
	"github.com/ralphx/ralphx/internal/resource"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

// newRunCommand implements `ralphx run <loop>`: activate one loop, driving
// iterations until a limit or a stop request, the same assembly the
// (out-of-scope) HTTP collaborator's own run-trigger would perform.
func newRunCommand(projectDir, logLevel *string) *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <loop>",
		Short: "Activate a loop and run iterations until a limit or stop request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoop(*projectDir, *logLevel, args[0], quiet)
		},
	}
	cmd.Flags().BoolVar(&quiet, "quiet", false, "suppress the live progress bar")
	return cmd
}

func runLoop(projectDir, logLevel, loopName string, quiet bool) error {
	e, err := openEnv(projectDir, logLevel)
	if err != nil {
		return err
	}
	defer e.close()

	loop, err := config.LoadLoop(projectDir, loopName)
	if err != nil {
		return err
	}

	ctx, cancel := background()
	defer cancel()

	active, err := e.store.ActiveRuns(ctx, loopName)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return apperrors.NewValidationError(fmt.Sprintf("loop %q already has an active/paused run (%s)", loopName, active[0].ID))
	}

	run := &domain.Run{
		ID: uuid.NewString(), LoopName: loopName, Status: domain.RunActive,
		StartedAt: time.Now().UTC(), ExecutorPID: os.Getpid(),
	}
	if err := e.store.CreateRun(ctx, run); err != nil {
		return err
	}

	bus := eventbus.NewInMemoryBus(e.logger, 256)
	defer bus.Close()

	mc := metrics.New()
	mc.Attach(bus)

	credManager := credential.NewManager(e.store, nil, e.cfg.Credential, projectDir, e.logger)
	adapter := llmadapter.New(e.cfg.Adapter, credManager, e.logger)
	claimEngine := claim.NewEngine(e.store, e.logger)
	resourceManager := resource.NewManager(e.store, projectDir, nil, e.logger)
	promptBuilder := prompt.NewBuilder(e.store, resourceManager, projectDir, e.logger)

	slug := strings.ReplaceAll(filepath.Clean(projectDir), string(os.PathSeparator), "-")
	exec := executor.New(e.store, claimEngine, promptBuilder, adapter, bus, e.logger, projectDir, slug, loop, run)

	bar := newRunProgressBar(loop, quiet, e.color)
	bus.Subscribe(eventbus.EventTypeIterationFinished, func(_ context.Context, ev eventbus.Event) {
		payload, ok := ev.Payload().(eventbus.IterationFinishedPayload)
		if !ok {
			return
		}
		_ = bar.Add(1)
		if !payload.Success && payload.ErrorCode != "" {
			e.warn("iteration failed: %s", payload.ErrorCode)
		}
	})

	go func() {
		<-ctx.Done()
		exec.Stop()
	}()

	if err := exec.Run(ctx); err != nil {
		bar.Close()
		return err
	}
	bar.Close()
	e.ok("run %s finished", run.ID)
	return nil
}

func newRunProgressBar(loop *config.Loop, quiet, useColor bool) *progressbar.ProgressBar {
	max := int64(loop.Limits.MaxIterations)
	if max <= 0 {
		max = -1 // indeterminate spinner when there's no iteration ceiling
	}
	if quiet {
		return progressbar.DefaultSilent(max)
	}
	opts := []progressbar.Option{
		progressbar.OptionSetDescription(fmt.Sprintf("%s iterations", loop.Name)),
		progressbar.OptionSetWriter(os.Stderr),
	}
	if !useColor {
		opts = append(opts, progressbar.OptionSetPredictTime(false))
	}
	return progressbar.NewOptions64(max, opts...)
}
