// Package executor drives one Loop's Run to completion: mode selection,
// the Claim Engine hookup for consumer loops, prompt assembly, the LLM
// Subprocess Adapter invocation, work-item extraction for generator loops,
// limit enforcement, and cooperative pause/stop control (spec §4.5).
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/claim"
	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/internal/eventbus"
	"github.com/ralphx/ralphx/internal/llmadapter"
	"github.com/ralphx/ralphx/internal/prompt"
	"github.com/ralphx/ralphx/pkg/safego"
)

// minCooldown is the floor applied whenever a consumer loop finds nothing
// to claim — prevents a starved loop from burning CPU in a tight poll
// (spec §4.5 step 5, "decrement the iteration counter... sleep
// max(5s, cooldown)").
const minCooldown = 5 * time.Second

// Store is the subset of the Project Store the executor drives directly.
type Store interface {
	UpdateRun(ctx context.Context, id string, updates map[string]any) error
	TouchActivity(ctx context.Context, runID string) error
	IncrementRunCounters(ctx context.Context, runID string, iterations, items int) error
	MarkRunAborted(ctx context.Context, runID, reason string) error
	CreateWorkItem(ctx context.Context, item *domain.WorkItem) error
	CreateSession(ctx context.Context, sess *domain.Session) error
}

// ClaimEngine is the subset of claim.Engine the executor drives.
type ClaimEngine interface {
	SelectAndClaim(ctx context.Context, req claim.SelectRequest) ([]*domain.WorkItem, error)
	Release(ctx context.Context, id, claimer string) (bool, error)
	MarkProcessed(ctx context.Context, id, claimer string) (bool, error)
	MarkFailed(ctx context.Context, id, claimer string) (bool, error)
	Complete(ctx context.Context, id, claimer string, status domain.StructuredStatus, duplicateOf, skipReason string, extra map[string]any) (bool, error)
}

// PromptBuilder is the seam the Prompt Builder fills.
type PromptBuilder interface {
	Build(ctx context.Context, req prompt.Request) (string, error)
}

// Adapter is the seam the LLM Subprocess Adapter fills.
type Adapter interface {
	Stream(ctx context.Context, req llmadapter.ExecuteRequest) (<-chan llmadapter.StreamEvent, error)
}

// Executor drives a single Run for one Loop from its current state to a
// terminal state or a cooperative stop.
type Executor struct {
	store   Store
	claims  ClaimEngine
	prompts PromptBuilder
	adapter Adapter
	bus     eventbus.Bus
	logger  *zap.Logger

	projectDir  string
	projectSlug string
	claimer     string // stable identity this executor claims work items under

	loop *config.Loop
	run  *domain.Run
	rng  *rand.Rand

	mu      sync.Mutex
	paused  bool
	stopped bool
}

// New constructs an Executor for one already-persisted Run (the caller —
// typically the CLI's `run` command — is responsible for calling
// store.CreateRun first and for enforcing "exactly one active Run per
// (project, loop)" via store.ActiveRuns before that).
func New(store Store, claims ClaimEngine, prompts PromptBuilder, adapter Adapter, bus eventbus.Bus, logger *zap.Logger, projectDir, projectSlug string, loop *config.Loop, run *domain.Run) *Executor {
	return &Executor{
		store: store, claims: claims, prompts: prompts, adapter: adapter, bus: bus, logger: logger,
		projectDir: projectDir, projectSlug: projectSlug, claimer: fmt.Sprintf("%s:%d", run.ID, run.ExecutorPID),
		loop: loop, run: run, rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pause cooperatively suspends the executor before its next iteration
// boundary; Resume lifts it. Stop requests termination; the in-flight
// iteration finishes, then the run transitions to aborted.
func (e *Executor) Pause()  { e.mu.Lock(); e.paused = true; e.mu.Unlock() }
func (e *Executor) Resume() { e.mu.Lock(); e.paused = false; e.mu.Unlock() }
func (e *Executor) Stop()   { e.mu.Lock(); e.stopped = true; e.mu.Unlock() }

func (e *Executor) isPaused() bool  { e.mu.Lock(); defer e.mu.Unlock(); return e.paused }
func (e *Executor) isStopped() bool { e.mu.Lock(); defer e.mu.Unlock(); return e.stopped }

// Run executes iterations until a limit is reached, a stop is requested,
// or an unrecoverable error occurs (spec §4.5's state machine and 9-step
// per-iteration procedure).
func (e *Executor) Run(ctx context.Context) error {
	e.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeRunStarted, eventbus.RunStartedPayload{
		RunID: e.run.ID, LoopName: e.loop.Name,
	}))

	started := time.Now()
	consecutiveErrors := 0

	for {
		if e.isStopped() {
			if err := e.store.MarkRunAborted(ctx, e.run.ID, "stop requested"); err != nil {
				return err
			}
			e.publishRunCompleted("aborted", started)
			return nil
		}

		if reason, done := e.limitReached(started, consecutiveErrors); done {
			if err := e.store.UpdateRun(ctx, e.run.ID, map[string]any{
				"status": string(domain.RunCompleted), "completed_at": time.Now().UTC(),
			}); err != nil {
				return err
			}
			e.logger.Info("run reached a limit", zap.String("run_id", e.run.ID), zap.String("reason", reason))
			e.publishRunCompleted("completed", started)
			return nil
		}

		for e.isPaused() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
			}
			if e.isStopped() {
				break
			}
		}
		if e.isStopped() {
			continue
		}

		modeName, mode, err := selectMode(e.loop, e.run, e.rng)
		if err != nil {
			return err
		}

		outcome, err := e.runIteration(ctx, modeName, mode)
		if err != nil {
			return err
		}

		if outcome.skippedIdle {
			// Idle consumer iteration: the iteration budget is not spent
			// (spec §4.5 step 5).
			e.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeIterationFinished, eventbus.IterationFinishedPayload{
				RunID: e.run.ID, Success: true,
			}))
			cooldown := time.Duration(e.loop.Limits.CooldownBetweenIterations) * time.Second
			if cooldown < minCooldown {
				cooldown = minCooldown
			}
			if err := e.sleep(ctx, cooldown); err != nil {
				return err
			}
			continue
		}

		if err := e.store.IncrementRunCounters(ctx, e.run.ID, 1, outcome.itemsCreated); err != nil {
			return err
		}
		e.run.IterationsComplete++
		e.run.ItemsGenerated += outcome.itemsCreated
		if err := e.store.TouchActivity(ctx, e.run.ID); err != nil {
			return err
		}

		if outcome.success {
			consecutiveErrors = 0
			if e.loop.ModeSelection.Strategy == domain.StrategyPhaseAware && mode.Phase == "phase_1" {
				advancePhase1(e.loop, e.run)
				if err := e.store.UpdateRun(ctx, e.run.ID, map[string]any{
					"phase1_complete":   e.run.Phase1Complete,
					"phase1_mode_index": e.run.Phase1ModeIndex,
				}); err != nil {
					return err
				}
			}
		} else {
			consecutiveErrors++
		}

		e.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeIterationFinished, eventbus.IterationFinishedPayload{
			RunID: e.run.ID, Success: outcome.success, ErrorCode: outcome.errorCode, ItemsCreate: outcome.itemsCreated,
		}))

		cooldown := time.Duration(e.loop.Limits.CooldownBetweenIterations) * time.Second
		if err := e.sleep(ctx, cooldown); err != nil {
			return err
		}
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (e *Executor) publishRunCompleted(state string, started time.Time) {
	e.bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventTypeRunCompleted, eventbus.RunCompletedPayload{
		RunID: e.run.ID, LoopName: e.loop.Name, State: state,
		Iterations: e.run.IterationsComplete, Duration: time.Since(started),
	}))
}

// limitReached checks max_iterations, max_runtime_seconds and
// max_consecutive_errors (spec §4.5 step 1); each is off when its value is
// zero or negative.
func (e *Executor) limitReached(started time.Time, consecutiveErrors int) (string, bool) {
	limits := e.loop.Limits

	if max, disabled := config.EffectiveLimit(limits.MaxIterations); !disabled && e.run.IterationsComplete >= max {
		return "max_iterations", true
	}
	if max, disabled := config.EffectiveLimit(limits.MaxRuntimeSeconds); !disabled {
		if time.Since(started) >= time.Duration(max)*time.Second {
			return "max_runtime_seconds", true
		}
	}
	if limits.MaxConsecutiveErrors > 0 && consecutiveErrors >= limits.MaxConsecutiveErrors {
		return "max_consecutive_errors", true
	}
	return "", false
}

type iterationOutcome struct {
	success      bool
	skippedIdle  bool
	itemsCreated int
	errorCode    string
}

// runIteration implements steps 4-9 of spec §4.5's per-iteration procedure.
func (e *Executor) runIteration(ctx context.Context, modeName string, mode config.Mode) (iterationOutcome, error) {
	iteration := e.run.IterationsComplete + 1

	var claimed []*domain.WorkItem
	if e.loop.Type == domain.LoopTypeConsumer && e.loop.ItemTypes != nil && e.loop.ItemTypes.Input != nil {
		input := e.loop.ItemTypes.Input
		var phase *int
		if e.loop.MultiPhase != nil && e.loop.MultiPhase.Enabled && !e.run.Phase1Complete {
			p := 1
			phase = &p
		}
		var err error
		claimed, err = e.claims.SelectAndClaim(ctx, claim.SelectRequest{
			SourceLoop: input.Source, Category: input.Category, Claimer: e.claimer,
			Phase: phase, BatchSize: input.BatchSize, RespectDependencies: input.RespectDependencies,
		})
		if err != nil {
			return iterationOutcome{}, err
		}
		if len(claimed) == 0 {
			return iterationOutcome{skippedIdle: true}, nil
		}
	}

	e.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeIterationStarted, eventbus.IterationStartedPayload{
		RunID: e.run.ID, Iteration: iteration, Mode: modeName, ItemID: soleItemID(claimed),
	}))

	req := prompt.Request{
		Loop: e.loop, Mode: mode, ModeName: modeName, RunID: e.run.ID,
		ProjectSlug: e.projectSlug, Iteration: iteration,
	}
	if len(claimed) == 1 {
		req.ClaimedItem = claimed[0]
	} else if len(claimed) > 1 {
		req.Batch = claimed
	}

	renderedPrompt, err := e.prompts.Build(ctx, req)
	if err != nil {
		e.releaseAll(ctx, claimed)
		return iterationOutcome{}, err
	}

	timeout := time.Duration(mode.Timeout) * time.Second
	events, err := e.adapter.Stream(ctx, llmadapter.ExecuteRequest{
		Prompt: renderedPrompt, Model: mode.Model, Tools: mode.Tools,
		Timeout: timeout, ProjectDir: e.projectDir,
	})
	if err != nil {
		e.releaseAll(ctx, claimed)
		return iterationOutcome{errorCode: "adapter_spawn_failed"}, nil
	}

	result := llmadapter.CollectResult(e.teeToBus(ctx, events))

	sess := &domain.Session{
		ID: uuid.NewString(), RunID: e.run.ID, Iteration: iteration, Mode: modeName,
		Status: sessionStatus(result.Success),
	}

	if !result.Success {
		e.releaseAll(ctx, claimed)
		if err := e.store.CreateSession(ctx, sess); err != nil {
			return iterationOutcome{}, err
		}
		return iterationOutcome{errorCode: result.ErrorCode}, nil
	}

	itemsCreated := 0
	if e.loop.Type == domain.LoopTypeGenerator {
		itemsCreated, err = e.persistExtracted(ctx, result.TextOutput)
		if err != nil {
			return iterationOutcome{}, err
		}
	}

	if len(claimed) > 1 {
		// Batch mode never uses the single-item structured schema — every
		// successfully-claimed item is simply marked processed (spec
		// §4.4 "batch mode falls back to mark-processed on success").
		for _, item := range claimed {
			if _, err := e.claims.MarkProcessed(ctx, item.ID, e.claimer); err != nil {
				return iterationOutcome{}, err
			}
		}
	} else if len(claimed) == 1 {
		if _, err := e.claims.MarkProcessed(ctx, claimed[0].ID, e.claimer); err != nil {
			return iterationOutcome{}, err
		}
	}

	sess.ItemsAdded = itemsCreated
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return iterationOutcome{}, err
	}

	return iterationOutcome{success: true, itemsCreated: itemsCreated}, nil
}

// teeToBus fans every adapter event out to the event bus while forwarding
// it downstream unchanged, so CollectResult still sees the full sequence
// needed to build its aggregate (the adapter's channel has one consumer).
func (e *Executor) teeToBus(ctx context.Context, events <-chan llmadapter.StreamEvent) <-chan llmadapter.StreamEvent {
	out := make(chan llmadapter.StreamEvent)
	safego.Go(e.logger, "executor-event-tee", func() {
		defer close(out)
		for ev := range events {
			e.bus.Publish(ctx, eventbus.NewEvent(eventbus.EventTypeStreamEvent, eventbus.StreamEventPayload{
				RunID: e.run.ID, SessionID: ev.SessionID, Kind: string(ev.Kind), Detail: ev,
			}))
			out <- ev
		}
	})
	return out
}

func (e *Executor) releaseAll(ctx context.Context, items []*domain.WorkItem) {
	for _, item := range items {
		if _, err := e.claims.Release(ctx, item.ID, e.claimer); err != nil && e.logger != nil {
			e.logger.Warn("failed to release claim after iteration failure",
				zap.String("item_id", item.ID), zap.Error(err))
		}
	}
}

func (e *Executor) persistExtracted(ctx context.Context, text string) (int, error) {
	items := extractItems(text)
	output := e.loop.ItemTypes.Output
	created := 0
	for _, item := range items {
		item.Status = domain.StatusCompleted
		item.SourceLoop = e.loop.Name
		item.ItemType = output.Singular
		if err := e.store.CreateWorkItem(ctx, item); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func soleItemID(items []*domain.WorkItem) string {
	if len(items) == 1 {
		return items[0].ID
	}
	return ""
}

func sessionStatus(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
