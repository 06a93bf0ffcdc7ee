// Package claim implements the Work-Item Claim Engine: candidate
// selection, dependency/phase filtering, contention-retry claiming, batch
// mode, and the structured-status completion mapping (spec §4.4).
package claim

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/depgraph"
	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

const (
	maxBatchSize  = 50
	claimRetries  = 5
	claimBaseWait = 10 * time.Millisecond
)

// Store is the subset of the Project Store the claim engine drives.
type Store interface {
	CandidateItems(ctx context.Context, sourceLoop, category string) ([]*domain.WorkItem, error)
	AllSourceItems(ctx context.Context, sourceLoop string) ([]*domain.WorkItem, error)
	ClaimWorkItem(ctx context.Context, id, claimer string) (bool, error)
	ReleaseWorkItemClaim(ctx context.Context, id, claimer string) (bool, error)
	ReleaseStaleClaims(ctx context.Context, maxAge time.Duration) (int64, error)
	MarkWorkItemProcessed(ctx context.Context, id, claimer string) (bool, error)
	MarkWorkItemFailed(ctx context.Context, id, claimer string) (bool, error)
	ApplyStructuredStatus(ctx context.Context, id, claimer string, status domain.StructuredStatus, duplicateOf, skipReason string, extra map[string]any) (bool, error)
}

// Engine selects and claims ready work items for one consumer loop.
type Engine struct {
	store  Store
	logger *zap.Logger
}

func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// SelectRequest parameterizes one claim attempt (spec §4.4 step 1-4).
type SelectRequest struct {
	SourceLoop          string
	Category            string
	Claimer             string
	Phase               *int // 1-based phase (dependency depth + 1); nil disables phase filtering
	BatchSize           int  // capped at maxBatchSize; <=0 behaves as 1
	RespectDependencies bool // if false, skip graph build/ready-set filtering entirely
}

// SelectAndClaim runs the four-step selection algorithm: fetch candidates,
// build the dependency graph over every item sourced from SourceLoop,
// filter candidates to the ready set (and, if Phase is set, to items whose
// depth + 1 equals it), then attempt to claim each survivor with contention retry until
// BatchSize items are claimed or candidates are exhausted.
func (e *Engine) SelectAndClaim(ctx context.Context, req SelectRequest) ([]*domain.WorkItem, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}

	candidates, err := e.store.CandidateItems(ctx, req.SourceLoop, req.Category)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var graph *depgraph.Graph
	var ready map[string]bool
	if req.RespectDependencies {
		allSource, err := e.store.AllSourceItems(ctx, req.SourceLoop)
		if err != nil {
			return nil, err
		}

		// ReadySet is computable per-item regardless of whether the batch is
		// acyclic, so it is always available to intersect against candidates
		// (spec §4.4 step 3: "compute the ready set... intersect candidates
		// with the ready set").
		readyIDs := depgraph.ReadySet(allSource)
		ready = make(map[string]bool, len(readyIDs))
		for _, id := range readyIDs {
			ready[id] = true
		}

		hasReadyCandidate := false
		for _, cand := range candidates {
			if ready[cand.ID] {
				hasReadyCandidate = true
				break
			}
		}

		var buildErr error
		graph, buildErr = depgraph.Build(allSource, e.logger)
		if buildErr != nil {
			graph = nil
			if !hasReadyCandidate {
				// Only waive dependency filtering when the ready-candidate
				// intersection is genuinely empty AND the graph has a cycle
				// (spec §4.4 step 3) — an unrelated cycle elsewhere in the
				// source loop must not disable filtering for candidates the
				// ready set already clears.
				if e.logger != nil {
					e.logger.Warn("dependency graph has a cycle and no candidate is ready, claiming without dependency filtering",
						zap.String("source_loop", req.SourceLoop), zap.Error(buildErr))
				}
				ready = nil
			}
		}
	}

	claimed := make([]*domain.WorkItem, 0, batchSize)
	for _, cand := range candidates {
		if len(claimed) >= batchSize {
			break
		}
		if ready != nil && !ready[cand.ID] {
			continue
		}
		if req.Phase != nil && graph != nil && graph.Depth(cand.ID)+1 != *req.Phase {
			continue
		}

		ok, err := e.claimWithRetry(ctx, cand.ID, req.Claimer)
		if err != nil {
			return claimed, err
		}
		if ok {
			claimed = append(claimed, cand)
		}
	}
	return claimed, nil
}

// claimWithRetry retries a losing claim attempt up to claimRetries times
// with a claimBaseWait*(attempt+1) backoff — another claimer winning the
// race is expected, routine contention, not an error (spec §4.4).
func (e *Engine) claimWithRetry(ctx context.Context, id, claimer string) (bool, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		ok, err := e.store.ClaimWorkItem(ctx, id, claimer)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(claimBaseWait * time.Duration(attempt+1)):
		}
	}
	return false, nil
}

// ReapStaleClaims releases every claim older than maxAge, restoring each
// item per the source_loop rule (spec §4.4 "stale-claim reaper"). Callers
// run this once before a consumer loop's run starts.
func (e *Engine) ReapStaleClaims(ctx context.Context, maxAge time.Duration) (int64, error) {
	return e.store.ReleaseStaleClaims(ctx, maxAge)
}

// Release restores a claimed item to its pre-claim state (spec §3
// "release restores to completed iff source_loop non-null else pending").
func (e *Engine) Release(ctx context.Context, id, claimer string) (bool, error) {
	return e.store.ReleaseWorkItemClaim(ctx, id, claimer)
}

// MarkProcessed completes a claimed item with the simple (non-structured)
// terminal status.
func (e *Engine) MarkProcessed(ctx context.Context, id, claimer string) (bool, error) {
	return e.store.MarkWorkItemProcessed(ctx, id, claimer)
}

// MarkFailed completes a claimed item as a terminal failure, distinct from
// Release: the item does not return to the pool (spec §4.4).
func (e *Engine) MarkFailed(ctx context.Context, id, claimer string) (bool, error) {
	return e.store.MarkWorkItemFailed(ctx, id, claimer)
}

// Complete applies the structured-status completion mapping table (spec
// §4.4): implemented→processed, duplicate→duplicate, skipped→skipped,
// external→external, error→failed.
func (e *Engine) Complete(ctx context.Context, id, claimer string, status domain.StructuredStatus, duplicateOf, skipReason string, extra map[string]any) (bool, error) {
	ok, err := e.store.ApplyStructuredStatus(ctx, id, claimer, status, duplicateOf, skipReason, extra)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeInternal, "apply structured status", err)
	}
	return ok, nil
}
