package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

func toRun(m *runModel) *domain.Run {
	return &domain.Run{
		ID: m.ID, LoopName: m.LoopName, Status: domain.RunStatus(m.Status),
		StartedAt: m.StartedAt, CompletedAt: m.CompletedAt,
		IterationsComplete: m.IterationsCompleted, ItemsGenerated: m.ItemsGenerated,
		ErrorMessage: m.ErrorMessage, ExecutorPID: m.ExecutorPID,
		LastActivityAt: m.LastActivityAt, Phase1Complete: m.Phase1Complete,
		Phase1ModeIndex: m.Phase1ModeIndex,
	}
}

// CreateRun inserts a new run row, stamping the executor's PID per spec
// §4.5 "Tracking for liveness".
func (s *Store) CreateRun(ctx context.Context, run *domain.Run) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	m := &runModel{
		ID: run.ID, LoopName: run.LoopName, Status: string(run.Status),
		StartedAt: now, ExecutorPID: run.ExecutorPID, LastActivityAt: &now,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("create run", err)
	}
	return nil
}

// GetRun fetches one run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	var m runModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %q not found", id))
		}
		return nil, apperrors.NewInternalErrorWithCause("get run", err)
	}
	return toRun(&m), nil
}

// ActiveRuns returns every run currently active or paused for loopName —
// used to enforce "exactly one active Run per (project, loop)".
func (s *Store) ActiveRuns(ctx context.Context, loopName string) ([]*domain.Run, error) {
	var rows []runModel
	err := s.db.WithContext(ctx).
		Where("loop_name = ? AND status IN ?", loopName, []string{string(domain.RunActive), string(domain.RunPaused)}).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("query active runs", err)
	}
	runs := make([]*domain.Run, len(rows))
	for i := range rows {
		runs[i] = toRun(&rows[i])
	}
	return runs, nil
}

// StaleCandidateRuns returns every run the Doctor needs to examine: all
// runs not already in a terminal state (completed/error/aborted).
func (s *Store) StaleCandidateRuns(ctx context.Context) ([]*domain.Run, error) {
	var rows []runModel
	err := s.db.WithContext(ctx).
		Where("status NOT IN ?", []string{string(domain.RunCompleted), string(domain.RunError), string(domain.RunAborted)}).
		Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("query stale candidate runs", err)
	}
	runs := make([]*domain.Run, len(rows))
	for i := range rows {
		runs[i] = toRun(&rows[i])
	}
	return runs, nil
}

var runUpdateWhitelist = runUpdatableColumns

// UpdateRun applies a whitelisted set of column updates to a run row.
func (s *Store) UpdateRun(ctx context.Context, id string, updates map[string]any) error {
	for col := range updates {
		if !runUpdateWhitelist[col] {
			return apperrors.NewInternalError(fmt.Sprintf("column %q is not updatable on runs", col))
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("update run", err)
	}
	return nil
}

// TouchActivity bumps last_activity_at to now — called every iteration
// boundary so the Doctor's inactivity check has a live signal.
func (s *Store) TouchActivity(ctx context.Context, runID string) error {
	return s.UpdateRun(ctx, runID, map[string]any{"last_activity_at": time.Now().UTC()})
}

// IncrementRunCounters implements increment_run_counters: a single
// statement `SET x = x + ?` for both counters, used instead of
// read-modify-write so concurrent increments never lose an update (spec
// §4.1, §8 invariant 3: counters are non-decreasing).
func (s *Store) IncrementRunCounters(ctx context.Context, runID string, iterations, items int) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res := s.db.WithContext(ctx).Exec(
		`UPDATE runs SET iterations_completed = iterations_completed + ?,
		 items_generated = items_generated + ? WHERE id = ?`,
		iterations, items, runID,
	)
	if res.Error != nil {
		return apperrors.NewInternalErrorWithCause("increment run counters", res.Error)
	}
	return nil
}

// MarkRunAborted transitions a run into the aborted state with an
// explanatory message — used by both stop() and the Doctor's cleanup pass.
func (s *Store) MarkRunAborted(ctx context.Context, runID, reason string) error {
	now := time.Now().UTC()
	return s.UpdateRun(ctx, runID, map[string]any{
		"status": string(domain.RunAborted), "completed_at": now, "error_message": reason,
	})
}

// GetRunPhase loads the supplemented run_phases row for (runID, phase),
// returning nil if absent.
func (s *Store) GetRunPhase(ctx context.Context, runID string, phase int) ([]string, error) {
	var m runPhaseModel
	err := s.db.WithContext(ctx).First(&m, "run_id = ? AND phase = ?", runID, phase).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("get run phase", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(m.ItemIDs), &ids); err != nil {
		return nil, fmt.Errorf("decode run phase item ids: %w", err)
	}
	return ids, nil
}

// UpsertRunPhase records (or replaces) the item-ID set for a run's phase —
// folded in from original_source/'s run_phases tracking so phase_aware
// progression survives a process restart.
func (s *Store) UpsertRunPhase(ctx context.Context, runID string, phase int, itemIDs []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	idsJSON, err := json.Marshal(itemIDs)
	if err != nil {
		return fmt.Errorf("encode run phase item ids: %w", err)
	}

	m := &runPhaseModel{RunID: runID, Phase: phase, ItemIDs: string(idsJSON), CreatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).
		Where("run_id = ? AND phase = ?", runID, phase).
		Assign(map[string]any{"item_ids": m.ItemIDs}).
		FirstOrCreate(m).Error
	if err != nil {
		return apperrors.NewInternalErrorWithCause("upsert run phase", err)
	}
	return nil
}
