package store

import (
	"context"
	"time"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

// CreateSession persists session metadata for one LLM subprocess
// invocation within a run (spec §4.5 step 9 "Persist session metadata").
func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if sess.StartedAt.IsZero() {
		sess.StartedAt = time.Now().UTC()
	}
	m := &sessionModel{
		ID: sess.ID, RunID: sess.RunID, Iteration: sess.Iteration, Mode: sess.Mode,
		StartedAt: sess.StartedAt, DurationSeconds: sess.DurationSecond,
		Status: sess.Status, ItemsAdded: sess.ItemsAdded,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("create session", err)
	}
	return nil
}

// ListSessionsForRun returns every session recorded for a run, in
// iteration order.
func (s *Store) ListSessionsForRun(ctx context.Context, runID string) ([]*domain.Session, error) {
	var rows []sessionModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("iteration ASC").Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("list sessions", err)
	}
	out := make([]*domain.Session, len(rows))
	for i, m := range rows {
		out[i] = &domain.Session{
			ID: m.ID, RunID: m.RunID, Iteration: m.Iteration, Mode: m.Mode,
			StartedAt: m.StartedAt, DurationSecond: m.DurationSeconds,
			Status: m.Status, ItemsAdded: m.ItemsAdded,
		}
	}
	return out, nil
}
