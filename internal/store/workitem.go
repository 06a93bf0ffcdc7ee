package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

func toWorkItem(m *workItemModel) (*domain.WorkItem, error) {
	var tags []string
	if m.Tags != "" {
		if err := json.Unmarshal([]byte(m.Tags), &tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	var deps []string
	if m.Dependencies != "" {
		if err := json.Unmarshal([]byte(m.Dependencies), &deps); err != nil {
			return nil, fmt.Errorf("decode dependencies: %w", err)
		}
	}

	claimedBy := ""
	if m.ClaimedBy != nil {
		claimedBy = *m.ClaimedBy
	}

	return &domain.WorkItem{
		ID: m.ID, Content: m.Content, Title: m.Title, Priority: m.Priority,
		Status: domain.WorkItemStatus(m.Status), Category: m.Category, Tags: tags,
		Metadata: metadata, Dependencies: deps, Phase: m.Phase, SourceLoop: m.SourceLoop,
		ItemType: m.ItemType, ClaimedBy: claimedBy, ClaimedAt: m.ClaimedAt,
		ProcessedAt: m.ProcessedAt, DuplicateOf: m.DuplicateOf, SkipReason: m.SkipReason,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}, nil
}

// CreateWorkItem inserts a new item, typically with status=completed and
// source_loop=<generator loop name> for generator output (spec §4.5 step 7).
func (s *Store) CreateWorkItem(ctx context.Context, item *domain.WorkItem) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	m, err := fromWorkItem(item)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("create work item", err)
	}
	return nil
}

func fromWorkItem(item *domain.WorkItem) (*workItemModel, error) {
	tags, err := json.Marshal(nonNilStrings(item.Tags))
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(nonNilMap(item.Metadata))
	if err != nil {
		return nil, err
	}
	deps, err := json.Marshal(nonNilStrings(item.Dependencies))
	if err != nil {
		return nil, err
	}

	var claimedBy *string
	if item.ClaimedBy != "" {
		claimedBy = &item.ClaimedBy
	}

	return &workItemModel{
		ID: item.ID, Content: item.Content, Title: item.Title, Priority: item.Priority,
		Status: string(item.Status), Category: item.Category, Tags: string(tags),
		Metadata: string(metadata), Dependencies: string(deps), Phase: item.Phase,
		SourceLoop: item.SourceLoop, ItemType: item.ItemType, ClaimedBy: claimedBy,
		ClaimedAt: item.ClaimedAt, ProcessedAt: item.ProcessedAt,
		DuplicateOf: item.DuplicateOf, SkipReason: item.SkipReason,
	}, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func nonNilMap(v map[string]any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	return v
}

// GetWorkItem fetches one item by ID.
func (s *Store) GetWorkItem(ctx context.Context, id string) (*domain.WorkItem, error) {
	var m workItemModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("work item %q not found", id))
		}
		return nil, apperrors.NewInternalErrorWithCause("get work item", err)
	}
	return toWorkItem(&m)
}

// CandidateItems returns up to 100 unclaimed completed items sourced from
// sourceLoop, optionally filtered by category, ordered by priority
// ascending then creation time descending (spec §4.4 step 1).
func (s *Store) CandidateItems(ctx context.Context, sourceLoop, category string) ([]*domain.WorkItem, error) {
	q := s.db.WithContext(ctx).
		Where("source_loop = ? AND status = ? AND claimed_by IS NULL", sourceLoop, string(domain.StatusCompleted))
	if category != "" {
		q = q.Where("category = ?", category)
	}

	var rows []workItemModel
	if err := q.Order("priority ASC, created_at DESC").Limit(100).Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("query candidate items", err)
	}

	items := make([]*domain.WorkItem, 0, len(rows))
	for i := range rows {
		it, err := toWorkItem(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// AllSourceItems returns every item produced by sourceLoop — used to
// (re)build the dependency graph (spec §4.4 step 3).
func (s *Store) AllSourceItems(ctx context.Context, sourceLoop string) ([]*domain.WorkItem, error) {
	var rows []workItemModel
	if err := s.db.WithContext(ctx).Where("source_loop = ?", sourceLoop).Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("query source items", err)
	}
	items := make([]*domain.WorkItem, 0, len(rows))
	for i := range rows {
		it, err := toWorkItem(&rows[i])
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// ClaimWorkItem implements spec §4.1's claim_work_item: succeeds iff
// status ∈ {pending, completed} ∧ claimed_by IS NULL. The WHERE clause and
// the SET are one statement, so concurrent claimers race at the database
// level and exactly one UPDATE reports a changed row (spec §8 invariant 1).
func (s *Store) ClaimWorkItem(ctx context.Context, id, claimer string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&workItemModel{}).
		Where("id = ? AND status IN ? AND claimed_by IS NULL", id,
			[]string{string(domain.StatusPending), string(domain.StatusCompleted)}).
		Updates(map[string]any{
			"status":     string(domain.StatusClaimed),
			"claimed_by": claimer,
			"claimed_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, apperrors.NewInternalErrorWithCause("claim work item", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseWorkItemClaim implements release_work_item_claim: succeeds iff
// status=claimed ∧ claimed_by=expectedClaimer. Restores status to
// completed iff source_loop is non-empty, else pending — computed inside
// the single UPDATE via a CASE expression so the ownership check and the
// restore are one statement (spec §4.1, §8 invariant 2).
func (s *Store) ReleaseWorkItemClaim(ctx context.Context, id, expectedClaimer string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE work_items
		 SET status = CASE WHEN source_loop != '' THEN ? ELSE ? END,
		     claimed_by = NULL, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND status = ? AND claimed_by = ?`,
		string(domain.StatusCompleted), string(domain.StatusPending), now,
		id, string(domain.StatusClaimed), expectedClaimer,
	)
	if res.Error != nil {
		return false, apperrors.NewInternalErrorWithCause("release work item claim", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkWorkItemProcessed implements mark_work_item_processed: succeeds iff
// claimed_by=claimer. Used by the simple (non-structured-status) path and
// by batch mode's all-succeed case.
func (s *Store) MarkWorkItemProcessed(ctx context.Context, id, claimer string) (bool, error) {
	return s.updateClaimedItem(ctx, id, claimer, map[string]any{
		"status":       string(domain.StatusProcessed),
		"processed_at": time.Now().UTC(),
	})
}

// ApplyStructuredStatus implements the structured-status completion
// mapping of spec §4.4: merges extra into the item's existing metadata
// (merge, not replace) and sets the mapped terminal status plus any of
// duplicate_of/skip_reason the status requires.
func (s *Store) ApplyStructuredStatus(ctx context.Context, id, claimer string, status domain.StructuredStatus, duplicateOf, skipReason string, extra map[string]any) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var m workItemModel
	if err := s.db.WithContext(ctx).First(&m, "id = ? AND claimed_by = ?", id, claimer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, apperrors.NewInternalErrorWithCause("load item for structured status", err)
	}

	var metadata map[string]any
	if m.Metadata != "" {
		_ = json.Unmarshal([]byte(m.Metadata), &metadata)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	for k, v := range extra {
		metadata[k] = v
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return false, apperrors.NewInternalErrorWithCause("marshal merged metadata", err)
	}

	var terminal domain.WorkItemStatus
	switch status {
	case domain.StructuredDuplicate:
		terminal = domain.StatusDuplicate
	case domain.StructuredSkipped:
		terminal = domain.StatusSkipped
	case domain.StructuredExternal:
		terminal = domain.StatusExternal
	case domain.StructuredError:
		terminal = domain.StatusFailed
	case domain.StructuredImplemented:
		terminal = domain.StatusProcessed
	default:
		terminal = domain.StatusProcessed // unknown/missing → treat as implemented
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status": string(terminal), "metadata": string(metadataJSON), "updated_at": now,
	}
	if terminal != domain.StatusFailed {
		updates["processed_at"] = now
	}
	if duplicateOf != "" {
		updates["duplicate_of"] = duplicateOf
	}
	if skipReason != "" {
		updates["skip_reason"] = skipReason
	}

	res := s.db.WithContext(ctx).Model(&workItemModel{}).
		Where("id = ? AND claimed_by = ?", id, claimer).
		Updates(updates)
	if res.Error != nil {
		return false, apperrors.NewInternalErrorWithCause("apply structured status", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MarkWorkItemFailed sets a claimed item's status to failed, a terminal
// status; claimed_by and claimed_at are left as they are. Iteration
// failures that should return the item to the pool use
// ReleaseWorkItemClaim instead, and a structured `error` status goes
// through ApplyStructuredStatus.
func (s *Store) MarkWorkItemFailed(ctx context.Context, id, claimer string) (bool, error) {
	return s.updateClaimedItem(ctx, id, claimer, map[string]any{
		"status": string(domain.StatusFailed),
	})
}

func (s *Store) updateClaimedItem(ctx context.Context, id, claimer string, updates map[string]any) (bool, error) {
	for col := range updates {
		if !workItemUpdatableColumns[col] {
			return false, apperrors.NewInternalError(fmt.Sprintf("column %q is not updatable", col))
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	updates["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&workItemModel{}).
		Where("id = ? AND claimed_by = ?", id, claimer).
		Updates(updates)
	if res.Error != nil {
		return false, apperrors.NewInternalErrorWithCause("update claimed item", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ReleaseStaleClaims implements release_stale_claims(max_age): releases
// every claimed row whose claimed_at predates now-maxAge, restoring status
// per the source_loop rule. Returns the number of items released.
func (s *Store) ReleaseStaleClaims(ctx context.Context, maxAge time.Duration) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := time.Now().UTC().Add(-maxAge)
	res := s.db.WithContext(ctx).Exec(
		`UPDATE work_items
		 SET status = CASE WHEN source_loop != '' THEN ? ELSE ? END,
		     claimed_by = NULL, claimed_at = NULL, updated_at = ?
		 WHERE status = ? AND claimed_at < ?`,
		string(domain.StatusCompleted), string(domain.StatusPending), time.Now().UTC(),
		string(domain.StatusClaimed), cutoff,
	)
	if res.Error != nil {
		return 0, apperrors.NewInternalErrorWithCause("release stale claims", res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Info("released stale claims", zap.Int64("count", res.RowsAffected), zap.Duration("max_age", maxAge))
	}
	return res.RowsAffected, nil
}

// ReleaseClaimsByLoop unblocks every item currently claimed by claimer
// (conventionally the loop name), used on loop deletion.
func (s *Store) ReleaseClaimsByLoop(ctx context.Context, claimer string) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Exec(
		`UPDATE work_items
		 SET status = CASE WHEN source_loop != '' THEN ? ELSE ? END,
		     claimed_by = NULL, claimed_at = NULL, updated_at = ?
		 WHERE status = ? AND claimed_by = ?`,
		string(domain.StatusCompleted), string(domain.StatusPending), now,
		string(domain.StatusClaimed), claimer,
	)
	if res.Error != nil {
		return 0, apperrors.NewInternalErrorWithCause("release claims by loop", res.Error)
	}
	return res.RowsAffected, nil
}

// ItemStatsResult is the supplemented work-item stats shape (grounded on
// original_source/'s get_work_item_stats). No CLI command or doctor rule
// reads it.
type ItemStatsResult struct {
	ByStatus   map[string]int64
	ByCategory map[string]int64
	ByPriority map[int]int64
}

// ItemStats aggregates work item counts by status, category, and priority
// for a source loop.
func (s *Store) ItemStats(ctx context.Context, sourceLoop string) (*ItemStatsResult, error) {
	result := &ItemStatsResult{
		ByStatus: map[string]int64{}, ByCategory: map[string]int64{}, ByPriority: map[int]int64{},
	}

	type row struct {
		Key   string
		Count int64
	}
	var statusRows []row
	if err := s.db.WithContext(ctx).Model(&workItemModel{}).
		Select("status as key, count(*) as count").
		Where("source_loop = ?", sourceLoop).Group("status").Scan(&statusRows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("aggregate status stats", err)
	}
	for _, r := range statusRows {
		result.ByStatus[r.Key] = r.Count
	}

	var categoryRows []row
	if err := s.db.WithContext(ctx).Model(&workItemModel{}).
		Select("category as key, count(*) as count").
		Where("source_loop = ?", sourceLoop).Group("category").Scan(&categoryRows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("aggregate category stats", err)
	}
	for _, r := range categoryRows {
		result.ByCategory[r.Key] = r.Count
	}

	type priorityRow struct {
		Key   int
		Count int64
	}
	var priorityRows []priorityRow
	if err := s.db.WithContext(ctx).Model(&workItemModel{}).
		Select("priority as key, count(*) as count").
		Where("source_loop = ?", sourceLoop).Group("priority").Scan(&priorityRows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("aggregate priority stats", err)
	}
	for _, r := range priorityRows {
		result.ByPriority[r.Key] = r.Count
	}

	return result, nil
}

// ReadyCounts returns, for sourceLoop, the number of completed
// (claimable) items — the supplemented get_source_item_counts shape. No
// CLI command calls it.
func (s *Store) ReadyCounts(ctx context.Context, sourceLoop string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&workItemModel{}).
		Where("source_loop = ? AND status = ? AND claimed_by IS NULL", sourceLoop, string(domain.StatusCompleted)).
		Count(&count).Error
	if err != nil {
		return 0, apperrors.NewInternalErrorWithCause("count ready items", err)
	}
	return count, nil
}
