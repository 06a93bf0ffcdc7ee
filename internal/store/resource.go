package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

func toResource(m *resourceModel) *domain.Resource {
	return &domain.Resource{
		ID: m.ID, Name: m.Name, ResourceType: domain.ResourceType(m.ResourceType),
		FilePath: m.FilePath, InjectionPos: domain.InjectionPosition(m.InjectionPosition),
		Priority: m.Priority, Enabled: m.Enabled, InheritDefault: m.InheritDefault,
		CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt,
	}
}

// CreateResource inserts a new resource row (the file itself is written by
// internal/resource.Manager before this call).
func (s *Store) CreateResource(ctx context.Context, r *domain.Resource) (*domain.Resource, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	m := &resourceModel{
		Name: r.Name, ResourceType: string(r.ResourceType), FilePath: r.FilePath,
		InjectionPosition: string(r.InjectionPos), Priority: r.Priority,
		Enabled: r.Enabled, InheritDefault: r.InheritDefault, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("create resource", err)
	}
	return toResource(m), nil
}

// GetResource fetches one resource by ID.
func (s *Store) GetResource(ctx context.Context, id uint) (*domain.Resource, error) {
	var m resourceModel
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("resource %d not found", id))
		}
		return nil, apperrors.NewInternalErrorWithCause("get resource", err)
	}
	return toResource(&m), nil
}

// FindResourceByNameType looks up a resource by its (name, resource_type)
// unique key — used by filesystem sync to match a disk file to a row.
func (s *Store) FindResourceByNameType(ctx context.Context, name string, rtype domain.ResourceType) (*domain.Resource, error) {
	var m resourceModel
	err := s.db.WithContext(ctx).First(&m, "name = ? AND resource_type = ?", name, string(rtype)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("find resource by name/type", err)
	}
	return toResource(&m), nil
}

// ListResources returns resources for a loop's injection pass, optionally
// filtered by type and enabled status.
func (s *Store) ListResources(ctx context.Context, rtype *domain.ResourceType, enabled *bool) ([]*domain.Resource, error) {
	q := s.db.WithContext(ctx).Model(&resourceModel{})
	if rtype != nil {
		q = q.Where("resource_type = ?", string(*rtype))
	}
	if enabled != nil {
		q = q.Where("enabled = ?", *enabled)
	}
	var rows []resourceModel
	if err := q.Order("priority ASC").Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("list resources", err)
	}
	out := make([]*domain.Resource, len(rows))
	for i := range rows {
		out[i] = toResource(&rows[i])
	}
	return out, nil
}

// ConflictError is returned by UpdateResource when the caller's
// expectedUpdatedAt doesn't match the current row (spec §4.1
// update_workflow_resource, §8 invariant 8).
type ConflictError struct {
	Current *domain.Resource
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("resource %d was modified concurrently (current updated_at=%s)", e.Current.ID, e.Current.UpdatedAt)
}

// ResourceEdit is the caller-supplied set of fields to change. Pointers
// distinguish "leave unset" from "set to zero value". Content itself is
// never stored here — it lives on disk under the Resource Manager's
// control — but ContentChanged tells UpdateResource whether to snapshot a
// ResourceVersion, and PriorContent is what the Manager read from disk
// just before writing the new content, to snapshot verbatim.
type ResourceEdit struct {
	ContentChanged    bool
	PriorContent      string
	Name              *string
	InjectionPosition *domain.InjectionPosition
	Enabled           *bool
	InheritDefault    *bool
	Priority          *int
}

// UpdateResource implements update_workflow_resource: if expectedUpdatedAt
// is non-nil and doesn't match the row's current updated_at, returns
// *ConflictError with the current row and makes no change. Otherwise, if
// content or name changed, first snapshots the pre-update row as a
// ResourceVersion, applies the edit, bumps updated_at, then prunes
// versions beyond keepVersions. The Resource Manager is responsible for
// actually writing the new content to disk; this only manages metadata
// and version history.
func (s *Store) UpdateResource(ctx context.Context, id uint, edit ResourceEdit, expectedUpdatedAt *time.Time, keepVersions int) (*domain.Resource, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var current resourceModel
	if err := s.db.WithContext(ctx).First(&current, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("resource %d not found", id))
		}
		return nil, apperrors.NewInternalErrorWithCause("load resource for update", err)
	}

	if expectedUpdatedAt != nil && !expectedUpdatedAt.Equal(current.UpdatedAt) {
		return nil, &ConflictError{Current: toResource(&current)}
	}

	nameChanged := edit.Name != nil && *edit.Name != current.Name

	if edit.ContentChanged || nameChanged {
		version := &resourceVersionModel{
			ResourceID: current.ID, Name: current.Name, Content: edit.PriorContent, CreatedAt: time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(version).Error; err != nil {
			return nil, apperrors.NewInternalErrorWithCause("snapshot resource version", err)
		}
	}

	updates := map[string]any{}
	if edit.Name != nil {
		updates["name"] = *edit.Name
	}
	if edit.InjectionPosition != nil {
		updates["injection_position"] = string(*edit.InjectionPosition)
	}
	if edit.Enabled != nil {
		updates["enabled"] = *edit.Enabled
	}
	if edit.InheritDefault != nil {
		updates["inherit_default"] = *edit.InheritDefault
	}
	if edit.Priority != nil {
		updates["priority"] = *edit.Priority
	}
	updates["updated_at"] = time.Now().UTC()

	for col := range updates {
		if !resourceUpdatableColumns[col] {
			return nil, apperrors.NewInternalError(fmt.Sprintf("column %q is not updatable on resources", col))
		}
	}

	if err := s.db.WithContext(ctx).Model(&resourceModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("update resource", err)
	}

	if err := s.pruneResourceVersions(ctx, current.ID, keepVersions); err != nil {
		return nil, err
	}

	var updated resourceModel
	if err := s.db.WithContext(ctx).First(&updated, "id = ?", id).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("reload resource after update", err)
	}
	return toResource(&updated), nil
}

func (s *Store) pruneResourceVersions(ctx context.Context, resourceID uint, keep int) error {
	if keep <= 0 {
		return nil
	}
	var ids []uint
	err := s.db.WithContext(ctx).Model(&resourceVersionModel{}).
		Where("resource_id = ?", resourceID).
		Order("created_at DESC").Offset(keep).Pluck("id", &ids).Error
	if err != nil {
		return apperrors.NewInternalErrorWithCause("list versions to prune", err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&resourceVersionModel{}).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("prune resource versions", err)
	}
	return nil
}

// DeleteResource removes a resource row; ResourceVersions cascade-delete
// via the foreign key.
func (s *Store) DeleteResource(ctx context.Context, id uint) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.WithContext(ctx).Delete(&resourceModel{}, "id = ?", id).Error; err != nil {
		return apperrors.NewInternalErrorWithCause("delete resource", err)
	}
	return nil
}

// ListResourceVersions returns version history for a resource, newest first.
func (s *Store) ListResourceVersions(ctx context.Context, resourceID uint) ([]*domain.ResourceVersion, error) {
	var rows []resourceVersionModel
	err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("list resource versions", err)
	}
	out := make([]*domain.ResourceVersion, len(rows))
	for i, m := range rows {
		out[i] = &domain.ResourceVersion{ID: m.ID, ResourceID: m.ResourceID, Name: m.Name, Content: m.Content, CreatedAt: m.CreatedAt}
	}
	return out, nil
}
