package resource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/internal/store"
)

type fakeStore struct {
	byID     map[uint]*domain.Resource
	nextID   uint
	versions map[uint][]*domain.ResourceVersion
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[uint]*domain.Resource{}, versions: map[uint][]*domain.ResourceVersion{}}
}

func (f *fakeStore) CreateResource(ctx context.Context, r *domain.Resource) (*domain.Resource, error) {
	f.nextID++
	r.ID = f.nextID
	r.UpdatedAt = time.Now()
	f.byID[r.ID] = r
	return r, nil
}

func (f *fakeStore) GetResource(ctx context.Context, id uint) (*domain.Resource, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	return r, nil
}

func (f *fakeStore) FindResourceByNameType(ctx context.Context, name string, rtype domain.ResourceType) (*domain.Resource, error) {
	for _, r := range f.byID {
		if r.Name == name && r.ResourceType == rtype {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListResources(ctx context.Context, rtype *domain.ResourceType, enabled *bool) ([]*domain.Resource, error) {
	var out []*domain.Resource
	for _, r := range f.byID {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeStore) UpdateResource(ctx context.Context, id uint, edit store.ResourceEdit, expectedUpdatedAt *time.Time, keepVersions int) (*domain.Resource, error) {
	r, ok := f.byID[id]
	if !ok {
		return nil, nil
	}
	if expectedUpdatedAt != nil && !expectedUpdatedAt.Equal(r.UpdatedAt) {
		return nil, &store.ConflictError{Current: r}
	}
	if edit.ContentChanged {
		f.versions[id] = append(f.versions[id], &domain.ResourceVersion{ResourceID: id, Content: edit.PriorContent})
	}
	if edit.Name != nil {
		r.Name = *edit.Name
	}
	if edit.Enabled != nil {
		r.Enabled = *edit.Enabled
	}
	r.UpdatedAt = time.Now()
	return r, nil
}

func (f *fakeStore) DeleteResource(ctx context.Context, id uint) error {
	delete(f.byID, id)
	return nil
}

func (f *fakeStore) ListResourceVersions(ctx context.Context, resourceID uint) ([]*domain.ResourceVersion, error) {
	return f.versions[resourceID], nil
}

func TestCreate_WritesFileAndMetadata(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	r, err := m.Create(context.Background(), "api-design", domain.ResourceDesignDoc, "# design", domain.PositionAfterDesignDoc, 1)
	require.NoError(t, err)
	require.Equal(t, "api-design", r.Name)

	content, err := os.ReadFile(filepath.Join(dir, ".ralphx", "resources", "design_doc", "api-design.md"))
	require.NoError(t, err)
	require.Equal(t, "# design", string(content))
}

func TestCreate_RejectsEmptyContent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(newFakeStore(), dir, nil, nil)
	_, err := m.Create(context.Background(), "empty", domain.ResourceCustom, "   ", domain.PositionBeforePrompt, 0)
	require.Error(t, err)
}

func TestSyncFromFilesystem_AddsNewFile(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	typeDir := filepath.Join(dir, ".ralphx", "resources", "custom")
	require.NoError(t, os.MkdirAll(typeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(typeDir, "notes.md"), []byte("hello"), 0644))

	result, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Added)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 0, result.Removed)
}

func TestSyncFromFilesystem_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	typeDir := filepath.Join(dir, ".ralphx", "resources", "custom")
	require.NoError(t, os.MkdirAll(typeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(typeDir, "notes.md"), []byte("hello"), 0644))

	_, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)

	result, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Added)
	require.Equal(t, 0, result.Updated)
	require.Equal(t, 0, result.Removed)
}

func TestSyncFromFilesystem_DetectsContentChangeAndRemoval(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	typeDir := filepath.Join(dir, ".ralphx", "resources", "custom")
	require.NoError(t, os.MkdirAll(typeDir, 0755))
	path := filepath.Join(typeDir, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	_, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))
	result, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Updated)

	require.NoError(t, os.Remove(path))
	result, err = m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Removed)
}

func TestSyncFromFilesystem_SkipsIgnoredPaths(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, []string{"custom/ignored-*"}, nil)

	typeDir := filepath.Join(dir, ".ralphx", "resources", "custom")
	require.NoError(t, os.MkdirAll(typeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(typeDir, "ignored-draft.md"), []byte("skip me"), 0644))

	result, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Added)
}

func TestSyncFromFilesystem_SkipsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	typeDir := filepath.Join(dir, ".ralphx", "resources", "custom")
	require.NoError(t, os.MkdirAll(typeDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(typeDir, "empty.md"), []byte(""), 0644))

	result, err := m.SyncFromFilesystem(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, result.Added)
}

func TestEdit_WritesContentOnlyAfterStoreSucceeds(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	r, err := m.Create(context.Background(), "doc", domain.ResourceCustom, "v1", domain.PositionBeforePrompt, 0)
	require.NoError(t, err)

	newContent := "v2"
	updated, err := m.Edit(context.Background(), r.ID, &newContent, store.ResourceEdit{}, nil)
	require.NoError(t, err)
	require.NotNil(t, updated)

	content, err := m.ReadContent(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, "v2", content)
	require.Len(t, s.versions[r.ID], 1)
	require.Equal(t, "v1", s.versions[r.ID][0].Content)
}

func TestEdit_ConflictLeavesFileUntouched(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	r, err := m.Create(context.Background(), "doc", domain.ResourceCustom, "v1", domain.PositionBeforePrompt, 0)
	require.NoError(t, err)

	stale := r.UpdatedAt.Add(-time.Hour)
	newContent := "v2"
	_, err = m.Edit(context.Background(), r.ID, &newContent, store.ResourceEdit{}, &stale)
	require.Error(t, err)

	content, err := m.ReadContent(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, "v1", content)
}

func TestDelete_RemovesFileAndRow(t *testing.T) {
	dir := t.TempDir()
	s := newFakeStore()
	m := NewManager(s, dir, nil, nil)

	r, err := m.Create(context.Background(), "doc", domain.ResourceCustom, "v1", domain.PositionBeforePrompt, 0)
	require.NoError(t, err)

	require.NoError(t, m.Delete(context.Background(), r.ID))

	_, err = os.Stat(filepath.Join(dir, ".ralphx", r.FilePath))
	require.True(t, os.IsNotExist(err))
}
