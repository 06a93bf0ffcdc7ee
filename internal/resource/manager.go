// Package resource implements the Resource Manager: the filesystem layout
// under <project>/.ralphx/resources/<type>/<name>.md, bidirectional
// idempotent sync against the Project Store's metadata rows, and
// optimistic-locked content edits (spec §4.7).
package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/internal/store"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

const (
	maxFileSize     = 1 << 20 // 1 MiB; a design doc or standards file has no business being bigger
	defaultVersions = 10      // N-most-recent pruning default (spec §3 "Resource... versioning")
)

// Store is the subset of the Project Store the Resource Manager drives.
type Store interface {
	CreateResource(ctx context.Context, r *domain.Resource) (*domain.Resource, error)
	GetResource(ctx context.Context, id uint) (*domain.Resource, error)
	FindResourceByNameType(ctx context.Context, name string, rtype domain.ResourceType) (*domain.Resource, error)
	ListResources(ctx context.Context, rtype *domain.ResourceType, enabled *bool) ([]*domain.Resource, error)
	UpdateResource(ctx context.Context, id uint, edit store.ResourceEdit, expectedUpdatedAt *time.Time, keepVersions int) (*domain.Resource, error)
	DeleteResource(ctx context.Context, id uint) error
}

// Manager owns the resource directory tree for one project.
type Manager struct {
	store          Store
	projectDir     string
	ignorePatterns []string
	logger         *zap.Logger
}

func NewManager(s Store, projectDir string, ignorePatterns []string, logger *zap.Logger) *Manager {
	return &Manager{store: s, projectDir: projectDir, ignorePatterns: ignorePatterns, logger: logger}
}

func (m *Manager) resourcesDir() string {
	return filepath.Join(m.projectDir, ".ralphx", "resources")
}

func (m *Manager) resourcePath(rtype domain.ResourceType, name string) string {
	return filepath.Join(m.resourcesDir(), string(rtype), name+".md")
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// SyncResult reports what SyncFromFilesystem did (spec §4.7 "idempotent
// sync" — re-running with no disk changes yields an all-zero result).
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// SyncFromFilesystem walks <project>/.ralphx/resources/<type>/*.md,
// reconciling the store's metadata rows against what's on disk: new files
// become new resources, changed content becomes a new version, and rows
// whose file vanished are removed. Files matching an ignore pattern are
// skipped.
func (m *Manager) SyncFromFilesystem(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{}
	seen := map[string]bool{} // "<type>/<name>" keys found on disk this pass

	for _, rtype := range domain.ValidResourceTypes {
		dir := filepath.Join(m.resourcesDir(), string(rtype))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read resource dir %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			relPath := filepath.Join(string(rtype), entry.Name())
			if m.isIgnored(relPath) {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".md")
			seen[string(rtype)+"/"+name] = true

			path := filepath.Join(dir, entry.Name())
			content, err := m.readSafe(path)
			if err != nil {
				if m.logger != nil {
					m.logger.Warn("skipping unsafe resource file", zap.String("path", path), zap.Error(err))
				}
				continue
			}

			existing, err := m.store.FindResourceByNameType(ctx, name, rtype)
			if err != nil {
				return nil, err
			}
			if existing == nil {
				if _, err := m.store.CreateResource(ctx, &domain.Resource{
					Name: name, ResourceType: rtype, FilePath: filepath.Join("resources", relPath),
					InjectionPos: domain.PositionBeforePrompt, Enabled: true, InheritDefault: true,
				}); err != nil {
					return nil, err
				}
				result.Added++
				continue
			}

			prior, err := m.read(existing)
			if err == nil && prior == content {
				continue // unchanged: sync is idempotent
			}
			if _, err := m.store.UpdateResource(ctx, existing.ID, store.ResourceEdit{
				ContentChanged: true, PriorContent: prior,
			}, nil, defaultVersions); err != nil {
				return nil, err
			}
			result.Updated++
		}
	}

	allResources, err := m.store.ListResources(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range allResources {
		if !seen[string(r.ResourceType)+"/"+r.Name] {
			if err := m.store.DeleteResource(ctx, r.ID); err != nil {
				return nil, err
			}
			result.Removed++
		}
	}

	return result, nil
}

func (m *Manager) isIgnored(relPath string) bool {
	for _, pattern := range m.ignorePatterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// readSafe applies the file-safety checks (spec §4.7) before returning
// content: reject symlinks, empty files, and files over maxFileSize.
func (m *Manager) readSafe(path string) (string, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return "", fmt.Errorf("%s is a symlink, refusing to read", path)
	}
	if info.Size() == 0 {
		return "", fmt.Errorf("%s is empty", path)
	}
	if info.Size() > maxFileSize {
		return "", fmt.Errorf("%s exceeds the %d byte resource size cap", path, maxFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// read loads a resource's current on-disk content.
func (m *Manager) read(r *domain.Resource) (string, error) {
	content, err := os.ReadFile(filepath.Join(m.projectDir, ".ralphx", r.FilePath))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// Create writes a new resource file to disk and registers its metadata row.
func (m *Manager) Create(ctx context.Context, name string, rtype domain.ResourceType, content string, pos domain.InjectionPosition, priority int) (*domain.Resource, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperrors.NewValidationError("resource content must not be empty")
	}
	path := m.resourcePath(rtype, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create resource directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return nil, fmt.Errorf("write resource file: %w", err)
	}

	relPath := filepath.Join("resources", string(rtype), name+".md")
	return m.store.CreateResource(ctx, &domain.Resource{
		Name: name, ResourceType: rtype, FilePath: relPath,
		InjectionPos: pos, Priority: priority, Enabled: true, InheritDefault: true,
	})
}

// Edit applies an optimistically-locked content and/or metadata change,
// writing the new content to disk only after the store accepts the
// version/metadata update (spec §4.7 "optimistic-locked edits").
func (m *Manager) Edit(ctx context.Context, id uint, newContent *string, edit store.ResourceEdit, expectedUpdatedAt *time.Time) (*domain.Resource, error) {
	current, err := m.store.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}

	if newContent != nil {
		prior, err := m.read(current)
		if err != nil {
			prior = "" // the file may have been deleted out-of-band; snapshot empty rather than fail the edit
		}
		edit.ContentChanged = true
		edit.PriorContent = prior
	}

	updated, err := m.store.UpdateResource(ctx, id, edit, expectedUpdatedAt, defaultVersions)
	if err != nil {
		return nil, err
	}

	if newContent != nil {
		path := filepath.Join(m.projectDir, ".ralphx", updated.FilePath)
		if err := os.WriteFile(path, []byte(*newContent), 0644); err != nil {
			return nil, fmt.Errorf("write updated resource content: %w", err)
		}
	}
	return updated, nil
}

// Delete removes a resource's metadata row and its on-disk file.
func (m *Manager) Delete(ctx context.Context, id uint) error {
	r, err := m.store.GetResource(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteResource(ctx, id); err != nil {
		return err
	}
	path := filepath.Join(m.projectDir, ".ralphx", r.FilePath)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove resource file: %w", err)
	}
	return nil
}

// ReadContent returns a resource's current on-disk content.
func (m *Manager) ReadContent(ctx context.Context, id uint) (string, error) {
	r, err := m.store.GetResource(ctx, id)
	if err != nil {
		return "", err
	}
	return m.read(r)
}
