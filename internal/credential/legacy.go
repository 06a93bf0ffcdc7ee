package credential

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockAcquireTimeout = 5 * time.Second

// LegacyCredentialsFile is the deprecated file-swap path (spec §5
// "Credentials... the legacy file-swap path (kept for compatibility)").
// It overwrites the LLM CLI's own credentials file for the duration of a
// subprocess call, under an exclusive advisory lock, and always restores
// the operator's original file on the way out. The happy path is
// per-subprocess environment injection (process.go); this exists only so
// a deployment pinned to an older CLI build that ignores
// CLAUDE_CODE_OAUTH_TOKEN still works.
type LegacyCredentialsFile struct {
	path string
	lock *flock.Flock
}

func NewLegacyCredentialsFile(path string) *LegacyCredentialsFile {
	return &LegacyCredentialsFile{path: path, lock: flock.New(path + ".lock")}
}

// Swap writes newContent to path under an exclusive lock and returns a
// restore function that puts the original bytes back (or removes the file
// if it didn't exist before). Callers must invoke restore on every exit
// path, typically via defer.
func (l *LegacyCredentialsFile) Swap(ctx context.Context, newContent []byte) (restore func() error, err error) {
	lockCtx, cancel := context.WithTimeout(ctx, lockAcquireTimeout)
	defer cancel()

	locked, err := l.lock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil || !locked {
		return nil, fmt.Errorf("acquire credentials file lock: %w", err)
	}

	original, readErr := os.ReadFile(l.path)
	existed := readErr == nil

	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		l.lock.Unlock()
		return nil, fmt.Errorf("create credentials file dir: %w", err)
	}
	if err := os.WriteFile(l.path, newContent, 0600); err != nil {
		l.lock.Unlock()
		return nil, fmt.Errorf("write swapped credentials file: %w", err)
	}

	return func() error {
		defer l.lock.Unlock()
		if existed {
			return os.WriteFile(l.path, original, 0600)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}, nil
}
