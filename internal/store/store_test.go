package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(config.DatabaseConfig{Type: "sqlite", DSN: dsn}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedItem(t *testing.T, s *Store, id, status, sourceLoop string) {
	t.Helper()
	err := s.CreateWorkItem(context.Background(), &domain.WorkItem{
		ID: id, Content: "x", Status: domain.WorkItemStatus(status), SourceLoop: sourceLoop,
	})
	require.NoError(t, err)
}

func TestClaimWorkItem_MutualExclusion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedItem(t, s, "ITEM-1", "completed", "gen")

	const claimers = 10
	var wg sync.WaitGroup
	results := make([]bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.ClaimWorkItem(ctx, "ITEM-1", claimerName(n))
			require.NoError(t, err)
			results[n] = ok
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, ok := range results {
		if ok {
			successCount++
		}
	}
	require.Equal(t, 1, successCount)

	item, err := s.GetWorkItem(ctx, "ITEM-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusClaimed, item.Status)
}

func claimerName(n int) string {
	return "claimer-" + string(rune('A'+n))
}

func TestReleaseWorkItemClaim_RestoresPerSourceLoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "PRODUCED-1", "completed", "generator-loop")
	ok, err := s.ClaimWorkItem(ctx, "PRODUCED-1", "consumer-a")
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseWorkItemClaim(ctx, "PRODUCED-1", "consumer-a")
	require.NoError(t, err)
	require.True(t, released)

	item, err := s.GetWorkItem(ctx, "PRODUCED-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, item.Status, "items with a source_loop restore to completed")
	require.Empty(t, item.ClaimedBy)

	seedItem(t, s, "DIRECT-1", "pending", "")
	ok, err = s.ClaimWorkItem(ctx, "DIRECT-1", "consumer-a")
	require.NoError(t, err)
	require.True(t, ok)

	released, err = s.ReleaseWorkItemClaim(ctx, "DIRECT-1", "consumer-a")
	require.NoError(t, err)
	require.True(t, released)

	item, err = s.GetWorkItem(ctx, "DIRECT-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, item.Status, "direct-input items restore to pending")
}

func TestReleaseWorkItemClaim_WrongClaimerFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "ITEM-1", "pending", "")
	ok, err := s.ClaimWorkItem(ctx, "ITEM-1", "consumer-a")
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseWorkItemClaim(ctx, "ITEM-1", "consumer-b")
	require.NoError(t, err)
	require.False(t, released)
}

func TestReleaseStaleClaims(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedItem(t, s, "ITEM-1", "pending", "")
	ok, err := s.ClaimWorkItem(ctx, "ITEM-1", "consumer-a")
	require.NoError(t, err)
	require.True(t, ok)

	// Force claimed_at into the past to simulate a stale claim.
	err = s.db.Exec(`UPDATE work_items SET claimed_at = ? WHERE id = ?`,
		time.Now().UTC().Add(-time.Hour), "ITEM-1").Error
	require.NoError(t, err)

	count, err := s.ReleaseStaleClaims(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), count)

	item, err := s.GetWorkItem(ctx, "ITEM-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, item.Status)
	require.Empty(t, item.ClaimedBy)
}

func TestIncrementRunCounters_Monotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateRun(ctx, &domain.Run{ID: "run-1", LoopName: "loop-a", Status: domain.RunActive})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.IncrementRunCounters(ctx, "run-1", 1, 2))
	}

	run, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, 5, run.IterationsComplete)
	require.Equal(t, 10, run.ItemsGenerated)
}

func TestUpdateResource_OptimisticConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateResource(ctx, &domain.Resource{
		Name: "overview", ResourceType: domain.ResourceDesignDoc, FilePath: "x.md",
		InjectionPos: domain.PositionBeforePrompt, Enabled: true,
	})
	require.NoError(t, err)

	stale := r.UpdatedAt.Add(-time.Hour) // deliberately wrong timestamp, not the real updated_at
	_, err = s.UpdateResource(ctx, r.ID, ResourceEdit{ContentChanged: true, PriorContent: "old"}, &stale, 10)
	require.Error(t, err)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, r.ID, conflict.Current.ID)
}

func TestUpdateResource_CreatesVersionOnContentChange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r, err := s.CreateResource(ctx, &domain.Resource{
		Name: "overview", ResourceType: domain.ResourceDesignDoc, FilePath: "x.md",
		InjectionPos: domain.PositionBeforePrompt, Enabled: true,
	})
	require.NoError(t, err)

	_, err = s.UpdateResource(ctx, r.ID, ResourceEdit{ContentChanged: true, PriorContent: "original content"}, nil, 10)
	require.NoError(t, err)

	versions, err := s.ListResourceVersions(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	require.Equal(t, "original content", versions[0].Content)
}
