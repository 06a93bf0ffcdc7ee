package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ralphx/ralphx/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	candidates []*domain.WorkItem
	source     []*domain.WorkItem
	claimedBy  map[string]string
	claimCalls map[string]int
	failAfter  int // ClaimWorkItem returns false this many times before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{claimedBy: map[string]string{}, claimCalls: map[string]int{}}
}

func (f *fakeStore) CandidateItems(ctx context.Context, sourceLoop, category string) ([]*domain.WorkItem, error) {
	return f.candidates, nil
}

func (f *fakeStore) AllSourceItems(ctx context.Context, sourceLoop string) ([]*domain.WorkItem, error) {
	return f.source, nil
}

func (f *fakeStore) ClaimWorkItem(ctx context.Context, id, claimer string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, already := f.claimedBy[id]; already {
		return false, nil
	}
	f.claimCalls[id]++
	if f.claimCalls[id] <= f.failAfter {
		return false, nil
	}
	f.claimedBy[id] = claimer
	return true, nil
}

func (f *fakeStore) ReleaseWorkItemClaim(ctx context.Context, id, claimer string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimedBy[id] != claimer {
		return false, nil
	}
	delete(f.claimedBy, id)
	return true, nil
}

func (f *fakeStore) ReleaseStaleClaims(ctx context.Context, maxAge time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeStore) MarkWorkItemProcessed(ctx context.Context, id, claimer string) (bool, error) {
	return true, nil
}

func (f *fakeStore) MarkWorkItemFailed(ctx context.Context, id, claimer string) (bool, error) {
	return true, nil
}

func (f *fakeStore) ApplyStructuredStatus(ctx context.Context, id, claimer string, status domain.StructuredStatus, duplicateOf, skipReason string, extra map[string]any) (bool, error) {
	return true, nil
}

func item(id string, status domain.WorkItemStatus, deps ...string) *domain.WorkItem {
	return &domain.WorkItem{ID: id, Status: status, Dependencies: deps, SourceLoop: "gen"}
}

func TestSelectAndClaim_SkipsItemsWithUnmetDependencies(t *testing.T) {
	store := newFakeStore()
	a := item("A", domain.StatusPending)
	b := item("B", domain.StatusCompleted, "A") // not terminal yet, so B isn't ready
	store.source = []*domain.WorkItem{a, b}
	store.candidates = []*domain.WorkItem{b}

	e := NewEngine(store, nil)
	claimed, err := e.SelectAndClaim(context.Background(), SelectRequest{SourceLoop: "gen", Claimer: "c1", BatchSize: 5, RespectDependencies: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no items claimed, got %v", claimed)
	}
}

func TestSelectAndClaim_WithoutRespectDependenciesClaimsUnfiltered(t *testing.T) {
	store := newFakeStore()
	a := item("A", domain.StatusPending)
	b := item("B", domain.StatusCompleted, "A") // would be filtered out if dependency ordering ran
	store.source = []*domain.WorkItem{a, b}
	store.candidates = []*domain.WorkItem{b}

	e := NewEngine(store, nil)
	claimed, err := e.SelectAndClaim(context.Background(), SelectRequest{SourceLoop: "gen", Claimer: "c1", BatchSize: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected dependency filtering to be skipped entirely, got %d claimed", len(claimed))
	}
}

func TestSelectAndClaim_ClaimsReadyItemsUpToBatchSize(t *testing.T) {
	store := newFakeStore()
	a := item("A", domain.StatusProcessed)
	b := item("B", domain.StatusCompleted, "A")
	c := item("C", domain.StatusCompleted)
	store.source = []*domain.WorkItem{a, b, c}
	store.candidates = []*domain.WorkItem{b, c}

	e := NewEngine(store, nil)
	claimed, err := e.SelectAndClaim(context.Background(), SelectRequest{SourceLoop: "gen", Claimer: "c1", BatchSize: 1, RespectDependencies: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected exactly 1 claimed item, got %d", len(claimed))
	}
}

func TestSelectAndClaim_FallsBackOnCyclicSourceGraph(t *testing.T) {
	store := newFakeStore()
	a := item("A", domain.StatusPending, "B")
	b := item("B", domain.StatusPending, "A")
	store.source = []*domain.WorkItem{a, b}
	store.candidates = []*domain.WorkItem{a}

	e := NewEngine(store, nil)
	claimed, err := e.SelectAndClaim(context.Background(), SelectRequest{SourceLoop: "gen", Claimer: "c1", BatchSize: 5, RespectDependencies: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected the cyclic graph to fall back to unfiltered candidates, got %d claimed", len(claimed))
	}
}

func TestSelectAndClaim_RetriesLosingClaimAttempt(t *testing.T) {
	store := newFakeStore()
	a := item("A", domain.StatusCompleted)
	store.source = []*domain.WorkItem{a}
	store.candidates = []*domain.WorkItem{a}
	store.failAfter = 2 // first two attempts lose the race, third wins

	e := NewEngine(store, nil)
	claimed, err := e.SelectAndClaim(context.Background(), SelectRequest{SourceLoop: "gen", Claimer: "c1", BatchSize: 1, RespectDependencies: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected the retry to eventually succeed, got %d claimed", len(claimed))
	}
}

func TestSelectAndClaim_BatchSizeCappedAtMax(t *testing.T) {
	store := newFakeStore()
	var items []*domain.WorkItem
	for i := 0; i < 60; i++ {
		id := string(rune('A' + i%26))
		it := item(id+string(rune('0'+i/26)), domain.StatusCompleted)
		items = append(items, it)
	}
	store.source = items
	store.candidates = items

	e := NewEngine(store, nil)
	claimed, err := e.SelectAndClaim(context.Background(), SelectRequest{SourceLoop: "gen", Claimer: "c1", BatchSize: 1000, RespectDependencies: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != maxBatchSize {
		t.Fatalf("expected batch size capped at %d, got %d", maxBatchSize, len(claimed))
	}
}
