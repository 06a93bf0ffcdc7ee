package depgraph

import (
	"testing"

	"github.com/ralphx/ralphx/internal/domain"
)

func item(id string, status domain.WorkItemStatus, deps ...string) *domain.WorkItem {
	return &domain.WorkItem{ID: id, Status: status, Dependencies: deps}
}

func TestBuild_DetectsCycle(t *testing.T) {
	items := []*domain.WorkItem{
		item("A", domain.StatusPending, "B"),
		item("B", domain.StatusPending, "A"),
	}
	if _, err := Build(items, nil); err == nil {
		t.Fatal("expected a cycle error")
	}
}

func TestBuild_DepthIsMaxParentDepthPlusOne(t *testing.T) {
	items := []*domain.WorkItem{
		item("A", domain.StatusProcessed),
		item("B", domain.StatusProcessed, "A"),
		item("C", domain.StatusPending, "A", "B"),
	}
	g, err := Build(items, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Depth("A") != 0 {
		t.Errorf("depth(A) = %d, want 0", g.Depth("A"))
	}
	if g.Depth("B") != 1 {
		t.Errorf("depth(B) = %d, want 1", g.Depth("B"))
	}
	if g.Depth("C") != 2 {
		t.Errorf("depth(C) = %d, want 2", g.Depth("C"))
	}
}

func TestReadySet_ExcludesItemsWithUnmetDependencies(t *testing.T) {
	items := []*domain.WorkItem{
		item("A", domain.StatusPending),
		item("B", domain.StatusPending, "A"),
	}
	g, err := Build(items, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := g.ReadySet()
	if len(ready) != 1 || ready[0] != "A" {
		t.Errorf("ReadySet() = %v, want [A]", ready)
	}
}

func TestReadySet_IncludesItemOnceDependencyIsTerminal(t *testing.T) {
	items := []*domain.WorkItem{
		item("A", domain.StatusProcessed),
		item("B", domain.StatusPending, "A"),
	}
	g, err := Build(items, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := g.ReadySet()
	if len(ready) != 1 || ready[0] != "B" {
		t.Errorf("ReadySet() = %v, want [B]", ready)
	}
}

func TestReadySet_ExcludesAlreadyTerminalItems(t *testing.T) {
	items := []*domain.WorkItem{
		item("A", domain.StatusProcessed),
	}
	g, err := Build(items, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ready := g.ReadySet(); len(ready) != 0 {
		t.Errorf("ReadySet() = %v, want empty", ready)
	}
}

func TestReadySet_WorksOnACyclicBatchWithoutBuild(t *testing.T) {
	items := []*domain.WorkItem{
		item("A", domain.StatusPending, "B"),
		item("B", domain.StatusPending, "A"),
		item("C", domain.StatusPending), // unrelated to the cycle, has no deps
	}
	if _, err := Build(items, nil); err == nil {
		t.Fatal("expected Build to refuse a cyclic batch")
	}
	ready := ReadySet(items)
	if len(ready) != 1 || ready[0] != "C" {
		t.Errorf("ReadySet(items) = %v, want [C] even though A/B form a cycle", ready)
	}
}

func TestReadySet_DependencyOutsideBatchTreatedAsSatisfied(t *testing.T) {
	items := []*domain.WorkItem{
		item("B", domain.StatusPending, "outside-batch"),
	}
	g, err := Build(items, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ready := g.ReadySet()
	if len(ready) != 1 || ready[0] != "B" {
		t.Errorf("ReadySet() = %v, want [B]", ready)
	}
}
