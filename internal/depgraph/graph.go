// Package depgraph builds the dependency graph over a loop's work items:
// cycle detection, the ready-set (items every dependency of which has
// reached a terminal status), and phase auto-detection by dependency depth
// (spec §3 "acyclic source graph", §4.4 "phase auto-detection", §9
// "immutable edge list + DFS cycle check").
package depgraph

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/domain"
)

// maxGraphItems bounds one graph build; a loop with more candidate items
// than this is truncated (oldest-first by input order) with a logged
// warning rather than paying an unbounded cycle-check cost per claim.
const maxGraphItems = 10000

// Graph is an immutable snapshot over one batch of work items — rebuilt
// fresh for every claim attempt rather than maintained incrementally,
// matching spec §9's "immutable edge list" design note.
type Graph struct {
	nodes     map[string]*domain.WorkItem
	deps      map[string][]string
	depth     map[string]int
	truncated bool
}

// Build constructs a Graph from items, validating that the dependency
// edges form a DAG. A dependency ID absent from items is treated as
// already satisfied — it may reference an item outside the current batch
// window, not a dangling reference.
func Build(items []*domain.WorkItem, logger *zap.Logger) (*Graph, error) {
	truncated := false
	if len(items) > maxGraphItems {
		if logger != nil {
			logger.Warn("dependency graph truncated",
				zap.Int("item_count", len(items)), zap.Int("limit", maxGraphItems))
		}
		items = items[:maxGraphItems]
		truncated = true
	}

	g := &Graph{
		nodes:     make(map[string]*domain.WorkItem, len(items)),
		deps:      make(map[string][]string, len(items)),
		depth:     make(map[string]int, len(items)),
		truncated: truncated,
	}
	for _, item := range items {
		g.nodes[item.ID] = item
		g.deps[item.ID] = item.Dependencies
	}

	order, err := g.topologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, id := range order {
		best := 0
		for _, dep := range g.deps[id] {
			if _, ok := g.nodes[dep]; !ok {
				continue // dependency outside this batch: treat as depth 0
			}
			if d := g.depth[dep] + 1; d > best {
				best = d
			}
		}
		g.depth[id] = best
	}

	return g, nil
}

// topologicalOrder runs Kahn's algorithm over the edge set, returning a
// valid processing order or an error if the graph contains a cycle.
func (g *Graph) topologicalOrder() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	adj := make(map[string][]string)
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for id, deps := range g.deps {
		for _, dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				continue
			}
			inDegree[id]++
			adj[dep] = append(adj[dep], id)
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		order = append(order, curr)
		for _, next := range adj[curr] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(g.nodes) {
		return nil, fmt.Errorf("dependency graph contains a cycle (resolved %d of %d items)", len(order), len(g.nodes))
	}
	return order, nil
}

// Truncated reports whether Build dropped items to stay under the size cap.
func (g *Graph) Truncated() bool { return g.truncated }

// ReadySet computes the ready set directly from items, without requiring
// the dependency edges to form a DAG. Used by the claim engine's narrower
// cycle fallback (spec §4.4 step 3: "if intersection is empty and the
// graph has a cycle, emit a warning and fall back") — whether an item's
// dependencies are all terminal is a per-item check that never depends on
// the rest of the batch being acyclic, so this must stay callable even
// when Build itself refuses the batch.
func ReadySet(items []*domain.WorkItem) []string {
	g := &Graph{
		nodes: make(map[string]*domain.WorkItem, len(items)),
		deps:  make(map[string][]string, len(items)),
	}
	for _, item := range items {
		g.nodes[item.ID] = item
		g.deps[item.ID] = item.Dependencies
	}
	return g.ReadySet()
}

// Depth returns an item's dependency depth (0 for an item with no
// in-batch dependencies), used for phase auto-detection.
func (g *Graph) Depth(id string) int { return g.depth[id] }

// ReadySet returns the IDs of every non-terminal item whose dependencies
// have all reached a terminal status (spec §8 invariant 4: "an item with
// unmet dependencies is never claimable").
func (g *Graph) ReadySet() []string {
	var ready []string
	for id, item := range g.nodes {
		if domain.TerminalStatuses[item.Status] {
			continue
		}
		if g.dependenciesSatisfied(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (g *Graph) dependenciesSatisfied(id string) bool {
	for _, dep := range g.deps[id] {
		depItem, ok := g.nodes[dep]
		if !ok {
			continue // outside this batch: assume satisfied
		}
		if !domain.TerminalStatuses[depItem.Status] {
			return false
		}
	}
	return true
}
