// Package prompt implements the Prompt Builder: template load, resource
// injection at the four anchor positions, generator/consumer context
// substitution, batch-mode rendering, injection hardening, and the run
// tracking marker (spec §4.3).
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ralphx/ralphx/internal/config"
	"github.com/ralphx/ralphx/internal/domain"
)

const (
	anchorDesignDoc = "{{design_doc}}"
	anchorTask      = "{{task}}"
)

var storyIDPattern = regexp.MustCompile(`^([A-Za-z]+)-(\d+)$`)

// Store is the subset of the Project Store the builder reads for
// generator-context enrichment.
type Store interface {
	AllSourceItems(ctx context.Context, sourceLoop string) ([]*domain.WorkItem, error)
	ListResources(ctx context.Context, rtype *domain.ResourceType, enabled *bool) ([]*domain.Resource, error)
}

// ContentReader loads a resource's current on-disk content; satisfied by
// *resource.Manager.
type ContentReader interface {
	ReadContent(ctx context.Context, id uint) (string, error)
}

// Builder assembles prompts for one project.
type Builder struct {
	store      Store
	content    ContentReader
	projectDir string
	logger     *zap.Logger
}

func NewBuilder(store Store, content ContentReader, projectDir string, logger *zap.Logger) *Builder {
	return &Builder{store: store, content: content, projectDir: projectDir, logger: logger}
}

// Request parameterizes one prompt assembly (spec §4.3 inputs: "the
// selected mode, the loop config, the project, the claimed item (consumer)
// or batch (batch mode), and the run context").
type Request struct {
	Loop        *config.Loop
	Mode        config.Mode
	ModeName    string
	RunID       string
	ProjectSlug string
	Iteration   int
	ClaimedItem *domain.WorkItem
	Batch       []*domain.WorkItem
}

// Build runs the full 8-step assembly algorithm and returns the final
// prompt string.
func (b *Builder) Build(ctx context.Context, req Request) (string, error) {
	raw, err := os.ReadFile(filepath.Join(b.projectDir, req.Mode.PromptTemplatePath))
	if err != nil {
		return "", fmt.Errorf("load prompt template %q: %w", req.Mode.PromptTemplatePath, err)
	}
	template := string(raw)

	groups, err := b.loadResourceGroups(ctx, req.Loop)
	if err != nil {
		return "", err
	}
	assembled := assembleResources(template, groups)

	if req.Loop != nil && req.Loop.Type == domain.LoopTypeGenerator {
		assembled, err = b.enrichGeneratorContext(ctx, assembled, req.Loop)
		if err != nil {
			return "", err
		}
	}

	if req.ClaimedItem != nil {
		assembled = substituteItem(assembled, req.ClaimedItem, req.Loop)
	}

	if len(req.Batch) > 1 {
		assembled += renderBatchSection(req.Batch)
	}

	assembled += renderTrackingMarker(req)
	return assembled, nil
}

// resourceGroups buckets resource content strings by injection position, in
// Priority order (ascending — lower priority numbers inject first).
type resourceGroups map[domain.InjectionPosition][]string

// loadResourceGroups fetches every enabled resource, filters it per the
// loop's inherit_default/include/exclude rules, and groups the survivors'
// content by injection position (spec §4.3 step 2).
func (b *Builder) loadResourceGroups(ctx context.Context, loop *config.Loop) (resourceGroups, error) {
	enabled := true
	resources, err := b.store.ListResources(ctx, nil, &enabled)
	if err != nil {
		return nil, err
	}

	type withPriority struct {
		pos      domain.InjectionPosition
		priority int
		content  string
	}
	var included []withPriority

	for _, r := range resources {
		if !resourceApplies(r, loop) {
			continue
		}
		content, err := b.content.ReadContent(ctx, r.ID)
		if err != nil {
			if b.logger != nil {
				b.logger.Warn("skipping resource unreadable at prompt build time",
					zap.Uint("resource_id", r.ID), zap.String("name", r.Name), zap.Error(err))
			}
			continue
		}
		included = append(included, withPriority{pos: r.InjectionPos, priority: r.Priority, content: content})
	}

	sort.SliceStable(included, func(i, j int) bool { return included[i].priority < included[j].priority })

	groups := make(resourceGroups)
	for _, r := range included {
		groups[r.pos] = append(groups[r.pos], r.content)
	}
	return groups, nil
}

// resourceApplies implements the inherit_default/include/exclude rule: a
// resource with InheritDefault=true applies to every loop unless the loop
// explicitly excludes its name; a resource with InheritDefault=false
// applies only to loops that explicitly include its name.
func resourceApplies(r *domain.Resource, loop *config.Loop) bool {
	if loop == nil {
		return r.InheritDefault
	}
	for _, excluded := range loop.Resources.Exclude {
		if excluded == r.Name {
			return false
		}
	}
	for _, included := range loop.Resources.Include {
		if included == r.Name {
			return true
		}
	}
	return r.InheritDefault
}

// assembleResources implements spec §4.3 step 3: before_prompt is
// prepended; after_design_doc inlines after the {{design_doc}} anchor if
// present, else after the before_prompt block; before_task inlines before
// {{task}} if present, else before the tail; after_task is appended last.
func assembleResources(template string, groups resourceGroups) string {
	beforePrompt := strings.Join(groups[domain.PositionBeforePrompt], "\n\n")
	afterDesignDoc := strings.Join(groups[domain.PositionAfterDesignDoc], "\n\n")
	beforeTask := strings.Join(groups[domain.PositionBeforeTask], "\n\n")
	afterTask := strings.Join(groups[domain.PositionAfterTask], "\n\n")

	body := template

	if afterDesignDoc != "" {
		if strings.Contains(body, anchorDesignDoc) {
			body = strings.Replace(body, anchorDesignDoc, anchorDesignDoc+"\n\n"+afterDesignDoc, 1)
		} else {
			beforePrompt = strings.TrimRight(beforePrompt+"\n\n"+afterDesignDoc, "\n")
		}
	}

	if beforeTask != "" {
		if strings.Contains(body, anchorTask) {
			body = strings.Replace(body, anchorTask, beforeTask+"\n\n"+anchorTask, 1)
		} else {
			body = strings.TrimRight(body, "\n") + "\n\n" + beforeTask
		}
	}

	var out strings.Builder
	if beforePrompt != "" {
		out.WriteString(beforePrompt)
		out.WriteString("\n\n")
	}
	out.WriteString(body)
	if afterTask != "" {
		out.WriteString("\n\n")
		out.WriteString(afterTask)
	}
	return out.String()
}

// enrichGeneratorContext substitutes {{existing_stories}}, {{category_stats}},
// {{total_stories}}, and {{inputs_list}} for a generator-loop prompt (spec
// §4.3 step 4).
func (b *Builder) enrichGeneratorContext(ctx context.Context, template string, loop *config.Loop) (string, error) {
	items, err := b.store.AllSourceItems(ctx, loop.Name)
	if err != nil {
		return "", err
	}

	type storySummary struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		Category string `json:"category"`
	}
	summaries := make([]storySummary, 0, len(items))
	for _, it := range items {
		summaries = append(summaries, storySummary{ID: it.ID, Title: it.Title, Category: it.Category})
	}
	existingJSON, err := json.Marshal(summaries)
	if err != nil {
		return "", err
	}

	stats := categoryStats(items)
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return "", err
	}

	inputsDir := filepath.Join(b.projectDir, loop.Name, "inputs")
	var inputNames []string
	if entries, err := os.ReadDir(inputsDir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				inputNames = append(inputNames, e.Name())
			}
		}
	}
	inputsJSON, err := json.Marshal(inputNames)
	if err != nil {
		return "", err
	}

	out := template
	out = strings.ReplaceAll(out, "{{existing_stories}}", escapeInjection(string(existingJSON)))
	out = strings.ReplaceAll(out, "{{category_stats}}", escapeInjection(string(statsJSON)))
	out = strings.ReplaceAll(out, "{{total_stories}}", strconv.Itoa(len(items)))
	out = strings.ReplaceAll(out, "{{inputs_list}}", escapeInjection(string(inputsJSON)))
	return out, nil
}

type categoryStat struct {
	Count  int      `json:"count"`
	IDs    []string `json:"ids"`
	NextID string   `json:"next_id"`
}

// categoryStats groups items by category and, for each category, finds the
// highest numeric suffix among IDs matching ^[A-Za-z]+-\d+$ to propose the
// next sequential ID (spec §4.3 step 4).
func categoryStats(items []*domain.WorkItem) map[string]categoryStat {
	stats := make(map[string]categoryStat)
	maxNum := make(map[string]int)
	prefix := make(map[string]string)

	for _, it := range items {
		cat := it.Category
		s := stats[cat]
		s.Count++
		s.IDs = append(s.IDs, it.ID)
		stats[cat] = s

		if m := storyIDPattern.FindStringSubmatch(it.ID); m != nil {
			if n, err := strconv.Atoi(m[2]); err == nil {
				if n > maxNum[cat] {
					maxNum[cat] = n
					prefix[cat] = m[1]
				}
				if _, ok := prefix[cat]; !ok {
					prefix[cat] = m[1]
				}
			}
		}
	}

	for cat, s := range stats {
		p := prefix[cat]
		if p == "" {
			p = strings.ToUpper(cat)
		}
		s.NextID = fmt.Sprintf("%s-%d", p, maxNum[cat]+1)
		stats[cat] = s
	}
	return stats
}

// substituteItem implements spec §4.3 step 5: most-specific-first
// substitution of the claimed item's fields.
func substituteItem(template string, item *domain.WorkItem, loop *config.Loop) string {
	metadataJSON, _ := json.Marshal(item.Metadata)

	out := template
	out = strings.ReplaceAll(out, "{{input_item.metadata}}", escapeInjection(string(metadataJSON)))
	out = strings.ReplaceAll(out, "{{input_item.content}}", escapeInjection(item.Content))
	out = strings.ReplaceAll(out, "{{input_item.title}}", escapeInjection(item.Title))
	out = strings.ReplaceAll(out, "{{input_item}}", escapeInjection(item.Content))
	out = strings.ReplaceAll(out, "{{source_loop}}", escapeInjection(item.SourceLoop))
	return out
}

// renderBatchSection appends a listing of every item in a >1-item batch
// (spec §4.3 step 6).
func renderBatchSection(batch []*domain.WorkItem) string {
	var b strings.Builder
	b.WriteString("\n\n## Batch items\n\n")
	for _, it := range batch {
		fmt.Fprintf(&b, "- **%s** (%s): %s\n", escapeInjection(it.ID), escapeInjection(it.Title), escapeInjection(it.Content))
	}
	return b.String()
}

// escapeInjection breaks any literal "{{" or "}}" inside a user-controlled
// substitution value by inserting a zero-width space between the two
// characters, so a field value containing "{{other_var}}" cannot be
// reinterpreted by a later substitution pass (spec §4.3 step 7).
func escapeInjection(s string) string {
	const zeroWidthSpace = "​"
	s = strings.ReplaceAll(s, "{{", "{"+zeroWidthSpace+"{")
	s = strings.ReplaceAll(s, "}}", "}"+zeroWidthSpace+"}")
	return s
}

// renderTrackingMarker appends an HTML comment carrying run_id, project
// slug, iteration, mode, and timestamp, with values sanitized to strip
// "--" and quote characters so they cannot close the comment early (spec
// §4.3 step 8).
func renderTrackingMarker(req Request) string {
	sanitize := func(s string) string {
		s = strings.ReplaceAll(s, "--", "")
		s = strings.ReplaceAll(s, `"`, "")
		s = strings.ReplaceAll(s, "'", "")
		return s
	}
	return fmt.Sprintf("\n\n<!-- ralphx: run_id=%s project=%s iteration=%d mode=%s ts=%s -->",
		sanitize(req.RunID), sanitize(req.ProjectSlug), req.Iteration, sanitize(req.ModeName),
		sanitize(time.Now().UTC().Format(time.RFC3339)))
}
