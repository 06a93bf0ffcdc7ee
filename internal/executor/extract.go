package executor

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ralphx/ralphx/internal/domain"
)

var (
	markdownListPattern = regexp.MustCompile(`(?m)^-\s+\*\*([^*]+)\*\*:\s*(.+)$`)
	numberedListPattern = regexp.MustCompile(`(?m)^\d+\.\s+\[([^\]]+)\]\s*(.+)$`)
	jsonArrayPattern    = regexp.MustCompile(`(?s)\[\s*\{.*\}\s*\]`)
)

// rawExtractedItem mirrors the structured-JSON extraction shape (spec
// §4.5 step 7 pattern 1): "{id, content, title?, priority?, category?,
// tags?, dependencies?, metadata?, …}".
type rawExtractedItem struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Title        string         `json:"title"`
	Priority     int            `json:"priority"`
	Category     string         `json:"category"`
	Tags         []string       `json:"tags"`
	Dependencies []string       `json:"dependencies"`
	Metadata     map[string]any `json:"metadata"`
}

// extractItems tries the three fallback patterns in order, stopping at the
// first one that yields at least one item (spec §4.5 step 7).
func extractItems(text string) []*domain.WorkItem {
	if items := extractStructuredJSON(text); len(items) > 0 {
		return items
	}
	if items := extractMarkdownList(text); len(items) > 0 {
		return items
	}
	return extractNumberedList(text)
}

func extractStructuredJSON(text string) []*domain.WorkItem {
	match := jsonArrayPattern.FindString(text)
	if match == "" {
		return nil
	}
	var raw []rawExtractedItem
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil
	}
	items := make([]*domain.WorkItem, 0, len(raw))
	for _, r := range raw {
		if r.ID == "" || r.Content == "" {
			continue
		}
		items = append(items, &domain.WorkItem{
			ID: r.ID, Content: r.Content, Title: r.Title, Priority: r.Priority,
			Category: r.Category, Tags: r.Tags, Dependencies: r.Dependencies, Metadata: r.Metadata,
		})
	}
	return items
}

func extractMarkdownList(text string) []*domain.WorkItem {
	matches := markdownListPattern.FindAllStringSubmatch(text, -1)
	items := make([]*domain.WorkItem, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSpace(m[1])
		content := strings.TrimSpace(m[2])
		if id == "" || content == "" {
			continue
		}
		items = append(items, &domain.WorkItem{ID: id, Content: content})
	}
	return items
}

func extractNumberedList(text string) []*domain.WorkItem {
	matches := numberedListPattern.FindAllStringSubmatch(text, -1)
	items := make([]*domain.WorkItem, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSpace(m[1])
		content := strings.TrimSpace(m[2])
		if id == "" || content == "" {
			continue
		}
		items = append(items, &domain.WorkItem{ID: id, Content: content})
	}
	return items
}
