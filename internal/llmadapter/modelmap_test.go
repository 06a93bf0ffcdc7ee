package llmadapter

import "testing"

func TestResolveModel_KnownAliases(t *testing.T) {
	cases := map[string]string{
		"sonnet": "claude-sonnet-4-20250514",
		"opus":   "claude-opus-4-20250514",
		"haiku":  "claude-haiku-3-20240307",
	}
	for alias, want := range cases {
		if got := ResolveModel(alias); got != want {
			t.Errorf("ResolveModel(%q) = %q, want %q", alias, got, want)
		}
	}
}

func TestResolveModel_UnknownPassesThrough(t *testing.T) {
	if got := ResolveModel("claude-sonnet-4-5-custom"); got != "claude-sonnet-4-5-custom" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
