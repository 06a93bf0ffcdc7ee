package llmadapter

import "testing"

func TestIsRateLimited(t *testing.T) {
	positive := []string{
		"Error: 429 Too Many Requests",
		"the API returned RATE_LIMIT_ERROR",
		"model is currently overloaded, try again later",
		"Too Many Requests from upstream",
	}
	for _, text := range positive {
		if !isRateLimited(text) {
			t.Errorf("isRateLimited(%q) = false, want true", text)
		}
	}

	negative := []string{
		"invalid API key",
		"",
		"connection refused",
	}
	for _, text := range negative {
		if isRateLimited(text) {
			t.Errorf("isRateLimited(%q) = true, want false", text)
		}
	}
}
