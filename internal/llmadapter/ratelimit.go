package llmadapter

import "strings"

// rateLimitPatterns are matched case-insensitively against stderr/JSONL
// error text to classify a failure as RATE_LIMITED instead of its default
// code (spec §4.2 step 5, §7).
var rateLimitPatterns = []string{
	"429", "rate limit", "overloaded", "rate_limit_error", "too many requests",
}

// isRateLimited reports whether text matches any known rate-limit pattern.
func isRateLimited(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range rateLimitPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
