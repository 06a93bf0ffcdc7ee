package llmadapter

// modelMap resolves a mode's short model name to the CLI's full model
// identifier (spec §6 "Model name resolution map"). Unknown names pass
// through unchanged — new model aliases work without a code change.
var modelMap = map[string]string{
	"sonnet": "claude-sonnet-4-20250514",
	"opus":   "claude-opus-4-20250514",
	"haiku":  "claude-haiku-3-20240307",
}

// ResolveModel maps a short alias to its full identifier, passing unknown
// names through unchanged.
func ResolveModel(name string) string {
	if full, ok := modelMap[name]; ok {
		return full
	}
	return name
}
