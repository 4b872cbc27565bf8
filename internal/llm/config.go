// Package llm provides a thin client abstraction over the Gemini API for
// text, JSON, and image generation.
package llm

import "strings"

// knownAliases maps shorthand model names to their canonical identifiers.
var knownAliases = map[string]string{
	"flash":      "gemini-2.0-flash-exp",
	"flash-lite": "gemini-2.5-flash-lite",
	"pro":        "gemini-2.5-pro",
	"imagen":     "imagen-3.0-generate-002",
}

// NormalizeModelName returns the canonical model identifier. Clients send
// names with or without the "models/" resource prefix; the SDK wants the
// bare name. Shorthand aliases are expanded.
func NormalizeModelName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "models/")
	if canonical, ok := knownAliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}
