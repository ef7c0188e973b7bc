package automation

import "regexp"

// tokenPattern matches {{field}} with optional inner whitespace.
var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Interpolate substitutes {{field}} tokens with values from the event
// payload in a single bounded pass. Missing fields become empty strings.
// This is intentionally not a general templating engine: no nesting,
// expressions, or recursion into substituted values.
func Interpolate(s string, payload map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		name := tokenPattern.FindStringSubmatch(tok)[1]
		return payload[name]
	})
}
