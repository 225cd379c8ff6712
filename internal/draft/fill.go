package draft

import (
	"regexp"
	"sort"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Placeholders lists the distinct placeholder names in a template
// body, in order of first appearance.
func Placeholders(body string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(body, -1)
	seen := make(map[string]bool)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Fill substitutes {{field}} placeholders from the customer field map.
// Placeholders with no matching field are left untouched and reported
// as unresolved, sorted for stable output.
func Fill(body string, fields map[string]string) (string, []string) {
	unresolvedSet := make(map[string]bool)

	filled := placeholderPattern.ReplaceAllStringFunc(body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := fields[name]
		if !ok || strings.TrimSpace(value) == "" {
			unresolvedSet[name] = true
			return match
		}
		return value
	})

	unresolved := make([]string, 0, len(unresolvedSet))
	for name := range unresolvedSet {
		unresolved = append(unresolved, name)
	}
	sort.Strings(unresolved)
	return filled, unresolved
}
