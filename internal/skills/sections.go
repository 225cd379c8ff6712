package skills

import (
	"fmt"
	"sort"
	"strings"
)

// Section is one `##`-delimited block of a skill's markdown body.
// The preamble before the first heading is a section with an empty
// heading.
type Section struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Split breaks a markdown body into sections on level-two headings.
func Split(content string) []Section {
	lines := strings.Split(content, "\n")
	sections := make([]Section, 0)

	current := Section{}
	var body []string

	flush := func() {
		text := strings.TrimRight(strings.Join(body, "\n"), "\n")
		if current.Heading == "" && strings.TrimSpace(text) == "" {
			body = nil
			return
		}
		current.Body = text
		sections = append(sections, current)
		body = nil
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = Section{Heading: strings.TrimSpace(strings.TrimPrefix(line, "## "))}
			continue
		}
		body = append(body, line)
	}
	flush()

	return sections
}

// Join renders sections back into a markdown body.
func Join(sections []Section) string {
	var b strings.Builder
	for i, section := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if section.Heading != "" {
			b.WriteString("## ")
			b.WriteString(section.Heading)
			if section.Body != "" {
				b.WriteString("\n\n")
			}
		}
		b.WriteString(strings.TrimSpace(section.Body))
	}
	out := b.String()
	if out != "" && !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out
}

// Diff describes how incoming content differs from base, by section
// heading.
type Diff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

// Empty reports whether the diff contains no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Compare diffs two markdown bodies section by section.
func Compare(base, incoming string) Diff {
	baseSections := bySection(Split(base))
	incomingSections := bySection(Split(incoming))

	var d Diff
	for heading, body := range incomingSections {
		baseBody, ok := baseSections[heading]
		if !ok {
			d.Added = append(d.Added, heading)
			continue
		}
		if strings.TrimSpace(baseBody) != strings.TrimSpace(body) {
			d.Changed = append(d.Changed, heading)
		}
	}
	for heading := range baseSections {
		if _, ok := incomingSections[heading]; !ok {
			d.Removed = append(d.Removed, heading)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// Merge applies incoming sections over the base: matching headings are
// replaced, untouched base sections are kept in place, and new
// sections are appended in their incoming order. Sections absent from
// incoming are NOT removed; incremental updates only ever add or
// revise knowledge.
func Merge(base, incoming string) (string, Diff) {
	baseSections := Split(base)
	incomingSections := Split(incoming)
	incomingByHeading := bySection(incomingSections)

	d := Diff{}
	merged := make([]Section, 0, len(baseSections)+len(incomingSections))
	seen := make(map[string]bool)

	for _, section := range baseSections {
		if body, ok := incomingByHeading[section.Heading]; ok {
			seen[section.Heading] = true
			if strings.TrimSpace(body) != strings.TrimSpace(section.Body) {
				d.Changed = append(d.Changed, section.Heading)
				section.Body = body
			}
		}
		merged = append(merged, section)
	}

	for _, section := range incomingSections {
		if seen[section.Heading] {
			continue
		}
		if _, ok := bySection(baseSections)[section.Heading]; ok {
			continue
		}
		d.Added = append(d.Added, section.Heading)
		merged = append(merged, section)
	}

	sort.Strings(d.Added)
	sort.Strings(d.Changed)
	return Join(merged), d
}

// Summary renders a one-line change summary suitable as a commit
// message.
func (d Diff) Summary() string {
	if d.Empty() {
		return "No content changes"
	}
	parts := make([]string, 0, 3)
	if len(d.Added) > 0 {
		parts = append(parts, fmt.Sprintf("added %s", strings.Join(quoteAll(d.Added), ", ")))
	}
	if len(d.Changed) > 0 {
		parts = append(parts, fmt.Sprintf("updated %s", strings.Join(quoteAll(d.Changed), ", ")))
	}
	if len(d.Removed) > 0 {
		parts = append(parts, fmt.Sprintf("removed %s", strings.Join(quoteAll(d.Removed), ", ")))
	}
	summary := strings.Join(parts, "; ")
	return strings.ToUpper(summary[:1]) + summary[1:]
}

func bySection(sections []Section) map[string]string {
	out := make(map[string]string, len(sections))
	for _, section := range sections {
		out[section.Heading] = section.Body
	}
	return out
}

func quoteAll(items []string) []string {
	out := make([]string, len(items))
	for i, item := range items {
		name := item
		if name == "" {
			name = "preamble"
		}
		out[i] = fmt.Sprintf("%q", name)
	}
	return out
}
