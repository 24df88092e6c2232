package ingest

import "strings"

// Section is a contiguous block of markdown under one heading.
type Section struct {
	// Heading is the leaf heading text. Content before the first
	// heading has no heading, so it is empty there.
	Heading string
	// Path is the full heading breadcrumb, outer to inner, joined
	// with " > ". Content before the first heading gets the synthetic
	// "Introduction" path.
	Path string
	// Body is the section text without the heading line.
	Body string
	// Offset is the byte offset of the first body content line within
	// the source.
	Offset int
}

// parseMarkdownSections splits markdown into heading-delimited sections.
// Heading markers inside fenced code blocks are ignored. Content before
// the first heading becomes an "Introduction" section.
func parseMarkdownSections(src string) []Section {
	type frame struct {
		level int
		title string
	}

	var (
		sections []Section
		stack    []frame
		body     strings.Builder
		bodyOff  = 0
		inFence  = false
	)

	currentPath := func() (string, string) {
		if len(stack) == 0 {
			return "", "Introduction"
		}
		titles := make([]string, len(stack))
		for i, f := range stack {
			titles[i] = f.title
		}
		return stack[len(stack)-1].title, strings.Join(titles, " > ")
	}

	flush := func() {
		text := strings.TrimSpace(body.String())
		if text == "" {
			body.Reset()
			return
		}
		heading, path := currentPath()
		sections = append(sections, Section{
			Heading: heading,
			Path:    path,
			Body:    text,
			Offset:  bodyOff,
		})
		body.Reset()
	}

	pos := 0
	for _, line := range strings.SplitAfter(src, "\n") {
		lineStart := pos
		pos += len(line)

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if !inFence {
			if level, title, ok := parseHeading(trimmed); ok {
				flush()
				// Pop frames at the same or deeper level, then push.
				for len(stack) > 0 && stack[len(stack)-1].level >= level {
					stack = stack[:len(stack)-1]
				}
				stack = append(stack, frame{level: level, title: title})
				continue
			}
		}

		// Leading blank lines are skipped so Offset points at the
		// first content byte of the section.
		if body.Len() == 0 {
			if trimmed == "" {
				continue
			}
			bodyOff = lineStart
		}
		body.WriteString(line)
	}
	flush()

	return sections
}

// parseHeading recognizes an ATX heading line.
func parseHeading(line string) (level int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level == len(line) || line[level] != ' ' {
		return 0, "", false
	}
	title = strings.TrimSpace(strings.TrimRight(line[level+1:], "#"))
	title = strings.TrimSpace(title)
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}
