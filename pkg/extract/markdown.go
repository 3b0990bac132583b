package extract

import (
	"strings"
)

// ChunkMarkdown splits markdown into extractor chunks on ATX headings.
// Each chunk is the prose between two headings and carries the heading
// path above it plus exact character offsets into the input. Formats with
// no richer structure (markdown, txt, paste, converted HTML) get their
// structural metadata from here.
func ChunkMarkdown(markdown string) []Chunk {
	var out []Chunk
	var headingPath []string
	headingLevel := 0
	inFence := false

	var body strings.Builder
	bodyStart := -1

	flush := func() {
		content := strings.TrimRight(body.String(), "\n \t")
		if strings.TrimSpace(content) != "" {
			path := make([]string, len(headingPath))
			copy(path, headingPath)
			c := Chunk{
				ChunkIndex:    len(out),
				Content:       content,
				HeadingPath:   path,
				SectionMarker: sectionMarker(headingLevel),
			}
			if headingLevel > 0 {
				lvl := headingLevel
				c.HeadingLevel = &lvl
			}
			start := bodyStart
			end := start + len(content)
			c.StartOffset = &start
			c.EndOffset = &end
			out = append(out, c)
		}
		body.Reset()
		bodyStart = -1
	}

	offset := 0
	for _, line := range strings.SplitAfter(markdown, "\n") {
		lineStart := offset
		offset += len(line)

		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if level, text, ok := parseHeading(trimmed); ok && !inFence {
			flush()
			if level <= len(headingPath) {
				headingPath = headingPath[:level-1]
			}
			headingPath = append(headingPath, text)
			headingLevel = level
			continue
		}

		if bodyStart < 0 && strings.TrimSpace(line) != "" {
			// skip leading blank lines so offsets point at prose
			bodyStart = lineStart
		}
		if bodyStart >= 0 {
			body.WriteString(line)
		}
	}
	flush()

	return out
}

// parseHeading recognizes an ATX heading line and returns its level and text
func parseHeading(line string) (int, string, bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 {
		return 0, "", false
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, "", false
	}
	text := strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
	if text == "" {
		text = strings.TrimSpace(rest)
	}
	return level, text, true
}
