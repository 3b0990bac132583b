package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkMarkdown_HeadingsAndOffsets(t *testing.T) {
	md := "# Title\n\nIntro paragraph.\n\n## Section One\n\nBody one.\nMore body.\n\n## Section Two\n\nBody two.\n"

	chunks := ChunkMarkdown(md)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Intro paragraph.", chunks[0].Content)
	assert.Equal(t, []string{"Title"}, chunks[0].HeadingPath)
	require.NotNil(t, chunks[0].HeadingLevel)
	assert.Equal(t, 1, *chunks[0].HeadingLevel)
	require.NotNil(t, chunks[0].SectionMarker)
	assert.Equal(t, "#", *chunks[0].SectionMarker)

	assert.Equal(t, "Body one.\nMore body.", chunks[1].Content)
	assert.Equal(t, []string{"Title", "Section One"}, chunks[1].HeadingPath)

	// A sibling heading replaces its predecessor in the path
	assert.Equal(t, "Body two.", chunks[2].Content)
	assert.Equal(t, []string{"Title", "Section Two"}, chunks[2].HeadingPath)

	// Offsets slice back to the exact content
	for i, c := range chunks {
		require.NotNil(t, c.StartOffset, "chunk %d", i)
		require.NotNil(t, c.EndOffset, "chunk %d", i)
		assert.Equal(t, c.Content, md[*c.StartOffset:*c.EndOffset], "chunk %d", i)
		assert.Equal(t, i, c.ChunkIndex)
	}
}

func TestChunkMarkdown_PreambleWithoutHeading(t *testing.T) {
	md := "Plain text before any heading.\n\n# Later\n\nAfter."

	chunks := ChunkMarkdown(md)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Plain text before any heading.", chunks[0].Content)
	assert.Empty(t, chunks[0].HeadingPath)
	assert.Nil(t, chunks[0].HeadingLevel)
	assert.Nil(t, chunks[0].SectionMarker)
}

func TestChunkMarkdown_IgnoresHeadingsInCodeFence(t *testing.T) {
	md := "# Real\n\nBefore.\n\n```\n# not a heading\n```\n\nAfter."

	chunks := ChunkMarkdown(md)
	require.Len(t, chunks, 1)
	assert.Equal(t, []string{"Real"}, chunks[0].HeadingPath)
	assert.Contains(t, chunks[0].Content, "# not a heading")
}

func TestParseHeading(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel int
		wantText  string
		wantOK    bool
	}{
		{"# Title", 1, "Title", true},
		{"### Deep ", 3, "Deep", true},
		{"## Trailing ##", 2, "Trailing", true},
		{"#NoSpace", 0, "", false},
		{"####### too deep", 0, "", false},
		{"plain", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			level, text, ok := parseHeading(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantLevel, level)
				assert.Equal(t, tt.wantText, text)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a\nb", normalizeText("a\r\nb\r\n"))
	assert.Equal(t, "a\nb", normalizeText("a\rb\n\n"))
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, CountWords(""))
	assert.Equal(t, 4, CountWords("one two  three\nfour"))
}

func TestFirstHeading(t *testing.T) {
	assert.Equal(t, "My Title", firstHeading("preamble\n\n## My Title\n\nbody"))
	assert.Equal(t, "", firstHeading("no headings here"))
}

func TestGetHumanFriendlyMessage(t *testing.T) {
	assert.Equal(t,
		"This PDF file appears to be corrupted or invalid.",
		getHumanFriendlyMessage("Invalid PDF structure", ""))
	assert.Equal(t,
		"This EPUB is DRM-protected and cannot be extracted.",
		getHumanFriendlyMessage("conversion failed", "book has DRM protection"))
	assert.Equal(t,
		"something odd (low-level detail)",
		getHumanFriendlyMessage("something odd", "low-level detail"))
	assert.Equal(t, "bare message", getHumanFriendlyMessage("bare message", ""))
}

func TestChunksFromTree(t *testing.T) {
	raw := []byte(`{
		"name": "paper",
		"version": "2.7.0",
		"texts": [
			{"label": "title", "text": "Paper Title", "level": 1},
			{"label": "section_header", "text": "Introduction", "level": 2},
			{"label": "text", "text": "First paragraph.", "prov": [{"page_no": 1, "bbox": {"l": 10, "t": 700, "r": 500, "b": 650}}]},
			{"label": "text", "text": "Second paragraph.", "prov": [{"page_no": 2, "bbox": {"l": 10, "t": 700, "r": 500, "b": 650}}]},
			{"label": "section_header", "text": "Methods", "level": 2},
			{"label": "text", "text": "Method details.", "prov": [{"page_no": 2, "bbox": {"l": 10, "t": 600, "r": 500, "b": 550}}]}
		],
		"pages": {"1": {}, "2": {}}
	}`)

	var tree doclingDocument
	require.NoError(t, json.Unmarshal(raw, &tree))

	md := "# Paper Title\n\n## Introduction\n\nFirst paragraph.\n\nSecond paragraph.\n\n## Methods\n\nMethod details.\n"
	chunks := chunksFromTree(&tree, md)
	require.Len(t, chunks, 2)

	intro := chunks[0]
	assert.Equal(t, []string{"Paper Title", "Introduction"}, intro.HeadingPath)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", intro.Content)
	require.NotNil(t, intro.PageStart)
	require.NotNil(t, intro.PageEnd)
	assert.Equal(t, 1, *intro.PageStart)
	assert.Equal(t, 2, *intro.PageEnd)
	assert.Len(t, intro.BBoxes, 2)

	// Offsets are located in the markdown by forward search
	require.NotNil(t, intro.StartOffset)
	require.NotNil(t, intro.EndOffset)
	assert.Equal(t, "First paragraph.", md[*intro.StartOffset:*intro.StartOffset+len("First paragraph.")])

	methods := chunks[1]
	assert.Equal(t, []string{"Paper Title", "Methods"}, methods.HeadingPath)
	require.NotNil(t, methods.HeadingLevel)
	assert.Equal(t, 2, *methods.HeadingLevel)
}

func TestHTMLTitle(t *testing.T) {
	assert.Equal(t, "My Page", htmlTitle(`<html><head><title> My Page </title></head></html>`))
	assert.Equal(t, "A & B", htmlTitle(`<title>A &amp; B</title>`))
	assert.Equal(t, "", htmlTitle(`<html><body>untitled</body></html>`))
}
