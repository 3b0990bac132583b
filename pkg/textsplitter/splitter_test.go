package textsplitter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_OffsetsSliceBackToContent(t *testing.T) {
	text := "# Heading\n\nFirst paragraph with some sentences. Another sentence here.\n\nSecond paragraph follows after a break.\n\nThird one."

	chunks := Split(text, Config{ChunkSize: 60})
	require.NotEmpty(t, chunks)

	prevEnd := -1
	for i, c := range chunks {
		assert.Equal(t, c.Content, text[c.StartOffset:c.EndOffset], "chunk %d", i)
		assert.Greater(t, c.StartOffset, prevEnd, "chunk %d overlaps predecessor", i)
		prevEnd = c.EndOffset - 1
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	p1 := strings.Repeat("aaaa ", 16) // 80 chars
	p2 := strings.Repeat("bbbb ", 16)
	text := strings.TrimSpace(p1) + "\n\n" + strings.TrimSpace(p2)

	chunks := Split(text, Config{ChunkSize: 100})
	require.Len(t, chunks, 2)
	assert.Equal(t, strings.TrimSpace(p1), chunks[0].Content)
	assert.Equal(t, strings.TrimSpace(p2), chunks[1].Content)
}

func TestSplit_RespectsChunkSize(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet. ", 50)

	chunks := Split(text, Config{ChunkSize: 120})
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.LessOrEqual(t, len(c.Content), 120, "chunk %d", i)
	}
}

func TestSplit_MergesSmallTrailingPiece(t *testing.T) {
	text := strings.Repeat("word ", 30) + "\n\ntail"

	merged := Split(text, Config{ChunkSize: 200, MinChunkSize: 50})
	unmerged := Split(text, Config{ChunkSize: 200, MinChunkSize: 0})

	// Everything fits one chunk at size 200
	require.Len(t, merged, 1)
	require.Len(t, unmerged, 1)

	// Force the paragraph split, then the 4-char tail merges back
	merged = Split(text, Config{ChunkSize: 150, MinChunkSize: 50})
	require.Len(t, merged, 1)
	assert.Contains(t, merged[0].Content, "tail")

	unmerged = Split(text, Config{ChunkSize: 150, MinChunkSize: 0})
	require.Len(t, unmerged, 2)
	assert.Equal(t, "tail", unmerged[1].Content)
}

func TestSplit_WordAndTokenCounts(t *testing.T) {
	chunks := Split("one two three four", Config{ChunkSize: 100})
	require.Len(t, chunks, 1)
	assert.Equal(t, 4, chunks[0].WordCount)
	assert.Equal(t, EstimateTokens("one two three four"), chunks[0].TokenCount)
}

func TestSplit_Empty(t *testing.T) {
	assert.Nil(t, Split("", DefaultConfig()))
	assert.Empty(t, Split("   \n\n  ", DefaultConfig()))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
}
