package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/pkg/extract"
)

func TestMatcher_ExactSubstring(t *testing.T) {
	md := "Alpha beta gamma. Delta epsilon zeta."
	m := NewMatcher(md)

	match, ok := m.Locate("Delta epsilon zeta.")
	require.True(t, ok)
	assert.Equal(t, chunks.ConfidenceExact, match.Confidence)
	assert.Equal(t, MethodExactSubstring, match.Method)
	assert.Equal(t, "Delta epsilon zeta.", md[match.Start:match.End])
}

func TestMatcher_ForwardCursorResolvesRepeats(t *testing.T) {
	md := "repeat text here. middle. repeat text here."
	m := NewMatcher(md)

	first, ok := m.Locate("repeat text here.")
	require.True(t, ok)
	second, ok := m.Locate("repeat text here.")
	require.True(t, ok)
	assert.Greater(t, second.Start, first.End-1, "second occurrence resolves after the first")
}

func TestMatcher_NormalizedWhitespace(t *testing.T) {
	md := "Some   text\nwith   uneven\n\nspacing here."
	m := NewMatcher(md)

	match, ok := m.Locate("Some text with uneven spacing here.")
	require.True(t, ok)
	assert.Equal(t, chunks.ConfidenceHigh, match.Confidence)
	assert.Equal(t, MethodNormalizedWhitespace, match.Method)
	assert.Equal(t, "Some", md[match.Start:match.Start+4])
	assert.Equal(t, byte('.'), md[match.End-1])
}

func TestMatcher_AnchorTriangulation(t *testing.T) {
	head := strings.Repeat("alpha bravo charlie delta ", 4)
	tail := strings.Repeat("xray yankee zulu victor ", 4)
	md := "prefix. " + head + "SOMETHING ELSE IN THE MIDDLE " + tail + " suffix."

	// content shares head and tail but differs in the middle
	content := head + "a middle the original never had " + tail
	m := NewMatcher(md)

	match, ok := m.Locate(content)
	require.True(t, ok)
	assert.Equal(t, chunks.ConfidenceMedium, match.Confidence)
	assert.Equal(t, MethodAnchorTriangulation, match.Method)
	assert.True(t, strings.HasPrefix(md[match.Start:], "alpha"))
}

func TestAlignSemanticChunk_LengthInterpolation(t *testing.T) {
	md := "completely different document text with nothing in common at all"
	m := NewMatcher(md)

	start, end := 10, 60
	parent := extract.Chunk{StartOffset: &start, EndOffset: &end}
	match := AlignSemanticChunk(m, "text the cascade cannot find anywhere in there", 12, &parent)
	assert.Equal(t, chunks.ConfidenceMedium, match.Confidence)
	assert.Equal(t, MethodLengthInterpolation, match.Method)
	assert.Equal(t, 12, match.Start)
	assert.LessOrEqual(t, match.End, end)
}

func TestAlignSemanticChunk_SyntheticGapFill(t *testing.T) {
	m := NewMatcher("short doc")

	match := AlignSemanticChunk(m, "unfindable words entirely absent", 4, nil)
	assert.Equal(t, chunks.ConfidenceSynthetic, match.Confidence)
	assert.Equal(t, MethodSyntheticGapFill, match.Method)
	assert.Equal(t, 4, match.Start)
	assert.Equal(t, 4+len("unfindable words entirely absent"), match.End)
}

func TestReanchorExtractorChunks(t *testing.T) {
	md := "# Title\n\nFirst section body text.\n\nSecond section body text."
	ex := []extract.Chunk{
		{ChunkIndex: 0, Content: "First section body text."},
		{ChunkIndex: 1, Content: "Second section body text."},
	}

	out := ReanchorExtractorChunks(md, ex)
	require.Len(t, out, 2)
	for i, c := range out {
		require.NotNil(t, c.StartOffset, "chunk %d", i)
		require.NotNil(t, c.EndOffset, "chunk %d", i)
		assert.Equal(t, ex[i].Content, md[*c.StartOffset:*c.EndOffset], "chunk %d", i)
	}
	assert.Greater(t, *out[1].StartOffset, *out[0].EndOffset-1)
}

func TestValidatePositions(t *testing.T) {
	matches := []Match{
		{Start: 0, End: 10},
		{Start: 8, End: 20},  // overlap of 2, within epsilon
		{Start: 5, End: 30},  // overlap of 15, beyond epsilon
		{Start: 40, End: 50}, // clean
		{Start: 60, End: 55}, // inverted
	}

	flags := ValidatePositions(matches)
	assert.Equal(t, []bool{true, true, false, true, false}, flags)
}

func TestNormalizeWhitespace_IndexMap(t *testing.T) {
	s := "a  b\n\nc"
	norm, idx := normalizeWhitespace(s)
	assert.Equal(t, "a b c", norm)
	require.Len(t, idx, len(norm))
	assert.Equal(t, byte('a'), s[idx[0]])
	assert.Equal(t, byte('b'), s[idx[2]])
	assert.Equal(t, byte('c'), s[idx[4]])
}
