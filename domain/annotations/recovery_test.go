package annotations

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-app/rhizome/domain/chunks"
)

func chunkRow(id uuid.UUID, start int, content string) *chunks.Chunk {
	return &chunks.Chunk{
		ID:          id,
		Content:     content,
		StartOffset: start,
		EndOffset:   start + len(content),
	}
}

func TestRecover_DirectRestore(t *testing.T) {
	id := uuid.New()
	md := "Intro text. The annotated passage lives here. Outro."
	rows := []*chunks.Chunk{chunkRow(id, 0, md)}

	pos := &PositionData{
		ChunkID:      id.String(),
		OriginalText: "annotated passage",
		StartOffset:  16,
		EndOffset:    33,
	}
	rec := Recover(pos, rows, md)

	assert.Equal(t, MethodDirect, rec.Method)
	assert.Equal(t, 1.0, rec.Confidence)
	assert.False(t, rec.NeedsReview)
	assert.False(t, rec.Lost)
	assert.Equal(t, "annotated passage", md[rec.Start:rec.End])
	assert.Equal(t, id, rec.ChunkID)
}

func TestRecover_ContextMatchAfterChunkIDChanged(t *testing.T) {
	md := "Fresh preamble. A genuinely unique annotated span sits here. Tail."
	rows := []*chunks.Chunk{chunkRow(uuid.New(), 0, md)}

	// stale chunk id from before reprocessing
	pos := &PositionData{
		ChunkID:      uuid.NewString(),
		OriginalText: "genuinely unique annotated span",
		StartOffset:  999,
		EndOffset:    1030,
	}
	rec := Recover(pos, rows, md)

	assert.Equal(t, MethodContext, rec.Method)
	assert.Equal(t, 0.95, rec.Confidence)
	assert.False(t, rec.NeedsReview)
	assert.Equal(t, "genuinely unique annotated span", md[rec.Start:rec.End])
}

func TestRecover_ContextDisambiguatesRepeats(t *testing.T) {
	md := "before one the phrase after one. before two the phrase after two."
	rows := []*chunks.Chunk{chunkRow(uuid.New(), 0, md)}

	pos := &PositionData{
		OriginalText: "the phrase",
		TextBefore:   "before two ",
		TextAfter:    " after two",
	}
	rec := Recover(pos, rows, md)

	require.Equal(t, MethodContext, rec.Method)
	assert.Equal(t, 0.9, rec.Confidence)
	assert.Equal(t, "the phrase", md[rec.Start:rec.End])
	assert.Greater(t, rec.Start, 33, "resolves the second occurrence")
}

func TestRecover_LostWhenNothingMatches(t *testing.T) {
	md := "completely unrelated document content"
	rows := []*chunks.Chunk{chunkRow(uuid.New(), 0, md)}

	pos := &PositionData{OriginalText: "zzqx qqzx xqqz zxqq phrase"}
	rec := Recover(pos, rows, md)

	assert.True(t, rec.Lost)
	assert.False(t, rec.NeedsReview)
	assert.Less(t, rec.Confidence, ReviewThreshold)
}

func TestApplyRecovery_LostKeepsStaleAnchor(t *testing.T) {
	pos := &PositionData{
		ChunkID:      "old-chunk",
		StartOffset:  10,
		EndOffset:    20,
		OriginalText: "text",
	}
	ApplyRecovery(pos, Recovery{Method: MethodTrigram, Confidence: 0.3, Lost: true})

	assert.True(t, pos.Lost)
	assert.Equal(t, "old-chunk", pos.ChunkID)
	assert.Equal(t, 10, pos.StartOffset)
	require.NotNil(t, pos.RecoveryConfidence)
	assert.Equal(t, 0.3, *pos.RecoveryConfidence)
}

func TestApplyRecovery_AppliesNewAnchor(t *testing.T) {
	id := uuid.New()
	pos := &PositionData{ChunkID: "stale", StartOffset: 1, EndOffset: 2}
	ApplyRecovery(pos, Recovery{
		ChunkID: id, Start: 40, End: 57,
		Confidence: 0.8, Method: MethodChunkBounded, NeedsReview: true,
	})

	assert.Equal(t, id.String(), pos.ChunkID)
	assert.Equal(t, 40, pos.StartOffset)
	assert.Equal(t, 57, pos.EndOffset)
	assert.True(t, pos.NeedsReview)
	assert.False(t, pos.Lost)
}

func TestUniqueIndex(t *testing.T) {
	idx, ok := uniqueIndex("abc def abc", "def")
	assert.True(t, ok)
	assert.Equal(t, 4, idx)

	_, ok = uniqueIndex("abc def abc", "abc")
	assert.False(t, ok, "repeated needle is not unique")

	_, ok = uniqueIndex("abc", "xyz")
	assert.False(t, ok)
}

func TestTrigramSimilarity(t *testing.T) {
	a := trigrams("the quick brown fox")
	assert.Equal(t, 1.0, jaccard(a, trigrams("the quick brown fox")))
	assert.Equal(t, 1.0, jaccard(a, trigrams("The  Quick   Brown fox")), "normalization ignores case and spacing")

	drifted := jaccard(a, trigrams("the quick brown cat"))
	assert.Greater(t, drifted, 0.5)
	assert.Less(t, drifted, 1.0)

	assert.Equal(t, 0.0, jaccard(a, trigrams("zzzzzzz")))
}

func TestBestWindow_FindsDriftedText(t *testing.T) {
	needle := "the annotated sentence about memory formation"
	md := strings.Repeat("padding text goes on and on. ", 10) +
		"the annotated sentence about memory formation" +
		strings.Repeat(" trailing filler content here.", 10)

	offset, sim := bestWindow(md, needle)
	assert.Greater(t, sim, 0.8)
	// stride-based scan lands near the true offset
	trueOffset := strings.Index(md, needle)
	assert.InDelta(t, trueOffset, offset, float64(len(needle)))
}

func TestFinalizeThresholds(t *testing.T) {
	auto := finalize(Recovery{Confidence: 0.9})
	assert.False(t, auto.NeedsReview)
	assert.False(t, auto.Lost)

	review := finalize(Recovery{Confidence: 0.8})
	assert.True(t, review.NeedsReview)
	assert.False(t, review.Lost)

	lostRec := finalize(Recovery{Confidence: 0.5})
	assert.False(t, lostRec.NeedsReview)
	assert.True(t, lostRec.Lost)
}
