package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/pkg/extract"
)

func exChunk(start, end int, pageStart, pageEnd int, path ...string) extract.Chunk {
	lvl := len(path)
	marker := "#"
	return extract.Chunk{
		Content:       "x",
		StartOffset:   &start,
		EndOffset:     &end,
		PageStart:     &pageStart,
		PageEnd:       &pageEnd,
		HeadingPath:   path,
		HeadingLevel:  &lvl,
		SectionMarker: &marker,
	}
}

func TestTransferMetadata_HighConfidence(t *testing.T) {
	ex := []extract.Chunk{exChunk(0, 100, 1, 2, "Intro")}
	c := &chunks.Chunk{StartOffset: 10, EndOffset: 90}

	TransferMetadata([]*chunks.Chunk{c}, ex)

	require.NotNil(t, c.MetadataOverlapCount)
	assert.Equal(t, 1, *c.MetadataOverlapCount)
	require.NotNil(t, c.MetadataConfidence)
	assert.Equal(t, chunks.MetadataHigh, *c.MetadataConfidence)
	assert.False(t, c.MetadataInterpolated)
	require.NotNil(t, c.PageStart)
	assert.Equal(t, 1, *c.PageStart)
	assert.Equal(t, []string{"Intro"}, c.HeadingPath)
}

func TestTransferMetadata_MediumAndLowConfidence(t *testing.T) {
	// extractor covers only the first 60 of 100 chars -> fraction 0.6
	medium := &chunks.Chunk{StartOffset: 0, EndOffset: 100}
	// covers only 30 of 100 -> fraction 0.3
	low := &chunks.Chunk{StartOffset: 100, EndOffset: 200}

	ex := []extract.Chunk{exChunk(0, 60, 1, 1, "A"), exChunk(100, 130, 2, 2, "B")}
	TransferMetadata([]*chunks.Chunk{medium, low}, ex)

	assert.Equal(t, chunks.MetadataMedium, *medium.MetadataConfidence)
	assert.Equal(t, chunks.MetadataLow, *low.MetadataConfidence)
	assert.False(t, low.MetadataInterpolated, "low confidence is not interpolation")
}

func TestTransferMetadata_InterpolatedWhenNoOverlap(t *testing.T) {
	// gap between extractor chunks; semantic chunk falls inside the gap
	c := &chunks.Chunk{StartOffset: 210, EndOffset: 240}
	ex := []extract.Chunk{exChunk(0, 200, 1, 3, "Before"), exChunk(300, 400, 5, 6, "After")}

	TransferMetadata([]*chunks.Chunk{c}, ex)

	assert.Equal(t, 0, *c.MetadataOverlapCount)
	assert.True(t, c.MetadataInterpolated)
	assert.Equal(t, chunks.MetadataLow, *c.MetadataConfidence)
	// structural fields inferred from the nearest neighbor (the first chunk)
	require.NotNil(t, c.PageStart)
	assert.Equal(t, 1, *c.PageStart)
	assert.Equal(t, []string{"Before"}, c.HeadingPath)
}

func TestTransferMetadata_SyntheticPlacementAlwaysInterpolated(t *testing.T) {
	// a gap-filled chunk whose estimated offsets happen to overlap an
	// extractor chunk must still be flagged interpolated with low confidence
	synthetic := chunks.ConfidenceSynthetic
	c := &chunks.Chunk{StartOffset: 10, EndOffset: 90, PositionConfidence: &synthetic}
	ex := []extract.Chunk{exChunk(0, 100, 1, 2, "Intro")}

	TransferMetadata([]*chunks.Chunk{c}, ex)

	assert.Equal(t, 1, *c.MetadataOverlapCount)
	assert.True(t, c.MetadataInterpolated)
	assert.Equal(t, chunks.MetadataLow, *c.MetadataConfidence)

	// the same offsets with a real match keep the overlap-derived confidence
	exact := chunks.ConfidenceExact
	matched := &chunks.Chunk{StartOffset: 10, EndOffset: 90, PositionConfidence: &exact}
	TransferMetadata([]*chunks.Chunk{matched}, ex)
	assert.False(t, matched.MetadataInterpolated)
	assert.Equal(t, chunks.MetadataHigh, *matched.MetadataConfidence)
}

func TestTransferMetadata_MergesAcrossOverlaps(t *testing.T) {
	c := &chunks.Chunk{StartOffset: 50, EndOffset: 250}
	ex := []extract.Chunk{
		exChunk(0, 150, 2, 3, "Book", "Part One"),
		exChunk(150, 300, 4, 7, "Book", "Part Two"),
	}

	TransferMetadata([]*chunks.Chunk{c}, ex)

	assert.Equal(t, 2, *c.MetadataOverlapCount)
	assert.Equal(t, chunks.MetadataHigh, *c.MetadataConfidence)
	// merged page range spans both overlaps
	assert.Equal(t, 2, *c.PageStart)
	assert.Equal(t, 7, *c.PageEnd)
	// heading path is the longest common prefix
	assert.Equal(t, []string{"Book"}, c.HeadingPath)
}

func TestTransferMetadata_TieBreakOnLargestOverlap(t *testing.T) {
	c := &chunks.Chunk{StartOffset: 0, EndOffset: 100}
	small := exChunk(0, 20, 1, 1, "Small")
	m := "##"
	small.SectionMarker = &m
	large := exChunk(20, 100, 1, 1, "Large")

	TransferMetadata([]*chunks.Chunk{c}, []extract.Chunk{small, large})

	// single-source fields come from the largest intersection
	require.NotNil(t, c.SectionMarker)
	assert.Equal(t, "#", *c.SectionMarker)
}

func TestCommonPrefix(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, commonPrefix([]string{"a", "b", "c"}, []string{"a", "b", "x"}))
	assert.Empty(t, commonPrefix([]string{"a"}, []string{"x"}))
}
