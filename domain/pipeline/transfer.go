package pipeline

import (
	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/pkg/extract"
)

// Metadata confidence thresholds on the covering overlap fraction
const (
	highOverlapFraction   = 0.9
	mediumOverlapFraction = 0.5
)

// TransferMetadata maps extractor-chunk structural metadata onto semantic
// chunks by interval overlap on character offsets. It sets the overlap
// count, confidence and interpolation flag, and merges page range, heading
// path, section marker and bboxes from the overlapping extractor chunks.
// Chunks placed synthetically carry estimated offsets, so their transfer
// is always marked interpolated with low confidence even when the
// estimate happens to overlap an extractor chunk.
func TransferMetadata(sem []*chunks.Chunk, exChunks []extract.Chunk) {
	for _, c := range sem {
		overlaps := overlapping(exChunks, c.StartOffset, c.EndOffset)

		count := len(overlaps)
		c.MetadataOverlapCount = &count

		synthetic := c.PositionConfidence != nil && *c.PositionConfidence == chunks.ConfidenceSynthetic

		if count == 0 {
			c.MetadataInterpolated = true
			low := chunks.MetadataLow
			c.MetadataConfidence = &low
			if nearest := nearestExtractorChunk(exChunks, (c.StartOffset+c.EndOffset)/2); nearest != nil {
				copyStructural(c, nearest)
			}
			continue
		}

		c.MetadataInterpolated = synthetic
		fraction := coveredFraction(overlaps, c.StartOffset, c.EndOffset)
		confidence := chunks.MetadataLow
		if !synthetic {
			switch {
			case fraction >= highOverlapFraction:
				confidence = chunks.MetadataHigh
			case fraction >= mediumOverlapFraction:
				confidence = chunks.MetadataMedium
			}
		}
		c.MetadataConfidence = &confidence

		mergeStructural(c, overlaps)
	}
}

// overlapping returns the extractor chunks whose interval intersects [start,end)
func overlapping(exChunks []extract.Chunk, start, end int) []*extract.Chunk {
	var out []*extract.Chunk
	for i := range exChunks {
		c := &exChunks[i]
		if c.StartOffset == nil || c.EndOffset == nil {
			continue
		}
		if *c.StartOffset < end && *c.EndOffset > start {
			out = append(out, c)
		}
	}
	return out
}

// coveredFraction is the fraction of [start,end) covered by the overlaps.
// Extractor chunks tile the document, so summed intersections capped at the
// interval length are a faithful cover measure.
func coveredFraction(overlaps []*extract.Chunk, start, end int) float64 {
	length := end - start
	if length <= 0 {
		return 0
	}
	covered := 0
	for _, o := range overlaps {
		s, e := *o.StartOffset, *o.EndOffset
		if s < start {
			s = start
		}
		if e > end {
			e = end
		}
		if e > s {
			covered += e - s
		}
	}
	if covered > length {
		covered = length
	}
	return float64(covered) / float64(length)
}

// mergeStructural merges structural fields across all overlapping extractor
// chunks: min/max page range, longest-common-prefix heading path,
// concatenated bboxes. Single-source fields (section marker, heading level)
// come from the overlap with the largest intersection, ties breaking on the
// earlier start offset.
func mergeStructural(c *chunks.Chunk, overlaps []*extract.Chunk) {
	var pageStart, pageEnd *int
	var headingPath []string
	first := true
	var bboxes chunks.JSONSlice

	best := overlaps[0]
	bestLen := -1

	for _, o := range overlaps {
		if o.PageStart != nil && (pageStart == nil || *o.PageStart < *pageStart) {
			v := *o.PageStart
			pageStart = &v
		}
		if o.PageEnd != nil && (pageEnd == nil || *o.PageEnd > *pageEnd) {
			v := *o.PageEnd
			pageEnd = &v
		}
		if first {
			headingPath = append([]string(nil), o.HeadingPath...)
			first = false
		} else {
			headingPath = commonPrefix(headingPath, o.HeadingPath)
		}
		for _, b := range o.BBoxes {
			bboxes = append(bboxes, map[string]interface{}{
				"page": b.Page, "l": b.L, "t": b.T, "r": b.R, "b": b.B,
			})
		}

		ovl := intersectionLen(o, c.StartOffset, c.EndOffset)
		if ovl > bestLen || (ovl == bestLen && *o.StartOffset < *best.StartOffset) {
			best = o
			bestLen = ovl
		}
	}

	c.PageStart = pageStart
	c.PageEnd = pageEnd
	if len(headingPath) > 0 {
		c.HeadingPath = headingPath
	}
	if len(bboxes) > 0 {
		c.BBoxes = &bboxes
	}
	if best.SectionMarker != nil {
		v := *best.SectionMarker
		c.SectionMarker = &v
	}
	if best.HeadingLevel != nil {
		v := *best.HeadingLevel
		c.HeadingLevel = &v
	}
}

// copyStructural infers structural fields from a single nearest neighbor
// when no extractor chunk overlaps
func copyStructural(c *chunks.Chunk, o *extract.Chunk) {
	if o.PageStart != nil {
		v := *o.PageStart
		c.PageStart = &v
	}
	if o.PageEnd != nil {
		v := *o.PageEnd
		c.PageEnd = &v
	}
	if len(o.HeadingPath) > 0 {
		c.HeadingPath = append([]string(nil), o.HeadingPath...)
	}
	if o.HeadingLevel != nil {
		v := *o.HeadingLevel
		c.HeadingLevel = &v
	}
}

func intersectionLen(o *extract.Chunk, start, end int) int {
	s, e := *o.StartOffset, *o.EndOffset
	if s < start {
		s = start
	}
	if e > end {
		e = end
	}
	if e <= s {
		return 0
	}
	return e - s
}

// nearestExtractorChunk finds the chunk whose interval midpoint is closest
// to pos
func nearestExtractorChunk(exChunks []extract.Chunk, pos int) *extract.Chunk {
	var best *extract.Chunk
	bestDist := -1
	for i := range exChunks {
		o := &exChunks[i]
		if o.StartOffset == nil || o.EndOffset == nil {
			continue
		}
		mid := (*o.StartOffset + *o.EndOffset) / 2
		dist := mid - pos
		if dist < 0 {
			dist = -dist
		}
		if bestDist < 0 || dist < bestDist {
			best = o
			bestDist = dist
		}
	}
	return best
}

// commonPrefix returns the longest common prefix of two heading paths
func commonPrefix(a, b []string) []string {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return a[:i]
}
