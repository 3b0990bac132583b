package pipeline

import (
	"strings"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/pkg/extract"
)

// Match method identifiers recorded in position_method
const (
	MethodExactSubstring       = "exact_substring"
	MethodNormalizedWhitespace = "normalized_whitespace"
	MethodAnchorTriangulation  = "anchor_triangulation"
	MethodLengthInterpolation  = "length_interpolation"
	MethodSyntheticGapFill     = "synthetic_gap_fill"
)

// anchorLen is the n-gram length used for anchor triangulation
const anchorLen = 40

// overlapEpsilon is the small character overlap tolerated between adjacent
// chunks before position validation fails
const overlapEpsilon = 8

// Match is a resolved position for a span of text in the markdown
type Match struct {
	Start      int
	End        int
	Confidence string
	Method     string
}

// Matcher locates chunk content in a markdown document. Layers are tried
// in order; the first acceptable result stops the cascade:
//
//  1. exact substring
//  2. normalized-whitespace match
//  3. anchor triangulation
//
// Layers 4 (length-prorated interpolation) and 5 (synthetic gap fill) need
// neighborhood context and live in the align functions below.
//
// Searches move a forward cursor, so repeated content resolves in document
// order.
type Matcher struct {
	markdown   string
	normalized string
	normMap    []int

	cursor     int
	normCursor int
}

// NewMatcher builds a matcher over the given markdown
func NewMatcher(markdown string) *Matcher {
	normalized, normMap := normalizeWhitespace(markdown)
	return &Matcher{
		markdown:   markdown,
		normalized: normalized,
		normMap:    normMap,
	}
}

// normalizeWhitespace collapses every whitespace run to a single space and
// returns the normalized string plus a map from normalized index to the
// original index.
func normalizeWhitespace(s string) (string, []int) {
	var b strings.Builder
	idx := make([]int, 0, len(s))
	inSpace := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
			idx = append(idx, i-1)
		}
		inSpace = false
		b.WriteByte(c)
		idx = append(idx, i)
	}
	return b.String(), idx
}

// Locate runs cascade layers 1-3 for the given content
func (m *Matcher) Locate(content string) (Match, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Match{}, false
	}

	// Layer 1: exact substring
	if idx := strings.Index(m.markdown[m.cursor:], content); idx >= 0 {
		start := m.cursor + idx
		end := start + len(content)
		m.advance(end)
		return Match{Start: start, End: end, Confidence: chunks.ConfidenceExact, Method: MethodExactSubstring}, true
	}

	// Layer 2: normalized whitespace
	norm, _ := normalizeWhitespace(content)
	if norm != "" {
		if idx := strings.Index(m.normalized[m.normCursor:], norm); idx >= 0 {
			nStart := m.normCursor + idx
			nEnd := nStart + len(norm) - 1
			start := m.normMap[nStart]
			end := m.normMap[nEnd] + 1
			m.advance(end)
			return Match{Start: start, End: end, Confidence: chunks.ConfidenceHigh, Method: MethodNormalizedWhitespace}, true
		}

		// Layer 3: anchor triangulation with head and tail n-grams
		if len(norm) > 2*anchorLen {
			head := norm[:anchorLen]
			tail := norm[len(norm)-anchorLen:]
			if hIdx := strings.Index(m.normalized[m.normCursor:], head); hIdx >= 0 {
				hStart := m.normCursor + hIdx
				if tIdx := strings.Index(m.normalized[hStart:], tail); tIdx >= 0 {
					tEnd := hStart + tIdx + len(tail) - 1
					start := m.normMap[hStart]
					end := m.normMap[tEnd] + 1
					span := end - start
					// reject regions wildly different from the content length
					if span >= len(content)/2 && span <= len(content)*2 {
						m.advance(end)
						return Match{Start: start, End: end, Confidence: chunks.ConfidenceMedium, Method: MethodAnchorTriangulation}, true
					}
				}
			}
		}
	}

	return Match{}, false
}

// advance moves both cursors past the matched end position
func (m *Matcher) advance(end int) {
	if end > m.cursor {
		m.cursor = end
	}
	for m.normCursor < len(m.normMap) && m.normMap[m.normCursor] < end {
		m.normCursor++
	}
}

// ReanchorExtractorChunks recomputes extractor chunk offsets against
// (possibly cleaned) markdown. Chunks the cascade cannot place are
// prorated across the document by cumulative content length.
func ReanchorExtractorChunks(markdown string, exChunks []extract.Chunk) []extract.Chunk {
	m := NewMatcher(markdown)

	total := 0
	for _, c := range exChunks {
		total += len(c.Content)
	}

	out := make([]extract.Chunk, len(exChunks))
	cum := 0
	prevEnd := 0
	for i, c := range exChunks {
		out[i] = c
		if match, ok := m.Locate(c.Content); ok {
			out[i].StartOffset = &match.Start
			out[i].EndOffset = &match.End
			prevEnd = match.End
		} else if total > 0 {
			start := prevEnd
			if prorated := cum * len(markdown) / total; prorated > start {
				start = prorated
			}
			end := start + len(c.Content)
			if end > len(markdown) {
				end = len(markdown)
			}
			if start > end {
				start = end
			}
			out[i].StartOffset = &start
			out[i].EndOffset = &end
			prevEnd = end
		}
		cum += len(c.Content)
	}
	return out
}

// AlignSemanticChunk resolves the position of one semantic chunk through
// the full five-layer cascade. prevEnd is the end offset of the previous
// semantic chunk; parent is the extractor chunk covering that position,
// when one exists.
func AlignSemanticChunk(m *Matcher, content string, prevEnd int, parent *extract.Chunk) Match {
	if match, ok := m.Locate(content); ok {
		return match
	}

	// Layer 4: length-prorated interpolation inside the parent extractor chunk
	if parent != nil && parent.StartOffset != nil && parent.EndOffset != nil {
		start := prevEnd
		if *parent.StartOffset > start {
			start = *parent.StartOffset
		}
		end := start + len(content)
		if end > *parent.EndOffset {
			end = *parent.EndOffset
		}
		if end > start {
			m.advance(end)
			return Match{Start: start, End: end, Confidence: chunks.ConfidenceMedium, Method: MethodLengthInterpolation}
		}
	}

	// Layer 5: synthetic gap fill between extractor chunks
	start := prevEnd
	end := start + len(content)
	m.advance(end)
	return Match{Start: start, End: end, Confidence: chunks.ConfidenceSynthetic, Method: MethodSyntheticGapFill}
}

// parentExtractorChunk returns the extractor chunk whose interval covers
// pos, or the first one starting after it
func parentExtractorChunk(exChunks []extract.Chunk, pos int) *extract.Chunk {
	for i := range exChunks {
		c := &exChunks[i]
		if c.StartOffset == nil || c.EndOffset == nil {
			continue
		}
		if *c.EndOffset > pos {
			return c
		}
	}
	return nil
}

// ValidatePositions runs the post-cascade sanity pass: offsets must be
// ordered within each chunk and adjacent chunks may overlap by at most a
// small whitespace epsilon. Returns one flag per match.
func ValidatePositions(matches []Match) []bool {
	out := make([]bool, len(matches))
	prevEnd := 0
	for i, match := range matches {
		ok := match.End >= match.Start && match.Start >= prevEnd-overlapEpsilon
		out[i] = ok
		if match.End > prevEnd {
			prevEnd = match.End
		}
	}
	return out
}
