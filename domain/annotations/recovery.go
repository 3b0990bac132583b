package annotations

import (
	"strings"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/domain/chunks"
)

// Recovery is the outcome of re-anchoring one annotation
type Recovery struct {
	ChunkID     uuid.UUID
	Start       int
	End         int
	Confidence  float64
	Method      string
	NeedsReview bool
	Lost        bool
}

// trigramWindowStride controls how densely the fallback tiers scan. A
// quarter-length stride keeps the scan linear while still landing within
// the similarity plateau of the true position.
func trigramWindowStride(needleLen int) int {
	stride := needleLen / 4
	if stride < 1 {
		stride = 1
	}
	return stride
}

// Recover re-anchors an annotation against the current markdown and chunk
// set. Four tiers are tried strongest-first; the first hit wins. A result
// below the review threshold is marked lost, never discarded.
func Recover(pos *PositionData, rows []*chunks.Chunk, markdown string) Recovery {
	if pos.OriginalText == "" {
		return lost()
	}

	if rec, ok := directRestore(pos, rows); ok {
		return finalize(rec)
	}
	if rec, ok := contextMatch(pos, rows, markdown); ok {
		return finalize(rec)
	}
	if rec, ok := chunkBoundedMatch(pos, rows, markdown); ok {
		return finalize(rec)
	}
	if rec, ok := trigramFallback(pos, rows, markdown); ok {
		return finalize(rec)
	}
	return lost()
}

// ApplyRecovery writes a recovery outcome back onto the position payload.
// Lost annotations keep their stale anchor so a human can still find them.
func ApplyRecovery(pos *PositionData, rec Recovery) {
	conf := rec.Confidence
	pos.RecoveryConfidence = &conf
	pos.RecoveryMethod = rec.Method
	pos.NeedsReview = rec.NeedsReview
	pos.Lost = rec.Lost
	if rec.Lost {
		return
	}
	pos.ChunkID = rec.ChunkID.String()
	pos.StartOffset = rec.Start
	pos.EndOffset = rec.End
}

func finalize(rec Recovery) Recovery {
	if rec.Confidence < ReviewThreshold {
		rec.NeedsReview = false
		rec.Lost = true
		return rec
	}
	rec.NeedsReview = rec.Confidence < AutoAcceptThreshold
	return rec
}

func lost() Recovery {
	return Recovery{Method: MethodTrigram, Confidence: 0, Lost: true}
}

// directRestore reattaches by chunk id when the chunk survived with the
// annotated text still inside it.
func directRestore(pos *PositionData, rows []*chunks.Chunk) (Recovery, bool) {
	if pos.ChunkID == "" {
		return Recovery{}, false
	}
	id, err := uuid.Parse(pos.ChunkID)
	if err != nil {
		return Recovery{}, false
	}
	for _, c := range rows {
		if c.ID != id {
			continue
		}
		idx := strings.Index(c.Content, pos.OriginalText)
		if idx < 0 {
			return Recovery{}, false
		}
		start := c.StartOffset + idx
		return Recovery{
			ChunkID:    c.ID,
			Start:      start,
			End:        start + len(pos.OriginalText),
			Confidence: 1.0,
			Method:     MethodDirect,
		}, true
	}
	return Recovery{}, false
}

// contextMatch anchors on unique occurrences: first the original text
// alone, then the text wrapped in its stored context.
func contextMatch(pos *PositionData, rows []*chunks.Chunk, markdown string) (Recovery, bool) {
	if start, ok := uniqueIndex(markdown, pos.OriginalText); ok {
		return recoveryAt(rows, start, len(pos.OriginalText), 0.95, MethodContext)
	}

	if pos.TextBefore != "" || pos.TextAfter != "" {
		needle := pos.TextBefore + pos.OriginalText + pos.TextAfter
		if idx, ok := uniqueIndex(markdown, needle); ok {
			start := idx + len(pos.TextBefore)
			return recoveryAt(rows, start, len(pos.OriginalText), 0.9, MethodContext)
		}
	}
	return Recovery{}, false
}

// chunkBoundedMatch fuzzy-searches inside the chunk overlapping the stale
// offset range. The old offsets are usually roughly right even when the
// text drifted.
func chunkBoundedMatch(pos *PositionData, rows []*chunks.Chunk, markdown string) (Recovery, bool) {
	var host *chunks.Chunk
	for _, c := range rows {
		if c.StartOffset < pos.EndOffset && pos.StartOffset < c.EndOffset {
			host = c
			break
		}
	}
	if host == nil {
		return Recovery{}, false
	}

	offset, sim := bestWindow(host.Content, pos.OriginalText)
	if sim <= 0 {
		return Recovery{}, false
	}
	start := host.StartOffset + offset
	return recoveryAt(rows, start, len(pos.OriginalText), sim, MethodChunkBounded)
}

// trigramFallback scans the whole document for the best trigram window.
// The document-wide scan has no positional prior, so its confidence is
// discounted.
func trigramFallback(pos *PositionData, rows []*chunks.Chunk, markdown string) (Recovery, bool) {
	offset, sim := bestWindow(markdown, pos.OriginalText)
	if sim <= 0 {
		return Recovery{}, false
	}
	return recoveryAt(rows, offset, len(pos.OriginalText), sim*0.9, MethodTrigram)
}

// recoveryAt builds a recovery for a span, resolving the hosting chunk
func recoveryAt(rows []*chunks.Chunk, start, length int, confidence float64, method string) (Recovery, bool) {
	end := start + length
	for _, c := range rows {
		if c.StartOffset <= start && start < c.EndOffset {
			return Recovery{
				ChunkID:    c.ID,
				Start:      start,
				End:        end,
				Confidence: confidence,
				Method:     method,
			}, true
		}
	}
	return Recovery{}, false
}

// uniqueIndex returns the offset of needle when it occurs exactly once
func uniqueIndex(haystack, needle string) (int, bool) {
	if needle == "" {
		return 0, false
	}
	first := strings.Index(haystack, needle)
	if first < 0 {
		return 0, false
	}
	if strings.Index(haystack[first+1:], needle) >= 0 {
		return 0, false
	}
	return first, true
}

// bestWindow slides a needle-sized window over the text and returns the
// offset with the highest trigram similarity.
func bestWindow(text, needle string) (int, float64) {
	if len(needle) == 0 || len(text) < len(needle) {
		return 0, 0
	}
	target := trigrams(needle)
	if len(target) == 0 {
		return 0, 0
	}

	stride := trigramWindowStride(len(needle))
	bestOffset, bestSim := 0, 0.0
	for off := 0; off+len(needle) <= len(text); off += stride {
		sim := jaccard(target, trigrams(text[off:off+len(needle)]))
		if sim > bestSim {
			bestOffset, bestSim = off, sim
		}
	}
	return bestOffset, bestSim
}

// trigrams builds the set of letter trigrams of a normalized string
func trigrams(s string) map[string]struct{} {
	norm := strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(norm)
	if len(runes) < 3 {
		if len(runes) == 0 {
			return nil
		}
		return map[string]struct{}{string(runes): {}}
	}
	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
