// Package textsplitter re-chunks cleaned markdown into semantic chunks.
// Splitting is offset-native: every chunk carries exact byte offsets into
// the input, so chunk content always equals text[start:end].
package textsplitter

import (
	"strings"
	"unicode/utf8"
)

// ChunkerType identifies this splitter in persisted chunk rows
const ChunkerType = "recursive_character"

// Config controls chunk sizing
type Config struct {
	// ChunkSize is the target maximum characters per chunk
	ChunkSize int
	// MinChunkSize merges smaller trailing pieces into their predecessor
	MinChunkSize int
}

// DefaultConfig returns the pipeline defaults
func DefaultConfig() Config {
	return Config{
		ChunkSize:    1800,
		MinChunkSize: 200,
	}
}

// Chunk is one semantic chunk with its exact position in the input
type Chunk struct {
	Content     string
	StartOffset int
	EndOffset   int
	WordCount   int
	TokenCount  int
}

// separators in descending structural significance: paragraph, line,
// sentence, word
var separators = []string{"\n\n", "\n", ". ", " "}

// Split chunks text recursively on structural separators. Chunks are
// non-overlapping, in document order, and each satisfies
// text[StartOffset:EndOffset] == Content.
func Split(text string, cfg Config) []Chunk {
	if text == "" {
		return nil
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	if cfg.MinChunkSize < 0 {
		cfg.MinChunkSize = 0
	}

	spans := splitSpan(text, 0, len(text), separators, cfg.ChunkSize)
	spans = mergeSmall(spans, cfg.MinChunkSize)

	chunks := make([]Chunk, 0, len(spans))
	for _, sp := range spans {
		s, e := trimSpan(text, sp.start, sp.end)
		if s >= e {
			continue
		}
		content := text[s:e]
		chunks = append(chunks, Chunk{
			Content:     content,
			StartOffset: s,
			EndOffset:   e,
			WordCount:   len(strings.Fields(content)),
			TokenCount:  EstimateTokens(content),
		})
	}
	return chunks
}

// EstimateTokens approximates the token count at four characters per token
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

type span struct {
	start int
	end   int
}

func splitSpan(text string, start, end int, seps []string, size int) []span {
	start, end = trimSpan(text, start, end)
	if start >= end {
		return nil
	}
	if end-start <= size {
		return []span{{start, end}}
	}
	if len(seps) == 0 {
		return hardSplit(text, start, end, size)
	}

	parts := splitOnSep(text, start, end, seps[0])
	if len(parts) == 1 {
		return splitSpan(text, start, end, seps[1:], size)
	}
	return packParts(text, parts, seps[1:], size)
}

// splitOnSep cuts [start,end) at each separator occurrence; the separator
// stays attached to the part it terminates, so parts tile the span.
func splitOnSep(text string, start, end int, sep string) []span {
	var parts []span
	cur := start
	for cur < end {
		idx := strings.Index(text[cur:end], sep)
		if idx < 0 {
			parts = append(parts, span{cur, end})
			break
		}
		sepEnd := cur + idx + len(sep)
		parts = append(parts, span{cur, sepEnd})
		cur = sepEnd
	}
	return parts
}

// packParts greedily packs adjacent parts up to size; oversized parts
// recurse on the remaining separators.
func packParts(text string, parts []span, seps []string, size int) []span {
	var out []span
	packStart, packEnd := -1, -1

	flush := func() {
		if packStart >= 0 {
			out = append(out, span{packStart, packEnd})
			packStart = -1
		}
	}

	for _, p := range parts {
		if p.end-p.start > size {
			flush()
			out = append(out, splitSpan(text, p.start, p.end, seps, size)...)
			continue
		}
		if packStart < 0 {
			packStart, packEnd = p.start, p.end
			continue
		}
		if p.end-packStart > size {
			flush()
			packStart, packEnd = p.start, p.end
			continue
		}
		packEnd = p.end
	}
	flush()
	return out
}

// hardSplit cuts at the size boundary, backing up to whitespace when any
// exists in the window and never splitting a rune.
func hardSplit(text string, start, end, size int) []span {
	var out []span
	for start < end {
		stop := start + size
		if stop >= end {
			stop = end
		} else {
			cut := stop
			for cut > start && !isSpaceByte(text[cut]) {
				cut--
			}
			if cut > start {
				stop = cut
			}
			for stop > start && !utf8.RuneStart(text[stop]) {
				stop--
			}
		}
		s, e := trimSpan(text, start, stop)
		if s < e {
			out = append(out, span{s, e})
		}
		if stop == start {
			break
		}
		start = stop
	}
	return out
}

// mergeSmall folds spans shorter than min into their predecessor
func mergeSmall(spans []span, min int) []span {
	if min <= 0 || len(spans) < 2 {
		return spans
	}
	out := spans[:1]
	for _, sp := range spans[1:] {
		if sp.end-sp.start < min {
			out[len(out)-1].end = sp.end
			continue
		}
		out = append(out, sp)
	}
	return out
}

func trimSpan(text string, start, end int) (int, int) {
	for start < end && isSpaceByte(text[start]) {
		start++
	}
	for end > start && isSpaceByte(text[end-1]) {
		end--
	}
	return start, end
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
