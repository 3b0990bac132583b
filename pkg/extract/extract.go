// Package extract turns uploaded sources into canonical markdown plus
// structural extractor chunks. PDF and EPUB go through the Docling service;
// markdown, plain text, and pasted content are chunked locally; web URLs are
// fetched and converted from HTML.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rhizome-app/rhizome/pkg/logger"
)

// BBox is a page-anchored bounding box in the source document
type BBox struct {
	Page int     `json:"page"`
	L    float64 `json:"l"`
	T    float64 `json:"t"`
	R    float64 `json:"r"`
	B    float64 `json:"b"`
}

// Chunk is a raw extractor chunk: a span of the source carrying the
// structural metadata the source format exposes. Offsets are positions in
// the canonical markdown; they may be absent when the extractor could not
// place the span, in which case the matcher reconciles them later.
type Chunk struct {
	ChunkIndex    int      `json:"chunk_index"`
	Content       string   `json:"content"`
	HeadingPath   []string `json:"heading_path,omitempty"`
	HeadingLevel  *int     `json:"heading_level,omitempty"`
	SectionMarker *string  `json:"section_marker,omitempty"`
	PageStart     *int     `json:"page_start,omitempty"`
	PageEnd       *int     `json:"page_end,omitempty"`
	BBoxes        []BBox   `json:"bboxes,omitempty"`
	StartOffset   *int     `json:"start_offset,omitempty"`
	EndOffset     *int     `json:"end_offset,omitempty"`
}

// Result is the output of extraction for any source type
type Result struct {
	// Markdown is the canonical text every later stage operates on
	Markdown string

	// Chunks are the structural extractor chunks, in reading order
	Chunks []Chunk

	// Title detected from the source, when any
	Title string

	// PageCount for paged formats, zero otherwise
	PageCount int

	// WordCount of the canonical markdown
	WordCount int

	// ExtractorVersion identifies the producing extractor, when known
	ExtractorVersion string
}

// Source describes what to extract
type Source struct {
	// Type is one of the accepted source types (pdf, epub, markdown,
	// txt, web_url, paste)
	Type string

	// Filename of the uploaded file, used for error messages and
	// format detection by the remote extractor
	Filename string

	// Data is the raw source bytes for file-based sources
	Data []byte

	// URL for web_url sources
	URL string
}

// Service dispatches extraction by source type
type Service struct {
	docling *DoclingClient
	web     *WebFetcher
	log     *slog.Logger
}

// NewService creates the extraction service
func NewService(docling *DoclingClient, web *WebFetcher, log *slog.Logger) *Service {
	return &Service{
		docling: docling,
		web:     web,
		log:     log.With(logger.Scope("extract")),
	}
}

// Extract produces canonical markdown and extractor chunks for a source.
// Fetch and service failures surface as-is so the caller can classify them;
// unsupported source types are invalid input.
func (s *Service) Extract(ctx context.Context, src Source) (*Result, error) {
	switch src.Type {
	case "pdf", "epub":
		conv, err := s.docling.Convert(ctx, src.Data, src.Filename)
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown:         conv.Markdown,
			Chunks:           conv.Chunks,
			Title:            conv.Title,
			PageCount:        conv.PageCount,
			WordCount:        CountWords(conv.Markdown),
			ExtractorVersion: conv.Version,
		}, nil

	case "markdown", "txt", "paste":
		markdown := normalizeText(string(src.Data))
		return &Result{
			Markdown:  markdown,
			Chunks:    ChunkMarkdown(markdown),
			Title:     firstHeading(markdown),
			WordCount: CountWords(markdown),
		}, nil

	case "web_url":
		page, err := s.web.Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		return &Result{
			Markdown:  page.Markdown,
			Chunks:    ChunkMarkdown(page.Markdown),
			Title:     page.Title,
			WordCount: CountWords(page.Markdown),
		}, nil

	default:
		return nil, fmt.Errorf("unsupported source type: %q", src.Type)
	}
}

// CountWords counts whitespace-separated words
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// normalizeText canonicalizes line endings and trims trailing whitespace
// so offsets are stable regardless of the uploading platform.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimRight(text, "\n \t")
}

// firstHeading returns the first ATX heading text, or ""
func firstHeading(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	return ""
}
