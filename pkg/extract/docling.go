package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rhizome-app/rhizome/internal/config"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// DoclingClient is an HTTP client for the Docling document conversion service.
// Docling handles the binary formats (PDF, EPUB) and returns canonical
// markdown plus a structured document tree with page and bounding-box
// provenance.
type DoclingClient struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
	enabled    bool
	log        *slog.Logger
}

// NewDoclingClient creates a new Docling client
func NewDoclingClient(cfg *config.Config, log *slog.Logger) *DoclingClient {
	return &DoclingClient{
		httpClient: &http.Client{
			Timeout: cfg.Extractor.Timeout(),
		},
		baseURL: strings.TrimRight(cfg.Extractor.ServiceURL, "/"),
		timeout: cfg.Extractor.Timeout(),
		enabled: cfg.Extractor.Enabled,
		log:     log.With(logger.Scope("docling")),
	}
}

// IsEnabled returns true if the Docling service is enabled
func (c *DoclingClient) IsEnabled() bool {
	return c.enabled
}

// ConvertResult is the response from a Docling conversion
type ConvertResult struct {
	// Markdown is the canonical markdown rendering of the document
	Markdown string

	// Chunks are the structural extractor chunks derived from the
	// document tree, in reading order
	Chunks []Chunk

	// PageCount is the number of pages, when the format has pages
	PageCount int

	// Title from document metadata, when present
	Title string

	// Version is the Docling service version that produced the result
	Version string
}

type convertResponse struct {
	Status   string           `json:"status"`
	Document responseDocument `json:"document"`
	Errors   []responseError  `json:"errors,omitempty"`
}

type responseDocument struct {
	MDContent   string          `json:"md_content"`
	JSONContent json.RawMessage `json:"json_content,omitempty"`
}

type responseError struct {
	ComponentType string `json:"component_type,omitempty"`
	ModuleName    string `json:"module_name,omitempty"`
	ErrorMessage  string `json:"error_message"`
}

// doclingDocument is the subset of Docling's document tree we read.
// Texts are in reading order; provenance carries page numbers and bboxes.
type doclingDocument struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
	Texts   []struct {
		Label string `json:"label"`
		Text  string `json:"text"`
		Level int    `json:"level,omitempty"`
		Prov  []struct {
			PageNo int `json:"page_no"`
			BBox   struct {
				L float64 `json:"l"`
				T float64 `json:"t"`
				R float64 `json:"r"`
				B float64 `json:"b"`
			} `json:"bbox"`
		} `json:"prov,omitempty"`
	} `json:"texts"`
	Pages map[string]json.RawMessage `json:"pages,omitempty"`
}

// Error represents a Docling service error
type Error struct {
	// Message is the human-friendly error message
	Message string
	// Detail is the technical error detail
	Detail string
	// StatusCode is the HTTP status code
	StatusCode int
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// humanFriendlyMessages maps technical errors to user-friendly messages
var humanFriendlyMessages = map[string]string{
	"Invalid PDF":        "This PDF file appears to be corrupted or invalid.",
	"File format not":    "This file format is not supported for text extraction.",
	"Unsupported format": "This file format is not supported for text extraction.",
	"DRM":                "This EPUB is DRM-protected and cannot be extracted.",
	"encrypted":          "This file is encrypted and cannot be extracted.",
	"Empty content":      "No text content could be extracted from this file.",
	"File too large":     "This file exceeds the maximum size limit for processing.",
	"Processing timeout": "The file took too long to process.",
	"OCR":                "Text recognition failed for the scanned pages in this file.",
}

// getHumanFriendlyMessage converts technical errors to user-friendly messages
func getHumanFriendlyMessage(technical string, detail string) string {
	for pattern, friendly := range humanFriendlyMessages {
		if strings.Contains(technical, pattern) || strings.Contains(detail, pattern) {
			return friendly
		}
	}
	if detail != "" {
		return fmt.Sprintf("%s (%s)", technical, detail)
	}
	return technical
}

// Convert sends a document to Docling and returns markdown plus extractor chunks
func (c *DoclingClient) Convert(ctx context.Context, content []byte, filename string) (*ConvertResult, error) {
	if !c.enabled {
		return nil, &Error{
			Message:    "Docling document parsing is not enabled",
			StatusCode: http.StatusServiceUnavailable,
		}
	}

	startTime := time.Now()
	c.log.Debug("converting document",
		slog.String("filename", filename),
		slog.Int("size_bytes", len(content)),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("files", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("write file content: %w", err)
	}

	// Ask for both renderings: markdown is the canonical text, the JSON
	// tree carries page and bbox provenance for the extractor chunks.
	for field, value := range map[string]string{
		"to_formats":        "md,json",
		"image_export_mode": "placeholder",
	} {
		if err := writer.WriteField(field, value); err != nil {
			return nil, fmt.Errorf("write %s field: %w", field, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1alpha/convert/file", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &Error{
				Message:    fmt.Sprintf("Docling request timed out for %s", filename),
				StatusCode: http.StatusRequestTimeout,
			}
		}
		return nil, &Error{
			Message:    fmt.Sprintf("Docling service unavailable at %s", c.baseURL),
			Detail:     err.Error(),
			StatusCode: http.StatusServiceUnavailable,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(resp.StatusCode, body, filename)
	}

	var parsed convertResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" && parsed.Status != "partial_success" {
		detail := ""
		if len(parsed.Errors) > 0 {
			detail = parsed.Errors[0].ErrorMessage
		}
		return nil, &Error{
			Message:    getHumanFriendlyMessage(fmt.Sprintf("Docling conversion failed for %s", filename), detail),
			Detail:     detail,
			StatusCode: http.StatusUnprocessableEntity,
		}
	}

	result := &ConvertResult{
		Markdown: parsed.Document.MDContent,
	}
	if len(parsed.Document.JSONContent) > 0 {
		var tree doclingDocument
		if err := json.Unmarshal(parsed.Document.JSONContent, &tree); err != nil {
			// A missing tree degrades to markdown-only extraction;
			// the heading chunker still produces structural chunks.
			c.log.Warn("unparseable docling document tree, falling back to markdown chunking",
				slog.String("filename", filename),
				logger.Error(err),
			)
		} else {
			result.Chunks = chunksFromTree(&tree, result.Markdown)
			result.PageCount = len(tree.Pages)
			result.Version = tree.Version
			if tree.Name != "" {
				result.Title = tree.Name
			}
		}
	}
	if len(result.Chunks) == 0 {
		result.Chunks = ChunkMarkdown(result.Markdown)
	}

	c.log.Info("conversion completed",
		slog.String("filename", filename),
		slog.Int("markdown_length", len(result.Markdown)),
		slog.Int("chunk_count", len(result.Chunks)),
		slog.Int("page_count", result.PageCount),
		slog.Duration("duration", time.Since(startTime)),
	)

	return result, nil
}

// handleErrorResponse converts HTTP error responses to Error
func (c *DoclingClient) handleErrorResponse(statusCode int, body []byte, filename string) *Error {
	var errResp struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	var message, detail string
	if err := json.Unmarshal(body, &errResp); err == nil {
		message = errResp.Error
		if message == "" {
			message = errResp.Message
		}
		detail = errResp.Detail
	} else {
		message = string(body)
	}

	if message == "" && detail != "" {
		message = detail
		detail = ""
	}
	if message == "" {
		message = fmt.Sprintf("Docling error for %s", filename)
	}

	c.log.Warn("docling error",
		slog.String("filename", filename),
		slog.Int("status_code", statusCode),
		slog.String("message", message),
		slog.String("detail", detail),
	)

	return &Error{
		Message:    getHumanFriendlyMessage(message, detail),
		Detail:     detail,
		StatusCode: statusCode,
	}
}

// chunksFromTree builds extractor chunks from Docling's document tree.
// Text items are grouped under their nearest section header; each group
// becomes one chunk carrying the heading path, page range, and bboxes.
// Offsets are located in the markdown by forward search; items the search
// cannot place are left without offsets for the matcher to reconcile.
func chunksFromTree(tree *doclingDocument, markdown string) []Chunk {
	var out []Chunk
	var headingPath []string
	var headingLevel int
	cursor := 0

	var current *Chunk
	flush := func() {
		if current != nil && strings.TrimSpace(current.Content) != "" {
			current.ChunkIndex = len(out)
			out = append(out, *current)
		}
		current = nil
	}

	for _, item := range tree.Texts {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}

		if item.Label == "section_header" || item.Label == "title" {
			flush()
			level := item.Level
			if level <= 0 {
				level = 1
			}
			if level <= len(headingPath) {
				headingPath = headingPath[:level-1]
			}
			headingPath = append(headingPath, text)
			headingLevel = level
			continue
		}

		if current == nil {
			path := make([]string, len(headingPath))
			copy(path, headingPath)
			marker := sectionMarker(headingLevel)
			current = &Chunk{
				HeadingPath:   path,
				SectionMarker: marker,
			}
			if headingLevel > 0 {
				lvl := headingLevel
				current.HeadingLevel = &lvl
			}
		}

		if current.Content != "" {
			current.Content += "\n\n"
		}
		current.Content += text

		for _, prov := range item.Prov {
			if current.PageStart == nil || prov.PageNo < *current.PageStart {
				p := prov.PageNo
				current.PageStart = &p
			}
			if current.PageEnd == nil || prov.PageNo > *current.PageEnd {
				p := prov.PageNo
				current.PageEnd = &p
			}
			current.BBoxes = append(current.BBoxes, BBox{
				Page: prov.PageNo,
				L:    prov.BBox.L,
				T:    prov.BBox.T,
				R:    prov.BBox.R,
				B:    prov.BBox.B,
			})
		}

		if idx := strings.Index(markdown[cursor:], text); idx >= 0 {
			start := cursor + idx
			end := start + len(text)
			if current.StartOffset == nil {
				current.StartOffset = &start
			}
			current.EndOffset = &end
			cursor = end
		}
	}
	flush()

	return out
}

// sectionMarker renders a heading level as its ATX marker ("##" for level 2)
func sectionMarker(level int) *string {
	if level <= 0 {
		return nil
	}
	m := strings.Repeat("#", level)
	return &m
}

// HealthResponse is the health check response from Docling
type HealthResponse struct {
	Status string `json:"status"` // "ok" or "unhealthy"
}

// HealthCheck checks the health status of the Docling service
func (c *DoclingClient) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("docling health check failed", slog.Any("error", err))
		return &HealthResponse{Status: "unhealthy"}, nil
	}
	defer resp.Body.Close()

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return &HealthResponse{Status: "unhealthy"}, nil
	}
	return &health, nil
}
