package storage

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "unnamed",
		},
		{
			name:     "simple filename",
			input:    "document.pdf",
			expected: "document.pdf",
		},
		{
			name:     "uppercase to lowercase",
			input:    "DOCUMENT.PDF",
			expected: "document.pdf",
		},
		{
			name:     "mixed case",
			input:    "MyDocument.PDF",
			expected: "mydocument.pdf",
		},
		{
			name:     "spaces replaced with underscore",
			input:    "my document.pdf",
			expected: "my_document.pdf",
		},
		{
			name:     "multiple spaces collapsed",
			input:    "my   document.pdf",
			expected: "my_document.pdf",
		},
		{
			name:     "special characters replaced",
			input:    "doc@#$%file.pdf",
			expected: "doc_file.pdf",
		},
		{
			name:     "leading underscore trimmed",
			input:    "_document.pdf",
			expected: "document.pdf",
		},
		{
			name:     "multiple underscores collapsed",
			input:    "doc___file.pdf",
			expected: "doc_file.pdf",
		},
		{
			name:     "parentheses replaced",
			input:    "document (1).pdf",
			expected: "document_1_.pdf",
		},
		{
			name:     "dashes preserved",
			input:    "my-document.pdf",
			expected: "my-document.pdf",
		},
		{
			name:     "numbers preserved",
			input:    "file123.pdf",
			expected: "file123.pdf",
		},
		{
			name:     "dots preserved",
			input:    "file.backup.pdf",
			expected: "file.backup.pdf",
		},
		{
			name:     "all special chars becomes unnamed",
			input:    "@#$%^&*()",
			expected: "unnamed",
		},
		{
			name:     "very long filename truncated",
			input:    strings.Repeat("a", 300),
			expected: strings.Repeat("a", 200),
		},
		{
			name:     "newlines replaced",
			input:    "doc\nfile.pdf",
			expected: "doc_file.pdf",
		},
		{
			name:     "tabs replaced",
			input:    "doc\tfile.pdf",
			expected: "doc_file.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestDocumentKeys(t *testing.T) {
	userID := "user-1"
	docID := "9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b"

	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{
			name:     "document key",
			got:      DocumentKey(userID, docID, "content.md"),
			expected: "user-1/9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b/content.md",
		},
		{
			name:     "document prefix",
			got:      DocumentPrefix(userID, docID),
			expected: "user-1/9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b/",
		},
		{
			name:     "source key with dot extension",
			got:      SourceKey(userID, docID, ".pdf"),
			expected: "user-1/9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b/source.pdf",
		},
		{
			name:     "source key without dot",
			got:      SourceKey(userID, docID, "epub"),
			expected: "user-1/9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b/source.epub",
		},
		{
			name:     "content key",
			got:      ContentKey(userID, docID),
			expected: "user-1/9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b/content.md",
		},
		{
			name:     "cached chunks key",
			got:      CachedChunksKey(userID, docID),
			expected: "user-1/9f6b2a1c-4c8e-4b6e-9a5d-0c1f2e3d4a5b/cached_chunks.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %q, want %q", tt.got, tt.expected)
			}
		})
	}
}

func TestService_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		service  Service
		expected bool
	}{
		{
			name:     "nil client",
			service:  Service{client: nil},
			expected: false,
		},
		{
			name:     "empty service",
			service:  Service{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.service.Enabled()
			if result != tt.expected {
				t.Errorf("Service.Enabled() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestUploadOptions(t *testing.T) {
	opts := UploadOptions{
		ContentType:        "application/pdf",
		ContentDisposition: "attachment; filename=\"test.pdf\"",
		Metadata: map[string]string{
			"document": "test-doc",
			"user":     "test-user",
		},
	}

	if opts.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q, want application/pdf", opts.ContentType)
	}
	if opts.ContentDisposition != "attachment; filename=\"test.pdf\"" {
		t.Errorf("ContentDisposition = %q, want attachment; filename=\"test.pdf\"", opts.ContentDisposition)
	}
	if len(opts.Metadata) != 2 {
		t.Errorf("Metadata length = %d, want 2", len(opts.Metadata))
	}
}
