package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/rhizome-app/rhizome/pkg/llm"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// Cleanup modes selectable per job
const (
	CleanupModeRegex = "regex"
	CleanupModeAI    = "ai"
	CleanupModeSkip  = "skip"
)

// aiCleanupMaxChars bounds the document size sent to the model; larger
// documents fall back to regex cleanup
const aiCleanupMaxChars = 100_000

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	excessBlanksRe  = regexp.MustCompile(`\n{4,}`)
	bulletRe        = regexp.MustCompile(`(?m)^(\s*)[•▪◦]\s+`)
	hyphenBreakRe   = regexp.MustCompile(`([a-z])-\n([a-z])`)
)

// Cleaner normalizes extracted markdown before chunking
type Cleaner struct {
	llm llm.Provider
	log *slog.Logger
}

// NewCleaner creates a markdown cleaner
func NewCleaner(provider llm.Provider, log *slog.Logger) *Cleaner {
	return &Cleaner{
		llm: provider,
		log: log.With(logger.Scope("cleanup")),
	}
}

// Clean applies the requested cleanup mode. AI cleanup degrades to regex
// when the model is unavailable or the document is too large; cleanup never
// fails the pipeline.
func (cl *Cleaner) Clean(ctx context.Context, markdown, mode string) string {
	switch mode {
	case CleanupModeSkip:
		return markdown
	case CleanupModeAI:
		cleaned, err := cl.aiClean(ctx, markdown)
		if err != nil {
			cl.log.Warn("ai cleanup failed, using regex cleanup", logger.Error(err))
			return RegexCleanup(markdown)
		}
		return cleaned
	default:
		return RegexCleanup(markdown)
	}
}

// RegexCleanup applies deterministic normalization: drops control bytes,
// canonicalizes line endings and bullets, repairs hyphenated line breaks,
// and collapses runs of blank lines.
func RegexCleanup(markdown string) string {
	s := strings.ReplaceAll(markdown, "\x00", "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = bulletRe.ReplaceAllString(s, "${1}- ")
	s = hyphenBreakRe.ReplaceAllString(s, "$1$2")
	s = excessBlanksRe.ReplaceAllString(s, "\n\n\n")
	return strings.TrimSpace(s)
}

const cleanupSystemPrompt = `You clean up markdown extracted from documents.
Fix broken line wrapping, merge hyphenated words split across lines, remove
page headers/footers and artifacts, and normalize heading markers. Preserve
all content, wording, and document structure. Return only the cleaned
markdown with no commentary.`

func (cl *Cleaner) aiClean(ctx context.Context, markdown string) (string, error) {
	if !cl.llm.IsConfigured() {
		return "", llm.ErrNotConfigured
	}
	if len(markdown) > aiCleanupMaxChars {
		return "", fmt.Errorf("document too large for ai cleanup: %d chars", len(markdown))
	}

	cleaned, err := cl.llm.Complete(ctx, llm.Request{
		System: cleanupSystemPrompt,
		Prompt: markdown,
	})
	if err != nil {
		return "", err
	}

	cleaned = strings.TrimSpace(cleaned)
	// A response much shorter than the input means dropped content
	if len(cleaned) < len(markdown)/2 {
		return "", fmt.Errorf("ai cleanup output suspiciously short: %d of %d chars", len(cleaned), len(markdown))
	}
	return cleaned, nil
}
