package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/rhizome-app/rhizome/pkg/logger"
)

const (
	webFetchTimeout = 60 * time.Second
	webMaxBodyBytes = 20 << 20 // 20 MiB
	webUserAgent    = "rhizome/1.0 (+document import)"
)

// WebFetcher downloads a page and converts it to markdown
type WebFetcher struct {
	httpClient *http.Client
	log        *slog.Logger
}

// NewWebFetcher creates a web page fetcher
func NewWebFetcher(log *slog.Logger) *WebFetcher {
	return &WebFetcher{
		httpClient: &http.Client{
			Timeout: webFetchTimeout,
		},
		log: log.With(logger.Scope("webfetch")),
	}
}

// Page is a fetched and converted web page
type Page struct {
	Markdown string
	Title    string
}

var titleRe = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Fetch downloads the URL and converts the HTML body to markdown.
// HTTP 5xx and 429 surface with the status in the message so the retry
// classifier treats them as transient; 4xx are invalid input.
func (f *WebFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("invalid input: url must be http or https, got %q", url)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", webUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, fmt.Errorf("fetch %s: http %d", url, resp.StatusCode)
		}
		return nil, fmt.Errorf("fetch %s: page not found or not accessible (http %d)", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, webMaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	html := string(body)
	markdown, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return nil, fmt.Errorf("convert html to markdown: %w", err)
	}

	page := &Page{
		Markdown: normalizeText(markdown),
		Title:    htmlTitle(html),
	}

	f.log.Info("web page fetched",
		slog.String("url", url),
		slog.Int("html_bytes", len(body)),
		slog.Int("markdown_length", len(page.Markdown)),
	)
	return page, nil
}

// htmlTitle extracts the <title> text, or ""
func htmlTitle(html string) string {
	m := titleRe.FindStringSubmatch(html)
	if len(m) < 2 {
		return ""
	}
	title := strings.TrimSpace(m[1])
	title = strings.ReplaceAll(title, "&amp;", "&")
	title = strings.ReplaceAll(title, "&lt;", "<")
	title = strings.ReplaceAll(title, "&gt;", ">")
	title = strings.ReplaceAll(title, "&#39;", "'")
	title = strings.ReplaceAll(title, "&quot;", `"`)
	return title
}
