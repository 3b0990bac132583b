// Package port moves documents across the storage boundary: export bundles
// a document folder into a ZIP with a signed download URL, import rebuilds
// documents, chunks, connections and annotations from stored artifacts with
// chunk UUIDs preserved.
package port

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/domain/annotations"
	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/domain/connections"
	"github.com/rhizome-app/rhizome/domain/documents"
	"github.com/rhizome-app/rhizome/internal/storage"
	"github.com/rhizome-app/rhizome/pkg/logger"
)

// signedURLTTL is how long an export download link stays valid
const signedURLTTL = 24 * time.Hour

// Exporter bundles document folders into ZIP archives
type Exporter struct {
	store  *storage.Service
	docs   *documents.Repository
	chunks *chunks.Repository
	conns  *connections.Repository
	anns   *annotations.Repository
	log    *slog.Logger
}

// NewExporter creates an exporter
func NewExporter(
	store *storage.Service,
	docs *documents.Repository,
	chunkRepo *chunks.Repository,
	connRepo *connections.Repository,
	annRepo *annotations.Repository,
	log *slog.Logger,
) *Exporter {
	return &Exporter{
		store:  store,
		docs:   docs,
		chunks: chunkRepo,
		conns:  connRepo,
		anns:   annRepo,
		log:    log.With(logger.Scope("port.exporter")),
	}
}

// ExportOptions configure one export run
type ExportOptions struct {
	UserID             string
	DocumentIDs        []uuid.UUID
	IncludeConnections bool
	IncludeAnnotations bool
}

// ExportResult describes the produced archive
type ExportResult struct {
	Key       string `json:"key"`
	SignedURL string `json:"signed_url"`
	Size      int64  `json:"size"`
	Documents int    `json:"documents"`
}

// rootManifest is the manifest.json at the top of a multi-document archive
type rootManifest struct {
	Version    string              `json:"version"`
	ExportedAt time.Time           `json:"exported_at"`
	Documents  []rootManifestEntry `json:"documents"`
}

type rootManifestEntry struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Folder string `json:"folder"`
}

// Export streams a ZIP of the selected document folders to storage and
// returns a signed, time-limited download URL. The archive is built while
// it uploads; nothing is buffered on disk.
func (e *Exporter) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	if len(opts.DocumentIDs) == 0 {
		return nil, fmt.Errorf("invalid input: no documents to export")
	}

	key := exportKey(opts.UserID, time.Now())
	pr, pw := io.Pipe()
	errCh := make(chan error, 1)
	go func() {
		err := e.writeArchive(ctx, pw, opts)
		pw.CloseWithError(err)
		errCh <- err
	}()

	uploadRes, uploadErr := e.store.Upload(ctx, key, pr, -1, storage.UploadOptions{
		ContentType:        "application/zip",
		ContentDisposition: fmt.Sprintf(`attachment; filename="export-%s.zip"`, time.Now().Format("2006-01-02")),
	})
	if zipErr := <-errCh; zipErr != nil {
		if uploadErr == nil {
			_ = e.store.Delete(ctx, key)
		}
		return nil, fmt.Errorf("build archive: %w", zipErr)
	}
	if uploadErr != nil {
		return nil, fmt.Errorf("upload archive: %w", uploadErr)
	}

	url, err := e.store.GetSignedDownloadURL(ctx, key, storage.GetSignedDownloadURLOptions{
		ExpiresIn: signedURLTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("sign download url: %w", err)
	}

	e.log.Info("export archive ready",
		slog.String("key", key),
		slog.Int64("size", uploadRes.Size),
		slog.Int("documents", len(opts.DocumentIDs)),
	)
	return &ExportResult{
		Key:       key,
		SignedURL: url,
		Size:      uploadRes.Size,
		Documents: len(opts.DocumentIDs),
	}, nil
}

func (e *Exporter) writeArchive(ctx context.Context, w io.Writer, opts ExportOptions) error {
	zw := zip.NewWriter(w)
	defer zw.Close()

	manifest := rootManifest{
		Version:    chunks.FormatVersion,
		ExportedAt: time.Now().UTC(),
	}

	multi := len(opts.DocumentIDs) > 1
	for _, docID := range opts.DocumentIDs {
		doc, err := e.docs.GetByID(ctx, docID)
		if err != nil {
			return err
		}
		if doc == nil {
			return fmt.Errorf("document not found: %s", docID)
		}

		folder := ""
		if multi {
			folder = docID.String() + "/"
		}
		if err := e.writeDocument(ctx, zw, doc, folder, opts); err != nil {
			return fmt.Errorf("export document %s: %w", docID, err)
		}
		manifest.Documents = append(manifest.Documents, rootManifestEntry{
			ID:     docID.String(),
			Title:  doc.Title,
			Folder: folder,
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	if multi {
		if err := writeZIPJSON(zw, "manifest.json", manifest); err != nil {
			return err
		}
	}
	return nil
}

// writeDocument copies a document's stored artifacts into the archive and
// generates the optional connections.json and annotations.json from the
// database.
func (e *Exporter) writeDocument(ctx context.Context, zw *zip.Writer, doc *documents.Document, folder string, opts ExportOptions) error {
	docID := doc.ID.String()
	prefix := storage.DocumentKey(opts.UserID, docID, "")

	keys, err := e.store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list document folder: %w", err)
	}
	for _, key := range keys {
		name := path.Base(key)
		if !exportableArtifact(name) {
			continue
		}
		if err := e.copyObject(ctx, zw, folder+name, key); err != nil {
			return err
		}
	}

	if opts.IncludeConnections {
		rows, err := e.conns.ListBySourceDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := writeZIPJSON(zw, folder+"connections.json", connections.NewConnectionsFile(docID, rows)); err != nil {
				return err
			}
		}
	}

	if opts.IncludeAnnotations {
		anns, err := e.anns.ListByDocument(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(anns) > 0 {
			if err := writeZIPJSON(zw, folder+"annotations.json", annotations.NewAnnotationsFile(docID, anns)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Exporter) copyObject(ctx context.Context, zw *zip.Writer, zipPath, key string) error {
	reader, err := e.store.Download(ctx, key)
	if err != nil {
		e.log.Warn("skipping unreadable artifact",
			slog.String("key", key), logger.Error(err))
		return nil
	}
	defer reader.Close()

	f, err := zw.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create %s in archive: %w", zipPath, err)
	}
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("copy %s: %w", zipPath, err)
	}
	return nil
}

// exportableArtifact selects which stored files belong in an export.
// Stage checkpoints are transient and stay behind; connections.json and
// annotations.json are generated fresh from the database instead.
func exportableArtifact(name string) bool {
	switch name {
	case "content.md", "chunks.json", "metadata.json", "manifest.json", "cached_chunks.json":
		return true
	case "connections.json", "annotations.json":
		return false
	}
	if strings.HasPrefix(name, "source.") {
		return true
	}
	if strings.HasPrefix(name, "validated-connections-") && strings.HasSuffix(name, ".json") {
		return true
	}
	return false
}

func writeZIPJSON(zw *zip.Writer, zipPath string, v any) error {
	f, err := zw.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create %s in archive: %w", zipPath, err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", zipPath, err)
	}
	return nil
}

func exportKey(userID string, ts time.Time) string {
	return fmt.Sprintf("%s/exports/export-%s.zip", userID, ts.UTC().Format("20060102T150405Z"))
}
