package connections

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rhizome-app/rhizome/domain/chunks"
)

// FormatVersion is written into every connections.json and backup artifact
const FormatVersion = "1.0"

// ConnectionsFile is the connections.json export artifact. The same shape is
// used for validated-connections backups taken before smart reprocessing.
type ConnectionsFile struct {
	Version     string             `json:"version"`
	DocumentID  string             `json:"document_id"`
	ExportedAt  time.Time          `json:"exported_at"`
	Connections []ConnectionRecord `json:"connections"`
}

// ConnectionRecord is one connection in connections.json
type ConnectionRecord struct {
	ID             string                 `json:"id,omitempty"`
	SourceChunkID  string                 `json:"source_chunk_id"`
	TargetChunkID  string                 `json:"target_chunk_id"`
	ConnectionType string                 `json:"connection_type"`
	Engine         string                 `json:"engine"`
	Strength       float64                `json:"strength"`
	Evidence       *string                `json:"evidence,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	AutoDetected   bool                   `json:"auto_detected"`
	UserValidated  bool                   `json:"user_validated"`
	DiscoveredAt   time.Time              `json:"discovered_at"`
}

// NewConnectionsFile builds a connections.json document from persisted rows
func NewConnectionsFile(documentID string, rows []*Connection) *ConnectionsFile {
	file := &ConnectionsFile{
		Version:     FormatVersion,
		DocumentID:  documentID,
		ExportedAt:  time.Now().UTC(),
		Connections: make([]ConnectionRecord, 0, len(rows)),
	}
	for _, c := range rows {
		file.Connections = append(file.Connections, RecordFromConnection(c))
	}
	return file
}

// RecordFromConnection converts a connections row to its export record
func RecordFromConnection(c *Connection) ConnectionRecord {
	rec := ConnectionRecord{
		ID:             c.ID.String(),
		SourceChunkID:  c.SourceChunkID.String(),
		TargetChunkID:  c.TargetChunkID.String(),
		ConnectionType: c.ConnectionType,
		Engine:         c.Engine,
		Strength:       c.Strength,
		Evidence:       c.Evidence,
		AutoDetected:   c.AutoDetected,
		UserValidated:  c.UserValidated,
		DiscoveredAt:   c.DiscoveredAt,
	}
	if c.Metadata != nil {
		rec.Metadata = *c.Metadata
	}
	return rec
}

// ToConnection converts an export record back to a row for userID. Chunk IDs
// must parse; connections referencing chunks that no longer exist are
// rejected later by the upsert's foreign keys.
func (r ConnectionRecord) ToConnection(userID string) (*Connection, error) {
	source, err := uuid.Parse(r.SourceChunkID)
	if err != nil {
		return nil, fmt.Errorf("invalid source_chunk_id %q: %w", r.SourceChunkID, err)
	}
	target, err := uuid.Parse(r.TargetChunkID)
	if err != nil {
		return nil, fmt.Errorf("invalid target_chunk_id %q: %w", r.TargetChunkID, err)
	}

	c := &Connection{
		ID:             uuid.New(),
		UserID:         userID,
		SourceChunkID:  source,
		TargetChunkID:  target,
		ConnectionType: r.ConnectionType,
		Engine:         r.Engine,
		Strength:       r.Strength,
		Evidence:       r.Evidence,
		AutoDetected:   r.AutoDetected,
		UserValidated:  r.UserValidated,
		DiscoveredAt:   r.DiscoveredAt,
	}
	if r.ID != "" {
		if id, err := uuid.Parse(r.ID); err == nil {
			c.ID = id
		}
	}
	if c.DiscoveredAt.IsZero() {
		c.DiscoveredAt = time.Now().UTC()
	}
	if r.Metadata != nil {
		m := chunks.JSONMap(r.Metadata)
		c.Metadata = &m
	}
	return c, nil
}

// BackupFileName names a validated-connections backup taken at ts
func BackupFileName(ts time.Time) string {
	return fmt.Sprintf("validated-connections-%s.json", ts.UTC().Format("20060102T150405Z"))
}
