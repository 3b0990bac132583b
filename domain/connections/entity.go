// Package connections detects and stores chunk-to-chunk connections. Three
// engines run serially over a source document: embedding similarity,
// conceptual contradiction and LLM-scored thematic bridges. Their results
// are merged per (source, target, type) key and upserted, so re-detection
// refreshes strengths without duplicating rows or clobbering user votes.
package connections

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/rhizome-app/rhizome/domain/chunks"
)

// Engine names, in orchestration order
const (
	EngineSemanticSimilarity     = "semantic_similarity"
	EngineContradictionDetection = "contradiction_detection"
	EngineThematicBridge         = "thematic_bridge"
)

// Connection types written by the engines
const (
	TypeSemanticSimilarity = "semantic_similarity"
	TypeContradiction      = "contradiction"
	TypeThematicBridge     = "thematic_bridge"
)

// Reprocessing modes
const (
	ReprocessAll    = "all"
	ReprocessSmart  = "smart"
	ReprocessAddNew = "add_new"
)

// DefaultEngines returns the engines in orchestration order
func DefaultEngines() []string {
	return []string{
		EngineSemanticSimilarity,
		EngineContradictionDetection,
		EngineThematicBridge,
	}
}

// Connection is a connections row
type Connection struct {
	bun.BaseModel `bun:"table:connections,alias:conn"`

	ID             uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	UserID         string          `bun:"user_id,notnull" json:"user_id"`
	SourceChunkID  uuid.UUID       `bun:"source_chunk_id,type:uuid,notnull" json:"source_chunk_id"`
	TargetChunkID  uuid.UUID       `bun:"target_chunk_id,type:uuid,notnull" json:"target_chunk_id"`
	ConnectionType string          `bun:"connection_type,notnull" json:"connection_type"`
	Engine         string          `bun:"engine,notnull" json:"engine"`
	Strength       float64         `bun:"strength,notnull" json:"strength"`
	Evidence       *string         `bun:"evidence" json:"evidence,omitempty"`
	Metadata       *chunks.JSONMap `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	AutoDetected   bool            `bun:"auto_detected,notnull,default:true" json:"auto_detected"`
	UserValidated  bool            `bun:"user_validated,notnull,default:false" json:"user_validated"`
	DiscoveredAt   time.Time       `bun:"discovered_at,notnull,default:now()" json:"discovered_at"`
}

// Key identifies a connection independent of which engine produced it.
// It is the upsert conflict key.
type Key struct {
	Source uuid.UUID
	Target uuid.UUID
	Type   string
}

// Key returns the connection's dedupe key
func (c *Connection) Key() Key {
	return Key{Source: c.SourceChunkID, Target: c.TargetChunkID, Type: c.ConnectionType}
}
