package chunks

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorLiteral(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
		want string
	}{
		{"empty", nil, "[]"},
		{"single", []float32{0.5}, "[0.5]"},
		{"multiple", []float32{1, -2.5, 0}, "[1,-2.5,0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VectorLiteral(tt.vec))
		})
	}
}

func TestChunksFile_RoundTrip(t *testing.T) {
	docID := uuid.New()
	themes := JSONSlice{"memory", "identity"}
	importance := 0.8
	conf := ConfidenceExact
	method := "exact_substring"

	original := &Chunk{
		ID:                 uuid.New(),
		DocumentID:         docID,
		ChunkIndex:         0,
		Content:            "The first chunk of the document.",
		StartOffset:        0,
		EndOffset:          32,
		WordCount:          6,
		Themes:             &themes,
		ImportanceScore:    &importance,
		PositionConfidence: &conf,
		PositionMethod:     &method,
		PositionValidated:  true,
	}

	file := NewChunksFile(docID.String(), []*Chunk{original})
	require.Equal(t, FormatVersion, file.Version)
	require.Len(t, file.Chunks, 1)
	require.Equal(t, original.ID.String(), file.Chunks[0].ID)

	raw, err := json.Marshal(file)
	require.NoError(t, err)

	var decoded ChunksFile
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NoError(t, decoded.Validate())

	restored, err := decoded.Chunks[0].ToChunk(docID)
	require.NoError(t, err)

	// Identity and offsets are byte-identical across the round trip
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Content, restored.Content)
	assert.Equal(t, original.StartOffset, restored.StartOffset)
	assert.Equal(t, original.EndOffset, restored.EndOffset)
	assert.Equal(t, original.PositionValidated, restored.PositionValidated)
	require.NotNil(t, restored.Themes)
	assert.Equal(t, themes, *restored.Themes)
}

func TestChunkRecord_ToChunk_GeneratesIDWhenMissing(t *testing.T) {
	docID := uuid.New()
	rec := ChunkRecord{
		ChunkIndex:  0,
		Content:     "no id carried",
		StartOffset: 0,
		EndOffset:   13,
	}

	c1, err := rec.ToChunk(docID)
	require.NoError(t, err)
	c2, err := rec.ToChunk(docID)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, c1.ID)
	assert.NotEqual(t, c1.ID, c2.ID, "fresh UUIDs per conversion when none is carried")
}

func TestChunkRecord_ToChunk_InvalidID(t *testing.T) {
	rec := ChunkRecord{ID: "not-a-uuid", Content: "x"}
	_, err := rec.ToChunk(uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid chunk id")
}

func TestChunksFile_Validate(t *testing.T) {
	docID := uuid.New().String()

	tests := []struct {
		name    string
		file    ChunksFile
		wantErr string
	}{
		{
			name: "valid",
			file: ChunksFile{
				Version:    FormatVersion,
				DocumentID: docID,
				Chunks: []ChunkRecord{
					{ChunkIndex: 0, StartOffset: 0, EndOffset: 10},
					{ChunkIndex: 1, StartOffset: 10, EndOffset: 20},
				},
			},
		},
		{
			name:    "missing version",
			file:    ChunksFile{DocumentID: docID},
			wantErr: "missing version",
		},
		{
			name:    "missing document id",
			file:    ChunksFile{Version: FormatVersion},
			wantErr: "missing document_id",
		},
		{
			name: "inverted offsets",
			file: ChunksFile{
				Version:    FormatVersion,
				DocumentID: docID,
				Chunks:     []ChunkRecord{{ChunkIndex: 0, StartOffset: 10, EndOffset: 5}},
			},
			wantErr: "start_offset > end_offset",
		},
		{
			name: "non-increasing index",
			file: ChunksFile{
				Version:    FormatVersion,
				DocumentID: docID,
				Chunks: []ChunkRecord{
					{ChunkIndex: 1, StartOffset: 0, EndOffset: 5},
					{ChunkIndex: 1, StartOffset: 5, EndOffset: 9},
				},
			},
			wantErr: "not strictly increasing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.file.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestChunksFile_UnknownFieldsTolerated(t *testing.T) {
	raw := []byte(`{
		"version": "1.0",
		"document_id": "` + uuid.New().String() + `",
		"future_field": {"nested": true},
		"chunks": [
			{"chunk_index": 0, "content": "x", "start_offset": 0, "end_offset": 1, "word_count": 1, "another_future_field": 42}
		]
	}`)

	var file ChunksFile
	require.NoError(t, json.Unmarshal(raw, &file))
	require.NoError(t, file.Validate())
	assert.Len(t, file.Chunks, 1)
	assert.Equal(t, "x", file.Chunks[0].Content)
}
