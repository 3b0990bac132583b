package port

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-app/rhizome/domain/chunks"
)

func mkChunk(id uuid.UUID, index int, content string) *chunks.Chunk {
	return &chunks.Chunk{ID: id, ChunkIndex: index, Content: content}
}

func TestPlanMerge_PreservesIDsOnContentMatch(t *testing.T) {
	keep := uuid.New()
	existing := []*chunks.Chunk{mkChunk(keep, 0, "unchanged content")}
	// incoming carries a different id but identical content
	incoming := []*chunks.Chunk{mkChunk(uuid.New(), 0, "unchanged content")}

	plan := planMerge(existing, incoming)
	require.Len(t, plan.updates, 1)
	assert.Equal(t, keep, plan.updates[0].ID, "surviving chunk keeps its id")
	assert.Empty(t, plan.inserts)
	assert.Empty(t, plan.deleteIDs)
}

func TestPlanMerge_IDMatchWithSameContent(t *testing.T) {
	id := uuid.New()
	existing := []*chunks.Chunk{mkChunk(id, 0, "same")}
	incoming := []*chunks.Chunk{mkChunk(id, 0, "same")}

	plan := planMerge(existing, incoming)
	require.Len(t, plan.updates, 1)
	assert.Equal(t, id, plan.updates[0].ID)
	assert.Empty(t, plan.deleteIDs)
}

func TestPlanMerge_ChangedContentReplacesChunk(t *testing.T) {
	id := uuid.New()
	existing := []*chunks.Chunk{mkChunk(id, 0, "old content")}
	incoming := []*chunks.Chunk{mkChunk(id, 0, "rewritten content")}

	plan := planMerge(existing, incoming)
	assert.Empty(t, plan.updates)
	require.Len(t, plan.inserts, 1)
	assert.Equal(t, id, plan.inserts[0].ID, "incoming id is still used for the insert")
	assert.Equal(t, []uuid.UUID{id}, plan.deleteIDs)
}

func TestPlanMerge_InsertsAndDeletes(t *testing.T) {
	gone := uuid.New()
	kept := uuid.New()
	existing := []*chunks.Chunk{
		mkChunk(kept, 0, "kept"),
		mkChunk(gone, 1, "removed by the edit"),
	}
	incoming := []*chunks.Chunk{
		mkChunk(kept, 0, "kept"),
		mkChunk(uuid.New(), 1, "brand new section"),
	}

	plan := planMerge(existing, incoming)
	require.Len(t, plan.updates, 1)
	assert.Equal(t, kept, plan.updates[0].ID)
	require.Len(t, plan.inserts, 1)
	assert.Equal(t, "brand new section", plan.inserts[0].Content)
	assert.Equal(t, []uuid.UUID{gone}, plan.deleteIDs)
}

func TestPlanMerge_ReorderedArchiveReindexesSurvivors(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	existing := []*chunks.Chunk{
		mkChunk(a, 0, "intro"),
		mkChunk(b, 1, "dropped section"),
		mkChunk(c, 2, "conclusion"),
	}
	// the archive dropped the middle chunk, so survivors shift down and a
	// new chunk lands on the index the conclusion used to hold
	incoming := []*chunks.Chunk{
		mkChunk(a, 0, "intro"),
		mkChunk(c, 1, "conclusion"),
		mkChunk(uuid.New(), 2, "afterword"),
	}

	plan := planMerge(existing, incoming)

	require.Len(t, plan.updates, 2)
	indexByID := map[uuid.UUID]int{}
	for _, u := range plan.updates {
		indexByID[u.ID] = u.ChunkIndex
	}
	assert.Equal(t, 0, indexByID[a])
	assert.Equal(t, 1, indexByID[c], "survivor carries its new position, not the stale one")

	require.Len(t, plan.inserts, 1)
	assert.Equal(t, 2, plan.inserts[0].ChunkIndex)
	assert.Equal(t, []uuid.UUID{b}, plan.deleteIDs)
}

func TestPlanMerge_DuplicateContentClaimsEachOnce(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	existing := []*chunks.Chunk{
		mkChunk(a, 0, "repeated paragraph"),
		mkChunk(b, 1, "repeated paragraph"),
	}
	incoming := []*chunks.Chunk{
		mkChunk(uuid.New(), 0, "repeated paragraph"),
		mkChunk(uuid.New(), 1, "repeated paragraph"),
	}

	plan := planMerge(existing, incoming)
	require.Len(t, plan.updates, 2)
	assert.NotEqual(t, plan.updates[0].ID, plan.updates[1].ID)
	assert.ElementsMatch(t, []uuid.UUID{a, b}, []uuid.UUID{plan.updates[0].ID, plan.updates[1].ID})
	assert.Empty(t, plan.deleteIDs)
}

func TestExportableArtifact(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"content.md", true},
		{"chunks.json", true},
		{"metadata.json", true},
		{"manifest.json", true},
		{"cached_chunks.json", true},
		{"source.pdf", true},
		{"source.epub", true},
		{"validated-connections-20260314T092653Z.json", true},
		{"stage-extraction.json", false},
		{"stage-embedding.json", false},
		// generated fresh from the database, not copied
		{"connections.json", false},
		{"annotations.json", false},
		{"random.txt", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, exportableArtifact(tt.name), tt.name)
	}
}

func TestExportKey(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "user-1/exports/export-20260314T092653Z.zip", exportKey("user-1", ts))
}
