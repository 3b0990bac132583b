package connections

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhizome-app/rhizome/domain/chunks"
	"github.com/rhizome-app/rhizome/internal/config"
)

func TestContradictionStrength(t *testing.T) {
	// two shared concepts, polarity gap 1.2
	assert.InDelta(t, 0.575, contradictionStrength(2, 1.2), 1e-9)
	// overlap saturates at the cap, gap at the full polarity span
	assert.InDelta(t, 1.0, contradictionStrength(6, 2.0), 1e-9)
	// minimal signal
	assert.InDelta(t, 0.0625, contradictionStrength(1, 0), 1e-9)
	// never exceeds 1 even with inflated inputs
	assert.LessOrEqual(t, contradictionStrength(100, 5), 1.0)
}

func TestSharedConcepts(t *testing.T) {
	a := []chunks.Concept{
		{Text: "Free Will", Importance: 0.9},
		{Text: "determinism", Importance: 0.8},
		{Text: "free will", Importance: 0.5}, // duplicate, different case
		{Text: "ethics", Importance: 0.3},
	}
	b := []chunks.Concept{
		{Text: "free will", Importance: 0.7},
		{Text: "Determinism", Importance: 0.6},
	}

	shared := sharedConcepts(a, b)
	require.Len(t, shared, 2)
	assert.Equal(t, []string{"Free Will", "determinism"}, shared)

	assert.Empty(t, sharedConcepts(a, nil))
	assert.Empty(t, sharedConcepts(nil, b))
}

func TestPolarityGap(t *testing.T) {
	assert.Equal(t, 1.5, polarityGap(0.7, -0.8))
	assert.Equal(t, 1.5, polarityGap(-0.8, 0.7))
	assert.Equal(t, 0.0, polarityGap(0.4, 0.4))
}

func testWeights() map[string]float64 {
	return EngineWeights(config.ConnectionsConfig{
		SemanticWeight:      0.25,
		ContradictionWeight: 0.40,
		BridgeWeight:        0.35,
	}, nil)
}

func conn(source, target uuid.UUID, connType, engine string, strength float64) *Connection {
	return &Connection{
		ID:             uuid.New(),
		UserID:         "u1",
		SourceChunkID:  source,
		TargetChunkID:  target,
		ConnectionType: connType,
		Engine:         engine,
		Strength:       strength,
		AutoDetected:   true,
	}
}

func TestMerge_SingletonsPassThrough(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	in := []*Connection{
		conn(a, b, TypeSemanticSimilarity, EngineSemanticSimilarity, 0.8),
		conn(a, c, TypeContradiction, EngineContradictionDetection, 0.7),
	}

	out := Merge(in, testWeights())
	require.Len(t, out, 2)
	assert.Equal(t, 0.8, out[0].Strength)
	assert.Equal(t, 0.7, out[1].Strength)
	assert.Nil(t, out[0].Metadata)
}

func TestMerge_WeightedSumOnCollision(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	first := conn(a, b, TypeSemanticSimilarity, EngineSemanticSimilarity, 0.8)
	second := conn(a, b, TypeSemanticSimilarity, EngineThematicBridge, 0.6)
	in := []*Connection{first, second}

	out := Merge(in, testWeights())
	require.Len(t, out, 1)
	// 0.25*0.8 + 0.35*0.6
	assert.InDelta(t, 0.41, out[0].Strength, 1e-9)
	require.NotNil(t, out[0].Metadata)
	assert.Equal(t,
		[]interface{}{EngineSemanticSimilarity, EngineThematicBridge},
		(*out[0].Metadata)["mergedEngines"],
	)
	// the input rows are left untouched
	assert.Equal(t, 0.8, first.Strength)
}

func TestMerge_PreservesFirstSeenOrder(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	in := []*Connection{
		conn(a, b, TypeSemanticSimilarity, EngineSemanticSimilarity, 0.9),
		conn(a, c, TypeSemanticSimilarity, EngineSemanticSimilarity, 0.8),
		conn(a, b, TypeSemanticSimilarity, EngineThematicBridge, 0.7),
	}

	out := Merge(in, testWeights())
	require.Len(t, out, 2)
	assert.Equal(t, b, out[0].TargetChunkID)
	assert.Equal(t, c, out[1].TargetChunkID)
}

func TestEngineWeights_Overrides(t *testing.T) {
	weights := EngineWeights(config.ConnectionsConfig{
		SemanticWeight:      0.25,
		ContradictionWeight: 0.40,
		BridgeWeight:        0.35,
	}, map[string]float64{
		EngineSemanticSimilarity: 0.5,
		"unknown_engine":         0.9,
	})

	assert.Equal(t, 0.5, weights[EngineSemanticSimilarity])
	assert.Equal(t, 0.40, weights[EngineContradictionDetection])
	_, ok := weights["unknown_engine"]
	assert.False(t, ok, "unknown engines are not added")
}

func TestConnectionRecordRoundTrip(t *testing.T) {
	evidence := "opposing views on: free will"
	meta := chunks.JSONMap{"sharedTheme": "agency"}
	orig := &Connection{
		ID:             uuid.New(),
		UserID:         "u1",
		SourceChunkID:  uuid.New(),
		TargetChunkID:  uuid.New(),
		ConnectionType: TypeContradiction,
		Engine:         EngineContradictionDetection,
		Strength:       0.72,
		Evidence:       &evidence,
		Metadata:       &meta,
		AutoDetected:   true,
		UserValidated:  true,
		DiscoveredAt:   time.Now().UTC().Truncate(time.Second),
	}

	rec := RecordFromConnection(orig)
	back, err := rec.ToConnection("u1")
	require.NoError(t, err)

	assert.Equal(t, orig.ID, back.ID, "connection id survives the round trip")
	assert.Equal(t, orig.SourceChunkID, back.SourceChunkID)
	assert.Equal(t, orig.TargetChunkID, back.TargetChunkID)
	assert.Equal(t, orig.Strength, back.Strength)
	assert.True(t, back.UserValidated)
	require.NotNil(t, back.Metadata)
	assert.Equal(t, "agency", (*back.Metadata)["sharedTheme"])
}

func TestConnectionRecord_RejectsBadChunkIDs(t *testing.T) {
	rec := ConnectionRecord{
		SourceChunkID:  "not-a-uuid",
		TargetChunkID:  uuid.NewString(),
		ConnectionType: TypeSemanticSimilarity,
	}
	_, err := rec.ToConnection("u1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_chunk_id")
}

func TestBackupFileName(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	name := BackupFileName(ts)
	assert.Equal(t, "validated-connections-20260314T092653Z.json", name)
	assert.True(t, strings.HasPrefix(name, "validated-connections-"))
}

func TestExcerpt(t *testing.T) {
	long := strings.Repeat("lorem ipsum dolor sit amet ", 60)
	short := excerpt(long)
	assert.LessOrEqual(t, len(short), bridgeExcerptLen+len("…"))
	assert.True(t, strings.HasSuffix(short, "…"))

	assert.Equal(t, "tidy short text", excerpt("  tidy \n short   text "))
}
