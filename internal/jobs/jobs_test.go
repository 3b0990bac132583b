package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{
			name: "short message",
			msg:  "short error",
			want: "short error",
		},
		{
			name: "exactly 500 characters",
			msg:  strings.Repeat("a", 500),
			want: strings.Repeat("a", 500),
		},
		{
			name: "501 characters truncated to 500",
			msg:  strings.Repeat("a", 501),
			want: strings.Repeat("a", 500),
		},
		{
			name: "long message truncated",
			msg:  strings.Repeat("b", 1000),
			want: strings.Repeat("b", 500),
		},
		{
			name: "empty string",
			msg:  "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateError(tt.msg)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len(got), 500)
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil error", nil, ErrorPermanent},
		{"timeout", errors.New("request timeout after 30s"), ErrorTransient},
		{"deadline", errors.New("context deadline exceeded"), ErrorTransient},
		{"connection refused", errors.New("dial tcp: connection refused"), ErrorTransient},
		{"socket hangup", errors.New("socket hang up"), ErrorTransient},
		{"http 503", errors.New("extractor returned status 503"), ErrorTransient},
		{"http 429", errors.New("status 429 Too Many Requests"), ErrorTransient},
		{"bad gateway", errors.New("502 Bad Gateway from upstream"), ErrorTransient},
		{"quota", errors.New("quota exceeded for project"), ErrorPaywall},
		{"billing", errors.New("billing account suspended"), ErrorPaywall},
		{"payment required", errors.New("server returned status 402 payment required"), ErrorPaywall},
		{"rate limit on billing plan", errors.New("rate limit exceeded for your billing plan"), ErrorPaywall},
		{"not found", errors.New("storage object not found"), ErrorInvalid},
		{"no such key", errors.New("NoSuchKey: the specified key does not exist"), ErrorInvalid},
		{"malformed", errors.New("malformed chunks.json"), ErrorInvalid},
		{"unmarshal", errors.New("json: cannot unmarshal string into int"), ErrorInvalid},
		{"unknown source", errors.New("unknown source type: docx"), ErrorInvalid},
		{"default", errors.New("internal assertion violated"), ErrorPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	assert.True(t, ErrorTransient.Retryable())
	assert.False(t, ErrorPaywall.Retryable())
	assert.False(t, ErrorInvalid.Retryable())
	assert.False(t, ErrorPermanent.Retryable())
}

func TestRetryDelay_Schedule(t *testing.T) {
	want := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		30 * time.Minute,
		30 * time.Minute,
		30 * time.Minute,
	}
	for retry, expected := range want {
		assert.Equal(t, expected, RetryDelay(retry), "retry %d", retry)
	}
}

func TestRetryDelay_Monotonic(t *testing.T) {
	prev := time.Duration(0)
	for retry := 0; retry < 10; retry++ {
		d := RetryDelay(retry)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 30*time.Minute)
		prev = d
	}
	assert.Equal(t, time.Minute, RetryDelay(-1))
}

func TestCheckpointHash(t *testing.T) {
	data := []byte(`{"markdown":"# Title","chunks":3}`)

	hash := CheckpointHash(data)

	require.Len(t, hash, 16)
	full := sha256.Sum256(data)
	assert.True(t, strings.HasPrefix(hex.EncodeToString(full[:]), hash))

	// Deterministic and content-sensitive
	assert.Equal(t, hash, CheckpointHash(data))
	assert.NotEqual(t, hash, CheckpointHash([]byte(`{"markdown":"# Title","chunks":4}`)))
}

func TestNextStageAfter(t *testing.T) {
	tests := []struct {
		stage string
		next  string
		ok    bool
	}{
		{StageExtraction, StageChunking, true},
		{StageCleanup, StageChunking, true},
		{StageChunking, StageEmbedding, true},
		{StageEmbedding, StageCompletion, true},
		{"matching", "", false},
		{"enrichment", "", false},
		{StageCompletion, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.stage, func(t *testing.T) {
			next, ok := NextStageAfter(tt.stage)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.next, next)
			assert.Equal(t, tt.ok, IsPauseSafe(tt.stage))
		})
	}
}

func TestProgress_ScanValue(t *testing.T) {
	p := Progress{
		Percent: 45,
		Stage:   StageChunking,
		Details: "chunking cleaned markdown",
		Checkpoint: &CheckpointRef{
			Stage:     StageCleanup,
			Path:      "user-1/doc-1/stage-cleanup.json",
			CanResume: true,
		},
	}

	val, err := p.Value()
	require.NoError(t, err)

	var got Progress
	require.NoError(t, got.Scan(val))
	assert.Equal(t, p.Percent, got.Percent)
	assert.Equal(t, p.Stage, got.Stage)
	require.NotNil(t, got.Checkpoint)
	assert.True(t, got.Checkpoint.CanResume)
	assert.Equal(t, p.Checkpoint.Path, got.Checkpoint.Path)

	var empty Progress
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, Progress{}, empty)
}

func TestMarshalJSON(t *testing.T) {
	got, err := marshalJSON(Progress{Percent: 30, Stage: StageExtraction})
	require.NoError(t, err)
	assert.Contains(t, got, `"percent":30`)

	_, err = marshalJSON(map[string]interface{}{"ch": make(chan int)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
}

func TestDecodeInput(t *testing.T) {
	job := &Job{
		JobType: TypeProcessDocument,
		InputData: map[string]interface{}{
			"documentId":     "doc-1",
			"sourceType":     "pdf",
			"storagePath":    "user-1/doc-1/source.pdf",
			"reviewWorkflow": true,
			"futureField":    "tolerated",
		},
	}

	input, err := DecodeInput[ProcessDocumentInput](job)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", input.DocumentID)
	assert.Equal(t, "pdf", input.SourceType)
	assert.Equal(t, "user-1/doc-1/source.pdf", input.StoragePath)
	assert.True(t, input.ReviewWorkflow)
	assert.Nil(t, input.EnrichChunks)
}

func TestHumanMessage(t *testing.T) {
	err := errors.New("dial tcp: connection refused")

	tests := []struct {
		kind     ErrorKind
		contains string
	}{
		{ErrorTransient, "will retry automatically"},
		{ErrorPaywall, "quota or billing"},
		{ErrorInvalid, "cannot be processed"},
		{ErrorPermanent, "Processing failed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			msg := HumanMessage(tt.kind, err)
			assert.Contains(t, msg, tt.contains)
			assert.Contains(t, msg, "connection refused")
		})
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get(TypeProcessDocument)
	assert.False(t, ok)

	r.Register(TypeProcessDocument, func(ctx context.Context, job *Job) (map[string]interface{}, error) {
		return nil, nil
	})

	_, ok = r.Get(TypeProcessDocument)
	assert.True(t, ok)
}
