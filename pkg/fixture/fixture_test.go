package fixture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/status"
	"github.com/3leaps/batchlens/pkg/store/memory"
	"github.com/3leaps/batchlens/pkg/tracker"
)

const sample = `
hosts:
  - id: 1
    venue: edge
    last_seen: 100
jobs:
  - job_id: j1
    input_uri: s3://in/
    output_uri: s3://out/
    container_image: img
    num_chunks: 2
    chunk_range: {start: 0, end: 9}
    attempts:
      - {chunk: 0, host: 1, server_state: in_progress}
      - {chunk: 1, host: 1, server_state: over, outcome: client_error, stderr: boom}
`

func TestLoadFromBytes(t *testing.T) {
	f, err := LoadFromBytes([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Hosts, 1)
	require.Len(t, f.Jobs, 1)
	assert.Equal(t, int64(9), f.Jobs[0].ChunkRange.End)
	assert.Len(t, f.Jobs[0].Attempts, 2)
}

func TestLoadFromBytes_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty", "  \n", "empty"},
		{"unknown key", "hosts: []\nbogus: 1\n", "invalid YAML"},
		{"bad host id", "hosts:\n  - id: 0\n", "id must be positive"},
		{"duplicate host", "hosts:\n  - id: 1\n  - id: 1\n", "duplicate id"},
		{"missing job id", "jobs:\n  - num_chunks: 1\n", "job_id is required"},
		{"chunk out of range", "jobs:\n  - job_id: a\n    num_chunks: 1\n    attempts:\n      - {chunk: 1}\n", "out of range"},
		{"unknown host", "jobs:\n  - job_id: a\n    num_chunks: 1\n    attempts:\n      - {chunk: 0, host: 9}\n", "unknown host"},
		{"bad state", "jobs:\n  - job_id: a\n    num_chunks: 1\n    attempts:\n      - {chunk: 0, server_state: flying}\n", "unknown server state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, f.Jobs, 1)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestAttemptRecordDefaults(t *testing.T) {
	a, err := Attempt{Chunk: 0}.Record()
	require.NoError(t, err)
	assert.Equal(t, record.ServerStateUnsent, a.ServerState)
	assert.Equal(t, record.OutcomeInit, a.Outcome)
	assert.Equal(t, record.ValidateStateInit, a.ValidateState)
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	f, err := LoadFromBytes([]byte(sample))
	require.NoError(t, err)

	mem := memory.New()
	svc := tracker.New(mem, tracker.Options{})

	res, err := Apply(ctx, f, svc, mem)
	require.NoError(t, err)
	assert.Equal(t, Result{Hosts: 1, Jobs: 1, Attempts: 2}, res)

	job, found, err := svc.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, status.StateFailed, job.Status)
	assert.Equal(t, status.StateRunning, job.Chunks[0].Status)
	require.NotNil(t, job.Chunks[1].FailureReason)
	assert.Equal(t, "boom", *job.Chunks[1].FailureReason)

	workers, err := svc.ListWorkers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, status.WorkerActive, workers[0].State)

	res, err = Apply(ctx, f, svc, mem)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Attempts)
}
