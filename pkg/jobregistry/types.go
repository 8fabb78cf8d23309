package jobregistry

import (
	"time"

	"github.com/3leaps/batchlens/pkg/batchmeta"
)

// Origin records which surface accepted a submission.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type Origin string

const (
	OriginCLI  Origin = "cli"
	OriginHTTP Origin = "http"
	OriginSeed Origin = "seed"
)

// ChunkRecord is one chunk as it was submitted.
type ChunkRecord struct {
	ChunkID int64           `json:"chunk_id"`
	Name    string          `json:"name"`
	Range   batchmeta.Range `json:"chunk_range"`
}

// JobRecord is the persistent record written to job.json.
//
// It holds what was submitted, not what happened to it. Execution state lives
// in the record store and is derived on read.
type JobRecord struct {
	JobID             string          `json:"job_id"`
	Origin            Origin          `json:"origin,omitempty"`
	InputURI          string          `json:"input_uri"`
	OutputURI         string          `json:"output_uri"`
	ContainerImage    string          `json:"container_image"`
	WorkerLabel       string          `json:"worker_label,omitempty"`
	RequireValidation bool            `json:"require_validation"`
	Range             batchmeta.Range `json:"chunk_range"`
	Chunks            []ChunkRecord   `json:"chunks"`
	CreatedAt         time.Time       `json:"created_at"`
}
