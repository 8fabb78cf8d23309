// Package output provides JSONL output for job and worker listings.
//
// Output is structured as typed record envelopes containing jobs, chunks,
// workers, errors and a closing summary. Each line is a self-contained JSON
// object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/batchlens/pkg/aggregate"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: batchlens.<type>.v<version>
const (
	// TypeJob identifies job summary records.
	TypeJob = "batchlens.job.v1"

	// TypeChunk identifies per-chunk detail records.
	TypeChunk = "batchlens.chunk.v1"

	// TypeWorker identifies worker records.
	TypeWorker = "batchlens.worker.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "batchlens.summary.v1"

	// TypeError identifies error records.
	TypeError = "batchlens.error.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "batchlens.job.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// Backend identifies the record store (e.g., "memory", "boincdb").
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for one job row.
type JobRecord struct {
	aggregate.JobSummary

	InputURI       string `json:"input_uri,omitempty"`
	OutputURI      string `json:"output_uri,omitempty"`
	ContainerImage string `json:"container_image,omitempty"`
	WorkerLabel    string `json:"worker_label,omitempty"`
}

// NewJobRecord flattens a job detail into a JobRecord.
func NewJobRecord(job *aggregate.Job) *JobRecord {
	return &JobRecord{
		JobSummary:     job.Summary(),
		InputURI:       job.InputURI,
		OutputURI:      job.OutputURI,
		ContainerImage: job.ContainerImage,
		WorkerLabel:    job.WorkerLabel,
	}
}

// ChunkRecord is the data payload for one chunk of a job.
type ChunkRecord struct {
	JobID string `json:"job_id"`
	aggregate.Chunk
}

// WorkerRecord is the data payload for one worker.
type WorkerRecord = aggregate.WorkerSummary

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// JobID is the job related to this error, if applicable.
	JobID string `json:"job_id,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeValidation  = "VALIDATION_ERROR"
	ErrCodeReadOnly    = "READ_ONLY"
	ErrCodeInternal    = "INTERNAL"
)

// SummaryRecord is the data payload for the closing summary.
type SummaryRecord struct {
	// Kind is what was listed: "jobs", "job" or "workers".
	Kind string `json:"kind"`

	// Total is the number of records emitted before the summary.
	Total int `json:"total"`

	// ByState counts records per status or worker state.
	ByState map[string]int `json:"by_state,omitempty"`

	// Duration is the total query duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
