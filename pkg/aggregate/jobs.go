// Package aggregate groups chunk records into jobs and host records into
// worker summaries.
//
// The output types are the dashboard-facing shapes served by the HTTP API and
// printed by the CLI. Field names and JSON tags are part of that contract.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/3leaps/batchlens/pkg/batchmeta"
	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/status"
)

// BatchKeyPrefix prefixes synthetic job ids derived from a workunit batch.
const BatchKeyPrefix = "batch:"

// Progress counts completed chunks.
type Progress struct {
	CompletedChunks int `json:"completed_chunks"`
	TotalChunks     int `json:"total_chunks"`
}

// JobSummary is one row of the job list.
type JobSummary struct {
	JobID     string       `json:"job_id"`
	Status    status.State `json:"status"`
	Progress  Progress     `json:"progress"`
	CreatedAt int64        `json:"created_at"`
}

// Chunk is the per-chunk view within a job.
type Chunk struct {
	ChunkID       int64               `json:"chunk_id"`
	Status        status.State        `json:"status"`
	Retries       int                 `json:"retries"`
	FailureReason *string             `json:"failure_reason"`
	Verification  status.Verification `json:"verification"`
	Range         *batchmeta.Range    `json:"chunk_range,omitempty"`
}

// Job is the full job detail.
type Job struct {
	JobID          string       `json:"job_id"`
	Status         status.State `json:"status"`
	CreatedAt      int64        `json:"created_at"`
	InputURI       string       `json:"input_uri,omitempty"`
	OutputURI      string       `json:"output_uri,omitempty"`
	ContainerImage string       `json:"container_image,omitempty"`
	WorkerLabel    string       `json:"worker_label,omitempty"`
	Chunks         []Chunk      `json:"chunks"`
}

// Progress counts the job's completed chunks.
func (j *Job) Progress() Progress {
	p := Progress{TotalChunks: len(j.Chunks)}
	for _, c := range j.Chunks {
		if c.Status == status.StateCompleted {
			p.CompletedChunks++
		}
	}
	return p
}

// Summary returns the list-view row for j.
func (j *Job) Summary() JobSummary {
	return JobSummary{
		JobID:     j.JobID,
		Status:    j.Status,
		Progress:  j.Progress(),
		CreatedAt: j.CreatedAt,
	}
}

// JobKey resolves the logical job a chunk belongs to: the explicit job id
// from metadata, else "batch:<n>" for batched workunits, else the chunk name.
func JobKey(c record.Chunk, meta batchmeta.Meta) string {
	if id := strings.TrimSpace(meta.JobID); id != "" {
		return id
	}
	if c.Batch != 0 {
		return fmt.Sprintf("%s%d", BatchKeyPrefix, c.Batch)
	}
	return c.Name
}

// BuildJobs groups chunks into jobs.
//
// Chunks are processed in ascending structural id so that the "first value
// wins" metadata merge is deterministic regardless of the order the store
// returned them in. Jobs are returned in order of their first chunk.
func BuildJobs(chunks []record.Chunk) []Job {
	ordered := make([]record.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	var jobs []*Job
	byID := make(map[string]*Job)
	for _, c := range ordered {
		meta := batchmeta.Extract(c.Metadata)
		key := JobKey(c, meta)

		job, ok := byID[key]
		if !ok {
			job = &Job{JobID: key, Chunks: []Chunk{}}
			byID[key] = job
			jobs = append(jobs, job)
		}
		merge(job, c, meta)
	}

	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, finalize(job))
	}
	return out
}

// BuildJob returns the job with the given id among chunks.
// Chunks that resolve to a different job are ignored.
func BuildJob(jobID string, chunks []record.Chunk) (*Job, bool) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, false
	}
	for _, job := range BuildJobs(chunks) {
		if job.JobID == jobID {
			j := job
			return &j, true
		}
	}
	return nil, false
}

// Summarize converts jobs to list rows, newest first. Ties keep job id order.
func Summarize(jobs []Job) []JobSummary {
	out := make([]JobSummary, 0, len(jobs))
	for i := range jobs {
		out = append(out, jobs[i].Summary())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}

// FilterSummaries keeps summaries whose job id matches the glob pattern.
// An empty pattern keeps everything.
func FilterSummaries(summaries []JobSummary, pattern string) ([]JobSummary, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return summaries, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("invalid job id pattern %q", pattern)
	}

	out := make([]JobSummary, 0, len(summaries))
	for _, s := range summaries {
		ok, err := doublestar.Match(pattern, s.JobID)
		if err != nil {
			return nil, fmt.Errorf("match job id pattern: %w", err)
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func merge(job *Job, c record.Chunk, meta batchmeta.Meta) {
	if c.CreatedAt != 0 && (job.CreatedAt == 0 || c.CreatedAt < job.CreatedAt) {
		job.CreatedAt = c.CreatedAt
	}
	fillFirst(&job.InputURI, meta.InputURI)
	fillFirst(&job.OutputURI, meta.OutputURI)
	fillFirst(&job.ContainerImage, meta.ContainerImage)
	fillFirst(&job.WorkerLabel, meta.WorkerLabel)

	job.Chunks = append(job.Chunks, resolveChunk(c, meta))
}

func finalize(job *Job) Job {
	states := make([]status.State, 0, len(job.Chunks))
	for _, c := range job.Chunks {
		states = append(states, c.Status)
	}
	job.Status = status.ResolveJob(states)
	return *job
}

func resolveChunk(c record.Chunk, meta batchmeta.Meta) Chunk {
	id := c.ID
	if meta.ChunkID != nil {
		id = *meta.ChunkID
	}

	out := Chunk{
		ChunkID:      id,
		Status:       status.ResolveChunk(c.NeedValidate, c.Attempts),
		Retries:      status.RetryCount(c.Attempts),
		Verification: status.ResolveVerification(c.NeedValidate, c.Attempts),
		Range:        meta.ChunkRange,
	}
	if reason, ok := status.FailureReason(c.Attempts); ok {
		out.FailureReason = &reason
	}
	return out
}

func fillFirst(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}
