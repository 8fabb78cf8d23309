package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/3leaps/batchlens/pkg/aggregate"
	"github.com/3leaps/batchlens/pkg/batchmeta"
	"github.com/3leaps/batchlens/pkg/inputcheck"
	"github.com/3leaps/batchlens/pkg/jobregistry"
	"github.com/3leaps/batchlens/pkg/partition"
	"github.com/3leaps/batchlens/pkg/record"
	"github.com/3leaps/batchlens/pkg/store"
)

// MaxJobIDLength bounds caller-supplied job ids.
const MaxJobIDLength = 128

// JobSpec is a job submission.
type JobSpec struct {
	JobID             string           `json:"job_id,omitempty"`
	InputURI          string           `json:"input_uri"`
	OutputURI         string           `json:"output_uri"`
	ContainerImage    string           `json:"container_image"`
	WorkerLabel       string           `json:"worker_label,omitempty"`
	NumChunks         int              `json:"num_chunks"`
	ChunkRange        *batchmeta.Range `json:"chunk_range,omitempty"`
	RequireValidation bool             `json:"require_validation,omitempty"`
}

// Validate normalizes spec in place (trimming strings) and checks every
// constraint except job id uniqueness and input existence.
func (spec *JobSpec) Validate() error {
	spec.JobID = strings.TrimSpace(spec.JobID)
	spec.InputURI = strings.TrimSpace(spec.InputURI)
	spec.OutputURI = strings.TrimSpace(spec.OutputURI)
	spec.ContainerImage = strings.TrimSpace(spec.ContainerImage)
	spec.WorkerLabel = strings.TrimSpace(spec.WorkerLabel)

	if spec.JobID != "" {
		if err := checkJobID(spec.JobID); err != nil {
			return err
		}
	}
	if spec.InputURI == "" {
		return invalid("input_uri", "is required")
	}
	if spec.OutputURI == "" {
		return invalid("output_uri", "is required")
	}
	if spec.ContainerImage == "" {
		return invalid("container_image", "is required")
	}
	if spec.WorkerLabel != "" {
		if _, ok := record.ParseWorkerLabel(spec.WorkerLabel); !ok {
			return invalid("worker_label", "must be one of %v", record.WorkerLabels)
		}
	}
	if spec.NumChunks < 1 || spec.NumChunks > partition.MaxChunks {
		return invalid("num_chunks", "must be between 1 and %d, got %d", partition.MaxChunks, spec.NumChunks)
	}
	return nil
}

func checkJobID(id string) error {
	if len(id) > MaxJobIDLength {
		return invalid("job_id", "must be at most %d characters", MaxJobIDLength)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return invalid("job_id", "must not contain path separators")
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return invalid("job_id", "must not contain control characters")
		}
	}
	return nil
}

// CreateJob validates spec, splits it into chunks and inserts them as one
// unit. Nothing becomes visible unless every chunk was built.
//
// Errors: store.ErrReadOnly when the backend has no write capability, a
// *ValidationError for bad input (including a duplicate job id, which also
// wraps store.ErrDuplicateJob), and store.ErrUnavailable when input
// verification cannot reach its provider.
func (s *Service) CreateJob(ctx context.Context, spec JobSpec) (*aggregate.Job, error) {
	ctx, span := s.tracer.Start(ctx, "tracker.create_job")
	defer span.End()

	if s.writer == nil {
		return nil, spanError(span, store.ErrReadOnly)
	}
	if err := spec.Validate(); err != nil {
		return nil, spanError(span, err)
	}
	if spec.JobID == "" {
		spec.JobID = uuid.New().String()
	}
	span.SetAttributes(
		attribute.String("job.id", spec.JobID),
		attribute.Int("job.num_chunks", spec.NumChunks),
	)

	if s.checker != nil {
		if err := s.checker.Check(ctx, spec.InputURI); err != nil {
			return nil, spanError(span, inputError(err))
		}
	}

	rec, err := s.plan(spec)
	if err != nil {
		return nil, spanError(span, err)
	}

	if err := s.writer.InsertJob(ctx, rec.JobID, chunksFromRecord(rec)); err != nil {
		if errors.Is(err, store.ErrDuplicateJob) {
			err = &ValidationError{Field: "job_id", Message: fmt.Sprintf("job %q already exists", rec.JobID), Err: err}
		}
		return nil, spanError(span, err)
	}

	s.logger.Info("Job accepted",
		zap.String("job_id", rec.JobID),
		zap.Int("chunks", len(rec.Chunks)),
		zap.String("container_image", rec.ContainerImage),
	)

	if s.registry != nil {
		if err := s.registry.Write(rec); err != nil {
			s.logger.Warn("Failed to persist job submission",
				zap.String("job_id", rec.JobID),
				zap.Error(err),
			)
		}
	}

	job, found, err := s.GetJob(ctx, rec.JobID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("job %q not visible after insert", rec.JobID)
	}
	return job, nil
}

// Restore re-inserts persisted submissions into the backend, oldest first.
// Jobs the backend already holds are skipped. It returns the number restored.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.registry == nil {
		return 0, nil
	}
	if s.writer == nil {
		return 0, store.ErrReadOnly
	}

	records, err := s.registry.List()
	if err != nil {
		return 0, fmt.Errorf("list job registry: %w", err)
	}

	restored := 0
	for i := len(records) - 1; i >= 0; i-- {
		rec := &records[i]
		if err := s.writer.InsertJob(ctx, rec.JobID, chunksFromRecord(rec)); err != nil {
			if errors.Is(err, store.ErrDuplicateJob) {
				continue
			}
			return restored, fmt.Errorf("restore job %s: %w", rec.JobID, err)
		}
		restored++
	}
	if restored > 0 {
		s.logger.Info("Restored job submissions",
			zap.Int("count", restored),
			zap.String("registry", s.registry.RootDir()),
		)
	}
	return restored, nil
}

func (s *Service) plan(spec JobSpec) (*jobregistry.JobRecord, error) {
	total := batchmeta.Range{Start: 0, End: int64(spec.NumChunks) - 1}
	if spec.ChunkRange != nil {
		total = *spec.ChunkRange
	}

	ranges, err := partition.Split(total.Start, total.End, spec.NumChunks)
	if err != nil {
		return nil, &ValidationError{Field: splitField(err), Message: err.Error(), Err: err}
	}

	rec := &jobregistry.JobRecord{
		JobID:             spec.JobID,
		Origin:            s.origin,
		InputURI:          spec.InputURI,
		OutputURI:         spec.OutputURI,
		ContainerImage:    spec.ContainerImage,
		WorkerLabel:       spec.WorkerLabel,
		RequireValidation: spec.RequireValidation,
		Range:             total,
		Chunks:            make([]jobregistry.ChunkRecord, 0, len(ranges)),
		CreatedAt:         s.now().UTC(),
	}
	for i, r := range ranges {
		rec.Chunks = append(rec.Chunks, jobregistry.ChunkRecord{
			ChunkID: int64(i),
			Name:    fmt.Sprintf("%s_chunk_%d", spec.JobID, i),
			Range:   r,
		})
	}
	return rec, nil
}

// splitField names the submission field a partition error is about.
func splitField(err error) string {
	if errors.Is(err, partition.ErrRangeSize) {
		return "chunk_range"
	}
	return "num_chunks"
}

func chunksFromRecord(rec *jobregistry.JobRecord) []record.Chunk {
	created := rec.CreatedAt.Unix()
	out := make([]record.Chunk, 0, len(rec.Chunks))
	for _, c := range rec.Chunks {
		chunkID := c.ChunkID
		r := c.Range
		out = append(out, record.Chunk{
			Name:         c.Name,
			CreatedAt:    created,
			NeedValidate: rec.RequireValidation,
			Metadata: batchmeta.Render(batchmeta.Meta{
				JobID:          rec.JobID,
				InputURI:       rec.InputURI,
				OutputURI:      rec.OutputURI,
				ContainerImage: rec.ContainerImage,
				WorkerLabel:    rec.WorkerLabel,
				ChunkID:        &chunkID,
				ChunkRange:     &r,
			}),
		})
	}
	return out
}

func inputError(err error) error {
	switch {
	case errors.Is(err, inputcheck.ErrInputMissing):
		return &ValidationError{Field: "input_uri", Message: "input not found", Err: err}
	case errors.Is(err, inputcheck.ErrAccessDenied):
		return &ValidationError{Field: "input_uri", Message: "input not readable", Err: err}
	}
	return err
}
