package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/batchlens/internal/errors"
	"github.com/3leaps/batchlens/internal/observability"
	"github.com/3leaps/batchlens/pkg/aggregate"
	"github.com/3leaps/batchlens/pkg/partition"
	"github.com/3leaps/batchlens/pkg/store"
	"github.com/3leaps/batchlens/pkg/tracker"
)

// maxSubmitBody bounds POST /api/jobs payloads.
const maxSubmitBody = 1 << 20

// Tracker is the query and submission surface the API handlers use.
type Tracker interface {
	ReadOnly() bool
	ListJobs(ctx context.Context) ([]aggregate.JobSummary, error)
	GetJob(ctx context.Context, jobID string) (*aggregate.Job, bool, error)
	ListWorkers(ctx context.Context) ([]aggregate.WorkerSummary, error)
	CreateJob(ctx context.Context, spec tracker.JobSpec) (*aggregate.Job, error)
}

// JobsResponse is the body of GET /api/jobs.
type JobsResponse struct {
	Jobs  []aggregate.JobSummary `json:"jobs"`
	Count int                    `json:"count"`
}

// JobResponse is the body of GET /api/jobs/{jobID} and POST /api/jobs.
type JobResponse struct {
	*aggregate.Job
	Progress aggregate.Progress `json:"progress"`
}

// WorkersResponse is the body of GET /api/workers.
type WorkersResponse struct {
	Workers []aggregate.WorkerSummary `json:"workers"`
	Count   int                       `json:"count"`
}

// PartitionResponse is the body of GET /api/partition.
type PartitionResponse struct {
	Start  int64             `json:"start"`
	End    int64             `json:"end"`
	Chunks int               `json:"chunks"`
	Ranges []partitionedRange `json:"ranges"`
}

type partitionedRange struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Size  int64 `json:"size"`
}

// API serves the job and worker endpoints.
type API struct {
	svc Tracker
}

func NewAPI(svc Tracker) *API {
	return &API{svc: svc}
}

// ListJobs handles GET /api/jobs with an optional ?match=<glob> filter.
func (a *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.svc.ListJobs(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	filtered, err := aggregate.FilterSummaries(summaries, r.URL.Query().Get("match"))
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid match pattern", err))
		return
	}
	if filtered == nil {
		filtered = []aggregate.JobSummary{}
	}
	writeJSON(w, http.StatusOK, JobsResponse{Jobs: filtered, Count: len(filtered)})
}

// GetJob handles GET /api/jobs/{jobID}.
func (a *API) GetJob(w http.ResponseWriter, r *http.Request) {
	// chi matches on RawPath when the request carried one, leaving the
	// parameter escaped; otherwise it is already decoded.
	jobID := chi.URLParam(r, "jobID")
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(jobID)
		if err != nil {
			respondWithError(w, r, apperrors.BadRequest("invalid job id", err))
			return
		}
		jobID = unescaped
	}
	if jobID == "" {
		respondWithError(w, r, apperrors.BadRequest("invalid job id", nil))
		return
	}

	job, found, err := a.svc.GetJob(r.Context(), jobID)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if !found {
		respondWithError(w, r, apperrors.NotFound(fmt.Sprintf("job %q not found", jobID)))
		return
	}
	writeJSON(w, http.StatusOK, JobResponse{Job: job, Progress: job.Progress()})
}

// CreateJob handles POST /api/jobs. The read-only check runs before the body
// is parsed so read-only deployments answer 403 regardless of payload.
func (a *API) CreateJob(w http.ResponseWriter, r *http.Request) {
	if a.svc.ReadOnly() {
		respondWithError(w, r, fmt.Errorf("create job: %w", store.ErrReadOnly))
		return
	}

	var spec tracker.JobSpec
	dec := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid job spec JSON", err))
		return
	}

	job, err := a.svc.CreateJob(r.Context(), spec)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	observability.ServerLogger.Info("Job created",
		zap.String("job_id", job.JobID),
		zap.Int("chunks", len(job.Chunks)),
	)
	w.Header().Set("Location", "/api/jobs/"+url.PathEscape(job.JobID))
	writeJSON(w, http.StatusCreated, JobResponse{Job: job, Progress: job.Progress()})
}

// ListWorkers handles GET /api/workers.
func (a *API) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := a.svc.ListWorkers(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if workers == nil {
		workers = []aggregate.WorkerSummary{}
	}
	writeJSON(w, http.StatusOK, WorkersResponse{Workers: workers, Count: len(workers)})
}

// Partition handles GET /api/partition?start=&end=&chunks=. It previews the
// ranges a submission would produce without creating anything.
func (a *API) Partition(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	chunks, err := strconv.Atoi(q.Get("chunks"))
	if err != nil {
		respondWithError(w, r, apperrors.BadRequest("chunks must be an integer", err))
		return
	}

	start := int64(0)
	if s := q.Get("start"); s != "" {
		if start, err = strconv.ParseInt(s, 10, 64); err != nil {
			respondWithError(w, r, apperrors.BadRequest("start must be an integer", err))
			return
		}
	}
	end := start + int64(chunks) - 1
	if s := q.Get("end"); s != "" {
		if end, err = strconv.ParseInt(s, 10, 64); err != nil {
			respondWithError(w, r, apperrors.BadRequest("end must be an integer", err))
			return
		}
	}

	ranges, err := partition.Split(start, end, chunks)
	if err != nil {
		field := "num_chunks"
		if errors.Is(err, partition.ErrRangeSize) {
			field = "chunk_range"
		}
		respondWithError(w, r, &tracker.ValidationError{Field: field, Message: err.Error(), Err: err})
		return
	}

	resp := PartitionResponse{Start: start, End: end, Chunks: chunks, Ranges: make([]partitionedRange, len(ranges))}
	for i, rg := range ranges {
		resp.Ranges[i] = partitionedRange{Index: i, Start: rg.Start, End: rg.End, Size: rg.Size()}
	}
	writeJSON(w, http.StatusOK, resp)
}
