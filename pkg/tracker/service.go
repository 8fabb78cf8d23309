// Package tracker answers job and worker queries and accepts job submissions.
//
// It is the single entry point used by the HTTP server and the CLI. The
// service reads normalized records from a store.Reader, derives state with the
// status and aggregate packages, and writes only when the backend implements
// store.JobWriter.
package tracker

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/3leaps/batchlens/pkg/aggregate"
	"github.com/3leaps/batchlens/pkg/jobregistry"
	"github.com/3leaps/batchlens/pkg/store"
)

const tracerName = "github.com/3leaps/batchlens/pkg/tracker"

// Limits caps the rows fetched per query.
type Limits struct {
	ListChunks int
	JobChunks  int
	Hosts      int
}

func DefaultLimits() Limits {
	return Limits{ListChunks: 2000, JobChunks: 20000, Hosts: 2000}
}

// InputChecker verifies that a submission's input exists.
type InputChecker interface {
	Check(ctx context.Context, uri string) error
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	// Registry persists accepted submissions. Nil keeps them in memory only.
	Registry *jobregistry.Store

	// Checker verifies input_uri before a job is accepted. Nil skips the check.
	Checker InputChecker

	// Origin is recorded on persisted submissions.
	Origin jobregistry.Origin

	// ReadOnly disables submissions even when the backend could accept them.
	ReadOnly bool

	// TracerProvider defaults to the global otel provider.
	TracerProvider trace.TracerProvider

	Logger *zap.Logger
	Limits Limits
	Now    func() time.Time
}

type Service struct {
	reader   store.Reader
	writer   store.JobWriter
	registry *jobregistry.Store
	checker  InputChecker
	origin   jobregistry.Origin
	logger   *zap.Logger
	limits   Limits
	now      func() time.Time
	tracer   trace.Tracer
}

func New(reader store.Reader, opts Options) *Service {
	s := &Service{
		reader:   reader,
		registry: opts.Registry,
		checker:  opts.Checker,
		origin:   opts.Origin,
		logger:   opts.Logger,
		limits:   opts.Limits,
		now:      opts.Now,
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	s.tracer = tp.Tracer(tracerName)
	if w, ok := reader.(store.JobWriter); ok && !opts.ReadOnly {
		s.writer = w
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}

	def := DefaultLimits()
	if s.limits.ListChunks <= 0 {
		s.limits.ListChunks = def.ListChunks
	}
	if s.limits.JobChunks <= 0 {
		s.limits.JobChunks = def.JobChunks
	}
	if s.limits.Hosts <= 0 {
		s.limits.Hosts = def.Hosts
	}
	return s
}

// ReadOnly reports whether the backend rejects submissions.
func (s *Service) ReadOnly() bool {
	return s.writer == nil
}

// ListJobs returns one summary per job in the recent chunk window, newest
// first.
func (s *Service) ListJobs(ctx context.Context) ([]aggregate.JobSummary, error) {
	ctx, span := s.tracer.Start(ctx, "tracker.list_jobs",
		trace.WithAttributes(attribute.Int("limit", s.limits.ListChunks)))
	defer span.End()

	chunks, err := s.reader.ListChunks(ctx, s.limits.ListChunks)
	if err != nil {
		return nil, spanError(span, err)
	}
	summaries := aggregate.Summarize(aggregate.BuildJobs(chunks))
	span.SetAttributes(attribute.Int("chunks.count", len(chunks)), attribute.Int("jobs.count", len(summaries)))
	return summaries, nil
}

// GetJob returns the job detail. found is false when no chunk resolves to
// jobID; that is not an error.
func (s *Service) GetJob(ctx context.Context, jobID string) (job *aggregate.Job, found bool, err error) {
	ctx, span := s.tracer.Start(ctx, "tracker.get_job",
		trace.WithAttributes(attribute.String("job.id", jobID)))
	defer span.End()

	chunks, err := s.reader.JobChunks(ctx, jobID, s.limits.JobChunks)
	if err != nil {
		return nil, false, spanError(span, err)
	}
	job, found = aggregate.BuildJob(jobID, chunks)
	span.SetAttributes(attribute.Bool("job.found", found))
	return job, found, nil
}

// ListWorkers returns every known worker sorted by numeric id.
func (s *Service) ListWorkers(ctx context.Context) ([]aggregate.WorkerSummary, error) {
	ctx, span := s.tracer.Start(ctx, "tracker.list_workers",
		trace.WithAttributes(attribute.Int("limit", s.limits.Hosts)))
	defer span.End()

	hosts, err := s.reader.ListHosts(ctx, s.limits.Hosts)
	if err != nil {
		return nil, spanError(span, err)
	}
	return aggregate.BuildWorkers(hosts), nil
}

// Ping checks backend reachability. Backends without a probe are assumed up.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.reader.(store.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (s *Service) Close() error {
	return s.reader.Close()
}

func spanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
