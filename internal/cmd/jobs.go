package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchlens/internal/observability"
	"github.com/3leaps/batchlens/pkg/aggregate"
	"github.com/3leaps/batchlens/pkg/batchmeta"
	"github.com/3leaps/batchlens/pkg/jobregistry"
	"github.com/3leaps/batchlens/pkg/output"
	"github.com/3leaps/batchlens/pkg/tracker"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and submit batch jobs",
	Long: `Inspect and submit chunked batch jobs.

Job status is derived from the backend's execution records on every call:
a job is failed if any chunk failed, completed if every chunk completed,
queued if every chunk is queued, and running otherwise.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs with status and progress",
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status and per-chunk detail for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new chunked job",
	Long: `Submit a new chunked job to the memory backend.

The chunk range [start, end] is split into --chunks contiguous,
non-overlapping sub-ranges; sizes differ by at most one with the larger
chunks first. Without --start/--end each chunk covers one index.

Examples:
  batchlens jobs submit --input s3://bucket/in/ --output s3://bucket/out/ \
    --image ghcr.io/org/infer:1.0 --chunks 8 --start 0 --end 9999`,
	RunE: runJobsSubmit,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)

	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().Bool("jsonl", false, "Output as JSONL records followed by a summary")
	jobsListCmd.Flags().String("match", "", "Only list job ids matching this glob (e.g. 'train-*')")

	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsStatusCmd.Flags().Bool("jsonl", false, "Output as JSONL records followed by a summary")

	jobsSubmitCmd.Flags().Bool("json", false, "Output as JSON")
	jobsSubmitCmd.Flags().String("input", "", "Input URI (required)")
	jobsSubmitCmd.Flags().String("output", "", "Output URI (required)")
	jobsSubmitCmd.Flags().String("image", "", "Container image (required)")
	jobsSubmitCmd.Flags().Int("chunks", 0, "Number of chunks (required, 1..100000)")
	jobsSubmitCmd.Flags().Int64("start", 0, "First index of the chunk range")
	jobsSubmitCmd.Flags().Int64("end", 0, "Last index of the chunk range (inclusive)")
	jobsSubmitCmd.Flags().String("label", "", "Worker label: edge, on_prem or cloud")
	jobsSubmitCmd.Flags().String("job-id", "", "Job id (default: generated UUID)")
	jobsSubmitCmd.Flags().Bool("require-validation", false, "Require result validation before chunks count as verified")
	jobsSubmitCmd.Flags().Bool("verify-input", false, "Check that the input exists before accepting the job")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jsonlOutput, _ := cmd.Flags().GetBool("jsonl")
	pattern, _ := cmd.Flags().GetString("match")

	b, err := openCLIBackend(cmd, jobregistry.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx := commandContext(cmd)
	start := time.Now()
	jobs, err := b.Service.ListJobs(ctx)
	if err != nil {
		return commandError("Failed to list jobs", err)
	}
	jobs, err = aggregate.FilterSummaries(jobs, pattern)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --match pattern", err)
	}
	if jobs == nil {
		jobs = []aggregate.JobSummary{}
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonlOutput:
		w := output.NewJSONLWriter(out, b.Kind)
		defer func() { _ = w.Close() }()
		byState := map[string]int{}
		for i := range jobs {
			j := jobs[i]
			byState[string(j.Status)]++
			if err := w.WriteJob(ctx, &output.JobRecord{JobSummary: j}); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return writeSummary(cmd, w, "jobs", len(jobs), byState, time.Since(start))

	case jsonOutput:
		return writeIndentedJSON(out, jobs)
	}

	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tPROGRESS\tCREATED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
			j.JobID,
			j.Status,
			j.Progress.CompletedChunks,
			j.Progress.TotalChunks,
			formatUnix(j.CreatedAt),
		)
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jsonlOutput, _ := cmd.Flags().GetBool("jsonl")
	jobID := args[0]

	b, err := openCLIBackend(cmd, jobregistry.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx := commandContext(cmd)
	start := time.Now()
	job, found, err := b.Service.GetJob(ctx, jobID)
	if err != nil {
		return commandError("Failed to get job", err)
	}

	out := cmd.OutOrStdout()
	if !found {
		if jsonlOutput {
			w := output.NewJSONLWriter(out, b.Kind)
			_ = w.WriteError(ctx, &output.ErrorRecord{
				Code:    output.ErrCodeNotFound,
				Message: "job not found",
				JobID:   jobID,
			})
			_ = w.Close()
		}
		return exitError(foundry.ExitFileNotFound, "Job not found", fmt.Errorf("no execution records for job %q", jobID))
	}

	switch {
	case jsonlOutput:
		w := output.NewJSONLWriter(out, b.Kind)
		defer func() { _ = w.Close() }()
		if err := w.WriteJob(ctx, output.NewJobRecord(job)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
		}
		byState := map[string]int{}
		for _, c := range job.Chunks {
			byState[string(c.Status)]++
			if err := w.WriteChunk(ctx, &output.ChunkRecord{JobID: job.JobID, Chunk: c}); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return writeSummary(cmd, w, "job", len(job.Chunks), byState, time.Since(start))

	case jsonOutput:
		return writeIndentedJSON(out, jobDetail{Job: job, Progress: job.Progress()})
	}

	printJobDetail(out, job)
	return nil
}

func runJobsSubmit(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	verifyInput, _ := cmd.Flags().GetBool("verify-input")

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	if cfg.Backend.ReadOnly {
		return exitError(foundry.ExitInvalidArgument, "readonly mode enabled: refusing job submission", fmt.Errorf("disable --readonly or unset BATCHLENS_READONLY"))
	}

	spec, err := submitSpecFromFlags(cmd)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job submission", err)
	}
	if err := spec.Validate(); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job submission", err)
	}

	if verifyInput {
		cfg.Submit.VerifyInputs = true
	}
	b, err := openCLIBackend(cmd, jobregistry.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	job, err := b.Service.CreateJob(commandContext(cmd), spec)
	if err != nil {
		return commandError("Job submission rejected", err)
	}
	observability.CLILogger.Info("Job submitted",
		zap.String("job_id", job.JobID),
		zap.Int("chunks", len(job.Chunks)),
		zap.String("backend", b.Kind))

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeIndentedJSON(out, jobDetail{Job: job, Progress: job.Progress()})
	}
	_, _ = fmt.Fprintf(out, "Submitted job %s (%d chunks)\n", job.JobID, len(job.Chunks))
	return nil
}

// submitSpecFromFlags builds a JobSpec. The chunk range is only set when
// --start or --end was given.
func submitSpecFromFlags(cmd *cobra.Command) (tracker.JobSpec, error) {
	flags := cmd.Flags()
	spec := tracker.JobSpec{}
	spec.InputURI, _ = flags.GetString("input")
	spec.OutputURI, _ = flags.GetString("output")
	spec.ContainerImage, _ = flags.GetString("image")
	spec.WorkerLabel, _ = flags.GetString("label")
	spec.JobID, _ = flags.GetString("job-id")
	spec.NumChunks, _ = flags.GetInt("chunks")
	spec.RequireValidation, _ = flags.GetBool("require-validation")

	if flags.Changed("start") || flags.Changed("end") {
		start, _ := flags.GetInt64("start")
		end, _ := flags.GetInt64("end")
		if !flags.Changed("end") {
			end = start + int64(spec.NumChunks) - 1
		}
		if end < start {
			return spec, fmt.Errorf("--end (%d) must not be less than --start (%d)", end, start)
		}
		spec.ChunkRange = &batchmeta.Range{Start: start, End: end}
	}
	return spec, nil
}

// jobDetail mirrors the HTTP job response.
type jobDetail struct {
	*aggregate.Job
	Progress aggregate.Progress `json:"progress"`
}

func printJobDetail(out io.Writer, job *aggregate.Job) {
	p := job.Progress()
	_, _ = fmt.Fprintf(out, "Job:       %s\n", job.JobID)
	_, _ = fmt.Fprintf(out, "Status:    %s\n", job.Status)
	_, _ = fmt.Fprintf(out, "Progress:  %d/%d chunks completed\n", p.CompletedChunks, p.TotalChunks)
	_, _ = fmt.Fprintf(out, "Created:   %s\n", formatUnix(job.CreatedAt))
	if job.ContainerImage != "" {
		_, _ = fmt.Fprintf(out, "Image:     %s\n", job.ContainerImage)
	}
	if job.InputURI != "" {
		_, _ = fmt.Fprintf(out, "Input:     %s\n", job.InputURI)
	}
	if job.OutputURI != "" {
		_, _ = fmt.Fprintf(out, "Output:    %s\n", job.OutputURI)
	}
	if job.WorkerLabel != "" {
		_, _ = fmt.Fprintf(out, "Label:     %s\n", job.WorkerLabel)
	}
	_, _ = fmt.Fprintln(out)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "CHUNK\tSTATUS\tRETRIES\tVERIFICATION\tRANGE\tFAILURE")
	for _, c := range job.Chunks {
		rng := "-"
		if c.Range != nil {
			rng = fmt.Sprintf("%d-%d", c.Range.Start, c.Range.End)
		}
		reason := "-"
		if c.FailureReason != nil {
			reason = *c.FailureReason
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n",
			c.ChunkID, c.Status, c.Retries, c.Verification, rng, reason)
	}
}

func writeSummary(cmd *cobra.Command, w *output.JSONLWriter, kind string, total int, byState map[string]int, elapsed time.Duration) error {
	err := w.WriteSummary(commandContext(cmd), &output.SummaryRecord{
		Kind:          kind,
		Total:         total,
		ByState:       byState,
		Duration:      elapsed,
		DurationHuman: elapsed.Round(time.Millisecond).String(),
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
	}
	return nil
}

func writeIndentedJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
