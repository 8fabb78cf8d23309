package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/batchlens/pkg/aggregate"
	"github.com/3leaps/batchlens/pkg/jobregistry"
	"github.com/3leaps/batchlens/pkg/output"
)

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Inspect workers (hosts)",
}

var workersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workers with label and activity",
	Long: `List workers ordered by numeric host id.

A worker is active while it holds an unfinished result, and idle otherwise.
Its label comes from the host venue, falling back to a "worker_label"
key in the host's misc JSON.`,
	RunE: runWorkersList,
}

func init() {
	rootCmd.AddCommand(workersCmd)
	workersCmd.AddCommand(workersListCmd)

	workersListCmd.Flags().Bool("json", false, "Output as JSON")
	workersListCmd.Flags().Bool("jsonl", false, "Output as JSONL records followed by a summary")
}

func runWorkersList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jsonlOutput, _ := cmd.Flags().GetBool("jsonl")

	b, err := openCLIBackend(cmd, jobregistry.OriginCLI)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()

	ctx := commandContext(cmd)
	start := time.Now()
	workers, err := b.Service.ListWorkers(ctx)
	if err != nil {
		return commandError("Failed to list workers", err)
	}
	if workers == nil {
		workers = []aggregate.WorkerSummary{}
	}

	out := cmd.OutOrStdout()
	switch {
	case jsonlOutput:
		w := output.NewJSONLWriter(out, b.Kind)
		defer func() { _ = w.Close() }()
		byState := map[string]int{}
		for i := range workers {
			byState[string(workers[i].State)]++
			if err := w.WriteWorker(ctx, &workers[i]); err != nil {
				return exitError(foundry.ExitFileWriteError, "Failed to write output", err)
			}
		}
		return writeSummary(cmd, w, "workers", len(workers), byState, time.Since(start))

	case jsonOutput:
		return writeIndentedJSON(out, workers)
	}

	if len(workers) == 0 {
		_, _ = fmt.Fprintln(out, "No workers found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "WORKER ID\tLABEL\tSTATE\tLAST SEEN")
	for _, wk := range workers {
		label := "-"
		if wk.Label != nil {
			label = string(*wk.Label)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", wk.WorkerID, label, wk.State, formatUnix(wk.LastSeen))
	}
	return nil
}
