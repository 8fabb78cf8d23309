package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/3leaps/batchlens/pkg/partition"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview how a chunk range would be partitioned",
	Long: `Preview the chunk ranges a submission would get, without a backend.

Examples:
  batchlens plan --chunks 3 --start 0 --end 9    # 0-3, 4-6, 7-9
  batchlens plan --chunks 4                      # one index per chunk`,
	RunE: runPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)
	planCmd.Flags().Int("chunks", 0, "Number of chunks (1..100000)")
	planCmd.Flags().Int64("start", 0, "First index of the range")
	planCmd.Flags().Int64("end", 0, "Last index of the range (default: start+chunks-1)")
	planCmd.Flags().Bool("json", false, "Output as JSON")
}

type plannedRange struct {
	Index int   `json:"index"`
	Start int64 `json:"start"`
	End   int64 `json:"end"`
	Size  int64 `json:"size"`
}

func runPlan(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	chunks, _ := cmd.Flags().GetInt("chunks")
	start, _ := cmd.Flags().GetInt64("start")
	end, _ := cmd.Flags().GetInt64("end")
	if !cmd.Flags().Changed("end") {
		end = start + int64(chunks) - 1
	}

	ranges, err := partition.Split(start, end, chunks)
	if errors.Is(err, partition.ErrRangeSize) {
		return exitError(foundry.ExitInvalidArgument, "Invalid --start/--end range", err)
	}
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --chunks value", err)
	}

	planned := make([]plannedRange, len(ranges))
	for i, r := range ranges {
		planned[i] = plannedRange{Index: i, Start: r.Start, End: r.End, Size: r.Size()}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeIndentedJSON(out, planned)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "CHUNK\tSTART\tEND\tSIZE")
	for _, p := range planned {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\n", p.Index, p.Start, p.End, p.Size)
	}
	return nil
}
