package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/constants"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and manage stored evaluation runs",
	Long:  `List evaluation runs stored by "evaluate --save". Use subcommands to inspect or delete runs.`,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run and its result table",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <run-id...>",
	Short: "Delete stored runs by ID",
	Long: `Delete one or more stored runs by their ID.

Example:
  eigenfaces runs delete 4f1c2f7e-2b0d-4d8e-9a55-6f0c8a1b2c3d`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRunsDelete,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsCmd.Flags().Int("limit", constants.DefaultRunListLimit, "Maximum number of runs to list")
	runsCmd.Flags().Bool("json", false, "Output as JSON")
	runsShowCmd.Flags().Bool("json", false, "Output as JSON")
	runsDeleteCmd.Flags().Bool("yes", false, "Skip confirmation prompt")
}

// openRunReader initializes storage and returns its reader with a release func.
func openRunReader(ctx context.Context) (database.RunReader, func(), error) {
	cfg := config.Load()
	if err := initStorage(ctx, &cfg.Database); err != nil {
		return nil, nil, err
	}
	reader, err := database.GetRunReader(ctx)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return reader, func() { database.Close() }, nil
}

func parseRunIDArg(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid run id %q: %w", raw, err)
	}
	return id, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	limit := min(mustGetInt(cmd, "limit"), constants.MaxRunListLimit)
	jsonOutput := mustGetBool(cmd, "json")
	if limit < 1 {
		return fmt.Errorf("--limit must be positive")
	}

	ctx := context.Background()
	reader, release, err := openRunReader(ctx)
	if err != nil {
		return err
	}
	defer release()

	runs, err := reader.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	total, err := reader.CountRuns(ctx)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}

	if jsonOutput {
		if runs == nil {
			runs = []database.RunSummary{}
		}
		return outputJSON(map[string]any{"runs": runs, "total": total})
	}

	if len(runs) == 0 {
		fmt.Println("No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tDATASET\tK\tIDENTITIES\tRECOGNIZED\tRATE")
	fmt.Fprintln(w, "--\t-------\t-------\t-\t----------\t----------\t----")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%.1f%%\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.Dataset,
			r.Components, r.Identities, r.Recognized, r.Rate*100)
	}
	w.Flush()

	fmt.Printf("\nShowing %d of %d runs\n", len(runs), total)
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	id, err := parseRunIDArg(args[0])
	if err != nil {
		return err
	}

	ctx := context.Background()
	reader, release, err := openRunReader(ctx)
	if err != nil {
		return err
	}
	defer release()

	run, err := reader.GetRun(ctx, id)
	if err != nil {
		return err
	}

	result := EvaluateResult{
		Dataset:     run.Dataset,
		Components:  run.Components,
		Dim:         run.Dim,
		Normalized:  run.Normalized,
		Eigenvalues: run.Eigenvalues,
		Rows:        facematch.Label(run.Matches, run.Identities),
		Summary:     facematch.Summarize(run.Matches),
		RunID:       run.ID.String(),
	}
	if basis, err := run.Basis(); err == nil {
		result.ExplainedVariance = basis.ExplainedVariance()
	}

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  Created:    %s\n", run.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("  Dataset:    %s\n", run.Dataset)
	fmt.Printf("  Basis:      k=%d, d=%d, unit-norm=%t\n\n", run.Components, run.Dim, run.Normalized)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tEIGENVALUE\tEXPLAINED")
	for j, ev := range run.Eigenvalues {
		explained := 0.0
		if j < len(result.ExplainedVariance) {
			explained = result.ExplainedVariance[j]
		}
		fmt.Fprintf(w, "%d\t%.4f\t%.1f%%\n", j+1, ev, explained*100)
	}
	w.Flush()
	fmt.Println()

	s := result.Summary
	fmt.Printf("Recognized %d of %d identities (%.1f%%)\n\n", s.Recognized, s.Total, s.Rate*100)
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRAIN\tIDENTITY\tDIST TO TEST\tCLOSEST TEST\tDIST TO CLOSEST")
	for _, row := range result.Rows {
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%d\t%.4f\n",
			row.TrainImage, row.Identity, row.SelfDistance, row.ClosestImage, row.Margin)
	}
	w.Flush()
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	skipConfirm := mustGetBool(cmd, "yes")

	ids := make([]uuid.UUID, 0, len(args))
	for _, raw := range args {
		id, err := parseRunIDArg(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	if !skipConfirm {
		fmt.Printf("Delete %d run(s)? [y/N]: ", len(ids))
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	ctx := context.Background()
	cfg := config.Load()
	if err := initStorage(ctx, &cfg.Database); err != nil {
		return err
	}
	defer database.Close()

	writer, err := database.GetRunWriter(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := writer.DeleteRun(ctx, id); err != nil {
			return fmt.Errorf("failed to delete run %s: %w", id, err)
		}
	}

	fmt.Printf("Deleted %d run(s).\n", len(ids))
	return nil
}
