package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/dataset"
	"github.com/kozaktomas/eigenfaces/internal/eigenface"
	"github.com/kozaktomas/eigenfaces/internal/facematch"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <dataset>",
	Short: "Build an eigenface basis and verify test faces against it",
	Long: `Load a face dataset (JSON or CSV), split it into one train and one test
image per identity, build the eigenface basis from the train images and
match every test image against the train loadings.

The first image of an identity becomes its train image and the last one its
test image. Identities with a single image are skipped.

Examples:
  # Evaluate with the default 6 eigenfaces
  eigenfaces evaluate faces.json

  # Use 10 unit-length eigenfaces and store the run
  eigenfaces evaluate faces.csv --components 10 --unit-norm --save

  # Store the run and persist a gallery index for identify
  eigenfaces evaluate faces.json --save --index gallery.hnsw

  # JSON output for scripting
  eigenfaces evaluate faces.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().Int("components", 0, "Number of eigenfaces k (default from EIGENFACES_COMPONENTS)")
	evaluateCmd.Flags().Bool("unit-norm", false, "Scale eigenfaces to unit length")
	evaluateCmd.Flags().Int("workers", 0, "Concurrent loading solves (default from EIGENFACES_WORKERS, 0 = all CPUs)")
	evaluateCmd.Flags().Bool("save", false, "Persist the run to the configured storage backend")
	evaluateCmd.Flags().String("index", "", "Write an HNSW gallery index of the train loadings to this path")
	evaluateCmd.Flags().String("name", "", "Dataset name stored with the run (default: file name)")
	evaluateCmd.Flags().Bool("json", false, "Output as JSON instead of a table")
}

// EvaluateResult is the JSON output of the evaluate command.
type EvaluateResult struct {
	Dataset           string                   `json:"dataset"`
	Components        int                      `json:"components"`
	Dim               int                      `json:"dim"`
	Normalized        bool                     `json:"normalized"`
	Skipped           []string                 `json:"skipped,omitempty"`
	Eigenvalues       []float64                `json:"eigenvalues"`
	ExplainedVariance []float64                `json:"explained_variance"`
	Rows              []facematch.LabeledMatch `json:"rows"`
	Summary           facematch.Summary        `json:"summary"`
	RunID             string                   `json:"run_id,omitempty"`
	IndexPath         string                   `json:"index_path,omitempty"`
	DurationMs        int64                    `json:"duration_ms"`
}

// evaluateOptions resolves flags over configuration.
func evaluateOptions(cmd *cobra.Command, cfg *config.Config) eigenface.PipelineConfig {
	pc := eigenface.PipelineConfig{
		Components: cfg.Eigen.Components,
		UnitNorm:   cfg.Eigen.UnitNorm || mustGetBool(cmd, "unit-norm"),
		Workers:    cfg.Eigen.Workers,
	}
	if k := mustGetInt(cmd, "components"); k > 0 {
		pc.Components = k
	}
	if w := mustGetInt(cmd, "workers"); w > 0 {
		pc.Workers = w
	}
	return pc
}

// loadSplit loads a dataset and splits it into aligned train and test sets.
func loadSplit(path string, cfg *config.Config) (train, test dataset.FaceSet, skipped []string, err error) {
	set, err := dataset.Load(path)
	if err != nil {
		return train, test, nil, fmt.Errorf("failed to load dataset: %w", err)
	}
	if set.Side > 0 && set.Side != cfg.Eigen.ImageSide {
		log.Debug().Int("side", set.Side).Int("configured", cfg.Eigen.ImageSide).Msg("dataset declares its own image side")
	} else if set.Side == 0 && set.Dim() != cfg.Eigen.Dim() {
		log.Warn().Int("dim", set.Dim()).Int("expected", cfg.Eigen.Dim()).
			Msg("face vector length does not match the configured image side")
	}
	if err := set.Validate(set.Dim()); err != nil {
		return train, test, nil, err
	}
	return dataset.Split(set)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	save := mustGetBool(cmd, "save")
	indexPath := mustGetString(cmd, "index")
	name := mustGetString(cmd, "name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Load()
	startTime := time.Now()

	train, test, skipped, err := loadSplit(args[0], cfg)
	if err != nil {
		return err
	}
	for _, label := range skipped {
		log.Warn().Str("identity", label).Msg("skipping identity with a single image")
	}

	pc := evaluateOptions(cmd, cfg)
	if !jsonOutput {
		fmt.Printf("Evaluating %d identities (d=%d, k=%d)\n\n", train.Len(), train.Dim(), pc.Components)
	}

	// Create progress bar (only for non-JSON output)
	var bar *progressbar.ProgressBar
	if !jsonOutput {
		bar = progressbar.NewOptions(train.Len()+test.Len(),
			progressbar.OptionSetDescription("Solving loadings"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("faces"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionFullWidth(),
		)
		pc.Progress = func() { bar.Add(1) }
	}

	res, err := eigenface.Run(ctx, train.Vectors, test.Vectors, pc)
	if bar != nil {
		fmt.Println()
	}
	if err != nil {
		var stageErr *eigenface.StageError
		if errors.As(err, &stageErr) {
			log.Debug().Str("stage", stageErr.Stage).Int("rows", stageErr.Rows).Int("cols", stageErr.Cols).
				Msg("pipeline stage failed")
		}
		return fmt.Errorf("evaluation failed: %w", err)
	}

	result := EvaluateResult{
		Dataset:           name,
		Components:        res.Basis.K(),
		Dim:               res.Basis.Dim(),
		Normalized:        res.Basis.Normalized(),
		Skipped:           skipped,
		Eigenvalues:       res.Basis.Eigenvalues(),
		ExplainedVariance: res.Basis.ExplainedVariance(),
		Rows:              facematch.Label(res.Matches, train.Labels),
		Summary:           res.Summary,
	}

	if save || indexPath != "" {
		run, err := database.NewStoredRun(name, train.Labels, res)
		if err != nil {
			return err
		}
		if save {
			if err := saveRun(ctx, cfg, run); err != nil {
				return err
			}
			result.RunID = run.ID.String()
		}
		if indexPath != "" {
			if err := writeGalleryIndex(run, indexPath); err != nil {
				return err
			}
			result.IndexPath = indexPath
		}
	}
	result.DurationMs = time.Since(startTime).Milliseconds()

	if jsonOutput {
		return outputJSON(result)
	}
	printEvaluateResult(result, time.Since(startTime))
	return nil
}

func saveRun(ctx context.Context, cfg *config.Config, run *database.StoredRun) error {
	if err := initStorage(ctx, &cfg.Database); err != nil {
		return err
	}
	defer database.Close()

	writer, err := database.GetRunWriter(ctx)
	if err != nil {
		return err
	}
	if err := writer.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	log.Info().Str("run_id", run.ID.String()).Str("backend", storageBackend(&cfg.Database)).Msg("run saved")
	return nil
}

func writeGalleryIndex(run *database.StoredRun, path string) error {
	idx := database.NewGalleryIndex()
	if err := idx.BuildFromRun(run); err != nil {
		return fmt.Errorf("failed to build gallery index: %w", err)
	}
	if err := idx.Save(path); err != nil {
		return fmt.Errorf("failed to save gallery index: %w", err)
	}
	log.Info().Str("path", path).Int("faces", idx.Count()).Msg("gallery index written")
	return nil
}

// printEvaluateResult prints the result table.
func printEvaluateResult(result EvaluateResult, elapsed time.Duration) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRAIN\tIDENTITY\tDIST TO TEST\tCLOSEST TEST\tDIST TO CLOSEST\tMATCH")
	fmt.Fprintln(w, "-----\t--------\t------------\t------------\t---------------\t-----")
	for _, row := range result.Rows {
		match := "yes"
		if !row.Recognized {
			match = "no (" + row.ClosestIdentity + ")"
		}
		fmt.Fprintf(w, "%d\t%s\t%.4f\t%d\t%.4f\t%s\n",
			row.TrainImage, row.Identity, row.SelfDistance, row.ClosestImage, row.Margin, match)
	}
	w.Flush()

	s := result.Summary
	fmt.Println("\nEvaluation complete!")
	fmt.Printf("  Identities:   %d\n", s.Total)
	fmt.Printf("  Recognized:   %d (%.1f%%)\n", s.Recognized, s.Rate*100)
	fmt.Printf("  Mean margin:  %.4f\n", s.MeanMargin)
	fmt.Printf("  Worst margin: %.4f\n", s.WorstMargin)
	if len(result.Skipped) > 0 {
		fmt.Printf("  Skipped:      %s\n", strings.Join(result.Skipped, ", "))
	}
	if result.RunID != "" {
		fmt.Printf("  Run ID:       %s\n", result.RunID)
	}
	if result.IndexPath != "" {
		fmt.Printf("  Index:        %s\n", result.IndexPath)
	}
	fmt.Printf("  Duration:     %s\n", formatDuration(elapsed))
}
