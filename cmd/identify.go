package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/eigenfaces/internal/config"
	"github.com/kozaktomas/eigenfaces/internal/constants"
	"github.com/kozaktomas/eigenfaces/internal/database"
	"github.com/kozaktomas/eigenfaces/internal/dataset"
	"github.com/kozaktomas/eigenfaces/internal/eigenface"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <run-id> <probe-file>",
	Short: "Identify probe faces against a stored run",
	Long: `Project every face of a probe file (JSON or CSV) onto the eigenface basis
of a stored run and list the closest enrolled identities.

Candidates come from the storage backend's own nearest-neighbour search when
it has one (PostgreSQL with pgvector), otherwise from an HNSW gallery index
built from the run's train loadings or loaded from --index.

Examples:
  eigenfaces identify 4f1c2f7e-2b0d-4d8e-9a55-6f0c8a1b2c3d probe.json
  eigenfaces identify 4f1c2f7e-2b0d-4d8e-9a55-6f0c8a1b2c3d probe.csv --limit 3 --index gallery.hnsw`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentify,
}

func init() {
	rootCmd.AddCommand(identifyCmd)

	identifyCmd.Flags().Int("limit", constants.DefaultIdentifyLimit, "Number of candidates per probe")
	identifyCmd.Flags().String("index", "", "Gallery index written by evaluate --index (default HNSW_INDEX_PATH)")
	identifyCmd.Flags().Bool("json", false, "Output as JSON")
}

// ProbeResult is the identification of one probe face.
type ProbeResult struct {
	Label               string               `json:"label"`
	Loading             []float64            `json:"loading"`
	ReconstructionError float64              `json:"reconstruction_error"`
	Candidates          []database.Candidate `json:"candidates"`
}

// IdentifyOutput is the JSON output of the identify command.
type IdentifyOutput struct {
	RunID  string        `json:"run_id"`
	Source string        `json:"source"`
	Probes []ProbeResult `json:"probes"`
}

// candidateSearch finds the closest enrolled identities for a loading.
type candidateSearch func(ctx context.Context, loading []float64, limit int) ([]database.Candidate, error)

// gallerySearch prefers the backend's nearest-neighbour search, then a
// persisted index for this run, then an index built in memory.
func gallerySearch(reader database.RunReader, run *database.StoredRun, indexPath string) (candidateSearch, string, error) {
	if searcher, ok := reader.(database.NearestSearcher); ok && indexPath == "" {
		return func(ctx context.Context, loading []float64, limit int) ([]database.Candidate, error) {
			return searcher.FindNearest(ctx, run.ID, loading, limit)
		}, "database", nil
	}

	var idx *database.GalleryIndex
	if indexPath != "" {
		loaded, err := database.LoadGalleryIndex(indexPath)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("path", indexPath).Msg("failed to load gallery index, rebuilding")
		case loaded.RunID() != run.ID:
			log.Warn().Str("path", indexPath).Str("index_run", loaded.RunID().String()).
				Msg("gallery index belongs to another run, rebuilding")
		default:
			idx = loaded
		}
	}
	if idx == nil {
		idx = database.NewGalleryIndex()
		if err := idx.BuildFromRun(run); err != nil {
			return nil, "", fmt.Errorf("failed to build gallery index: %w", err)
		}
	}
	return func(_ context.Context, loading []float64, limit int) ([]database.Candidate, error) {
		return idx.Search(loading, limit)
	}, "hnsw", nil
}

func runIdentify(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	jsonOutput := mustGetBool(cmd, "json")
	indexPath := mustGetString(cmd, "index")
	if limit < 1 || limit > constants.MaxIdentifyLimit {
		return fmt.Errorf("--limit must be between 1 and %d", constants.MaxIdentifyLimit)
	}

	id, err := parseRunIDArg(args[0])
	if err != nil {
		return err
	}
	probes, err := dataset.Load(args[1])
	if err != nil {
		return fmt.Errorf("failed to load probes: %w", err)
	}

	ctx := context.Background()
	cfg := config.Load()
	if indexPath == "" {
		indexPath = cfg.Database.HNSWIndexPath
	}
	if err := initStorage(ctx, &cfg.Database); err != nil {
		return err
	}
	defer database.Close()

	reader, err := database.GetRunReader(ctx)
	if err != nil {
		return err
	}
	run, err := reader.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if err := probes.Validate(run.Dim); err != nil {
		return err
	}

	basis, err := run.Basis()
	if err != nil {
		return err
	}
	solver, err := eigenface.NewSolver(basis)
	if err != nil {
		return err
	}
	search, source, err := gallerySearch(reader, run, indexPath)
	if err != nil {
		return err
	}

	out := IdentifyOutput{RunID: run.ID.String(), Source: source}
	for i, pixels := range probes.Vectors {
		centered, err := eigenface.CenterVector(pixels, eigenface.MeanFace(run.Mean))
		if err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
		w, err := solver.Solve(centered)
		if err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
		recErr, err := eigenface.ReconstructionError(centered, w, basis)
		if err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
		candidates, err := search(ctx, w, limit)
		if err != nil {
			return fmt.Errorf("probe %d: %w", i, err)
		}
		out.Probes = append(out.Probes, ProbeResult{
			Label:               probes.Labels[i],
			Loading:             w,
			ReconstructionError: recErr,
			Candidates:          candidates,
		})
	}

	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Identified %d probe(s) against run %s (%s search)\n\n", len(out.Probes), out.RunID, out.Source)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROBE\tRANK\tIDENTITY\tTRAIN\tDISTANCE")
	fmt.Fprintln(w, "-----\t----\t--------\t-----\t--------")
	for _, p := range out.Probes {
		for rank, c := range p.Candidates {
			label := ""
			if rank == 0 {
				label = p.Label
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%.4f\n", label, rank+1, c.Identity, c.TrainIndex+1, c.Distance)
		}
	}
	w.Flush()
	return nil
}
