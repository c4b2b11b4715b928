package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"gonum.org/v1/plot/vg"

	"spotpairs/internal/models"
	"spotpairs/pkg/analysis"
	"spotpairs/pkg/config"
	"spotpairs/pkg/dataset"
	"spotpairs/pkg/filter"
	"spotpairs/pkg/pairing"
	"spotpairs/pkg/store"
	"spotpairs/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "spotpairs.yaml", "YAML configuration file (defaults are used when missing)")
	initConfig := flag.Bool("init-config", false, "Write the default configuration to -config and exit")
	filterOnly := flag.Bool("filter-only", false, "Only run the outlier filter and write the corrected spot lists")
	outputDir := flag.String("output", "", "Output directory (overrides output.directory)")
	maxDistance := flag.Float64("max-distance", 0, "Maximum pair distance in nm (overrides pairing.maxDistance)")
	bridgeGaps := flag.Bool("bridge-gaps", false, "Continue tracks across frames without a match")
	listPairs := flag.Bool("pairs", false, "Write one row per pair")
	useFilter := flag.Bool("filter", false, "Run the outlier filter before pairing")
	quadrants := flag.Int("quadrants", 0, "Number of filter quadrants, a perfect square")
	deviation := flag.Float64("deviation", 0, "Filter deviation in standard deviations")
	registration := flag.Bool("registration", false, "Fit the x/y registration offsets")
	singleFrames := flag.Bool("single-frames", false, "Fit single-frame distances with their own uncertainty")
	regError := flag.Float64("registration-error", 0, "Registration error in nm added to every pair sigma")
	bootstrap := flag.Bool("bootstrap", false, "Estimate the spread of mu by bootstrap resampling")
	dbPath := flag.String("db", "", "SQLite result store (overrides output.database)")
	metricsPath := flag.String("metrics", "", "Prometheus textfile (overrides output.metricsFile)")
	flag.Parse()

	if *initConfig {
		if err := config.CreateDefaultConfigFile(*configPath); err != nil {
			log.Fatalf("Failed to write configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *configPath)
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] spots.csv [spots.csv ...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags that were set explicitly override the configuration
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "output":
			cfg.Output.Directory = *outputDir
		case "max-distance":
			cfg.Pairing.MaxDistance = *maxDistance
		case "bridge-gaps":
			cfg.Tracking.BridgeGaps = *bridgeGaps
		case "pairs":
			cfg.Pairing.ListPairs = *listPairs
		case "filter":
			cfg.Filter.Enabled = *useFilter
		case "quadrants":
			cfg.Filter.NrQuadrants = *quadrants
		case "deviation":
			cfg.Filter.DeviationMax = *deviation
		case "registration":
			cfg.Fitting.XYRegistration = *registration
		case "single-frames":
			cfg.Fitting.SingleFrames = *singleFrames
		case "registration-error":
			cfg.Fitting.RegistrationError = *regError
		case "bootstrap":
			cfg.Fitting.Bootstrap = *bootstrap
		case "db":
			cfg.Output.Database = *dbPath
		case "metrics":
			cfg.Output.MetricsFile = *metricsPath
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if !cfg.Output.Verbose {
		log.SetOutput(io.Discard)
	}

	datasets := make([]models.Dataset, 0, flag.NArg())
	for i, path := range flag.Args() {
		ds, err := dataset.ReadSpotsFile(path, i+1)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", path, err)
		}
		datasets = append(datasets, ds)
	}

	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Println("================================")
	fmt.Println("SPOT PAIR DISTANCE ANALYSIS")
	fmt.Println("================================")

	analyzer := analysis.NewAnalyzer(cfg.AnalysisParams(), nil)
	if err := execute(ctx, analyzer, datasets, cfg, *filterOnly); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// execute runs the filter or the full analysis. The metrics file is written
// whatever the outcome.
func execute(ctx context.Context, analyzer *analysis.Analyzer, datasets []models.Dataset, cfg *config.Config, filterOnly bool) error {
	defer writeMetrics(analyzer, cfg.Output.MetricsFile)

	if filterOnly {
		if err := runFilter(ctx, analyzer, datasets, cfg.Output.Directory); err != nil {
			return fmt.Errorf("filter failed: %w", err)
		}
		return nil
	}
	if err := runAnalysis(ctx, analyzer, datasets, cfg); err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}
	return nil
}

func runFilter(ctx context.Context, analyzer *analysis.Analyzer, datasets []models.Dataset, outputDir string) error {
	runner := filter.NewRunner()
	for _, ds := range datasets {
		fmt.Printf("Filtering %s (%d spots)...\n", ds.Name, len(ds.Spots))
		run, err := analyzer.StartFilter(ctx, runner, ds, func(completed, total int, message string) {
			fmt.Printf("\r  frame %d/%d %s", completed, total, message)
		})
		if err != nil {
			return fmt.Errorf("%s: %w", ds.Name, err)
		}
		res, err := run.Wait()
		fmt.Println()
		if err != nil {
			return fmt.Errorf("%s: %w", ds.Name, err)
		}

		path := filepath.Join(outputDir, res.Dataset.Name+".csv")
		if err := writeFile(path, func(w io.Writer) error {
			return dataset.WriteSpotsCSV(w, res.Dataset.Spots)
		}); err != nil {
			return err
		}
		fmt.Printf("Kept %d of %d spots, saved to: %s\n", len(res.Dataset.Spots), len(ds.Spots), path)
		for _, adv := range res.Advisories {
			fmt.Printf("  %s\n", adv)
		}
	}
	return nil
}

func runAnalysis(ctx context.Context, analyzer *analysis.Analyzer, datasets []models.Dataset, cfg *config.Config) error {
	analyzer.SetProgressCallback(func(completed, total int, message string) {
		fmt.Printf("[%d/%d] %s\n", completed, total, message)
	})

	startTime := time.Now()
	job, err := analyzer.Start(ctx, datasets)
	if err != nil {
		return err
	}
	report, fitErr := job.Wait()
	if report == nil {
		return fitErr
	}
	fmt.Printf("\nAnalysis completed in %.2f seconds (run %s)\n", time.Since(startTime).Seconds(), report.RunID)

	out := cfg.Output.Directory
	if err := writeTables(report, out, cfg.Pairing.ListPairs, cfg.Fitting.XYRegistration); err != nil {
		return err
	}

	if cfg.Output.Histograms {
		var fits []analysis.FitRow
		for _, row := range report.Rows {
			fits = append(fits, row.Fits...)
		}
		viewer := visualization.NewViewer(6*vg.Inch, 4*vg.Inch)
		written, err := viewer.SaveHistogramSequence(fits, filepath.Join(out, "histograms"))
		if err != nil {
			return fmt.Errorf("saving histograms: %w", err)
		}
		fmt.Printf("Saved %d histograms\n", len(written))
	}

	if cfg.Output.Database != "" {
		rs, err := store.Open(cfg.Output.Database)
		if err != nil {
			return err
		}
		defer rs.Close()
		if err := rs.SaveReport(ctx, report); err != nil {
			return fmt.Errorf("saving report: %w", err)
		}
		fmt.Printf("Report stored in: %s\n", cfg.Output.Database)
	}

	fmt.Println("\nResults:")
	for _, row := range report.Rows {
		fmt.Printf("- %s: %d pairs, %d tracks\n", row.DatasetName, row.NrPairs, row.NrTracks)
		for _, fit := range row.Fits {
			fmt.Printf("    channel %d versus %d: mu %.2f nm, sigma %.2f nm (n=%d)\n",
				fit.Channel1, fit.Channel2, fit.Mu, fit.Sigma, fit.N)
		}
	}
	if advisories := report.Advisories(); len(advisories) > 0 {
		fmt.Printf("\n%d advisories:\n", len(advisories))
		for _, adv := range advisories {
			fmt.Printf("- %s\n", adv)
		}
	}

	// A failed fit in the last dataset is reported but the tables are kept
	if fitErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", fitErr)
	}
	return nil
}

func writeTables(report *analysis.Report, outputDir string, pairs, registration bool) error {
	var (
		pairRows []analysis.PairRow
		tracks   []pairing.TrackSummary
		regs     []analysis.RegistrationRow
		fits     []analysis.FitRow
	)
	for _, row := range report.Rows {
		pairRows = append(pairRows, row.Pairs...)
		tracks = append(tracks, row.Tracks...)
		regs = append(regs, row.Registrations...)
		fits = append(fits, row.Fits...)
	}

	tables := []struct {
		name    string
		enabled bool
		write   func(io.Writer) error
	}{
		{"pairs.csv", pairs, func(w io.Writer) error { return dataset.WritePairsCSV(w, pairRows) }},
		{"tracks.csv", true, func(w io.Writer) error { return dataset.WriteTracksCSV(w, tracks) }},
		{"registration.csv", registration, func(w io.Writer) error { return dataset.WriteRegistrationsCSV(w, regs) }},
		{"fits.csv", true, func(w io.Writer) error { return dataset.WriteFitsCSV(w, fits) }},
	}
	for _, t := range tables {
		if !t.enabled {
			continue
		}
		path := filepath.Join(outputDir, t.name)
		if err := writeFile(path, t.write); err != nil {
			return err
		}
		fmt.Printf("Saved %s\n", path)
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeMetrics(analyzer *analysis.Analyzer, path string) {
	if path == "" {
		return
	}
	if err := analyzer.Metrics().WriteTextfile(path); err != nil {
		log.Printf("Warning: failed to write metrics: %v", err)
	}
}
