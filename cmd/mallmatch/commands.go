package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mall-resolver/internal/catalog"
	"github.com/mall-resolver/internal/cluster"
	"github.com/mall-resolver/internal/dataset"
	"github.com/mall-resolver/internal/db"
	"github.com/mall-resolver/internal/enhance"
	"github.com/mall-resolver/internal/match"
	"github.com/mall-resolver/internal/poi"
	"github.com/mall-resolver/internal/web"
)

func clusterer(w *workspace) *cluster.Clusterer {
	return cluster.New(cluster.Config{
		DistanceKm:     w.cfg.Cluster.DistanceKm,
		NameSimilarity: w.cfg.Cluster.NameSimilarity,
	}, w.cache)
}

func enhancer(w *workspace, cat *catalog.Catalog, scorer *match.Scorer, maxStores int) (*enhance.Enhancer, error) {
	p := w.cfg.POI
	client, err := poi.NewAMapClient(poi.AMapConfig{
		BaseURL:       p.BaseURL,
		Key:           p.Key,
		PerPage:       p.PerPage,
		RatePerSecond: p.RatePerSecond,
		Timeout:       p.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if maxStores <= 0 {
		maxStores = p.MaxStores
	}
	return enhance.New(client, cat, scorer, w.retryPolicy(), enhance.Config{
		MaxStores:     maxStores,
		RadiusKm:      p.RadiusKm,
		MinSimilarity: p.MinSimilarity,
		Neighbors:     w.cfg.Match.Neighbors,
	}), nil
}

// createRunCmd runs the whole batch: cluster, resolve, adjudicate and optionally enhance
func createRunCmd() *cobra.Command {
	var mode string
	var withPOI bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Cluster malls, resolve stores and adjudicate the review queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			cat, issues, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			clusters, merged, err := clusterer(w).Run(ctx, localDebug, cat)
			if err != nil {
				return err
			}
			if err := w.saveMerges(ctx, cat, cluster.Plan(clusters)); err != nil {
				return err
			}

			if mode == "" {
				mode = cfg.Adjudicator.Mode
			}
			adj, err := w.newAdjudicator(mode, os.Stdin, os.Stdout)
			if err != nil {
				return err
			}
			engine := w.newEngine(cat, adj)

			report, runErr := engine.Resolve(ctx, localDebug, args)
			if report == nil {
				return runErr
			}
			report.Errors = append(issues, report.Errors...)
			report.RecordMerge(merged)

			if runErr == nil {
				if err := engine.Adjudicate(ctx, report); err != nil {
					log.Warn().Err(err).Msg("adjudication stopped early")
				}
			}

			if withPOI && runErr == nil && ctx.Err() == nil {
				enh, err := enhancer(w, cat, engine.Scorer(), 0)
				if err != nil {
					return err
				}
				if err := enh.Run(ctx, localDebug, report); err != nil {
					log.Warn().Err(err).Msg("poi enhancement stopped early")
				}
			}

			return finishRun(ctx, cmd.OutOrStdout(), w, cat, report, runErr)
		},
	}

	cmd.Flags().StringVar(&mode, "adjudicator", "", "Adjudicator mode: console, llm or policy (default from config)")
	cmd.Flags().BoolVar(&withPOI, "poi", false, "Re-search unmatched stores through the POI provider")

	return cmd
}

// createClusterCmd deduplicates the mall catalog
func createClusterCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Merge duplicate malls",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			cat, _, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			c := clusterer(w)
			if dryRun {
				clusters, err := c.Find(ctx, localDebug, cat.Malls())
				if err != nil {
					return err
				}
				printClusters(cmd.OutOrStdout(), clusters)
				return nil
			}

			clusters, result, err := c.Run(ctx, localDebug, cat)
			if err != nil {
				return err
			}
			if err := w.saveMerges(ctx, cat, cluster.Plan(clusters)); err != nil {
				return err
			}

			printClusters(cmd.OutOrStdout(), clusters)
			fmt.Fprintf(cmd.OutOrStdout(), "\nClusters merged: %d\nMalls retired: %d\nStores repointed: %d\n",
				result.Clusters, result.RetiredMalls, result.RepointedStores)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show clusters without merging")

	return cmd
}

// createResolveCmd assigns stores to malls and writes the review queues
func createResolveCmd() *cobra.Command {
	var reassign bool

	cmd := &cobra.Command{
		Use:   "resolve [store-id...]",
		Short: "Resolve stores to malls",
		Long:  `Scores every store against nearby malls, auto-assigns confident matches and queues the rest for review. With no arguments every store is resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			if cmd.Flags().Changed("reassign") {
				w.cfg.Match.Reassign = reassign
			}

			cat, issues, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			report, runErr := w.newEngine(cat, nil).Resolve(ctx, localDebug, args)
			if report == nil {
				return runErr
			}
			report.Errors = append(issues, report.Errors...)

			return finishRun(ctx, cmd.OutOrStdout(), w, cat, report, runErr)
		},
	}

	cmd.Flags().BoolVar(&reassign, "reassign", false, "Re-resolve stores that already have a mall")

	return cmd
}

// createEnhanceCmd re-searches unmatched stores through the POI provider
func createEnhanceCmd() *cobra.Command {
	var maxStores int

	cmd := &cobra.Command{
		Use:   "enhance",
		Short: "Re-search unmatched stores through the POI provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			cat, issues, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			engine := w.newEngine(cat, nil)
			report, runErr := engine.Resolve(ctx, localDebug, nil)
			if report == nil {
				return runErr
			}
			report.Errors = append(issues, report.Errors...)

			if runErr == nil {
				enh, err := enhancer(w, cat, engine.Scorer(), maxStores)
				if err != nil {
					return err
				}
				if err := enh.Run(ctx, localDebug, report); err != nil {
					log.Warn().Err(err).Msg("poi enhancement stopped early")
				}
			}

			return finishRun(ctx, cmd.OutOrStdout(), w, cat, report, runErr)
		},
	}

	cmd.Flags().IntVar(&maxStores, "max-stores", 0, "Limit the number of stores searched (default from config)")

	return cmd
}

// createReviewCmd starts an interactive console review of the queues
func createReviewCmd() *cobra.Command {
	var reviewer string

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Interactively review queued matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			if reviewer != "" {
				w.cfg.Adjudicator.Reviewer = reviewer
			}

			cat, issues, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			adj, err := w.newAdjudicator("console", cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			engine := w.newEngine(cat, adj)

			report, runErr := engine.Resolve(ctx, localDebug, nil)
			if report == nil {
				return runErr
			}
			report.Errors = append(issues, report.Errors...)

			if runErr == nil {
				if err := engine.Adjudicate(ctx, report); err != nil {
					log.Warn().Err(err).Msg("review session ended early")
				}
			}

			return finishRun(ctx, cmd.OutOrStdout(), w, cat, report, runErr)
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer name for the audit trail")

	return cmd
}

// createServeCmd serves the review API
func createServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			cat, issues, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			engine := w.newEngine(cat, nil)
			report, err := engine.Resolve(ctx, localDebug, nil)
			if err != nil {
				return err
			}
			report.Errors = append(issues, report.Errors...)
			if err := w.saveCatalog(ctx, cat); err != nil {
				return err
			}

			s := cfg.Server
			webConfig := web.Config{
				Host:         s.Host,
				Port:         s.Port,
				APIKey:       s.APIKey,
				ReadTimeout:  s.ReadTimeout,
				WriteTimeout: s.WriteTimeout,
			}
			if cmd.Flags().Changed("port") {
				webConfig.Port = port
			}

			deps := web.Dependencies{Engine: engine, Report: report}
			if t := w.tracker(); t != nil {
				deps.Audit = t
			}
			if w.repo != nil {
				deps.Store = w.repo
			}

			server, err := web.NewServer(webConfig, deps)
			if err != nil {
				return err
			}
			return server.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "Port to listen on (default from config)")

	return cmd
}

// createTuneCmd evaluates high-tier thresholds against labelled stores
func createTuneCmd() *cobra.Command {
	var labelsPath string
	var minPrecision float64

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Tune high-confidence thresholds against labelled stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := openWorkspace(ctx, cfg)
			if err != nil {
				return err
			}
			defer w.Close()

			if labelsPath == "" {
				labelsPath = cfg.Data.Labels
			}
			if labelsPath == "" {
				return fmt.Errorf("no labels file: pass --labels or set data.labels")
			}

			labels, err := dataset.ReadLabels(w.fs, labelsPath)
			if err != nil {
				return err
			}

			cat, _, err := w.loadCatalog(ctx)
			if err != nil {
				return err
			}

			results, err := w.newEngine(cat, nil).Tune(localDebug, labels, match.DefaultGrid())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DISTANCE_KM\tSIMILARITY\tPRECISION\tRECALL\tF1\tAUTO\tREVIEW")
			for _, r := range results {
				fmt.Fprintf(tw, "%.2f\t%.0f\t%.3f\t%.3f\t%.3f\t%d\t%d\n",
					r.HighDistanceKm, r.HighSimilarity, r.Precision, r.Recall, r.F1Score, r.AutoAcceptCount, r.ReviewCount)
			}
			_ = tw.Flush()

			if best := match.FindOptimal(results, minPrecision); best != nil {
				fmt.Fprintf(out, "\nRecommended: high_distance_km=%.2f high_similarity=%.0f (precision %.3f, recall %.3f)\n",
					best.HighDistanceKm, best.HighSimilarity, best.Precision, best.Recall)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&labelsPath, "labels", "", "CSV of store_id,mall_id answers")
	cmd.Flags().Float64Var(&minPrecision, "min-precision", 0.95, "Minimum precision for the recommendation")

	return cmd
}

// createPingCmd creates a command to test database connectivity
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Database connection successful!")

			for _, table := range []string{"stores", "malls"} {
				var count int
				if err := conn.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
					log.Warn().Err(err).Str("table", table).Msg("failed to count rows")
					continue
				}
				fmt.Fprintf(out, "%s: %d\n", table, count)
			}
			return nil
		},
	}
}

// createSchemaCmd creates the database tables
func createSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.CreateSchema(ctx, conn.DB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema created")
			return nil
		},
	}
}

// finishRun saves what the batch committed and prints the report. An
// interrupted run is still saved, outside the cancelled context.
func finishRun(ctx context.Context, out io.Writer, w *workspace, cat *catalog.Catalog, report *match.Report, runErr error) error {
	if runErr == nil {
		runErr = ctx.Err()
	}
	if runErr != nil {
		log.Warn().Err(runErr).Str("run_id", report.RunID).Msg("run interrupted, saving partial results")
		ctx = context.WithoutCancel(ctx)
	}

	if err := w.saveCatalog(ctx, cat); err != nil {
		return errors.Join(runErr, err)
	}
	if err := w.saveReport(ctx, report); err != nil {
		return errors.Join(runErr, err)
	}

	printReport(out, report)
	return runErr
}

func printReport(out io.Writer, report *match.Report) {
	fmt.Fprintf(out, "\n=== Resolution Results ===\n")
	fmt.Fprintf(out, "Run ID: %s\n", report.RunID)
	fmt.Fprintf(out, "Duration: %s\n", report.Duration)
	fmt.Fprintf(out, "Total: %d (filtered %d, kept %d)\n", report.Total, report.Filtered, report.Kept)
	fmt.Fprintf(out, "Auto-assigned: %d\n", report.AutoHigh)
	fmt.Fprintf(out, "Queued medium: %d\n", report.QueuedMedium)
	fmt.Fprintf(out, "Queued low: %d\n", report.QueuedLow)
	if report.CacheHits > 0 {
		fmt.Fprintf(out, "Replayed from cache: %d\n", report.CacheHits)
	}
	if report.Adjudicated+report.AdjudicatedNone+report.NewVenues > 0 {
		fmt.Fprintf(out, "Adjudicated: %d accepted, %d none, %d new venues, %d re-searched\n",
			report.Adjudicated, report.AdjudicatedNone, report.NewVenues, report.Researched)
	}
	if report.POIRequeued > 0 {
		fmt.Fprintf(out, "POI re-queued: %d\n", report.POIRequeued)
	}
	if report.MergedClusters > 0 {
		fmt.Fprintf(out, "Merged clusters: %d (%d malls retired)\n", report.MergedClusters, report.RetiredMalls)
	}
	if report.MissingInput > 0 {
		fmt.Fprintf(out, "Missing input: %d\n", report.MissingInput)
	}

	counts := report.ErrorCounts()
	kinds := make([]match.ErrorKind, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, kind := range kinds {
		fmt.Fprintf(out, "Errors (%s): %d\n", kind, counts[kind])
	}
}

func printClusters(out io.Writer, clusters []cluster.Cluster) {
	for _, c := range clusters {
		fmt.Fprintf(out, "%s %q at %s <- %v\n", c.CanonicalID, c.Name, c.Location, c.Members)
	}
}
