package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/etl"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

type runOptions struct {
	input     string
	output    string
	report    string
	listen    string
	batchSize int
	workers   int
	samples   int
	skipCache bool
	skipStore bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Redact every record of a dataset file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "input dataset (CSV, JSON-lines or Parquet)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "output file; format follows the extension")
	cmd.Flags().StringVar(&opts.report, "report", "", "write the run summary as YAML to this path")
	cmd.Flags().StringVar(&opts.listen, "listen", "", "serve /metrics and the live event feed on this address during the run")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "records per batch (overrides etl.batch_size)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "worker goroutines (overrides etl.worker_count)")
	cmd.Flags().IntVar(&opts.samples, "samples", 3, "print up to this many PII-flagged redacted records after the summary")
	cmd.Flags().BoolVar(&opts.skipCache, "skip-cache", false, "do not use the Redis result cache")
	cmd.Flags().BoolVar(&opts.skipStore, "skip-store", false, "do not write results to the database")
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagRequired("output")

	return cmd
}

// runBatch wires the optional sink, cache and live feed around one pipeline run
func runBatch(cmd *cobra.Command, opts *runOptions) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	if opts.batchSize > 0 {
		cfg.ETL.BatchSize = opts.batchSize
	}
	if opts.workers > 0 {
		cfg.ETL.WorkerCount = opts.workers
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting PII-Sentinel batch run",
		zap.String("version", version),
		zap.String("input", opts.input),
		zap.String("output", opts.output))

	engine, err := privacy.New(cfg.Privacy, log.WithComponent("privacy"))
	if err != nil {
		return fmt.Errorf("failed to create redaction engine: %w", err)
	}

	pipelineOpts := []etl.Option{etl.WithSamples(opts.samples)}

	if cfg.Store.Enabled && !opts.skipStore {
		st, err := store.NewStore(cfg.Store, log.WithComponent("store").Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
		pipelineOpts = append(pipelineOpts, etl.WithSink(st))
	}

	if cfg.Cache.Enabled && !opts.skipCache {
		rc, err := cache.NewResultCache(cfg.Cache, engine.Fingerprint(), log.WithComponent("cache").Logger)
		if err != nil {
			// the cache only saves work; a run without it is still correct
			log.Warn("Result cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer rc.Close()
			pipelineOpts = append(pipelineOpts, etl.WithCache(rc))
		}
	}

	if opts.listen != "" {
		collector := metrics.New("pii_sentinel")
		hub := websocket.NewHub(cfg.WebSocket, log.Logger)
		hub.OnClientsChanged = collector.SetClients

		stopFeed, err := serveFeed(ctx, opts.listen, cfg, collector, hub, log)
		if err != nil {
			return err
		}
		defer stopFeed()

		pipelineOpts = append(pipelineOpts,
			etl.WithMetrics(collector),
			etl.WithHooks(feedHooks(hub)),
		)
	}

	pipeline := etl.NewPipeline(engine, cfg.ETL, log, pipelineOpts...)

	summary, err := pipeline.ProcessFile(ctx, opts.input, opts.output)
	if err != nil {
		return fmt.Errorf("batch run failed: %w", err)
	}

	printSummary(cmd.OutOrStdout(), summary)

	if opts.report != "" {
		if err := summary.WriteReport(opts.report); err != nil {
			return err
		}
		log.Info("Run report written", zap.String("path", opts.report))
	}

	return nil
}

// feedHooks forwards pipeline events to the live feed
func feedHooks(hub *websocket.Hub) etl.Hooks {
	return etl.Hooks{
		OnDetection: func(runID, recordID string, findings []privacy.Finding) {
			hub.BroadcastDetection("", websocket.DetectionEvent{
				Source:   "batch",
				RunID:    runID,
				RecordID: recordID,
				Findings: findings,
			})
		},
		OnProgress: func(p etl.Progress) {
			hub.BroadcastBatch(websocket.BatchEvent{
				RunID:      p.RunID,
				Input:      p.Input,
				Processed:  p.Processed,
				Flagged:    p.Flagged,
				Malformed:  p.Malformed,
				RatePerSec: p.RatePerSec,
				Done:       p.Done,
			})
		},
	}
}

// serveFeed serves metrics and the WebSocket feed until the returned stop
// function is called
func serveFeed(ctx context.Context, addr string, cfg *config.Config, collector *metrics.Collector, hub *websocket.Hub, log *logger.Logger) (func(), error) {
	router := mux.NewRouter()
	router.Handle("/metrics", collector.Handler()).Methods("GET")
	if cfg.WebSocket.Enabled {
		router.HandleFunc(cfg.WebSocket.Path, hub.HandleWebSocket).Methods("GET")
	}

	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	hubCtx, cancelHub := context.WithCancel(ctx)
	go hub.Run(hubCtx)

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Serving live feed", zap.String("addr", addr))
		serveErr <- srv.ListenAndServe()
	}()

	// surface an immediate bind failure instead of running without the feed
	select {
	case err := <-serveErr:
		cancelHub()
		return nil, fmt.Errorf("failed to serve live feed on %s: %w", addr, err)
	case <-time.After(100 * time.Millisecond):
	}

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Failed to stop live feed", zap.Error(err))
		}
		cancelHub()
	}, nil
}

func printSummary(w io.Writer, s *etl.Summary) {
	fmt.Fprintf(w, "\n=== PII-Sentinel Run Summary ===\n")
	fmt.Fprintf(w, "Run ID:          %s\n", s.RunID)
	fmt.Fprintf(w, "Output:          %s\n", s.Output)
	fmt.Fprintf(w, "Total records:   %d\n", s.TotalRecords)
	fmt.Fprintf(w, "PII records:     %d (%.1f%%)\n", s.PIIRecords, s.PIIRate)
	fmt.Fprintf(w, "Malformed:       %d\n", s.Malformed)
	if s.SkippedRows > 0 {
		fmt.Fprintf(w, "Skipped rows:    %d\n", s.SkippedRows)
	}
	if s.CacheHits > 0 {
		fmt.Fprintf(w, "Cache hits:      %d\n", s.CacheHits)
	}
	if s.StoredRecords > 0 {
		fmt.Fprintf(w, "Stored records:  %d\n", s.StoredRecords)
	}
	fmt.Fprintf(w, "Duration:        %s\n", s.Duration.Round(time.Millisecond))

	if len(s.Samples) > 0 {
		fmt.Fprintf(w, "\n=== Sample PII Records ===\n")
		for _, row := range s.Samples {
			fmt.Fprintf(w, "%s  %s\n", row.RecordID, row.RedactedDataJSON)
		}
	}
}
