package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/store"
)

// Sink persists redacted rows, e.g. *store.Store
type Sink interface {
	SaveBatch(ctx context.Context, rows []store.Row) (*store.SaveResult, error)
}

// Cache serves previously computed results, e.g. *cache.ResultCache
type Cache interface {
	Get(ctx context.Context, payload string) *cache.Entry
	SetBatch(ctx context.Context, payloads []string, entries []*cache.Entry) error
}

// Hooks receive pipeline events; nil hooks are skipped
type Hooks struct {
	OnDetection func(runID, recordID string, findings []privacy.Finding)
	OnProgress  func(Progress)
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithSink writes every batch to sink
func WithSink(sink Sink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithCache looks results up in c before running the engine
func WithCache(c Cache) Option {
	return func(p *Pipeline) { p.cache = c }
}

// WithMetrics records per-record metrics on m
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithSamples keeps up to n PII-flagged output rows in Summary.Samples
func WithSamples(n int) Option {
	return func(p *Pipeline) { p.samples = n }
}

// WithHooks installs event hooks
func WithHooks(h Hooks) Option {
	return func(p *Pipeline) { p.hooks = h }
}

// Pipeline runs batch redaction over a dataset file
type Pipeline struct {
	engine  *privacy.Engine
	config  config.ETLConfig
	logger  *logger.Logger
	sink    Sink
	cache   Cache
	metrics *metrics.Collector
	hooks   Hooks
	samples int

	mu       sync.RWMutex
	progress Progress
}

// outcome is the processed form of one input row
type outcome struct {
	row       OutputRow
	findings  []privacy.Finding
	malformed bool
	cached    bool
	payload   string
}

// NewPipeline creates a new ETL pipeline
func NewPipeline(engine *privacy.Engine, cfg config.ETLConfig, log *logger.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine: engine,
		config: cfg,
		logger: log.WithComponent("etl"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.config.BatchSize <= 0 {
		p.config.BatchSize = 1
	}
	if p.config.WorkerCount <= 0 {
		p.config.WorkerCount = 1
	}
	if p.config.ProgressReport <= 0 {
		p.config.ProgressReport = p.config.BatchSize
	}
	return p
}

// ProcessFile redacts every row of input and writes the result to output.
// A missing input file or required column fails before output is created.
func (p *Pipeline) ProcessFile(ctx context.Context, input, output string) (*Summary, error) {
	reader, err := openReader(input)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	writer, err := createWriter(output)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(p.config.WorkerCount)
	if err != nil {
		writer.Abort()
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	defer pool.Release()

	summary := &Summary{
		RunID:          uuid.NewString(),
		Input:          input,
		Output:         output,
		CategoryCounts: make(map[string]int64),
		StartedAt:      time.Now(),
	}
	log := p.logger.WithRunID(summary.RunID)

	log.Info("Starting ETL pipeline",
		zap.String("input", input),
		zap.String("output", output),
		zap.String("input_format", string(DetectFileFormat(input))),
		zap.String("output_format", string(DetectFileFormat(output))),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	p.setProgress(Progress{RunID: summary.RunID, Input: input})

	if err := p.processBatches(ctx, log, pool, reader, writer, summary); err != nil {
		writer.Abort()
		return summary, err
	}

	if err := writer.Commit(); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(summary.StartedAt)
	if summary.TotalRecords > 0 {
		summary.PIIRate = float64(summary.PIIRecords) / float64(summary.TotalRecords) * 100
	}

	p.reportProgress(log, summary, true)

	log.Info("ETL pipeline completed",
		zap.Int64("total_records", summary.TotalRecords),
		zap.Int64("pii_records", summary.PIIRecords),
		zap.Float64("pii_rate", summary.PIIRate),
		zap.Int64("malformed", summary.Malformed),
		zap.Int64("skipped_rows", summary.SkippedRows),
		zap.Duration("duration", summary.Duration))

	return summary, nil
}

// processBatches reads, redacts and writes batches until the input ends
func (p *Pipeline) processBatches(ctx context.Context, log *logger.Logger, pool *ants.Pool, reader rowReader, writer rowWriter, summary *Summary) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := p.readBatch(log, reader, summary)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		outcomes := p.processBatch(ctx, log, pool, batch, summary.RunID)

		if err := p.writeBatch(ctx, writer, outcomes, summary); err != nil {
			return err
		}

		before := summary.TotalRecords - int64(len(batch))
		if before/int64(p.config.ProgressReport) != summary.TotalRecords/int64(p.config.ProgressReport) {
			p.reportProgress(log, summary, false)
		}
	}
}

// readBatch collects up to BatchSize rows, skipping rows the reader rejects
func (p *Pipeline) readBatch(log *logger.Logger, reader rowReader, summary *Summary) ([]InputRow, error) {
	batch := make([]InputRow, 0, p.config.BatchSize)

	for len(batch) < p.config.BatchSize {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var rowErr *RowError
			if errors.As(err, &rowErr) {
				summary.SkippedRows++
				log.Warn("Skipping unreadable input row", zap.Int("line", rowErr.Line), zap.Error(rowErr.Err))
				continue
			}
			return nil, fmt.Errorf("failed to read input: %w", err)
		}
		batch = append(batch, row)
	}

	return batch, nil
}

// processBatch redacts a batch on the worker pool; outcomes keep input order
func (p *Pipeline) processBatch(ctx context.Context, log *logger.Logger, pool *ants.Pool, batch []InputRow, runID string) []outcome {
	outcomes := make([]outcome, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = p.processRow(ctx, log, batch[i])
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	for _, o := range outcomes {
		if len(o.findings) > 0 && p.hooks.OnDetection != nil {
			p.hooks.OnDetection(runID, o.row.RecordID, o.findings)
		}
	}

	return outcomes
}

// processRow redacts one row. Undecodable data_json passes through unchanged
// with is_pii false.
func (p *Pipeline) processRow(ctx context.Context, log *logger.Logger, row InputRow) outcome {
	start := time.Now()

	if p.cache != nil {
		if entry := p.cache.Get(ctx, row.DataJSON); entry != nil {
			p.metrics.ObserveCacheLookup(true)
			for _, f := range entry.Findings {
				log.LogDetection(row.RecordID, f.Field, string(f.Category), string(f.Source), f.Count)
				p.metrics.ObserveCategory(string(f.Category), string(f.Source), f.Count)
			}
			p.metrics.ObserveRecord("batch", entry.HasPII, false, time.Since(start))
			return outcome{
				row:      OutputRow{RecordID: row.RecordID, RedactedDataJSON: entry.Redacted, IsPII: entry.HasPII},
				findings: entry.Findings,
				cached:   true,
			}
		}
		p.metrics.ObserveCacheLookup(false)
	}

	redacted, result, err := p.engine.ProcessJSON([]byte(row.DataJSON))
	if err != nil {
		log.Warn("Malformed record, passing through unchanged",
			zap.String("record_id", row.RecordID),
			zap.Error(err))
		p.metrics.ObserveRecord("batch", false, true, time.Since(start))
		return outcome{
			row:       OutputRow{RecordID: row.RecordID, RedactedDataJSON: row.DataJSON},
			malformed: true,
		}
	}

	for _, f := range result.Findings {
		log.LogDetection(row.RecordID, f.Field, string(f.Category), string(f.Source), f.Count)
		p.metrics.ObserveCategory(string(f.Category), string(f.Source), f.Count)
	}
	p.metrics.ObserveRecord("batch", result.HasPII, false, time.Since(start))

	return outcome{
		row:      OutputRow{RecordID: row.RecordID, RedactedDataJSON: redacted, IsPII: result.HasPII},
		findings: result.Findings,
		payload:  row.DataJSON,
	}
}

// writeBatch writes outcomes in order, then updates the cache and the sink
func (p *Pipeline) writeBatch(ctx context.Context, writer rowWriter, outcomes []outcome, summary *Summary) error {
	var payloads []string
	var entries []*cache.Entry
	var rows []store.Row

	for _, o := range outcomes {
		if err := writer.Write(o.row); err != nil {
			return fmt.Errorf("failed to write output row %q: %w", o.row.RecordID, err)
		}

		summary.TotalRecords++
		if o.row.IsPII {
			summary.PIIRecords++
			if len(summary.Samples) < p.samples {
				summary.Samples = append(summary.Samples, o.row)
			}
		}
		if o.malformed {
			summary.Malformed++
		}
		if o.cached {
			summary.CacheHits++
		}
		for _, f := range o.findings {
			summary.CategoryCounts[string(f.Category)] += int64(f.Count)
		}

		if p.cache != nil && !o.cached && !o.malformed {
			payloads = append(payloads, o.payload)
			entries = append(entries, &cache.Entry{Redacted: o.row.RedactedDataJSON, HasPII: o.row.IsPII, Findings: o.findings})
		}
		if p.sink != nil {
			rows = append(rows, store.Row{
				RunID:            summary.RunID,
				RecordID:         o.row.RecordID,
				RedactedDataJSON: o.row.RedactedDataJSON,
				IsPII:            o.row.IsPII,
			})
		}
	}

	if len(entries) > 0 {
		if err := p.cache.SetBatch(ctx, payloads, entries); err != nil {
			p.logger.Warn("Failed to update cache", zap.Error(err))
		}
	}

	if p.sink != nil {
		res, err := p.sink.SaveBatch(ctx, rows)
		if err != nil {
			p.metrics.ObserveSinkError()
			return fmt.Errorf("failed to store batch: %w", err)
		}
		summary.StoredRecords += res.Written
	}

	p.mu.Lock()
	p.progress.Processed = summary.TotalRecords
	p.progress.Flagged = summary.PIIRecords
	p.progress.Malformed = summary.Malformed
	p.mu.Unlock()

	return nil
}

// reportProgress logs and publishes current progress
func (p *Pipeline) reportProgress(log *logger.Logger, summary *Summary, done bool) {
	elapsed := time.Since(summary.StartedAt)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(summary.TotalRecords) / elapsed.Seconds()
	}

	p.mu.Lock()
	p.progress.RatePerSec = rate
	p.progress.Done = done
	progress := p.progress
	p.mu.Unlock()

	if !done {
		log.Info("Processing progress",
			zap.Int64("records_processed", summary.TotalRecords),
			zap.Int64("pii_records", summary.PIIRecords),
			zap.Int64("malformed", summary.Malformed),
			zap.Float64("rate_per_sec", rate),
			zap.Duration("elapsed", elapsed))
	}

	if p.hooks.OnProgress != nil {
		p.hooks.OnProgress(progress)
	}
}

func (p *Pipeline) setProgress(progress Progress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = progress
}

// GetProgress returns a snapshot of the current or last run
func (p *Pipeline) GetProgress() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progress
}

// WriteReport writes the summary as YAML
func (s *Summary) WriteReport(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
