package privacy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/record"
	"go.uber.org/zap"
)

// ErrMalformedRecord is returned by ProcessJSON when the payload cannot be
// decoded into a record
var ErrMalformedRecord = errors.New("malformed record")

// Engine handles PII detection and masking of records. It holds no
// per-record state and is safe for concurrent use.
type Engine struct {
	catalog *Catalog
	fields  *FieldClassifier
	logger  *logger.Logger
	config  config.PrivacyConfig
}

// New creates a new redaction engine instance
func New(cfg config.PrivacyConfig, log *logger.Logger) (*Engine, error) {
	catalog, err := NewCatalog(cfg.Detectors)
	if err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	engine := &Engine{
		catalog: catalog,
		fields:  NewFieldClassifier(cfg.ExtraFields...),
		logger:  log,
		config:  cfg,
	}

	log.Info("Redaction engine initialized",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("pattern_rules", len(catalog.rules)),
		zap.Int("field_names", len(engine.fields.table)),
		zap.Strings("categories", categoryNames(catalog.EnabledCategories())),
	)

	return engine, nil
}

// Catalog returns the engine's pattern catalog
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Fields returns the engine's field classifier
func (e *Engine) Fields() *FieldClassifier {
	return e.fields
}

// Enabled reports whether redaction is switched on
func (e *Engine) Enabled() bool {
	return e.config.Enabled
}

// Fingerprint identifies the engine's redaction behaviour. Engines with equal
// fingerprints produce identical output for every record.
func (e *Engine) Fingerprint() string {
	return fmt.Sprintf("v1|%t|%s", e.config.Enabled, strings.Join(categoryNames(e.catalog.EnabledCategories()), ","))
}

// Redact scans free text and masks every resolved match in a single pass.
// It returns the masked text and the matches that were applied.
func (e *Engine) Redact(text string) (string, []Match) {
	spans := Resolve(e.catalog.Scan(text))
	return apply(text, spans), spans
}

// Process redacts one record. Non-string and blank values pass through
// untouched; identity and address fields are masked as a whole; every other
// string is scanned.
func (e *Engine) Process(rec record.Record) Result {
	result := Result{
		Redacted: make(record.Record, len(rec)),
		Findings: []Finding{},
	}
	copy(result.Redacted, rec)

	if !e.config.Enabled {
		return result
	}

	for i, field := range rec {
		text, ok := field.Text()
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}

		class := e.fields.Classify(field.Name)

		switch {
		case class == FieldIdentity && e.catalog.Enabled(PersonName):
			result.Redacted[i] = record.String(field.Name, Mask(text, PersonName))
			result.add(field.Name, PersonName, SourceFieldName, 1)

		case class == FieldAddress && e.catalog.Enabled(Address):
			result.Redacted[i] = record.String(field.Name, Mask(text, Address))
			result.add(field.Name, Address, SourceFieldName, 1)

		default:
			masked, spans := e.Redact(text)
			if len(spans) == 0 {
				if class == FieldPIINamed {
					e.logger.Debug("PII-named field had no pattern hit",
						zap.String("field", field.Name))
				}
				continue
			}
			result.Redacted[i] = record.String(field.Name, masked)
			for _, span := range spans {
				result.add(field.Name, span.Category, SourcePattern, 1)
			}
		}
	}

	for _, f := range result.Findings {
		e.logger.Debug("PII detected and masked",
			zap.String("field", f.Field),
			zap.String("category", string(f.Category)),
			zap.String("source", string(f.Source)),
			zap.Int("count", f.Count),
		)
	}

	return result
}

// ProcessJSON decodes a JSON object, redacts it and re-encodes it. A payload
// that cannot be decoded yields an error wrapping ErrMalformedRecord.
func (e *Engine) ProcessJSON(raw []byte) (string, Result, error) {
	rec, err := record.Parse(raw)
	if err != nil {
		return "", Result{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	result := e.Process(rec)

	encoded, err := result.Redacted.Encode()
	if err != nil {
		return "", Result{}, fmt.Errorf("failed to encode redacted record: %w", err)
	}

	return encoded, result, nil
}

// add records a finding, merging repeats of the same field and category
func (r *Result) add(field string, category Category, source Source, count int) {
	r.HasPII = true
	for i := range r.Findings {
		f := &r.Findings[i]
		if f.Field == field && f.Category == category && f.Source == source {
			f.Count += count
			return
		}
	}
	r.Findings = append(r.Findings, Finding{
		Field:    field,
		Category: category,
		Source:   source,
		Count:    count,
	})
}

// Categories returns the distinct categories found, in first-seen order
func (r Result) Categories() []Category {
	var out []Category
	seen := make(map[Category]bool)
	for _, f := range r.Findings {
		if !seen[f.Category] {
			seen[f.Category] = true
			out = append(out, f.Category)
		}
	}
	return out
}

func categoryNames(categories []Category) []string {
	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	return names
}
