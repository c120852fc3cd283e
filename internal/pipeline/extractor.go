// Package pipeline wires the two-phase extraction flow: classify, look up
// learned context, extract, normalize, learn.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"docketscan/internal/common"
	"docketscan/internal/extract"
	"docketscan/internal/memory"
	"docketscan/internal/oracle"
	"docketscan/internal/prompt"
)

// Input-validation errors, raised before any network call.
var (
	ErrNoImage       = common.NewAppError("NO_IMAGE", "no image supplied", common.ErrInvalidInput)
	ErrImageTooLarge = common.NewAppError("IMAGE_TOO_LARGE", "image exceeds the configured size limit", common.ErrInvalidInput)
)

const defaultMaxImageBytes = 20 << 20

// Extractor runs the adaptive extraction pipeline for one image at a time.
// Construct one per process and share it; it is safe for concurrent use.
type Extractor struct {
	oracle        oracle.Oracle
	memory        *memory.Manager
	logger        *slog.Logger
	maxImageBytes int64
}

func NewExtractor(o oracle.Oracle, m *memory.Manager, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		oracle:        o,
		memory:        m,
		logger:        logger,
		maxImageBytes: defaultMaxImageBytes,
	}
}

// WithMaxImageBytes overrides the pre-flight image size limit.
func (e *Extractor) WithMaxImageBytes(n int64) *Extractor {
	if n > 0 {
		e.maxImageBytes = n
	}
	return e
}

// classification is the expected shape of the first-phase response.
type classification struct {
	Supplier     string `json:"supplier"`
	DocumentType string `json:"documentType"`
}

// Extract runs the full pipeline for one image. Oracle failures abort and are
// surfaced verbatim (their messages are already user-facing). A response that
// parses but yields no usable items returns a Result with empty records and
// an error matching extract.ErrNoData / extract.ErrParse; those outcomes are
// never retried.
func (e *Extractor) Extract(ctx context.Context, image []byte) (*extract.Result, error) {
	rid := uuid.New().String()
	start := time.Now()

	if len(image) == 0 {
		return nil, ErrNoImage
	}
	if int64(len(image)) > e.maxImageBytes {
		return nil, ErrImageTooLarge
	}

	e.logger.Info("pipeline.extract.start", "req_id", rid, "image_bytes", len(image))

	// Phase 1: cheap supplier/type detection. Failure degrades to the
	// unenriched path, it never aborts the extraction.
	supplier, documentType := e.classify(ctx, rid, image)

	var format *memory.DocumentFormat
	if supplier != "" && documentType != "" {
		format = e.memory.Get(supplier, documentType)
		e.logger.Info("pipeline.memory_lookup",
			"req_id", rid, "supplier", supplier, "document_type", documentType, "known", format != nil)
	}

	// Phase 2: the enriched extraction call.
	raw, err := e.oracle.Call(ctx, prompt.Extraction(format), image)
	if err != nil {
		e.logger.Error("pipeline.extract.oracle_failed", "req_id", rid, "error", err)
		return nil, err
	}

	doc, err := extract.ParseDocument(raw)
	if err != nil {
		e.logger.Warn("pipeline.extract.no_usable_data", "req_id", rid, "error", err)
		return &extract.Result{Records: []extract.Record{}}, err
	}
	records, err := extract.Flatten(doc)
	if err != nil {
		e.logger.Warn("pipeline.extract.no_usable_data", "req_id", rid, "error", err)
		return &extract.Result{Records: []extract.Record{}}, err
	}

	result := &extract.Result{
		Records:      records,
		Document:     doc,
		Supplier:     supplier,
		DocumentType: documentType,
		FormatUsed:   format != nil,
	}

	// Learning write-back gets the structured document, not the flattened
	// records, so the store can re-infer templates and hints.
	if supplier != "" && documentType != "" {
		if err := e.memory.LearnFromExtraction(ctx, supplier, documentType, doc); err != nil {
			// learning failures don't invalidate a good extraction
			e.logger.Error("pipeline.extract.learn_failed", "req_id", rid, "error", err)
		}
	}

	e.logger.Info("pipeline.extract.ok",
		"req_id", rid,
		"records", len(records),
		"supplier", supplier,
		"document_type", documentType,
		"format_used", result.FormatUsed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// classify runs the first-phase call and parses its response. Any failure
// returns empty values and the pipeline continues unenriched.
func (e *Extractor) classify(ctx context.Context, rid string, image []byte) (supplier, documentType string) {
	raw, err := e.oracle.Call(ctx, prompt.Classification(), image)
	if err != nil {
		e.logger.Warn("pipeline.classify.failed", "req_id", rid, "error", err)
		return "", ""
	}

	content := strings.TrimSpace(raw)
	var c classification
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		e.logger.Warn("pipeline.classify.unparseable", "req_id", rid, "error", err)
		return "", ""
	}

	c.Supplier = strings.TrimSpace(c.Supplier)
	c.DocumentType = strings.ToLower(strings.TrimSpace(c.DocumentType))
	if c.Supplier == "" || !extract.IsDocumentType(c.DocumentType) {
		e.logger.Warn("pipeline.classify.incomplete",
			"req_id", rid, "supplier", c.Supplier, "document_type", c.DocumentType)
		return "", ""
	}

	e.logger.Info("pipeline.classify.ok",
		"req_id", rid, "supplier", c.Supplier, "document_type", c.DocumentType)
	return c.Supplier, c.DocumentType
}

// IsNoData reports whether err is a data-quality outcome (empty or
// unparseable oracle output) rather than a transport failure.
func IsNoData(err error) bool {
	return errors.Is(err, extract.ErrNoData) || errors.Is(err, extract.ErrParse)
}

// Describe renders any pipeline error as a caller-facing message, preferring
// the most specific diagnostic available.
func Describe(err error) string {
	var oerr *oracle.Error
	if errors.As(err, &oerr) {
		return oerr.Kind.UserMessage()
	}
	if IsNoData(err) {
		return "no usable data could be read from this image; retake the photo and try again"
	}
	var aerr *common.AppError
	if errors.As(err, &aerr) {
		return aerr.Message
	}
	return fmt.Sprintf("extraction failed: %v", err)
}
