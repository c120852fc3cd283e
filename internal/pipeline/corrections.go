package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"docketscan/internal/common"
	"docketscan/internal/extract"
	"docketscan/internal/memory"
)

var ErrUnknownDocumentType = common.NewAppError("UNKNOWN_DOCUMENT_TYPE", "document type must be one of receipt, invoice, docket or purchase_order", common.ErrInvalidInput)

// Corrections feeds user-supplied fixes back into format memory.
type Corrections struct {
	memory *memory.Manager
	logger *slog.Logger
}

func NewCorrections(m *memory.Manager, logger *slog.Logger) *Corrections {
	if logger == nil {
		logger = slog.Default()
	}
	return &Corrections{memory: m, logger: logger}
}

// Learn records a correction against the (supplier, documentType) format.
// Corrections for suppliers the store has never seen are ignored; there is no
// baseline to adjust.
func (c *Corrections) Learn(ctx context.Context, supplier, documentType string, original, corrected *extract.Document) error {
	rid := uuid.New().String()

	supplier = strings.TrimSpace(supplier)
	documentType = strings.ToLower(strings.TrimSpace(documentType))
	if supplier == "" {
		return common.NewAppError("MISSING_SUPPLIER", "supplier is required", common.ErrInvalidInput)
	}
	if !extract.IsDocumentType(documentType) {
		return ErrUnknownDocumentType
	}
	if original == nil || corrected == nil {
		return common.NewAppError("MISSING_DOCUMENT", "both the original and corrected documents are required", common.ErrInvalidInput)
	}

	c.logger.Info("pipeline.correction.start",
		"req_id", rid, "supplier", supplier, "document_type", documentType)

	if err := c.memory.LearnFromCorrection(ctx, supplier, documentType, original, corrected); err != nil {
		c.logger.Error("pipeline.correction.failed", "req_id", rid, "error", err)
		return err
	}

	c.logger.Info("pipeline.correction.ok", "req_id", rid, "supplier", supplier, "document_type", documentType)
	return nil
}
