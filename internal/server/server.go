// Package server exposes the extraction pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"docketscan/internal/common"
	"docketscan/internal/export"
	"docketscan/internal/extract"
	"docketscan/internal/memory"
	"docketscan/internal/oracle"
	"docketscan/internal/pipeline"
)

// Server wires the pipeline, format memory and sinks behind a JSON API.
type Server struct {
	echo        *echo.Echo
	extractor   *pipeline.Extractor
	corrections *pipeline.Corrections
	memory      *memory.Manager
	xlsx        *export.XLSX
	sink        export.Sink // optional; nil when no spreadsheet is configured
	logger      *slog.Logger
	addr        string
}

// New builds the server. sink may be nil.
func New(ex *pipeline.Extractor, cor *pipeline.Corrections, mem *memory.Manager, sink export.Sink, logger *slog.Logger, addr string) (*Server, error) {
	if ex == nil || cor == nil || mem == nil {
		return nil, fmt.Errorf("extractor, corrections and memory are all required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"elapsed_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return err
		}
	})

	s := &Server{
		echo:        e,
		extractor:   ex,
		corrections: cor,
		memory:      mem,
		xlsx:        export.NewXLSX(logger),
		sink:        sink,
		logger:      logger,
		addr:        addr,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/extract", s.handleExtract)
	v1.POST("/corrections", s.handleCorrection)
	v1.GET("/formats", s.handleFormats)
	v1.DELETE("/formats", s.handleFormatsReset)
	v1.POST("/records", s.handleRecords)
	v1.POST("/export/xlsx", s.handleExportXLSX)
}

type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// ExtractResponse is the body for POST /api/v1/extract.
type ExtractResponse struct {
	*extract.Result
	Warning string `json:"warning,omitempty"`
}

// handleExtract accepts a multipart upload under the "image" field and runs
// the full pipeline. No-data outcomes are 200 with empty records and a
// warning, oracle failures map to an upstream status.
func (s *Server) handleExtract(c echo.Context) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "an image file is required under the 'image' field")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not open the uploaded image")
	}
	defer f.Close()
	image, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "could not read the uploaded image")
	}

	result, err := s.extractor.Extract(c.Request().Context(), image)
	if err != nil {
		if pipeline.IsNoData(err) {
			return c.JSON(http.StatusOK, ExtractResponse{Result: result, Warning: pipeline.Describe(err)})
		}
		return s.pipelineError(err)
	}

	if s.sink != nil && len(result.Records) > 0 {
		if err := s.sink.Append(c.Request().Context(), result.Records); err != nil {
			s.logger.Error("server.sink_append_failed", "error", err)
			return c.JSON(http.StatusOK, ExtractResponse{
				Result:  result,
				Warning: "records were extracted but could not be delivered to the spreadsheet",
			})
		}
	}
	return c.JSON(http.StatusOK, ExtractResponse{Result: result})
}

// CorrectionRequest is the body for POST /api/v1/corrections.
type CorrectionRequest struct {
	Supplier     string            `json:"supplier"`
	DocumentType string            `json:"documentType"`
	Original     *extract.Document `json:"original"`
	Corrected    *extract.Document `json:"corrected"`
}

func (s *Server) handleCorrection(c echo.Context) error {
	var req CorrectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.corrections.Learn(c.Request().Context(), req.Supplier, req.DocumentType, req.Original, req.Corrected); err != nil {
		return s.pipelineError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// FormatSummary is one entry of the memory status payload.
type FormatSummary struct {
	Supplier        string    `json:"supplier"`
	DocumentType    string    `json:"documentType"`
	ExtractionCount int       `json:"extractionCount"`
	SuccessRate     int       `json:"successRate"`
	CommonErrors    []string  `json:"commonErrors"`
	LastUpdated     time.Time `json:"lastUpdated"`
}

type FormatsResponse struct {
	Count   int             `json:"count"`
	Formats []FormatSummary `json:"formats"`
}

func (s *Server) handleFormats(c echo.Context) error {
	formats := s.memory.All()
	out := FormatsResponse{Count: len(formats), Formats: make([]FormatSummary, 0, len(formats))}
	for _, f := range formats {
		out.Formats = append(out.Formats, FormatSummary{
			Supplier:        f.Supplier,
			DocumentType:    f.DocumentType,
			ExtractionCount: f.Accuracy.ExtractionCount,
			SuccessRate:     f.Accuracy.SuccessRate,
			CommonErrors:    f.Accuracy.CommonErrors,
			LastUpdated:     f.Accuracy.LastUpdated,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleFormatsReset(c echo.Context) error {
	if err := s.memory.Clear(c.Request().Context()); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not reset format memory")
	}
	return c.NoContent(http.StatusNoContent)
}

// RecordsRequest is the body for POST /api/v1/records: pre-extracted records
// to deliver to the configured spreadsheet.
type RecordsRequest struct {
	Records []extract.Record `json:"records"`
}

func (s *Server) handleRecords(c echo.Context) error {
	if s.sink == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no spreadsheet is configured")
	}
	var req RecordsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Records) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "records are required")
	}
	if err := s.sink.Append(c.Request().Context(), req.Records); err != nil {
		s.logger.Error("server.sink_append_failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, "records could not be delivered to the spreadsheet")
	}
	return c.NoContent(http.StatusNoContent)
}

// handleExportXLSX renders posted records into a downloadable workbook.
func (s *Server) handleExportXLSX(c echo.Context) error {
	var req RecordsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	out, err := s.xlsx.Render(req.Records)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "could not render the workbook")
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="records.xlsx"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", out)
}

// pipelineError maps pipeline failures onto HTTP statuses while keeping the
// caller-facing message.
func (s *Server) pipelineError(err error) error {
	msg := pipeline.Describe(err)
	var oerr *oracle.Error
	if errors.As(err, &oerr) {
		switch oerr.Kind {
		case oracle.KindRateLimited:
			return echo.NewHTTPError(http.StatusTooManyRequests, msg)
		case oracle.KindTimeout:
			return echo.NewHTTPError(http.StatusGatewayTimeout, msg)
		case oracle.KindAuthFailure:
			return echo.NewHTTPError(http.StatusBadGateway, msg)
		default:
			return echo.NewHTTPError(http.StatusBadGateway, msg)
		}
	}
	if errors.Is(err, common.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, msg)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, msg)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	s.logger.Info("starting http server", "addr", s.addr)
	return s.echo.Start(s.addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
