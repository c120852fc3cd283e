package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"docketscan/internal/async"
	"docketscan/internal/common"
	"docketscan/internal/export"
	"docketscan/internal/extract"
	"docketscan/internal/memory"
	"docketscan/internal/oracle/openai"
	"docketscan/internal/pipeline"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if os.Getenv("DOCKETSCAN_VERBOSE") != "" {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()

	ctx := context.Background()

	cmd := os.Args[1]
	switch cmd {
	case "extract":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		out := fs.String("out", "", "write records to this xlsx file instead of stdout")
		workers := fs.Int("workers", 2, "concurrent extractions")
		sheets := fs.Bool("sheets", false, "also append records to the configured spreadsheet")
		_ = fs.Parse(os.Args[2:])
		images := fs.Args()
		if len(images) == 0 {
			must(fmt.Errorf("at least one image path is required"))
		}
		must(cfg.Validate())
		runExtract(ctx, cfg, logger, images, *out, *workers, *sheets)
	case "formats":
		mgr := openMemory(ctx, cfg, logger)
		printFormats(mgr)
	case "reset":
		mgr := openMemory(ctx, cfg, logger)
		must(mgr.Clear(ctx))
		fmt.Println("format memory cleared")
	default:
		usage()
		os.Exit(1)
	}
}

func runExtract(ctx context.Context, cfg *common.Config, logger *slog.Logger, images []string, out string, workers int, toSheets bool) {
	mgr := openMemory(ctx, cfg, logger)

	client := openai.NewClient(openai.Config{
		APIKey:         cfg.Oracle.APIKey,
		BaseURL:        cfg.Oracle.BaseURL,
		Model:          cfg.Oracle.Model,
		Temperature:    cfg.Oracle.Temperature,
		MaxTokens:      cfg.Oracle.MaxTokens,
		RequestTimeout: cfg.Oracle.RequestTimeout,
		MaxAttempts:    cfg.Oracle.MaxAttempts,
		BaseDelay:      cfg.Oracle.BaseDelay,
		MaxDelay:       cfg.Oracle.MaxDelay,
		RateLimitStep:  cfg.Oracle.RateLimitStep,
	}, logger)
	extractor := pipeline.NewExtractor(client, mgr, logger).
		WithMaxImageBytes(int64(cfg.Oracle.MaxImageMB) << 20)

	var mu sync.Mutex
	var records []extract.Record
	failures := 0
	var wg sync.WaitGroup

	queue := async.NewExtractorQueue(extractor, func(r async.JobResult) {
		defer wg.Done()
		mu.Lock()
		defer mu.Unlock()
		if r.Err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s: %s\n", r.Job.Source, pipeline.Describe(r.Err))
			return
		}
		records = append(records, r.Result.Records...)
		fmt.Printf("%s: %d records (supplier=%q type=%q format_used=%v)\n",
			r.Job.Source, len(r.Result.Records), r.Result.Supplier, r.Result.DocumentType, r.Result.FormatUsed)
	}, logger, async.WithWorkers(workers), async.WithQueueSize(len(images)))

	for _, path := range images {
		image, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failures++
			continue
		}
		wg.Add(1)
		must(queue.Enqueue(ctx, async.Job{Source: filepath.Base(path), Image: image}))
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	queue.Shutdown(shutdownCtx)

	// keep output order stable across worker interleavings
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Supplier != records[j].Supplier {
			return records[i].Supplier < records[j].Supplier
		}
		return records[i].Product < records[j].Product
	})

	if out != "" {
		data, err := export.NewXLSX(logger).Render(records)
		must(err)
		must(os.WriteFile(out, data, 0o644))
		fmt.Printf("wrote %d records to %s\n", len(records), out)
	} else {
		printRecords(records)
	}

	if toSheets && len(records) > 0 {
		sink, err := export.NewSheetsSink(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.Range, logger)
		must(err)
		must(sink.Append(ctx, records))
		fmt.Printf("appended %d records to spreadsheet %s\n", len(records), cfg.Sheets.SpreadsheetID)
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d image(s) failed\n", failures)
		os.Exit(1)
	}
}

func printRecords(records []extract.Record) {
	fmt.Println(strings.Join(extract.ColumnHeaders, "\t"))
	for _, rec := range records {
		row := rec.Row()
		parts := make([]string, 0, len(row))
		for _, v := range row {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
}

func printFormats(mgr *memory.Manager) {
	formats := mgr.All()
	if len(formats) == 0 {
		fmt.Println("no learned formats")
		return
	}
	for _, f := range formats {
		fmt.Printf("%s / %s: extractions=%d success=%d%%",
			f.Supplier, f.DocumentType, f.Accuracy.ExtractionCount, f.Accuracy.SuccessRate)
		if len(f.Accuracy.CommonErrors) > 0 {
			fmt.Printf(" errors=%s", strings.Join(f.Accuracy.CommonErrors, ","))
		}
		fmt.Println()
	}
}

func openMemory(ctx context.Context, cfg *common.Config, logger *slog.Logger) *memory.Manager {
	if dir := filepath.Dir(cfg.Memory.Path); dir != "." {
		must(os.MkdirAll(dir, 0o755))
	}
	var backend memory.Backend
	switch cfg.Memory.Backend {
	case "sqlite":
		b, err := memory.OpenSQLite(cfg.Memory.Path)
		must(err)
		backend = b
	default:
		backend = memory.NewFileBackend(cfg.Memory.Path)
	}
	mgr, err := memory.NewManager(ctx, backend, logger)
	must(err)
	return mgr
}

func usage() {
	fmt.Println("usage: docketscan <command>")
	fmt.Println("commands:")
	fmt.Println("  extract [--out=records.xlsx] [--workers=2] [--sheets] <image>...")
	fmt.Println("  formats")
	fmt.Println("  reset")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
