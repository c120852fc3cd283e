package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"docketscan/internal/async"
)

// Inbox watches a directory and enqueues every new document photo exactly
// once. Files are deduplicated by content hash, so a re-saved or copied
// duplicate is skipped even under a different name.
type Inbox struct {
	dir      string
	queue    async.Queue
	logger   *slog.Logger
	debounce time.Duration

	mu   sync.Mutex
	seen map[string]struct{} // sha256 hex of enqueued content
}

func NewInbox(dir string, queue async.Queue, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:      dir,
		queue:    queue,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		seen:     make(map[string]struct{}),
	}
}

// Run blocks until ctx is cancelled. Existing files are picked up on start.
func (i *Inbox) Run(ctx context.Context) error {
	events, errs, err := StartWatcher(ctx, WatchConfig{
		Roots:       []string{i.dir},
		InitialScan: true,
		Debounce:    i.debounce,
	}, i.logger)
	if err != nil {
		return err
	}
	i.logger.Info("inbox watching", "dir", i.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if ok && err != nil {
				i.logger.Error("inbox watch error", "error", err)
			}
		case path, ok := <-events:
			if !ok {
				return nil
			}
			i.handle(ctx, path)
		}
	}
}

func (i *Inbox) handle(ctx context.Context, path string) {
	image, err := os.ReadFile(path)
	if err != nil {
		i.logger.Warn("inbox read failed", "path", path, "error", err)
		return
	}
	if len(image) == 0 {
		// writes often land as create-then-write; the debounced second
		// event carries the content
		return
	}

	sum := sha256.Sum256(image)
	digest := hex.EncodeToString(sum[:])
	i.mu.Lock()
	if _, dup := i.seen[digest]; dup {
		i.mu.Unlock()
		i.logger.Info("inbox duplicate skipped", "path", path)
		return
	}
	i.seen[digest] = struct{}{}
	i.mu.Unlock()

	job := async.Job{
		Source:  filepath.Base(path),
		Image:   image,
		TraceID: uuid.New().String(),
	}
	if err := i.queue.Enqueue(ctx, job); err != nil {
		i.logger.Error("inbox enqueue failed", "path", path, "error", err)
		return
	}
	i.logger.Info("inbox enqueued", "path", path, "trace_id", job.TraceID)
}
