package async

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docketscan/internal/memory"
	"docketscan/internal/pipeline"
)

type oracleFunc func(ctx context.Context, prompt string, image []byte) (string, error)

func (f oracleFunc) Call(ctx context.Context, prompt string, image []byte) (string, error) {
	return f(ctx, prompt, image)
}

type nullBackend struct{}

func (nullBackend) Load(context.Context) (map[string]*memory.DocumentFormat, error) { return nil, nil }
func (nullBackend) Save(context.Context, map[string]*memory.DocumentFormat) error { return nil }

func TestQueueDrainsAllJobs(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mgr, err := memory.NewManager(context.Background(), nullBackend{}, logger)
	require.NoError(t, err)

	ora := oracleFunc(func(context.Context, string, []byte) (string, error) {
		return `{"documentDetails": {"supplier": "Acme"}, "items": [{"product": "Widget", "quantity": "1"}]}`, nil
	})
	ex := pipeline.NewExtractor(ora, mgr, logger)

	var mu sync.Mutex
	var results []JobResult
	var wg sync.WaitGroup

	q := NewExtractorQueue(ex, func(r JobResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		wg.Done()
	}, logger, WithWorkers(2), WithQueueSize(8))

	const n = 6
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{Source: "img", Image: []byte("x")}))
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, results, n)
	for _, r := range results {
		require.NoError(t, r.Err)
		assert.Len(t, r.Result.Records, 1)
	}
}

func TestQueueRejectsAfterShutdown(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	mgr, err := memory.NewManager(context.Background(), nullBackend{}, logger)
	require.NoError(t, err)
	ex := pipeline.NewExtractor(oracleFunc(func(context.Context, string, []byte) (string, error) {
		return "{}", nil
	}), mgr, logger)

	q := NewExtractorQueue(ex, nil, logger, WithWorkers(1))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	q.Shutdown(ctx)
	q.Shutdown(ctx) // idempotent

	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{Source: "late"}), ErrQueueClosed)
}
