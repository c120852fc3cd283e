package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"docketscan/internal/extract"
)

// Backend is the durable persistence surface. The manager's in-memory map is
// the source of truth for a process's lifetime; the backend mirrors it as a
// whole after every mutation and rehydrates it at startup. A missing artifact
// at startup is an empty store, not an error.
type Backend interface {
	Load(ctx context.Context) (map[string]*DocumentFormat, error)
	Save(ctx context.Context, formats map[string]*DocumentFormat) error
}

// Manager is the format memory store. Construct one per process and pass it
// by reference; per-key locks serialize concurrent learns on the same key and
// a persistence lock keeps whole-map writes from interleaving.
type Manager struct {
	mu       sync.RWMutex
	formats  map[string]*DocumentFormat
	keyLocks map[string]*sync.Mutex

	persistMu sync.Mutex
	backend   Backend

	logger *slog.Logger
	now    func() time.Time
}

// NewManager rehydrates the store from the backend.
func NewManager(ctx context.Context, backend Backend, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	formats, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load document memory: %w", err)
	}
	if formats == nil {
		formats = make(map[string]*DocumentFormat)
	}
	logger.Info("memory.loaded", "formats", len(formats))
	return &Manager{
		formats:  formats,
		keyLocks: make(map[string]*sync.Mutex),
		backend:  backend,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Get returns the learned format for a (supplier, documentType) pair, or nil
// when the key has never been seen. Lookups never fail.
func (m *Manager) Get(supplier, documentType string) *DocumentFormat {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.formats[Key(supplier, documentType)].Clone()
}

// All returns every learned format, ordered by key for stable output.
func (m *Manager) All() []*DocumentFormat {
	m.mu.RLock()
	keys := make([]string, 0, len(m.formats))
	for k := range m.formats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*DocumentFormat, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.formats[k].Clone())
	}
	m.mu.RUnlock()
	return out
}

// LearnFromExtraction records a successful extraction. First sight of a key
// seeds a new format from the structured result; subsequent sightings bump
// extractionCount, roll the example window, and union new pattern tags into
// the hint sets.
func (m *Manager) LearnFromExtraction(ctx context.Context, supplier, documentType string, doc *extract.Document) error {
	key := Key(supplier, documentType)
	lock := m.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	format, ok := m.formats[key]
	if !ok {
		format = newFormat(supplier, documentType, doc, m.now())
		m.formats[key] = format
		m.mu.Unlock()
		m.logger.Info("memory.format_created", "key", key)
		return m.persist(ctx)
	}

	format.Accuracy.ExtractionCount++
	format.Accuracy.LastUpdated = m.now()
	format.Examples.GoodExtractions = append(format.Examples.GoodExtractions, doc)
	if n := len(format.Examples.GoodExtractions); n > goodExtractionWindow {
		format.Examples.GoodExtractions = format.Examples.GoodExtractions[n-goodExtractionWindow:]
	}
	format.refine(doc)
	count := format.Accuracy.ExtractionCount
	m.mu.Unlock()

	m.logger.Info("memory.format_refined", "key", key, "extraction_count", count)
	return m.persist(ctx)
}

// LearnFromCorrection refines a known format from an (original, corrected)
// pair. Unknown keys are a no-op: corrections only refine formats that have
// been learned from an extraction first.
func (m *Manager) LearnFromCorrection(ctx context.Context, supplier, documentType string, original, corrected *extract.Document) error {
	key := Key(supplier, documentType)
	lock := m.lockKey(key)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	format, ok := m.formats[key]
	if !ok {
		m.mu.Unlock()
		m.logger.Warn("memory.correction_for_unknown_key", "key", key)
		return nil
	}

	format.Examples.Corrections = append(format.Examples.Corrections, Correction{
		Original:  original,
		Corrected: corrected,
		Timestamp: m.now(),
	})

	errKind := analyzeError(original, corrected)
	if errKind != "" && !containsString(format.Accuracy.CommonErrors, errKind) {
		format.Accuracy.CommonErrors = append(format.Accuracy.CommonErrors, errKind)
	}

	format.Accuracy.SuccessRate -= correctionPenalty
	if format.Accuracy.SuccessRate < 0 {
		format.Accuracy.SuccessRate = 0
	}
	format.Accuracy.LastUpdated = m.now()
	rate := format.Accuracy.SuccessRate
	m.mu.Unlock()

	m.logger.Info("memory.correction_learned", "key", key, "error_kind", errKind, "success_rate", rate)
	return m.persist(ctx)
}

// Clear empties the store. Administrative operation.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	m.formats = make(map[string]*DocumentFormat)
	m.mu.Unlock()
	m.logger.Info("memory.cleared")
	return m.persist(ctx)
}

// persist mirrors the whole map to the backend. The snapshot is taken under
// the map lock; the write itself is serialized by persistMu so concurrent
// writers never interleave partial writes.
func (m *Manager) persist(ctx context.Context) error {
	m.mu.RLock()
	snapshot := make(map[string]*DocumentFormat, len(m.formats))
	for k, v := range m.formats {
		snapshot[k] = v.Clone()
	}
	m.mu.RUnlock()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := m.backend.Save(ctx, snapshot); err != nil {
		m.logger.Error("memory.persist_failed", "error", err)
		return fmt.Errorf("persist document memory: %w", err)
	}
	return nil
}

func (m *Manager) lockKey(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.keyLocks[key] = lock
	}
	return lock
}

func containsString(set []string, s string) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}
