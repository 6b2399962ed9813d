package vectordb

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/compozy/codebook/pkg/logger"
)

// Manager caches shared vector store instances keyed by configuration ID.
type Manager struct {
	mu     sync.Mutex
	stores map[string]*sharedStoreEntry
	create func(ctx context.Context, cfg *Config) (Store, error)
}

type sharedStoreEntry struct {
	store     Store
	refs      int
	signature string
}

var defaultManager = NewManager()

func NewManager() *Manager {
	return &Manager{stores: make(map[string]*sharedStoreEntry), create: New}
}

// AcquireShared returns a shared store from the process-wide manager along with its release function.
func AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	return defaultManager.AcquireShared(ctx, cfg)
}

// AcquireShared opens the store on first use and hands out references
// afterwards. The store is closed when the last reference is released.
func (m *Manager) AcquireShared(ctx context.Context, cfg *Config) (Store, func(context.Context) error, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("vector_db: config is required")
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" {
		return nil, nil, errMissingID
	}
	signature := signatureKey(cfg)
	if store, release, ok, err := m.tryReuse(id, signature); err != nil || ok {
		return store, release, err
	}
	store, err := m.create(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return m.register(ctx, id, signature, store)
}

func (m *Manager) tryReuse(id string, signature string) (Store, func(context.Context) error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.stores[id]
	if !ok {
		return nil, nil, false, nil
	}
	if entry.signature != signature {
		return nil, nil, false, fmt.Errorf("vector_db %q: configuration mismatch for shared store", id)
	}
	entry.refs++
	return entry.store, m.releaseFunc(id, signature), true, nil
}

// register caches a freshly opened store; a concurrent caller may have won the race.
func (m *Manager) register(
	ctx context.Context,
	id string,
	signature string,
	store Store,
) (Store, func(context.Context) error, error) {
	m.mu.Lock()
	entry, ok := m.stores[id]
	if ok {
		if entry.signature != signature {
			m.mu.Unlock()
			closeRedundantStore(ctx, id, store)
			return nil, nil, fmt.Errorf("vector_db %q: configuration mismatch for shared store", id)
		}
		entry.refs++
		existing := entry.store
		m.mu.Unlock()
		closeRedundantStore(ctx, id, store)
		return existing, m.releaseFunc(id, signature), nil
	}
	m.stores[id] = &sharedStoreEntry{store: store, refs: 1, signature: signature}
	m.mu.Unlock()
	return store, m.releaseFunc(id, signature), nil
}

func closeRedundantStore(ctx context.Context, id string, store Store) {
	if err := store.Close(ctx); err != nil {
		logger.FromContext(ctx).Warn("failed to close redundant vector store", "vector_id", id, "error", err)
	}
}

func (m *Manager) releaseFunc(id string, signature string) func(context.Context) error {
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			m.mu.Lock()
			entry, ok := m.stores[id]
			if !ok || entry.signature != signature {
				m.mu.Unlock()
				return
			}
			entry.refs--
			if entry.refs > 0 {
				m.mu.Unlock()
				return
			}
			delete(m.stores, id)
			m.mu.Unlock()
			err = entry.store.Close(ctx)
		})
		return err
	}
}

func signatureKey(cfg *Config) string {
	const sigSep = "\x1f"
	return strings.Join([]string{
		string(cfg.Provider),
		strings.TrimSpace(cfg.URL),
		strings.TrimSpace(cfg.APIKey),
		strings.TrimSpace(cfg.DSN),
		strings.TrimSpace(cfg.Path),
		normalizeMetric(cfg.Metric),
		strconv.Itoa(cfg.Dimension),
		cfg.Timeout.String(),
	}, sigSep)
}
