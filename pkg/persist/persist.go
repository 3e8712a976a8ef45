// Package persist stores serialized graph snapshots in a blob store so a
// restarted process can serve queries without rebuilding.
package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/graph"
	"github.com/abie0416/BiegeAI/pkg/logger"
)

// DefaultKey names the snapshot when no key is configured.
const DefaultKey = "graph.json.gz"

// ErrNotFound is returned by BlobStore.Load when no blob exists for a key.
var ErrNotFound = errors.New("snapshot not found")

// BlobStore saves and loads opaque blobs by key.
type BlobStore interface {
	Save(ctx context.Context, key string, blob []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
}

// SaveGraph serializes g and writes it under key.
func SaveGraph(ctx context.Context, store BlobStore, key string, g *graph.Store) error {
	blob, err := graph.Serialize(g)
	if err != nil {
		return err
	}
	if err := store.Save(ctx, key, blob); err != nil {
		return fmt.Errorf("%w: save %s: %v", common.ErrPersistence, key, err)
	}
	logger.Info("[Persist] Graph saved", "key", key, "graph_id", g.ID(), "bytes", len(blob))
	return nil
}

// LoadGraph reads the blob under key and restores the graph. A missing blob
// is reported as ErrNotFound wrapped in common.ErrPersistence.
func LoadGraph(ctx context.Context, store BlobStore, key string) (*graph.Store, error) {
	blob, err := store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", common.ErrPersistence, err)
		}
		return nil, fmt.Errorf("%w: load %s: %v", common.ErrPersistence, key, err)
	}
	g, err := graph.Deserialize(blob)
	if err != nil {
		return nil, err
	}
	logger.Info("[Persist] Graph restored", "key", key, "graph_id", g.ID(), "nodes", g.NodeCount(), "edges", g.EdgeCount())
	return g, nil
}

// MemoryStore keeps blobs in memory. It is used when no durable store is
// configured and in tests.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: map[string][]byte{}}
}

func (m *MemoryStore) Save(ctx context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return blob, nil
}
