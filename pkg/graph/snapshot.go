package graph

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/abie0416/BiegeAI/pkg/common"
)

const snapshotVersion = 1

type snapshot struct {
	Version int           `json:"version"`
	ID      string        `json:"id"`
	BuiltAt time.Time     `json:"built_at"`
	Nodes   []common.Node `json:"nodes"`
	Edges   []common.Edge `json:"edges"`
}

// Serialize encodes a sealed store as gzipped JSON.
func Serialize(g *Store) ([]byte, error) {
	if g == nil || !g.Sealed() {
		return nil, fmt.Errorf("%w: only sealed graphs can be serialized", common.ErrPersistence)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	err := json.NewEncoder(zw).Encode(snapshot{
		Version: snapshotVersion,
		ID:      g.id,
		BuiltAt: g.builtAt,
		Nodes:   g.AllNodes(),
		Edges:   g.Edges(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encode graph: %v", common.ErrPersistence, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: compress graph: %v", common.ErrPersistence, err)
	}
	return buf.Bytes(), nil
}

// Deserialize rebuilds a sealed store from Serialize output. The restored
// graph keeps its generation id and build time and can be published as is.
func Deserialize(blob []byte) (*Store, error) {
	zr, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: open graph snapshot: %v", common.ErrPersistence, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: read graph snapshot: %v", common.ErrPersistence, err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode graph snapshot: %v", common.ErrPersistence, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported snapshot version %d", common.ErrPersistence, snap.Version)
	}

	g := newStore(snap.ID)
	g.builtAt = snap.BuiltAt
	for _, n := range snap.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrPersistence, err)
		}
	}
	for _, e := range snap.Edges {
		if _, err := g.AddEdgeOrUpdate(e.Source, e.Target, e.Relation, e.Weight, e.ChunkID); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrPersistence, err)
		}
	}
	g.Seal()
	return g, nil
}
