package graph

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/abie0416/BiegeAI/pkg/common"
)

func TestAddEntityOrMerge(t *testing.T) {
	g := NewStore()

	id1, created, err := g.AddEntityOrMerge("Sam", common.EntityPerson, "a basketball player", "d1#0000")
	if err != nil || !created {
		t.Fatalf("first add: created=%v err=%v", created, err)
	}
	id2, created, err := g.AddEntityOrMerge("  SAM ", common.EntityConcept, "plays basketball", "d2#0000")
	if err != nil || created {
		t.Fatalf("second add: created=%v err=%v", created, err)
	}
	if _, _, err := g.AddEntityOrMerge("sam", common.EntityPerson, "a basketball player", "d1#0000"); err != nil {
		t.Fatalf("third add: %v", err)
	}

	if id1 != id2 || id1 != "entity:sam" {
		t.Fatalf("ids differ: %q %q", id1, id2)
	}
	if g.NodeCount() != 1 {
		t.Fatalf("expected a single node, got %d", g.NodeCount())
	}

	n, _ := g.Node(id1)
	if !reflect.DeepEqual(n.SourceChunkIDs, []string{"d1#0000", "d2#0000"}) {
		t.Fatalf("source chunks = %v", n.SourceChunkIDs)
	}
	if n.Type != common.EntityPerson {
		t.Fatalf("type = %s, want first observed type", n.Type)
	}
	if n.Description != "a basketball player; plays basketball" {
		t.Fatalf("description = %q", n.Description)
	}
	if n.Label != "Sam" {
		t.Fatalf("label = %q", n.Label)
	}
}

func TestAddEntityOrMerge_EmptyLabel(t *testing.T) {
	g := NewStore()
	if _, _, err := g.AddEntityOrMerge("   ", common.EntityPerson, "", "c"); !errors.Is(err, ErrInvalidNode) {
		t.Fatalf("expected ErrInvalidNode, got %v", err)
	}
}

func TestAddEdgeOrUpdate(t *testing.T) {
	g := NewStore()
	eric, _, _ := g.AddEntityOrMerge("Eric", common.EntityPerson, "", "c1")
	sam, _, _ := g.AddEntityOrMerge("Sam", common.EntityPerson, "", "c1")

	tests := []struct {
		name    string
		src     string
		tgt     string
		rel     string
		weight  float64
		chunk   string
		created bool
		err     error
		want    float64
	}{
		{name: "new edge", src: eric, tgt: sam, rel: "knows", weight: 0.5, chunk: "c1", created: true, want: 0.5},
		{name: "higher weight", src: eric, tgt: sam, rel: "Knows", weight: 0.8, chunk: "c2", want: 0.8},
		{name: "lower weight ignored", src: eric, tgt: sam, rel: "knows", weight: 0.2, chunk: "c3", want: 0.8},
		{name: "unknown endpoint", src: eric, tgt: "entity:bob", rel: "knows", weight: 0.5, err: ErrUnknownNode, want: 0.8},
		{name: "weight too high", src: eric, tgt: sam, rel: "knows", weight: 1.2, err: ErrInvalidEdge, want: 0.8},
		{name: "weight too low", src: eric, tgt: sam, rel: "knows", weight: 0.01, err: ErrInvalidEdge, want: 0.8},
		{name: "empty relation", src: eric, tgt: sam, rel: "  ", weight: 0.5, err: ErrInvalidEdge, want: 0.8},
	}

	for _, tt := range tests {
		created, err := g.AddEdgeOrUpdate(tt.src, tt.tgt, tt.rel, tt.weight, tt.chunk)
		if tt.err != nil {
			if !errors.Is(err, tt.err) {
				t.Fatalf("%s: expected %v, got %v", tt.name, tt.err, err)
			}
		} else if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		if created != tt.created {
			t.Fatalf("%s: created = %v, want %v", tt.name, created, tt.created)
		}
		e, ok := g.Edge(eric, sam, "knows")
		if !ok || e.Weight != tt.want {
			t.Fatalf("%s: weight = %v, want %v", tt.name, e.Weight, tt.want)
		}
	}

	if g.EdgeCount() != 1 {
		t.Fatalf("expected one edge, got %d", g.EdgeCount())
	}
	if e, _ := g.Edge(eric, sam, "knows"); e.ChunkID != "c2" {
		t.Fatalf("evidence chunk = %q, want c2", e.ChunkID)
	}
}

func TestNeighbors(t *testing.T) {
	g := NewStore()
	eric, _, _ := g.AddEntityOrMerge("Eric", common.EntityPerson, "", "c1")
	sam, _, _ := g.AddEntityOrMerge("Sam", common.EntityPerson, "", "c1")
	ball, _, _ := g.AddEntityOrMerge("basketball", common.EntityGame, "", "c2")
	mustEdge(t, g, eric, sam, "knows", 0.7)
	mustEdge(t, g, sam, ball, "has_skill", 0.9)

	var got []string
	for _, nb := range g.Neighbors(sam) {
		got = append(got, nb.NodeID)
	}
	if !reflect.DeepEqual(got, []string{ball, eric}) {
		t.Fatalf("neighbors = %v", got)
	}
	if len(g.Neighbors("entity:nobody")) != 0 {
		t.Fatalf("expected no neighbors for unknown node")
	}
}

func TestSeal(t *testing.T) {
	g := NewStore()
	g.AddEntityOrMerge("Eric", common.EntityPerson, "", "c1")
	g.Seal()

	if g.BuiltAt().IsZero() {
		t.Fatalf("expected build time after seal")
	}
	if _, _, err := g.AddEntityOrMerge("Sam", common.EntityPerson, "", "c1"); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
	if err := g.SetEmbedding("entity:eric", []float32{1}); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed, got %v", err)
	}
}

func TestStatsAndExplore(t *testing.T) {
	g := NewStore()
	g.AddDocument(common.Chunk{ID: "d1#0000", DocID: "d1", Text: "Eric knows Sam"}, []float32{1, 0})
	eric, _, _ := g.AddEntityOrMerge("Eric", common.EntityPerson, "", "d1#0000")
	sam, _, _ := g.AddEntityOrMerge("Sam", common.EntityPerson, "", "d1#0000")
	ball, _, _ := g.AddEntityOrMerge("basketball", common.EntityGame, "", "d1#0000")
	mustEdge(t, g, eric, sam, "knows", 0.7)
	mustEdge(t, g, sam, ball, "has_skill", 0.9)
	g.Seal()

	stats := g.Stats()
	if stats.TotalNodes != 4 || stats.TotalEdges != 2 || stats.Documents != 1 || stats.Entities != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if !reflect.DeepEqual(stats.NodeTypes, map[string]int{"PERSON": 2, "GAME": 1}) {
		t.Fatalf("node types = %v", stats.NodeTypes)
	}
	if !reflect.DeepEqual(stats.Relations, map[string]int{"knows": 1, "has_skill": 1}) {
		t.Fatalf("relations = %v", stats.Relations)
	}

	ex := g.Explore(2)
	if len(ex.Nodes) != 2 || len(ex.Edges) != 2 || ex.TotalNodes != 4 {
		t.Fatalf("unexpected exploration %+v", ex)
	}
	for _, n := range ex.Nodes {
		if n.Kind != common.NodeEntity {
			t.Fatalf("exploration includes %s node", n.Kind)
		}
	}

	rels, ok := g.EntityRelationships("SAM")
	if !ok || len(rels) != 2 {
		t.Fatalf("relationships of sam = %+v, %v", rels, ok)
	}
	if _, ok := g.EntityRelationships("Bob"); ok {
		t.Fatalf("expected unknown entity")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := NewStore()
	g.AddDocument(common.Chunk{ID: "d1#0000", DocID: "d1", Text: "Eric knows Sam"}, []float32{0.5, 0.5})
	eric, _, _ := g.AddEntityOrMerge("Eric", common.EntityPerson, "friend", "d1#0000")
	sam, _, _ := g.AddEntityOrMerge("Sam", common.EntityPerson, "player", "d1#0000")
	g.SetEmbedding(eric, []float32{1, 0})
	g.SetEmbedding(sam, []float32{0, 1})
	mustEdge(t, g, eric, sam, "knows", 0.7)

	if _, err := Serialize(g); !errors.Is(err, common.ErrPersistence) {
		t.Fatalf("expected unsealed graph to be rejected, got %v", err)
	}
	g.Seal()

	blob, err := Serialize(g)
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	restored, err := Deserialize(blob)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if !restored.Sealed() || restored.ID() != g.ID() || !restored.BuiltAt().Equal(g.BuiltAt()) {
		t.Fatalf("restored metadata differs")
	}
	if !reflect.DeepEqual(restored.AllNodes(), g.AllNodes()) {
		t.Fatalf("nodes differ after restore")
	}
	if !reflect.DeepEqual(restored.Edges(), g.Edges()) {
		t.Fatalf("edges differ after restore")
	}
}

func TestDeserialize_Corrupt(t *testing.T) {
	for _, blob := range [][]byte{nil, []byte("not gzip")} {
		if _, err := Deserialize(blob); !errors.Is(err, common.ErrPersistence) {
			t.Fatalf("expected ErrPersistence, got %v", err)
		}
	}
}

func TestSlot(t *testing.T) {
	var slot Slot
	if slot.Load() != nil {
		t.Fatalf("expected empty slot")
	}

	unsealed := NewStore()
	if _, err := slot.Publish(unsealed); err == nil {
		t.Fatalf("expected unsealed graph to be rejected")
	}

	first := NewStore()
	first.Seal()
	if prev, err := slot.Publish(first); err != nil || prev != nil {
		t.Fatalf("publish first: prev=%v err=%v", prev, err)
	}

	second := NewStore()
	second.Seal()

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			g := slot.Load()
			if g != first && g != second {
				t.Errorf("reader saw an unpublished graph")
			}
		})
	}
	prev, err := slot.Publish(second)
	wg.Wait()

	if err != nil || prev != first {
		t.Fatalf("publish second: prev=%v err=%v", prev, err)
	}
	if slot.Load() != second {
		t.Fatalf("slot does not hold the second graph")
	}
}

func mustEdge(t *testing.T, g *Store, src, tgt, rel string, w float64) {
	t.Helper()
	if _, err := g.AddEdgeOrUpdate(src, tgt, rel, w, "c"); err != nil {
		t.Fatalf("add edge %s-%s->%s: %v", src, rel, tgt, err)
	}
}
