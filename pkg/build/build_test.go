package build

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/abie0416/BiegeAI/pkg/ai/aitest"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/embed"
	"github.com/abie0416/BiegeAI/pkg/extract"
	"github.com/abie0416/BiegeAI/pkg/graph"
	"github.com/abie0416/BiegeAI/pkg/search"
)

var docs = []common.Document{
	{ID: "d1", Text: "Eric knows Sam, a basketball player"},
	{ID: "d2", Text: "Sam has_skill basketball, weight 0.9"},
	{ID: "d3", Text: "Eric went home early"},
}

func scriptedClient() *aitest.Client {
	return &aitest.Client{Responses: []aitest.Response{
		{Format: "entities", Contains: "d1#0000", Body: `{"entities":[
			{"label":"Eric","type":"PERSON","description":"a friend of Sam"},
			{"label":"Sam","type":"PERSON","description":"a basketball player"},
			{"label":"basketball","type":"GAME","description":"a team sport"}]}`},
		{Format: "relationships", Contains: "d1#0000", Body: `{"relationships":[
			{"source":"Eric","target":"Sam","relation":"knows","weight":0.8}]}`},
		{Format: "entities", Contains: "d2#0000", Body: `{"entities":[
			{"label":"Sam","type":"PERSON"},
			{"label":"basketball","type":"GAME","description":"a team sport"}]}`},
		{Format: "relationships", Contains: "d2#0000", Body: `{"relationships":[
			{"source":"Sam","target":"basketball","relation":"has_skill","weight":0.9}]}`},
		{Format: "entities", Contains: "d3#0000", Body: `{"entities":[{"label":"Eric","type":"PERSON"}]}`},
	}}
}

func newBuilder(client *aitest.Client, slot *graph.Slot) *Builder {
	return NewBuilder(NewBuilderParams{
		Extractor:    extract.NewExtractor(extract.NewExtractorParams{Client: client}),
		Embedder:     embed.NewEmbedder(embed.NewEmbedderParams{Client: client, Dim: 512}),
		Slot:         slot,
		ChunkSize:    512,
		ChunkOverlap: 50,
		Workers:      2,
	})
}

func TestBuild_Scenario(t *testing.T) {
	var slot graph.Slot
	client := scriptedClient()

	report, err := newBuilder(client, &slot).Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !report.Success || report.Documents != 3 || report.ChunksProcessed != 3 || report.ParseFailures != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Nodes != 6 || report.Edges != 2 || report.EntitiesCreated != 3 || report.EdgesCreated != 2 {
		t.Fatalf("unexpected counts %+v", report)
	}
	if report.EmbeddingsGenerated != 6 {
		t.Fatalf("embeddings = %d, want 6", report.EmbeddingsGenerated)
	}

	g := slot.Load()
	if g == nil || g.ID() != report.GraphID {
		t.Fatalf("built graph was not published")
	}
	for _, label := range []string{"eric", "sam", "basketball"} {
		n, ok := g.Node(common.EntityNodeID(label))
		if !ok || n.Kind != common.NodeEntity || len(n.Embedding) != 512 {
			t.Fatalf("entity %s missing or not embedded: %+v", label, n)
		}
	}
	if e, ok := g.Edge("entity:eric", "entity:sam", "knows"); !ok || e.Weight != 0.8 {
		t.Fatalf("knows edge = %+v, %v", e, ok)
	}
	if e, ok := g.Edge("entity:sam", "entity:basketball", "has_skill"); !ok || e.Weight != 0.9 {
		t.Fatalf("has_skill edge = %+v, %v", e, ok)
	}
	sam, _ := g.Node("entity:sam")
	if !slices.Equal(sam.SourceChunkIDs, []string{"d1#0000", "d2#0000"}) {
		t.Fatalf("sam sources = %v", sam.SourceChunkIDs)
	}

	engine := search.NewEngine(search.NewEngineParams{
		Slot:     &slot,
		Embedder: embed.NewEmbedder(embed.NewEmbedderParams{Client: client, Dim: 512}),
	})
	resp, err := engine.HybridSearch(context.Background(), "Who plays basketball?", 3)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if resp.Degraded {
		t.Fatalf("unexpected degraded response: %s", resp.Reason)
	}
	rank := map[string]int{}
	for i, r := range resp.Results {
		rank[r.ChunkID] = i
	}
	samRank, ok := rank["d2#0000"]
	if !ok {
		t.Fatalf("chunk mentioning Sam missing from %+v", resp.Results)
	}
	if ericRank, ok := rank["d3#0000"]; ok && ericRank < samRank {
		t.Fatalf("chunk mentioning only Eric ranked above Sam: %+v", resp.Results)
	}
	if resp.Results[0].ChunkID != "d1#0000" {
		t.Fatalf("expected d1 first, got %+v", resp.Results)
	}
}

func TestBuild_UnreachableEmbedder(t *testing.T) {
	var slot graph.Slot
	if _, err := newBuilder(scriptedClient(), &slot).Build(context.Background(), docs); err != nil {
		t.Fatalf("first build: %v", err)
	}
	before := slot.Load()

	broken := scriptedClient()
	broken.EmbedErr = aitest.ErrUnreachable
	report, err := newBuilder(broken, &slot).Build(context.Background(), docs)

	if !errors.Is(err, common.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
	if report.Success || report.Error == "" {
		t.Fatalf("expected failed report, got %+v", report)
	}
	if slot.Load() != before {
		t.Fatalf("active graph replaced by a failed build")
	}

	engine := search.NewEngine(search.NewEngineParams{
		Slot:     &slot,
		Embedder: embed.NewEmbedder(embed.NewEmbedderParams{Client: scriptedClient(), Dim: 512}),
	})
	resp, err := engine.HybridSearch(context.Background(), "Who plays basketball?", 2)
	if err != nil || resp.Degraded || len(resp.Results) == 0 {
		t.Fatalf("previous graph not queryable: %+v (%v)", resp, err)
	}
}

func TestBuild_Deterministic(t *testing.T) {
	var stats []common.GraphStats
	for range 2 {
		var slot graph.Slot
		report, err := newBuilder(scriptedClient(), &slot).Build(context.Background(), docs)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		s := slot.Load().Stats()
		if s.TotalNodes != report.Nodes || s.TotalEdges != report.Edges {
			t.Fatalf("report %+v does not match stats %+v", report, s)
		}
		stats = append(stats, s)
	}
	if stats[0].TotalNodes != stats[1].TotalNodes || stats[0].TotalEdges != stats[1].TotalEdges {
		t.Fatalf("builds differ: %+v vs %+v", stats[0], stats[1])
	}
}

func TestBuild_InvalidConfig(t *testing.T) {
	var slot graph.Slot
	client := scriptedClient()
	b := NewBuilder(NewBuilderParams{
		Extractor:    extract.NewExtractor(extract.NewExtractorParams{Client: client}),
		Embedder:     embed.NewEmbedder(embed.NewEmbedderParams{Client: client}),
		Slot:         &slot,
		ChunkSize:    50,
		ChunkOverlap: 50,
	})

	report, err := b.Build(context.Background(), docs)
	if !errors.Is(err, common.ErrInvalidConfig) || report.Success {
		t.Fatalf("expected ErrInvalidConfig, got %v (%+v)", err, report)
	}
	if client.Calls("entities") != 0 || client.EmbedCalls() != 0 {
		t.Fatalf("model called despite invalid config")
	}
	if slot.Load() != nil {
		t.Fatalf("graph published despite invalid config")
	}
}

func TestBuild_ParseFailuresDoNotAbort(t *testing.T) {
	client := scriptedClient()
	client.Responses = append([]aitest.Response{
		{Format: "entities", Contains: "d3#0000", Body: "sorry, no entities today"},
	}, client.Responses...)

	var slot graph.Slot
	report, err := newBuilder(client, &slot).Build(context.Background(), docs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !report.Success || report.ParseFailures != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if _, ok := slot.Load().Node(common.DocumentNodeID("d3#0000")); !ok {
		t.Fatalf("chunk with failed extraction still needs its document node")
	}
}

func TestBuild_SkipsBlankChunks(t *testing.T) {
	var slot graph.Slot
	client := scriptedClient()
	input := append(slices.Clone(docs), common.Document{ID: "blank", Text: "   \n  "}, common.Document{ID: "empty"})

	report, err := newBuilder(client, &slot).Build(context.Background(), input)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.ChunksSkipped != 1 || report.ChunksProcessed != 3 || report.Documents != 4 {
		t.Fatalf("unexpected report %+v", report)
	}
	if client.Calls("entities") != 3 {
		t.Fatalf("blank chunk sent to the model")
	}
}

func TestBuild_NoContent(t *testing.T) {
	var slot graph.Slot
	_, err := newBuilder(scriptedClient(), &slot).Build(context.Background(), []common.Document{{ID: "x", Text: " "}})
	if !errors.Is(err, ErrNoContent) {
		t.Fatalf("expected ErrNoContent, got %v", err)
	}
	if slot.Load() != nil {
		t.Fatalf("empty graph published")
	}
}

func TestBuild_SingleFlight(t *testing.T) {
	var slot graph.Slot
	client := scriptedClient()
	client.Delay = 200 * time.Millisecond
	b := newBuilder(client, &slot)

	done := make(chan error, 1)
	go func() {
		_, err := b.Build(context.Background(), docs)
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !b.Running() {
		if time.Now().After(deadline) {
			t.Fatalf("first build never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := b.Build(context.Background(), docs); !errors.Is(err, common.ErrBuildInProgress) {
		t.Fatalf("expected ErrBuildInProgress, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first build: %v", err)
	}
}

func TestBuild_ChunkTimeoutCountsAsParseFailure(t *testing.T) {
	var slot graph.Slot
	client := scriptedClient()
	client.Delay = time.Second
	b := NewBuilder(NewBuilderParams{
		Extractor:    extract.NewExtractor(extract.NewExtractorParams{Client: client}),
		Embedder:     embed.NewEmbedder(embed.NewEmbedderParams{Client: client, Dim: 512}),
		Slot:         &slot,
		ChunkSize:    512,
		ChunkOverlap: 50,
		ChunkTimeout: 20 * time.Millisecond,
	})

	report, err := b.Build(context.Background(), docs[:1])
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if report.ParseFailures != 1 || report.Nodes != 1 || !report.Success {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestBuild_DuplicateSourceIDs(t *testing.T) {
	var slot graph.Slot
	client := &aitest.Client{Responses: []aitest.Response{
		{Format: "entities", Contains: "sheet#0000", Body: `{"entities":[
			{"label":"Eric","type":"PERSON"},
			{"label":"Sam","type":"PERSON"}]}`},
		{Format: "entities", Contains: "sheet~1#0000", Body: `{"entities":[
			{"label":"Sam","type":"PERSON"},
			{"label":"basketball","type":"GAME"}]}`},
	}}
	rows := []common.Document{
		{ID: "sheet", Text: "Eric knows Sam, a basketball player"},
		{ID: "sheet", Text: "Sam plays basketball on Fridays"},
	}

	report, err := newBuilder(client, &slot).Build(context.Background(), rows)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !report.Success || report.Documents != 2 || report.ChunksProcessed != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	g := slot.Load()
	var chunkIDs []string
	for _, n := range g.AllNodes() {
		if n.Kind != common.NodeDocument {
			continue
		}
		if n.Label != "sheet" {
			t.Fatalf("document node %s has source %q, want sheet", n.ID, n.Label)
		}
		chunkIDs = append(chunkIDs, n.SourceChunkIDs...)
	}
	slices.Sort(chunkIDs)
	if !slices.Equal(chunkIDs, []string{"sheet#0000", "sheet~1#0000"}) {
		t.Fatalf("chunk ids = %v", chunkIDs)
	}

	sam, ok := g.Node(common.EntityNodeID("Sam"))
	if !ok || len(sam.SourceChunkIDs) != 2 {
		t.Fatalf("Sam should be merged across both rows, got %+v", sam)
	}
}

func TestChunkKey(t *testing.T) {
	used := map[string]bool{}
	got := []string{
		chunkKey(used, "a"),
		chunkKey(used, "a"),
		chunkKey(used, "a~1"),
		chunkKey(used, "a"),
		chunkKey(used, "b"),
	}
	want := []string{"a", "a~1", "a~1~1", "a~2", "b"}
	if !slices.Equal(got, want) {
		t.Fatalf("chunkKey = %v, want %v", got, want)
	}
}
