package search

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSeedNodes        TraceEventKind = "seed_nodes"
	TraceEventExpandedNodes    TraceEventKind = "expanded_nodes"
	TraceEventConsideredChunks TraceEventKind = "considered_chunks"
	TraceEventUsedChunks       TraceEventKind = "used_chunks"
	TraceEventDegraded         TraceEventKind = "degraded"
)

// TraceEvent is one observation made while answering a query.
type TraceEvent struct {
	Kind     TraceEventKind
	NodeIDs  []string
	ChunkIDs []string
	Reason   string
}

// Tracer is a sink for search trace events.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fans trace events out to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t != nil {
			t.Record(event)
		}
	}
}

func record(t Tracer, event TraceEvent) {
	if t == nil {
		return
	}
	t.Record(event)
}

// QueryTrace collects what a hybrid search looked at and returned.
// QueryTrace is safe for concurrent use.
type QueryTrace struct {
	mu sync.Mutex

	seeds      map[string]struct{}
	expanded   map[string]struct{}
	considered map[string]struct{}
	used       map[string]struct{}
	reasons    []string
}

// QueryTraceSnapshot is a sorted, immutable view of a QueryTrace.
type QueryTraceSnapshot struct {
	SeedNodes        []string `json:"seed_nodes"`
	ExpandedNodes    []string `json:"expanded_nodes"`
	ConsideredChunks []string `json:"considered_chunks"`
	UsedChunks       []string `json:"used_chunks"`
	DegradedReasons  []string `json:"degraded_reasons,omitempty"`
}

func NewQueryTrace() *QueryTrace {
	return &QueryTrace{
		seeds:      make(map[string]struct{}),
		expanded:   make(map[string]struct{}),
		considered: make(map[string]struct{}),
		used:       make(map[string]struct{}),
	}
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *QueryTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventSeedNodes:
		addAll(t.seeds, event.NodeIDs)
	case TraceEventExpandedNodes:
		addAll(t.expanded, event.NodeIDs)
	case TraceEventConsideredChunks:
		addAll(t.considered, event.ChunkIDs)
	case TraceEventUsedChunks:
		addAll(t.used, event.ChunkIDs)
	case TraceEventDegraded:
		if event.Reason != "" {
			t.reasons = append(t.reasons, event.Reason)
		}
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

func (t *QueryTrace) Snapshot() QueryTraceSnapshot {
	if t == nil {
		return QueryTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return QueryTraceSnapshot{
		SeedNodes:        sortedKeys(t.seeds),
		ExpandedNodes:    sortedKeys(t.expanded),
		ConsideredChunks: sortedKeys(t.considered),
		UsedChunks:       sortedKeys(t.used),
		DegradedReasons:  slices.Clone(t.reasons),
	}
}
