package common

import (
	"strings"
	"time"
)

// Document is a single source text handed to the builder. Text is immutable
// once loaded.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Chunk is a contiguous slice of a document. Start and End are rune offsets
// into the parent document text, End exclusive.
type Chunk struct {
	ID     string `json:"id"`
	DocID  string `json:"doc_id"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
	Index  int    `json:"index"`
	Tokens int    `json:"tokens,omitempty"`
}

// EntityType is the closed vocabulary of entity kinds the extractor accepts.
type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityPlace        EntityType = "PLACE"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityConcept      EntityType = "CONCEPT"
	EntitySkill        EntityType = "SKILL"
	EntityGame         EntityType = "GAME"
	EntityEvent        EntityType = "EVENT"
)

// EntityTypes lists every accepted EntityType in prompt order.
var EntityTypes = []EntityType{
	EntityPerson,
	EntityPlace,
	EntityOrganization,
	EntityConcept,
	EntitySkill,
	EntityGame,
	EntityEvent,
}

// ParseEntityType maps a model supplied label onto the vocabulary. Matching
// ignores case and surrounding whitespace.
func ParseEntityType(s string) (EntityType, bool) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for _, t := range EntityTypes {
		if string(t) == upper {
			return t, true
		}
	}
	return "", false
}

// NodeKind distinguishes entity nodes from document (chunk) nodes.
type NodeKind string

const (
	NodeEntity   NodeKind = "entity"
	NodeDocument NodeKind = "document"
)

// Node is a vertex in the knowledge graph. Entity nodes carry Type and the
// chunk ids they were extracted from. Document nodes carry the chunk text.
//
// Embedding is nil until the builder has embedded the node.
type Node struct {
	ID             string     `json:"id"`
	Kind           NodeKind   `json:"kind"`
	Label          string     `json:"label"`
	Type           EntityType `json:"type,omitempty"`
	Description    string     `json:"description,omitempty"`
	Text           string     `json:"text,omitempty"`
	SourceChunkIDs []string   `json:"source_chunk_ids,omitempty"`
	Embedding      []float32  `json:"embedding,omitempty"`
}

// Edge is a directed, typed, weighted relationship between two nodes.
// Weight is always within [MinEdgeWeight, MaxEdgeWeight].
type Edge struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight"`
	ChunkID  string  `json:"chunk_id,omitempty"`
}

const (
	MinEdgeWeight = 0.1
	MaxEdgeWeight = 1.0
)

// SearchResult is one hybrid search hit. GraphScore and VectorScore are the
// normalised component scores; a side that did not return the chunk is zero.
type SearchResult struct {
	ChunkID     string   `json:"chunk_id"`
	SourceID    string   `json:"source_id"`
	Text        string   `json:"text"`
	NodeIDs     []string `json:"node_ids"`
	GraphScore  float64  `json:"graph_score"`
	VectorScore float64  `json:"vector_score"`
	Score       float64  `json:"score"`
}

// SearchResponse wraps the ranked hits of a hybrid query. Degraded is set
// when the graph side could not contribute.
type SearchResponse struct {
	Query    string         `json:"query"`
	Results  []SearchResult `json:"results"`
	Degraded bool           `json:"degraded"`
	Reason   string         `json:"reason,omitempty"`
}

// BuildReport summarises one graph build.
type BuildReport struct {
	GraphID             string        `json:"graph_id,omitempty"`
	Success             bool          `json:"success"`
	Error               string        `json:"error,omitempty"`
	Nodes               int           `json:"nodes"`
	Edges               int           `json:"edges"`
	Documents           int           `json:"documents_processed"`
	ChunksProcessed     int           `json:"chunks_processed"`
	ChunksSkipped       int           `json:"chunks_skipped"`
	EntitiesCreated     int           `json:"entities_created"`
	EdgesCreated        int           `json:"edges_created"`
	ParseFailures       int           `json:"parse_failures"`
	EmbeddingsGenerated int           `json:"embeddings_generated"`
	Duration            time.Duration `json:"duration"`
}

// GraphStats describes the currently published graph.
type GraphStats struct {
	GraphID    string         `json:"graph_id"`
	BuiltAt    time.Time      `json:"built_at"`
	TotalNodes int            `json:"total_nodes"`
	TotalEdges int            `json:"total_edges"`
	Documents  int            `json:"documents"`
	Entities   int            `json:"entities"`
	NodeTypes  map[string]int `json:"node_types"`
	Relations  map[string]int `json:"relations"`
}
