package graph

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/abie0416/BiegeAI/pkg/common"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrSealed        = errors.New("graph is sealed")
	ErrDuplicateNode = errors.New("node already exists")
	ErrUnknownNode   = errors.New("unknown node")
	ErrInvalidNode   = errors.New("invalid node")
	ErrInvalidEdge   = errors.New("invalid edge")
)

type edgeKey struct {
	source, target, relation string
}

// Neighbor is a node adjacent to another one together with the edge that
// connects them. Outgoing is false when the edge points at the queried node.
type Neighbor struct {
	NodeID   string
	Edge     common.Edge
	Outgoing bool
}

// Store is an in-memory typed graph for one build generation. It is filled
// by a single writer and then sealed; a sealed store is read-only and safe
// for concurrent readers.
type Store struct {
	id      string
	builtAt time.Time
	sealed  bool

	nodes     map[string]*common.Node
	nodeOrder []string

	edges     map[edgeKey]*common.Edge
	edgeOrder []edgeKey
	out       map[string][]edgeKey
	in        map[string][]edgeKey
}

// NewStore returns an empty, writable store with a fresh generation id.
func NewStore() *Store {
	id, _ := gonanoid.New()
	return newStore(id)
}

func newStore(id string) *Store {
	return &Store{
		id:    id,
		nodes: make(map[string]*common.Node),
		edges: make(map[edgeKey]*common.Edge),
		out:   make(map[string][]edgeKey),
		in:    make(map[string][]edgeKey),
	}
}

func (s *Store) ID() string         { return s.id }
func (s *Store) BuiltAt() time.Time { return s.builtAt }
func (s *Store) Sealed() bool       { return s.sealed }
func (s *Store) NodeCount() int     { return len(s.nodes) }
func (s *Store) EdgeCount() int     { return len(s.edges) }

// Seal freezes the store. Every later mutation returns ErrSealed.
func (s *Store) Seal() {
	if s.sealed {
		return
	}
	if s.builtAt.IsZero() {
		s.builtAt = time.Now().UTC()
	}
	s.sealed = true
}

// AddNode inserts node as is. Ids must be unique within the store.
func (s *Store) AddNode(node common.Node) error {
	if s.sealed {
		return ErrSealed
	}
	if node.ID == "" {
		return fmt.Errorf("%w: empty node id", ErrInvalidNode)
	}
	if _, ok := s.nodes[node.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, node.ID)
	}
	n := node
	n.SourceChunkIDs = slices.Clone(node.SourceChunkIDs)
	s.nodes[n.ID] = &n
	s.nodeOrder = append(s.nodeOrder, n.ID)
	return nil
}

// AddDocument registers chunk as a document node and returns its id.
func (s *Store) AddDocument(chunk common.Chunk, embedding []float32) (string, error) {
	id := common.DocumentNodeID(chunk.ID)
	err := s.AddNode(common.Node{
		ID:             id,
		Kind:           common.NodeDocument,
		Label:          chunk.DocID,
		Text:           chunk.Text,
		SourceChunkIDs: []string{chunk.ID},
		Embedding:      embedding,
	})
	return id, err
}

// AddEntityOrMerge adds an entity node keyed by the normalised label or
// merges into the existing one. A merge unions the source chunk ids and
// appends a description that was not seen before. The first observed type
// wins. created reports whether a new node was inserted.
func (s *Store) AddEntityOrMerge(label string, typ common.EntityType, description, chunkID string) (id string, created bool, err error) {
	if s.sealed {
		return "", false, ErrSealed
	}
	key := common.NormalizeLabel(label)
	if key == "" {
		return "", false, fmt.Errorf("%w: empty entity label", ErrInvalidNode)
	}
	id = common.EntityNodeID(label)
	description = strings.TrimSpace(description)

	if n, ok := s.nodes[id]; ok {
		if n.Kind != common.NodeEntity {
			return "", false, fmt.Errorf("%w: %s is not an entity", ErrDuplicateNode, id)
		}
		if chunkID != "" && !slices.Contains(n.SourceChunkIDs, chunkID) {
			n.SourceChunkIDs = append(n.SourceChunkIDs, chunkID)
		}
		if description != "" && !containsDescription(n.Description, description) {
			if n.Description == "" {
				n.Description = description
			} else {
				n.Description += "; " + description
			}
		}
		return id, false, nil
	}

	node := common.Node{
		ID:          id,
		Kind:        common.NodeEntity,
		Label:       strings.Join(strings.Fields(label), " "),
		Type:        typ,
		Description: description,
	}
	if chunkID != "" {
		node.SourceChunkIDs = []string{chunkID}
	}
	if err := s.AddNode(node); err != nil {
		return "", false, err
	}
	return id, true, nil
}

func containsDescription(all, d string) bool {
	for part := range strings.SplitSeq(all, "; ") {
		if strings.EqualFold(part, d) {
			return true
		}
	}
	return false
}

// AddEdgeOrUpdate adds the directed edge source -relation-> target. Both
// endpoints must exist. Seeing the same triple again keeps the larger
// weight; the evidence chunk follows the larger weight.
func (s *Store) AddEdgeOrUpdate(source, target, relation string, weight float64, chunkID string) (created bool, err error) {
	if s.sealed {
		return false, ErrSealed
	}
	if _, ok := s.nodes[source]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNode, source)
	}
	if _, ok := s.nodes[target]; !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNode, target)
	}
	relation = common.NormalizeRelation(relation)
	if relation == "" {
		return false, fmt.Errorf("%w: empty relation", ErrInvalidEdge)
	}
	if math.IsNaN(weight) || weight < common.MinEdgeWeight || weight > common.MaxEdgeWeight {
		return false, fmt.Errorf("%w: weight %v outside [%v, %v]", ErrInvalidEdge, weight, common.MinEdgeWeight, common.MaxEdgeWeight)
	}

	k := edgeKey{source, target, relation}
	if e, ok := s.edges[k]; ok {
		if weight > e.Weight {
			e.Weight = weight
			e.ChunkID = chunkID
		}
		return false, nil
	}

	s.edges[k] = &common.Edge{
		Source:   source,
		Target:   target,
		Relation: relation,
		Weight:   weight,
		ChunkID:  chunkID,
	}
	s.edgeOrder = append(s.edgeOrder, k)
	s.out[source] = append(s.out[source], k)
	s.in[target] = append(s.in[target], k)
	return true, nil
}

// SetEmbedding attaches vec to the node with the given id.
func (s *Store) SetEmbedding(id string, vec []float32) error {
	if s.sealed {
		return ErrSealed
	}
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	n.Embedding = vec
	return nil
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (common.Node, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return common.Node{}, false
	}
	return *n, true
}

// AllNodes returns every node in insertion order. Embedding slices are
// shared with the store and must not be modified.
func (s *Store) AllNodes() []common.Node {
	out := make([]common.Node, 0, len(s.nodeOrder))
	for _, id := range s.nodeOrder {
		out = append(out, *s.nodes[id])
	}
	return out
}

// NodeEmbedding returns the embedding of id, if the node exists and has one.
func (s *Store) NodeEmbedding(id string) ([]float32, bool) {
	n, ok := s.nodes[id]
	if !ok || len(n.Embedding) == 0 {
		return nil, false
	}
	return n.Embedding, true
}

// Neighbors returns the nodes one hop away from id in either direction,
// outgoing edges first, each group in insertion order.
func (s *Store) Neighbors(id string) []Neighbor {
	var out []Neighbor
	for _, k := range s.out[id] {
		out = append(out, Neighbor{NodeID: k.target, Edge: *s.edges[k], Outgoing: true})
	}
	for _, k := range s.in[id] {
		out = append(out, Neighbor{NodeID: k.source, Edge: *s.edges[k]})
	}
	return out
}

// Edges returns every edge in insertion order.
func (s *Store) Edges() []common.Edge {
	out := make([]common.Edge, 0, len(s.edgeOrder))
	for _, k := range s.edgeOrder {
		out = append(out, *s.edges[k])
	}
	return out
}

// Edge looks up one edge by its triple.
func (s *Store) Edge(source, target, relation string) (common.Edge, bool) {
	e, ok := s.edges[edgeKey{source, target, common.NormalizeRelation(relation)}]
	if !ok {
		return common.Edge{}, false
	}
	return *e, true
}

// Stats summarises the store: totals, an entity type histogram and a
// relation histogram.
func (s *Store) Stats() common.GraphStats {
	stats := common.GraphStats{
		GraphID:    s.id,
		BuiltAt:    s.builtAt,
		TotalNodes: len(s.nodes),
		TotalEdges: len(s.edges),
		NodeTypes:  make(map[string]int),
		Relations:  make(map[string]int),
	}
	for _, n := range s.nodes {
		switch n.Kind {
		case common.NodeDocument:
			stats.Documents++
		case common.NodeEntity:
			stats.Entities++
			stats.NodeTypes[string(n.Type)]++
		}
	}
	for _, e := range s.edges {
		stats.Relations[e.Relation]++
	}
	return stats
}

// Exploration is a bounded sample of the graph.
type Exploration struct {
	Nodes      []common.Node `json:"nodes"`
	Edges      []common.Edge `json:"edges"`
	TotalNodes int           `json:"total_nodes"`
	TotalEdges int           `json:"total_edges"`
}

// Explore returns up to limit entity nodes and up to limit edges, both in
// insertion order. Embeddings are left out of the sample.
func (s *Store) Explore(limit int) Exploration {
	if limit <= 0 {
		limit = 10
	}
	ex := Exploration{TotalNodes: len(s.nodes), TotalEdges: len(s.edges)}
	for _, id := range s.nodeOrder {
		if len(ex.Nodes) == limit {
			break
		}
		n := *s.nodes[id]
		if n.Kind != common.NodeEntity {
			continue
		}
		n.Embedding = nil
		ex.Nodes = append(ex.Nodes, n)
	}
	for _, k := range s.edgeOrder {
		if len(ex.Edges) == limit {
			break
		}
		ex.Edges = append(ex.Edges, *s.edges[k])
	}
	return ex
}

// EntityRelationships returns the edges incident to the entity with the
// given label. ok is false when no such entity exists.
func (s *Store) EntityRelationships(label string) (edges []common.Edge, ok bool) {
	id := common.EntityNodeID(label)
	n, exists := s.nodes[id]
	if !exists || n.Kind != common.NodeEntity {
		return nil, false
	}
	for _, nb := range s.Neighbors(id) {
		edges = append(edges, nb.Edge)
	}
	return edges, true
}
