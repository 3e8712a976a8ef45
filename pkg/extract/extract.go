package extract

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/ai"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/logger"
)

// Entity is a validated entity extracted from one chunk.
type Entity struct {
	Label       string
	Type        common.EntityType
	Description string
}

// Relationship is a validated relationship between two entities of the same
// chunk. Source and Target are labels as returned in the entity pass,
// Relation is snake_case.
type Relationship struct {
	Source   string
	Target   string
	Relation string
	Weight   float64
}

// Rejection records why a model item, or a whole response, was dropped.
type Rejection struct {
	Item   string
	Reason string
}

// Result separates accepted items from rejected ones. Failures counts the
// rejections plus one for a response that could not be obtained or parsed.
type Result[T any] struct {
	Valid    []T
	Rejected []Rejection
	Failures int
}

func (r *Result[T]) reject(item, reason string) {
	r.Rejected = append(r.Rejected, Rejection{Item: item, Reason: reason})
	r.Failures++
}

type extractEntity struct {
	Label       string `json:"label" jsonschema_description:"Name of the entity as written in the text"`
	Type        string `json:"type" jsonschema:"enum=PERSON,enum=PLACE,enum=ORGANIZATION,enum=CONCEPT,enum=SKILL,enum=GAME,enum=EVENT" jsonschema_description:"One of the provided entity types"`
	Description string `json:"description" jsonschema_description:"Short description of the entity based only on the text"`
}

type entityResponse struct {
	Entities []extractEntity `json:"entities" jsonschema_description:"Entities identified in the text"`
}

type extractRelationship struct {
	Source   string  `json:"source" jsonschema_description:"Label of the source entity, taken from the known entity list"`
	Target   string  `json:"target" jsonschema_description:"Label of the target entity, taken from the known entity list"`
	Relation string  `json:"relation" jsonschema_description:"Short snake_case relation label such as knows or has_skill"`
	Weight   float64 `json:"weight" jsonschema_description:"Strength of the relationship between 0.1 and 1.0"`
}

type relationshipResponse struct {
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships between the known entities"`
}

// Extractor turns chunk text into entities and relationships using a
// generative model. Every model answer is treated as untrusted; nothing the
// model returns makes an Extract call fail.
type Extractor struct {
	client       ai.GraphAIClient
	maxRetries   int
	retryBackoff time.Duration
	opts         []ai.GenerateOption

	failures atomic.Int64
}

// NewExtractorParams configures an Extractor. MaxRetries bounds the model
// calls per extraction (default 1). Options are passed to every call.
type NewExtractorParams struct {
	Client       ai.GraphAIClient
	MaxRetries   int
	RetryBackoff time.Duration
	Options      []ai.GenerateOption
}

func NewExtractor(params NewExtractorParams) *Extractor {
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &Extractor{
		client:       params.Client,
		maxRetries:   maxRetries,
		retryBackoff: params.RetryBackoff,
		opts:         params.Options,
	}
}

// ParseFailures returns the number of failures recorded since creation.
func (e *Extractor) ParseFailures() int64 {
	return e.failures.Load()
}

func entityTypeList() string {
	types := make([]string, len(common.EntityTypes))
	for i, t := range common.EntityTypes {
		types[i] = string(t)
	}
	return strings.Join(types, ", ")
}

func (e *Extractor) generate(ctx context.Context, name, description, prompt string, out any) error {
	_, err := util.RetryWithBackoff(ctx, e.maxRetries, e.retryBackoff, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.client.GenerateCompletionWithFormat(ctx, name, description, prompt, out, e.opts...)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrExtractionParse, err)
	}
	return nil
}

// ExtractEntities asks the model for the entities mentioned in chunk.
// Entities with an empty label or a type outside the vocabulary are
// rejected. Repeated labels within the chunk are folded into the first.
func (e *Extractor) ExtractEntities(ctx context.Context, chunk common.Chunk) Result[Entity] {
	var res Result[Entity]

	prompt := fmt.Sprintf(ai.ExtractEntitiesPrompt, entityTypeList(), chunk.ID, chunk.Text)
	var resp entityResponse
	if err := e.generate(ctx, "entities", "Entities mentioned in the text", prompt, &resp); err != nil {
		logger.Warn("[Extract] Entity extraction failed", "chunk_id", chunk.ID, "err", err)
		res.reject("", err.Error())
		e.failures.Add(1)
		return res
	}

	seen := make(map[string]struct{}, len(resp.Entities))
	for _, raw := range resp.Entities {
		label := strings.Join(strings.Fields(raw.Label), " ")
		if label == "" {
			res.reject(raw.Label, "empty label")
			continue
		}
		t, ok := common.ParseEntityType(raw.Type)
		if !ok {
			res.reject(label, fmt.Sprintf("unknown entity type %q", raw.Type))
			continue
		}

		key := common.NormalizeLabel(label)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		res.Valid = append(res.Valid, Entity{
			Label:       label,
			Type:        t,
			Description: strings.TrimSpace(raw.Description),
		})
	}

	if res.Failures > 0 {
		logger.Debug("[Extract] Dropped entities", "chunk_id", chunk.ID, "dropped", res.Failures)
		e.failures.Add(int64(res.Failures))
	}
	return res
}

// ExtractRelationships asks the model how the known entities of chunk relate.
// Relationships whose endpoints are not known, that loop onto themselves,
// carry an empty relation or a weight outside [0.1, 1.0] are rejected. With
// fewer than two known entities no relationship is possible and no call is
// made.
func (e *Extractor) ExtractRelationships(ctx context.Context, chunk common.Chunk, known []Entity) Result[Relationship] {
	var res Result[Relationship]
	if len(known) < 2 {
		return res
	}

	labels := make(map[string]string, len(known))
	names := make([]string, 0, len(known))
	for _, k := range known {
		labels[common.NormalizeLabel(k.Label)] = k.Label
		names = append(names, k.Label)
	}

	prompt := fmt.Sprintf(ai.ExtractRelationshipsPrompt, strings.Join(names, ", "), chunk.ID, chunk.Text)
	var resp relationshipResponse
	if err := e.generate(ctx, "relationships", "Relationships between the known entities", prompt, &resp); err != nil {
		logger.Warn("[Extract] Relationship extraction failed", "chunk_id", chunk.ID, "err", err)
		res.reject("", err.Error())
		e.failures.Add(1)
		return res
	}

	type key struct{ src, tgt, rel string }
	index := make(map[key]int, len(resp.Relationships))
	for _, raw := range resp.Relationships {
		item := fmt.Sprintf("%s -%s-> %s", raw.Source, raw.Relation, raw.Target)

		src, ok := labels[common.NormalizeLabel(raw.Source)]
		if !ok {
			res.reject(item, "unknown source entity")
			continue
		}
		tgt, ok := labels[common.NormalizeLabel(raw.Target)]
		if !ok {
			res.reject(item, "unknown target entity")
			continue
		}
		if src == tgt {
			res.reject(item, "self relationship")
			continue
		}
		rel := common.NormalizeRelation(raw.Relation)
		if rel == "" {
			res.reject(item, "empty relation")
			continue
		}
		if math.IsNaN(raw.Weight) || raw.Weight < common.MinEdgeWeight || raw.Weight > common.MaxEdgeWeight {
			res.reject(item, fmt.Sprintf("weight %v out of range", raw.Weight))
			continue
		}

		k := key{src, tgt, rel}
		if i, dup := index[k]; dup {
			res.Valid[i].Weight = max(res.Valid[i].Weight, raw.Weight)
			continue
		}
		index[k] = len(res.Valid)
		res.Valid = append(res.Valid, Relationship{
			Source:   src,
			Target:   tgt,
			Relation: rel,
			Weight:   raw.Weight,
		})
	}

	if res.Failures > 0 {
		logger.Debug("[Extract] Dropped relationships", "chunk_id", chunk.ID, "dropped", res.Failures)
		e.failures.Add(int64(res.Failures))
	}
	return res
}
