package extract

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/abie0416/BiegeAI/pkg/ai"
	"github.com/abie0416/BiegeAI/pkg/ai/aitest"
	"github.com/abie0416/BiegeAI/pkg/common"
)

var chunk = common.Chunk{ID: "d1#0000", DocID: "d1", Text: "Eric knows Sam, a basketball player"}

func TestExtractEntities(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		err          error
		wantLabels   []string
		wantFailures int
	}{
		{
			name:       "valid entities",
			body:       `{"entities":[{"label":"Eric","type":"PERSON","description":"friend"},{"label":"Sam","type":"person","description":"player"},{"label":"basketball","type":"GAME"}]}`,
			wantLabels: []string{"Eric", "Sam", "basketball"},
		},
		{
			name:         "unknown type dropped",
			body:         `{"entities":[{"label":"Eric","type":"PERSON"},{"label":"Monday","type":"DATE"}]}`,
			wantLabels:   []string{"Eric"},
			wantFailures: 1,
		},
		{
			name:         "empty label dropped",
			body:         `{"entities":[{"label":"   ","type":"PERSON"},{"label":"Sam","type":"PERSON"}]}`,
			wantLabels:   []string{"Sam"},
			wantFailures: 1,
		},
		{
			name:       "duplicates folded",
			body:       `{"entities":[{"label":"Sam","type":"PERSON"},{"label":" sam ","type":"PERSON"}]}`,
			wantLabels: []string{"Sam"},
		},
		{
			name:         "not json",
			body:         `I could not find anything useful here.`,
			wantFailures: 1,
		},
		{
			name:         "model error",
			err:          errors.New("503 service unavailable"),
			wantFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &aitest.Client{Responses: []aitest.Response{
				{Format: "entities", Contains: chunk.ID, Body: tt.body, Err: tt.err},
			}}
			ex := NewExtractor(NewExtractorParams{Client: client})

			res := ex.ExtractEntities(context.Background(), chunk)

			var labels []string
			for _, e := range res.Valid {
				labels = append(labels, e.Label)
			}
			if !reflect.DeepEqual(labels, tt.wantLabels) {
				t.Fatalf("labels = %v, want %v", labels, tt.wantLabels)
			}
			if res.Failures != tt.wantFailures {
				t.Fatalf("failures = %d, want %d (rejected %+v)", res.Failures, tt.wantFailures, res.Rejected)
			}
			if ex.ParseFailures() != int64(tt.wantFailures) {
				t.Fatalf("counter = %d, want %d", ex.ParseFailures(), tt.wantFailures)
			}
		})
	}
}

func TestExtractEntities_TypeNormalised(t *testing.T) {
	client := &aitest.Client{Responses: []aitest.Response{
		{Format: "entities", Contains: chunk.ID, Body: `{"entities":[{"label":"Sam","type":"person"}]}`},
	}}
	res := NewExtractor(NewExtractorParams{Client: client}).ExtractEntities(context.Background(), chunk)
	if len(res.Valid) != 1 || res.Valid[0].Type != common.EntityPerson {
		t.Fatalf("unexpected result %+v", res.Valid)
	}
}

func TestExtractEntities_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	client := &flakyClient{
		Client: &aitest.Client{Responses: []aitest.Response{
			{Format: "entities", Contains: chunk.ID, Body: `{"entities":[{"label":"Sam","type":"PERSON"}]}`},
		}},
		fail: func() bool { calls++; return calls == 1 },
	}
	ex := NewExtractor(NewExtractorParams{Client: client, MaxRetries: 3})

	res := ex.ExtractEntities(context.Background(), chunk)
	if len(res.Valid) != 1 || res.Failures != 0 {
		t.Fatalf("expected recovery on retry, got %+v", res)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestExtractEntities_TimeoutIsParseFailure(t *testing.T) {
	client := &aitest.Client{Delay: time.Second}
	ex := NewExtractor(NewExtractorParams{Client: client, MaxRetries: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := ex.ExtractEntities(ctx, chunk)
	if len(res.Valid) != 0 || res.Failures != 1 {
		t.Fatalf("expected a single failure, got %+v", res)
	}
}

func TestExtractRelationships(t *testing.T) {
	known := []Entity{
		{Label: "Eric", Type: common.EntityPerson},
		{Label: "Sam", Type: common.EntityPerson},
		{Label: "basketball", Type: common.EntityGame},
	}

	tests := []struct {
		name         string
		body         string
		want         []Relationship
		wantFailures int
	}{
		{
			name: "valid",
			body: `{"relationships":[{"source":"Eric","target":"Sam","relation":"knows","weight":0.8},{"source":"sam","target":"Basketball","relation":"Has Skill","weight":0.9}]}`,
			want: []Relationship{
				{Source: "Eric", Target: "Sam", Relation: "knows", Weight: 0.8},
				{Source: "Sam", Target: "basketball", Relation: "has_skill", Weight: 0.9},
			},
		},
		{
			name: "weight out of range",
			body: `{"relationships":[{"source":"Eric","target":"Sam","relation":"knows","weight":1.5},{"source":"Eric","target":"Sam","relation":"likes","weight":0.05}]}`,
			wantFailures: 2,
		},
		{
			name:         "unknown endpoint",
			body:         `{"relationships":[{"source":"Eric","target":"Bob","relation":"knows","weight":0.5}]}`,
			wantFailures: 1,
		},
		{
			name:         "self loop and empty relation",
			body:         `{"relationships":[{"source":"Sam","target":"sam","relation":"is","weight":0.5},{"source":"Eric","target":"Sam","relation":"  ","weight":0.5}]}`,
			wantFailures: 2,
		},
		{
			name: "duplicates keep max weight",
			body: `{"relationships":[{"source":"Eric","target":"Sam","relation":"knows","weight":0.4},{"source":"Eric","target":"Sam","relation":"knows","weight":0.7}]}`,
			want: []Relationship{{Source: "Eric", Target: "Sam", Relation: "knows", Weight: 0.7}},
		},
		{
			name:         "malformed",
			body:         `{"relationships":[{"source":"Eric","target":"Sam","relation":"knows","weight":"high"}]}`,
			wantFailures: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &aitest.Client{Responses: []aitest.Response{
				{Format: "relationships", Contains: chunk.ID, Body: tt.body},
			}}
			res := NewExtractor(NewExtractorParams{Client: client}).ExtractRelationships(context.Background(), chunk, known)
			if !reflect.DeepEqual(res.Valid, tt.want) {
				t.Fatalf("valid = %+v, want %+v", res.Valid, tt.want)
			}
			if res.Failures != tt.wantFailures {
				t.Fatalf("failures = %d, want %d (rejected %+v)", res.Failures, tt.wantFailures, res.Rejected)
			}
		})
	}
}

func TestExtractRelationships_SkipsWithoutPairs(t *testing.T) {
	client := &aitest.Client{}
	ex := NewExtractor(NewExtractorParams{Client: client})

	res := ex.ExtractRelationships(context.Background(), chunk, []Entity{{Label: "Sam", Type: common.EntityPerson}})
	if len(res.Valid) != 0 || res.Failures != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if client.Calls("relationships") != 0 {
		t.Fatalf("expected no model call, got %d", client.Calls("relationships"))
	}
}

type flakyClient struct {
	*aitest.Client
	fail func() bool
}

func (f *flakyClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	if f.fail() {
		return errors.New("transient")
	}
	return f.Client.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...)
}
