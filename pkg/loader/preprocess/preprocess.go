// Package preprocess cleans exported group chat history before it is
// indexed. Chats are cut into conversation segments, meaningless lines are
// dropped and, when a model is configured, every segment is rewritten into a
// short summary.
package preprocess

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abie0416/BiegeAI/pkg/ai"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// MinSegmentLength is the shortest segment, in characters, that is kept.
const MinSegmentLength = 20

// Separator joins the surviving segments of a document.
const Separator = "\n\n---\n\n"

var (
	meaninglessPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(ok|yes|no|maybe|sure|fine|good|bad)\s*$`),
		regexp.MustCompile(`(?i)^\s*(haha|lol|lmao|rofl)\s*$`),
		regexp.MustCompile(`^\s*[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}]+\s*$`),
		regexp.MustCompile(`(?i)^\s*filter_out\s*$`),
	}
	timestampPattern = regexp.MustCompile(`\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM)?\s*\d{1,2}/\d{1,2}/\d{2,4}`)
	replyPattern     = regexp.MustCompile(`(?i)replying to|replied to|responding to|@\w+`)
	extraNewlines    = regexp.MustCompile(`\n{3,}`)
)

// Completer is the part of ai.GraphAIClient the preprocessor needs.
type Completer interface {
	GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error)
}

// Preprocessor cleans documents. Without a client only the rule based
// filtering is applied.
type Preprocessor struct {
	client          Completer
	segmentWorkers  int
	documentWorkers int
}

// NewPreprocessorParams configures a Preprocessor. Zero worker counts fall
// back to 4 concurrent segments and up to 8 concurrent documents.
type NewPreprocessorParams struct {
	Client          Completer
	SegmentWorkers  int
	DocumentWorkers int
}

func NewPreprocessor(params NewPreprocessorParams) *Preprocessor {
	p := &Preprocessor{
		client:          params.Client,
		segmentWorkers:  params.SegmentWorkers,
		documentWorkers: params.DocumentWorkers,
	}
	if p.segmentWorkers <= 0 {
		p.segmentWorkers = 4
	}
	if p.documentWorkers <= 0 {
		p.documentWorkers = 8
	}
	return p
}

// IsMeaningful reports whether a cleaned segment is worth keeping.
func IsMeaningful(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" || content == ai.FilterOutMarker {
		return false
	}
	if utf8.RuneCountInString(content) < MinSegmentLength {
		return false
	}
	for _, p := range meaninglessPatterns {
		if p.MatchString(content) {
			return false
		}
	}
	return true
}

// DropMeaninglessLines removes lines that carry no content such as bare
// acknowledgements and laughter.
func DropMeaninglessLines(content string) string {
	var kept []string
	for line := range strings.SplitSeq(content, "\n") {
		meaningless := false
		for _, p := range meaninglessPatterns {
			if p.MatchString(line) {
				meaningless = true
				break
			}
		}
		if !meaningless {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// Segments cuts chat text into conversations. Timestamps start a new
// segment; without timestamps reply markers do; otherwise blank lines
// separate segments. Text without any of these is one segment.
func Segments(content string) []string {
	var segments []string
	if timestampPattern.MatchString(content) {
		segments = splitAtMatches(content, timestampPattern)
	} else if replyPattern.MatchString(content) {
		segments = splitAtMatches(content, replyPattern)
	} else {
		segments = splitAtBlankLines(content)
	}

	if len(segments) == 0 && strings.TrimSpace(content) != "" {
		segments = []string{strings.TrimSpace(content)}
	}
	return segments
}

func splitAtMatches(content string, re *regexp.Regexp) []string {
	var segments []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}

	prev := 0
	for _, loc := range re.FindAllStringIndex(content, -1) {
		if loc[0] > prev {
			add(content[prev:loc[0]])
		}
		prev = loc[0]
	}
	add(content[prev:])
	return segments
}

func splitAtBlankLines(content string) []string {
	var segments []string
	var current []string
	for line := range strings.SplitSeq(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			if len(current) > 0 {
				segments = append(segments, strings.Join(current, "\n"))
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		segments = append(segments, strings.Join(current, "\n"))
	}
	return segments
}

// Combine joins cleaned segments and collapses runs of blank lines.
func Combine(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	combined := strings.Join(segments, Separator)
	combined = extraNewlines.ReplaceAllString(combined, "\n\n")
	return strings.TrimSpace(combined)
}

func (p *Preprocessor) cleanSegment(ctx context.Context, segment string) string {
	content := segment
	if p.client != nil {
		out, err := p.client.GenerateCompletion(ctx, fmt.Sprintf(ai.CleanSegmentPrompt, segment), ai.WithTemperature(0))
		if err != nil {
			logger.Warn("[Preprocess] Segment cleaning failed, keeping original", "err", err)
		} else {
			content = out
		}
	}
	content = DropMeaninglessLines(content)
	if !IsMeaningful(content) {
		return ""
	}
	return content
}

// Document cleans one chat export. When no segment survives the original
// content is returned unchanged.
func (p *Preprocessor) Document(ctx context.Context, content string) (string, error) {
	segments := Segments(content)
	if len(segments) == 0 {
		return content, nil
	}

	cleaned := make([]string, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.segmentWorkers)
	for i, s := range segments {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cleaned[i] = p.cleanSegment(gctx, s)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	var kept []string
	for _, c := range cleaned {
		if c != "" {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		logger.Debug("[Preprocess] No segment survived, keeping original content", "segments", len(segments))
		return content, nil
	}
	return Combine(kept), nil
}

// Documents cleans every document, keeping ids and order. Blank documents
// are dropped.
func (p *Preprocessor) Documents(ctx context.Context, docs []common.Document) ([]common.Document, error) {
	out := make([]common.Document, len(docs))
	keep := make([]bool, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(p.documentWorkers, max(2, len(docs)/2)))
	for i, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		g.Go(func() error {
			text, err := p.Document(gctx, doc.Text)
			if err != nil {
				return err
			}
			out[i] = common.Document{ID: doc.ID, Text: text}
			keep[i] = strings.TrimSpace(text) != ""
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to preprocess documents: %w", err)
	}

	var result []common.Document
	originalLen, processedLen := 0, 0
	for i, d := range out {
		if !keep[i] {
			continue
		}
		originalLen += len(docs[i].Text)
		processedLen += len(d.Text)
		result = append(result, d)
	}
	logger.Info("[Preprocess] Documents cleaned", "documents", len(docs), "kept", len(result), "original_bytes", originalLen, "processed_bytes", processedLen)
	return result, nil
}
