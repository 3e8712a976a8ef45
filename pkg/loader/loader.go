package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/abie0416/BiegeAI/internal/util"
	"github.com/abie0416/BiegeAI/pkg/common"
	"github.com/abie0416/BiegeAI/pkg/logger"

	"golang.org/x/sync/singleflight"
)

// SourceFile names a file that documents are read from. The actual content
// is retrieved via the associated FileLoader.
type SourceFile struct {
	ID     string
	Path   string
	Loader FileLoader
}

// GetText retrieves the raw content of the file using its Loader.
func (f *SourceFile) GetText(ctx context.Context) ([]byte, error) {
	if f.Loader == nil {
		return nil, fmt.Errorf("no loader configured for %s", f.Path)
	}
	return f.Loader.GetFileText(ctx, *f)
}

// FileLoader loads the contents of a SourceFile. Implementations may load
// files from disk, object storage or the web.
type FileLoader interface {
	GetFileText(ctx context.Context, file SourceFile) ([]byte, error)
}

// RowReader returns the first column of every row of a tabular file.
type RowReader interface {
	ReadRows(ctx context.Context, file SourceFile) ([]string, error)
}

// DocumentSource produces the document set a graph is built from.
type DocumentSource interface {
	LoadDocuments(ctx context.Context) ([]common.Document, error)
}

// CacheKey generates a unique cache key for a SourceFile based on its ID and path.
func CacheKey(file SourceFile) string {
	return file.ID + ":" + file.Path
}

// Cache memoises loaded bytes per key and collapses concurrent loads of the
// same key into one.
type Cache struct {
	mu    sync.RWMutex
	items map[string][]byte
	group singleflight.Group
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.items[key]
	return b, ok
}

// Get returns the cached bytes for key or calls load once to fill them.
// Failed loads are not cached.
func (c *Cache) Get(key string, load func() ([]byte, error)) ([]byte, error) {
	if b, ok := c.lookup(key); ok {
		return b, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if b, ok := c.lookup(key); ok {
			return b, nil
		}
		b, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.items == nil {
			c.items = make(map[string][]byte)
		}
		c.items[key] = b
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// Forget drops key from the cache so the next Get reloads it.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	c.group.Forget(key)
}

var headerNames = map[string]struct{}{
	"content":  {},
	"text":     {},
	"document": {},
}

// RowsToDocuments turns spreadsheet rows into documents. The first row is
// treated as a header and skipped when it reads content, text or document.
// Blank rows are dropped; ids carry the 1-based row number.
func RowsToDocuments(sourceID string, rows []string) []common.Document {
	start := 0
	if len(rows) > 0 {
		if _, ok := headerNames[strings.ToLower(strings.TrimSpace(rows[0]))]; ok {
			start = 1
		}
	}

	var docs []common.Document
	for i := start; i < len(rows); i++ {
		text := strings.TrimSpace(util.SanitizeText(rows[i]))
		if text == "" {
			continue
		}
		docs = append(docs, common.Document{
			ID:   fmt.Sprintf("%s:row-%d", sourceID, i+1),
			Text: text,
		})
	}
	return docs
}

// SplitParagraphs turns text into one document per non-empty paragraph.
// Paragraphs are separated by one or more blank lines.
func SplitParagraphs(sourceID, text string) []common.Document {
	text = util.SanitizeText(text)

	var docs []common.Document
	var current []string
	flush := func() {
		if len(current) == 0 {
			return
		}
		docs = append(docs, common.Document{
			ID:   fmt.Sprintf("%s:para-%d", sourceID, len(docs)+1),
			Text: strings.Join(current, "\n"),
		})
		current = current[:0]
	}
	for line := range strings.SplitSeq(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return docs
}

// TextSource reads one file as plain text. With Paragraphs set every
// paragraph becomes its own document, otherwise the whole file is one.
type TextSource struct {
	File       SourceFile
	Paragraphs bool
}

func (s *TextSource) LoadDocuments(ctx context.Context) ([]common.Document, error) {
	content, err := s.File.GetText(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.File.Path, err)
	}
	if s.Paragraphs {
		return SplitParagraphs(s.File.ID, string(content)), nil
	}
	text := strings.TrimSpace(util.SanitizeText(string(content)))
	if text == "" {
		return nil, nil
	}
	return []common.Document{{ID: s.File.ID, Text: text}}, nil
}

// RowSource reads one document per row of a tabular file.
type RowSource struct {
	File SourceFile
	Rows RowReader
}

func (s *RowSource) LoadDocuments(ctx context.Context) ([]common.Document, error) {
	rows, err := s.Rows.ReadRows(ctx, s.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", s.File.Path, err)
	}
	return RowsToDocuments(s.File.ID, rows), nil
}

// FallbackSource tries Primary first and uses Fallback when Primary fails
// or yields no documents.
type FallbackSource struct {
	Primary  DocumentSource
	Fallback DocumentSource
}

func (s *FallbackSource) LoadDocuments(ctx context.Context) ([]common.Document, error) {
	docs, err := s.Primary.LoadDocuments(ctx)
	if err == nil && len(docs) > 0 {
		return docs, nil
	}
	if s.Fallback == nil {
		return docs, err
	}
	logger.Warn("[Loader] Primary document source unavailable, using fallback", "err", err, "documents", len(docs))
	return s.Fallback.LoadDocuments(ctx)
}
