package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/abie0416/BiegeAI/pkg/loader"

	"codeberg.org/readeck/go-readability/v2"
)

// WebLoader fetches URLs and extracts readable text. For HTML pages the main
// article content is extracted with readability; other content types are
// returned as is.
type WebLoader struct {
	client *http.Client
	cache  loader.Cache
}

// NewWebLoader creates a web loader. A nil client means http.DefaultClient.
func NewWebLoader(client *http.Client) *WebLoader {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebLoader{client: client}
}

// GetFileText fetches file.Path and returns its readable text. Results are
// cached.
func (l *WebLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, file.Path, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := l.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch url: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("failed to fetch url: status %d", resp.StatusCode)
		}

		if strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
			u, err := url.Parse(file.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to parse url: %w", err)
			}
			article, err := readability.FromReader(resp.Body, u)
			if err != nil {
				return nil, fmt.Errorf("failed to parse html: %w", err)
			}
			var builder strings.Builder
			if err := article.RenderText(&builder); err != nil {
				return nil, fmt.Errorf("failed to render article text: %w", err)
			}
			return []byte(builder.String()), nil
		}

		return io.ReadAll(resp.Body)
	})
}
