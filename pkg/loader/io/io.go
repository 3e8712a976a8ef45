package io

import (
	"context"
	"os"

	"github.com/abie0416/BiegeAI/pkg/loader"
)

// IOFileLoader loads files directly from the local filesystem with caching.
type IOFileLoader struct {
	cache loader.Cache
}

// NewIOFileLoader creates a new filesystem-based file loader.
func NewIOFileLoader() *IOFileLoader {
	return &IOFileLoader{}
}

// GetFileText reads the file content from the filesystem. Results are cached.
func (l *IOFileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Get(loader.CacheKey(file), func() ([]byte, error) {
		return os.ReadFile(file.Path)
	})
}

// Invalidate drops the cached content of file so edits on disk are picked
// up by the next rebuild.
func (l *IOFileLoader) Invalidate(file loader.SourceFile) {
	l.cache.Forget(loader.CacheKey(file))
}
