package chunker

import (
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/abie0416/BiegeAI/pkg/common"

	"github.com/pkoukk/tiktoken-go"
)

// ChunkID returns the id of the idx-th chunk of docID. Ids sort in chunk
// order for documents with fewer than 10000 chunks.
func ChunkID(docID string, idx int) string {
	return fmt.Sprintf("%s#%04d", docID, idx)
}

// Validate rejects chunk parameters that cannot make progress.
func Validate(size, overlap int) error {
	if size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", common.ErrInvalidConfig, size)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", common.ErrInvalidConfig, overlap)
	}
	if overlap >= size {
		return fmt.Errorf("%w: chunk overlap %d must be smaller than size %d", common.ErrInvalidConfig, overlap, size)
	}
	return nil
}

// Chunk splits doc into windows of size runes where consecutive windows share
// overlap runes. The returned sequence is lazy and can be ranged over any
// number of times. The last chunk may be shorter than size; an empty document
// yields nothing.
func Chunk(doc common.Document, size, overlap int) (iter.Seq[common.Chunk], error) {
	if err := Validate(size, overlap); err != nil {
		return nil, err
	}

	step := size - overlap
	return func(yield func(common.Chunk) bool) {
		runes := []rune(doc.Text)
		n := len(runes)
		if n == 0 {
			return
		}

		for idx, start := 0, 0; ; idx, start = idx+1, start+step {
			end := min(start+size, n)
			c := common.Chunk{
				ID:    ChunkID(doc.ID, idx),
				DocID: doc.ID,
				Start: start,
				End:   end,
				Text:  string(runes[start:end]),
				Index: idx,
			}
			if !yield(c) || end == n {
				return
			}
		}
	}, nil
}

// Count returns the number of chunks Chunk yields for a text of n runes.
func Count(n, size, overlap int) int {
	if n == 0 {
		return 0
	}
	if n <= size {
		return 1
	}
	step := size - overlap
	return (n - overlap + step - 1) / step
}

// Reassemble joins chunks of one document back into its text by dropping the
// overlapping prefix of every chunk after the first.
func Reassemble(chunks []common.Chunk) string {
	var b strings.Builder
	end := 0
	for i, c := range chunks {
		runes := []rune(c.Text)
		if i > 0 {
			skip := end - c.Start
			if skip < 0 || skip > len(runes) {
				skip = 0
			}
			runes = runes[skip:]
		}
		b.WriteString(string(runes))
		end = c.End
	}
	return b.String()
}

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

func encoding(name string) (*tiktoken.Tiktoken, error) {
	encMu.Lock()
	defer encMu.Unlock()

	if enc, ok := encCache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown token encoder %q: %v", common.ErrInvalidConfig, name, err)
	}
	encCache[name] = enc
	return enc, nil
}

// CountTokens returns the number of tokens of text under the named tiktoken
// encoding, e.g. "o200k_base".
func CountTokens(encoder, text string) (int, error) {
	enc, err := encoding(encoder)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
