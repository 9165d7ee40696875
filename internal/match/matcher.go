// Package match finds the best distinct neighbor for a crop in the
// vector index.
package match

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/endwaste/db-of-objects/internal/embedding"
	"github.com/endwaste/db-of-objects/internal/storage"
	"github.com/endwaste/db-of-objects/internal/vectorindex"
)

// MetadataPathKey is the metadata field holding a stored object's crop
// URI, used to recognize self-matches.
const MetadataPathKey = "s3_file_path"

// excludeTopK is how deep we search when the top hit might be the crop
// itself.
const excludeTopK = 5

// Match is the best distinct neighbor found for a crop.
type Match struct {
	URI      string
	Score    float64
	Metadata map[string]any
}

// Matcher embeds crops and queries the vector index.
type Matcher struct {
	embedder embedding.Embedder
	index    vectorindex.Index
	store    storage.Storage
	logger   zerolog.Logger
}

// NewMatcher creates a similarity matcher.
func NewMatcher(embedder embedding.Embedder, index vectorindex.Index, store storage.Storage, logger zerolog.Logger) *Matcher {
	return &Matcher{embedder: embedder, index: index, store: store, logger: logger}
}

// FindBestMatch embeds the crop at cropURI and returns its nearest
// neighbor whose stored path differs from excludeURI. When excludeURI is
// empty the top hit is returned as-is. A nil result means the index holds
// no distinct neighbor; that is a normal outcome, not an error.
func (m *Matcher) FindBestMatch(ctx context.Context, cropURI, excludeURI string) (*Match, error) {
	data, err := m.store.Get(ctx, cropURI)
	if err != nil {
		return nil, fmt.Errorf("fetch crop %s: %w", cropURI, err)
	}

	vector, err := m.embedder.Embed(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("embed crop %s: %w", cropURI, err)
	}

	topK := 1
	if excludeURI != "" {
		topK = excludeTopK
	}

	matches, err := m.index.Query(ctx, vector, topK, true)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}

	for _, candidate := range matches {
		uri, _ := candidate.Metadata[MetadataPathKey].(string)
		if excludeURI != "" && uri == excludeURI {
			continue
		}
		return &Match{URI: uri, Score: candidate.Score, Metadata: candidate.Metadata}, nil
	}

	m.logger.Debug().Str("crop_uri", cropURI).Int("candidates", len(matches)).Msg("No distinct neighbor found")
	return nil, nil
}

// EmbedImage exposes the embedding step for callers that index new
// objects directly.
func (m *Matcher) EmbedImage(ctx context.Context, imageData []byte) ([]float32, error) {
	return m.embedder.Embed(ctx, imageData)
}
