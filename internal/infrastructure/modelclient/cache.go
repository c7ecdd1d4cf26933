package modelclient

import (
	"context"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"brokle/internal/core/domain/ranking"
)

// fetchFunc is the underlying provider call an EmbeddingCache falls back
// to on a miss.
type fetchFunc func(ctx context.Context, texts []string, model string) ([]ranking.Vector, error)

// EmbeddingCache is the two-tier content-addressed embedding cache from
// §4.6/§5: an in-process LRU in front of a durable repository, with
// singleflight collapsing concurrent misses for the same input set so a
// cache miss never issues more than one provider call.
type EmbeddingCache struct {
	lru   *lru.Cache[string, ranking.Vector]
	repo  ranking.EmbeddingCacheRepository
	group singleflight.Group
}

// NewEmbeddingCache constructs a cache with an in-process LRU of the given
// size fronting repo. repo may be nil for an LRU-only cache (tests).
func NewEmbeddingCache(size int, repo ranking.EmbeddingCacheRepository) (*EmbeddingCache, error) {
	l, err := lru.New[string, ranking.Vector](size)
	if err != nil {
		return nil, err
	}
	return &EmbeddingCache{lru: l, repo: repo}, nil
}

// EmbedCached resolves texts against the cache, issuing at most one fetch
// call for the set of distinct misses.
func (c *EmbeddingCache) EmbedCached(ctx context.Context, texts []string, model string, fetch fetchFunc) ([]ranking.Vector, error) {
	result := make([]ranking.Vector, len(texts))
	keys := make([]string, len(texts))
	firstIndexOfKey := make(map[string]int, len(texts))
	var missTexts []string
	var missKeys []string

	for i, text := range texts {
		key := ranking.EmbeddingCacheKey(text, model)
		keys[i] = key

		if v, ok := c.lru.Get(key); ok {
			result[i] = v
			continue
		}
		if c.repo != nil {
			if v, ok, err := c.repo.Get(ctx, key); err == nil && ok {
				c.lru.Add(key, v)
				result[i] = v
				continue
			}
		}
		if _, seen := firstIndexOfKey[key]; !seen {
			firstIndexOfKey[key] = len(missTexts)
			missTexts = append(missTexts, text)
			missKeys = append(missKeys, key)
		}
	}

	if len(missTexts) == 0 {
		return result, nil
	}

	sfKey := strings.Join(missKeys, "\x00") + "\x00" + model
	v, err, _ := c.group.Do(sfKey, func() (interface{}, error) {
		vectors, err := fetch(ctx, missTexts, model)
		if err != nil {
			return nil, err
		}
		for idx, vec := range vectors {
			c.lru.Add(missKeys[idx], vec)
			if c.repo != nil {
				_ = c.repo.Put(ctx, missKeys[idx], vec)
			}
		}
		return vectors, nil
	})
	if err != nil {
		return nil, err
	}
	vectors := v.([]ranking.Vector)

	for i, key := range keys {
		if result[i] != nil {
			continue
		}
		result[i] = vectors[firstIndexOfKey[key]]
	}
	return result, nil
}
