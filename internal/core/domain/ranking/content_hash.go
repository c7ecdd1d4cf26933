package ranking

import (
	"crypto/sha256"
	"encoding/hex"
)

// EmbeddingCacheKey computes the content-addressed cache key for one
// (text, model) embedding input: SHA-256 of the text concatenated with the
// embedding model name (§4.6, §8 invariant 6).
func EmbeddingCacheKey(text, model string) string {
	h := sha256.New()
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}
