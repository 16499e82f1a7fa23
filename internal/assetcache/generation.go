package assetcache

import (
	"bytes"
	"fmt"

	"github.com/roach88/ratingsync/internal/rating"
)

// GenerationPrefix starts every cache generation name.
const GenerationPrefix = "rating-form-cache-"

// GenerationName derives the cache generation name for m. The hash covers
// the manifest and every built-in fallback body, so a change to either
// yields a new name and activation evicts the old generation.
func GenerationName(m Manifest) (string, error) {
	manifest, err := rating.MarshalCanonical(m.canonical())
	if err != nil {
		return "", fmt.Errorf("generation name: %w", err)
	}

	var buf bytes.Buffer
	for _, part := range [][]byte{manifest, offlinePage, pixelPNG, scriptPlaceholder, stylePlaceholder} {
		buf.Write(part)
		buf.WriteByte(0x00)
	}
	hash := rating.ContentHash(rating.DomainCacheGeneration, buf.Bytes())
	return GenerationPrefix + m.Version + "-" + hash[:12], nil
}
