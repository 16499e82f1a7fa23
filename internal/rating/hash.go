package rating

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content hashes. The version suffix allows the
// algorithm to change without colliding with older digests.
const (
	DomainCacheGeneration = "ratingsync/cache-generation/v1"
	DomainPayload         = "ratingsync/payload/v1"
)

// ContentHash computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null separator prevents domain/data boundary ambiguity.
func ContentHash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// PayloadHash returns the content hash of a record's wire payload. It is sent
// as an idempotency key so a server that deduplicates can recognise retries of
// the same record. The local id is part of the hash, so two ratings with equal
// content never share a key.
func PayloadHash(r Record) (string, error) {
	p := r.Payload()
	delete(p, "syncedAt")
	data, err := MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("payload hash: %w", err)
	}
	return ContentHash(DomainPayload, data), nil
}
