// Package fingerprint produces stable content hashes for cache keys.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Generate hashes the canonical JSON encoding of v. encoding/json sorts map keys,
// so equal values always produce the same fingerprint.
func Generate(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode value for fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
