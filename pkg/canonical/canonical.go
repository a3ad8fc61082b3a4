// Package canonical produces RFC 8785 canonical JSON digests so that hashes
// of governance artifacts are stable across runs and platforms.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Digest returns the lowercase SHA-256 hex of the canonical JSON form of v.
func Digest(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical: marshal: %w", err)
	}
	return DigestRaw(raw)
}

// DigestRaw canonicalizes an already-serialized JSON document and hashes it.
func DigestRaw(raw []byte) (string, error) {
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonical: transform: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
