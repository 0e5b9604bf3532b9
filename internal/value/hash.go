package value

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for derived identifiers.
// Version suffix enables future algorithm migration.
const (
	DomainPendingChange = "datasync/pending/v1"
)

// Hash returns the content hash of v: lowercase hex SHA-1 over the UTF-8
// bytes of CanonicalForm(v). Peers compute the same digest.
func Hash(v Value) (string, error) {
	canonical, err := CanonicalForm(v)
	if err != nil {
		return "", fmt.Errorf("Hash: failed to canonicalize: %w", err)
	}
	return HashText(canonical), nil
}

// MustHash is like Hash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHash(v Value) string {
	h, err := Hash(v)
	if err != nil {
		panic(err)
	}
	return h
}

// HashText returns the lowercase hex SHA-1 digest of text.
func HashText(text []byte) string {
	sum := sha1.Sum(text)
	return hex.EncodeToString(sum[:])
}

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ChangeKey derives the identity of an Update or Delete pending change.
//
// The key covers the action, the record uid, the hash of the image the
// change carries and a per-dataset sequence number. The sequence makes
// every enqueued change distinct even when the same edit is repeated, and
// the SHA-256 digest length keeps change keys disjoint from content hashes,
// which is what Create changes are keyed by.
func ChangeKey(action, uid, imageHash string, seq int64) string {
	obj := Object{
		"action": String(action),
		"uid":    String(uid),
		"hash":   String(imageHash),
		"seq":    Int(seq),
	}

	// All members are scalars, so canonicalization cannot fail.
	canonical, err := CanonicalForm(obj)
	if err != nil {
		panic(fmt.Sprintf("ChangeKey: %v", err))
	}
	return hashWithDomain(DomainPendingChange, canonical)
}
