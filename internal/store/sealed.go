package store

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealedMagic   = "DSS1"
	sealedSaltLen = 16

	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
)

// ErrSealedAuth is returned when a sealed snapshot fails authentication,
// typically because the passphrase is wrong.
var ErrSealedAuth = errors.New("store: sealed snapshot failed authentication")

// Sealed wraps a Storage with passphrase-based encryption.
//
// Keys are derived with Argon2id; snapshots are sealed with
// XChaCha20-Poly1305, bound to their dataset id as additional data.
// Layout: magic | salt | nonce | ciphertext.
type Sealed struct {
	inner      Storage
	passphrase []byte
	salt       []byte

	mu   sync.Mutex
	keys map[string][]byte // salt -> derived key
}

// NewSealed returns a Storage that encrypts snapshots before handing them
// to inner.
func NewSealed(inner Storage, passphrase string) (*Sealed, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	salt := make([]byte, sealedSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return &Sealed{
		inner:      inner,
		passphrase: []byte(passphrase),
		salt:       salt,
		keys:       make(map[string][]byte),
	}, nil
}

func (s *Sealed) key(salt []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[string(salt)]; ok {
		return k
	}
	k := argon2.IDKey(s.passphrase, salt, argon2Time, argon2Memory, argon2Threads, chacha20poly1305.KeySize)
	s.keys[string(salt)] = k
	return k
}

// Put seals and writes a snapshot.
func (s *Sealed) Put(ctx context.Context, id string, content []byte) error {
	aead, err := chacha20poly1305.NewX(s.key(s.salt))
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(sealedMagic) + len(s.salt) + len(nonce) + len(content) + aead.Overhead())
	buf.WriteString(sealedMagic)
	buf.Write(s.salt)
	buf.Write(nonce)
	buf.Write(aead.Seal(nil, nonce, content, []byte(id)))

	return s.inner.Put(ctx, id, buf.Bytes())
}

// Get reads and opens a sealed snapshot.
func (s *Sealed) Get(ctx context.Context, id string) ([]byte, error) {
	raw, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	header := len(sealedMagic) + sealedSaltLen + chacha20poly1305.NonceSizeX
	if len(raw) < header || string(raw[:len(sealedMagic)]) != sealedMagic {
		return nil, fmt.Errorf("snapshot %q is not sealed", id)
	}

	salt := raw[len(sealedMagic) : len(sealedMagic)+sealedSaltLen]
	nonce := raw[len(sealedMagic)+sealedSaltLen : header]

	aead, err := chacha20poly1305.NewX(s.key(salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	content, err := aead.Open(nil, nonce, raw[header:], []byte(id))
	if err != nil {
		return nil, fmt.Errorf("open snapshot %q: %w", id, ErrSealedAuth)
	}
	return content, nil
}

// Datasets lists the snapshots of the wrapped backend. Ids are stored in
// the clear.
func (s *Sealed) Datasets(ctx context.Context) ([]string, error) {
	return ListDatasets(ctx, s.inner)
}
