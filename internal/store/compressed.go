package store

import (
	"context"
	"fmt"

	"github.com/golang/snappy"
)

// Compressed wraps a Storage with snappy block compression.
type Compressed struct {
	inner Storage
}

// NewCompressed returns a Storage that compresses snapshots before handing
// them to inner.
func NewCompressed(inner Storage) *Compressed {
	return &Compressed{inner: inner}
}

// Get reads and decompresses a snapshot.
func (c *Compressed) Get(ctx context.Context, id string) ([]byte, error) {
	raw, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot %q: %w", id, err)
	}
	return content, nil
}

// Put compresses and writes a snapshot.
func (c *Compressed) Put(ctx context.Context, id string, content []byte) error {
	return c.inner.Put(ctx, id, snappy.Encode(nil, content))
}

// Datasets lists the snapshots of the wrapped backend.
func (c *Compressed) Datasets(ctx context.Context) ([]string, error) {
	return ListDatasets(ctx, c.inner)
}
