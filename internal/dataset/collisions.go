package dataset

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/datasync/internal/value"
)

// ListCollisions asks the cloud for the collisions it holds for this
// dataset and returns its raw answer.
func (d *Dataset) ListCollisions(ctx context.Context) (value.Object, error) {
	req, err := d.collisionRequest("listCollisions")
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Perform(ctx, d.id, req)
	if err != nil {
		return nil, fmt.Errorf("list collisions: %w", err)
	}
	return resp, nil
}

// RemoveCollision discards one collision, identified by the hash the cloud
// reported it under.
func (d *Dataset) RemoveCollision(ctx context.Context, hash string) (value.Object, error) {
	if hash == "" {
		return nil, errors.New("remove collision: hash is required")
	}
	req, err := d.collisionRequest("removeCollision")
	if err != nil {
		return nil, err
	}
	req["hash"] = value.String(hash)

	resp, err := d.client.Perform(ctx, d.id, req)
	if err != nil {
		return nil, fmt.Errorf("remove collision %s: %w", hash, err)
	}
	d.logger.Info("collision removed", "hash", hash)
	return resp, nil
}

func (d *Dataset) collisionRequest(fn string) (value.Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, ErrClosed
	}
	return d.baseRequestLocked(fn), nil
}
