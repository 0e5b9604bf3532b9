package scheduler

import (
	"context"

	"github.com/roach88/datasync/internal/dataset"
	"github.com/roach88/datasync/internal/value"
)

// List returns every record of a managed dataset.
func (s *Scheduler) List(id string) ([]dataset.Entry, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return nil, err
	}
	return ds.List(), nil
}

// Read returns one record of a managed dataset.
func (s *Scheduler) Read(id, uid string) (dataset.Entry, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return dataset.Entry{}, err
	}
	return ds.Read(uid)
}

// Create adds a record to a managed dataset.
func (s *Scheduler) Create(ctx context.Context, id string, payload value.Value) (dataset.Entry, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return dataset.Entry{}, err
	}
	return ds.Create(ctx, payload)
}

// Update replaces a record of a managed dataset.
func (s *Scheduler) Update(ctx context.Context, id, uid string, payload value.Value) (dataset.Entry, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return dataset.Entry{}, err
	}
	return ds.Update(ctx, uid, payload)
}

// Delete removes a record of a managed dataset.
func (s *Scheduler) Delete(ctx context.Context, id, uid string) (dataset.Entry, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return dataset.Entry{}, err
	}
	return ds.Delete(ctx, uid)
}

// ListCollisions asks the cloud for a managed dataset's collisions.
func (s *Scheduler) ListCollisions(ctx context.Context, id string) (value.Object, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return nil, err
	}
	return ds.ListCollisions(ctx)
}

// RemoveCollision discards one collision of a managed dataset.
func (s *Scheduler) RemoveCollision(ctx context.Context, id, hash string) (value.Object, error) {
	ds, err := s.Dataset(id)
	if err != nil {
		return nil, err
	}
	return ds.RemoveCollision(ctx, hash)
}
