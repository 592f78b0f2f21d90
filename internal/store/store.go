// Package store persists snapshots of the run table so charts can be
// rebuilt without refetching the whole history.
package store

import (
	"context"
	"errors"

	"github.com/joshdurbin/strava-runstats/internal/activity"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet.
var ErrNoSnapshot = errors.New("store: no snapshot saved yet")

// Store saves and loads a complete run table. Save replaces any previous
// snapshot.
type Store interface {
	Save(ctx context.Context, table activity.Table) error
	Load(ctx context.Context) (activity.Table, error)
}

// Multi fans Save out to every store and loads from the first one that has
// a snapshot. Save stops at the first failure, so stores earlier in the list
// may already hold the new snapshot.
type Multi []Store

func (m Multi) Save(ctx context.Context, table activity.Table) error {
	for _, s := range m {
		if err := s.Save(ctx, table); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Load(ctx context.Context) (activity.Table, error) {
	for _, s := range m {
		table, err := s.Load(ctx)
		if errors.Is(err, ErrNoSnapshot) {
			continue
		}
		return table, err
	}
	return nil, ErrNoSnapshot
}
