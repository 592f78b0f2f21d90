package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/joshdurbin/strava-runstats/internal/store"
	"github.com/joshdurbin/strava-runstats/internal/strava"
)

// Fetcher retrieves the run table.
type Fetcher interface {
	FetchRuns(ctx context.Context, progress strava.ProgressCallback) (activity.Table, error)
}

// FetcherFunc builds a Fetcher for a single sync, typically after obtaining
// a fresh access token.
type FetcherFunc func(ctx context.Context) (Fetcher, error)

// Result summarises one sync.
type Result struct {
	Runs     activity.Table
	Duration time.Duration
}

// Service fetches runs from Strava and saves them as the current snapshot
type Service struct {
	newFetcher FetcherFunc
	store      store.Store
}

// NewService creates a new sync service
func NewService(newFetcher FetcherFunc, st store.Store) *Service {
	return &Service{
		newFetcher: newFetcher,
		store:      st,
	}
}

// Sync fetches the full run history and replaces the stored snapshot. If
// fetching fails nothing is written.
func (s *Service) Sync(ctx context.Context, progress strava.ProgressCallback) (*Result, error) {
	log := logging.Component("sync")
	start := time.Now()

	fetcher, err := s.newFetcher(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing client: %w", err)
	}

	log.Info().Msg("fetching runs from Strava")
	runs, err := fetcher.FetchRuns(ctx, progress)
	if err != nil {
		return nil, fmt.Errorf("fetching runs: %w", err)
	}

	if err := s.store.Save(ctx, runs); err != nil {
		return nil, fmt.Errorf("saving snapshot: %w", err)
	}

	result := &Result{Runs: runs, Duration: time.Since(start)}
	log.Info().Int("runs", len(runs)).Dur("duration", result.Duration.Round(time.Millisecond)).Msg("snapshot saved")
	return result, nil
}

// Static returns a FetcherFunc that always yields f.
func Static(f Fetcher) FetcherFunc {
	return func(context.Context) (Fetcher, error) { return f, nil }
}
