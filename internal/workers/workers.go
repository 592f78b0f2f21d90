package workers

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/joshdurbin/strava-runstats/internal/strava"
	syncsvc "github.com/joshdurbin/strava-runstats/internal/sync"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the refresh schedule used when none is configured.
const DefaultSchedule = "@hourly"

// Syncer performs one fetch-and-save cycle.
type Syncer interface {
	Sync(ctx context.Context, progress strava.ProgressCallback) (*syncsvc.Result, error)
}

// TokenSource yields a valid access token, refreshing it when needed.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// TokenRefresher keeps stored tokens from expiring while the server is idle
type TokenRefresher struct {
	tokens   TokenSource
	interval time.Duration
}

// NewTokenRefresher creates a new token refresher worker
func NewTokenRefresher(tokens TokenSource, interval time.Duration) *TokenRefresher {
	return &TokenRefresher{
		tokens:   tokens,
		interval: interval,
	}
}

// Run checks the token on every tick until ctx is cancelled.
func (t *TokenRefresher) Run(ctx context.Context) {
	log := logging.Component("token-refresher")
	log.Info().Dur("interval", t.interval).Msg("token refresher started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.check(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("token refresher stopped")
			return
		case <-ticker.C:
			t.check(ctx)
		}
	}
}

func (t *TokenRefresher) check(ctx context.Context) {
	log := logging.Component("token-refresher")
	if _, err := t.tokens.AccessToken(ctx); err != nil {
		log.Error().Err(err).Msg("failed to obtain a valid access token")
		return
	}
	log.Debug().Msg("token valid")
}

// Refresher re-syncs the snapshot on a cron schedule.
type Refresher struct {
	syncer   Syncer
	schedule string
	// RunAtStart triggers a sync as soon as Run is called.
	RunAtStart bool

	running atomic.Bool
	runs    atomic.Int64
}

// NewRefresher validates schedule (standard cron syntax or a descriptor such
// as @hourly) and returns a Refresher.
func NewRefresher(syncer Syncer, schedule string) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", schedule, err)
	}
	return &Refresher{syncer: syncer, schedule: schedule}, nil
}

// Run schedules syncs until ctx is cancelled, then waits for an in-flight
// sync to finish.
func (r *Refresher) Run(ctx context.Context) error {
	log := logging.Component("refresher")

	c := cron.New()
	if _, err := c.AddFunc(r.schedule, func() { r.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("scheduling refresh: %w", err)
	}

	log.Info().Str("schedule", r.schedule).Msg("snapshot refresher started")
	c.Start()

	if r.RunAtStart {
		go r.RunOnce(ctx)
	}

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Int64("runs", r.runs.Load()).Msg("snapshot refresher stopped")
	return nil
}

// RunOnce performs a single sync. It returns false without syncing when
// another sync is still running.
func (r *Refresher) RunOnce(ctx context.Context) bool {
	log := logging.Component("refresher")

	if !r.running.CompareAndSwap(false, true) {
		log.Warn().Msg("previous refresh still running, skipping")
		return false
	}
	defer r.running.Store(false)

	if ctx.Err() != nil {
		return false
	}

	r.runs.Add(1)
	result, err := r.syncer.Sync(ctx, LogProgress)
	if err != nil {
		log.Error().Err(err).Msg("snapshot refresh failed")
		return true
	}
	log.Info().Int("runs", len(result.Runs)).Msg("snapshot refreshed")
	return true
}

// Runs reports how many syncs have been attempted.
func (r *Refresher) Runs() int64 {
	return r.runs.Load()
}

// LogProgress logs each fetched page, at info level when rate limited.
func LogProgress(result strava.FetchResult) {
	log := logging.Component("fetch")
	rl := result.RateLimit
	event := log.Debug()
	if rl.IsRateLimited {
		event = log.Info()
	}
	event.
		Int("page", result.Page).
		Int("on_page", result.OnPage).
		Int("total_fetched", result.TotalFetched).
		Str("15min_usage", fmt.Sprintf("%d/%d", rl.Usage15Min, rl.Limit15Min)).
		Str("daily_usage", fmt.Sprintf("%d/%d", rl.UsageDaily, rl.LimitDaily)).
		Bool("rate_limited", rl.IsRateLimited).
		Msg("page fetched")
}
