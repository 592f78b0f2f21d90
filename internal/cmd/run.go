package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/auth"
	"github.com/joshdurbin/strava-runstats/internal/chart"
	"github.com/joshdurbin/strava-runstats/internal/config"
	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/joshdurbin/strava-runstats/internal/metrics"
	"github.com/joshdurbin/strava-runstats/internal/server"
	"github.com/joshdurbin/strava-runstats/internal/store"
	"github.com/joshdurbin/strava-runstats/internal/strava"
	syncsvc "github.com/joshdurbin/strava-runstats/internal/sync"
	"github.com/joshdurbin/strava-runstats/internal/weekly"
	"github.com/joshdurbin/strava-runstats/internal/workers"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
)

// RuntimeConfig holds all runtime configuration from CLI flags
type RuntimeConfig struct {
	ConfigPath string
	TokensPath string
	CSVPath    string
	DBPath     string
	OutDir     string
	PageSize   int
	Epoch      string

	FromSnapshot bool
	Charts       chart.Options

	MCPPort              int
	RefreshSchedule      string
	TokenRefreshInterval time.Duration
	NoSync               bool

	activitiesURL string
}

// app is what every command needs once flags and config are resolved.
type app struct {
	cfg    *config.Config
	epoch  time.Time
	store  store.Store
	tokens *auth.TokenProvider
	close  func()
}

func setup(ctx context.Context, rt *RuntimeConfig) (*app, error) {
	cfg, err := config.Load(rt.ConfigPath)
	if err != nil {
		return nil, err
	}

	epoch := cfg.Epoch
	if rt.Epoch != "" {
		epoch, err = weekly.ParseEpoch(rt.Epoch)
		if err != nil {
			return nil, fmt.Errorf("--epoch %q: %w", rt.Epoch, err)
		}
	}

	st, closeStore, err := openStores(ctx, rt)
	if err != nil {
		return nil, err
	}

	tokens := &auth.TokenProvider{
		Config:      auth.StravaOAuthConfig(cfg.ClientID, cfg.ClientSecret),
		File:        auth.NewTokenFile(rt.TokensPath),
		SeedRefresh: cfg.RefreshToken,
	}

	return &app{cfg: cfg, epoch: epoch, store: st, tokens: tokens, close: closeStore}, nil
}

// openStores returns the CSV snapshot, plus the SQLite one when --db is set.
// The CSV is saved first, so a failed mirror never leaves it behind.
func openStores(ctx context.Context, rt *RuntimeConfig) (store.Store, func(), error) {
	csvStore := store.NewCSV(rt.CSVPath)
	if rt.DBPath == "" {
		return csvStore, func() {}, nil
	}

	db, err := store.OpenSQLite(ctx, rt.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return store.Multi{csvStore, db}, func() { db.Close() }, nil
}

// fetcher returns a FetcherFunc that obtains a valid access token and builds
// a client for each sync.
func (a *app) fetcher(rt *RuntimeConfig) syncsvc.FetcherFunc {
	return func(ctx context.Context) (syncsvc.Fetcher, error) {
		accessToken, err := a.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		opts := strava.DefaultOptions()
		opts.PageSize = rt.PageSize
		if rt.activitiesURL != "" {
			opts.ActivitiesURL = rt.activitiesURL
		}
		return strava.NewClient(accessToken, opts), nil
	}
}

// Login runs the browser OAuth flow and writes the token file.
func Login(ctx context.Context, rt *RuntimeConfig) error {
	cfg, err := config.Load(rt.ConfigPath)
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	tokens, err := auth.Login(ctx, auth.StravaOAuthConfig(cfg.ClientID, cfg.ClientSecret))
	if err != nil {
		return fmt.Errorf("OAuth flow failed: %w", err)
	}
	if err := auth.NewTokenFile(rt.TokensPath).Save(tokens); err != nil {
		return fmt.Errorf("saving tokens: %w", err)
	}

	fmt.Printf("\nAuthentication successful! Token expires: %s\n",
		time.Unix(tokens.ExpiresAt, 0).Format(time.RFC1123))
	fmt.Printf("Tokens saved to %s\n", rt.TokensPath)
	return nil
}

// Fetch downloads all runs and replaces the snapshot.
func Fetch(ctx context.Context, rt *RuntimeConfig) (activity.Table, error) {
	a, err := setup(ctx, rt)
	if err != nil {
		return nil, err
	}
	defer a.close()

	return a.fetch(ctx, rt)
}

func (a *app) fetch(ctx context.Context, rt *RuntimeConfig) (activity.Table, error) {
	if err := a.cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	result, err := syncsvc.NewService(a.fetcher(rt), a.store).Sync(ctx, workers.LogProgress)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Fetched %d runs in %s\n", len(result.Runs), result.Duration.Round(time.Millisecond))
	return result.Runs, nil
}

// Report fetches (or loads) the runs, derives metrics and renders charts.
func Report(ctx context.Context, rt *RuntimeConfig) error {
	log := logging.Logger

	a, err := setup(ctx, rt)
	if err != nil {
		return err
	}
	defer a.close()

	var table activity.Table
	if rt.FromSnapshot {
		table, err = a.store.Load(ctx)
		if errors.Is(err, store.ErrNoSnapshot) {
			return fmt.Errorf("no snapshot at %s: run 'strava-runstats fetch' first", rt.CSVPath)
		}
		if err != nil {
			return fmt.Errorf("loading snapshot: %w", err)
		}
		log.Info().Int("runs", len(table)).Msg("loaded snapshot")
	} else {
		table, err = a.fetch(ctx, rt)
		if err != nil {
			return err
		}
	}

	summary, err := metrics.Derive(table, a.epoch)
	if err != nil {
		return err
	}
	printSummary(summary)

	opts := rt.Charts
	if !opts.Any() {
		opts.All = true
	}

	written, err := chart.NewRenderer(rt.OutDir).Render(summary, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d chart files to %s\n", len(written), rt.OutDir)
	return nil
}

func printSummary(s *metrics.Summary) {
	first, last := s.DateRange()
	fmt.Printf("%d runs from %s to %s\n", s.TotalRuns, first.Format(time.DateOnly), last.Format(time.DateOnly))
	totals := weekly.Totals(s.Weeks)
	if n := len(totals); n > 0 {
		fmt.Printf("%d weeks, latest week %.2f km, longest week %.2f km\n", n, totals[n-1], slices.Max(totals))
	}
}

// Serve runs the MCP server and, unless offline, the scheduled refresher.
func Serve(rt *RuntimeConfig) error {
	log := logging.Logger

	// Set up context for shutdown handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	a, err := setup(ctx, rt)
	if err != nil {
		return err
	}
	defer a.close()

	log.Info().
		Str("csv", rt.CSVPath).
		Str("db", rt.DBPath).
		Int("mcp_port", rt.MCPPort).
		Bool("no_sync", rt.NoSync).
		Str("refresh_schedule", rt.RefreshSchedule).
		Msg("starting strava-runstats server")

	g, gCtx := errgroup.WithContext(ctx)

	if !rt.NoSync {
		if err := a.cfg.RequireCredentials(); err != nil {
			return fmt.Errorf("%w (use --no-sync to serve the saved snapshot only)", err)
		}

		refresher, err := workers.NewRefresher(syncsvc.NewService(a.fetcher(rt), a.store), rt.RefreshSchedule)
		if err != nil {
			return err
		}
		refresher.RunAtStart = true
		g.Go(func() error {
			return refresher.Run(gCtx)
		})

		tokenRefresher := workers.NewTokenRefresher(a.tokens, rt.TokenRefreshInterval)
		g.Go(func() error {
			tokenRefresher.Run(gCtx)
			return nil
		})
	} else {
		log.Info().Msg("running in offline mode (--no-sync), skipping Strava API sync")
	}

	srv := server.New(a.store, a.epoch)

	var serverErr error
	if rt.MCPPort > 0 {
		serverErr = runHTTPServer(gCtx, srv.MCPServer(), rt.MCPPort)
	} else {
		log.Info().Msg("MCP server running via stdio")
		serverErr = srv.Run(gCtx)
	}

	// the server returning (stdin closed, listener failed) stops the workers too
	cancel()
	log.Info().Msg("waiting for workers to shut down")
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("worker error during shutdown")
	}

	return serverErr
}

// runHTTPServer runs the MCP server over HTTP/SSE
func runHTTPServer(ctx context.Context, mcpServer *mcp.Server, port int) error {
	log := logging.Logger

	handler := mcp.NewSSEHandler(func(r *http.Request) *mcp.Server {
		return mcpServer
	}, nil)

	addr := fmt.Sprintf(":%d", port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info().
			Str("address", addr).
			Str("endpoint", fmt.Sprintf("http://localhost%s", addr)).
			Msg("MCP server running via HTTP/SSE")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down HTTP server")
		return httpServer.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
