package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/joshdurbin/strava-runstats/internal/metrics"
	"github.com/joshdurbin/strava-runstats/internal/store"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	serverName    = "strava-runstats"
	serverVersion = "1.0.0"

	defaultRunLimit = 20
	maxRunLimit     = 100

	snapshotHint = "run 'strava-runstats fetch' to download your runs first"
)

// ptr returns a pointer to the given value - useful for optional fields in structs
func ptr[T any](v T) *T {
	return &v
}

// SnapshotLoader reads the current run table.
type SnapshotLoader interface {
	Load(ctx context.Context) (activity.Table, error)
}

// Server wraps the MCP server and the snapshot it answers from
type Server struct {
	mcp       *mcp.Server
	snapshots SnapshotLoader
	epoch     time.Time
}

// MCPServer returns the underlying MCP server
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// New creates an MCP server exposing run statistics from snapshots. Weeks are
// counted from epoch.
func New(snapshots SnapshotLoader, epoch time.Time) *Server {
	logging.Info("MCP server initializing", "name", serverName, "version", serverVersion)

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)

	s := &Server{
		mcp:       mcpServer,
		snapshots: snapshots,
		epoch:     epoch,
	}

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	logging.Info("MCP server initialized", "tools_registered", 2, "resources_registered", 1, "prompts_registered", 1)
	return s
}

// Run starts the MCP server over stdio transport
func (s *Server) Run(ctx context.Context) error {
	logging.Info("MCP server starting")
	defer logging.Info("MCP server stopped")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	logging.Debug("Registering tool", "name", "get_weekly_distance")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_weekly_distance",
		Description: `Get total running distance per week, with weeks starting on Monday.

Use when:
- User asks "How far did I run each week?" or "Show my weekly mileage"
- User wants to see training volume trends

Parameters:
- weeks (integer): Only return the most recent N weeks. Omit for the full history.

Returns: Week number, the Monday the week ends on and distance in km for each week, plus the overall total.

Example: {"weeks": 8}`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Weekly Running Distance",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.getWeeklyDistance)

	logging.Debug("Registering tool", "name", "get_run_metrics")
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "get_run_metrics",
		Description: `Get per-run metrics: distance, pace, average heart rate and cadence.

Use when:
- User asks "What was my pace on recent runs?" or "Show my last runs"
- User wants to compare heart rate or cadence across runs

Parameters:
- limit (integer): Number of runs to return, newest first. Default: 20, Max: 100.

Returns: List of runs with date, distance (km), pace (min/km), heart rate (bpm, omitted when not recorded) and cadence (steps/min).

Example: {"limit": 5}`,
		Annotations: &mcp.ToolAnnotations{
			Title:           "Run Metrics",
			ReadOnlyHint:    true,
			IdempotentHint:  true,
			OpenWorldHint:   ptr(false),
			DestructiveHint: ptr(false),
		},
	}, s.getRunMetrics)
}

// WeeklyDistanceInput - input for weekly distance totals
type WeeklyDistanceInput struct {
	Weeks int `json:"weeks,omitempty" jsonschema:"Only return the most recent N weeks. Omit or 0 for the full history."`
}

// WeeklyDistanceOutput - weekly distance totals
type WeeklyDistanceOutput struct {
	Epoch           string      `json:"epoch"`
	Weeks           []WeekTotal `json:"weeks"`
	TotalWeeks      int         `json:"total_weeks"`
	TotalDistanceKm float64     `json:"total_distance_km"`
}

// WeekTotal is the distance run in the week ending (exclusive) on WeekEnding.
// Week 0 collects everything before the epoch.
type WeekTotal struct {
	Week       int     `json:"week"`
	WeekEnding string  `json:"week_ending"`
	DistanceKm float64 `json:"distance_km"`
}

// RunMetricsInput - input for per-run metrics
type RunMetricsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of runs to return, newest first. Default: 20, Maximum: 100."`
}

// RunMetricsOutput - per-run metrics
type RunMetricsOutput struct {
	Runs      []RunMetric `json:"runs"`
	TotalRuns int         `json:"total_runs"`
}

// RunMetric is one run's derived values.
type RunMetric struct {
	Date       string   `json:"date"`
	DistanceKm float64  `json:"distance_km"`
	Pace       string   `json:"pace,omitempty"`
	PaceMinKm  *float64 `json:"pace_min_per_km,omitempty"`
	HeartRate  *float64 `json:"avg_heartrate_bpm,omitempty"`
	Cadence    float64  `json:"cadence_spm"`
}

// Tool handlers

func (s *Server) getWeeklyDistance(ctx context.Context, req *mcp.CallToolRequest, input WeeklyDistanceInput) (*mcp.CallToolResult, WeeklyDistanceOutput, error) {
	logging.Info("MCP tool call", "tool", "get_weekly_distance", "weeks", input.Weeks)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", "get_weekly_distance", "input", logging.ToJSON(input))
	}

	if input.Weeks < 0 {
		return nil, WeeklyDistanceOutput{}, NewInvalidInputErrorWithDetails("weeks must not be negative", fmt.Sprintf("weeks=%d", input.Weeks))
	}

	summary, err := s.summary(ctx)
	if err != nil {
		return nil, WeeklyDistanceOutput{}, err
	}

	output := WeeklyDistanceOutput{
		Epoch:      s.epoch.Format(time.DateOnly),
		Weeks:      []WeekTotal{},
		TotalWeeks: len(summary.Weeks),
	}

	first := 0
	if input.Weeks > 0 && input.Weeks < len(summary.Weeks) {
		first = len(summary.Weeks) - input.Weeks
	}
	for i, w := range summary.Weeks {
		output.TotalDistanceKm += w.Total
		if i < first {
			continue
		}
		output.Weeks = append(output.Weeks, WeekTotal{
			Week:       i,
			WeekEnding: w.End.Format(time.DateOnly),
			DistanceKm: round2(w.Total),
		})
	}
	output.TotalDistanceKm = round2(output.TotalDistanceKm)

	return nil, output, nil
}

func (s *Server) getRunMetrics(ctx context.Context, req *mcp.CallToolRequest, input RunMetricsInput) (*mcp.CallToolResult, RunMetricsOutput, error) {
	logging.Info("MCP tool call", "tool", "get_run_metrics", "limit", input.Limit)
	if logging.IsVerbose() {
		logging.Debug("MCP request params", "tool", "get_run_metrics", "input", logging.ToJSON(input))
	}

	if input.Limit < 0 {
		return nil, RunMetricsOutput{}, NewInvalidInputErrorWithDetails("limit must not be negative", fmt.Sprintf("limit=%d", input.Limit))
	}

	summary, err := s.summary(ctx)
	if err != nil {
		return nil, RunMetricsOutput{}, err
	}

	runs := make([]metrics.Run, len(summary.Runs))
	copy(runs, summary.Runs)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Date.After(runs[j].Date) })

	limit := applyLimit(input.Limit)
	if limit > len(runs) {
		limit = len(runs)
	}

	output := RunMetricsOutput{
		Runs:      make([]RunMetric, limit),
		TotalRuns: summary.TotalRuns,
	}
	for i, r := range runs[:limit] {
		output.Runs[i] = convertRun(r)
	}

	return nil, output, nil
}

// summary loads the snapshot and derives metrics from it, mapping failures
// onto tool errors.
func (s *Server) summary(ctx context.Context) (*metrics.Summary, error) {
	table, err := s.snapshots.Load(ctx)
	if errors.Is(err, store.ErrNoSnapshot) {
		return nil, NewNotFoundErrorWithHint("run snapshot", snapshotHint)
	}
	if err != nil {
		logging.Warn("loading snapshot failed", "error", err)
		return nil, NewStorageError(err)
	}
	if len(table) == 0 {
		return &metrics.Summary{}, nil
	}

	summary, err := metrics.Derive(table, s.epoch)
	if err != nil {
		return nil, NewInternalErrorWithCause("deriving run metrics failed", err)
	}
	return summary, nil
}

func convertRun(r metrics.Run) RunMetric {
	m := RunMetric{
		Date:       r.Date.Format(time.RFC3339),
		DistanceKm: round2(r.DistanceKm),
		Cadence:    round2(r.Cadence),
	}
	if !math.IsInf(r.Pace, 0) && !math.IsNaN(r.Pace) {
		m.PaceMinKm = ptr(round2(r.Pace))
		m.Pace = formatPace(r.Pace)
	}
	if !math.IsNaN(r.HeartRate) {
		m.HeartRate = ptr(round2(r.HeartRate))
	}
	return m
}

// formatPace renders min/km as m:ss/km.
func formatPace(pace float64) string {
	total := int(math.Round(pace * 60))
	return fmt.Sprintf("%d:%02d/km", total/60, total%60)
}

func applyLimit(limit int) int {
	if limit <= 0 {
		return defaultRunLimit
	}
	if limit > maxRunLimit {
		return maxRunLimit
	}
	return limit
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
