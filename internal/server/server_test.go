package server

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/store"
	"github.com/joshdurbin/strava-runstats/internal/weekly"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// MockLoader implements SnapshotLoader for testing
type MockLoader struct {
	table activity.Table
	err   error
}

func (m *MockLoader) Load(ctx context.Context) (activity.Table, error) {
	return m.table, m.err
}

func referenceTable() activity.Table {
	return activity.Table{
		{Distance: 5000, AverageSpeed: 0, AverageHeartrate: math.NaN(), AverageCadence: 80, StartDate: "2022-04-25T00:00:00Z"},
		{Distance: 4000, AverageSpeed: 2.5, AverageHeartrate: 150, AverageCadence: 85, StartDate: "2022-04-20T07:00:00Z"},
		{Distance: 3000, AverageSpeed: 3.0, AverageHeartrate: 160.456, AverageCadence: 87.5, StartDate: "2022-04-10T07:00:00Z"},
	}
}

func newTestServer(loader SnapshotLoader) *Server {
	return New(loader, weekly.DefaultEpoch())
}

func TestServerNew(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{})

	if srv.mcp == nil {
		t.Error("expected non-nil MCP server")
	}
	if srv.MCPServer() != srv.mcp {
		t.Error("expected MCPServer() to return the internal mcp server")
	}
	if !srv.epoch.Equal(weekly.DefaultEpoch()) {
		t.Errorf("unexpected epoch %v", srv.epoch)
	}
}

func TestGetWeeklyDistance(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{table: referenceTable()})

	_, out, err := srv.getWeeklyDistance(context.Background(), nil, WeeklyDistanceInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// the run on 2022-04-25 sits on a boundary and is not counted
	want := []WeekTotal{
		{Week: 0, WeekEnding: "2022-04-18", DistanceKm: 3},
		{Week: 1, WeekEnding: "2022-04-25", DistanceKm: 4},
	}
	if len(out.Weeks) != len(want) {
		t.Fatalf("expected %d weeks, got %+v", len(want), out.Weeks)
	}
	for i := range want {
		if out.Weeks[i] != want[i] {
			t.Errorf("week %d: got %+v, want %+v", i, out.Weeks[i], want[i])
		}
	}
	if out.TotalWeeks != 2 || out.TotalDistanceKm != 7 || out.Epoch != "2022-04-18" {
		t.Errorf("unexpected totals %+v", out)
	}
}

func TestGetWeeklyDistanceMostRecent(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{table: referenceTable()})

	_, out, err := srv.getWeeklyDistance(context.Background(), nil, WeeklyDistanceInput{Weeks: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Weeks) != 1 || out.Weeks[0].Week != 1 {
		t.Errorf("expected only the latest week, got %+v", out.Weeks)
	}
	if out.TotalWeeks != 2 {
		t.Errorf("total weeks should count the whole history, got %d", out.TotalWeeks)
	}
}

func TestGetRunMetrics(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{table: referenceTable()})

	_, out, err := srv.getRunMetrics(context.Background(), nil, RunMetricsInput{Limit: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.TotalRuns != 3 || len(out.Runs) != 2 {
		t.Fatalf("expected 2 of 3 runs, got %d of %d", len(out.Runs), out.TotalRuns)
	}

	newest := out.Runs[0]
	if newest.Date != "2022-04-25T00:00:00Z" {
		t.Errorf("expected newest run first, got %s", newest.Date)
	}
	if newest.PaceMinKm != nil || newest.Pace != "" {
		t.Errorf("a stationary run has no pace, got %+v", newest)
	}
	if newest.HeartRate != nil {
		t.Errorf("missing heart rate should be omitted, got %v", *newest.HeartRate)
	}
	if newest.Cadence != 160 {
		t.Errorf("expected cadence 160, got %v", newest.Cadence)
	}

	second := out.Runs[1]
	if second.PaceMinKm == nil || *second.PaceMinKm != 6.67 || second.Pace != "6:40/km" {
		t.Errorf("unexpected pace %+v", second)
	}

	// NaN and Inf must never reach the JSON encoder
	if _, err := json.Marshal(out); err != nil {
		t.Errorf("output should marshal: %v", err)
	}
}

func TestToolErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		loader *MockLoader
		input  WeeklyDistanceInput
		code   ErrorCode
	}{
		{name: "no snapshot", loader: &MockLoader{err: store.ErrNoSnapshot}, code: ErrNotFound},
		{name: "storage failure", loader: &MockLoader{err: errors.New("disk gone")}, code: ErrStorageError},
		{name: "bad date", loader: &MockLoader{table: activity.Table{{StartDate: "yesterday"}}}, code: ErrInternalError},
		{name: "negative weeks", loader: &MockLoader{table: referenceTable()}, input: WeeklyDistanceInput{Weeks: -1}, code: ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(tt.loader)
			_, _, err := srv.getWeeklyDistance(context.Background(), nil, tt.input)
			var toolErr *ToolError
			if !errors.As(err, &toolErr) {
				t.Fatalf("expected ToolError, got %v", err)
			}
			if toolErr.Code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, toolErr.Code)
			}
		})
	}
}

func TestEmptySnapshot(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{table: activity.Table{}})

	_, weeks, err := srv.getWeeklyDistance(context.Background(), nil, WeeklyDistanceInput{})
	if err != nil || len(weeks.Weeks) != 0 {
		t.Errorf("expected no weeks and no error, got %+v, %v", weeks, err)
	}
	_, runs, err := srv.getRunMetrics(context.Background(), nil, RunMetricsInput{})
	if err != nil || len(runs.Runs) != 0 {
		t.Errorf("expected no runs and no error, got %+v, %v", runs, err)
	}
}

func TestReadSummary(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{table: referenceTable()})

	result, err := srv.readSummary(context.Background(), &mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Contents) != 1 {
		t.Fatalf("expected one content block, got %d", len(result.Contents))
	}

	var body SnapshotSummary
	if err := json.Unmarshal([]byte(result.Contents[0].Text), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.TotalRuns != 3 || body.FirstRun != "2022-04-10" || body.LastRun != "2022-04-25" || body.TotalDistanceKm != 12 {
		t.Errorf("unexpected summary %+v", body)
	}
}

func TestTrainingReviewPrompt(t *testing.T) {
	t.Parallel()

	srv := newTestServer(&MockLoader{})

	result, err := srv.trainingReviewPrompt(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Arguments: map[string]string{"weeks": "4"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Messages) != 1 {
		t.Fatalf("expected one message, got %d", len(result.Messages))
	}

	_, err = srv.trainingReviewPrompt(context.Background(), &mcp.GetPromptRequest{
		Params: &mcp.GetPromptParams{Arguments: map[string]string{"weeks": "lots"}},
	})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Code != ErrInvalidInput {
		t.Errorf("expected invalid input error, got %v", err)
	}
}

func TestFormatPace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		pace     float64
		expected string
	}{
		{5, "5:00/km"},
		{6.6667, "6:40/km"},
		{4.999, "5:00/km"},
		{5.5, "5:30/km"},
	}

	for _, tc := range tests {
		if got := formatPace(tc.pace); got != tc.expected {
			t.Errorf("formatPace(%v): expected %q, got %q", tc.pace, tc.expected, got)
		}
	}
}

func TestApplyLimit(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want int }{{0, 20}, {-5, 20}, {5, 5}, {500, 100}}
	for _, tc := range tests {
		if got := applyLimit(tc.in); got != tc.want {
			t.Errorf("applyLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
