package server

import (
	"context"
	"encoding/json"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const summaryURI = "runstats://summary"

// registerResources registers all MCP resources for the server
func (s *Server) registerResources() {
	logging.Debug("Registering MCP resources")

	s.mcp.AddResource(&mcp.Resource{
		URI:         summaryURI,
		Name:        "run_summary",
		Description: "Overview of the stored run snapshot: run count, date range and total distance",
		MIMEType:    "application/json",
	}, s.readSummary)
}

// SnapshotSummary is the body of the run_summary resource.
type SnapshotSummary struct {
	TotalRuns       int     `json:"total_runs"`
	FirstRun        string  `json:"first_run,omitempty"`
	LastRun         string  `json:"last_run,omitempty"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	Weeks           int     `json:"weeks"`
	Epoch           string  `json:"epoch"`
}

func (s *Server) readSummary(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	logging.Info("MCP resource read", "resource", "run_summary")

	summary, err := s.summary(ctx)
	if err != nil {
		return nil, err
	}

	body := SnapshotSummary{
		TotalRuns: summary.TotalRuns,
		Weeks:     len(summary.Weeks),
		Epoch:     s.epoch.Format(time.DateOnly),
	}
	if summary.TotalRuns > 0 {
		first, last := summary.DateRange()
		body.FirstRun = first.Format(time.DateOnly)
		body.LastRun = last.Format(time.DateOnly)
	}
	var total float64
	for _, r := range summary.Runs {
		total += r.DistanceKm
	}
	body.TotalDistanceKm = round2(total)

	jsonData, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, NewInternalErrorWithCause("failed to marshal summary", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      summaryURI,
				MIMEType: "application/json",
				Text:     string(jsonData),
			},
		},
	}, nil
}
