package server

import (
	"context"
	"fmt"
	"strconv"

	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// registerPrompts registers all MCP prompts for the server
func (s *Server) registerPrompts() {
	logging.Debug("Registering MCP prompts")

	s.mcp.AddPrompt(&mcp.Prompt{
		Name:        "training_review",
		Description: "Review recent running volume, pace, heart rate and cadence trends",
		Arguments: []*mcp.PromptArgument{
			{
				Name:        "weeks",
				Description: "How many recent weeks to review (default 8)",
				Required:    false,
			},
		},
	}, s.trainingReviewPrompt)
}

func (s *Server) trainingReviewPrompt(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	weeks := 8
	if req.Params.Arguments != nil {
		if w, ok := req.Params.Arguments["weeks"]; ok && w != "" {
			n, err := strconv.Atoi(w)
			if err != nil || n <= 0 {
				return nil, NewInvalidInputErrorWithDetails("weeks must be a positive integer", fmt.Sprintf("weeks=%q", w))
			}
			weeks = n
		}
	}

	logging.Info("MCP prompt requested", "prompt", "training_review", "weeks", weeks)

	promptText := fmt.Sprintf(`Please review my running over the last %d weeks.

Use the following tools to gather data:
1. **get_weekly_distance** with weeks=%d to see weekly volume
2. **get_run_metrics** to see pace, heart rate and cadence for recent runs

Then provide:
- **Volume**: How weekly distance has changed and whether the increase is gradual
- **Pace and Heart Rate**: Whether easy runs are getting faster at the same heart rate
- **Cadence**: How cadence compares to 180 steps per minute
- **Recommendations**: Suggestions for the coming week based on the data

Please be specific with numbers and use the actual data from the tools.`, weeks, weeks)

	return &mcp.GetPromptResult{
		Description: "Running training review prompt",
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: promptText},
			},
		},
	}, nil
}
