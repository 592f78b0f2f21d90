package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/chart"
	"github.com/joshdurbin/strava-runstats/internal/logging"
	"github.com/joshdurbin/strava-runstats/internal/strava"
	"github.com/joshdurbin/strava-runstats/internal/workers"
	"github.com/spf13/cobra"
)

var (
	verbosity  int
	configPath string
	tokensPath string
	csvPath    string
	dbPath     string
	outDir     string
	pageSize   int
	epochFlag  string

	fromSnapshot bool
	chartOpts    chart.Options

	mcpPort              int
	refreshSchedule      string
	tokenRefreshInterval time.Duration
	noSync               bool
)

var rootCmd = &cobra.Command{
	Use:   "strava-runstats",
	Short: "Fetch your Strava runs, derive training metrics and plot them",
	Long: `strava-runstats downloads your running activities from Strava, keeps a
local snapshot (CSV and optionally SQLite), derives per-run pace, heart rate
and cadence plus weekly distance totals, and renders charts as SVG and PNG.

API credentials are read from a key = value file (default config.txt):

  client_id = 12345
  client_secret = abc...
  refresh_token = def...   (optional if you run 'auth login')
  epoch_monday = 2022-04-18 (optional)

Get these from https://www.strava.com/settings/api

With no chart flags every chart is rendered.
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(logging.Level(verbosity))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return Report(cmd.Context(), runtimeConfig())
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Strava authorization",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with Strava in the browser and store the tokens",
	RunE: func(cmd *cobra.Command, args []string) error {
		return Login(cmd.Context(), runtimeConfig())
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch all runs and save the snapshot without plotting",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := Fetch(cmd.Context(), runtimeConfig())
		return err
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run statistics over MCP and refresh the snapshot on a schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		return Serve(runtimeConfig())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.CountVarP(&verbosity, "verbose", "v", "increase verbosity (-v for debug, -vv for trace with HTTP headers)")
	flags.StringVar(&configPath, "config", "config.txt", "path to the key = value credentials file")
	flags.StringVar(&tokensPath, "tokens", "strava_tokens.json", "path to the OAuth token file")
	flags.StringVar(&csvPath, "csv", "activities.csv", "path to the CSV snapshot")
	flags.StringVar(&dbPath, "db", "", "path to a SQLite snapshot database (disabled when empty)")
	flags.StringVar(&outDir, "out", "plots", "directory charts are written to")
	flags.IntVar(&pageSize, "page-size", strava.DefaultPageSize, "activities requested per page")
	flags.StringVar(&epochFlag, "epoch", "", "Monday weeks are counted from, YYYY-MM-DD (default from config or 2022-04-18)")

	rootCmd.Flags().BoolVar(&fromSnapshot, "from-snapshot", false, "plot the saved snapshot instead of fetching")
	rootCmd.Flags().BoolVar(&chartOpts.All, "all", false, "render every chart")
	rootCmd.Flags().BoolVar(&chartOpts.Distance, "distance", false, "render distance per run")
	rootCmd.Flags().BoolVar(&chartOpts.Pace, "pace", false, "render pace per run")
	rootCmd.Flags().BoolVar(&chartOpts.HeartRate, "heart-rate", false, "render average heart rate per run")
	rootCmd.Flags().BoolVar(&chartOpts.Cadence, "cadence", false, "render cadence per run")
	rootCmd.Flags().BoolVar(&chartOpts.WeeklyDistance, "weekly-distance", false, "render weekly distance totals")
	rootCmd.Flags().BoolVar(&chartOpts.HeartRateVsPace, "hr-vs-pace", false, "render heart rate against pace")
	rootCmd.Flags().BoolVar(&chartOpts.CadenceVsPace, "cadence-vs-pace", false, "render cadence against pace")

	serveCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "MCP server port (0 for stdio mode)")
	serveCmd.Flags().StringVar(&refreshSchedule, "refresh-schedule", workers.DefaultSchedule, "cron schedule for snapshot refreshes")
	serveCmd.Flags().DurationVar(&tokenRefreshInterval, "token-refresh-interval", 30*time.Minute, "interval between token refresh checks")
	serveCmd.Flags().BoolVar(&noSync, "no-sync", false, "serve the saved snapshot only without Strava API sync (offline mode)")

	authCmd.AddCommand(authLoginCmd)
	rootCmd.AddCommand(authCmd, fetchCmd, serveCmd)
}

func runtimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		ConfigPath:           configPath,
		TokensPath:           tokensPath,
		CSVPath:              csvPath,
		DBPath:               dbPath,
		OutDir:               outDir,
		PageSize:             pageSize,
		Epoch:                epochFlag,
		FromSnapshot:         fromSnapshot,
		Charts:               chartOpts,
		MCPPort:              mcpPort,
		RefreshSchedule:      refreshSchedule,
		TokenRefreshInterval: tokenRefreshInterval,
		NoSync:               noSync,
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
