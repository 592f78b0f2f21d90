package chart

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/metrics"
	"github.com/joshdurbin/strava-runstats/internal/weekly"
)

func testSummary(t *testing.T) *metrics.Summary {
	t.Helper()
	table := activity.Table{
		{Distance: 10000, AverageSpeed: 3.0, AverageHeartrate: 165, AverageCadence: 88, StartDate: "2022-05-10T07:00:00Z"},
		{Distance: 5000, AverageSpeed: 2.8, AverageHeartrate: 152, AverageCadence: 85, StartDate: "2022-05-03T07:00:00Z"},
		{Distance: 7500, AverageSpeed: 2.6, AverageHeartrate: math.NaN(), AverageCadence: 84, StartDate: "2022-04-26T07:00:00Z"},
		{Distance: 3000, AverageSpeed: 2.5, AverageHeartrate: 148, AverageCadence: 83, StartDate: "2022-04-20T07:00:00Z"},
	}
	s, err := metrics.Derive(table, weekly.DefaultEpoch())
	if err != nil {
		t.Fatalf("derive failed: %v", err)
	}
	return s
}

func TestOptionsAny(t *testing.T) {
	t.Parallel()

	if (Options{}).Any() {
		t.Error("empty options should select nothing")
	}
	if !(Options{All: true}).Any() || !(Options{CadenceVsPace: true}).Any() {
		t.Error("expected Any to report a selection")
	}
}

func TestRenderAll(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "plots")
	written, err := NewRenderer(dir).Render(testSummary(t), Options{All: true})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	if want := len(Names()) * len(DefaultFormats); len(written) != want {
		t.Fatalf("expected %d files, got %d: %v", want, len(written), written)
	}
	for _, name := range Names() {
		for _, ext := range DefaultFormats {
			info, err := os.Stat(filepath.Join(dir, name+"."+ext))
			if err != nil {
				t.Errorf("missing %s.%s: %v", name, ext, err)
				continue
			}
			if info.Size() == 0 {
				t.Errorf("%s.%s is empty", name, ext)
			}
		}
	}
}

func TestRenderSelection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := NewRenderer(dir)
	r.Formats = []string{"svg"}

	written, err := r.Render(testSummary(t), Options{Pace: true, WeeklyDistance: true})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}

	want := []string{filepath.Join(dir, "paces.svg"), filepath.Join(dir, "weekly_distance.svg")}
	if len(written) != len(want) {
		t.Fatalf("expected %v, got %v", want, written)
	}
	for i := range want {
		if written[i] != want[i] {
			t.Errorf("file %d: got %s, want %s", i, written[i], want[i])
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "distances.svg")); !os.IsNotExist(err) {
		t.Error("unselected chart should not be written")
	}
}

func TestRenderSkipsChartsWithoutData(t *testing.T) {
	t.Parallel()

	s := &metrics.Summary{
		Runs: []metrics.Run{
			{Date: time.Date(2022, 5, 1, 7, 0, 0, 0, time.UTC), DistanceKm: 5, Pace: math.Inf(1), HeartRate: math.NaN(), Cadence: 0},
		},
		TotalRuns: 1,
	}

	dir := t.TempDir()
	r := NewRenderer(dir)
	r.Formats = []string{"svg"}

	written, err := r.Render(s, Options{Pace: true, HeartRate: true, HeartRateVsPace: true, Distance: true})
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if len(written) != 1 || filepath.Base(written[0]) != "distances.svg" {
		t.Errorf("expected only distances.svg, got %v", written)
	}
}

func TestHeartRateVsPaceRequiresHeartRate(t *testing.T) {
	t.Parallel()

	s := &metrics.Summary{Runs: []metrics.Run{{DistanceKm: 5, Pace: 6, HeartRate: math.NaN()}}, TotalRuns: 1}
	if _, err := heartRateVsPacePlot(s); !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestConstantTicks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		min, max, step float64
		want           []float64
	}{
		{0, 25, 2.5, []float64{0, 2.5, 5, 7.5, 10, 12.5, 15, 17.5, 20, 22.5, 25}},
		{4.5, 7.5, 0.5, []float64{4.5, 5, 5.5, 6, 6.5, 7, 7.5}},
		{0, 3, 5, []float64{0}},
	}

	for _, tt := range tests {
		ticks := constantTicks(tt.min, tt.max, tt.step)
		if len(ticks) != len(tt.want) {
			t.Errorf("constantTicks(%v, %v, %v): got %d ticks, want %d", tt.min, tt.max, tt.step, len(ticks), len(tt.want))
			continue
		}
		for i, v := range tt.want {
			if math.Abs(ticks[i].Value-v) > 1e-9 {
				t.Errorf("tick %d: got %v, want %v", i, ticks[i].Value, v)
			}
		}
	}
}
