// Package metrics turns a run table into per-run derived values and weekly
// distance totals.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/activity"
	"github.com/joshdurbin/strava-runstats/internal/weekly"
)

// Run is one run's derived metrics.
type Run struct {
	Date       time.Time
	DistanceKm float64
	Pace       float64 // minutes per km; +Inf for a stationary activity
	HeartRate  float64 // bpm; NaN when not recorded
	Cadence    float64 // steps per minute, both legs
}

// Summary is everything derived from one table.
type Summary struct {
	Runs      []Run // table order, newest first
	TotalRuns int
	Weeks     []weekly.Week
}

// PaceFromSpeed converts m/s to min/km. The 0.06 factor is 60 s/min divided
// by 1000 m/km.
func PaceFromSpeed(speed float64) float64 {
	return 1 / (0.06 * speed)
}

// Derive computes per-run metrics and weekly distance totals. A malformed
// start_date aborts with *activity.ParseError.
func Derive(table activity.Table, epoch time.Time) (*Summary, error) {
	runs := make([]Run, len(table))
	for i, rec := range table {
		date, err := rec.Time()
		if err != nil {
			var perr *activity.ParseError
			if errors.As(err, &perr) {
				perr.Row = i + 1
			}
			return nil, err
		}
		runs[i] = Run{
			Date:       date,
			DistanceKm: rec.Distance / 1000,
			Pace:       PaceFromSpeed(rec.AverageSpeed),
			HeartRate:  rec.AverageHeartrate,
			Cadence:    2 * rec.AverageCadence,
		}
	}

	s := &Summary{Runs: runs, TotalRuns: len(runs)}

	weeks, err := weekly.Aggregate(s.Distances(), epoch)
	if err != nil {
		return nil, fmt.Errorf("aggregating weekly distance: %w", err)
	}
	s.Weeks = weeks

	return s, nil
}

func (s *Summary) series(value func(Run) float64) []weekly.Sample {
	out := make([]weekly.Sample, len(s.Runs))
	for i, r := range s.Runs {
		out[i] = weekly.Sample{Time: r.Date, Value: value(r)}
	}
	return out
}

// Distances returns distance in km per run.
func (s *Summary) Distances() []weekly.Sample {
	return s.series(func(r Run) float64 { return r.DistanceKm })
}

// Paces returns pace in min/km per run.
func (s *Summary) Paces() []weekly.Sample {
	return s.series(func(r Run) float64 { return r.Pace })
}

// HeartRates returns average heart rate per run.
func (s *Summary) HeartRates() []weekly.Sample {
	return s.series(func(r Run) float64 { return r.HeartRate })
}

// Cadences returns cadence in steps per minute per run.
func (s *Summary) Cadences() []weekly.Sample {
	return s.series(func(r Run) float64 { return r.Cadence })
}

// DateRange returns the oldest and newest run dates.
func (s *Summary) DateRange() (first, last time.Time) {
	for i, r := range s.Runs {
		if i == 0 || r.Date.Before(first) {
			first = r.Date
		}
		if i == 0 || r.Date.After(last) {
			last = r.Date
		}
	}
	return first, last
}

// Pair is one point of a two-metric comparison.
type Pair struct {
	X, Y, Weight float64
}

// PaceVsHeartRate pairs pace with heart rate, weighted by distance. Runs
// without a heart rate or with a non-finite pace are skipped.
func (s *Summary) PaceVsHeartRate() []Pair {
	var pairs []Pair
	for _, r := range s.Runs {
		if math.IsNaN(r.HeartRate) || !finite(r.Pace) {
			continue
		}
		pairs = append(pairs, Pair{X: r.Pace, Y: r.HeartRate, Weight: r.DistanceKm})
	}
	return pairs
}

// PaceVsCadence pairs pace with cadence for runs with a finite pace.
func (s *Summary) PaceVsCadence() []Pair {
	var pairs []Pair
	for _, r := range s.Runs {
		if !finite(r.Pace) || !finite(r.Cadence) {
			continue
		}
		pairs = append(pairs, Pair{X: r.Pace, Y: r.Cadence, Weight: r.DistanceKm})
	}
	return pairs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
