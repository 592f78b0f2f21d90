// Package weekly sums time-stamped values into calendar weeks that start on
// Monday, counted from a fixed epoch Monday.
package weekly

import (
	"errors"
	"sort"
	"time"

	"github.com/joshdurbin/strava-runstats/internal/logging"
)

// DefaultEpoch returns the first Monday of the reference deployment.
func DefaultEpoch() time.Time {
	return time.Date(2022, time.April, 18, 0, 0, 0, 0, time.UTC)
}

var (
	// ErrEmptyInput is returned when there is nothing to aggregate.
	ErrEmptyInput = errors.New("weekly: no samples to aggregate")
	// ErrEpochNotMonday is returned when the epoch does not fall on a Monday.
	ErrEpochNotMonday = errors.New("weekly: epoch is not a Monday")
)

// Sample is one value and the time it was recorded.
type Sample struct {
	Time  time.Time
	Value float64
}

// Week is the total of one bucket. End is the boundary that closes the
// bucket: bucket 0 holds everything before the epoch, bucket j holds samples
// strictly between boundary j-1 and boundary j.
type Week struct {
	End   time.Time
	Total float64
}

// ParseEpoch parses a YYYY-MM-DD date and checks that it is a Monday.
func ParseEpoch(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if t.Weekday() != time.Monday {
		return time.Time{}, ErrEpochNotMonday
	}
	return t, nil
}

// Boundaries returns epoch, epoch+7d, epoch+14d, ... up to and including the
// first boundary that is not before last. There is always at least one.
func Boundaries(epoch, last time.Time) []time.Time {
	b := epoch
	bounds := []time.Time{b}
	for b.Before(last) {
		b = b.AddDate(0, 0, 7)
		bounds = append(bounds, b)
	}
	return bounds
}

// Aggregate sums samples into weekly buckets anchored on epoch. Input order
// does not matter. A sample that falls exactly on a boundary is counted in
// neither adjacent week.
func Aggregate(samples []Sample, epoch time.Time) ([]Week, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	if epoch.Weekday() != time.Monday {
		return nil, ErrEpochNotMonday
	}

	sorted := make([]Sample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	bounds := Boundaries(epoch, sorted[len(sorted)-1].Time)
	weeks := make([]Week, len(bounds))
	for i, b := range bounds {
		weeks[i].End = b
	}

	for _, s := range sorted {
		// first boundary at or after the sample
		j := sort.Search(len(bounds), func(i int) bool {
			return !bounds[i].Before(s.Time)
		})
		if bounds[j].Equal(s.Time) {
			logging.Debug("sample on week boundary not counted",
				"time", s.Time.Format(time.RFC3339),
				"value", s.Value)
			continue
		}
		weeks[j].Total += s.Value
	}

	return weeks, nil
}

// Totals returns only the bucket sums of weeks.
func Totals(weeks []Week) []float64 {
	totals := make([]float64, len(weeks))
	for i, w := range weeks {
		totals[i] = w.Total
	}
	return totals
}
