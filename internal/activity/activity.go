// Package activity holds the tabular form of fetched run activities: the
// five fields retained from the Strava payload, in API order.
package activity

import (
	"fmt"
	"math"
	"time"
)

// StartDateLayout is the fixed format of start_date values.
const StartDateLayout = "2006-01-02T15:04:05Z"

// RunType is the only activity type kept in a Table.
const RunType = "Run"

// Columns lists the retained fields in table order.
var Columns = []string{
	"distance",
	"average_speed",
	"average_heartrate",
	"average_cadence",
	"start_date",
}

// Record is one run. AverageHeartrate is NaN when the activity was recorded
// without a heart rate sensor.
type Record struct {
	Distance         float64 // meters
	AverageSpeed     float64 // m/s
	AverageHeartrate float64 // bpm
	AverageCadence   float64 // steps/min, one leg
	StartDate        string
}

// HasHeartrate reports whether the record carries a heart rate value.
func (r Record) HasHeartrate() bool {
	return !math.IsNaN(r.AverageHeartrate)
}

// Time parses StartDate.
func (r Record) Time() (time.Time, error) {
	t, err := time.Parse(StartDateLayout, r.StartDate)
	if err != nil {
		return time.Time{}, &ParseError{Field: "start_date", Value: r.StartDate, Err: err}
	}
	return t, nil
}

// Table is an ordered list of run records, newest first as returned by the
// API.
type Table []Record

// ParseError reports a malformed or missing field in a record.
type ParseError struct {
	Row   int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: invalid %s %q: %v", e.Row, e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
