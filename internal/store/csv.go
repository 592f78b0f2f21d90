package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joshdurbin/strava-runstats/internal/activity"
)

// CSV stores the table as a CSV file with one column per retained field.
type CSV struct {
	Path string
}

// NewCSV returns a CSV store at path.
func NewCSV(path string) *CSV {
	return &CSV{Path: path}
}

// Save writes the table to a temporary file and renames it into place, so a
// failure never leaves a half-written snapshot behind.
func (c *CSV) Save(_ context.Context, table activity.Table) error {
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(c.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteCSV(tmp, table); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("replacing snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot, returning ErrNoSnapshot if the file is missing.
func (c *CSV) Load(_ context.Context) (activity.Table, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("opening snapshot: %w", err)
	}
	defer f.Close()

	return ReadCSV(f)
}

// WriteCSV encodes table with a header row. A missing heart rate is written
// as an empty cell.
func WriteCSV(w io.Writer, table activity.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(activity.Columns); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range table {
		hr := ""
		if r.HasHeartrate() {
			hr = formatFloat(r.AverageHeartrate)
		}
		row := []string{
			formatFloat(r.Distance),
			formatFloat(r.AverageSpeed),
			hr,
			formatFloat(r.AverageCadence),
			r.StartDate,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV decodes a snapshot. A leading unnamed index column, as written by
// pandas, is ignored.
func ReadCSV(r io.Reader) (activity.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("snapshot is empty")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}

	offset := 0
	if len(header) == len(activity.Columns)+1 && header[0] == "" {
		offset = 1
	}
	if len(header)-offset != len(activity.Columns) {
		return nil, fmt.Errorf("unexpected header %v, want %v", header, activity.Columns)
	}
	for i, name := range activity.Columns {
		if header[i+offset] != name {
			return nil, fmt.Errorf("unexpected column %q at position %d, want %q", header[i+offset], i+offset, name)
		}
	}

	var table activity.Table
	for row := 1; ; row++ {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", row, err)
		}
		if len(fields)-offset != len(activity.Columns) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", row, len(activity.Columns), len(fields)-offset)
		}
		rec, err := parseRow(row, fields[offset:])
		if err != nil {
			return nil, err
		}
		table = append(table, rec)
	}

	return table, nil
}

func parseRow(row int, fields []string) (activity.Record, error) {
	var rec activity.Record
	var err error

	parse := func(field, value string) float64 {
		if err != nil {
			return 0
		}
		v, perr := strconv.ParseFloat(value, 64)
		if perr != nil {
			err = &activity.ParseError{Row: row, Field: field, Value: value, Err: perr}
		}
		return v
	}

	rec.Distance = parse("distance", fields[0])
	rec.AverageSpeed = parse("average_speed", fields[1])
	rec.AverageHeartrate = math.NaN()
	if fields[2] != "" {
		rec.AverageHeartrate = parse("average_heartrate", fields[2])
	}
	// cadence is absent for runs recorded without a footpod or watch sensor
	if fields[3] != "" {
		rec.AverageCadence = parse("average_cadence", fields[3])
	}
	rec.StartDate = fields[4]
	if rec.StartDate == "" && err == nil {
		err = &activity.ParseError{Row: row, Field: "start_date", Value: "", Err: errors.New("missing value")}
	}

	return rec, err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
