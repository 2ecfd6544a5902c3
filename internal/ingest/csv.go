// Package ingest reads charging-session telemetry batches from CSV and writes
// scored batches back out.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/HerbHall/chargewatch/pkg/telemetry"
)

var (
	// ErrMissingColumn is returned when a required column is absent from the header.
	ErrMissingColumn = errors.New("missing required column")
	// ErrMissingKey is returned when a row has an empty or NA station or session id.
	ErrMissingKey = errors.New("empty group key")
	// ErrBadNumber is returned when a measurement cell is not a number.
	ErrBadNumber = errors.New("invalid numeric value")
)

// ReadCSV reads a whole batch into memory. The raw cell text of every row is
// kept so that output columns match the input exactly.
func ReadCSV(r io.Reader) (*telemetry.Batch, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("read csv header: empty input")
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, req := range telemetry.RequiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, req)
		}
	}
	_, hasErrorCode := cols[telemetry.ColErrorCode]

	batch := &telemetry.Batch{Header: header, HasErrorCode: hasErrorCode}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", len(batch.Cells)+2, err)
		}
		if len(row) > len(header) {
			return nil, fmt.Errorf("read csv line %d: %d fields, header has %d", len(batch.Cells)+2, len(row), len(header))
		}
		// Pad short rows so every row has one cell per header column.
		for len(row) < len(header) {
			row = append(row, "")
		}
		batch.Cells = append(batch.Cells, row)
	}

	stationNumeric := numericColumn(batch.Cells, cols[telemetry.ColStationID])
	sessionNumeric := numericColumn(batch.Cells, cols[telemetry.ColSessionID])

	batch.Records = make([]telemetry.Record, len(batch.Cells))
	for i, row := range batch.Cells {
		rec, err := decodeRow(i, row, cols, stationNumeric, sessionNumeric)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		batch.Records[i] = rec
	}
	return batch, nil
}

func decodeRow(i int, row []string, cols map[string]int, stationNumeric, sessionNumeric bool) (telemetry.Record, error) {
	get := func(col string) string {
		return strings.TrimSpace(row[cols[col]])
	}

	rec := telemetry.Record{Row: i, Timestamp: get(telemetry.ColTimestamp), ErrorCode: math.NaN()}

	var err error
	if rec.StationID, err = parseKey(get(telemetry.ColStationID), stationNumeric); err != nil {
		return rec, fmt.Errorf("%s: %w", telemetry.ColStationID, err)
	}
	if rec.SessionID, err = parseKey(get(telemetry.ColSessionID), sessionNumeric); err != nil {
		return rec, fmt.Errorf("%s: %w", telemetry.ColSessionID, err)
	}

	fields := []struct {
		col string
		dst *float64
	}{
		{telemetry.ColVoltage, &rec.Voltage},
		{telemetry.ColCurrent, &rec.Current},
		{telemetry.ColPowerKW, &rec.PowerKW},
		{telemetry.ColEnergyKWh, &rec.EnergyKWh},
		{telemetry.ColDurationSec, &rec.DurationSec},
		{telemetry.ColTemperatureC, &rec.TemperatureC},
	}
	for _, f := range fields {
		v, ok := ParseNumber(get(f.col))
		if !ok {
			return rec, fmt.Errorf("%w in %s: %q", ErrBadNumber, f.col, get(f.col))
		}
		*f.dst = v
	}

	if idx, ok := cols[telemetry.ColErrorCode]; ok {
		raw := strings.TrimSpace(row[idx])
		if v, ok := ParseNumber(raw); ok {
			rec.ErrorCode = v
		} else {
			// Non-numeric codes ("E42") are faults in their own right.
			rec.ErrorText = true
		}
	}
	return rec, nil
}

func parseKey(raw string, numeric bool) (telemetry.Key, error) {
	if isMissingToken(raw) {
		return telemetry.Key{}, ErrMissingKey
	}
	k := telemetry.Key{Text: raw}
	if numeric {
		k.Num, _ = strconv.ParseFloat(raw, 64)
		k.Numeric = true
	}
	return k, nil
}

// numericColumn reports whether every non-empty cell of a column parses as a
// number, which decides how its keys are ordered and grouped.
func numericColumn(rows [][]string, idx int) bool {
	seen := false
	for _, row := range rows {
		raw := strings.TrimSpace(row[idx])
		if isMissingToken(raw) {
			continue
		}
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return false
		}
		seen = true
	}
	return seen
}

// ParseNumber parses a measurement cell. Empty cells and the usual NA markers
// are missing values (NaN). The second result is false for non-numeric text.
func ParseNumber(raw string) (float64, bool) {
	if isMissingToken(raw) {
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN(), false
	}
	return v, true
}

func isMissingToken(raw string) bool {
	switch strings.ToLower(raw) {
	case "", "nan", "na", "n/a", "null", "none":
		return true
	}
	return false
}

// WriteCSV writes a header and rows.
func WriteCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}
