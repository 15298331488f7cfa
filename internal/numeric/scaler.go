package numeric

import (
	"errors"
	"fmt"
)

// ErrNotFitted is returned by Transform before Fit.
var ErrNotFitted = errors.New("scaler is not fitted")

// MinMaxScaler rescales each feature column to [0, 1] relative to the
// range observed during Fit. A column whose observed range is zero
// scales to 0 for every row.
type MinMaxScaler struct {
	mins   []float64
	maxs   []float64
	fitted bool
}

// NewMinMaxScaler creates an unfitted scaler.
func NewMinMaxScaler() *MinMaxScaler {
	return &MinMaxScaler{}
}

// Fit records the per-column minimum and maximum of rows.
// Every row must have the same number of columns.
func (s *MinMaxScaler) Fit(rows [][]float64) error {
	s.mins, s.maxs = nil, nil
	s.fitted = false

	if len(rows) == 0 {
		s.fitted = true
		return nil
	}

	width := len(rows[0])
	mins := make([]float64, width)
	maxs := make([]float64, width)
	copy(mins, rows[0])
	copy(maxs, rows[0])

	for i, row := range rows {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, expected %d", i, len(row), width)
		}
		for j, v := range row {
			if v < mins[j] {
				mins[j] = v
			}
			if v > maxs[j] {
				maxs[j] = v
			}
		}
	}

	s.mins, s.maxs = mins, maxs
	s.fitted = true
	return nil
}

// Transform scales rows with the fitted ranges and returns new rows.
func (s *MinMaxScaler) Transform(rows [][]float64) ([][]float64, error) {
	if !s.fitted {
		return nil, ErrNotFitted
	}

	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(s.mins) {
			return nil, fmt.Errorf("row %d has %d features, scaler was fitted on %d", i, len(row), len(s.mins))
		}
		scaled := make([]float64, len(row))
		for j, v := range row {
			span := s.maxs[j] - s.mins[j]
			if span == 0 {
				continue
			}
			scaled[j] = (v - s.mins[j]) / span
		}
		out[i] = scaled
	}
	return out, nil
}

// FitTransform fits on rows and scales them in one call.
func (s *MinMaxScaler) FitTransform(rows [][]float64) ([][]float64, error) {
	if err := s.Fit(rows); err != nil {
		return nil, err
	}
	return s.Transform(rows)
}

