package models

import (
	"errors"
	"math"
	"testing"
	"time"
)

func validReading() Reading {
	return Reading{
		PipelineID:  "sector-1",
		DeviceID:    "dev-1",
		Measurement: MeasurementTemperature,
		Value:       72.5,
		Timestamp:   time.Now().UTC().Add(-time.Minute),
	}
}

func TestReadingValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Reading)
		wantErr error
	}{
		{name: "valid", mutate: func(*Reading) {}, wantErr: nil},
		{name: "empty pipeline", mutate: func(r *Reading) { r.PipelineID = "" }, wantErr: ErrEmptyPipelineID},
		{name: "empty device", mutate: func(r *Reading) { r.DeviceID = "" }, wantErr: ErrEmptyDeviceID},
		{name: "bad measurement", mutate: func(r *Reading) { r.Measurement = "humidity" }, wantErr: ErrInvalidMeasurement},
		{name: "nan value", mutate: func(r *Reading) { r.Value = math.NaN() }, wantErr: ErrNonFiniteValue},
		{name: "inf value", mutate: func(r *Reading) { r.Value = math.Inf(1) }, wantErr: ErrNonFiniteValue},
		{name: "zero timestamp", mutate: func(r *Reading) { r.Timestamp = time.Time{} }, wantErr: ErrZeroTimestamp},
		{name: "future timestamp", mutate: func(r *Reading) { r.Timestamp = time.Now().Add(time.Hour) }, wantErr: ErrFutureTimestamp},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validReading()
			tc.mutate(&r)
			if err := r.Validate(); !errors.Is(err, tc.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestReadingNormalize(t *testing.T) {
	r := Reading{
		PipelineID:  "  sector-1  ",
		DeviceID:    " dev-1 ",
		Measurement: " TEMPERATURE ",
	}
	r.Normalize()

	if r.PipelineID != "sector-1" {
		t.Errorf("pipeline = %q", r.PipelineID)
	}
	if r.DeviceID != "dev-1" {
		t.Errorf("device = %q", r.DeviceID)
	}
	if r.Measurement != MeasurementTemperature {
		t.Errorf("measurement = %q", r.Measurement)
	}
}

func TestParseTimestamp(t *testing.T) {
	cases := []string{
		"2026-08-01T10:30:00Z",
		"2026-08-01T10:30:00.123Z",
		"2026-08-01T10:30:00",
		"2026-08-01 10:30:00",
	}

	for _, ts := range cases {
		parsed, err := ParseTimestamp(ts)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) failed: %v", ts, err)
			continue
		}
		if parsed.Year() != 2026 || parsed.Hour() != 10 {
			t.Errorf("ParseTimestamp(%q) = %v", ts, parsed)
		}
	}

	if _, err := ParseTimestamp("yesterday"); !errors.Is(err, ErrInvalidTimestamp) {
		t.Fatalf("expected ErrInvalidTimestamp, got %v", err)
	}
}

func TestKindForMeasurement(t *testing.T) {
	if KindForMeasurement(MeasurementTemperature) != KindTemperature {
		t.Error("temperature maps to temperature kind")
	}
	if KindForMeasurement(MeasurementPressure) != KindPressure {
		t.Error("pressure maps to pressure kind")
	}
}

func TestValveActionTargetPosition(t *testing.T) {
	if ActionClose.TargetPosition() != ValveClosed {
		t.Error("close targets closed")
	}
	if ActionOpen.TargetPosition() != ValveOpen {
		t.Error("open targets open")
	}
}

func TestSeverityRank(t *testing.T) {
	if !(SeverityCritical.Rank() > SeverityWarning.Rank() && SeverityWarning.Rank() > SeverityInfo.Rank()) {
		t.Error("severity ranks not strictly ordered")
	}
}
