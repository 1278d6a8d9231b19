package thresholds

import (
	"errors"
	"testing"

	"pipewatch/internal/models"
)

func TestSetRejectsBadOrdering(t *testing.T) {
	s := NewStore()

	if err := s.Set(models.MeasurementTemperature, "", 90, 80); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ErrOrdering, got %v", err)
	}

	if err := s.Set(models.MeasurementTemperature, "", 90, 90); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ErrOrdering for equal pair, got %v", err)
	}

	if _, err := s.Lookup(models.MeasurementTemperature, ""); !errors.Is(err, ErrUnknownMeasurement) {
		t.Fatal("rejected write must not install thresholds")
	}
}

func TestRejectedUpdateKeepsPriorConfig(t *testing.T) {
	s := NewStore()

	if err := s.Set(models.MeasurementPressure, "", 90, 105); err != nil {
		t.Fatalf("valid set failed: %v", err)
	}

	if err := s.Set(models.MeasurementPressure, "", 120, 100); !errors.Is(err, ErrOrdering) {
		t.Fatalf("expected ErrOrdering, got %v", err)
	}

	cfg, err := s.Lookup(models.MeasurementPressure, "")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if cfg.Warning != 90 || cfg.Critical != 105 {
		t.Errorf("prior config lost: got %+v", cfg)
	}
}

func TestPipelineOverride(t *testing.T) {
	s := NewStore()

	if err := s.Set(models.MeasurementTemperature, "", 80, 95); err != nil {
		t.Fatalf("global set failed: %v", err)
	}
	if err := s.Set(models.MeasurementTemperature, "sector-7", 70, 85); err != nil {
		t.Fatalf("pipeline set failed: %v", err)
	}

	cfg, err := s.Lookup(models.MeasurementTemperature, "sector-7")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if cfg.Warning != 70 || cfg.Critical != 85 {
		t.Errorf("expected pipeline override, got %+v", cfg)
	}

	cfg, err = s.Lookup(models.MeasurementTemperature, "sector-9")
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if cfg.Warning != 80 || cfg.Critical != 95 {
		t.Errorf("expected global fallback, got %+v", cfg)
	}
}

func TestUnknownMeasurement(t *testing.T) {
	s := NewStore()

	if _, err := s.Lookup(models.MeasurementPressure, "sector-1"); !errors.Is(err, ErrUnknownMeasurement) {
		t.Fatalf("expected ErrUnknownMeasurement, got %v", err)
	}
}
