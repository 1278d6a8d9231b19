package risk

import (
	"errors"
	"testing"

	"pipewatch/internal/models"
	"pipewatch/internal/thresholds"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	store := thresholds.NewStore()
	if err := store.Set(models.MeasurementTemperature, "", 80, 85); err != nil {
		t.Fatalf("seed thresholds: %v", err)
	}
	return NewClassifier(store)
}

func TestClassifyBoundaries(t *testing.T) {
	c := newTestClassifier(t)

	// Boundaries are inclusive toward the higher tier: v == threshold
	// counts as the higher tier.
	cases := []struct {
		value float64
		want  Tier
	}{
		{value: 0, want: TierNormal},
		{value: 79.999, want: TierNormal},
		{value: 80, want: TierWarning},
		{value: 82.5, want: TierWarning},
		{value: 84.999, want: TierWarning},
		{value: 85, want: TierDanger},
		{value: 200, want: TierDanger},
	}

	for _, tc := range cases {
		got, err := c.Classify(models.MeasurementTemperature, tc.value, "")
		if err != nil {
			t.Fatalf("classify(%v): %v", tc.value, err)
		}
		if got != tc.want {
			t.Errorf("classify(%v) = %v, want %v", tc.value, got, tc.want)
		}
	}
}

func TestClassifyUnknownMeasurement(t *testing.T) {
	c := newTestClassifier(t)

	_, err := c.Classify(models.MeasurementPressure, 50, "")
	if !errors.Is(err, thresholds.ErrUnknownMeasurement) {
		t.Fatalf("expected ErrUnknownMeasurement, got %v", err)
	}
}

func TestAggregate(t *testing.T) {
	cases := []struct {
		name  string
		tiers []Tier
		want  Tier
	}{
		{name: "empty", tiers: nil, want: TierNormal},
		{name: "all normal", tiers: []Tier{TierNormal, TierNormal}, want: TierNormal},
		{name: "warning wins", tiers: []Tier{TierNormal, TierWarning, TierNormal}, want: TierWarning},
		{name: "danger wins", tiers: []Tier{TierWarning, TierDanger, TierNormal}, want: TierDanger},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Aggregate(tc.tiers); got != tc.want {
				t.Errorf("Aggregate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTierSeverity(t *testing.T) {
	if TierNormal.Severity() != models.SeverityInfo {
		t.Error("NORMAL should map to info")
	}
	if TierWarning.Severity() != models.SeverityWarning {
		t.Error("WARNING should map to warning")
	}
	if TierDanger.Severity() != models.SeverityCritical {
		t.Error("DANGER should map to critical")
	}
}
