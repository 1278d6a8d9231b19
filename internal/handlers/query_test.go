package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pipewatch/internal/alerting"
	"pipewatch/internal/forecast"
	"pipewatch/internal/middleware"
	"pipewatch/internal/models"
	"pipewatch/internal/thresholds"
)

type fakeForecasts struct {
	results map[string]*forecast.Result
}

func (f *fakeForecasts) Latest(deviceID string) (*forecast.Result, bool) {
	r, ok := f.results[deviceID]
	return r, ok
}

type fakeAlerts struct {
	alerts    []models.Alert
	resolved  []string
	resolveFn func(id string) error
}

func (f *fakeAlerts) Active(pipelineID string) []models.Alert {
	if pipelineID == "" {
		return f.alerts
	}
	var out []models.Alert
	for _, a := range f.alerts {
		if a.PipelineID == pipelineID {
			out = append(out, a)
		}
	}
	return out
}

func (f *fakeAlerts) Resolve(alertID, _ string) error {
	if f.resolveFn != nil {
		return f.resolveFn(alertID)
	}
	f.resolved = append(f.resolved, alertID)
	return nil
}

type fakeValves struct {
	states map[string]models.DeviceValveState
}

func (f *fakeValves) ValveState(deviceID string) (models.DeviceValveState, bool) {
	s, ok := f.states[deviceID]
	return s, ok
}

type fakeRemover struct {
	removed []string
}

func (f *fakeRemover) RemoveDevice(deviceID string) {
	f.removed = append(f.removed, deviceID)
}

func queryMux(forecasts ForecastSource, alerts AlertSource, valves ValveSource, store *thresholds.Store) *http.ServeMux {
	mux := http.NewServeMux()
	NewQueryHandler(forecasts, alerts, valves, &fakeRemover{}, store).Register(mux)
	return mux
}

func TestForecastEndpoint(t *testing.T) {
	mux := queryMux(&fakeForecasts{results: map[string]*forecast.Result{
		"dev-1": {DeviceID: "dev-1", GeneratedAt: time.Now().UTC()},
	}}, &fakeAlerts{}, &fakeValves{}, thresholds.NewStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast?device_id=dev-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast?device_id=dev-9", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing device_id status = %d, want 400", rec.Code)
	}
}

func TestAlertsEndpoint(t *testing.T) {
	alerts := &fakeAlerts{alerts: []models.Alert{
		{ID: "a-1", PipelineID: "sector-1"},
		{ID: "a-2", PipelineID: "sector-2"},
	}}
	mux := queryMux(&fakeForecasts{}, alerts, &fakeValves{}, thresholds.NewStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts?pipeline_id=sector-2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"count":1`)) {
		t.Errorf("expected count 1, body %s", rec.Body.String())
	}
}

func TestResolveEndpoint(t *testing.T) {
	alerts := &fakeAlerts{}
	mux := queryMux(&fakeForecasts{}, alerts, &fakeValves{}, thresholds.NewStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/resolve",
		bytes.NewBufferString(`{"alert_id": "a-1", "note": "fixed"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(alerts.resolved) != 1 || alerts.resolved[0] != "a-1" {
		t.Errorf("resolved = %v", alerts.resolved)
	}

	alerts.resolveFn = func(string) error { return alerting.ErrAlertNotFound }
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/resolve",
		bytes.NewBufferString(`{"alert_id": "nope"}`)))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown alert status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/resolve",
		bytes.NewBufferString(`{"note": "no id"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing alert_id status = %d, want 400", rec.Code)
	}
}

func TestValvesEndpoint(t *testing.T) {
	valves := &fakeValves{states: map[string]models.DeviceValveState{
		"dev-1": {DeviceID: "dev-1", Position: models.ValveClosed},
	}}
	mux := queryMux(&fakeForecasts{}, &fakeAlerts{}, valves, thresholds.NewStore())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/valves?device_id=dev-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte(`"current_state":"closed"`)) {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/valves?device_id=dev-9", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want 404", rec.Code)
	}
}

func TestRemoveDeviceEndpoint(t *testing.T) {
	remover := &fakeRemover{}
	mux := http.NewServeMux()
	NewQueryHandler(&fakeForecasts{}, &fakeAlerts{}, &fakeValves{}, remover, thresholds.NewStore()).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/devices?device_id=dev-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(remover.removed) != 1 || remover.removed[0] != "dev-1" {
		t.Errorf("removed = %v", remover.removed)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/devices", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing device_id status = %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/devices?device_id=dev-1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
}

type panickingForecasts struct{}

func (panickingForecasts) Latest(string) (*forecast.Result, bool) {
	panic("source unavailable")
}

func TestQueryRoutesUseMiddleware(t *testing.T) {
	mux := http.NewServeMux()
	NewQueryHandler(panickingForecasts{}, &fakeAlerts{}, &fakeValves{}, &fakeRemover{},
		thresholds.NewStore()).Register(mux, middleware.Recovery)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/forecast?device_id=dev-1", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("panicking handler status = %d, want 500", rec.Code)
	}
}

func TestThresholdsEndpoint(t *testing.T) {
	store := thresholds.NewStore()
	mux := queryMux(&fakeForecasts{}, &fakeAlerts{}, &fakeValves{}, store)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/thresholds",
		bytes.NewBufferString(`{"measurement_type": "temperature", "warning_threshold": 80, "critical_threshold": 95}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	cfg, err := store.Lookup(models.MeasurementTemperature, "")
	if err != nil || cfg.Warning != 80 || cfg.Critical != 95 {
		t.Errorf("thresholds not installed: %+v %v", cfg, err)
	}

	// warning >= critical must be rejected without changing the store.
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/thresholds",
		bytes.NewBufferString(`{"measurement_type": "temperature", "warning_threshold": 100, "critical_threshold": 95}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad ordering status = %d, want 400", rec.Code)
	}

	cfg, _ = store.Lookup(models.MeasurementTemperature, "")
	if cfg.Warning != 80 {
		t.Errorf("rejected update changed the store: %+v", cfg)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/thresholds",
		bytes.NewBufferString(`{"measurement_type": "humidity", "warning_threshold": 10, "critical_threshold": 20}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad measurement status = %d, want 400", rec.Code)
	}
}
