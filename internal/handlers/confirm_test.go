package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"pipewatch/internal/actuation"
)

type fakeConfirmer struct {
	known   map[string]bool
	lastCmd string
	outcome actuation.Outcome
}

func (f *fakeConfirmer) Confirm(_, commandID string, outcome actuation.Outcome) bool {
	f.lastCmd = commandID
	f.outcome = outcome
	return f.known[commandID]
}

func postConfirm(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/actuation/confirm", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestConfirmMatchedCommand(t *testing.T) {
	confirmer := &fakeConfirmer{known: map[string]bool{"cmd-1": true}}
	h := NewConfirmHandler(confirmer)

	rec := postConfirm(h, `{"device_id": "dev-1", "command_id": "cmd-1", "outcome": "confirmed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if confirmer.outcome != actuation.OutcomeConfirmed {
		t.Errorf("outcome = %v", confirmer.outcome)
	}
}

func TestConfirmUnknownCommand(t *testing.T) {
	h := NewConfirmHandler(&fakeConfirmer{known: map[string]bool{}})

	rec := postConfirm(h, `{"device_id": "dev-1", "command_id": "cmd-9", "outcome": "failed"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestConfirmValidation(t *testing.T) {
	h := NewConfirmHandler(&fakeConfirmer{known: map[string]bool{"cmd-1": true}})

	rec := postConfirm(h, `{"device_id": "dev-1", "outcome": "confirmed"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing command_id status = %d, want 400", rec.Code)
	}

	rec = postConfirm(h, `{"device_id": "dev-1", "command_id": "cmd-1", "outcome": "maybe"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad outcome status = %d, want 400", rec.Code)
	}
}
