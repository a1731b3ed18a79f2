package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeState struct {
	name       string
	terminated bool
}

func (f *fakeState) StateName() string { return f.name }
func (f *fakeState) Terminated() bool  { return f.terminated }

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	h := New(&fakeState{name: "awaiting_trigger"})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body.Status != "ok" || body.State != "awaiting_trigger" {
		t.Errorf("body = %+v", body)
	}
}

func TestReadyz_LoopChecker(t *testing.T) {
	tests := []struct {
		name       string
		state      *fakeState
		wantStatus int
		wantBody   string
	}{
		{"running", &fakeState{name: "capturing"}, http.StatusOK, "ok"},
		{"terminated", &fakeState{name: "terminated", terminated: true}, http.StatusServiceUnavailable, "fail"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := New(tc.state, LoopChecker("session", tc.state))
			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			if body := decode(t, rec); body.Status != tc.wantBody {
				t.Errorf("body status = %q, want %q", body.Status, tc.wantBody)
			}
		})
	}
}

func TestReadyz_ReportsFailingChecker(t *testing.T) {
	h := New(nil,
		Checker{Name: "a", Check: func(context.Context) error { return nil }},
		Checker{Name: "b", Check: func(context.Context) error { return errors.New("down") }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	body := decode(t, rec)
	if body.Checks["a"] != "ok" || body.Checks["b"] != "fail: down" {
		t.Errorf("checks = %v", body.Checks)
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New(nil).Register(mux)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}
