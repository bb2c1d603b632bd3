package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func doHealthRequest(t *testing.T, h *Handler) (*httptest.ResponseRecorder, response) {
	t.Helper()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	h.ServeHTTP(rec, req)

	var body response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return rec, body
}

func TestHandler_NoChecksIsHealthy(t *testing.T) {
	h := NewHandler("version=test")

	rec, body := doHealthRequest(t, h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", body.Status)
	}
	if body.Version != "version=test" {
		t.Fatalf("expected version label, got %q", body.Version)
	}
}

func TestHandler_AllChecksPass(t *testing.T) {
	h := NewHandler("v")
	h.RegisterCheck("storage", func() error { return nil })
	h.RegisterCheck("broker", func() error { return nil })

	rec, body := doHealthRequest(t, h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(body.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(body.Components))
	}
	for name, result := range body.Components {
		if result.Status != StatusHealthy {
			t.Errorf("component %s: expected healthy, got %s", name, result.Status)
		}
	}
}

func TestHandler_FailingCheckIs503(t *testing.T) {
	h := NewHandler("v")
	h.RegisterCheck("storage", func() error { return nil })
	h.RegisterCheck("broker", func() error { return errors.New("connection refused") })

	rec, body := doHealthRequest(t, h)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if body.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy, got %s", body.Status)
	}
	broker := body.Components["broker"]
	if broker.Status != StatusUnhealthy || broker.Error != "connection refused" {
		t.Fatalf("unexpected broker result: %+v", broker)
	}
	if body.Components["storage"].Status != StatusHealthy {
		t.Fatal("healthy component must stay healthy in report")
	}
}

func TestHandler_RegisterCheckReplaces(t *testing.T) {
	h := NewHandler("v")
	h.RegisterCheck("storage", func() error { return errors.New("down") })
	h.RegisterCheck("storage", func() error { return nil })

	rec, _ := doHealthRequest(t, h)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected replacement check to win, got %d", rec.Code)
	}
}
