package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/hanko-field/orders/internal/domain"
	"github.com/hanko-field/orders/internal/repositories"
)

func TestNewRouter_DefaultMounts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
	}, func() time.Time { return now })
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(
		WithHealthRepository(health),
		WithHealthClock(func() time.Time { return now }),
		WithHealthBuildInfo(BuildInfo{Version: "1.2.3", StartedAt: now.Add(-time.Minute)}),
	)))

	t.Run("healthz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("expected content-type application/json, got %s", ct)
		}
		body := decodeBody[map[string]any](t, rr)
		if body["version"] != "1.2.3" || body["uptime"] != "1m0s" {
			t.Fatalf("unexpected healthz body %v", body)
		}
	})

	t.Run("readyz", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		body := decodeBody[readinessResponse](t, rr)
		if body.Checks["firestore"].Status != string(domain.HealthStatusOK) {
			t.Fatalf("unexpected readiness checks %+v", body.Checks)
		}
	})

	t.Run("default not implemented group", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected 501, got %d", rr.Code)
		}
	})

	t.Run("storefront fallback", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/stock:check", nil))
		if rr.Code != http.StatusNotImplemented {
			t.Fatalf("expected 501, got %d", rr.Code)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
		if rr.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rr.Code)
		}
		if body := decodeBody[errorBody](t, rr); body.Error != errorNotFoundCode {
			t.Fatalf("unexpected error code %q", body.Error)
		}
	})
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	health := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("topic missing") }},
	}, func() time.Time { return now })
	router := NewRouter(WithHealthHandlers(NewHealthHandlers(WithHealthRepository(health))))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	body := decodeBody[readinessResponse](t, rr)
	if len(body.Details) != 1 || body.Checks["pubsub"].Error != "topic missing" {
		t.Fatalf("unexpected readiness body %+v", body)
	}
}
