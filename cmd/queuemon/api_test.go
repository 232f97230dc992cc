package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/achenlv/rabbitmq-zabbix-monitor/brokermetrics"
	"github.com/achenlv/rabbitmq-zabbix-monitor/internal/monitor"
)

func checkResults(expectedCode int, expectedBody string, rec *httptest.ResponseRecorder, t *testing.T) {
	t.Helper()

	if rec.Code != expectedCode {
		t.Errorf("Expected status %d, got %d", expectedCode, rec.Code)
	}

	if expectedBody != "" && !strings.Contains(rec.Body.String(), expectedBody) {
		t.Errorf("Expected body containing %q, got %q", expectedBody, rec.Body.String())
	}
}

func TestRunCycle(t *testing.T) {
	run := func(scope string) (*monitor.Summary, error) {
		return &monitor.Summary{SeriesObserved: 2, SamplesSubmitted: 2}, nil
	}

	req, _ := http.NewRequest("POST", "/run", nil)
	rec := httptest.NewRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) { runCycle(w, req, run) })

	handler.ServeHTTP(rec, req)

	checkResults(http.StatusOK, `"series_observed":2`, rec, t)
}

func TestRunCycleAlreadyRunning(t *testing.T) {
	run := func(scope string) (*monitor.Summary, error) {
		return nil, monitor.ErrCycleRunning
	}

	req, _ := http.NewRequest("POST", "/run", nil)
	rec := httptest.NewRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) { runCycle(w, req, run) })

	handler.ServeHTTP(rec, req)

	checkResults(http.StatusConflict, "already running", rec, t)
}

func TestRunCycleBadScope(t *testing.T) {
	run := func(scope string) (*monitor.Summary, error) {
		t.Error("run must not be called for a bad scope")
		return nil, nil
	}

	req, _ := http.NewRequest("POST", "/run?scope=bogus", nil)
	rec := httptest.NewRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) { runCycle(w, req, run) })

	handler.ServeHTTP(rec, req)

	checkResults(http.StatusBadRequest, "scope", rec, t)
}

func TestRunCycleMethod(t *testing.T) {
	run := func(scope string) (*monitor.Summary, error) { return nil, nil }

	req, _ := http.NewRequest("GET", "/run", nil)
	rec := httptest.NewRecorder()
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) { runCycle(w, req, run) })

	handler.ServeHTTP(rec, req)

	checkResults(http.StatusMethodNotAllowed, "disallowed method", rec, t)
}

func TestThresholdGetSet(t *testing.T) {
	runner := monitor.NewRunner(&monitor.RunnerConfig{
		Broker:           &brokermetrics.Stub{},
		Store:            monitor.NewStore(),
		DefaultThreshold: 15,
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) { threshold(w, req, runner) })

	req, _ := http.NewRequest("GET", "/threshold", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	checkResults(http.StatusOK, "15", rec, t)

	req, _ = http.NewRequest("POST", "/threshold?value=40", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	checkResults(http.StatusOK, "set to 40", rec, t)

	if runner.Threshold() != 40 {
		t.Errorf("Expected threshold 40, got %g", runner.Threshold())
	}

	req, _ = http.NewRequest("POST", "/threshold?value=-3", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	checkResults(http.StatusOK, "positive number", rec, t)

	if runner.Threshold() != 40 {
		t.Errorf("Expected threshold unchanged, got %g", runner.Threshold())
	}
}
