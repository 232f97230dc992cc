package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/achenlv/rabbitmq-zabbix-monitor/internal/monitor"
)

type APIConfig struct {
	Listen string
}

var incorrectMethod string = "disallowed method\n"

func initAPI(c *APIConfig, runner *monitor.Runner, run func(scope string) (*monitor.Summary, error)) {
	m := http.NewServeMux()

	m.HandleFunc("/run", func(w http.ResponseWriter, req *http.Request) { runCycle(w, req, run) })
	m.HandleFunc("/threshold", func(w http.ResponseWriter, req *http.Request) { threshold(w, req, runner) })
	m.HandleFunc("/state", func(w http.ResponseWriter, req *http.Request) { state(w, req, runner.Store()) })

	go func() {
		err := http.ListenAndServe(c.Listen, m)
		if err != nil {
			log.Fatal(err)
		}
	}()
}

// runCycle triggers one reconciliation cycle
// and returns its summary. An overlapping
// trigger is rejected with 409 rather than
// queued.
func runCycle(w http.ResponseWriter, req *http.Request, run func(scope string) (*monitor.Summary, error)) {
	logReq(req)
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		io.WriteString(w, incorrectMethod)
		return
	}

	scope := req.URL.Query().Get("scope")
	if scope != "" && scope != "all" {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "scope must be empty or 'all'\n")
		return
	}

	summary, err := run(scope)
	if err != nil {
		switch {
		case errors.Is(err, monitor.ErrCycleRunning):
			w.WriteHeader(http.StatusConflict)
			io.WriteString(w, "already running\n")
		case errors.Is(err, monitor.ErrNoSeries):
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, err.Error()+"\n")
		default:
			w.WriteHeader(http.StatusInternalServerError)
			io.WriteString(w, err.Error()+"\n")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// threshold reads or replaces the default
// breach threshold at runtime.
func threshold(w http.ResponseWriter, req *http.Request, runner *monitor.Runner) {
	logReq(req)

	switch req.Method {
	case http.MethodGet:
		resp := fmt.Sprintf("Default threshold is %g\n", runner.Threshold())
		io.WriteString(w, resp)
	case http.MethodPost:
		value := req.URL.Query().Get("value")
		if value == "" {
			io.WriteString(w, "Value param must be supplied\n")
			return
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v <= 0 {
			io.WriteString(w, "Value param must be a positive number\n")
			return
		}

		runner.SetThreshold(v)
		resp := fmt.Sprintf("Default threshold set to %g\n", v)
		io.WriteString(w, resp)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		io.WriteString(w, incorrectMethod)
	}
}

// state dumps the series store.
func state(w http.ResponseWriter, req *http.Request, store *monitor.Store) {
	logReq(req)
	if req.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		io.WriteString(w, incorrectMethod)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(store.Snapshot())
}

func logReq(req *http.Request) {
	log.Printf("[API] %s %s %s\n", req.Method, req.RequestURI, req.RemoteAddr)
}
