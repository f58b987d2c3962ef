package monitor

import (
	"encoding/json"
	"net/http"

	"github.com/KlaKalma/Ma-CNC/server"
)

// HTTPWrapper exposes a Monitor's captured data over HTTP
type HTTPWrapper struct {
	// Monitor is the underlying sampler
	Monitor *Monitor

	// RouteTable maps routes to methods
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns an HTTPWrapper with the route table populated
func NewHTTPWrapper(m *Monitor) HTTPWrapper {
	w := HTTPWrapper{Monitor: m}
	rt := server.RouteTable{
		server.MethodPath{Method: http.MethodGet, Path: "/buffers"}: m.HTTPYield,
		server.MethodPath{Method: http.MethodGet, Path: "/summary"}: w.Summary,
		server.MethodPath{Method: http.MethodGet, Path: "/line"}:    w.Line,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// Summary serves the per-axis aggregates
func (h HTTPWrapper) Summary(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(h.Monitor.Summary()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Line serves the one-line readout, json {"str": "..."}
func (h HTTPWrapper) Line(w http.ResponseWriter, r *http.Request) {
	server.GetString(func() (string, error) {
		return h.Monitor.Line(), nil
	})(w, r)
}
