package hal

import (
	"net/http"

	"github.com/KlaKalma/Ma-CNC/server"

	"github.com/go-chi/chi"
)

// HTTPWrapper exposes a HAL over HTTP
type HTTPWrapper struct {
	// HAL is the underlying halcmd wrapper
	HAL *HAL

	// RouteTable maps routes to methods
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns an HTTPWrapper with the route table populated.
// Only get routes are exposed; HAL writes stay with the tuning CLI.
func NewHTTPWrapper(h *HAL) HTTPWrapper {
	w := HTTPWrapper{HAL: h}
	rt := server.RouteTable{
		server.MethodPath{Method: http.MethodGet, Path: "/running"}:    w.Running,
		server.MethodPath{Method: http.MethodGet, Path: "/pin/{pin}"}: w.Pin,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// Running reports whether a realtime session is up, json {"bool": true}
func (h HTTPWrapper) Running(w http.ResponseWriter, r *http.Request) {
	server.GetBool(func() (bool, error) {
		return h.HAL.Running(r.Context()), nil
	})(w, r)
}

// Pin reads a pin or parameter, json {"f64": value}
func (h HTTPWrapper) Pin(w http.ResponseWriter, r *http.Request) {
	server.GetFloat(func() (float64, error) {
		return h.HAL.Getp(r.Context(), chi.URLParam(r, "pin"))
	})(w, r)
}
