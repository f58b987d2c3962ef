package ethercat

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/KlaKalma/Ma-CNC/cia402"
	"github.com/KlaKalma/Ma-CNC/server"

	"github.com/go-chi/chi"
)

// HTTPWrapper exposes a Tool over HTTP
type HTTPWrapper struct {
	// Tool is the underlying CLI wrapper
	Tool *Tool

	// RouteTable maps routes to methods
	RouteTable server.RouteTable
}

// NewHTTPWrapper returns an HTTPWrapper with the route table populated
func NewHTTPWrapper(t *Tool) HTTPWrapper {
	w := HTTPWrapper{Tool: t}
	rt := server.RouteTable{
		server.MethodPath{Method: http.MethodGet, Path: "/slaves"}:                        w.Slaves,
		server.MethodPath{Method: http.MethodGet, Path: "/master"}:                        w.Master,
		server.MethodPath{Method: http.MethodPost, Path: "/slaves/{pos}/state"}:          w.RequestState,
		server.MethodPath{Method: http.MethodGet, Path: "/slaves/{pos}/sdo/{index}/{sub}"}: w.Upload,
	}
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

// Slaves lists the bus over HTTP
func (h HTTPWrapper) Slaves(w http.ResponseWriter, r *http.Request) {
	slaves, err := h.Tool.Slaves(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(slaves); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Master reports the master digest over HTTP
func (h HTTPWrapper) Master(w http.ResponseWriter, r *http.Request) {
	mi, err := h.Tool.Master(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(mi); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// RequestState requests an AL state change, body {"str": "OP"}
func (h HTTPWrapper) RequestState(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.Atoi(chi.URLParam(r, "pos"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s := server.StrT{}
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer r.Body.Close()
	state := ParseState(s.Str)
	if state == Unknown {
		http.Error(w, "unknown AL state "+s.Str, http.StatusBadRequest)
		return
	}
	if err := h.Tool.RequestState(r.Context(), pos, state); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Upload reads an SDO, URL /slaves/{pos}/sdo/{index}/{sub}?type=uint16,
// index in hex without the 0x prefix
func (h HTTPWrapper) Upload(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.Atoi(chi.URLParam(r, "pos"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	index, err := strconv.ParseUint(chi.URLParam(r, "index"), 16, 16)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub, err := strconv.ParseUint(chi.URLParam(r, "sub"), 0, 8)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dtype := cia402.ParseDtype(r.URL.Query().Get("type"))
	v, err := h.Tool.Upload(r.Context(), pos, uint16(index), uint8(sub), dtype)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: float64(v)}
	hp.EncodeAndRespond(w, r)
}
