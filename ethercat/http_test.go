package ethercat

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/KlaKalma/Ma-CNC/server"
)

func TestHTTPSlaves(t *testing.T) {
	tool, _ := newTool("0  0:0  OP  +  LC10E-608\n", nil)
	router := server.Router(NewHTTPWrapper(tool))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/slaves", nil))
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var slaves []Slave
	if err := json.NewDecoder(w.Body).Decode(&slaves); err != nil {
		t.Fatal(err)
	}
	if len(slaves) != 1 || slaves[0].State != Op {
		t.Errorf("slaves: %+v", slaves)
	}
}

func TestHTTPRequestState(t *testing.T) {
	tool, r := newTool("", nil)
	router := server.Router(NewHTTPWrapper(tool))
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/slaves/1/state", strings.NewReader(`{"str": "SAFEOP"}`))
	router.ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if joined := strings.Join(r.args, " "); joined != "states -p1 SAFEOP" {
		t.Errorf("argv: %q", joined)
	}
}

func TestHTTPRequestStateRejectsGarbage(t *testing.T) {
	tool, _ := newTool("", nil)
	router := server.Router(NewHTTPWrapper(tool))
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/slaves/1/state", strings.NewReader(`{"str": "SIDEWAYS"}`))
	router.ServeHTTP(w, req)
	if w.Code != 400 {
		t.Errorf("bad state should 400, got %d", w.Code)
	}
}

func TestHTTPUpload(t *testing.T) {
	tool, r := newTool("0x0050 80", nil)
	router := server.Router(NewHTTPWrapper(tool))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/slaves/0/sdo/2008/20", nil))
	if w.Code != 200 {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var f server.FloatT
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 80 {
		t.Errorf("value: %g", f.F64)
	}
	if joined := strings.Join(r.args, " "); joined != "upload -p0 -t uint16 0x2008 20" {
		t.Errorf("argv: %q", joined)
	}
}

func TestHTTPEndpointsListing(t *testing.T) {
	tool, _ := newTool("", nil)
	router := server.Router(NewHTTPWrapper(tool))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/endpoints", nil))
	if w.Code != 200 {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "GET /slaves") {
		t.Errorf("endpoints listing: %s", w.Body.String())
	}
}
