package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/rpc/replication"
	"github.com/lni/dragonboat/v4/logger"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/rcrowley/go-metrics/exp"
)

var Logger = logger.GetLogger("rpc")

// maxValueSize bounds the body of a PUT request
const maxValueSize = 64 << 20

// SessionLister reports the running replication sessions (implemented by replication.Hub)
type SessionLister interface {
	Sessions() []replication.SessionInfo
}

// Result is the response of the mutating endpoints
type Result struct {
	Applied bool   `json:"applied"`
	Value   []byte `json:"value,omitempty"` // previous or existing value, if any
}

// Info is the response of the info endpoint
type Info struct {
	Database db.DatabaseInfo           `json:"database"`
	Sessions []replication.SessionInfo `json:"sessions"`
}

// NewHandler returns the HTTP api of a replica:
//
//	GET    /kv/{key}                    value of the key (404 if there is none)
//	HEAD   /kv/{key}                    200 if the key has a live value, else 404
//	PUT    /kv/{key}                    Put, the body is the value
//	PUT    /kv/{key}?if=absent          PutIfAbsent
//	PUT    /kv/{key}?if=present         Replace
//	PUT    /kv/{key}?expected=<value>   ReplaceIf
//	DELETE /kv/{key}                    Remove
//	DELETE /kv/{key}?expected=<value>   RemoveIf
//	GET    /info                        database and session information
//	GET    /metrics                     process counters in prometheus format
//	GET    /debug/metrics               per peer metrics as json
//
// sessions and registry may be nil.
func NewHandler(store db.KVDB, sessions SessionLister, registry gometrics.Registry, debug bool) http.Handler {
	if registry == nil {
		registry = gometrics.NewRegistry()
	}
	h := &handler{store: store, sessions: sessions}

	mux := http.NewServeMux()
	route := func(pattern string, fn http.HandlerFunc) {
		if debug {
			fn = loggerMiddleware(fn)
		}
		mux.HandleFunc(pattern, fn)
	}

	route("GET /kv/{key...}", h.get)
	route("HEAD /kv/{key...}", h.has)
	route("PUT /kv/{key...}", h.put)
	route("DELETE /kv/{key...}", h.remove)
	route("GET /info", h.info)
	route("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		vm.WritePrometheus(w, true)
	})
	mux.Handle("GET /debug/metrics", exp.ExpHandler(registry))

	return mux
}

type handler struct {
	store    db.KVDB
	sessions SessionLister
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	value, ok := h.store.Get(r.PathValue("key"))
	if !ok {
		http.Error(w, "key not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(value); err != nil {
		Logger.Warningf("failed to write response: %v", err)
	}
}

func (h *handler) has(w http.ResponseWriter, r *http.Request) {
	if !h.store.Has(r.PathValue("key")) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) put(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxValueSize))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	var res Result
	switch {
	case query.Has("expected"):
		res.Applied = h.store.ReplaceIf(key, []byte(query.Get("expected")), body)
	case query.Get("if") == "absent":
		existing, loaded := h.store.PutIfAbsent(key, body)
		res = Result{Applied: !loaded, Value: existing}
	case query.Get("if") == "present":
		prev, replaced := h.store.Replace(key, body)
		res = Result{Applied: replaced, Value: prev}
	case query.Get("if") == "":
		res.Applied = h.store.Put(key, body)
	default:
		http.Error(w, "if must be absent or present", http.StatusBadRequest)
		return
	}
	writeJSON(w, res)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var res Result
	if query := r.URL.Query(); query.Has("expected") {
		res.Applied = h.store.RemoveIf(key, []byte(query.Get("expected")))
	} else {
		prev, removed := h.store.Remove(key)
		res = Result{Applied: removed, Value: prev}
	}
	writeJSON(w, res)
}

func (h *handler) info(w http.ResponseWriter, _ *http.Request) {
	info := Info{Database: h.store.GetInfo(), Sessions: []replication.SessionInfo{}}
	if h.sessions != nil {
		info.Sessions = h.sessions.Sessions()
	}
	writeJSON(w, info)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		Logger.Warningf("failed to write response: %v", err)
	}
}

// responseWriter captures the status code of a response
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware logs every request at debug level
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
