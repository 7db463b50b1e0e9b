package forge

import (
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
)

////////////////////////////////////////////////////////////////////////////////
// HTTP API
////////////////////////////////////////////////////////////////////////////////

type API struct {
	nc        *nats.Conn
	store     *Store
	artifacts ArtifactStore
	waiters   *waiterHub

	opEvents            *opEventHub
	opHeartbeatInterval time.Duration

	system runtimeSystemInfo
}

// runtimeSystemInfo is resolved once at startup and reported verbatim by
// GET /api/system so operators can see which knobs actually took effect.
type runtimeSystemInfo struct {
	Version                 string
	HTTPAddr                string
	ArtifactsRoot           string
	ValidationModeRequested string
	ValidationModeEffective string
	ValidationModeReason    string
	NATSEmbedded            bool
	NATSStoreDir            string
	NATSStoreEphemeral      bool
}

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()

	// CRUD: environments
	mux.HandleFunc("/api/environments", a.handleEnvironments)
	mux.HandleFunc("/api/environments/", a.handleEnvironmentByID)
	mux.HandleFunc("/api/events/synthesis", a.handleSynthesisEvents)

	// Pure engine surface, nothing persisted
	mux.HandleFunc("/api/preview", a.handlePreview)
	mux.HandleFunc("/api/catalog", a.handleCatalog)

	// Ops: read
	mux.HandleFunc("/api/ops/", a.handleOpByID)

	// Runtime introspection
	mux.HandleFunc("/api/system", a.handleSystem)
	mux.HandleFunc("/api/healthz", a.handleHealthz)

	return a.withRequestLogging(mux)
}

type statusRecorder struct {
	http.ResponseWriter

	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(p []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(p)
}

// Flush keeps SSE streaming working through the logging wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (a *API) withRequestLogging(next http.Handler) http.Handler {
	apiLog := appLoggerForProcess().Source("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{
			ResponseWriter: w,
			status:         0,
		}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		dur := time.Since(started).Round(time.Millisecond)
		msg := fmt.Sprintf("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, dur)
		switch {
		case rec.status >= httpServerErrThreshold:
			apiLog.Errorf("%s", msg)
		case rec.status >= httpClientErrThreshold:
			apiLog.Warnf("%s", msg)
		default:
			apiLog.Infof("%s", msg)
		}
	})
}

// SynthesisEvent is the automation hook payload: external systems post these
// to drive environment lifecycle without using the per-ID REST routes.
type SynthesisEvent struct {
	Action        string          `json:"action"` // create|update|delete
	EnvironmentID string          `json:"environment_id,omitempty"`
	Spec          EnvironmentSpec `json:"spec"`
}
