package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lunehq/skillrunner/internal/engine"
	"github.com/lunehq/skillrunner/internal/logging"
	"github.com/lunehq/skillrunner/internal/store"
	"github.com/lunehq/skillrunner/internal/stream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // local-first deployment, single user
	},
}

type router struct {
	engine   *engine.Engine
	store    store.Store
	streamer *stream.Streamer
	log      *logging.Logger
}

// NewRouter exposes the engine's thin operational surface: health, metrics,
// enqueue-by-id, a read-only job view and a live output tail. Job creation
// itself belongs to the platform API, not to this engine.
func NewRouter(eng *engine.Engine, st store.Store, streamer *stream.Streamer, log *logging.Logger) http.Handler {
	r := &router{engine: eng, store: st, streamer: streamer, log: log.With("component", "httpapi")}
	m := http.NewServeMux()
	m.HandleFunc("GET /healthz", r.handleHealth)
	m.HandleFunc("POST /jobs/{id}/enqueue", r.handleEnqueue)
	m.HandleFunc("GET /jobs/{id}", r.handleJob)
	m.HandleFunc("GET /jobs/{id}/output", r.handleJobOutput)
	m.Handle("GET /metrics", promhttp.Handler())
	return r.requestLogging(m)
}

func (r *router) handleHealth(w http.ResponseWriter, req *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *router) handleEnqueue(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "job id required")
		return
	}
	job, err := r.store.GetJob(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if err := r.engine.Enqueue(req.Context(), job.Kind, job.ID); err != nil {
		respondWithError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"job_id": job.ID, "kind": job.Kind})
}

func (r *router) handleJob(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "job id required")
		return
	}
	job, err := r.store.GetJob(req.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	respondWithJSON(w, http.StatusOK, job)
}

// handleJobOutput upgrades to a websocket and tails the job's accepted output
// lines while a run is active.
func (r *router) handleJobOutput(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "job id required")
		return
	}
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Error("websocket upgrade failed", "error", err)
		return
	}
	r.streamer.Subscribe(id, conn)
	defer r.streamer.Unsubscribe(id, conn)

	for {
		if _, _, err := conn.NextReader(); err != nil {
			conn.Close()
			break
		}
	}
}

func (r *router) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, req)
		r.log.Info("http request", "method", req.Method, "path", req.URL.Path, "duration", time.Since(start).String())
	})
}
