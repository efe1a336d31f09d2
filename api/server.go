// Package api serves the JSON API consumed by the web front end. Callers
// are identified by a header set by the authenticating reverse proxy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/projecteru2/core/log"

	"github.com/projecteru2/hatchery/config"
	"github.com/projecteru2/hatchery/progress"
	"github.com/projecteru2/hatchery/requests"
	"github.com/projecteru2/hatchery/types"
)

// VMs is the lifecycle surface the API exposes.
type VMs interface {
	IsAdmin(user string) bool
	Ready(ctx context.Context) bool
	List(ctx context.Context, user string) ([]types.VMInfo, error)
	Create(ctx context.Context, user string, spec types.VMSpec, tracker progress.Tracker) (*types.VMInfo, error)
	Start(ctx context.Context, user, vm string, tracker progress.Tracker) error
	Stop(ctx context.Context, user, vm string) error
	Delete(ctx context.Context, user, vm string) error
	Console(ctx context.Context, user, vm string) (string, error)
	Specs(ctx context.Context, user, vm string) (*types.VMMeta, error)
}

// Requests is the capacity request log.
type Requests interface {
	Submit(ctx context.Context, sub requests.Submission) (*types.CapacityRequest, error)
	List(ctx context.Context, f requests.Filter) ([]*types.CapacityRequest, error)
	Decide(ctx context.Context, id string, status types.RequestStatus, notes string) (*types.CapacityRequest, error)
}

type ctxKey int

const requestIDKey ctxKey = 0

const shutdownGrace = 10 * time.Second

// Server is the HTTP API server.
type Server struct {
	vms    VMs
	reqs   Requests
	header string
	mux    *http.ServeMux
}

// New creates a Server.
func New(conf *config.Config, vms VMs, reqs Requests) *Server {
	s := &Server{vms: vms, reqs: reqs, header: conf.AuthHeader, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/list_vms", s.authed(s.handleList))
	s.mux.HandleFunc("POST /api/create_vm", s.authed(s.handleCreate))
	s.mux.HandleFunc("POST /api/launch_vm", s.authed(s.handleStart))
	s.mux.HandleFunc("POST /api/halt_vm", s.authed(s.handleStop))
	s.mux.HandleFunc("POST /api/delete_vm", s.authed(s.handleDelete))
	s.mux.HandleFunc("GET /api/get_vnc_url/{vm}", s.authed(s.handleConsole))
	s.mux.HandleFunc("GET /api/vm_specs/{vm}", s.authed(s.handleSpecs))
	s.mux.HandleFunc("POST /api/request_vm_capacity", s.authed(s.handleSubmitRequest))
	s.mux.HandleFunc("GET /api/capacity_requests", s.authed(s.handleListRequests))
	s.mux.HandleFunc("POST /api/capacity_requests/{id}/{decision}", s.authed(s.handleDecide))
}

// ServeHTTP tags each request with an ID and logs its outcome.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	ctx := context.WithValue(r.Context(), requestIDKey, id)
	w.Header().Set("X-Request-Id", id)
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	start := time.Now()
	s.mux.ServeHTTP(rec, r.WithContext(ctx))
	log.WithFunc("api.ServeHTTP").Infof(ctx, "%s %s %s -> %d (%s)", id, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
}

// Serve runs the server on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second, //nolint:mnd
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	log.WithFunc("api.Serve").Infof(ctx, "API listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// authed rejects requests without a caller identity.
func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, user string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(s.header)
		if user == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r, user)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, response{Success: false, Message: msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)) //nolint:mnd
	if err := dec.Decode(v); err != nil {
		return types.Validationf("malformed JSON body")
	}
	return nil
}
