// Package apitest is an in-memory generation REST service for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"leo-remote/internal/api"
	"leo-remote/internal/snapshot"
)

// Server keeps generations and snapshots in memory.
type Server struct {
	mu          sync.Mutex
	generations []api.Generation
	snapshots   map[string][]snapshot.Snapshot // generation id → snapshots
	rollbacks   []string
	nextID      int
	failWith    int
}

// New creates an empty service.
func New() *Server {
	return &Server{snapshots: make(map[string][]snapshot.Snapshot)}
}

// Start serves s on a local listener that is closed by t.Cleanup.
func (s *Server) Start(t testing.TB) *httptest.Server {
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generations", s.handleCreateGeneration)
	mux.HandleFunc("GET /generations", s.handleListGenerations)
	mux.HandleFunc("GET /generations/{id}/iterations", s.handleListIterations)
	mux.HandleFunc("POST /generations/{id}/iterations/rollback", s.handleRollback)
	mux.HandleFunc("DELETE /snapshots/{id}", s.handleDeleteSnapshot)
	return s.failing(mux)
}

func (s *Server) failing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		code := s.failWith
		s.mu.Unlock()
		if code != 0 {
			writeError(w, code, http.StatusText(code))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetFailure switches failure injection on (code != 0) or off.
func (s *Server) SetFailure(code int) {
	s.mu.Lock()
	s.failWith = code
	s.mu.Unlock()
}

// AddSnapshot stores snap under its session id.
func (s *Server) AddSnapshot(snap snapshot.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.SessionID] = append(s.snapshots[snap.SessionID], snap)
}

// Generations returns the created generations.
func (s *Server) Generations() []api.Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]api.Generation(nil), s.generations...)
}

// Rollbacks returns the snapshot ids rolled back to, in order.
func (s *Server) Rollbacks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.rollbacks...)
}

func (s *Server) handleCreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req api.CreateGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" && req.GithubURL == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if req.MaxIterations <= 0 {
		writeError(w, http.StatusBadRequest, "maxIterations must be positive")
		return
	}

	s.mu.Lock()
	s.nextID++
	gen := api.Generation{
		ID:             fmt.Sprintf("gen-%d", s.nextID),
		AppID:          req.AppID,
		AppName:        req.AppName,
		Prompt:         req.Prompt,
		Mode:           req.Mode,
		GenerationType: req.GenerationType,
		Status:         "pending",
		MaxIterations:  req.MaxIterations,
		GithubURL:      req.GithubURL,
		DeploymentURL:  req.DeploymentURL,
		CreatedAt:      time.Now().UTC(),
	}
	if gen.AppID == "" {
		gen.AppID = fmt.Sprintf("app-%d", s.nextID)
	}
	s.generations = append(s.generations, gen)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, gen)
}

func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	gens := append([]api.Generation{}, s.generations...)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, gens)
}

func (s *Server) handleListIterations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	snaps := append([]snapshot.Snapshot{}, s.snapshots[id]...)
	s.mu.Unlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].IterationNumber < snaps[j].IterationNumber })
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req struct {
		SnapshotID string `json:"snapshotId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SnapshotID == "" {
		writeError(w, http.StatusBadRequest, "snapshotId is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range s.snapshots[id] {
		if snap.ID == req.SnapshotID {
			s.rollbacks = append(s.rollbacks, snap.ID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "snapshot not found")
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for gen, snaps := range s.snapshots {
		for i, snap := range snaps {
			if snap.ID != id {
				continue
			}
			if !snap.Deletable() {
				writeError(w, http.StatusForbidden, "only manual snapshots can be deleted")
				return
			}
			s.snapshots[gen] = append(snaps[:i:i], snaps[i+1:]...)
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
			return
		}
	}
	writeError(w, http.StatusNotFound, "snapshot not found")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	data, _ := json.Marshal(map[string]string{"error": msg})
	http.Error(w, string(data), code)
}
