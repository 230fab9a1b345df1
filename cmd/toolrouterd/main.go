// Command toolrouterd runs the Smart Router as a small net/http
// service, grounded on viant-agently's adapter/http.Server: a thin
// struct wrapping the domain object, routes bound with Go 1.22+
// pattern-based ServeMux, one handler per concern.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	toolrouter "github.com/lizzyg/toolrouter"
)

// server wraps the Smart Router and tracks one Session per caller-
// supplied session id, so a stateless HTTP client can carry on a
// multi-turn conversation across requests.
type server struct {
	client   toolrouter.Client
	logger   *slog.Logger
	sessMu   sync.Mutex
	sessions map[string]*toolrouter.Session
}

func newServer(client toolrouter.Client, logger *slog.Logger) *server {
	return &server{client: client, logger: logger, sessions: make(map[string]*toolrouter.Session)}
}

func (s *server) sessionFor(id string) *toolrouter.Session {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = s.client.NewSession()
		s.sessions[id] = sess
	}
	return sess
}

type turnRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

type turnResponse struct {
	Reply string `json:"reply"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *server) handleTurns(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.SessionID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "session_id and text are required"})
		return
	}

	sess := s.sessionFor(req.SessionID)
	reply, err := s.client.HandleTurn(r.Context(), sess, req.Text)
	if err != nil {
		s.logger.Warn("handle turn failed", "session_id", req.SessionID, "error", err)
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Reply: reply})
}

func (s *server) handleCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"handles": s.client.CacheContents()})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.client.HealthSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func newMux(s *server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /turns", s.handleTurns)
	mux.HandleFunc("GET /cache", s.handleCache)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func main() {
	logger := slog.Default()

	client, err := toolrouter.NewFromFile()
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := client.Initialize(ctx); err != nil {
		logger.Error("failed to initialize router", "error", err)
		os.Exit(1)
	}

	addr := os.Getenv("TOOLROUTERD_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{Addr: addr, Handler: newMux(newServer(client, logger))}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("toolrouterd listening", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
	}
	if err := client.Shutdown(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
