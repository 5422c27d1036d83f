// Package control implements the message channels between the runner and
// the supervised nodes: an inbound status endpoint on which the data and
// backend nodes announce readiness, and an outbound fire-and-forget
// shutdown request.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// StatusReady is the status value a node reports once it has finished
// initializing.
const StatusReady = "READY"

// statusMessage is the payload of a node status notification.
type statusMessage struct {
	Status string `json:"status"`
}

// Server receives status notifications from the supervised nodes.  It keeps
// only the latest value per node; there are no request/response semantics.
type Server struct {
	log zerolog.Logger

	mu     sync.Mutex
	ready  map[string]bool
	notify map[string]chan struct{}

	srv      *http.Server
	listener net.Listener
}

// NewServer creates a status server listening on addr.
func NewServer(addr string, logger zerolog.Logger) *Server {
	s := &Server{
		log:    logger,
		ready:  make(map[string]bool),
		notify: make(map[string]chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/nodes/{node}/status", s.handleStatus).Methods("POST")

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Start begins serving in the background.  It binds the listener
// synchronously so that a bad address fails here rather than later.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server failed")
		}
	}()
	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.srv.Addr
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	node := mux.Vars(r)["node"]

	var msg statusMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid status message", http.StatusBadRequest)
		return
	}

	if msg.Status == StatusReady {
		s.setReady(node)
		s.log.Info().Str("node", node).Msg("node is ready")
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setReady(node string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ready[node] = true
	select {
	case s.notifyLocked(node) <- struct{}{}:
	default:
	}
}

// notifyLocked returns the notify channel for node, creating it if needed.
// Caller must hold s.mu.
func (s *Server) notifyLocked(node string) chan struct{} {
	ch, ok := s.notify[node]
	if !ok {
		ch = make(chan struct{}, 1)
		s.notify[node] = ch
	}
	return ch
}

// Ready reports whether the node has announced readiness.
func (s *Server) Ready(node string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready[node]
}

// ReadyFunc returns a predicate suitable for the readiness gate.
func (s *Server) ReadyFunc(node string) func() bool {
	return func() bool { return s.Ready(node) }
}

// Notify returns a channel that receives a value when the node announces
// readiness.  The channel has last-value semantics, not a message queue.
func (s *Server) Notify(node string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyLocked(node)
}
