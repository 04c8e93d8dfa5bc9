package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"collabstore/internal/registry"
	"collabstore/internal/session"
)

// Server is the websocket edge: it authenticates upgrade requests, resolves
// the store key from the path and hands accepted connections to sessions.
type Server struct {
	registry *registry.Registry
	token    string
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func New(reg *registry.Registry, authToken string, log zerolog.Logger) *Server {
	return &Server{
		registry: reg,
		token:    authToken,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/collab/{storeKey}", s.handleWS)
	r.HandleFunc("/api/collab", s.handleWS)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	// authenticate before the upgrade completes; rejected connections never
	// exchange an envelope
	if !s.authorized(r) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("rejecting unauthenticated connection")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	key := mux.Vars(r)["storeKey"]
	if key == "" {
		key = uuid.NewString()
		s.log.Warn().Str("storeKey", key).Msg("no store key specified, session will have no peers")
	}

	entry, err := s.registry.GetOrCreate(key)
	if err != nil {
		s.log.Error().Err(err).Str("storeKey", key).Msg("opening store failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	s.log.Info().Str("storeKey", key).Str("remote", r.RemoteAddr).Msg("session open")
	go session.New(conn, entry, key, s.log).Run()
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	if r.Header.Get("Authorization") == "Bearer "+s.token {
		return true
	}
	return r.URL.Query().Get("token") == s.token
}
