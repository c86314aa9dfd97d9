package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/factorio-stats/backend/internal/cacher"
	"github.com/factorio-stats/backend/internal/state"
)

// Server is the read-only JSON projection over the state. Handlers only
// ever take read locks; all mutation happens in the updater and the
// detail fetcher.
type Server struct {
	stateLock *state.Lock
	cache     *cacher.Cache
	hub       *Hub
	loaded    atomic.Bool
}

// New returns a Server over the given state and projection cache.
func New(stateLock *state.Lock, cache *cacher.Cache) *Server {
	return &Server{
		stateLock: stateLock,
		cache:     cache,
		hub:       NewHub(),
	}
}

// Hub exposes the websocket hub so the cacher can push refreshes.
func (s *Server) Hub() *Hub { return s.hub }

// SetLoaded marks the state as available; until then the JSON routes
// answer 500. The /ws endpoint is not gated.
func (s *Server) SetLoaded() { s.loaded.Store(true) }

// Handler builds the route table wrapped in permissive CORS — the API
// is public read-only data, any origin may consume it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/server/", s.handleServerInfo)
	mux.HandleFunc("/main-page", s.handleMainPage)
	mux.HandleFunc("/search-servers", s.handleSearch)
	mux.HandleFunc("/ws", s.handleWS)
	return cors.AllowAll().Handler(mux)
}

// ListenAndServe serves the API on host:port.
func (s *Server) ListenAndServe(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("[server] listening on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) checkLoaded(w http.ResponseWriter) bool {
	if !s.loaded.Load() {
		http.Error(w, "State not loaded yet", http.StatusInternalServerError)
		return false
	}
	return true
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if !s.checkLoaded(w) {
		return
	}
	fmt.Fprint(w, "api works!")
}

func (s *Server) handleMainPage(w http.ResponseWriter, r *http.Request) {
	if !s.checkLoaded(w) {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(s.cache.MainPageJSON())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.checkLoaded(w) {
		return
	}
	hits, err := cacher.SearchServers(s.stateLock, r.URL.Query().Get("query"))
	if err != nil {
		http.Error(w, "invalid query", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(hits)
}

// handleServerInfo serves GET /server/<id>?time_begin=<m>&time_end=<m>:
// the sessions of one logical server inside the window, with player
// intervals clipped to it. Both bounds default to the last week.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	if !s.checkLoaded(w) {
		return
	}

	rawID := strings.TrimPrefix(r.URL.Path, "/server/")
	id, err := strconv.ParseUint(rawID, 10, 32)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	now := state.NowMinutes()
	timeBegin, ok := queryTime(r, "time_begin", now-state.Week)
	if !ok {
		http.NotFound(w, r)
		return
	}
	timeEnd, ok := queryTime(r, "time_end", now+1)
	if !ok || timeBegin >= timeEnd {
		http.NotFound(w, r)
		return
	}

	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	st := s.stateLock.S

	serverID := st.AsServerID(id)
	if serverID == 0 {
		http.NotFound(w, r)
		return
	}

	gameIDs := st.ServerGamesInWindow(serverID, timeBegin, timeEnd)
	games := make([]gameView, 0, len(gameIDs))
	for _, gameID := range gameIDs {
		games = append(games, convertGame(st, st.GetGame(gameID), timeBegin, timeEnd))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(serverView{Games: games})
}

func queryTime(r *http.Request, name string, fallback state.TimeMinutes) (state.TimeMinutes, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return state.TimeMinutes(v), true
}

var wsUpgrader = websocket.Upgrader{
	// same policy as the REST routes: anyone may read
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[server] ws upgrade error: %v", err)
		return
	}
	s.hub.Add(conn)
	// seed the new client with the current payload instead of leaving
	// it empty until the next cacher tick
	s.hub.mu.Lock()
	conn.WriteMessage(websocket.TextMessage, s.cache.MainPageJSON())
	s.hub.mu.Unlock()

	go func() {
		defer s.hub.Remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
