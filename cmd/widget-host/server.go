package main

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/shopglue/chatwidget/pkg/config"
	"github.com/shopglue/chatwidget/pkg/logger"
	"github.com/shopglue/chatwidget/pkg/widget"
)

const sessionCookie = "chatwidget_host_session"

// Server embeds the widget core behind a small JSON API plus a websocket
// state stream, so a browser page can drive it without owning any state.
type Server struct {
	cfg    *config.Config
	widget *widget.Widget
	server *http.Server

	sendsPerMin int
	upgrader    websocket.Upgrader

	sessions map[string]time.Time
	limiters map[string]*rate.Limiter
	watchers map[*websocket.Conn]struct{}
	mu       sync.RWMutex
}

func NewServer(cfg *config.Config, w *widget.Widget) *Server {
	perMin := cfg.Host.SendsPerMin
	if perMin <= 0 {
		perMin = 30
	}
	return &Server{
		cfg:         cfg,
		widget:      w,
		sendsPerMin: perMin,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		sessions:    make(map[string]time.Time),
		limiters:    make(map[string]*rate.Limiter),
		watchers:    make(map[*websocket.Conn]struct{}),
	}
}

// limiterFor returns the send rate limiter for the caller, keyed by login
// session cookie, falling back to the remote address when auth is off.
func (s *Server) limiterFor(r *http.Request) *rate.Limiter {
	key := ""
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		key = cookie.Value
	}
	if key == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		} else {
			key = r.RemoteAddr
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(s.sendsPerMin)/60.0), s.sendsPerMin)
		s.limiters[key] = lim
	}
	return lim
}

func (s *Server) authEnabled() bool {
	return s.cfg.Host.Username != "" && s.cfg.Host.Password != ""
}

// createSession generates a random login token and stores it.
func (s *Server) createSession() string {
	b := make([]byte, 32)
	rand.Read(b)
	token := hex.EncodeToString(b)
	s.mu.Lock()
	s.sessions[token] = time.Now().Add(24 * time.Hour)
	s.mu.Unlock()
	return token
}

func (s *Server) validSession(r *http.Request) bool {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return false
	}
	s.mu.RLock()
	expiry, ok := s.sessions[cookie.Value]
	s.mu.RUnlock()
	return ok && time.Now().Before(expiry)
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() || s.validSession(r) {
			next(w, r)
			return
		}
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	}
}

func (s *Server) requireAuthAPI(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authEnabled() || s.validSession(r) {
			next(w, r)
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
}

func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.requireAuth(s.handlePage))
	mux.HandleFunc("/login", s.handleLogin)
	mux.HandleFunc("/logout", s.handleLogout)
	mux.HandleFunc("/api/state", s.requireAuthAPI(s.handleState))
	mux.HandleFunc("/api/send", s.requireAuthAPI(s.handleSend))
	mux.HandleFunc("/api/clear", s.requireAuthAPI(s.action(func(ctx context.Context) error { return s.widget.Clear(ctx) })))
	mux.HandleFunc("/api/open", s.requireAuthAPI(s.action(s.boolAction(s.widget.Open))))
	mux.HandleFunc("/api/close", s.requireAuthAPI(s.action(s.boolAction(s.widget.Close))))
	mux.HandleFunc("/api/minimize", s.requireAuthAPI(s.action(s.boolAction(s.widget.Minimize))))
	mux.HandleFunc("/api/maximize", s.requireAuthAPI(s.action(s.boolAction(s.widget.Maximize))))
	mux.HandleFunc("/ws", s.requireAuthAPI(s.handleWS))

	addr := fmt.Sprintf("%s:%d", s.cfg.Host.Host, s.cfg.Host.Port)
	s.server = &http.Server{Addr: addr, Handler: mux}

	logger.InfoCF("host", "widget host started",
		map[string]interface{}{"addr": addr, "auth": s.authEnabled()})

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("host", "server error", map[string]interface{}{"error": err.Error()})
		}
	}()

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.watchers {
		conn.Close()
	}
	s.watchers = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// boolAction adapts the widget's refusal-returning transitions to the
// action handler shape. A refused transition is not an API error.
func (s *Server) boolAction(fn func(context.Context) bool) func(context.Context) error {
	return func(ctx context.Context) error {
		fn(ctx)
		return nil
	}
}

func (s *Server) action(fn func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := fn(r.Context()); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.broadcast()
		writeJSON(w, http.StatusOK, s.widget.Snapshot())
	}
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.widget.Snapshot())
}

type sendRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if !s.limiterFor(r).Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
		return
	}

	if err := s.widget.Send(r.Context(), req.Message); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}

	s.broadcast()
	writeJSON(w, http.StatusOK, s.widget.Snapshot())
}

// handleWS upgrades the connection and pushes a snapshot on every state
// change. The client sends nothing; reads only detect disconnect.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF("host", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	// Initial snapshot goes out before the conn joins the broadcast set so
	// two goroutines never write to it at once.
	conn.WriteJSON(s.widget.Snapshot())

	s.mu.Lock()
	s.watchers[conn] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.watchers, conn)
			s.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast pushes the current snapshot to every connected watcher.
func (s *Server) broadcast() {
	snap := s.widget.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.watchers {
		if err := conn.WriteJSON(snap); err != nil {
			delete(s.watchers, conn)
			conn.Close()
		}
	}
}

// BroadcastNavigate tells connected pages to navigate; used as the widget's
// Navigator callback.
func (s *Server) BroadcastNavigate(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.watchers {
		if err := conn.WriteJSON(map[string]string{"navigate": url}); err != nil {
			delete(s.watchers, conn)
			conn.Close()
		}
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled() || s.validSession(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginPage(""))
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.ParseForm()
	username := r.FormValue("username")
	password := r.FormValue("password")

	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Host.Username)) == 1
	passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(s.cfg.Host.Password)) == 1
	if !usernameMatch || !passwordMatch {
		logger.WarnCF("host", "login failed", map[string]interface{}{"remote": r.RemoteAddr})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, loginPage("Invalid username or password"))
		return
	}

	token := s.createSession()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   86400,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.mu.Lock()
		delete(s.sessions, cookie.Value)
		s.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, demoPage(s.widget.Snapshot()))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
