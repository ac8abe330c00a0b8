package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopglue/chatwidget/pkg/logger"
)

// Clearer is the slice of the backend the store needs for an explicit
// "clear history" request.
type Clearer interface {
	ClearSession(ctx context.Context, sessionID string) (*Session, error)
}

// Store owns the in-memory copy of the conversation: the cached session, the
// renderable message list, and the welcome flag. The backend stays the store
// of record; everything written here is optimistic and subject to being
// overwritten by the next authoritative response.
type Store struct {
	mu          sync.RWMutex
	session     *Session
	messages    []Message
	showWelcome bool
	now         func() time.Time
}

func NewStore() *Store {
	return &Store{
		showWelcome: true,
		now:         time.Now,
	}
}

// LoadFromSession replaces local state from an authoritative session. It
// selects the current thread by activity time, drops system/page_data
// messages, unwraps assistant envelopes, and sorts chronologically. Returns
// true when there is nothing to render and the caller should show the
// welcome message instead.
func (s *Store) LoadFromSession(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.session = sess
	s.messages = nil

	thread := sess.CurrentThread()
	if thread == nil {
		s.showWelcome = true
		return true
	}

	for _, m := range thread.Messages {
		if !m.Renderable() {
			continue
		}
		if m.Role == RoleAssistant {
			m.Content = ExtractAnswer(m.Content)
		}
		if m.ThreadID == "" {
			m.ThreadID = thread.ID
		}
		s.messages = append(s.messages, m)
	}

	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].CreatedAt.Before(s.messages[j].CreatedAt)
	})

	s.showWelcome = len(s.messages) == 0
	return s.showWelcome
}

// ApplySession swaps in an updated authoritative session without touching
// the rendered message list. Messages already shown are never retrofitted.
func (s *Store) ApplySession(sess *Session) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()
}

// Clear asks the backend for a fresh session/thread pair. On success the
// local threads and messages are replaced wholesale and the welcome flag is
// re-armed. A backend failure still clears the rendered messages (keeping
// the session id for the next sync) so the UI never contradicts the user's
// explicit clear request. The error is logged, not surfaced.
func (s *Store) Clear(ctx context.Context, backend Clearer) {
	s.mu.RLock()
	sessionID := ""
	if s.session != nil {
		sessionID = s.session.ID
	}
	s.mu.RUnlock()

	var fresh *Session
	var err error
	if backend != nil && sessionID != "" {
		fresh, err = backend.ClearSession(ctx, sessionID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.showWelcome = true

	if err != nil {
		logger.WarnCF("session", "clear failed, cleared locally only",
			map[string]interface{}{"session_id": sessionID, "error": err.Error()})
		return
	}
	if fresh != nil {
		s.session = fresh
	}
}

// RecordLocalMessage appends an optimistic message with a generated id and
// the current timestamp. Messages already appended are never removed or
// replaced.
func (s *Store) RecordLocalMessage(role Role, content string) Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := Message{
		ID:        fmt.Sprintf("local-%s", uuid.NewString()),
		Role:      role,
		Content:   content,
		Type:      TypeText,
		CreatedAt: s.now(),
	}
	if s.session != nil {
		if t := s.session.CurrentThread(); t != nil {
			msg.ThreadID = t.ID
		}
	}
	s.messages = append(s.messages, msg)
	s.showWelcome = false
	return msg
}

// Messages returns a snapshot of the renderable message list.
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// PastContext returns the chronologically merged last `limit` user and last
// `limit` assistant messages, each carrying its own id and timestamp.
func (s *Store) PastContext(limit int) []ContextEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users, assistants []Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		m := s.messages[i]
		switch m.Role {
		case RoleUser:
			if len(users) < limit {
				users = append(users, m)
			}
		case RoleAssistant:
			if len(assistants) < limit {
				assistants = append(assistants, m)
			}
		}
		if len(users) == limit && len(assistants) == limit {
			break
		}
	}

	merged := append(users, assistants...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})

	out := make([]ContextEntry, 0, len(merged))
	for _, m := range merged {
		out = append(out, ContextEntry{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	return out
}

// ResolveThreadID picks the thread a new message attaches to:
// explicit id > current thread by the activity-time rule.
func (s *Store) ResolveThreadID(explicit string) string {
	if explicit != "" {
		return explicit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session != nil {
		if t := s.session.CurrentThread(); t != nil {
			return t.ID
		}
	}
	return ""
}

// Session returns a copy of the authoritative session, threads included, for
// persistence. Optimistic local messages are not part of it; the backend is
// the store of record for history.
func (s *Store) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	cp.Threads = make([]Thread, len(s.session.Threads))
	copy(cp.Threads, s.session.Threads)
	return &cp
}

func (s *Store) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.ID
}

func (s *Store) WebsiteID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.WebsiteID
}

func (s *Store) Site() SiteConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return SiteConfig{}
	}
	return s.session.Site
}

func (s *Store) WindowState() WindowState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return WindowState{}
	}
	return s.session.WindowState
}

// SetWindowState records the durable window flags, enforcing text/voice
// mutual exclusion: opening one surface forces the other's flags false.
func (s *Store) SetWindowState(ws WindowState) WindowState {
	if ws.TextOpen && ws.VoiceOpen {
		ws.VoiceOpen = false
		ws.VoiceOpenWindowUp = false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		s.session = &Session{}
	}
	s.session.WindowState = ws
	return ws
}

// WelcomeArmed reports whether the welcome message should be shown on next
// open.
func (s *Store) WelcomeArmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.showWelcome
}

func (s *Store) DisarmWelcome() {
	s.mu.Lock()
	s.showWelcome = false
	s.mu.Unlock()
}

// Snapshot is the read-only view handed to the host for rendering.
type Snapshot struct {
	SessionID   string      `json:"sessionId"`
	Messages    []Message   `json:"messages"`
	WindowState WindowState `json:"windowState"`
	Site        SiteConfig  `json:"site"`
	ShowWelcome bool        `json:"showWelcome"`
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Messages:    make([]Message, len(s.messages)),
		ShowWelcome: s.showWelcome,
	}
	copy(snap.Messages, s.messages)
	if s.session != nil {
		snap.SessionID = s.session.ID
		snap.WindowState = s.session.WindowState
		snap.Site = s.session.Site
	}
	return snap
}
