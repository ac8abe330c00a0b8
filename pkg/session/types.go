package session

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeVoice    MessageType = "voice"
	TypePageData MessageType = "page_data"
)

// Message is one entry in a thread. User messages created locally before the
// backend round-trip completes carry a "local-" prefixed id.
type Message struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"threadId,omitempty"`
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Type      MessageType `json:"type,omitempty"`
	PageURL   string      `json:"pageUrl,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Renderable reports whether the message should ever reach the host UI or a
// context window. System and page_data messages are backend bookkeeping only.
func (m Message) Renderable() bool {
	return m.Role != RoleSystem && m.Type != TypePageData
}

type Thread struct {
	ID            string     `json:"id"`
	Messages      []Message  `json:"messages"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessageAt *time.Time `json:"lastMessageAt,omitempty"`
}

// ActivityTime is the ordering key for thread selection: lastMessageAt when
// present, createdAt otherwise.
func (t *Thread) ActivityTime() time.Time {
	if t.LastMessageAt != nil && !t.LastMessageAt.IsZero() {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}

// WindowState is the durable, server-synchronized projection of which UI
// surface is visible. At most one of text/voice may be open.
type WindowState struct {
	TextOpen          bool `json:"textOpen"`
	TextOpenWindowUp  bool `json:"textOpenWindowUp"`
	VoiceOpen         bool `json:"voiceOpen"`
	VoiceOpenWindowUp bool `json:"voiceOpenWindowUp"`
	CoreOpen          bool `json:"coreOpen"`
}

// SiteConfig is the per-website configuration snapshot carried on the
// session and refreshed from every authoritative response.
type SiteConfig struct {
	BotName            string   `json:"botName,omitempty"`
	AccentColor        string   `json:"accentColor,omitempty"`
	WelcomeText        string   `json:"welcomeText,omitempty"`
	InstructionText    string   `json:"instructionText,omitempty"`
	SuggestedQuestions []string `json:"suggestedQuestions,omitempty"`
	AllowAutoActions   bool     `json:"allowAutoActions,omitempty"`
}

type Session struct {
	ID          string      `json:"id"`
	WebsiteID   string      `json:"websiteId,omitempty"`
	Threads     []Thread    `json:"threads"`
	WindowState WindowState `json:"windowState"`
	Site        SiteConfig  `json:"site,omitempty"`
}

// CurrentThread returns the thread with the greatest activity time, or nil
// when the session has no threads. Array position is irrelevant.
func (s *Session) CurrentThread() *Thread {
	if s == nil || len(s.Threads) == 0 {
		return nil
	}
	best := &s.Threads[0]
	for i := 1; i < len(s.Threads); i++ {
		if s.Threads[i].ActivityTime().After(best.ActivityTime()) {
			best = &s.Threads[i]
		}
	}
	return best
}

// ContextEntry is one pastContext item sent with a chat request. Each entry
// keeps its own id and timestamp so the backend can deduplicate.
type ContextEntry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
