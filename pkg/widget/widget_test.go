package widget

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopglue/chatwidget/pkg/cache"
	"github.com/shopglue/chatwidget/pkg/client"
	"github.com/shopglue/chatwidget/pkg/config"
	"github.com/shopglue/chatwidget/pkg/session"
)

func openTestCache(t *testing.T) *cache.Store {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type fakeBackend struct {
	mu sync.Mutex

	connectResp *client.ConnectResponse
	connectErr  error

	chatReply client.Reply
	chatErr   error
	chatBlock chan struct{}
	chatReqs  []client.ChatRequest

	clearResp *session.Session
	clearErr  error

	welcomeMsgs  []string
	welcomeCalls int

	windowStates []session.WindowState
}

func (f *fakeBackend) Connect(ctx context.Context) (*client.ConnectResponse, error) {
	return f.connectResp, f.connectErr
}

func (f *fakeBackend) Chat(ctx context.Context, req client.ChatRequest) (client.Reply, error) {
	f.mu.Lock()
	f.chatReqs = append(f.chatReqs, req)
	block := f.chatBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.chatReply, f.chatErr
}

func (f *fakeBackend) ClearSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return f.clearResp, f.clearErr
}

func (f *fakeBackend) UpdateWindowStateFor(ctx context.Context, sessionID string, ws session.WindowState) error {
	f.mu.Lock()
	f.windowStates = append(f.windowStates, ws)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) WelcomeBack(ctx context.Context, sessionID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.welcomeCalls++
	if f.welcomeCalls <= len(f.welcomeMsgs) {
		return f.welcomeMsgs[f.welcomeCalls-1], nil
	}
	return "", nil
}

func (f *fakeBackend) requests() []client.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]client.ChatRequest, len(f.chatReqs))
	copy(out, f.chatReqs)
	return out
}

func connectedSession() *session.Session {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &session.Session{
		ID:      "s1",
		Threads: []session.Thread{{ID: "t1", CreatedAt: created}},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Widget.DebounceMS = 1
	cfg.Widget.RedirectDelayMS = 1
	return cfg
}

func newTestWidget(t *testing.T, backend *fakeBackend, cfg *config.Config) *Widget {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if backend.connectResp == nil && backend.connectErr == nil {
		backend.connectResp = &client.ConnectResponse{
			Website: &client.Website{ID: "w1"},
			Session: connectedSession(),
		}
	}
	w := New(Options{Config: cfg, Backend: backend})
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.Bootstrap(context.Background()))
	return w
}

func countAssistant(msgs []session.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Role == session.RoleAssistant {
			n++
		}
	}
	return n
}

func TestSendAppendsExactlyOneAssistantReply(t *testing.T) {
	backend := &fakeBackend{chatReply: client.Reply{Message: "Hello!"}}
	w := newTestWidget(t, backend, nil)

	before := countAssistant(w.Snapshot().Messages)
	require.NoError(t, w.Send(context.Background(), "hello"))

	msgs := w.Snapshot().Messages
	assert.Equal(t, before+1, countAssistant(msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "Hello!", msgs[1].Content)
}

func TestSendFailureSynthesizesErrorReply(t *testing.T) {
	backend := &fakeBackend{chatErr: errors.New("all endpoints failed")}
	w := newTestWidget(t, backend, nil)

	require.NoError(t, w.Send(context.Background(), "hello"))

	msgs := w.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, countAssistant(msgs))
	assert.Equal(t, errorReplyText, msgs[1].Content)
}

func TestSendWhileSendInFlightIsRefused(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "ok"},
		chatBlock: make(chan struct{}),
	}
	w := newTestWidget(t, backend, nil)

	done := make(chan error, 1)
	go func() { done <- w.Send(context.Background(), "first") }()

	require.Eventually(t, w.sending.Load, time.Second, time.Millisecond)

	assert.ErrorIs(t, w.Send(context.Background(), "second"), ErrBusy)

	close(backend.chatBlock)
	require.NoError(t, <-done)

	// Only the first send produced messages.
	msgs := w.Snapshot().Messages
	assert.Len(t, msgs, 2)
	assert.Len(t, backend.requests(), 1)
}

func TestOpenRefusedWhileSendInFlight(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "ok"},
		chatBlock: make(chan struct{}),
	}
	w := newTestWidget(t, backend, nil)

	done := make(chan error, 1)
	go func() { done <- w.Send(context.Background(), "first") }()
	require.Eventually(t, w.sending.Load, time.Second, time.Millisecond)

	before := w.Snapshot().State
	assert.False(t, w.Open(context.Background()))
	assert.Equal(t, before, w.Snapshot().State)

	close(backend.chatBlock)
	require.NoError(t, <-done)
}

func TestSendRequestAssembly(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "r"},
		connectResp: &client.ConnectResponse{
			Website: &client.Website{ID: "w1"},
			Session: connectedSession(),
		},
	}
	cfg := testConfig()
	w := New(Options{
		Config:  cfg,
		Backend: backend,
		Page: func() (string, string) {
			return "https://shop.example/cart", "<html><title>Cart</title><body><a href=\"/sale\">Sale</a></body></html>"
		},
	})
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.Bootstrap(context.Background()))

	require.NoError(t, w.Send(context.Background(), "what's on sale?"))

	reqs := backend.requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "what's on sale?", req.Message)
	assert.Equal(t, "w1", req.WebsiteID)
	assert.Equal(t, "t1", req.ThreadID)
	assert.Equal(t, "https://shop.example/cart", req.CurrentPageURL)
	require.NotNil(t, req.PageData)
	assert.Equal(t, "Cart", req.PageData.Title)

	// The optimistic user message is part of the context window.
	require.NotEmpty(t, req.PastContext)
	last := req.PastContext[len(req.PastContext)-1]
	assert.Equal(t, session.RoleUser, last.Role)
	assert.Equal(t, "what's on sale?", last.Content)
}

func TestPastContextBoundedAcrossSends(t *testing.T) {
	backend := &fakeBackend{chatReply: client.Reply{Message: "r"}}
	w := newTestWidget(t, backend, nil)

	for i := 0; i < 8; i++ {
		require.NoError(t, w.Send(context.Background(), "msg"))
	}

	reqs := backend.requests()
	lastReq := reqs[len(reqs)-1]

	var users, assistants int
	for i, e := range lastReq.PastContext {
		switch e.Role {
		case session.RoleUser:
			users++
		case session.RoleAssistant:
			assistants++
		}
		if i > 0 {
			assert.False(t, e.Timestamp.Before(lastReq.PastContext[i-1].Timestamp))
		}
	}
	assert.LessOrEqual(t, users, 5)
	assert.LessOrEqual(t, assistants, 5)
	assert.Equal(t, 10, len(lastReq.PastContext))
}

func TestRedirectSchedulesNavigation(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "This way", Action: "redirect", URL: "/sale"},
		connectResp: &client.ConnectResponse{
			Website: &client.Website{ID: "w1"},
			Session: connectedSession(),
		},
	}
	navigated := make(chan string, 1)
	cfg := testConfig()
	w := New(Options{
		Config:    cfg,
		Backend:   backend,
		Navigator: func(url string) { navigated <- url },
	})
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.Bootstrap(context.Background()))

	require.NoError(t, w.Send(context.Background(), "take me to the sale"))

	// The reply renders before navigation fires.
	msgs := w.Snapshot().Messages
	assert.Equal(t, "This way", msgs[len(msgs)-1].Content)

	select {
	case url := <-navigated:
		assert.Equal(t, "/sale", url)
	case <-time.After(time.Second):
		t.Fatal("navigation was never scheduled")
	}
}

func TestRedirectSuppressedWhenAutoActionsDisabled(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "This way", Action: "redirect", URL: "/sale"},
		connectResp: &client.ConnectResponse{
			Website: &client.Website{ID: "w1"},
			Session: connectedSession(),
		},
	}
	navigated := make(chan string, 1)
	cfg := testConfig()
	cfg.Widget.AllowAutoActions = false
	w := New(Options{
		Config:    cfg,
		Backend:   backend,
		Navigator: func(url string) { navigated <- url },
	})
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.Bootstrap(context.Background()))

	require.NoError(t, w.Send(context.Background(), "go"))

	select {
	case <-navigated:
		t.Fatal("navigation must not fire with auto actions disabled")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClearRoundTrip(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "r"},
		clearResp: &session.Session{
			ID:      "s2",
			Threads: []session.Thread{{ID: "t2", CreatedAt: time.Now()}},
		},
	}
	w := newTestWidget(t, backend, nil)

	require.NoError(t, w.Send(context.Background(), "hello"))
	require.NotEmpty(t, w.Snapshot().Messages)

	require.NoError(t, w.Clear(context.Background()))

	snap := w.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.True(t, snap.ShowWelcome)
	assert.Equal(t, "s2", snap.SessionID)
}

func TestClearBackendFailureClearsLocally(t *testing.T) {
	backend := &fakeBackend{
		chatReply: client.Reply{Message: "r"},
		clearErr:  errors.New("backend down"),
	}
	w := newTestWidget(t, backend, nil)

	require.NoError(t, w.Send(context.Background(), "hello"))
	require.NoError(t, w.Clear(context.Background()))

	snap := w.Snapshot()
	assert.Empty(t, snap.Messages)
	assert.True(t, snap.ShowWelcome)
	assert.Equal(t, "s1", snap.SessionID)
}

func TestSendOnCachedSessionWithoutBackend(t *testing.T) {
	cfg := testConfig()
	sessionCache := openTestCache(t)
	require.NoError(t, sessionCache.Save(cfg.Backend.WebsiteKey, connectedSession()))

	w := New(Options{Config: cfg, Cache: sessionCache})
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.Bootstrap(context.Background()))

	require.NoError(t, w.Send(context.Background(), "hello"))

	msgs := w.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, session.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, errorReplyText, msgs[1].Content)
}

func TestPersistedSessionKeepsThreads(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := &fakeBackend{
		connectResp: &client.ConnectResponse{
			Website: &client.Website{ID: "w1"},
			Session: &session.Session{
				ID: "s1",
				Threads: []session.Thread{{
					ID:        "t1",
					CreatedAt: created,
					Messages: []session.Message{
						{ID: "m1", Role: session.RoleUser, Content: "hi", CreatedAt: created},
						{ID: "m2", Role: session.RoleAssistant, Content: "hello!", CreatedAt: created.Add(time.Second)},
					},
				}},
			},
		},
	}
	cfg := testConfig()
	sessionCache := openTestCache(t)

	w := New(Options{Config: cfg, Backend: backend, Cache: sessionCache})
	t.Cleanup(w.Shutdown)
	require.NoError(t, w.Bootstrap(context.Background()))
	require.Len(t, w.Snapshot().Messages, 2)

	// A restarted process reads this back and resumes the conversation, so
	// the cached copy must carry the full history.
	cached, err := sessionCache.Load(cfg.Backend.WebsiteKey)
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Len(t, cached.Threads, 1)
	assert.Len(t, cached.Threads[0].Messages, 2)

	restarted := New(Options{Config: cfg, Cache: sessionCache})
	t.Cleanup(restarted.Shutdown)
	require.NoError(t, restarted.Bootstrap(context.Background()))
	msgs := restarted.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello!", msgs[1].Content)
}

func TestBootstrapFailureLeavesWidgetAbsent(t *testing.T) {
	backend := &fakeBackend{connectErr: errors.New("no identity")}
	cfg := testConfig()
	w := New(Options{Config: cfg, Backend: backend})
	t.Cleanup(w.Shutdown)

	assert.Error(t, w.Bootstrap(context.Background()))
	assert.False(t, w.Open(context.Background()))
	assert.ErrorIs(t, w.Send(context.Background(), "hi"), ErrNotReady)
	assert.ErrorIs(t, w.Clear(context.Background()), ErrNotReady)
}

func TestOpenDeliversWelcomeBackOnce(t *testing.T) {
	backend := &fakeBackend{
		chatReply:   client.Reply{Message: "r"},
		welcomeMsgs: []string{"", "Welcome back!"},
	}
	cfg := testConfig()
	cfg.Widget.WelcomeBackPollMS = 5
	cfg.Widget.WelcomeBackAttempts = 10
	w := newTestWidget(t, backend, cfg)

	require.True(t, w.Open(context.Background()))

	require.Eventually(t, func() bool {
		msgs := w.Snapshot().Messages
		return len(msgs) == 1 && msgs[0].Content == "Welcome back!"
	}, 2*time.Second, 5*time.Millisecond)

	// Re-opening never re-runs the poll.
	backend.mu.Lock()
	calls := backend.welcomeCalls
	backend.mu.Unlock()
	w.Close(context.Background())
	time.Sleep(5 * time.Millisecond)
	w.Open(context.Background())
	time.Sleep(50 * time.Millisecond)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, calls, backend.welcomeCalls)
}

func TestWindowStateSyncedThroughBackend(t *testing.T) {
	backend := &fakeBackend{chatReply: client.Reply{Message: "r"}}
	w := newTestWidget(t, backend, nil)

	require.True(t, w.Open(context.Background()))
	time.Sleep(2 * time.Millisecond)
	require.True(t, w.Minimize(context.Background()))

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.windowStates, 2)
	assert.True(t, backend.windowStates[0].TextOpenWindowUp)
	assert.False(t, backend.windowStates[1].TextOpenWindowUp)
}
