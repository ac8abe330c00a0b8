package widget

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopglue/chatwidget/pkg/cache"
	"github.com/shopglue/chatwidget/pkg/client"
	"github.com/shopglue/chatwidget/pkg/config"
	"github.com/shopglue/chatwidget/pkg/guard"
	"github.com/shopglue/chatwidget/pkg/logger"
	"github.com/shopglue/chatwidget/pkg/pagedata"
	"github.com/shopglue/chatwidget/pkg/presentation"
	"github.com/shopglue/chatwidget/pkg/session"
	"github.com/shopglue/chatwidget/pkg/styles"
)

const (
	// pastContextLimit bounds how many user and assistant messages each
	// chat request carries for grounding.
	pastContextLimit = 5

	errorReplyText = "Sorry, something went wrong processing your message."
	redirectText   = "Taking you there now..."
)

var (
	ErrBusy     = errors.New("widget: another operation is in progress")
	ErrNotReady = errors.New("widget: not connected")
)

// Backend is the slice of the network client the widget uses. *client.Client
// satisfies it; tests substitute fakes.
type Backend interface {
	Connect(ctx context.Context) (*client.ConnectResponse, error)
	Chat(ctx context.Context, req client.ChatRequest) (client.Reply, error)
	ClearSession(ctx context.Context, sessionID string) (*session.Session, error)
	UpdateWindowStateFor(ctx context.Context, sessionID string, ws session.WindowState) error
	WelcomeBack(ctx context.Context, sessionID string) (string, error)
}

// Navigator is the host-supplied navigation callback for redirect actions.
type Navigator func(url string)

// PageFunc supplies the current page URL and HTML for snapshots.
type PageFunc func() (url string, htmlSource string)

type Options struct {
	Config    *config.Config
	Backend   Backend
	Cache     *cache.Store
	Clock     guard.Clock
	Navigator Navigator
	Page      PageFunc
}

// Widget is the embedded conversational core. All session/thread data lives
// in an explicit context object held here; there are no ambient globals.
type Widget struct {
	cfg     *config.Config
	store   *session.Store
	machine *presentation.Machine
	guard   *guard.Guard
	backend Backend
	cache   *cache.Store
	clock   guard.Clock

	navigator Navigator
	page      PageFunc
	palette   styles.Palette

	mu        sync.Mutex
	websiteID string
	ready     bool

	sending     atomic.Bool
	welcomeOnce sync.Once
	welcomeStop context.CancelFunc
}

func New(opts Options) *Widget {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	clock := opts.Clock
	if clock == nil {
		clock = guard.SystemClock()
	}

	store := session.NewStore()
	g := guard.New(time.Duration(cfg.Widget.GuardTimeoutMS)*time.Millisecond, clock)

	w := &Widget{
		cfg:       cfg,
		store:     store,
		guard:     g,
		backend:   opts.Backend,
		cache:     opts.Cache,
		clock:     clock,
		navigator: opts.Navigator,
		page:      opts.Page,
		palette:   styles.Resolve(cfg.Widget.AccentColor),
	}

	w.machine = presentation.New(store, windowSync{w}, g,
		clock, time.Duration(cfg.Widget.DebounceMS)*time.Millisecond)
	w.machine.SetSendInFlight(w.sending.Load)
	return w
}

// windowSync is the machine's authoritative update path: backend first,
// then the cache write-through.
type windowSync struct{ w *Widget }

func (ws windowSync) UpdateWindowState(ctx context.Context, state session.WindowState) error {
	w := ws.w
	sessionID := w.store.SessionID()
	if w.backend == nil || sessionID == "" {
		return nil
	}
	err := w.backend.UpdateWindowStateFor(ctx, sessionID, state)
	w.persistSession()
	return err
}

// Bootstrap resolves the widget's identity: cached session first, then the
// connect endpoint. When no identity can be resolved the widget stays
// closed — absent, not broken — and the error is returned for logging only.
func (w *Widget) Bootstrap(ctx context.Context) error {
	if cached := w.loadCachedSession(); cached != nil {
		w.store.LoadFromSession(cached)
		w.machine.Sync()
		w.mu.Lock()
		w.websiteID = cached.WebsiteID
		w.ready = true
		w.mu.Unlock()
		logger.InfoCF("widget", "resumed cached session",
			map[string]interface{}{"session_id": cached.ID})
	}

	if w.backend == nil {
		if !w.isReady() {
			return ErrNotReady
		}
		return nil
	}

	resp, err := w.backend.Connect(ctx)
	if err != nil {
		if w.isReady() {
			// Cached identity is good enough to operate on.
			logger.WarnCF("widget", "connect failed, running on cached session",
				map[string]interface{}{"error": err.Error()})
			return nil
		}
		logger.ErrorCF("widget", "bootstrap failed, widget disabled",
			map[string]interface{}{"error": err.Error()})
		return err
	}

	w.mu.Lock()
	w.websiteID = resp.Website.ID
	w.ready = true
	w.mu.Unlock()

	if resp.Session != nil {
		if resp.Session.WebsiteID == "" {
			resp.Session.WebsiteID = resp.Website.ID
		}
		w.applySiteDefaults(resp.Session)
		w.store.LoadFromSession(resp.Session)
		w.machine.Sync()
		w.persistSession()
	}

	logger.InfoCF("widget", "connected",
		map[string]interface{}{"website_id": resp.Website.ID})
	return nil
}

// applySiteDefaults fills session site config gaps from local config so the
// host always has something to render.
func (w *Widget) applySiteDefaults(sess *session.Session) {
	if sess.Site.BotName == "" {
		sess.Site.BotName = w.cfg.Widget.BotName
	}
	if sess.Site.AccentColor == "" {
		sess.Site.AccentColor = w.cfg.Widget.AccentColor
	}
	if sess.Site.WelcomeText == "" {
		sess.Site.WelcomeText = w.cfg.Widget.WelcomeText
	}
	if len(sess.Site.SuggestedQuestions) == 0 {
		sess.Site.SuggestedQuestions = w.cfg.Widget.SuggestedQuestions
	}
	w.palette = styles.Resolve(sess.Site.AccentColor)
}

func (w *Widget) isReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

func (w *Widget) loadCachedSession() *session.Session {
	if w.cache == nil {
		return nil
	}
	sess, err := w.cache.Load(w.cfg.Backend.WebsiteKey)
	if err != nil {
		logger.WarnCF("widget", "session cache read failed",
			map[string]interface{}{"error": err.Error()})
		return nil
	}
	return sess
}

func (w *Widget) persistSession() {
	if w.cache == nil {
		return
	}
	sess := w.store.Session()
	if sess == nil || sess.ID == "" {
		return
	}
	if err := w.cache.Save(w.cfg.Backend.WebsiteKey, sess); err != nil {
		logger.WarnCF("widget", "session cache write failed",
			map[string]interface{}{"error": err.Error()})
	}
}

// Open shows the text surface maximized and starts the one-shot
// welcome-back check. Returns false when not bootstrapped, guard-busy,
// debounced, or already open.
func (w *Widget) Open(ctx context.Context) bool {
	if !w.isReady() {
		return false
	}
	if !w.machine.Open(ctx) {
		return false
	}
	w.startWelcomeBackPoll()
	return true
}

func (w *Widget) Close(ctx context.Context) bool {
	if !w.isReady() {
		return false
	}
	return w.machine.Close(ctx)
}

func (w *Widget) Minimize(ctx context.Context) bool {
	if !w.isReady() {
		return false
	}
	return w.machine.Minimize(ctx)
}

func (w *Widget) Maximize(ctx context.Context) bool {
	if !w.isReady() {
		return false
	}
	return w.machine.Maximize(ctx)
}

// Send posts one user message. The optimistic user message renders before
// the round-trip resolves, and exactly one assistant message (authoritative
// or synthesized error text) is appended per call, never zero, never more.
func (w *Widget) Send(ctx context.Context, text string) error {
	if !w.isReady() {
		return ErrNotReady
	}
	if !w.guard.TryAcquire("send") {
		return ErrBusy
	}
	w.sending.Store(true)
	defer func() {
		w.sending.Store(false)
		w.guard.Release()
	}()

	w.store.RecordLocalMessage(session.RoleUser, text)

	// A cached-session bootstrap can leave the widget ready with no
	// backend; the send still resolves with the canned error reply.
	if w.backend == nil {
		logger.WarnCF("widget", "send with no backend configured", nil)
		w.store.RecordLocalMessage(session.RoleAssistant, errorReplyText)
		return nil
	}

	req := client.ChatRequest{
		Message:     text,
		ThreadID:    w.store.ResolveThreadID(""),
		WebsiteID:   w.websiteIDLocked(),
		PastContext: w.store.PastContext(pastContextLimit),
	}
	if w.page != nil {
		url, source := w.page()
		req.CurrentPageURL = url
		snap := pagedata.Collect(url, source)
		req.PageData = &snap
	}

	reply, err := w.backend.Chat(ctx, req)
	if err != nil {
		logger.ErrorCF("widget", "send failed",
			map[string]interface{}{"error": err.Error()})
		w.store.RecordLocalMessage(session.RoleAssistant, errorReplyText)
		return nil
	}

	text = reply.Message
	if text == "" {
		if reply.IsRedirect() {
			text = redirectText
		} else {
			text = errorReplyText
		}
	}
	w.store.RecordLocalMessage(session.RoleAssistant, text)

	if reply.Session != nil {
		w.store.ApplySession(reply.Session)
		w.persistSession()
	}

	if reply.IsRedirect() && w.cfg.Widget.AllowAutoActions {
		w.scheduleRedirect(reply.URL)
	}
	return nil
}

func (w *Widget) websiteIDLocked() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.websiteID
}

// scheduleRedirect delays navigation so the user can read the final message
// first.
func (w *Widget) scheduleRedirect(url string) {
	if w.navigator == nil {
		return
	}
	delay := time.Duration(w.cfg.Widget.RedirectDelayMS) * time.Millisecond
	logger.InfoCF("widget", "redirect scheduled",
		map[string]interface{}{"url": url, "delay_ms": delay.Milliseconds()})
	time.AfterFunc(delay, func() {
		w.navigator(url)
	})
}

// Clear requests a fresh session/thread pair. A backend failure still
// clears the rendered history; the error never surfaces to the host.
func (w *Widget) Clear(ctx context.Context) error {
	if !w.isReady() {
		return ErrNotReady
	}
	if !w.guard.TryAcquire("clear") {
		return ErrBusy
	}
	defer w.guard.Release()

	w.store.Clear(ctx, w.backend)
	w.persistSession()
	return nil
}

// View is the read-only snapshot the host renders from.
type View struct {
	session.Snapshot
	State   presentation.State `json:"state"`
	Palette styles.Palette     `json:"palette"`
}

func (w *Widget) Snapshot() View {
	return View{
		Snapshot: w.store.Snapshot(),
		State:    w.machine.State(),
		Palette:  w.palette,
	}
}

// Shutdown stops background work. Safe to call more than once.
func (w *Widget) Shutdown() {
	w.mu.Lock()
	stop := w.welcomeStop
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}
