package presentation

import (
	"context"
	"sync"
	"time"

	"github.com/shopglue/chatwidget/pkg/guard"
	"github.com/shopglue/chatwidget/pkg/logger"
	"github.com/shopglue/chatwidget/pkg/session"
)

// State is the logical surface the host should render. The host owns pixels;
// this machine only decides which surface is visible.
type State string

const (
	StateHidden        State = "hidden"
	StateLauncherOnly  State = "launcher_only"
	StateTextMaximized State = "text_maximized"
	StateTextMinimized State = "text_minimized"
	StateVoiceOpen     State = "voice_open"
)

// Updater is the authoritative window-state sync path. Transitions push the
// new flags through it before changing the locally rendered state so the
// visible UI cannot diverge from what will be persisted.
type Updater interface {
	UpdateWindowState(ctx context.Context, ws session.WindowState) error
}

// DeriveState maps durable window flags to the surface to render.
func DeriveState(ws session.WindowState) State {
	switch {
	case ws.VoiceOpen:
		return StateVoiceOpen
	case ws.TextOpen && ws.TextOpenWindowUp:
		return StateTextMaximized
	case ws.TextOpen:
		return StateTextMinimized
	case ws.CoreOpen:
		return StateLauncherOnly
	default:
		return StateHidden
	}
}

// Machine drives the visible surface from the store's window state, applying
// the minimum-dwell debounce and text/voice mutual exclusion. Every
// transition is guarded; a refused transition is a silent no-op.
type Machine struct {
	mu    sync.Mutex
	state State

	store   *session.Store
	updater Updater
	guard   *guard.Guard
	clock   guard.Clock
	dwell   time.Duration

	lastTransition map[string]time.Time
	sendInFlight   func() bool
}

// New creates a machine in the LauncherOnly state. A zero dwell falls back
// to 500ms.
func New(store *session.Store, updater Updater, g *guard.Guard, clock guard.Clock, dwell time.Duration) *Machine {
	if dwell <= 0 {
		dwell = 500 * time.Millisecond
	}
	if clock == nil {
		clock = guard.SystemClock()
	}
	return &Machine{
		state:          StateLauncherOnly,
		store:          store,
		updater:        updater,
		guard:          g,
		clock:          clock,
		dwell:          dwell,
		lastTransition: make(map[string]time.Time),
	}
}

// SetSendInFlight installs the hook Close consults before tearing down an
// open surface.
func (m *Machine) SetSendInFlight(fn func() bool) {
	m.mu.Lock()
	m.sendInFlight = fn
	m.mu.Unlock()
}

// State returns the current logical surface.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Sync re-derives the surface from the store's window state without a
// transition, for use after an authoritative session load.
func (m *Machine) Sync() State {
	st := DeriveState(m.store.WindowState())
	m.mu.Lock()
	m.state = st
	m.mu.Unlock()
	return st
}

// debounced reports whether a transition of this kind fired within the dwell
// window, and records the attempt time when it did not.
func (m *Machine) debounced(kind string) bool {
	now := m.clock.Now()
	if last, ok := m.lastTransition[kind]; ok && now.Sub(last) < m.dwell {
		return true
	}
	m.lastTransition[kind] = now
	return false
}

// transition runs one guarded state change. The authoritative update settles
// before the local state flips; an update error is logged and the local
// change still applies so the user is never stuck.
func (m *Machine) transition(ctx context.Context, kind string, ws session.WindowState, next State) bool {
	if !m.guard.TryAcquire(kind) {
		logger.DebugCF("presentation", "transition refused, guard busy",
			map[string]interface{}{"kind": kind, "holder": m.guard.Op()})
		return false
	}
	defer m.guard.Release()

	m.mu.Lock()
	if m.debounced(kind) {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	ws = m.store.SetWindowState(ws)
	if m.updater != nil {
		if err := m.updater.UpdateWindowState(ctx, ws); err != nil {
			logger.WarnCF("presentation", "window state sync failed",
				map[string]interface{}{"kind": kind, "error": err.Error()})
		}
	}

	m.mu.Lock()
	m.state = next
	m.mu.Unlock()
	return true
}

// Open moves Hidden/LauncherOnly to TextMaximized, hiding the launcher and
// forcing the voice flags false. With the text surface already open,
// minimized included, it refuses; restoring a minimized window is Maximize's
// job and keeps its own dwell window.
func (m *Machine) Open(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateHidden && m.state != StateLauncherOnly {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	return m.transition(ctx, "open", session.WindowState{
		TextOpen:         true,
		TextOpenWindowUp: true,
	}, StateTextMaximized)
}

// OpenVoice opens the voice surface, forcing the text flags false.
func (m *Machine) OpenVoice(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == StateVoiceOpen {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	return m.transition(ctx, "open_voice", session.WindowState{
		VoiceOpen:         true,
		VoiceOpenWindowUp: true,
	}, StateVoiceOpen)
}

// Minimize collapses TextMaximized to TextMinimized. Message history is
// collapsed, not destroyed; a no-op when already minimized or inside the
// dwell window.
func (m *Machine) Minimize(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateTextMaximized {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	return m.transition(ctx, "minimize", session.WindowState{
		TextOpen:         true,
		TextOpenWindowUp: false,
	}, StateTextMinimized)
}

// Maximize is the inverse of Minimize.
func (m *Machine) Maximize(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateTextMinimized {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	return m.transition(ctx, "maximize", session.WindowState{
		TextOpen:         true,
		TextOpenWindowUp: true,
	}, StateTextMaximized)
}

// Close returns any surface to LauncherOnly. It refuses while a send is in
// flight so state is never torn down mid-response.
func (m *Machine) Close(ctx context.Context) bool {
	m.mu.Lock()
	inFlight := m.sendInFlight
	if m.state == StateLauncherOnly {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	if inFlight != nil && inFlight() {
		logger.DebugCF("presentation", "close refused, send in flight", nil)
		return false
	}

	return m.transition(ctx, "close", session.WindowState{
		CoreOpen: true,
	}, StateLauncherOnly)
}
