// Package viewer implements the join/leave lifecycle and input-handler
// wiring for the viewers attached to one shared session (spec §4.6).
package viewer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/coredesk/vncbridge/internal/clipboard"
	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/display"
	"github.com/coredesk/vncbridge/internal/rfb"
	"github.com/coredesk/vncbridge/internal/rfbadapter"
	"github.com/coredesk/vncbridge/internal/session"
	"github.com/coredesk/vncbridge/internal/wire"
)

// Role distinguishes the viewer that owns the upstream connection from
// every other attached viewer.
type Role int

const (
	Guest Role = iota
	Owner
)

func (r Role) String() string {
	if r == Owner {
		return "owner"
	}
	return "guest"
}

// Viewer is one attached downstream socket and the settings it joined with.
type Viewer struct {
	ID       uuid.UUID
	Role     Role
	Sink     wire.Sink
	Settings config.Settings
}

// SessionRunner is the subset of *session.Session Manager depends on, so
// tests can substitute a fake session loop without a real upstream.
type SessionRunner interface {
	Run(ctx context.Context) error
}

// Manager owns one shared Display and the single upstream session it is
// fed by, and tracks every viewer attached to that session.
type Manager struct {
	mu sync.Mutex

	disp    *display.Display
	adapter *rfbadapter.Adapter
	logger  rfb.Logger

	sessionStarted bool
	ownerID        uuid.UUID
	viewers        map[uuid.UUID]*Viewer

	// newSession is overridable in tests so Join doesn't have to spin up a
	// real rfbadapter.Adapter/session.Session pair to exercise the owner
	// path.
	newSession func(upstream session.Upstream, disp *display.Display, settings config.Settings, logger rfb.Logger) SessionRunner
}

// NewManager returns a Manager with an unallocated shared Display.
func NewManager(logger rfb.Logger) *Manager {
	if logger == nil {
		logger = &rfb.NoOpLogger{}
	}
	m := &Manager{
		disp:    display.New(),
		logger:  logger,
		viewers: make(map[uuid.UUID]*Viewer),
	}
	m.newSession = func(upstream session.Upstream, disp *display.Display, settings config.Settings, logger rfb.Logger) SessionRunner {
		return session.New(upstream, disp, settings, logger, session.WithLagProvider(m))
	}
	return m
}

// Display returns the manager's shared display, e.g. for health checks.
func (m *Manager) Display() *display.Display { return m.disp }

// ProcessingLag implements session.LagProvider as the maximum reported lag
// across every attached viewer sink that implements wire.LagProvider.
func (m *Manager) ProcessingLag() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var max float64
	for _, v := range m.viewers {
		if lp, ok := v.Sink.(wire.LagProvider); ok {
			if lag := lp.ProcessingLag(); lag > max {
				max = lag
			}
		}
	}
	return max
}

// Join attaches a viewer identified by id to the shared session. The first
// viewer to join becomes the owner and spawns the upstream session loop in
// the background; every later joiner is a guest replayed the current
// display state via dup_to (spec §4.6).
//
// runCtx bounds the lifetime of the session loop spawned for an owner; it
// is independent of any per-call context the caller might cancel early.
func (m *Manager) Join(runCtx context.Context, id uuid.UUID, settings config.Settings, sink wire.Sink) (*Viewer, error) {
	m.mu.Lock()
	role := Guest
	becameOwner := !m.sessionStarted
	if becameOwner {
		role = Owner
		m.sessionStarted = true
		m.ownerID = id
	}
	v := &Viewer{ID: id, Role: role, Sink: sink, Settings: settings}
	m.viewers[id] = v
	m.mu.Unlock()

	// AttachAndReplay registers sink and replays the current display state to
	// it under the same lock broadcast takes, so no mutation landing between
	// "snapshot the display" and "start receiving live fan-out" is missed or
	// double-delivered. Before the owner's session has called Allocate this
	// is a no-op replay (spec §9's guest-before-owner case) — the guest is
	// still registered and picks up the first surface_resize/draw normally.
	if err := m.disp.AttachAndReplay(id, sink); err != nil {
		m.logger.Warn("dup_to failed for joining viewer",
			rfb.Field{Key: "viewer_id", Value: id.String()},
			rfb.Field{Key: "error", Value: err.Error()})
	}

	if becameOwner {
		if err := m.startSession(runCtx, settings); err != nil {
			m.mu.Lock()
			delete(m.viewers, id)
			m.sessionStarted = false
			m.mu.Unlock()
			m.disp.DetachViewer(id)
			return nil, err
		}
	}

	return v, nil
}

func (m *Manager) startSession(ctx context.Context, settings config.Settings) error {
	codec, err := clipboard.NewCodec(settings.ClipboardEncoding)
	if err != nil {
		return fmt.Errorf("viewer: build clipboard codec: %w", err)
	}

	adapter := rfbadapter.New(m.disp, codec, m.logger, settings.SwapRedBlue)
	adapter.OnCutText(func(text string, truncated bool) {
		if truncated {
			m.logger.Debug("clipboard text truncated before fan-out")
		}
		m.broadcastClipboard(text)
	})

	m.mu.Lock()
	m.adapter = adapter
	m.mu.Unlock()

	sess := m.newSession(adapter, m.disp, settings, m.logger)
	go func() {
		err := sess.Run(ctx)
		m.handleSessionExit(err)
	}()
	return nil
}

func (m *Manager) handleSessionExit(err error) {
	m.mu.Lock()
	viewers := make([]*Viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		viewers = append(viewers, v)
	}
	m.mu.Unlock()

	code, reason := uint8(session.AbortUpstreamError), "session ended"
	if err != nil {
		reason = err.Error()
		if abortErr, ok := err.(*session.AbortError); ok {
			code = uint8(abortErr.Code)
		}
		m.logger.Warn("session ended with error", rfb.Field{Key: "error", Value: err.Error()})
	} else {
		m.logger.Info("session ended")
	}

	for _, v := range viewers {
		_ = v.Sink.ClientAbort(code, reason)
		m.Leave(v.ID)
	}
}

// Leave detaches a viewer from the shared display and cursor. Per spec
// §4.6, departing the owner does not free any session-level state here;
// that happens when the session goroutine itself exits.
func (m *Manager) Leave(id uuid.UUID) {
	m.disp.DetachViewer(id)
	m.disp.Cursor().RemoveViewer(id)
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.viewers, id)
}

// broadcastClipboard delivers upstream clipboard text to every attached
// viewer's own clipboard.
func (m *Manager) broadcastClipboard(text string) {
	m.mu.Lock()
	viewers := make([]*Viewer, 0, len(m.viewers))
	for _, v := range m.viewers {
		viewers = append(viewers, v)
	}
	m.mu.Unlock()
	for _, v := range viewers {
		if err := v.Sink.ClipboardSet(text); err != nil {
			m.logger.Warn("clipboard fan-out failed",
				rfb.Field{Key: "viewer_id", Value: v.ID.String()},
				rfb.Field{Key: "error", Value: err.Error()})
		}
	}
}

// HandleMouse is user_mouse_handler: it always updates the shared cursor,
// but only emits an upstream pointer event if the viewer isn't read-only
// and the upstream handle has been established.
func (m *Manager) HandleMouse(viewerID uuid.UUID, x, y int, buttonMask uint8) {
	m.disp.Cursor().Update(viewerID, x, y, buttonMask)

	m.mu.Lock()
	v, ok := m.viewers[viewerID]
	adapter := m.adapter
	m.mu.Unlock()
	if !ok || v.Settings.ReadOnly || adapter == nil {
		return
	}
	if err := adapter.PointerEvent(rfb.ButtonMask(buttonMask), uint16(x), uint16(y)); err != nil {
		m.logger.Warn("pointer event failed", rfb.Field{Key: "error", Value: err.Error()})
	}
}

// HandleKey is user_key_handler.
func (m *Manager) HandleKey(viewerID uuid.UUID, keysym uint32, down bool) {
	m.mu.Lock()
	v, ok := m.viewers[viewerID]
	adapter := m.adapter
	m.mu.Unlock()
	if !ok || v.Settings.ReadOnly || adapter == nil {
		return
	}
	if err := adapter.KeyEvent(keysym, down); err != nil {
		m.logger.Warn("key event failed", rfb.Field{Key: "error", Value: err.Error()})
	}
}

// HandleClipboard is user_clipboard_handler.
func (m *Manager) HandleClipboard(viewerID uuid.UUID, text string) {
	m.mu.Lock()
	v, ok := m.viewers[viewerID]
	adapter := m.adapter
	m.mu.Unlock()
	if !ok || v.Settings.ReadOnly || adapter == nil {
		return
	}
	if err := adapter.CutText(text); err != nil {
		m.logger.Warn("clipboard event failed", rfb.Field{Key: "error", Value: err.Error()})
	}
}
