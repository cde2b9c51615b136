package viewer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/display"
	"github.com/coredesk/vncbridge/internal/rfb"
	"github.com/coredesk/vncbridge/internal/session"
	"github.com/coredesk/vncbridge/internal/wire"
)

// blockingSession is a SessionRunner that blocks until ctx is done, standing
// in for a real session.Session so Join's owner path can be tested without
// a live upstream connection.
type blockingSession struct{}

func (blockingSession) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func newManagerWithFakeSession(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(&rfb.NoOpLogger{})
	m.newSession = func(_ session.Upstream, _ *display.Display, _ config.Settings, _ rfb.Logger) SessionRunner {
		return blockingSession{}
	}
	return m
}

func TestManager_FirstJoinBecomesOwner(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	sink := wire.NewFakeSink(id)
	v, err := m.Join(ctx, id, config.Settings{Hostname: "h"}, sink)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if v.Role != Owner {
		t.Errorf("Role = %v, want Owner", v.Role)
	}
}

func TestManager_SecondJoinIsGuest(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ownerID, guestID := uuid.New(), uuid.New()
	if _, err := m.Join(ctx, ownerID, config.Settings{Hostname: "h"}, wire.NewFakeSink(ownerID)); err != nil {
		t.Fatalf("owner Join: %v", err)
	}
	v, err := m.Join(ctx, guestID, config.Settings{Hostname: "h"}, wire.NewFakeSink(guestID))
	if err != nil {
		t.Fatalf("guest Join: %v", err)
	}
	if v.Role != Guest {
		t.Errorf("Role = %v, want Guest", v.Role)
	}
}

func TestManager_GuestJoinBeforeDisplayReadySkipsDupTo(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ownerID, guestID := uuid.New(), uuid.New()
	if _, err := m.Join(ctx, ownerID, config.Settings{Hostname: "h"}, wire.NewFakeSink(ownerID)); err != nil {
		t.Fatalf("owner Join: %v", err)
	}

	guestSink := wire.NewFakeSink(guestID)
	if _, err := m.Join(ctx, guestID, config.Settings{Hostname: "h"}, guestSink); err != nil {
		t.Fatalf("guest Join: %v", err)
	}

	if len(guestSink.Commands()) != 0 {
		t.Errorf("guest received commands before display was ready: %+v", guestSink.Commands())
	}
}

func TestManager_GuestJoinAfterDisplayReadyReplaysViaDupTo(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ownerID, guestID := uuid.New(), uuid.New()
	if _, err := m.Join(ctx, ownerID, config.Settings{Hostname: "h"}, wire.NewFakeSink(ownerID)); err != nil {
		t.Fatalf("owner Join: %v", err)
	}
	m.disp.Allocate(4, 4)

	guestSink := wire.NewFakeSink(guestID)
	if _, err := m.Join(ctx, guestID, config.Settings{Hostname: "h"}, guestSink); err != nil {
		t.Fatalf("guest Join: %v", err)
	}

	cmds := guestSink.Commands()
	if len(cmds) == 0 {
		t.Fatal("guest received no dup_to replay commands")
	}
	if cmds[0].Name != "surface_resize" {
		t.Errorf("first replayed command = %q, want surface_resize", cmds[0].Name)
	}
}

func TestManager_LeaveStopsBroadcast(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	sink := wire.NewFakeSink(id)
	if _, err := m.Join(ctx, id, config.Settings{Hostname: "h"}, sink); err != nil {
		t.Fatalf("Join: %v", err)
	}
	m.disp.Allocate(4, 4)
	m.Leave(id)

	m.disp.Draw(0, 0, 1, 1, []byte{1, 2, 3, 4}, 4)
	if len(sink.Commands()) != 0 {
		t.Errorf("left viewer still received commands: %+v", sink.Commands())
	}
}

func TestManager_HandleMouseUpdatesCursorEvenWithoutUpstream(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New()
	if _, err := m.Join(ctx, id, config.Settings{Hostname: "h"}, wire.NewFakeSink(id)); err != nil {
		t.Fatalf("Join: %v", err)
	}

	m.HandleMouse(id, 10, 20, 1)
	snap := m.disp.Cursor().Snapshot()
	if snap.X != 10 || snap.Y != 20 || snap.ButtonMask != 1 {
		t.Errorf("cursor snapshot = %+v", snap)
	}
}

func TestManager_ClipboardBroadcastReachesAllViewers(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id1, id2 := uuid.New(), uuid.New()
	sink1, sink2 := wire.NewFakeSink(id1), wire.NewFakeSink(id2)
	if _, err := m.Join(ctx, id1, config.Settings{Hostname: "h"}, sink1); err != nil {
		t.Fatalf("Join 1: %v", err)
	}
	if _, err := m.Join(ctx, id2, config.Settings{Hostname: "h"}, sink2); err != nil {
		t.Fatalf("Join 2: %v", err)
	}

	m.broadcastClipboard("hello")

	for i, sink := range []*wire.FakeSink{sink1, sink2} {
		found := false
		for _, cmd := range sink.Commands() {
			if cmd.Name == "clipboard_set" {
				found = true
			}
		}
		if !found {
			t.Errorf("viewer %d did not receive clipboard_set", i)
		}
	}
}

func TestManager_JoinOwnerReturnsPromptly(t *testing.T) {
	m := newManagerWithFakeSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		id := uuid.New()
		if _, err := m.Join(ctx, id, config.Settings{Hostname: "h"}, wire.NewFakeSink(id)); err != nil {
			t.Errorf("Join: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Join blocked on the background session loop")
	}
}
