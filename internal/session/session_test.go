package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/display"
	"github.com/coredesk/vncbridge/internal/rfb"
)

// fakeUpstream is a minimal Upstream for driving the frame loop without a
// real rfbadapter.Adapter or network connection.
type fakeUpstream struct {
	mu sync.Mutex

	connectErr error
	messages   chan rfb.ServerMessage
	dispatched []rfb.ServerMessage
	updates    int
	closed     bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{messages: make(chan rfb.ServerMessage, 16)}
}

func (f *fakeUpstream) Connect(ctx context.Context, settings config.Settings) error {
	return f.connectErr
}

func (f *fakeUpstream) Messages() <-chan rfb.ServerMessage { return f.messages }

func (f *fakeUpstream) Dispatch(msg rfb.ServerMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, msg)
}

func (f *fakeUpstream) RequestUpdate(incremental bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeUpstream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeUpstream) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates
}

func (f *fakeUpstream) dispatchedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.dispatched)
}

type fixedLag struct{ lag float64 }

func (f fixedLag) ProcessingLag() float64 { return f.lag }

func TestSession_ConnectFailureAbortsUpstreamNotFound(t *testing.T) {
	up := newFakeUpstream()
	up.connectErr = errors.New("dial refused")

	s := New(up, display.New(), config.Settings{}, &rfb.NoOpLogger{})
	err := s.Run(context.Background())

	var abortErr *AbortError
	if !errors.As(err, &abortErr) {
		t.Fatalf("Run() error = %v, want *AbortError", err)
	}
	if abortErr.Code != AbortUpstreamNotFound {
		t.Errorf("Code = %v, want AbortUpstreamNotFound", abortErr.Code)
	}
}

func TestSession_ContextCancelStopsRunCleanly(t *testing.T) {
	up := newFakeUpstream()
	disp := display.New()
	disp.Allocate(10, 10)
	clock := clockwork.NewFakeClock()

	s := New(up, disp, config.Settings{}, &rfb.NoOpLogger{}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil on context cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestSession_ClosedMessagesChannelAbortsUpstreamError(t *testing.T) {
	up := newFakeUpstream()
	disp := display.New()
	disp.Allocate(10, 10)
	clock := clockwork.NewFakeClock()

	s := New(up, disp, config.Settings{}, &rfb.NoOpLogger{}, WithClock(clock))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	clock.BlockUntil(1)
	close(up.messages)

	select {
	case err := <-done:
		var abortErr *AbortError
		if !errors.As(err, &abortErr) {
			t.Fatalf("Run() error = %v, want *AbortError", err)
		}
		if abortErr.Code != AbortUpstreamError {
			t.Errorf("Code = %v, want AbortUpstreamError", abortErr.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not abort after messages channel closed")
	}
}

func TestSession_DispatchesMessageAndRequestsNextUpdate(t *testing.T) {
	up := newFakeUpstream()
	disp := display.New()
	disp.Allocate(10, 10)
	clock := clockwork.NewFakeClock()

	s := New(up, disp, config.Settings{}, &rfb.NoOpLogger{}, WithClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	up.messages <- &rfb.BellMessage{}

	deadline := time.Now().Add(2 * time.Second)
	for up.dispatchedCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("message was never dispatched")
		}
		// The inner loop's FRAME_TIMEOUT wait is 0, so advancing by any
		// positive duration lets drainFrame's clock.After fire and the
		// loop observe frame_remaining <= 0 and return.
		clock.Advance(time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	deadline = time.Now().Add(2 * time.Second)
	for up.updateCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("RequestUpdate was never called after the frame drained")
		}
		clock.Advance(time.Millisecond)
		time.Sleep(time.Millisecond)
	}

	cancel()
}

func TestSession_LagStretchesFrameBeforeRequiredWaitElapses(t *testing.T) {
	up := newFakeUpstream()
	disp := display.New()
	disp.Allocate(10, 10)
	clock := clockwork.NewFakeClock()
	lag := fixedLag{lag: 1} // one full second of downstream lag

	s := New(up, disp, config.Settings{}, &rfb.NoOpLogger{}, WithClock(clock), WithLagProvider(lag))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	clock.BlockUntil(1)
	up.messages <- &rfb.BellMessage{}

	// Give drainFrame a moment to register its stretch-wait timer, then
	// advance by less than the full required wait: the frame must still be
	// in progress, so no update should have been requested yet.
	time.Sleep(20 * time.Millisecond)
	clock.Advance(100 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	if up.updateCount() != 0 {
		t.Fatalf("RequestUpdate called early: got %d calls before the lag-stretched wait elapsed", up.updateCount())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
