// Package session implements the frame-paced loop that owns one upstream
// RFB connection and paces the rectangles it decodes against both a target
// frame rate and how far behind the attached viewers' downstream sockets
// are running.
package session

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/display"
	"github.com/coredesk/vncbridge/internal/rfb"
)

// Tuning constants for the frame pacer. Illustrative values, matching a
// 25 fps target; a deployment under different bandwidth or latency
// constraints may want different numbers, which is why they're plain
// package-level vars rather than untouchable consts.
var (
	FrameDuration     = 40 * time.Millisecond
	FrameStartTimeout = 1000 * time.Millisecond
	FrameTimeout      = 0 * time.Millisecond
)

// Upstream is the subset of internal/rfbadapter.Adapter the session loop
// needs. Sessions depend on this interface rather than *rfbadapter.Adapter
// directly so session_test.go can drive the loop against a fake.
type Upstream interface {
	Connect(ctx context.Context, settings config.Settings) error
	Messages() <-chan rfb.ServerMessage
	Dispatch(msg rfb.ServerMessage)
	RequestUpdate(incremental bool) error
	Close() error
}

// LagProvider reports how far behind, in seconds, the attached viewers'
// downstream transports are running. A session with no LagProvider (or one
// whose ProcessingLag always returns 0) never stretches a frame for
// backpressure.
type LagProvider interface {
	ProcessingLag() float64
}

// Option configures optional Session behavior.
type Option func(*Session)

// WithClock overrides the session's time source, for deterministic tests.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithLagProvider attaches the gateway's measure of downstream viewer lag.
func WithLagProvider(lag LagProvider) Option {
	return func(s *Session) { s.lag = lag }
}

// Session drives one upstream connection's frame-paced message loop.
type Session struct {
	upstream Upstream
	disp     *display.Display
	settings config.Settings
	logger   rfb.Logger
	clock    clockwork.Clock
	lag      LagProvider
}

// New returns a Session ready to Run. Upstream.Connect is not called until
// Run does so.
func New(upstream Upstream, disp *display.Display, settings config.Settings, logger rfb.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = &rfb.NoOpLogger{}
	}
	s := &Session{
		upstream: upstream,
		disp:     disp,
		settings: settings,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run connects upstream and then drives the frame loop until ctx is done or
// the upstream connection fails, per spec §4.5. A nil return means ctx was
// canceled (ordinary shutdown); a non-nil return is always an *AbortError.
func (s *Session) Run(ctx context.Context) error {
	if err := s.upstream.Connect(ctx, s.settings); err != nil {
		return &AbortError{Code: AbortUpstreamNotFound, Reason: err.Error()}
	}
	defer s.upstream.Close()

	s.logger.Info("session connected", rfb.Field{Key: "hostname", Value: s.settings.Hostname})
	defer s.logger.Info("session disconnected")

	lastFrameEnd := s.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.clock.After(FrameStartTimeout):
			// Nothing readable within the idle window; loop and wait again.
			continue

		case msg, ok := <-s.upstream.Messages():
			if !ok {
				return &AbortError{Code: AbortUpstreamError, Reason: "connection closed"}
			}

			frameStart := s.clock.Now()
			lag := s.processingLag()
			s.upstream.Dispatch(msg)

			if err := s.drainFrame(ctx, frameStart, lastFrameEnd, lag); err != nil {
				return err
			}
			lastFrameEnd = frameStart

			s.disp.Flush()
			if err := s.upstream.RequestUpdate(true); err != nil {
				return &AbortError{Code: AbortUpstreamError, Reason: err.Error()}
			}
		}
	}
}

// drainFrame is the inner loop of spec §4.5(b): keep dispatching messages
// that arrive within the frame's budget, stretching the frame when
// downstream viewers are lagging, until frame_remaining runs out.
func (s *Session) drainFrame(ctx context.Context, frameStart, lastFrameEnd time.Time, lag float64) error {
	lagDuration := time.Duration(lag * float64(time.Second))

	for {
		frameEnd := s.clock.Now()
		frameRemaining := FrameDuration - frameEnd.Sub(frameStart)
		timeElapsed := frameEnd.Sub(lastFrameEnd)
		requiredWait := lagDuration - timeElapsed

		var wait time.Duration
		switch {
		case requiredWait > FrameTimeout:
			// Downstream viewers are behind: stretch this frame so the
			// server has more time to deliver and viewers time to catch up.
			wait = requiredWait
		case frameRemaining > 0:
			wait = FrameTimeout
		default:
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.upstream.Messages():
			if !ok {
				return &AbortError{Code: AbortUpstreamError, Reason: "connection closed"}
			}
			s.upstream.Dispatch(msg)
		case <-s.clock.After(wait):
		}
	}
}

func (s *Session) processingLag() float64 {
	if s.lag == nil {
		return 0
	}
	return s.lag.ProcessingLag()
}
