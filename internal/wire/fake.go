package wire

import (
	"sync"

	"github.com/google/uuid"
)

// Command is one recorded call made against a FakeSink, used by
// internal/session and internal/viewer tests to assert on the sequence of
// downstream commands a scenario produces without a real socket.
type Command struct {
	Name string
	Args []interface{}
}

// FakeSink is an in-memory Sink that records every call, for tests. It is
// exported (not a _test.go file) so other packages' tests can import it
// directly, mirroring internal/rfb's testsupport.go pattern.
type FakeSink struct {
	mu       sync.Mutex
	id       uuid.UUID
	commands []Command
	lag      float64
	closed   bool
}

// NewFakeSink returns a FakeSink identified by id.
func NewFakeSink(id uuid.UUID) *FakeSink {
	return &FakeSink{id: id}
}

var (
	_ Sink        = (*FakeSink)(nil)
	_ LagProvider = (*FakeSink)(nil)
	_ Identified  = (*FakeSink)(nil)
)

func (f *FakeSink) record(name string, args ...interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, Command{Name: name, Args: args})
}

// Commands returns a copy of every command recorded so far.
func (f *FakeSink) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// Closed reports whether ClientAbort has been called.
func (f *FakeSink) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeSink) ViewerID() uuid.UUID { return f.id }

// SetProcessingLag lets a test simulate downstream backpressure.
func (f *FakeSink) SetProcessingLag(lag float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lag = lag
}

func (f *FakeSink) ProcessingLag() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lag
}

func (f *FakeSink) SurfaceDraw(x, y, w, h int, pixels []byte, stride int) error {
	cp := make([]byte, len(pixels))
	copy(cp, pixels)
	f.record("surface_draw", x, y, w, h, cp, stride)
	return nil
}

func (f *FakeSink) SurfaceCopy(srcX, srcY, w, h, dstX, dstY int) error {
	f.record("surface_copy", srcX, srcY, w, h, dstX, dstY)
	return nil
}

func (f *FakeSink) SurfaceResize(w, h int) error {
	f.record("surface_resize", w, h)
	return nil
}

func (f *FakeSink) SurfaceFlush() error {
	f.record("surface_flush")
	return nil
}

func (f *FakeSink) CursorSetARGB(hotspotX, hotspotY, w, h int, argb []byte) error {
	cp := make([]byte, len(argb))
	copy(cp, argb)
	f.record("cursor_set_argb", hotspotX, hotspotY, w, h, cp)
	return nil
}

func (f *FakeSink) CursorSetPointer() error {
	f.record("cursor_set_pointer")
	return nil
}

func (f *FakeSink) CursorSetDot() error {
	f.record("cursor_set_dot")
	return nil
}

func (f *FakeSink) EndFrame() error {
	f.record("end_frame")
	return nil
}

func (f *FakeSink) ClientAbort(code uint8, reason string) error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.record("client_abort", code, reason)
	return nil
}

func (f *FakeSink) ClientLog(msg string) error {
	f.record("client_log", msg)
	return nil
}

func (f *FakeSink) ClipboardSet(text string) error {
	f.record("clipboard_set", text)
	return nil
}
