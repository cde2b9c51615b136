package wire

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
)

// Command tags for the binary downstream protocol. Each WebSocket message
// is one tag byte followed by a tag-specific big-endian payload.
const (
	CmdSurfaceDraw    byte = 1
	CmdSurfaceCopy    byte = 2
	CmdSurfaceResize  byte = 3
	CmdSurfaceFlush   byte = 4
	CmdCursorARGB     byte = 5
	CmdCursorPointer  byte = 6
	CmdEndFrame       byte = 7
	CmdClientAbort    byte = 8
	CmdClientLog      byte = 9
	CmdClipboardSet   byte = 10
	CmdCursorDot      byte = 11
)

// WebSocketSink implements Sink over a *websocket.Conn. Writes are
// serialized with a mutex because gorilla/websocket forbids concurrent
// writers on one connection, and both the session goroutine (surface/cursor
// commands) and the viewer's own input-echo path could otherwise race.
type WebSocketSink struct {
	id   uuid.UUID
	conn *websocket.Conn

	mu sync.Mutex

	lagMu sync.RWMutex
	lag   float64
}

// NewWebSocketSink wraps conn for the given viewer.
func NewWebSocketSink(id uuid.UUID, conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{id: id, conn: conn}
}

var (
	_ Sink        = (*WebSocketSink)(nil)
	_ LagProvider = (*WebSocketSink)(nil)
	_ Identified  = (*WebSocketSink)(nil)
)

// ViewerID implements Identified.
func (s *WebSocketSink) ViewerID() uuid.UUID { return s.id }

// SetProcessingLag records the current downstream backlog, read by
// internal/session through ProcessingLag. The gateway runtime updates this
// from the WebSocket write-queue depth.
func (s *WebSocketSink) SetProcessingLag(lag float64) {
	s.lagMu.Lock()
	defer s.lagMu.Unlock()
	s.lag = lag
}

// ProcessingLag implements LagProvider.
func (s *WebSocketSink) ProcessingLag() float64 {
	s.lagMu.RLock()
	defer s.lagMu.RUnlock()
	return s.lag
}

func (s *WebSocketSink) send(buf []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, buf)
}

// SurfaceDraw implements Sink.
func (s *WebSocketSink) SurfaceDraw(x, y, w, h int, pixels []byte, stride int) error {
	header := make([]byte, 1+4*4+4)
	header[0] = CmdSurfaceDraw
	binary.BigEndian.PutUint32(header[1:], uint32(x))
	binary.BigEndian.PutUint32(header[5:], uint32(y))
	binary.BigEndian.PutUint32(header[9:], uint32(w))
	binary.BigEndian.PutUint32(header[13:], uint32(h))
	binary.BigEndian.PutUint32(header[17:], uint32(stride))

	rowBytes := w * 4
	packed := make([]byte, len(header)+h*rowBytes)
	copy(packed, header)
	out := len(header)
	for row := 0; row < h; row++ {
		copy(packed[out:out+rowBytes], pixels[row*stride:row*stride+rowBytes])
		out += rowBytes
	}
	return s.send(packed)
}

// SurfaceCopy implements Sink.
func (s *WebSocketSink) SurfaceCopy(srcX, srcY, w, h, dstX, dstY int) error {
	buf := make([]byte, 1+4*6)
	buf[0] = CmdSurfaceCopy
	for i, v := range []int{srcX, srcY, w, h, dstX, dstY} {
		binary.BigEndian.PutUint32(buf[1+i*4:], uint32(v))
	}
	return s.send(buf)
}

// SurfaceResize implements Sink.
func (s *WebSocketSink) SurfaceResize(w, h int) error {
	buf := make([]byte, 1+8)
	buf[0] = CmdSurfaceResize
	binary.BigEndian.PutUint32(buf[1:], uint32(w))
	binary.BigEndian.PutUint32(buf[5:], uint32(h))
	return s.send(buf)
}

// SurfaceFlush implements Sink.
func (s *WebSocketSink) SurfaceFlush() error {
	return s.send([]byte{CmdSurfaceFlush})
}

// CursorSetARGB implements Sink.
func (s *WebSocketSink) CursorSetARGB(hotspotX, hotspotY, w, h int, argb []byte) error {
	header := make([]byte, 1+4*4)
	header[0] = CmdCursorARGB
	binary.BigEndian.PutUint32(header[1:], uint32(hotspotX))
	binary.BigEndian.PutUint32(header[5:], uint32(hotspotY))
	binary.BigEndian.PutUint32(header[9:], uint32(w))
	binary.BigEndian.PutUint32(header[13:], uint32(h))
	buf := make([]byte, len(header)+len(argb))
	copy(buf, header)
	copy(buf[len(header):], argb)
	return s.send(buf)
}

// CursorSetPointer implements Sink.
func (s *WebSocketSink) CursorSetPointer() error {
	return s.send([]byte{CmdCursorPointer})
}

// CursorSetDot implements Sink.
func (s *WebSocketSink) CursorSetDot() error {
	return s.send([]byte{CmdCursorDot})
}

// EndFrame implements Sink.
func (s *WebSocketSink) EndFrame() error {
	return s.send([]byte{CmdEndFrame})
}

// ClientAbort implements Sink.
func (s *WebSocketSink) ClientAbort(code uint8, reason string) error {
	reasonBytes := []byte(reason)
	if len(reasonBytes) > 65535 {
		reasonBytes = reasonBytes[:65535]
	}
	buf := make([]byte, 1+1+2+len(reasonBytes))
	buf[0] = CmdClientAbort
	buf[1] = code
	binary.BigEndian.PutUint16(buf[2:], uint16(len(reasonBytes)))
	copy(buf[4:], reasonBytes)
	if err := s.send(buf); err != nil {
		return fmt.Errorf("wire: send client_abort: %w", err)
	}
	return s.conn.Close()
}

// ClientLog implements Sink, a diagnostic breadcrumb for browser-side
// developer tooling; production logging goes through internal/obs instead.
func (s *WebSocketSink) ClientLog(msg string) error {
	buf := append([]byte{CmdClientLog}, []byte(msg)...)
	return s.send(buf)
}

// ClipboardSet implements Sink.
func (s *WebSocketSink) ClipboardSet(text string) error {
	buf := append([]byte{CmdClipboardSet}, []byte(text)...)
	return s.send(buf)
}
