// Package rfbadapter drives an internal/rfb client connection on behalf of
// a session, translating its decoded messages into shared-display and
// clipboard-codec calls. It is the Go realization of the "RFB Adapter"
// component: channel-based dispatch instead of the callback set a classic
// libvncclient-shaped binding would register.
package rfbadapter

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coredesk/vncbridge/internal/clipboard"
	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/display"
	"github.com/coredesk/vncbridge/internal/pixel"
	"github.com/coredesk/vncbridge/internal/rfb"
)

// connectInterval is the delay between reconnect attempts when the upstream
// server is unreachable, per spec §4.4's CONNECT_INTERVAL.
const connectInterval = 2 * time.Second

// Adapter owns one upstream rfb.ClientConn and feeds decoded messages into
// a Display and Codec.
type Adapter struct {
	mu sync.Mutex // serializes every call into conn; see SPEC_FULL.md §5

	conn    *rfb.ClientConn
	logger  rfb.Logger
	disp    *display.Display
	codec   *clipboard.Codec
	swapRB  bool

	messages chan rfb.ServerMessage

	onCutText func(text string, truncated bool)
}

// New returns an Adapter that will draw into disp and transcode clipboard
// text with codec.
func New(disp *display.Display, codec *clipboard.Codec, logger rfb.Logger, swapRB bool) *Adapter {
	if logger == nil {
		logger = &rfb.NoOpLogger{}
	}
	return &Adapter{
		disp:     disp,
		codec:    codec,
		logger:   logger,
		swapRB:   swapRB,
		messages: make(chan rfb.ServerMessage, 64),
	}
}

// OnCutText registers a callback invoked whenever the server pushes
// clipboard text, after transcoding. Optional; a nil value drops clipboard
// updates on the floor (a viewer-less session, e.g. during reconnect).
func (a *Adapter) OnCutText(fn func(text string, truncated bool)) {
	a.onCutText = fn
}

// pixelFormatForDepth realizes the depth→PixelFormat table in spec §4.4:
// byte order and channel layout the gateway requests from the server,
// trading bandwidth for color fidelity based on the viewer's color-depth
// setting.
func pixelFormatForDepth(depth int) rfb.PixelFormat {
	switch depth {
	case 8:
		return rfb.PixelFormat{
			BPP: 8, Depth: 8, BigEndian: false, TrueColor: true,
			RedMax: 7, GreenMax: 7, BlueMax: 3,
			RedShift: 5, GreenShift: 2, BlueShift: 0,
		}
	case 16:
		return rfb.PixelFormat{
			BPP: 16, Depth: 16, BigEndian: false, TrueColor: true,
			RedMax: 31, GreenMax: 63, BlueMax: 31,
			RedShift: 11, GreenShift: 5, BlueShift: 0,
		}
	case 24:
		return rfb.PixelFormat{
			BPP: 32, Depth: 24, BigEndian: false, TrueColor: true,
			RedMax: 255, GreenMax: 255, BlueMax: 255,
			RedShift: 16, GreenShift: 8, BlueShift: 0,
		}
	default: // 32
		return rfb.PixelFormat{
			BPP: 32, Depth: 32, BigEndian: false, TrueColor: true,
			RedMax: 255, GreenMax: 255, BlueMax: 255,
			RedShift: 16, GreenShift: 8, BlueShift: 0,
		}
	}
}

func pixelFormatToFormat(pf rfb.PixelFormat) pixel.Format {
	return pixel.Format{
		BPP:        int(pf.BPP / 8),
		BigEndian:  pf.BigEndian,
		RedShift:   pf.RedShift,
		GreenShift: pf.GreenShift,
		BlueShift:  pf.BlueShift,
		RedMax:     pf.RedMax,
		GreenMax:   pf.GreenMax,
		BlueMax:    pf.BlueMax,
	}
}

// Connect performs the connection sequence from spec §4.4(a)-(g): dial,
// negotiate auth, set pixel format and encodings, read the initial
// framebuffer size, and allocate the shared display. It retries on
// connection failure (not on protocol/auth failure) every connectInterval
// until ctx is done or settings.Retries attempts are exhausted.
func (a *Adapter) Connect(ctx context.Context, settings config.Settings) error {
	var lastErr error
	attempts := settings.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(connectInterval):
			}
		}

		err := a.connectOnce(ctx, settings)
		if err == nil {
			return nil
		}
		lastErr = err

		if rfb.IsVNCError(err, rfb.ErrAuthentication, rfb.ErrConfiguration, rfb.ErrProtocol) {
			return lastErr
		}
		a.logger.Warn("upstream connect failed, retrying",
			rfb.Field{Key: "attempt", Value: attempt + 1},
			rfb.Field{Key: "error", Value: err.Error()})
	}
	return lastErr
}

func (a *Adapter) connectOnce(ctx context.Context, settings config.Settings) error {
	encs, err := buildEncodings(settings)
	if err != nil {
		return rfb.WrapError("Adapter.Connect", rfb.ErrConfiguration, "resolve encodings", err)
	}

	netConn, err := a.dial(ctx, settings)
	if err != nil {
		return err
	}

	if settings.DestHost != "" {
		if err := sendRepeaterDestination(netConn, settings.DestHost, settings.DestPort); err != nil {
			netConn.Close()
			return rfb.WrapError("Adapter.Connect", rfb.ErrNetwork, "send repeater destination", err)
		}
	}

	var auth []rfb.ClientAuth
	if settings.Password != "" {
		auth = append(auth, rfb.NewPasswordAuth(settings.Password))
	} else {
		auth = append(auth, &rfb.ClientAuthNone{})
	}

	conn, err := rfb.ClientWithContext(ctx, netConn, &rfb.ClientConfig{
		Auth:            auth,
		ServerMessageCh: a.messages,
		Logger:          a.logger,
		ConnectTimeout:  10 * time.Second,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Second,
	})
	if err != nil {
		netConn.Close()
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	pf := pixelFormatForDepth(settings.ColorDepth)
	if err := conn.SetPixelFormat(&pf); err != nil {
		conn.Close()
		return err
	}

	if err := conn.SetEncodings(encs); err != nil {
		conn.Close()
		return err
	}

	w, h := conn.GetFrameBufferSize()
	a.disp.Allocate(int(w), int(h))

	if err := conn.FramebufferUpdateRequest(false, 0, 0, w, h); err != nil {
		conn.Close()
		return err
	}

	return nil
}

// dial establishes the upstream transport: a normal outbound TCP dial to
// Hostname:Port, or, when settings.ReverseConnect is set, a one-shot
// listener on ListenPort that accepts the server's own inbound connection
// instead — spec §4.4(e), for a server sitting behind a NAT/firewall the
// gateway can't dial out to.
func (a *Adapter) dial(ctx context.Context, settings config.Settings) (net.Conn, error) {
	if settings.ReverseConnect {
		return acceptReverseConnect(ctx, settings.ListenPort, time.Duration(settings.ListenTimeout)*time.Second)
	}
	dialer := net.Dialer{}
	addr := fmt.Sprintf("%s:%d", settings.Hostname, settings.Port)
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, rfb.WrapError("Adapter.Connect", rfb.ErrNetwork, "dial upstream", err)
	}
	return netConn, nil
}

// acceptReverseConnect listens on port and returns the first connection
// accepted within timeout, or fails if none arrives in time.
func acceptReverseConnect(ctx context.Context, port int, timeout time.Duration) (net.Conn, error) {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, rfb.WrapError("Adapter.Connect", rfb.ErrNetwork, "listen for reverse connection", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	acceptErr := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr <- err
			return
		}
		accepted <- conn
	}()

	select {
	case conn := <-accepted:
		return conn, nil
	case err := <-acceptErr:
		return nil, rfb.WrapError("Adapter.Connect", rfb.ErrNetwork, "accept reverse connection", err)
	case <-time.After(timeout):
		return nil, rfb.WrapError("Adapter.Connect", rfb.ErrNetwork, "reverse connect timed out",
			fmt.Errorf("no connection within %s", timeout))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// repeaterDestinationSize is the fixed-width ASCII destination field the
// UltraVNC repeater protocol (mode II) expects immediately after the TCP
// connection to the repeater is established, before the RFB version
// handshake begins.
const repeaterDestinationSize = 250

// sendRepeaterDestination tells a repeater sitting at settings.Hostname:Port
// which real server to proxy the connection to — spec §4.4(d).
func sendRepeaterDestination(conn net.Conn, host string, port int) error {
	dest := fmt.Sprintf("%s:%d", host, port)
	if len(dest) > repeaterDestinationSize {
		return fmt.Errorf("rfbadapter: repeater destination %q exceeds %d bytes", dest, repeaterDestinationSize)
	}
	buf := make([]byte, repeaterDestinationSize)
	copy(buf, dest)
	_, err := conn.Write(buf)
	return err
}

// encodingByName maps one entry of the viewer-facing comma-separated
// "encodings" setting (spec §4.4(f)) to a fresh rfb.Encoding value.
func encodingByName(name string) (rfb.Encoding, bool) {
	switch strings.TrimSpace(name) {
	case "raw":
		return &rfb.RawEncoding{}, true
	case "hextile":
		return &rfb.HextileEncoding{}, true
	case "rre":
		return &rfb.RREEncoding{}, true
	default:
		return nil, false
	}
}

// buildEncodings resolves the SetEncodings preference order. CopyRect and
// DesktopSize are unconditional: Display.Copy/Resize depend on the server
// being able to use them regardless of what a viewer's own encodings
// setting asks for. The content encodings default to hextile, rre, raw —
// richest compression first — unless settings.Encodings names an explicit
// comma-separated order, which then replaces that default outright; an
// unrecognized name in that list is rejected rather than silently dropped,
// since a misconfigured viewer should find out why its update stream looks
// wrong. CursorPseudoEncoding is requested only when settings.RemoteCursor
// is false: remote-cursor=true means the server renders the cursor into the
// framebuffer itself, so the bridge has no local cursor shape to ask for.
func buildEncodings(settings config.Settings) ([]rfb.Encoding, error) {
	encs := []rfb.Encoding{
		&rfb.CopyRectEncoding{},
		&rfb.DesktopSizePseudoEncoding{},
	}

	names := []string{"hextile", "rre", "raw"}
	if settings.Encodings != "" {
		names = strings.Split(settings.Encodings, ",")
	}
	for _, name := range names {
		enc, ok := encodingByName(name)
		if !ok {
			return nil, fmt.Errorf("rfbadapter: unknown encoding %q", name)
		}
		encs = append(encs, enc)
	}

	if !settings.RemoteCursor {
		encs = append(encs, &rfb.CursorPseudoEncoding{})
	}
	return encs, nil
}

// Messages returns the channel rfb delivers decoded ServerMessage values
// on, for the session loop to drain.
func (a *Adapter) Messages() <-chan rfb.ServerMessage {
	return a.messages
}

// Close releases the upstream connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

// RequestUpdate issues an (incremental) FramebufferUpdateRequest for the
// whole current framebuffer, the repeating step of the session loop.
func (a *Adapter) RequestUpdate(incremental bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("rfbadapter: not connected")
	}
	w, h := a.conn.GetFrameBufferSize()
	return a.conn.FramebufferUpdateRequest(incremental, 0, 0, w, h)
}

// PointerEvent forwards a viewer pointer event upstream.
func (a *Adapter) PointerEvent(mask rfb.ButtonMask, x, y uint16) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("rfbadapter: not connected")
	}
	return a.conn.PointerEvent(mask, x, y)
}

// KeyEvent forwards a viewer key event upstream.
func (a *Adapter) KeyEvent(keysym uint32, down bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("rfbadapter: not connected")
	}
	return a.conn.KeyEvent(keysym, down)
}

// CutText forwards a viewer clipboard update upstream, transcoding it with
// the adapter's codec first.
func (a *Adapter) CutText(text string) error {
	encoded, err := a.codec.Encode(text)
	if err != nil {
		return fmt.Errorf("rfbadapter: encode clipboard text: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return fmt.Errorf("rfbadapter: not connected")
	}
	return a.conn.CutText(string(encoded))
}

// Dispatch is the Go equivalent of the classic RFB callback set
// (GotFrameBufferUpdate, GotCopyRect, GotCursorShape, GotXCutText): a type
// switch over the decoded ServerMessage, since rfb.ClientConn delivers
// messages on a channel rather than invoking per-message callbacks.
//
// The copy_rect_used flag from spec §4.4/§9 has no equivalent here: each
// Rectangle.Enc already carries its own concrete encoding type, so a
// CopyRect rectangle and a Raw rectangle in the same FramebufferUpdate can
// never be confused with each other the way a single shared boolean could
// be misused.
func (a *Adapter) Dispatch(msg rfb.ServerMessage) {
	switch m := msg.(type) {
	case *rfb.FramebufferUpdateMessage:
		for _, rect := range m.Rectangles {
			a.dispatchRectangle(rect)
		}
	case *rfb.ServerCutTextMessage:
		a.dispatchCutText(m)
	case *rfb.BellMessage:
		a.logger.Debug("bell")
	default:
		a.logger.Debug("unhandled server message", rfb.Field{Key: "type", Value: msg.Type()})
	}
}

func (a *Adapter) dispatchRectangle(rect rfb.Rectangle) {
	switch enc := rect.Enc.(type) {
	case *rfb.RawEncoding:
		a.dispatchRaw(rect, enc)
	case *rfb.HextileEncoding:
		a.dispatchHextile(rect, enc)
	case *rfb.RREEncoding:
		a.dispatchRRE(rect, enc)
	case *rfb.CopyRectEncoding:
		a.disp.Copy(int(enc.SrcX), int(enc.SrcY), int(rect.Width), int(rect.Height), int(rect.X), int(rect.Y))
	case *rfb.DesktopSizePseudoEncoding:
		// MallocFrameBuffer-equivalent: resize before the next
		// FramebufferUpdateRequest is issued.
		a.disp.Resize(int(enc.Width), int(enc.Height))
	case *rfb.CursorPseudoEncoding:
		a.dispatchCursor(enc)
	default:
		a.logger.Debug("unhandled rectangle encoding", rfb.Field{Key: "type", Value: rect.Enc.Type()})
	}
}

func (a *Adapter) dispatchRaw(rect rfb.Rectangle, enc *rfb.RawEncoding) {
	a.mu.Lock()
	pf := a.conn.GetPixelFormat()
	a.mu.Unlock()

	format := pixelFormatToFormat(pf)
	stride := int(rect.Width) * format.BPP
	dst := make([]byte, int(rect.Width)*int(rect.Height)*4)
	if err := pixel.Translate(dst, enc.Raw, int(rect.Width), int(rect.Height), stride, format, a.swapRB); err != nil {
		a.logger.Warn("pixel translate failed, dropping rectangle", rfb.Field{Key: "error", Value: err.Error()})
		return
	}
	a.disp.Draw(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height), dst, int(rect.Width)*4)
}

// colorBytes reduces a teacher-scale rfb.Color (16-bit channels, already
// extracted from the wire pixel format by rfb.readPixelColor) down to the
// dst byte triple internal/pixel's output buffers use: the high byte of
// each channel, blue/green/red ordered, swapped if swapRB is set.
func colorBytes(c rfb.Color, swapRB bool) (blue, green, red byte) {
	red = byte(c.R >> 8)
	green = byte(c.G >> 8)
	blue = byte(c.B >> 8)
	if swapRB {
		red, blue = blue, red
	}
	return blue, green, red
}

// fillRect paints a solid-color w x h rectangle at (x, y) into a packed
// BGRA buffer of the given stride.
func fillRect(buf []byte, stride, x, y, w, h int, c rfb.Color, swapRB bool) {
	blue, green, red := colorBytes(c, swapRB)
	for row := 0; row < h; row++ {
		off := (y+row)*stride + x*4
		for col := 0; col < w; col++ {
			buf[off] = blue
			buf[off+1] = green
			buf[off+2] = red
			buf[off+3] = 0
			off += 4
		}
	}
}

// dispatchHextile rasterizes a Hextile rectangle (RFC 6143 §7.7.4) tile by
// tile into a single packed buffer before handing it to Display.Draw as one
// rectangle, the same shape dispatchRaw uses.
func (a *Adapter) dispatchHextile(rect rfb.Rectangle, enc *rfb.HextileEncoding) {
	stride := int(rect.Width) * 4
	dst := make([]byte, int(rect.Width)*int(rect.Height)*4)

	tilesX := (int(rect.Width) + rfb.HextileTileSize - 1) / rfb.HextileTileSize
	tilesY := (int(rect.Height) + rfb.HextileTileSize - 1) / rfb.HextileTileSize

	tileIndex := 0
	for ty := 0; ty < tilesY; ty++ {
		for tx := 0; tx < tilesX; tx++ {
			tile := enc.Tiles[tileIndex]
			tileIndex++
			originX := tx * rfb.HextileTileSize
			originY := ty * rfb.HextileTileSize
			w, h := int(tile.Width), int(tile.Height)

			if len(tile.Colors) > 0 {
				for row := 0; row < h; row++ {
					off := (originY+row)*stride + originX*4
					for col := 0; col < w; col++ {
						blue, green, red := colorBytes(tile.Colors[row*w+col], a.swapRB)
						dst[off] = blue
						dst[off+1] = green
						dst[off+2] = red
						dst[off+3] = 0
						off += 4
					}
				}
				continue
			}

			fillRect(dst, stride, originX, originY, w, h, tile.Background, a.swapRB)
			for _, sr := range tile.Subrectangles {
				fillRect(dst, stride, originX+int(sr.X), originY+int(sr.Y), int(sr.Width), int(sr.Height), sr.Color, a.swapRB)
			}
		}
	}

	a.disp.Draw(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height), dst, stride)
}

// dispatchRRE rasterizes an RRE rectangle (RFC 6143 §7.7.3) — a background
// fill plus solid-color subrectangles — into the same packed-buffer shape
// dispatchRaw and dispatchHextile produce.
func (a *Adapter) dispatchRRE(rect rfb.Rectangle, enc *rfb.RREEncoding) {
	stride := int(rect.Width) * 4
	dst := make([]byte, int(rect.Width)*int(rect.Height)*4)

	fillRect(dst, stride, 0, 0, int(rect.Width), int(rect.Height), enc.BackgroundColor, a.swapRB)
	for _, sr := range enc.Subrectangles {
		fillRect(dst, stride, int(sr.X), int(sr.Y), int(sr.Width), int(sr.Height), sr.Color, a.swapRB)
	}

	a.disp.Draw(int(rect.X), int(rect.Y), int(rect.Width), int(rect.Height), dst, stride)
}

func (a *Adapter) dispatchCursor(enc *rfb.CursorPseudoEncoding) {
	if enc.Width == 0 || enc.Height == 0 {
		a.disp.SetCursorARGB(0, 0, 0, 0, nil)
		return
	}

	a.mu.Lock()
	pf := a.conn.GetPixelFormat()
	a.mu.Unlock()

	format := pixelFormatToFormat(pf)
	argb := make([]byte, int(enc.Width)*int(enc.Height)*4)
	// See SPEC_FULL.md §9: a malformed upstream cursor buffer is logged and
	// dropped rather than treated as session-fatal.
	if err := pixel.TranslateCursor(argb, enc.PixelData, enc.MaskData, int(enc.Width), int(enc.Height), format, a.swapRB); err != nil {
		a.logger.Warn("cursor translate failed, dropping update", rfb.Field{Key: "error", Value: err.Error()})
		return
	}
	a.disp.SetCursorARGB(int(enc.HotspotX), int(enc.HotspotY), int(enc.Width), int(enc.Height), argb)
}

func (a *Adapter) dispatchCutText(m *rfb.ServerCutTextMessage) {
	if a.onCutText == nil {
		return
	}
	text, ok := a.codec.Decode([]byte(m.Text))
	if !ok {
		a.logger.Debug("clipboard text truncated", rfb.Field{Key: "max_length", Value: clipboard.MaxClipboardLength})
	}
	a.onCutText(text, !ok)
}
