package rfbadapter

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coredesk/vncbridge/internal/clipboard"
	"github.com/coredesk/vncbridge/internal/config"
	"github.com/coredesk/vncbridge/internal/display"
	"github.com/coredesk/vncbridge/internal/rfb"
)

func newTestCodec(t *testing.T) *clipboard.Codec {
	t.Helper()
	c, err := clipboard.NewCodec(config.ClipboardISO88591)
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestAdapter_ConnectAllocatesDisplay(t *testing.T) {
	server := rfb.NewMockVNCServer()
	server.FrameWidth = 640
	server.FrameHeight = 480
	if err := server.Start(); err != nil {
		t.Fatalf("start mock server: %v", err)
	}
	defer server.Stop()
	time.Sleep(10 * time.Millisecond)

	host, port := splitHostPort(t, server.Addr())

	disp := display.New()
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.Connect(ctx, config.Settings{Hostname: host, Port: port, ColorDepth: 32})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Close()

	if !disp.Ready() {
		t.Fatal("display not ready after connect")
	}
	w, h := disp.Surface().Dimensions()
	if w != 640 || h != 480 {
		t.Errorf("dims = %d x %d, want 640 x 480", w, h)
	}
}

func TestAdapter_ConnectRejectsBadAuth(t *testing.T) {
	server := rfb.NewMockVNCServer()
	server.AcceptAuth = false
	if err := server.Start(); err != nil {
		t.Fatalf("start mock server: %v", err)
	}
	defer server.Stop()
	time.Sleep(10 * time.Millisecond)

	host, port := splitHostPort(t, server.Addr())

	disp := display.New()
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := a.Connect(ctx, config.Settings{Hostname: host, Port: port, ColorDepth: 32, Retries: 1})
	if err == nil {
		t.Fatal("expected Connect to fail on rejected auth")
	}
}

func TestAdapter_DispatchRawRectangle(t *testing.T) {
	disp := display.New()
	disp.Allocate(4, 4)
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	// Dispatch relies on a.conn.GetPixelFormat() for the raw rectangle path,
	// so drive it through a real connection rather than hand-building a
	// Rectangle with an unconnected adapter.
	server := rfb.NewMockVNCServer()
	server.FrameWidth = 4
	server.FrameHeight = 4
	server.SendUpdates = true
	if err := server.Start(); err != nil {
		t.Fatalf("start mock server: %v", err)
	}
	defer server.Stop()
	time.Sleep(10 * time.Millisecond)

	host, port := splitHostPort(t, server.Addr())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Connect(ctx, config.Settings{Hostname: host, Port: port, ColorDepth: 32}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer a.Close()

	if err := a.RequestUpdate(false); err != nil {
		t.Fatalf("RequestUpdate: %v", err)
	}

	select {
	case msg := <-a.Messages():
		a.Dispatch(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for framebuffer update")
	}

	snap, _, _ := disp.Surface().Snapshot()
	if len(snap) == 0 {
		t.Fatal("surface empty after dispatch")
	}
}

func TestAdapter_DispatchDesktopSizeResizesDisplay(t *testing.T) {
	disp := display.New()
	disp.Allocate(100, 100)
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	a.Dispatch(&rfb.FramebufferUpdateMessage{
		Rectangles: []rfb.Rectangle{
			{Width: 200, Height: 150, Enc: &rfb.DesktopSizePseudoEncoding{Width: 200, Height: 150}},
		},
	})

	w, h := disp.Surface().Dimensions()
	if w != 200 || h != 150 {
		t.Errorf("dims = %d x %d, want 200 x 150", w, h)
	}
}

func TestAdapter_DispatchCutTextInvokesCallback(t *testing.T) {
	disp := display.New()
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	var got string
	a.OnCutText(func(text string, truncated bool) { got = text })

	a.Dispatch(&rfb.ServerCutTextMessage{Text: "hello"})
	if got != "hello" {
		t.Errorf("OnCutText got %q, want %q", got, "hello")
	}
}

func TestAdapter_DispatchHextileRawTile(t *testing.T) {
	disp := display.New()
	disp.Allocate(16, 16)
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	colors := make([]rfb.Color, 16*16)
	for i := range colors {
		colors[i] = rfb.Color{R: 65535, G: 0, B: 0}
	}

	a.Dispatch(&rfb.FramebufferUpdateMessage{
		Rectangles: []rfb.Rectangle{
			{
				Width: 16, Height: 16,
				Enc: &rfb.HextileEncoding{
					Tiles: []rfb.HextileTile{{Width: 16, Height: 16, Colors: colors}},
				},
			},
		},
	})

	snap, _, _ := disp.Surface().Snapshot()
	off := 0 // top-left pixel
	if snap[off] != 0 || snap[off+1] != 0 || snap[off+2] != 255 {
		t.Errorf("pixel = %v, want red (0,0,255,_)", snap[off:off+4])
	}
}

func TestAdapter_DispatchHextileBackgroundAndSubrect(t *testing.T) {
	disp := display.New()
	disp.Allocate(16, 16)
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	a.Dispatch(&rfb.FramebufferUpdateMessage{
		Rectangles: []rfb.Rectangle{
			{
				Width: 16, Height: 16,
				Enc: &rfb.HextileEncoding{
					Tiles: []rfb.HextileTile{{
						Width: 16, Height: 16,
						Background: rfb.Color{R: 0, G: 65535, B: 0},
						Subrectangles: []rfb.HextileSubrectangle{
							{Color: rfb.Color{R: 0, G: 0, B: 65535}, X: 0, Y: 0, Width: 4, Height: 4},
						},
					}},
				},
			},
		},
	})

	snap, w, _ := disp.Surface().Snapshot()
	stride := w * 4

	subOff := 0
	if snap[subOff] != 255 || snap[subOff+1] != 0 || snap[subOff+2] != 0 {
		t.Errorf("subrect pixel = %v, want blue (255,0,0,_)", snap[subOff:subOff+4])
	}

	bgOff := 5*stride + 5*4
	if snap[bgOff] != 0 || snap[bgOff+1] != 255 || snap[bgOff+2] != 0 {
		t.Errorf("background pixel = %v, want green (0,255,0,_)", snap[bgOff:bgOff+4])
	}
}

func TestAdapter_DispatchRRERectangle(t *testing.T) {
	disp := display.New()
	disp.Allocate(4, 4)
	a := New(disp, newTestCodec(t), &rfb.NoOpLogger{}, false)

	a.Dispatch(&rfb.FramebufferUpdateMessage{
		Rectangles: []rfb.Rectangle{
			{
				Width: 4, Height: 4,
				Enc: &rfb.RREEncoding{
					BackgroundColor: rfb.Color{R: 65535, G: 65535, B: 65535},
					Subrectangles: []rfb.RRESubrectangle{
						{Color: rfb.Color{R: 0, G: 0, B: 0}, X: 1, Y: 1, Width: 2, Height: 2},
					},
				},
			},
		},
	})

	snap, w, _ := disp.Surface().Snapshot()
	stride := w * 4

	bgOff := 0
	if snap[bgOff] != 255 || snap[bgOff+1] != 255 || snap[bgOff+2] != 255 {
		t.Errorf("background pixel = %v, want white", snap[bgOff:bgOff+4])
	}

	subOff := 1*stride + 1*4
	if snap[subOff] != 0 || snap[subOff+1] != 0 || snap[subOff+2] != 0 {
		t.Errorf("subrect pixel = %v, want black", snap[subOff:subOff+4])
	}
}

func TestBuildEncodings_DefaultOrderIncludesCursorWhenNotRemote(t *testing.T) {
	encs, err := buildEncodings(config.Settings{})
	if err != nil {
		t.Fatalf("buildEncodings: %v", err)
	}
	var gotCursor, gotHextile, gotRaw bool
	for _, e := range encs {
		switch e.(type) {
		case *rfb.CursorPseudoEncoding:
			gotCursor = true
		case *rfb.HextileEncoding:
			gotHextile = true
		case *rfb.RawEncoding:
			gotRaw = true
		}
	}
	if !gotCursor || !gotHextile || !gotRaw {
		t.Errorf("encs = %#v, missing an expected default encoding", encs)
	}
}

func TestBuildEncodings_RemoteCursorOmitsCursorPseudoEncoding(t *testing.T) {
	encs, err := buildEncodings(config.Settings{RemoteCursor: true})
	if err != nil {
		t.Fatalf("buildEncodings: %v", err)
	}
	for _, e := range encs {
		if _, ok := e.(*rfb.CursorPseudoEncoding); ok {
			t.Fatalf("encs = %#v, want no CursorPseudoEncoding when RemoteCursor is true", encs)
		}
	}
}

func TestBuildEncodings_CustomOrderReplacesDefault(t *testing.T) {
	encs, err := buildEncodings(config.Settings{Encodings: "raw"})
	if err != nil {
		t.Fatalf("buildEncodings: %v", err)
	}
	var gotHextile, gotRaw bool
	for _, e := range encs {
		switch e.(type) {
		case *rfb.HextileEncoding:
			gotHextile = true
		case *rfb.RawEncoding:
			gotRaw = true
		}
	}
	if gotHextile {
		t.Errorf("encs = %#v, custom encodings list should have excluded hextile", encs)
	}
	if !gotRaw {
		t.Errorf("encs = %#v, want raw from the custom encodings list", encs)
	}
}

func TestBuildEncodings_UnknownNameErrors(t *testing.T) {
	if _, err := buildEncodings(config.Settings{Encodings: "bogus"}); err == nil {
		t.Fatal("expected error for unknown encoding name")
	}
}

func TestAcceptReverseConnect_AcceptsConnectionWithinTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	type result struct {
		conn net.Conn
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		conn, err := acceptReverseConnect(ctx, port, time.Second)
		resCh <- result{conn, err}
	}()

	time.Sleep(50 * time.Millisecond)
	dialed, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		t.Fatalf("dial reverse listener: %v", err)
	}
	defer dialed.Close()

	select {
	case res := <-resCh:
		if res.err != nil {
			t.Fatalf("acceptReverseConnect: %v", res.err)
		}
		defer res.conn.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for acceptReverseConnect")
	}
}

func TestAcceptReverseConnect_TimesOutWithNoConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = acceptReverseConnect(ctx, port, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestSendRepeaterDestination_WritesPaddedDestination(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	done := make(chan error, 1)
	go func() { done <- sendRepeaterDestination(client, "10.0.0.5", 5900) }()

	buf := make([]byte, repeaterDestinationSize)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("read repeater destination: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("sendRepeaterDestination: %v", err)
	}

	want := "10.0.0.5:5900"
	got := strings.TrimRight(string(buf), "\x00")
	if got != want {
		t.Errorf("destination = %q, want %q", got, want)
	}
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("SplitHostPort(%q): %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("Atoi(%q): %v", portStr, err)
	}
	return host, port
}
