// Package display holds the shared framebuffer surface and synthetic
// cursor that every viewer attached to a session sees.
package display

import (
	"sync"

	"github.com/google/uuid"

	"github.com/coredesk/vncbridge/internal/wire"
)

const bytesPerPixel = 4

// Surface is a 24-bit RGB framebuffer, pixels packed as little-endian
// 32-bit words (top byte unused) — the same layout internal/pixel.Translate
// writes into. It is guarded by a RWMutex: the owning session goroutine
// takes the write lock for every mutation, viewer goroutines take the read
// lock only to snapshot the surface for a newly joined guest.
type Surface struct {
	mu     sync.RWMutex
	width  int
	height int
	pix    []byte
}

// NewSurface allocates a surface of the given dimensions, initialized to
// black.
func NewSurface(width, height int) *Surface {
	return &Surface{
		width:  width,
		height: height,
		pix:    make([]byte, width*height*bytesPerPixel),
	}
}

// Dimensions returns the surface's current width and height.
func (s *Surface) Dimensions() (width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width, s.height
}

// Resize changes the surface dimensions. It is idempotent if the
// dimensions already match. When growing or shrinking, the overlapping
// region of the old content is carried forward instead of the surface
// being blanked, so a spurious resize-to-the-same-size-ish event from a
// server doesn't flash the screen.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if width == s.width && height == s.height {
		return
	}

	newPix := make([]byte, width*height*bytesPerPixel)
	copyW := min(width, s.width)
	copyH := min(height, s.height)
	newStride := width * bytesPerPixel
	oldStride := s.width * bytesPerPixel
	copyBytes := copyW * bytesPerPixel

	for y := 0; y < copyH; y++ {
		src := s.pix[y*oldStride : y*oldStride+copyBytes]
		dst := newPix[y*newStride : y*newStride+copyBytes]
		copy(dst, src)
	}

	s.width = width
	s.height = height
	s.pix = newPix
}

// Draw composites a w x h rectangle of already-translated RGB(A) pixels
// (stride bytes per row) into the surface at (x, y).
func (s *Surface) Draw(x, y, w, h int, pixels []byte, stride int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rowBytes := w * bytesPerPixel
	dstStride := s.width * bytesPerPixel
	for row := 0; row < h; row++ {
		srcOff := row * stride
		dstOff := (y+row)*dstStride + x*bytesPerPixel
		copy(s.pix[dstOff:dstOff+rowBytes], pixels[srcOff:srcOff+rowBytes])
	}
}

// Copy performs an intra-surface rectangle copy for the RFB CopyRect
// encoding, correctly handling a source and destination that overlap.
func (s *Surface) Copy(srcX, srcY, w, h, dstX, dstY int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stride := s.width * bytesPerPixel
	rowBytes := w * bytesPerPixel

	// If the destination is below the source and the rectangles overlap
	// vertically, copying top-to-bottom would overwrite source rows before
	// they're read. Walk bottom-to-top in that case; copy() itself handles
	// the horizontal overlap case safely because it's specified to work
	// correctly even when src and dst share an underlying array.
	if dstY > srcY && dstY < srcY+h {
		for row := h - 1; row >= 0; row-- {
			srcOff := (srcY+row)*stride + srcX*bytesPerPixel
			dstOff := (dstY+row)*stride + dstX*bytesPerPixel
			copy(s.pix[dstOff:dstOff+rowBytes], s.pix[srcOff:srcOff+rowBytes])
		}
		return
	}

	for row := 0; row < h; row++ {
		srcOff := (srcY+row)*stride + srcX*bytesPerPixel
		dstOff := (dstY+row)*stride + dstX*bytesPerPixel
		copy(s.pix[dstOff:dstOff+rowBytes], s.pix[srcOff:srcOff+rowBytes])
	}
}

// Snapshot returns a consistent, independent copy of the surface's current
// pixels, plus its dimensions at the time of the copy.
func (s *Surface) Snapshot() (pixels []byte, width, height int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]byte, len(s.pix))
	copy(out, s.pix)
	return out, s.width, s.height
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Cursor is the shared synthetic pointer. It is mutated by the session
// goroutine (on a server cursor-shape update) and by every viewer goroutine
// (on a local mouse event), so it carries its own mutex independent of the
// surface's.
type Cursor struct {
	mu sync.Mutex

	x, y        int
	buttonMask  uint8
	owner       uuid.UUID
	hotspotX    int
	hotspotY    int
	width       int
	height      int
	argb        []byte
	usePointer  bool // true selects the preset local pointer cursor
	useDot      bool // true selects the preset local dot cursor
	hidden      bool
}

// SetARGB replaces the cursor image, as decoded by internal/pixel.TranslateCursor.
func (c *Cursor) SetARGB(hotspotX, hotspotY, w, h int, argb []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hotspotX = hotspotX
	c.hotspotY = hotspotY
	c.width = w
	c.height = h
	c.argb = argb
	c.usePointer = false
	c.useDot = false
	c.hidden = w == 0 || h == 0
}

// SetPointer selects the preset arrow-pointer local cursor, used when the
// server requests remote-cursor rendering be disabled client-side.
func (c *Cursor) SetPointer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.usePointer = true
	c.useDot = false
	c.hidden = false
}

// SetDot selects the preset dot local cursor.
func (c *Cursor) SetDot() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.useDot = true
	c.usePointer = false
	c.hidden = false
}

// Update records the latest mouse state reported by any viewer.
func (c *Cursor) Update(viewer uuid.UUID, x, y int, buttonMask uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.x, c.y, c.buttonMask = x, y, buttonMask
	c.owner = viewer
}

// RemoveViewer drops a viewer's contribution to the shared cursor state on
// leave, so a departed viewer doesn't keep "owning" the last-seen position.
func (c *Cursor) RemoveViewer(viewer uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner == viewer {
		c.owner = uuid.Nil
	}
}

// CursorSnapshot is the cursor's state at one moment, for replay to a joining guest.
type CursorSnapshot struct {
	X, Y                 int
	ButtonMask           uint8
	HotspotX, HotspotY   int
	Width, Height        int
	ARGB                 []byte
	UsePointer, UseDot   bool
	Hidden               bool
}

// Snapshot returns a consistent copy of the cursor's current state.
func (c *Cursor) Snapshot() CursorSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	argb := make([]byte, len(c.argb))
	copy(argb, c.argb)
	return CursorSnapshot{
		X: c.x, Y: c.y, ButtonMask: c.buttonMask,
		HotspotX: c.hotspotX, HotspotY: c.hotspotY,
		Width: c.width, Height: c.height,
		ARGB:       argb,
		UsePointer: c.usePointer,
		UseDot:     c.useDot,
		Hidden:     c.hidden,
	}
}

// Display is the per-session shared surface and cursor, plus the join
// barrier that keeps a guest from replaying display content before the
// owner has allocated it (see SPEC_FULL.md §9, the guest-before-owner
// race), and the set of attached viewer sinks every surface/cursor mutation
// fans out to. The Shared Display component owns pushing surface_draw,
// surface_copy, surface_resize and cursor_set_* onto every attached viewer
// as well as maintaining the canonical buffer a newly joined guest is
// replayed from (see DupTo).
type Display struct {
	mu      sync.Mutex
	surface *Surface
	cursor  *Cursor

	readyOnce sync.Once
	readyCh   chan struct{}

	viewersMu sync.Mutex
	viewers   map[uuid.UUID]wire.Sink
}

// New returns an unallocated Display; Allocate must be called before
// Surface/Ready report anything meaningful.
func New() *Display {
	return &Display{
		cursor:  &Cursor{},
		readyCh: make(chan struct{}),
		viewers: make(map[uuid.UUID]wire.Sink),
	}
}

// DetachViewer stops fanning out mutations to a departed viewer.
func (d *Display) DetachViewer(id uuid.UUID) {
	d.viewersMu.Lock()
	defer d.viewersMu.Unlock()
	delete(d.viewers, id)
}

// broadcast fans a mutation out to every attached sink. A single viewer's
// write failure is swallowed here — that viewer's transport loop will
// observe the same failure on its own read side and trigger Manager.Leave;
// Display has no business deciding a write error is session-fatal.
func (d *Display) broadcast(fn func(wire.Sink) error) {
	d.viewersMu.Lock()
	defer d.viewersMu.Unlock()
	for _, sink := range d.viewers {
		_ = fn(sink)
	}
}

// DupTo replays the current surface and cursor state to a single sink, the
// dup_to operation a newly joined viewer needs before it starts receiving
// live fan-out. It takes no lock of its own: a caller racing a concurrent
// broadcast wants AttachAndReplay instead, which performs the same replay
// under viewersMu so the two can't interleave.
func (d *Display) DupTo(sink wire.Sink) error {
	return d.dupTo(sink)
}

func (d *Display) dupTo(sink wire.Sink) error {
	surface := d.Surface()
	if surface == nil {
		return nil
	}
	pixels, w, h := surface.Snapshot()
	if err := sink.SurfaceResize(w, h); err != nil {
		return err
	}
	if err := sink.SurfaceDraw(0, 0, w, h, pixels, w*bytesPerPixel); err != nil {
		return err
	}

	cur := d.cursor.Snapshot()
	switch {
	case cur.UsePointer:
		if err := sink.CursorSetPointer(); err != nil {
			return err
		}
	case cur.UseDot:
		if err := sink.CursorSetDot(); err != nil {
			return err
		}
	case cur.Hidden || len(cur.ARGB) == 0:
		// Nothing to replay; the joining viewer starts with no cursor image.
	default:
		if err := sink.CursorSetARGB(cur.HotspotX, cur.HotspotY, cur.Width, cur.Height, cur.ARGB); err != nil {
			return err
		}
	}
	return sink.EndFrame()
}

// AttachAndReplay registers sink to receive every subsequent surface/cursor
// mutation and replays the current state to it (dup_to), both under
// viewersMu so a broadcast racing the join can't land in the gap: either it
// runs before the lock is taken here and the replay snapshot already
// reflects it, or it blocks until the sink is registered and reaches it
// directly. Safe to call before Allocate — dupTo is then a no-op and the
// sink is registered to receive the eventual first resize/draw.
func (d *Display) AttachAndReplay(id uuid.UUID, sink wire.Sink) error {
	d.viewersMu.Lock()
	defer d.viewersMu.Unlock()
	err := d.dupTo(sink)
	d.viewers[id] = sink
	return err
}

// Allocate performs the initial surface allocation after the upstream
// handshake and marks the display ready, releasing any guest blocked on
// WaitReady.
func (d *Display) Allocate(width, height int) {
	d.mu.Lock()
	d.surface = NewSurface(width, height)
	d.mu.Unlock()
	d.readyOnce.Do(func() { close(d.readyCh) })
}

// Ready reports whether Allocate has run.
func (d *Display) Ready() bool {
	select {
	case <-d.readyCh:
		return true
	default:
		return false
	}
}

// WaitReady blocks until Allocate has run or done is closed, whichever comes
// first. It returns false if done ended the wait.
func (d *Display) WaitReady(done <-chan struct{}) bool {
	select {
	case <-d.readyCh:
		return true
	case <-done:
		return false
	}
}

// Surface returns the display's surface. Only valid after Ready().
func (d *Display) Surface() *Surface {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.surface
}

// Cursor returns the display's shared cursor. Always valid, even before
// Allocate, since cursor state is independent of the surface.
func (d *Display) Cursor() *Cursor {
	return d.cursor
}

// Resize resizes the underlying surface, allocating it first if this is
// somehow the first sizing event the display has seen, and fans the resize
// out to every attached viewer.
func (d *Display) Resize(width, height int) {
	d.mu.Lock()
	surface := d.surface
	d.mu.Unlock()

	if surface == nil {
		d.Allocate(width, height)
	} else {
		surface.Resize(width, height)
	}
	d.broadcast(func(s wire.Sink) error { return s.SurfaceResize(width, height) })
}

// Draw composites a rectangle into the surface and fans surface_draw out to
// every attached viewer.
func (d *Display) Draw(x, y, w, h int, pixels []byte, stride int) {
	d.Surface().Draw(x, y, w, h, pixels, stride)
	d.broadcast(func(s wire.Sink) error { return s.SurfaceDraw(x, y, w, h, pixels, stride) })
}

// Copy performs an intra-surface CopyRect and fans surface_copy out to
// every attached viewer.
func (d *Display) Copy(srcX, srcY, w, h, dstX, dstY int) {
	d.Surface().Copy(srcX, srcY, w, h, dstX, dstY)
	d.broadcast(func(s wire.Sink) error { return s.SurfaceCopy(srcX, srcY, w, h, dstX, dstY) })
}

// Flush fans surface_flush and end_frame out to every attached viewer,
// marking the end of one batch of rectangle updates (spec §4.5 step 4).
func (d *Display) Flush() {
	d.broadcast(func(s wire.Sink) error {
		if err := s.SurfaceFlush(); err != nil {
			return err
		}
		return s.EndFrame()
	})
}

// SetCursorARGB replaces the shared cursor image and fans cursor_set_argb
// out to every attached viewer.
func (d *Display) SetCursorARGB(hotspotX, hotspotY, w, h int, argb []byte) {
	d.cursor.SetARGB(hotspotX, hotspotY, w, h, argb)
	d.broadcast(func(s wire.Sink) error { return s.CursorSetARGB(hotspotX, hotspotY, w, h, argb) })
}

// SetCursorPointer selects the preset local pointer cursor and fans
// cursor_set_pointer out to every attached viewer.
func (d *Display) SetCursorPointer() {
	d.cursor.SetPointer()
	d.broadcast(func(s wire.Sink) error { return s.CursorSetPointer() })
}

// SetCursorDot selects the preset local dot cursor and fans cursor_set_dot
// out to every attached viewer.
func (d *Display) SetCursorDot() {
	d.cursor.SetDot()
	d.broadcast(func(s wire.Sink) error { return s.CursorSetDot() })
}
