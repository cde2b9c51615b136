// Package wire defines the downstream command stream a viewer socket
// speaks, and a WebSocket implementation of it.
package wire

import "github.com/google/uuid"

// Sink is the per-viewer downstream collaborator named in SPEC_FULL.md §1:
// the shared display and session loop push drawing and lifecycle commands
// through it without knowing how (or whether) they reach a real socket.
type Sink interface {
	// SurfaceDraw composites a w x h rectangle of packed RGB(A) pixels
	// (stride bytes per row, as produced by internal/pixel.Translate) at
	// (x, y) on the viewer's copy of the surface.
	SurfaceDraw(x, y, w, h int, pixels []byte, stride int) error

	// SurfaceCopy replays an intra-surface CopyRect.
	SurfaceCopy(srcX, srcY, w, h, dstX, dstY int) error

	// SurfaceResize tells the viewer its surface changed dimensions.
	SurfaceResize(w, h int) error

	// SurfaceFlush marks the end of a batch of surface commands that
	// together describe one consistent frame.
	SurfaceFlush() error

	// CursorSetARGB pushes a new cursor image.
	CursorSetARGB(hotspotX, hotspotY, w, h int, argb []byte) error

	// CursorSetPointer selects the viewer-local preset pointer cursor.
	CursorSetPointer() error

	// CursorSetDot selects the viewer-local preset dot cursor.
	CursorSetDot() error

	// ClipboardSet delivers clipboard text the upstream server pushed, after
	// transcoding, to the viewer's own clipboard.
	ClipboardSet(text string) error

	// EndFrame marks the end of one frame's worth of commands (surface and
	// cursor), the downstream unit the session loop paces against.
	EndFrame() error

	// ClientAbort tells the viewer the session ended and why, then the sink
	// should close.
	ClientAbort(code uint8, reason string) error

	// ClientLog is a diagnostic breadcrumb visible to the viewer in dev
	// tooling; production sinks may route it to internal/obs instead.
	ClientLog(msg string) error
}

// LagProvider is implemented by a Sink that can report how far behind its
// downstream consumer is, for internal/session's frame-pacing backpressure
// (SPEC_FULL.md §4.5). A Sink that doesn't implement it is treated as never
// lagging.
type LagProvider interface {
	ProcessingLag() float64
}

// Identified is implemented by sinks that know which viewer they belong to,
// so the session/display layers can address per-viewer commands (e.g. who
// to exclude from a cursor-owner echo) without threading a separate id.
type Identified interface {
	ViewerID() uuid.UUID
}
