package wire

import (
	"encoding/binary"
	"fmt"
)

// Inbound command tags for viewer-originated input messages — the other
// direction of the same connection a Sink writes downstream commands on.
const (
	InputMouse     byte = 1
	InputKey       byte = 2
	InputClipboard byte = 3
)

// MouseInput is a decoded user_mouse_handler event.
type MouseInput struct {
	X, Y       int
	ButtonMask uint8
}

// KeyInput is a decoded user_key_handler event.
type KeyInput struct {
	Keysym uint32
	Down   bool
}

// ClipboardInput is a decoded user_clipboard_handler event.
type ClipboardInput struct {
	Text string
}

// DecodeInput parses one inbound viewer message into a MouseInput,
// KeyInput, or ClipboardInput.
func DecodeInput(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("wire: empty input message")
	}
	switch data[0] {
	case InputMouse:
		if len(data) < 10 {
			return nil, fmt.Errorf("wire: short mouse input (%d bytes)", len(data))
		}
		return MouseInput{
			X:          int(binary.BigEndian.Uint32(data[1:])),
			Y:          int(binary.BigEndian.Uint32(data[5:])),
			ButtonMask: data[9],
		}, nil
	case InputKey:
		if len(data) < 6 {
			return nil, fmt.Errorf("wire: short key input (%d bytes)", len(data))
		}
		return KeyInput{
			Keysym: binary.BigEndian.Uint32(data[1:]),
			Down:   data[5] != 0,
		}, nil
	case InputClipboard:
		return ClipboardInput{Text: string(data[1:])}, nil
	default:
		return nil, fmt.Errorf("wire: unknown input tag %d", data[0])
	}
}
