// Package pixel translates raw RFB framebuffer pixels into the downstream
// gateway's fixed 24/32-bit RGB(A) wire format.
package pixel

import (
	"encoding/binary"
	"fmt"
)

// Format describes how to interpret a raw framebuffer word, mirroring the
// subset of an RFB PixelFormat the translator needs.
type Format struct {
	// BPP is the number of bytes (1, 2 or 4) occupied by one raw pixel.
	BPP int

	BigEndian bool

	RedShift, GreenShift, BlueShift uint8
	RedMax, GreenMax, BlueMax       uint16
}

// Validate reports a precondition violation: the RFB spec requires every
// channel max to be at least 1, since Translate divides by (max + 1).
func (f Format) Validate() error {
	if f.BPP != 1 && f.BPP != 2 && f.BPP != 4 {
		return fmt.Errorf("pixel: unsupported bytes-per-pixel %d", f.BPP)
	}
	if f.RedMax == 0 || f.GreenMax == 0 || f.BlueMax == 0 {
		return fmt.Errorf("pixel: channel max must be >= 1 (red=%d green=%d blue=%d)", f.RedMax, f.GreenMax, f.BlueMax)
	}
	return nil
}

func (f Format) byteOrder() binary.ByteOrder {
	if f.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (f Format) readWord(b []byte) uint32 {
	switch f.BPP {
	case 1:
		return uint32(b[0])
	case 2:
		return uint32(f.byteOrder().Uint16(b))
	default:
		return f.byteOrder().Uint32(b)
	}
}

// channel extracts and rescales one color channel: ((raw >> shift) & max) *
// 256 / (max + 1). The mask confines the shifted value to its channel's bit
// width before rescaling, so a channel's extraction is unaffected by
// whatever bits neighboring channels (or padding) occupy above it in the
// raw word. Because max >= 1 (enforced by Validate), this never divides by
// zero, and the result always fits in [0, 256).
func channel(raw uint32, shift uint8, max uint16) uint8 {
	v := ((raw >> shift) & uint32(max)) * 256 / (uint32(max) + 1)
	return uint8(v)
}

// Translate converts a w x h rectangle of raw framebuffer pixels (stride
// bytes per row, format as described) into dst, a tightly packed buffer of
// w*h 32-bit words (one word per pixel). Each word is stored little-endian
// so that binary.LittleEndian.Uint32 on four consecutive dst bytes yields
// (red<<16)|(green<<8)|blue (high byte zero), or with red/blue swapped when
// swapRB is set.
//
// dst must be at least w*h*4 bytes; src must hold h rows of at least
// w*f.BPP bytes each, spaced stride bytes apart.
func Translate(dst, src []byte, w, h, stride int, f Format, swapRB bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if len(dst) < w*h*4 {
		return fmt.Errorf("pixel: dst too small: have %d, need %d", len(dst), w*h*4)
	}

	out := 0
	for y := 0; y < h; y++ {
		row := y * stride
		for x := 0; x < w; x++ {
			off := row + x*f.BPP
			raw := f.readWord(src[off : off+f.BPP])

			red := channel(raw, f.RedShift, f.RedMax)
			green := channel(raw, f.GreenShift, f.GreenMax)
			blue := channel(raw, f.BlueShift, f.BlueMax)
			if swapRB {
				red, blue = blue, red
			}

			dst[out] = blue
			dst[out+1] = green
			dst[out+2] = red
			dst[out+3] = 0
			out += 4
		}
	}
	return nil
}

// MaskStride returns the number of bytes in one row of a 1-bit-per-pixel
// cursor mask of the given width, per the RFB cursor-mask convention.
func MaskStride(w int) int {
	return (w + 7) / 8
}

// TranslateCursor converts a cursor image (pixels in the given format, plus
// a 1-bit-per-pixel mask, MSB-first within each byte, row-major) into an
// ARGB buffer: each little-endian dst word is
// (alpha<<24)|(red<<16)|(green<<8)|blue, alpha 0xFF where the mask bit is
// set and 0x00 otherwise.
func TranslateCursor(dst, pixels, mask []byte, w, h int, f Format, swapRB bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	if w == 0 || h == 0 {
		return nil
	}
	if len(dst) < w*h*4 {
		return fmt.Errorf("pixel: cursor dst too small: have %d, need %d", len(dst), w*h*4)
	}

	maskStride := MaskStride(w)
	if len(mask) < maskStride*h {
		return fmt.Errorf("pixel: cursor mask too small: have %d, need %d", len(mask), maskStride*h)
	}
	pixStride := w * f.BPP
	if len(pixels) < pixStride*h {
		return fmt.Errorf("pixel: cursor pixels too small: have %d, need %d", len(pixels), pixStride*h)
	}

	out := 0
	for y := 0; y < h; y++ {
		pixRow := y * pixStride
		maskRow := y * maskStride
		for x := 0; x < w; x++ {
			off := pixRow + x*f.BPP
			raw := f.readWord(pixels[off : off+f.BPP])

			red := channel(raw, f.RedShift, f.RedMax)
			green := channel(raw, f.GreenShift, f.GreenMax)
			blue := channel(raw, f.BlueShift, f.BlueMax)
			if swapRB {
				red, blue = blue, red
			}

			maskByte := mask[maskRow+x/8]
			bit := uint(7 - (x % 8))
			var alpha byte
			if maskByte&(1<<bit) != 0 {
				alpha = 0xFF
			}

			dst[out] = blue
			dst[out+1] = green
			dst[out+2] = red
			dst[out+3] = alpha
			out += 4
		}
	}
	return nil
}
