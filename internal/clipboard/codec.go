// Package clipboard transcodes RFB clipboard text between a selectable
// source encoding and UTF-8.
package clipboard

import (
	"errors"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/coredesk/vncbridge/internal/config"
)

// MaxClipboardLength bounds how much inbound server clipboard text is kept;
// the remainder is silently dropped, per spec §4.2 and §9.
const MaxClipboardLength = 262144

// ErrUnknownEncoding is returned by NewCodec for a name it doesn't
// recognise. Callers should fall back to ISO8859-1 and log a warning.
var ErrUnknownEncoding = errors.New("clipboard: unrecognized encoding")

// Codec transcodes clipboard text between UTF-8 and one fixed wire
// encoding, chosen at construction time.
type Codec struct {
	name string
	enc  encoding.Encoding
}

// NewCodec returns a Codec for the named encoding. An empty name selects
// ISO8859-1 with a nil error. An unrecognized name returns a Codec for
// ISO8859-1 along with ErrUnknownEncoding, so callers can log the fallback
// without losing the ability to keep working.
func NewCodec(name config.ClipboardEncoding) (*Codec, error) {
	switch name {
	case config.ClipboardISO88591, "":
		return &Codec{name: string(config.ClipboardISO88591), enc: charmap.ISO8859_1}, nil
	case config.ClipboardUTF8:
		return &Codec{name: string(config.ClipboardUTF8), enc: encoding.Nop}, nil
	case config.ClipboardUTF16:
		return &Codec{name: string(config.ClipboardUTF16), enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)}, nil
	case config.ClipboardCP1252:
		return &Codec{name: string(config.ClipboardCP1252), enc: charmap.Windows1252}, nil
	default:
		return &Codec{name: string(config.ClipboardISO88591), enc: charmap.ISO8859_1}, ErrUnknownEncoding
	}
}

// Name returns the encoding this codec was constructed for (after any
// fallback has been applied).
func (c *Codec) Name() string {
	return c.name
}

// Compliant reports whether this codec's encoding is the RFB-standard
// ISO8859-1. Any other choice is a (permitted) protocol deviation.
func (c *Codec) Compliant() bool {
	return c.name == string(config.ClipboardISO88591)
}

// Decode transcodes inbound server clipboard bytes into UTF-8, truncating
// at MaxClipboardLength. The second return value is false if truncation
// occurred.
func (c *Codec) Decode(raw []byte) (string, bool) {
	truncated := false
	if len(raw) > MaxClipboardLength {
		raw = raw[:MaxClipboardLength]
		truncated = true
	}

	text, err := c.enc.NewDecoder().Bytes(raw)
	if err != nil {
		// Malformed input in the declared encoding: fall back to a
		// byte-for-byte Latin-1 reading, which can represent any byte.
		text, _ = charmap.ISO8859_1.NewDecoder().Bytes(raw)
	}
	return string(text), !truncated
}

// Encode transcodes outbound viewer clipboard text (UTF-8) into this
// codec's wire encoding.
func (c *Codec) Encode(text string) ([]byte, error) {
	return c.enc.NewEncoder().Bytes([]byte(text))
}
