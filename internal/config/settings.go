// Package config parses and validates the per-viewer argument table the
// gateway runtime hands each joining viewer.
package config

import (
	"fmt"
	"strconv"
)

// ClipboardEncoding names a clipboard transcoding target.
type ClipboardEncoding string

// Recognised clipboard encodings. Anything else falls back to ISO8859-1.
const (
	ClipboardISO88591 ClipboardEncoding = "ISO8859-1"
	ClipboardUTF8     ClipboardEncoding = "UTF-8"
	ClipboardUTF16    ClipboardEncoding = "UTF-16"
	ClipboardCP1252   ClipboardEncoding = "CP1252"
)

// Settings is the parsed, validated form of a viewer's join arguments.
type Settings struct {
	Hostname string
	Port     int

	Password string

	ReadOnly     bool
	SwapRedBlue  bool
	RemoteCursor bool

	ColorDepth int // one of 8, 16, 24, 32

	Encodings          string
	ClipboardEncoding  ClipboardEncoding

	ReverseConnect bool
	ListenPort     int
	ListenTimeout  int // seconds

	DestHost string
	DestPort int

	Retries int
}

// FieldError reports an invalid or missing configuration field. It is a
// configuration error per the error taxonomy: reject the viewer, no retry.
type FieldError struct {
	Field   string
	Value   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("config: field %q (value %q): %s", e.Field, e.Value, e.Message)
}

// Default tuning values, used when a viewer's arguments omit them.
const (
	DefaultColorDepth    = 32
	DefaultListenTimeout = 5  // seconds
	DefaultRetries       = 5
)

// Parse validates and converts the gateway runtime's string-keyed argument
// map (see the Configuration table in SPEC_FULL.md §6) into Settings.
func Parse(args map[string]string) (Settings, error) {
	s := Settings{
		ColorDepth:        DefaultColorDepth,
		ListenTimeout:     DefaultListenTimeout,
		Retries:           DefaultRetries,
		ClipboardEncoding: ClipboardISO88591,
	}

	s.Hostname = args["hostname"]
	if s.Hostname == "" && args["reverse-connect"] != "true" {
		return Settings{}, &FieldError{Field: "hostname", Message: "required unless reverse-connect is set"}
	}

	port, err := parseIntField(args, "port", 0)
	if err != nil {
		return Settings{}, err
	}
	s.Port = port

	s.Password = args["password"]

	s.ReadOnly = parseBoolField(args, "read-only")
	s.SwapRedBlue = parseBoolField(args, "swap-red-blue")
	s.RemoteCursor = parseBoolField(args, "remote-cursor")
	s.ReverseConnect = parseBoolField(args, "reverse-connect")

	if raw, ok := args["color-depth"]; ok && raw != "" {
		depth, err := strconv.Atoi(raw)
		if err != nil {
			return Settings{}, &FieldError{Field: "color-depth", Value: raw, Message: "must be an integer"}
		}
		switch depth {
		case 8, 16, 24, 32:
			s.ColorDepth = depth
		default:
			return Settings{}, &FieldError{Field: "color-depth", Value: raw, Message: "must be one of 8, 16, 24, 32"}
		}
	}

	s.Encodings = args["encodings"]

	if raw, ok := args["clipboard-encoding"]; ok && raw != "" {
		s.ClipboardEncoding = ClipboardEncoding(raw)
	}

	if s.ReverseConnect {
		listenPort, err := parseIntField(args, "listen-port", 0)
		if err != nil {
			return Settings{}, err
		}
		if listenPort == 0 {
			return Settings{}, &FieldError{Field: "listen-port", Message: "required when reverse-connect is set"}
		}
		s.ListenPort = listenPort

		if raw, ok := args["listen-timeout"]; ok && raw != "" {
			timeout, err := strconv.Atoi(raw)
			if err != nil || timeout <= 0 {
				return Settings{}, &FieldError{Field: "listen-timeout", Value: raw, Message: "must be a positive integer"}
			}
			s.ListenTimeout = timeout
		}
	}

	s.DestHost = args["dest-host"]
	if s.DestHost != "" {
		destPort, err := parseIntField(args, "dest-port", 0)
		if err != nil {
			return Settings{}, err
		}
		if destPort == 0 {
			return Settings{}, &FieldError{Field: "dest-port", Message: "required when dest-host is set"}
		}
		s.DestPort = destPort
	}

	if raw, ok := args["retries"]; ok && raw != "" {
		retries, err := strconv.Atoi(raw)
		if err != nil || retries < 0 {
			return Settings{}, &FieldError{Field: "retries", Value: raw, Message: "must be a non-negative integer"}
		}
		s.Retries = retries
	}

	return s, nil
}

func parseBoolField(args map[string]string, key string) bool {
	return args[key] == "true" || args[key] == "1"
}

func parseIntField(args map[string]string, key string, def int) (int, error) {
	raw, ok := args[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &FieldError{Field: key, Value: raw, Message: "must be an integer"}
	}
	return v, nil
}

// Clone returns a copy of s, used when a guest viewer supplies its own
// settings derived from (but independent of) the owner's.
func (s Settings) Clone() Settings {
	return s
}
