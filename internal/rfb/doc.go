// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package rfb implements the client half of the RFB (Remote Framebuffer)
// protocol described in RFC 6143.
//
// It is the upstream transport the session engine in internal/session drives:
// it owns the TCP connection to a VNC server, negotiates security and pixel
// format, decodes FramebufferUpdate/CopyRect/Cursor/DesktopSize rectangles,
// and delivers them as ServerMessage values on a channel. Client input
// (pointer, key, clipboard) flows back through PointerEvent, KeyEvent and
// CutText. Everything above this package — frame pacing, pixel translation
// to the downstream wire format, shared display state, multi-viewer
// attachment — is gateway logic and lives in the sibling internal packages.
//
// # Basic Usage
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	conn, err := net.Dial("tcp", "localhost:5900")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer conn.Close()
//
//	config := &rfb.ClientConfig{
//		Auth: []rfb.ClientAuth{&rfb.PasswordAuth{Password: "secret"}},
//	}
//
//	client, err := rfb.ClientWithContext(ctx, conn, config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Message Handling
//
//	msgCh := make(chan rfb.ServerMessage, 100)
//	config.ServerMessageCh = msgCh
//
//	go func() {
//		for msg := range msgCh {
//			switch m := msg.(type) {
//			case *rfb.FramebufferUpdateMessage:
//				// Handle framebuffer updates
//			case *rfb.BellMessage:
//				// Handle bell notifications
//			}
//		}
//	}()
//
// # Input Events
//
//	// Send keyboard input
//	client.KeyEvent(0x0061, true)  // 'a' key down
//	client.KeyEvent(0x0061, false) // 'a' key up
//
//	// Send mouse input
//	client.PointerEvent(rfb.ButtonLeft, 100, 100) // Click
//	client.PointerEvent(0, 100, 100)              // Release
//
// # Error Handling
//
//	if rfb.IsVNCError(err, rfb.ErrAuthentication) {
//		log.Printf("Authentication failed: %v", err)
//	}
package rfb
