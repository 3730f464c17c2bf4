// Package ws is a WebSocket client that drives the opening handshake as a
// linear state machine and reports the outcome through a one-shot future.
//
// # States
//
// A handshake moves Idle → Resolving → Connecting → HandshakeSent and ends in
// Open or Failed. The target URL is validated before any network activity:
// only ws and wss are accepted (case-insensitive), a missing host defaults to
// 127.0.0.1 and a missing port to 80 or 443. For wss the TLS handshake
// completes before the first HTTP byte is written.
//
// # Features
//
//   - Sub-protocol negotiation; the server must pick one of the requested names
//   - Bounded handshake response read (MaxHandshakeResponseSize)
//   - Optional idle watchdog that also covers the handshake
//   - Cancellation that closes the socket and fails the future
//   - permessage-deflate announcement when compression is enabled
//   - TLS material from PEM or TLS_* environment variables
//
// # Basic Usage
//
//	client, err := ws.NewClient(nil, ws.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//
//	f := client.Handshake(ctx, ws.HandshakeRequest{
//	    URL:          "wss://example.com/chat",
//	    SubProtocols: "chat,super-chat",
//	    IdleTimeout:  time.Minute,
//	    AutoRead:     true,
//	    Handler: ws.FrameHandlerFuncs{
//	        Message: func(c *ws.Connection, mt int, data []byte) {
//	            log.Info("message", zap.ByteString("data", data))
//	        },
//	    },
//	})
//
//	res, err := f.Wait(ctx)
//	if err != nil {
//	    return err
//	}
//	defer res.Conn.Close()
//	_ = res.Conn.WriteText("hello")
//
// Every future resolves exactly once. Failures carry an error whose kind
// (see errors.KindOf) is validation, connection or protocol, together with
// the raw handshake response when one was received.
package ws
