// Package connection owns the single STOMP connection to the chat server.
//
// A Manager dials through a transport.Dialer, authenticates with the bearer
// token, and keeps the link up until Disconnect. Lifecycle:
//
//	Disconnected -> Connecting -> Connected
//	Connected -> Reconnecting -> Connected    (transport loss, backoff)
//	Connecting/Reconnecting -> Failed          (auth rejected or retries exhausted)
//	any -> Disconnected                        (Disconnect)
//
// Listeners learn about every Connected and Disconnected edge; the
// subscription registry uses this to replay subscriptions and the outbound
// dispatcher to gate publishing. Inbound MESSAGE frames are handed to a
// single FrameHandler on the reader goroutine, so frames reach it in
// arrival order.
package connection
