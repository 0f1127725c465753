// Package transporttest provides an in-memory STOMP broker that satisfies
// transport.Dialer. Tests point the connection manager at a Broker, then
// publish messages, drop connections, or reject handshakes to drive the
// engine through its lifecycle.
package transporttest
