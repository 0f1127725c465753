// Package transport moves STOMP frames between chatsync and the chat server.
//
// A Dialer opens a Conn; a Conn reads and writes whole frames. The
// production implementation (WebSocketDialer) speaks STOMP over a gorilla
// websocket, one or more frames per websocket text message, and keeps the
// link alive with websocket pings plus STOMP heart-beat newlines. Pipe
// returns a connected in-memory pair that runs frames through the same
// codec, for tests and the transporttest broker.
//
// Handshake rejection with HTTP 401 or 403 is reported as a chat auth
// error; every other dial or I/O failure is a chat transport error.
package transport
