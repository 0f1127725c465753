// Package subscription tracks which conversations the client wants to hear
// from and keeps the server's view in step with it.
//
// The Registry holds at most one entry per conversation id. Entries survive
// connection loss: Disconnected marks every entry pending and Connected
// replays the pending ones, so callers subscribe once and never think about
// reconnects. The registry is a connection.Listener.
package subscription
