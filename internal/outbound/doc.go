// Package outbound publishes user actions, new messages and typing
// indicators, to the server's application destinations.
//
// Publishing is at-most-once and never queued: while the connection is
// down every call fails fast with chat.ErrNotConnected and the caller
// decides whether to retry. Messages are not inserted locally; they show
// up when the server echoes them on the conversation topic.
package outbound
