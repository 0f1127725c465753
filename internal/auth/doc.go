// Package auth handles the bearer token chatsync presents to the server.
//
// The client never verifies signatures; the server is the authority. The
// package only reads claims (Inspect) so the connection manager can refuse
// to dial with an empty or already-expired token (CheckUsable), and formats
// the Authorization header used by both the STOMP CONNECT frame and the
// REST client (BearerHeader).
//
// Tokens that are not JWTs are treated as opaque and passed through.
package auth
