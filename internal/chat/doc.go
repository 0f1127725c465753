// Package chat defines the domain model and error taxonomy shared by the
// chatsync engine.
//
// # Entities
//
//   - Message: one message in a conversation. Ordered by (CreatedAt, ID).
//   - Conversation: a direct or group chat with its participants, last
//     message and unread count.
//   - Participant, User: membership and account shapes from the REST API.
//   - TypingEvent: a participant started or stopped typing.
//
// JSON tags match the server's wire format (camelCase, messageType).
// Timestamp decodes both RFC 3339 and the zone-less local date-times the
// server emits.
//
// # Errors
//
// Error carries a Kind:
//
//   - KindAuth: token rejected or expired. Terminal.
//   - KindTransport: connection lost or unreachable. Retried with backoff.
//   - KindProtocol: malformed inbound frame. Logged and dropped.
//   - KindApplication: non-2xx REST response, with Status and Message.
//
// Use KindOf or IsAuth to inspect an error; ErrNotConnected is returned by
// outbound operations issued without a live connection.
package chat
