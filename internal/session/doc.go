// Package session wires the sync engine together for one signed-in user.
//
// A Session owns the connection manager, subscription registry, router,
// redelivery cache, outbound dispatcher, conversation store and event
// broadcaster, and drives them from user intents:
//
//   - Start loads the current user and conversation list over REST and
//     opens the realtime connection.
//   - Select makes a conversation active: it subscribes, fetches the first
//     page of history and resets the unread count.
//   - Send and Typing publish through the dispatcher and fail fast with
//     chat.ErrNotConnected while the connection is down.
//   - Logout tears everything down in order: subscriptions, connection,
//     then local state.
//
// Inbound messages are applied to the store and announced on the
// broadcaster, so a UI only needs Events plus the read accessors.
// Authentication failures from either REST or the connection are reported
// once per Start through Options.OnAuthFailure.
package session
