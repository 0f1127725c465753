// Package store is the client's authoritative in-memory view of
// conversations and their messages.
//
// # Ordering
//
// Conversations keep the order the server listed them in. New conversations,
// whether created locally or first seen through an inbound message, go to
// the head. Messages within a conversation are ordered by (CreatedAt, ID)
// ascending regardless of arrival order.
//
// # Deduplication
//
// A message id is stored at most once per conversation; the first copy
// applied wins. Inbound frames and history pages go through the same rules,
// so a message that arrives both ways shows up once.
//
// # Unread Accounting
//
// Inbound messages bump a conversation's unread count unless it is the
// active conversation. Selecting a conversation resets its count to zero.
// History merges never change unread counts.
//
// All methods are safe for concurrent use and return copies.
package store
