// ABOUTME: Human-readable conversation names for lists and headers
// ABOUTME: Groups use their name; direct chats use the other participant's email

package store

import "github.com/2389/chatsync/internal/chat"

// Fallback display names.
const (
	UnnamedGroup = "Unnamed Group"
	UnknownPeer  = "Unknown"
)

// DisplayName returns the label for a conversation as seen by selfEmail.
func DisplayName(c chat.Conversation, selfEmail string) string {
	if c.IsGroup {
		if c.Name != nil && *c.Name != "" {
			return *c.Name
		}
		return UnnamedGroup
	}

	self := chat.NormalizeEmail(selfEmail)
	for _, p := range c.Participants {
		if e := chat.NormalizeEmail(p.UserEmail); e != "" && e != self {
			return p.UserEmail
		}
	}
	return UnknownPeer
}
