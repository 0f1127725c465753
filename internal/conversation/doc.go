// Package conversation fans sync engine events out to UI subscribers.
//
// The EventBroadcaster is keyed by conversation id. A subscriber for one
// conversation sees its messages, typing indicators and metadata updates;
// a subscriber for AllConversations additionally sees connection state
// changes. Delivery is non-blocking: a subscriber that falls more than a
// buffer behind loses events rather than stalling the reader goroutine.
//
//	events, _ := b.Subscribe(ctx, conversation.AllConversations)
//	for ev := range events {
//		switch ev.Kind {
//		case conversation.EventMessage:
//			render(ev.Message)
//		case conversation.EventConnection:
//			showStatus(ev.State)
//		}
//	}
package conversation
