// ABOUTME: Tests for EventBroadcaster fan-out pub/sub system
// ABOUTME: Covers per-conversation delivery, the all-conversations feed, slow consumers and cleanup

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/chatsync/internal/chat"
)

func makeEvent(conv, msgID int64) *Event {
	return MessageEvent(chat.Message{
		ID:             msgID,
		ConversationID: conv,
		Content:        "hello",
		Type:           chat.MessageTypeText,
		CreatedAt:      chat.NewTimestamp(time.Now()),
	})
}

func receive(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), 42)
	b.Publish(makeEvent(42, 1))

	ev := receive(t, ch)
	assert.Equal(t, EventMessage, ev.Kind)
	assert.Equal(t, int64(1), ev.Message.ID)
}

func TestBroadcaster_MultipleSubscribersReceiveSameEvent(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), 42)
	ch2, _ := b.Subscribe(t.Context(), 42)

	b.Publish(makeEvent(42, 7))

	assert.Equal(t, int64(7), receive(t, ch1).Message.ID)
	assert.Equal(t, int64(7), receive(t, ch2).Message.ID)
}

func TestBroadcaster_ConversationsAreIsolated(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), 1)
	ch2, _ := b.Subscribe(t.Context(), 2)

	b.Publish(makeEvent(1, 10))

	assert.Equal(t, int64(1), receive(t, ch1).ConversationID)
	assertNoEvent(t, ch2)
}

func TestBroadcaster_AllConversationsSeesEverything(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	all, _ := b.Subscribe(t.Context(), AllConversations)
	one, _ := b.Subscribe(t.Context(), 1)

	b.Publish(makeEvent(1, 10))
	b.Publish(makeEvent(2, 20))
	b.Publish(ConnectionEvent("reconnecting", nil))

	assert.Equal(t, int64(10), receive(t, all).Message.ID)
	assert.Equal(t, int64(20), receive(t, all).Message.ID)
	assert.Equal(t, EventConnection, receive(t, all).Kind)

	assert.Equal(t, int64(10), receive(t, one).Message.ID)
	assertNoEvent(t, one)
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize*2; i++ {
			b.Publish(makeEvent(1, int64(i+1)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, 5)
	require.Equal(t, 1, b.SubscriberCount(5))

	cancel()

	require.Eventually(t, func() bool { return b.SubscriberCount(5) == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancellation")
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context(), 5)
	b.Unsubscribe(5, subID)
	b.Unsubscribe(5, subID)

	_, open := <-ch
	assert.False(t, open)

	b.Publish(makeEvent(5, 1))
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewEventBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), 1)
	ch2, _ := b.Subscribe(t.Context(), AllConversations)
	b.Close()

	_, open1 := <-ch1
	_, open2 := <-ch2
	assert.False(t, open1)
	assert.False(t, open2)

	late, _ := b.Subscribe(t.Context(), 1)
	_, open := <-late
	assert.False(t, open, "subscriptions after Close are closed immediately")
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			_, subID := b.Subscribe(ctx, int64(i%3))
			b.Unsubscribe(int64(i%3), subID)
			cancel()
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(makeEvent(int64(i%3), int64(j+1)))
			}
		}(i)
	}
	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewEventBroadcaster(nil)
	defer b.Close()

	_, id1 := b.Subscribe(t.Context(), 1)
	_, id2 := b.Subscribe(t.Context(), 1)
	assert.NotEqual(t, id1, id2)
}

func TestEventConstructors(t *testing.T) {
	ev := TypingEventFor(chat.TypingEvent{ConversationID: 3, UserEmail: "a@x", IsTyping: true})
	assert.Equal(t, EventTyping, ev.Kind)
	assert.Equal(t, int64(3), ev.ConversationID)

	name := "team"
	conv := chat.Conversation{ID: 4, Name: &name}
	cev := ConversationEvent(conv)
	name = "changed"
	assert.Equal(t, "team", *cev.Conversation.Name, "events hold a copy")
	assert.Equal(t, "conversation", cev.Kind.String())
}
