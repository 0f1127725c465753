// ABOUTME: Session orchestrates REST loading, realtime sync and local state
// ABOUTME: Owns and wires manager, registry, router, dispatcher, store and broadcaster

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/2389/chatsync/internal/api"
	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/config"
	"github.com/2389/chatsync/internal/connection"
	"github.com/2389/chatsync/internal/conversation"
	"github.com/2389/chatsync/internal/dedupe"
	"github.com/2389/chatsync/internal/outbound"
	"github.com/2389/chatsync/internal/router"
	"github.com/2389/chatsync/internal/store"
	"github.com/2389/chatsync/internal/subscription"
	"github.com/2389/chatsync/internal/transport"
)

// API is the slice of the REST client a session uses.
type API interface {
	CurrentUser(ctx context.Context) (*chat.User, error)
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	CreateDirectConversation(ctx context.Context, otherUserID int64) (*chat.Conversation, error)
	CreateGroupConversation(ctx context.Context, req api.CreateGroupRequest) (*chat.Conversation, error)
	GetMessages(ctx context.Context, conversationID int64, page, size int) ([]chat.Message, error)
	AddParticipant(ctx context.Context, conversationID, userID int64) error
	RemoveParticipant(ctx context.Context, conversationID, userID int64) error
	MakeAdmin(ctx context.Context, conversationID, userID int64) error
	SearchUsers(ctx context.Context, query string) ([]chat.User, error)
}

// Options configures a Session.
type Options struct {
	// Config supplies endpoints and tuning. Nil uses config.Default().
	Config *config.Config
	// Token is the bearer token for REST and the connect handshake.
	Token string
	// API overrides the REST client built from Config.Server.APIURL.
	API API
	// Dialer overrides the websocket transport.
	Dialer transport.Dialer
	// OnAuthFailure is called, at most once per Start, when the server
	// rejects the token.
	OnAuthFailure func(err error)
}

// Session is the sync engine for one signed-in user.
type Session struct {
	cfg    *config.Config
	token  string
	api    API
	logger *slog.Logger

	manager    *connection.Manager
	registry   *subscription.Registry
	router     *router.Router
	seen       *dedupe.Cache[router.DeliveryKey]
	dispatcher *outbound.Dispatcher
	store      *store.Store
	events     *conversation.EventBroadcaster

	onAuthFailure func(err error)
	authReported  atomic.Bool

	mu sync.RWMutex
	me *chat.User
}

// New builds a session and wires its components. Nothing touches the
// network until Start. Pass nil logger for default.
func New(opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	client := opts.API
	if client == nil {
		client = api.NewClient(cfg.Server.APIURL, opts.Token, logger)
	}

	manager := connection.NewManager(connection.Options{
		URL:     cfg.Server.WSURL,
		Dialer:  opts.Dialer,
		Backoff: connection.BackoffFromConfig(cfg.Reconnect),
	}, logger)
	registry := subscription.NewRegistry(manager, cfg.Subscriptions.SubscribeTyping(), logger)
	seen := dedupe.New[router.DeliveryKey](cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	rt := router.New(registry, seen, logger)
	dispatcher := outbound.NewDispatcher(manager, cfg.Outbound.TypingInterval, logger)

	s := &Session{
		cfg:           cfg,
		token:         opts.Token,
		api:           client,
		logger:        logger.With("component", "session"),
		manager:       manager,
		registry:      registry,
		router:        rt,
		seen:          seen,
		dispatcher:    dispatcher,
		store:         store.New(),
		events:        conversation.NewEventBroadcaster(logger),
		onAuthFailure: opts.OnAuthFailure,
	}

	// registry first so subscriptions are back before sends are allowed
	manager.AddListener(registry)
	manager.AddListener(dispatcher)
	manager.SetHandler(rt)
	manager.OnStateChange(s.onStateChange)

	return s
}

// Start loads the current user and conversations, subscribes according to
// the subscription policy and starts connecting. The connection comes up in
// the background; watch Events or call Wait.
func (s *Session) Start(ctx context.Context) error {
	s.authReported.Store(false)

	me, err := s.api.CurrentUser(ctx)
	if err != nil {
		return s.fail("loading current user", err)
	}
	s.mu.Lock()
	s.me = me
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		return err
	}

	if err := s.manager.Connect(s.token); err != nil {
		return s.fail("connecting", err)
	}

	s.logger.Info("session started",
		"user", me.Email,
		"conversations", len(s.store.Conversations()))
	return nil
}

// Refresh reloads the conversation list from the server. With
// subscriptions.all set, new conversations are subscribed; subscriptions
// the policy no longer wants are dropped.
func (s *Session) Refresh(ctx context.Context) error {
	convs, err := s.api.ListConversations(ctx)
	if err != nil {
		return s.fail("loading conversations", err)
	}
	s.store.SetConversations(convs)

	all := s.cfg.Subscriptions.SubscribeAll()
	active := s.store.Active()
	known := make(map[int64]struct{}, len(convs))
	for _, c := range s.store.Conversations() {
		known[c.ID] = struct{}{}
		if all {
			s.subscribe(c.ID)
		}
	}
	for _, id := range s.registry.Conversations() {
		if _, ok := known[id]; !ok || (!all && id != active) {
			s.registry.Unsubscribe(id)
		}
	}

	for _, c := range s.store.Conversations() {
		s.events.Publish(conversation.ConversationEvent(c))
	}
	return nil
}

// Select makes a conversation active: it subscribes, merges the first page
// of history and resets the unread count. The previously active
// conversation is unsubscribed unless every conversation is subscribed.
func (s *Session) Select(ctx context.Context, conversationID int64) error {
	if _, ok := s.store.Conversation(conversationID); !ok {
		return fmt.Errorf("conversation %d: %w", conversationID, store.ErrNotFound)
	}

	if prev := s.store.Active(); prev != 0 && prev != conversationID {
		s.release(prev)
	}
	if err := s.store.SetActive(conversationID); err != nil {
		return err
	}
	s.subscribe(conversationID)
	s.publishConversation(conversationID)

	if _, err := s.LoadHistory(ctx, conversationID, 0); err != nil {
		return err
	}
	return nil
}

// LoadHistory fetches one page of history (zero-based) and merges it into
// the store. It returns how many messages were new.
func (s *Session) LoadHistory(ctx context.Context, conversationID int64, page int) (int, error) {
	msgs, err := s.api.GetMessages(ctx, conversationID, page, s.cfg.History.PageSize)
	if err != nil {
		return 0, s.fail("loading history", err)
	}
	added, err := s.store.MergeHistory(conversationID, msgs)
	if err != nil {
		return 0, err
	}
	s.logger.Debug("history merged",
		"conversation_id", conversationID,
		"page", page,
		"fetched", len(msgs),
		"added", added)
	if added > 0 {
		s.publishConversation(conversationID)
	}
	return added, nil
}

// Deselect clears the active conversation.
func (s *Session) Deselect() {
	id := s.store.Active()
	if id == 0 {
		return
	}
	s.store.ClearActive()
	s.release(id)
}

// CreateDirect opens a direct conversation with another user, places it at
// the head of the list and selects it.
func (s *Session) CreateDirect(ctx context.Context, otherUserID int64) (chat.Conversation, error) {
	conv, err := s.api.CreateDirectConversation(ctx, otherUserID)
	if err != nil {
		return chat.Conversation{}, s.fail("creating direct conversation", err)
	}
	return s.adopt(ctx, *conv)
}

// CreateGroup creates a named group, places it at the head of the list and
// selects it.
func (s *Session) CreateGroup(ctx context.Context, name string, participantIDs []int64) (chat.Conversation, error) {
	conv, err := s.api.CreateGroupConversation(ctx, api.CreateGroupRequest{Name: name, ParticipantIDs: participantIDs})
	if err != nil {
		return chat.Conversation{}, s.fail("creating group conversation", err)
	}
	return s.adopt(ctx, *conv)
}

func (s *Session) adopt(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	if _, err := s.store.UpsertConversation(conv); err != nil {
		return chat.Conversation{}, err
	}
	if err := s.Select(ctx, conv.ID); err != nil {
		return chat.Conversation{}, err
	}
	stored, _ := s.store.Conversation(conv.ID)
	return stored, nil
}

// Send publishes a message. The message appears in the store when the
// server echoes it back on the conversation topic.
func (s *Session) Send(conversationID int64, content string, messageType chat.MessageType) error {
	return s.dispatcher.SendMessage(conversationID, content, messageType)
}

// Typing publishes a typing indicator, throttled per conversation.
func (s *Session) Typing(conversationID int64, isTyping bool) error {
	return s.dispatcher.SendTypingIndicator(conversationID, isTyping)
}

// AddParticipant adds a user to a group and reloads the conversation list.
func (s *Session) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	if err := s.api.AddParticipant(ctx, conversationID, userID); err != nil {
		return s.fail("adding participant", err)
	}
	return s.Refresh(ctx)
}

// RemoveParticipant removes a user from a group and reloads the
// conversation list.
func (s *Session) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	if err := s.api.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return s.fail("removing participant", err)
	}
	return s.Refresh(ctx)
}

// MakeAdmin grants a participant admin rights and reloads the conversation
// list.
func (s *Session) MakeAdmin(ctx context.Context, conversationID, userID int64) error {
	if err := s.api.MakeAdmin(ctx, conversationID, userID); err != nil {
		return s.fail("granting admin", err)
	}
	return s.Refresh(ctx)
}

// SearchUsers looks users up by email fragment.
func (s *Session) SearchUsers(ctx context.Context, query string) ([]chat.User, error) {
	users, err := s.api.SearchUsers(ctx, query)
	if err != nil {
		return nil, s.fail("searching users", err)
	}
	return users, nil
}

// Logout removes every subscription, closes the connection and clears
// local state. The session may be started again afterwards.
func (s *Session) Logout() {
	s.registry.Clear()
	s.manager.Disconnect()
	s.store.Clear()
	s.seen.Reset()

	s.mu.Lock()
	s.me = nil
	s.mu.Unlock()

	s.logger.Info("logged out")
}

// Close logs out and releases background resources. Event channels are
// closed.
func (s *Session) Close() {
	s.Logout()
	s.seen.Close()
	s.events.Close()
}

func (s *Session) subscribe(conversationID int64) {
	if err := s.registry.Subscribe(conversationID, inbound{s}); err != nil {
		s.logger.Warn("subscribe failed", "conversation_id", conversationID, "error", err)
	}
}

// release drops a conversation's subscription when the policy only keeps
// the active one.
func (s *Session) release(conversationID int64) {
	s.dispatcher.Forget(conversationID)
	if !s.cfg.Subscriptions.SubscribeAll() {
		s.registry.Unsubscribe(conversationID)
	}
}

func (s *Session) publishConversation(conversationID int64) {
	if c, ok := s.store.Conversation(conversationID); ok {
		s.events.Publish(conversation.ConversationEvent(c))
	}
}

// fail wraps err and reports auth failures.
func (s *Session) fail(action string, err error) error {
	if chat.IsAuth(err) {
		s.reportAuthFailure(err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func (s *Session) reportAuthFailure(err error) {
	if s.onAuthFailure == nil || !s.authReported.CompareAndSwap(false, true) {
		return
	}
	s.logger.Warn("authentication rejected", "error", err)
	s.onAuthFailure(err)
}

func (s *Session) onStateChange(state connection.State, err error) {
	s.events.Publish(conversation.ConnectionEvent(state.String(), err))
	if state == connection.StateFailed && chat.IsAuth(err) {
		s.reportAuthFailure(err)
	}
}
