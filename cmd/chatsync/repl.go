// ABOUTME: Line-oriented REPL driving a sync session
// ABOUTME: Slash commands for navigation and membership; plain lines are sent as messages

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/chatsync/internal/chat"
	"github.com/2389/chatsync/internal/connection"
	"github.com/2389/chatsync/internal/conversation"
)

// chatSession is what the REPL needs from *session.Session.
type chatSession interface {
	Conversations() []chat.Conversation
	Conversation(id int64) (chat.Conversation, bool)
	Messages(id int64) []chat.Message
	Active() int64
	Me() *chat.User
	DisplayName(c chat.Conversation) string
	TotalUnread() int64
	State() connection.State
	Events(ctx context.Context, conversationID int64) <-chan *conversation.Event

	Select(ctx context.Context, conversationID int64) error
	Deselect()
	LoadHistory(ctx context.Context, conversationID int64, page int) (int, error)
	CreateDirect(ctx context.Context, otherUserID int64) (chat.Conversation, error)
	CreateGroup(ctx context.Context, name string, participantIDs []int64) (chat.Conversation, error)
	SearchUsers(ctx context.Context, query string) ([]chat.User, error)
	AddParticipant(ctx context.Context, conversationID, userID int64) error
	RemoveParticipant(ctx context.Context, conversationID, userID int64) error
	MakeAdmin(ctx context.Context, conversationID, userID int64) error
	Send(conversationID int64, content string, messageType chat.MessageType) error
}

var errUsage = errors.New("usage")

type repl struct {
	s   chatSession
	out io.Writer
	mu  sync.Mutex // serialises writes to out

	// historyPage is the last page loaded for the active conversation.
	historyPage int
}

func newREPL(s chatSession, out io.Writer) *repl {
	return &repl{s: s, out: out}
}

// run reads commands until EOF, /quit or ctx ends, printing session events
// as they arrive.
func (r *repl) run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go r.watch(ctx, r.s.Events(ctx, conversation.AllConversations))

	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- io.EOF
	}()

	for {
		r.prompt()

		var line string
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		case line = <-lines:
		}

		quit, err := r.execute(ctx, line)
		if err != nil {
			r.errorf("%v", err)
		}
		if quit {
			return nil
		}
	}
}

// execute handles one input line and reports whether the REPL should exit.
func (r *repl) execute(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, r.send(line)
	}

	cmd, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	switch cmd {
	case "/quit", "/exit", "/q":
		return true, nil
	case "/help":
		r.printHelp()
	case "/list":
		r.printList()
	case "/open":
		id, err := parseID(args)
		if err != nil {
			return false, fmt.Errorf("%w: /open <conversation id>", errUsage)
		}
		if err := r.s.Select(ctx, id); err != nil {
			return false, err
		}
		r.historyPage = 0
		r.printHistory(id)
	case "/close":
		r.s.Deselect()
		r.printf("closed\n")
	case "/dm":
		id, err := parseID(args)
		if err != nil {
			return false, fmt.Errorf("%w: /dm <user id>", errUsage)
		}
		c, err := r.s.CreateDirect(ctx, id)
		if err != nil {
			return false, err
		}
		r.historyPage = 0
		r.printf("opened %s\n", r.label(c))
		r.printHistory(c.ID)
	case "/group":
		name, ids, err := parseGroup(args)
		if err != nil {
			return false, err
		}
		c, err := r.s.CreateGroup(ctx, name, ids)
		if err != nil {
			return false, err
		}
		r.historyPage = 0
		r.printf("created %s\n", r.label(c))
	case "/search":
		if args == "" {
			return false, fmt.Errorf("%w: /search <email fragment>", errUsage)
		}
		users, err := r.s.SearchUsers(ctx, args)
		if err != nil {
			return false, err
		}
		if len(users) == 0 {
			r.printf("no users found\n")
		}
		for _, u := range users {
			r.printf("  %s %s\n", color.CyanString("%d", u.ID), u.Email)
		}
	case "/history":
		active, err := r.requireActive()
		if err != nil {
			return false, err
		}
		added, err := r.s.LoadHistory(ctx, active, r.historyPage+1)
		if err != nil {
			return false, err
		}
		if added == 0 {
			r.printf("no older messages\n")
			return false, nil
		}
		r.historyPage++
		r.printHistory(active)
	case "/add", "/remove", "/admin":
		return false, r.member(ctx, cmd, args)
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (r *repl) send(content string) error {
	active, err := r.requireActive()
	if err != nil {
		return err
	}
	if err := r.s.Send(active, content, chat.MessageTypeText); err != nil {
		if errors.Is(err, chat.ErrNotConnected) {
			return fmt.Errorf("not sent, connection is %s", r.s.State())
		}
		return err
	}
	return nil
}

func (r *repl) member(ctx context.Context, cmd, args string) error {
	active, err := r.requireActive()
	if err != nil {
		return err
	}
	userID, err := parseID(args)
	if err != nil {
		return fmt.Errorf("%w: %s <user id>", errUsage, cmd)
	}

	switch cmd {
	case "/add":
		err = r.s.AddParticipant(ctx, active, userID)
	case "/remove":
		err = r.s.RemoveParticipant(ctx, active, userID)
	default:
		err = r.s.MakeAdmin(ctx, active, userID)
	}
	if err != nil {
		return err
	}
	r.printf("done\n")
	return nil
}

func (r *repl) requireActive() (int64, error) {
	active := r.s.Active()
	if active == 0 {
		return 0, errors.New("no conversation open (use /open <id>)")
	}
	return active, nil
}

// watch prints events until ch closes.
func (r *repl) watch(ctx context.Context, ch <-chan *conversation.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			r.printEvent(ev)
		}
	}
}

func (r *repl) printEvent(ev *conversation.Event) {
	switch ev.Kind {
	case conversation.EventMessage:
		if ev.ConversationID == r.s.Active() {
			r.printf("\r%s\n", r.formatMessage(*ev.Message))
		} else if c, ok := r.s.Conversation(ev.ConversationID); ok {
			r.printf("\r%s %s (%d unread)\n", color.YellowString("●"), r.label(c), c.UnreadCount)
		}
	case conversation.EventTyping:
		if ev.ConversationID == r.s.Active() && ev.Typing.IsTyping {
			r.printf("\r%s\n", color.HiBlackString("%s is typing…", ev.Typing.UserEmail))
		}
	case conversation.EventConnection:
		line := "connection " + ev.State
		if ev.Err != nil {
			line += ": " + ev.Err.Error()
		}
		r.printf("\r%s\n", color.HiBlackString("%s", line))
	}
}

func (r *repl) printList() {
	convs := r.s.Conversations()
	if len(convs) == 0 {
		r.printf("no conversations\n")
		return
	}
	active := r.s.Active()
	for _, c := range convs {
		marker := " "
		if c.ID == active {
			marker = color.GreenString("▶")
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = color.YellowString(" (%d)", c.UnreadCount)
		}
		preview := ""
		if c.LastMessage != nil {
			preview = color.HiBlackString("  %s", truncate(c.LastMessage.Content, 40))
		}
		r.printf("%s %s %s%s%s\n", marker, color.CyanString("%d", c.ID), r.s.DisplayName(c), unread, preview)
	}
	if total := r.s.TotalUnread(); total > 0 {
		r.printf("%d unread\n", total)
	}
}

func (r *repl) printHistory(id int64) {
	for _, m := range r.s.Messages(id) {
		r.printf("%s\n", r.formatMessage(m))
	}
}

func (r *repl) formatMessage(m chat.Message) string {
	who := m.SenderEmail
	if me := r.s.Me(); me != nil && chat.NormalizeEmail(who) == chat.NormalizeEmail(me.Email) {
		who = "you"
	}
	body := m.Content
	if m.Type.IsMedia() {
		body = fmt.Sprintf("[%s] %s %s", strings.ToLower(string(m.Type)), m.FileName, m.FileURL)
	}
	ts := m.CreatedAt.Local().Format("15:04")
	return fmt.Sprintf("%s %s %s", color.HiBlackString(ts), color.CyanString(who+":"), body)
}

func (r *repl) label(c chat.Conversation) string {
	return fmt.Sprintf("%s %s", color.CyanString("%d", c.ID), r.s.DisplayName(c))
}

func (r *repl) prompt() {
	if c, ok := r.s.Conversation(r.s.Active()); ok {
		r.printf("[%s]> ", r.s.DisplayName(c))
		return
	}
	r.printf("> ")
}

func (r *repl) printHelp() {
	r.printf(`Commands:
  /list                 list conversations
  /open <id>            open a conversation
  /close                close the open conversation
  /dm <userId>          start a direct conversation
  /group <name> <ids>   create a group (ids comma separated)
  /search <query>       find users by email
  /history              load older messages
  /add <userId>         add a participant to the open group
  /remove <userId>      remove a participant from the open group
  /admin <userId>       make a participant admin
  /quit                 exit
Anything else is sent to the open conversation.
`)
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) errorf(format string, args ...any) {
	r.printf("%s %s\n", color.RedString("[error]"), fmt.Sprintf(format, args...))
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

// parseGroup splits "<name> <id,id,...>"; the name may contain spaces.
func parseGroup(args string) (string, []int64, error) {
	i := strings.LastIndex(args, " ")
	if i < 0 {
		return "", nil, fmt.Errorf("%w: /group <name> <id,id,...>", errUsage)
	}
	name := strings.TrimSpace(args[:i])
	var ids []int64
	for _, part := range strings.Split(args[i+1:], ",") {
		if part == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return "", nil, err
		}
		ids = append(ids, id)
	}
	if name == "" || len(ids) == 0 {
		return "", nil, fmt.Errorf("%w: /group <name> <id,id,...>", errUsage)
	}
	return name, ids, nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
