// Package bot is the chat surface of the bridge: a command router, inline
// keyboard callbacks, and free-form message delivery into waiting sessions.
// It consumes the same bus events as the socket gateway, so the server core
// never talks to the chat transport directly. The transport is an interface;
// production uses Telegram long polling.
package bot

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/config"
	"github.com/etwicaksono/droid-remote/internal/common/logger"
	"github.com/etwicaksono/droid-remote/internal/events"
	"github.com/etwicaksono/droid-remote/internal/events/bus"
	"github.com/etwicaksono/droid-remote/internal/permission"
	"github.com/etwicaksono/droid-remote/internal/rendezvous"
	"github.com/etwicaksono/droid-remote/internal/session/registry"
	"github.com/etwicaksono/droid-remote/internal/task"
)

// botCommands is the advertised command menu.
var botCommands = []Command{
	{Name: "start", Description: "Start the bot"},
	{Name: "help", Description: "Show available commands"},
	{Name: "sessions", Description: "List all active sessions"},
	{Name: "status", Description: "Check status of all sessions"},
	{Name: "switch", Description: "Switch active session"},
	{Name: "setproject", Description: "Set project directory for tasks"},
	{Name: "done", Description: "Signal current session to stop"},
	{Name: "stopall", Description: "Stop all sessions"},
	{Name: "broadcast", Description: "Send message to all waiting sessions"},
}

// chatPrefs is per-chat routing state: which session free-form messages go
// to and where fresh tasks run.
type chatPrefs struct {
	activeSession string
	projectDir    string
}

// Service routes between the chat transport and the bridge core.
type Service struct {
	cfg       *config.Config
	transport Transport
	registry  *registry.Registry
	engine    *permission.Engine
	perms     *permission.Store
	waits     *rendezvous.Queue
	executor  *task.Executor
	tasks     *task.Store
	bus       bus.EventBus
	logger    *logger.Logger

	allowed map[int64]bool

	mu         sync.Mutex
	chats      map[int64]*chatPrefs
	notifyChat int64
	connected  bool

	subs []bus.Subscription
	wg   sync.WaitGroup
}

// New creates the bot service on an existing transport.
func New(
	cfg *config.Config,
	transport Transport,
	reg *registry.Registry,
	engine *permission.Engine,
	perms *permission.Store,
	waits *rendezvous.Queue,
	executor *task.Executor,
	tasks *task.Store,
	eventBus bus.EventBus,
	log *logger.Logger,
) *Service {
	allowed := make(map[int64]bool)
	for _, id := range cfg.Telegram.AllowedUserIDs() {
		allowed[id] = true
	}
	return &Service{
		cfg:       cfg,
		transport: transport,
		registry:  reg,
		engine:    engine,
		perms:     perms,
		waits:     waits,
		executor:  executor,
		tasks:     tasks,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "bot")),
		allowed:   allowed,
		chats:     make(map[int64]*chatPrefs),
	}
}

// Start opens the transport, subscribes to the bus, and begins consuming
// updates. The context bounds the update loop and any tasks it spawns.
func (s *Service) Start(ctx context.Context) error {
	if err := s.transport.Start(); err != nil {
		return err
	}
	if err := s.transport.SetCommands(botCommands); err != nil {
		s.logger.WithError(err).Warn("Failed to advertise bot commands")
	}

	sub, err := s.bus.Subscribe(events.AllSessionEvents, s.onEvent)
	if err != nil {
		s.transport.Stop()
		return err
	}
	s.subs = append(s.subs, sub)

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)

	s.logger.Info("Bot service started",
		zap.Int("allowed_users", len(s.allowed)),
		zap.Int64("chat_id", s.cfg.Telegram.ChatID))
	return nil
}

// Stop drops the bus subscriptions and closes the transport.
func (s *Service) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.transport.Stop()
	s.wg.Wait()

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

// Connected reports whether the bot surface is up; /health includes it.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-s.transport.Updates():
			if !ok {
				return
			}
			s.handleUpdate(ctx, upd)
		}
	}
}

func (s *Service) handleUpdate(ctx context.Context, upd Update) {
	if !s.authorized(upd.UserID) {
		s.logger.Warn("Unauthorized update", zap.Int64("user_id", upd.UserID))
		return
	}
	s.learnChat(upd.ChatID)

	switch {
	case upd.Callback != nil:
		s.handleCallback(ctx, upd)
	case strings.HasPrefix(upd.Text, "/"):
		s.handleCommand(ctx, upd.ChatID, upd.Text)
	case strings.TrimSpace(upd.Text) != "":
		s.handleMessage(ctx, upd.ChatID, strings.TrimSpace(upd.Text))
	}
}

// authorized applies the static allowlist. An empty allowlist admits anyone;
// config falls back to the configured chat ID before that happens.
func (s *Service) authorized(userID int64) bool {
	if len(s.allowed) == 0 {
		return true
	}
	return s.allowed[userID]
}

// learnChat remembers the first authorized chat as the notification target
// when none is configured.
func (s *Service) learnChat(chatID int64) {
	if chatID == 0 {
		return
	}
	s.mu.Lock()
	if s.notifyChat == 0 {
		s.notifyChat = chatID
	}
	s.mu.Unlock()
}

// notifyTarget is the chat that receives unsolicited notifications.
func (s *Service) notifyTarget() int64 {
	if s.cfg.Telegram.ChatID != 0 {
		return s.cfg.Telegram.ChatID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notifyChat
}

// prefs returns the chat's routing state, creating it on first use.
func (s *Service) prefs(chatID int64) *chatPrefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.chats[chatID]
	if !ok {
		p = &chatPrefs{}
		s.chats[chatID] = p
	}
	return p
}

// reply sends a message, logging failures rather than propagating them; a
// dropped chat reply must not disturb session state.
func (s *Service) reply(chatID int64, text string, keyboard [][]InlineButton) int {
	msgID, err := s.transport.Send(chatID, text, keyboard)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to send chat message",
			zap.Int64("chat_id", chatID))
		return 0
	}
	return msgID
}

func (s *Service) edit(chatID int64, messageID int, text string, keyboard [][]InlineButton) {
	if err := s.transport.Edit(chatID, messageID, text, keyboard); err != nil {
		s.logger.WithError(err).Warn("Failed to edit chat message",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID))
	}
}
