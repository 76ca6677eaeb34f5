package bot

import (
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/etwicaksono/droid-remote/internal/common/logger"
)

// pollTimeout is the long-poll window in seconds for GetUpdates.
const pollTimeout = 30

// TelegramTransport drives the Telegram Bot API with long polling.
type TelegramTransport struct {
	api    *tgbotapi.BotAPI
	logger *logger.Logger

	updates chan Update

	mu      sync.Mutex
	stopped bool
}

// NewTelegramTransport authenticates against the Bot API. The token is
// validated immediately; a bad token fails here rather than at first send.
func NewTelegramTransport(token string, log *logger.Logger) (*TelegramTransport, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramTransport{
		api:     api,
		logger:  log.WithFields(zap.String("component", "telegram")),
		updates: make(chan Update, 64),
	}, nil
}

// Start begins long polling. The pending backlog is cleared first so button
// presses from before a restart are not replayed against fresh state.
func (t *TelegramTransport) Start() error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout

	ch := t.api.GetUpdatesChan(cfg)
	ch.Clear()

	go t.pump(ch)
	t.logger.Info("Telegram transport started",
		zap.String("bot_username", t.api.Self.UserName))
	return nil
}

func (t *TelegramTransport) pump(ch tgbotapi.UpdatesChannel) {
	defer close(t.updates)
	for raw := range ch {
		upd, ok := convertUpdate(raw)
		if !ok {
			continue
		}
		t.updates <- upd
	}
}

// convertUpdate maps a Telegram update onto the transport-neutral shape.
// Updates that carry neither text nor a callback are dropped.
func convertUpdate(raw tgbotapi.Update) (Update, bool) {
	if cb := raw.CallbackQuery; cb != nil {
		upd := Update{
			Callback: &Callback{ID: cb.ID, Data: cb.Data},
		}
		if cb.From != nil {
			upd.UserID = cb.From.ID
		}
		if cb.Message != nil {
			upd.Callback.MessageID = cb.Message.MessageID
			if cb.Message.Chat != nil {
				upd.ChatID = cb.Message.Chat.ID
			}
		}
		return upd, true
	}

	if msg := raw.Message; msg != nil && msg.Text != "" {
		upd := Update{Text: msg.Text}
		if msg.From != nil {
			upd.UserID = msg.From.ID
		}
		if msg.Chat != nil {
			upd.ChatID = msg.Chat.ID
		}
		return upd, true
	}
	return Update{}, false
}

// Updates returns the inbound stream.
func (t *TelegramTransport) Updates() <-chan Update {
	return t.updates
}

// Send delivers a message with Markdown formatting. Content that Telegram
// refuses to parse is retried as plain text so delivery never depends on
// escaping.
func (t *TelegramTransport) Send(chatID int64, text string, keyboard [][]InlineButton) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if markup, ok := toMarkup(keyboard); ok {
		msg.ReplyMarkup = markup
	}

	sent, err := t.api.Send(msg)
	if err != nil && isParseError(err) {
		msg.ParseMode = ""
		sent, err = t.api.Send(msg)
	}
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// Edit replaces a previously sent message in place.
func (t *TelegramTransport) Edit(chatID int64, messageID int, text string, keyboard [][]InlineButton) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	if markup, ok := toMarkup(keyboard); ok {
		edit.ReplyMarkup = &markup
	}

	_, err := t.api.Send(edit)
	if err != nil && isParseError(err) {
		edit.ParseMode = ""
		_, err = t.api.Send(edit)
	}
	return err
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (t *TelegramTransport) AnswerCallback(callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	cb.ShowAlert = alert
	_, err := t.api.Request(cb)
	return err
}

// SetCommands advertises the slash commands in the chat client menu.
func (t *TelegramTransport) SetCommands(commands []Command) error {
	list := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		list = append(list, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	_, err := t.api.Request(tgbotapi.NewSetMyCommands(list...))
	return err
}

// Stop ends long polling; the updates channel closes once the poller drains.
func (t *TelegramTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.api.StopReceivingUpdates()
}

func toMarkup(keyboard [][]InlineButton) (tgbotapi.InlineKeyboardMarkup, bool) {
	if len(keyboard) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, buttons)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

// isParseError detects Telegram's entity-parse rejection for Markdown sends.
func isParseError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "can't parse entities")
}
