package bot

// Command describes one slash command advertised to the chat client.
type Command struct {
	Name        string
	Description string
}

// InlineButton is one button on an inline keyboard. Data is the callback
// payload echoed back when the button is pressed.
type InlineButton struct {
	Text string
	Data string
}

// Callback is an inline keyboard button press.
type Callback struct {
	ID        string
	Data      string
	MessageID int
}

// Update is one inbound interaction. Exactly one of Text and Callback is
// meaningful: callbacks carry no text.
type Update struct {
	ChatID   int64
	UserID   int64
	Text     string
	Callback *Callback
}

// Transport is the messaging backend the bot service drives. The production
// implementation speaks the Telegram Bot API; tests substitute a fake.
type Transport interface {
	// Start opens the update stream. Pending backlog is discarded so a
	// restart does not replay stale button presses.
	Start() error

	// Updates returns the inbound stream. The channel closes when the
	// transport stops.
	Updates() <-chan Update

	// Send delivers a message and returns the transport-assigned message ID.
	// A nil keyboard sends plain text.
	Send(chatID int64, text string, keyboard [][]InlineButton) (int, error)

	// Edit replaces the text and keyboard of a previously sent message.
	Edit(chatID int64, messageID int, text string, keyboard [][]InlineButton) error

	// AnswerCallback acknowledges a button press; alert pops a dialog
	// instead of the transient toast.
	AnswerCallback(callbackID, text string, alert bool) error

	// SetCommands advertises the slash commands. Best effort.
	SetCommands(commands []Command) error

	// Stop closes the update stream.
	Stop()
}
