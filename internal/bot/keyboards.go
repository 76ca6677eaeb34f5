package bot

import (
	"github.com/etwicaksono/droid-remote/internal/session/models"
)

const (
	// callbackDataLimit is the Telegram hard cap on callback payload bytes.
	callbackDataLimit = 64

	// refLen is the ID prefix length used in callback data. Eight characters
	// keep any action:session:request triple inside the payload cap and are
	// enough for the registry's prefix lookup.
	refLen = 8

	maxSessionButtons = 10
	maxButtonsPerRow  = 3
)

// shortRef truncates an ID to the callback prefix length.
func shortRef(id string) string {
	if len(id) > refLen {
		return id[:refLen]
	}
	return id
}

// callbackData encodes action:session:request, capped at the payload limit.
func callbackData(action, sessionID, requestID string) string {
	data := action + ":" + sessionID
	if requestID != "" {
		data += ":" + requestID
	}
	if len(data) > callbackDataLimit {
		data = data[:callbackDataLimit]
	}
	return data
}

// permissionKeyboard offers the three decisions on a permission ask. Approve
// All materializes a global rule.
func permissionKeyboard(sessionID, requestID string) [][]InlineButton {
	sid, rid := shortRef(sessionID), shortRef(requestID)
	return [][]InlineButton{
		{
			{Text: "Approve", Data: callbackData("approve", sid, rid)},
			{Text: "Deny", Data: callbackData("deny", sid, rid)},
		},
		{
			{Text: "Approve All", Data: callbackData("approve_all", sid, rid)},
		},
	}
}

// stopKeyboard offers the stop-point actions: end the session or peek at its
// status without consuming the wait.
func stopKeyboard(sessionID, requestID string) [][]InlineButton {
	sid, rid := shortRef(sessionID), shortRef(requestID)
	return [][]InlineButton{
		{
			{Text: "Done", Data: callbackData("done", sid, rid)},
			{Text: "Status", Data: callbackData("status", sid, rid)},
		},
	}
}

// sessionKeyboard builds the session picker, one session per row, capped so
// the keyboard stays usable on a phone.
func sessionKeyboard(sessions []*models.Session) [][]InlineButton {
	if len(sessions) > maxSessionButtons {
		sessions = sessions[:maxSessionButtons]
	}
	rows := make([][]InlineButton, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []InlineButton{{
			Text: statusEmoji(s.Status) + " " + s.Name,
			Data: callbackData("select", s.ID, ""),
		}})
	}
	return rows
}

// inlineKeyboard lays out caller-supplied buttons, at most three per row.
// Button callbacks become action words in the shared callback format.
func inlineKeyboard(buttons []models.Button, sessionID, requestID string) [][]InlineButton {
	sid, rid := shortRef(sessionID), shortRef(requestID)

	var rows [][]InlineButton
	var row []InlineButton
	for _, b := range buttons {
		row = append(row, InlineButton{
			Text: b.Text,
			Data: callbackData(b.Callback, sid, rid),
		})
		if len(row) >= maxButtonsPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return rows
}

func statusEmoji(status models.SessionStatus) string {
	switch status {
	case models.StatusRunning:
		return "🟡"
	case models.StatusWaiting:
		return "🟢"
	case models.StatusStopped:
		return "🔴"
	default:
		return "⚪"
	}
}
