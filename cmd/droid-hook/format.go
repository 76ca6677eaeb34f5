package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// sessionNameFor derives a friendly session name from the project directory.
func sessionNameFor(projectDir string) string {
	name := filepath.Base(filepath.Clean(projectDir))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "root"
	}
	return name
}

var typeEmoji = map[string]string{
	"info":       "ℹ️",
	"warning":    "⚠️",
	"error":      "❌",
	"success":    "✅",
	"permission": "🔐",
	"stop":       "⏹️",
	"start":      "▶️",
}

// formatNotification prefixes a message with the session context and an
// emoji matching the notification type.
func formatNotification(sessionName, message, notificationType string) string {
	emoji, ok := typeEmoji[notificationType]
	if !ok {
		emoji = "🔔"
	}
	return fmt.Sprintf("%s *[%s]*\n\n%s", emoji, sessionName, message)
}

func formatPermissionRequest(sessionName, toolName string, toolInput json.RawMessage) string {
	return fmt.Sprintf(
		"🔐 *[%s] Permission Required*\n\nDroid wants to execute:\nTool: `%s`\n\n%s",
		sessionName, toolName, formatToolInput(toolName, toolInput),
	)
}

func formatStopMessage(sessionName, summary string) string {
	msg := fmt.Sprintf("✅ *[%s]* Droid has stopped.", sessionName)
	if summary != "" {
		msg += "\n\n" + summary
	}
	return msg + "\n\nReply with your next instruction or /done to end."
}

// formatToolInput renders a tool call compactly for a chat message. Known
// tools get purpose-built layouts; anything else falls back to JSON.
func formatToolInput(toolName string, toolInput json.RawMessage) string {
	fields := map[string]interface{}{}
	if len(toolInput) > 0 {
		_ = json.Unmarshal(toolInput, &fields)
	}

	switch toolName {
	case "Bash", "Execute":
		return fmt.Sprintf("```bash\n%s\n```", stringField(fields, "command"))
	case "Write", "Create":
		path := stringField(fields, "file_path", "path")
		preview := truncate(rawString(fields, "content"), 200)
		return fmt.Sprintf("File: `%s`\n```\n%s\n```", path, preview)
	case "Edit", "MultiEdit":
		path := stringField(fields, "file_path", "path")
		oldStr := clip(rawString(fields, "old_str"), 100)
		newStr := clip(rawString(fields, "new_str"), 100)
		return fmt.Sprintf("File: `%s`\n- Old: `%s`\n+ New: `%s`", path, oldStr, newStr)
	case "Read":
		return fmt.Sprintf("File: `%s`", stringField(fields, "file_path", "path"))
	case "Grep":
		pattern := stringField(fields, "pattern")
		path := stringField(fields, "path")
		if path == "N/A" {
			path = "."
		}
		return fmt.Sprintf("Pattern: `%s`\nPath: `%s`", pattern, path)
	case "Glob":
		var patterns []string
		if raw, ok := fields["patterns"].([]interface{}); ok {
			for _, p := range raw {
				if s, ok := p.(string); ok {
					patterns = append(patterns, s)
				}
			}
		}
		return fmt.Sprintf("Patterns: `%s`", strings.Join(patterns, ", "))
	case "LS":
		path := stringField(fields, "directory_path")
		if path == "N/A" {
			path = "."
		}
		return fmt.Sprintf("Directory: `%s`", path)
	default:
		formatted, err := json.MarshalIndent(fields, "", "  ")
		if err != nil {
			formatted = []byte("{}")
		}
		text := string(formatted)
		if len(text) > 500 {
			text = text[:500] + "\n..."
		}
		return fmt.Sprintf("```json\n%s\n```", text)
	}
}

// stringField returns the first present key, or "N/A" when none is set.
func stringField(fields map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return "N/A"
}

func rawString(fields map[string]interface{}, key string) string {
	v, _ := fields[key].(string)
	return v
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

