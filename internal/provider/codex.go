package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

// progressOnlyItemTypes are item.completed payload types that never carry
// the final assistant answer — they're narration about how the answer was
// produced, not the answer itself.
var progressOnlyItemTypes = []string{"reasoning", "analysis", "plan", "tool", "command", "execution"}

// Codex adapts the `codex` CLI, whose output is an NDJSON event stream
// rather than a single text/JSON payload (spec.md §4.4's codex adapter).
type Codex struct{}

func NewCodex() Codex { return Codex{} }

func (Codex) BinaryName() string         { return "codex" }
func (Codex) DisplayName() string        { return "Codex" }
func (Codex) Provider() session.Provider { return session.ProviderCodex }

func (Codex) BuildArgs(in BuildArgsInput) []string {
	args := []string{"exec"}
	if in.JSONOutput {
		args = append(args, "--experimental-json")
	}
	args = append(args, "--dangerously-bypass-approvals-and-sandbox", "--color", "never")

	if in.ResumeSessionID != "" {
		args = append(args, "resume", in.ResumeSessionID, in.Prompt)
	} else {
		args = append(args, in.Prompt)
	}
	return args
}

// BuildEnv ignores the Anthropic overrides — codex inherits the parent
// environment only.
func (Codex) BuildEnv(_ BuildEnvInput, parentEnv []string) []string {
	return append([]string{}, parentEnv...)
}

func (Codex) ParseResult(stdout string) Result {
	var delta strings.Builder
	var authoritative string
	var sessionID string

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}

		eventType, _ := obj["type"].(string)
		switch {
		case strings.Contains(eventType, "output_text.delta"):
			if d, ok := obj["delta"].(string); ok {
				delta.WriteString(d)
			}
		case strings.Contains(eventType, "output_text.done"):
			if text, ok := obj["output_text"].(string); ok {
				authoritative = text
			} else {
				authoritative = delta.String()
			}
		case strings.Contains(eventType, "response.completed"):
			if response, ok := obj["response"].(map[string]any); ok {
				if text, ok := response["output_text"].(string); ok {
					authoritative = text
				}
			}
			if authoritative == "" {
				authoritative = delta.String()
			}
		}

		if sessionID == "" {
			sessionID = extractSessionIDFromEvent(obj)
		}
	}

	text := authoritative
	if text == "" {
		text = delta.String()
	}
	return Result{Text: text, SessionID: sessionID}
}

func extractSessionIDFromEvent(obj map[string]any) string {
	if id, ok := obj["session_id"].(string); ok && id != "" {
		return id
	}
	if s, ok := obj["session"].(map[string]any); ok {
		if id, ok := s["id"].(string); ok && id != "" {
			return id
		}
	}
	if r, ok := obj["response"].(map[string]any); ok {
		if id, ok := r["session_id"].(string); ok && id != "" {
			return id
		}
	}
	if m, ok := obj["metadata"].(map[string]any); ok {
		if id, ok := m["session_id"].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

func (Codex) ExtractSessionID(chunk string) string {
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if id := extractSessionIDFromEvent(obj); id != "" {
			return id
		}
	}
	return ""
}

func (Codex) ExtractProgressMessage(chunk string) string {
	var last string
	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line[0] != '{' {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		if formatted, ok := formatCodexEvent(obj); ok {
			last = formatted
		}
	}
	return last
}

func formatCodexEvent(obj map[string]any) (string, bool) {
	eventType, _ := obj["type"].(string)

	switch {
	case eventType == "session.created":
		id := extractSessionIDFromEvent(obj)
		return fmt.Sprintf("🔄 Session: %s", id), true

	case eventType == "item.started", eventType == "item.completed":
		item, _ := obj["item"].(map[string]any)
		itemType, _ := item["type"].(string)
		if itemType != "command_execution" {
			if isProgressOnlyType(itemType) {
				return "", false
			}
			return "📄 " + itemType, true
		}
		command, _ := item["command"].(string)
		if eventType == "item.started" {
			return "🔄 " + command, true
		}
		output, _ := item["output"].(string)
		exitCode, _ := item["exit_code"].(float64)
		icon := "✅"
		if exitCode != 0 {
			icon = "❌"
		}
		return fmt.Sprintf("%s %s\n%s", icon, command, truncate(output, 400)), true

	case strings.Contains(eventType, "reasoning"):
		text, _ := obj["text"].(string)
		return "🧠 " + text, true

	case strings.Contains(eventType, "plan"):
		text, _ := obj["text"].(string)
		return "🗺️ " + text, true

	case eventType == "error":
		message, _ := obj["message"].(string)
		return "❌ " + message, true
	}

	return "", false
}

func isProgressOnlyType(itemType string) bool {
	for _, t := range progressOnlyItemTypes {
		if strings.Contains(itemType, t) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
