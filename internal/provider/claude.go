package provider

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

// generalEditTools is the allowed-tools list for ordinary code-edit
// scenarios — everything needed to read, change, and verify a checkout.
const generalEditTools = "Read,Write,Edit,Bash,Grep,Glob"

// specDocTools restricts spec-kit runs to slash-command dispatch plus
// read-only/verification tools.
const specDocTools = "SlashCommand:/speckit.*,Read,Bash,Git"

var sessionIDPattern = regexp.MustCompile(`"session_id"\s*:\s*"([^"]+)"`)

// Claude adapts the `claude` CLI (spec.md §4.4's claude adapter).
type Claude struct{}

func NewClaude() Claude { return Claude{} }

func (Claude) BinaryName() string           { return "claude" }
func (Claude) DisplayName() string          { return "Claude" }
func (Claude) Provider() session.Provider   { return session.ProviderClaude }

func (Claude) BuildArgs(in BuildArgsInput) []string {
	args := []string{"--print", "--model", "sonnet"}

	outputFormat := "text"
	if in.JSONOutput {
		outputFormat = "json"
	}
	args = append(args, "--output-format", outputFormat)

	if in.Scenario == "spec-doc" {
		args = append(args, "--permission-mode", "acceptEdits")
		args = append(args, "--allowedTools", specDocTools)
	} else {
		args = append(args, "--dangerously-skip-permissions")
		args = append(args, "--allowedTools", generalEditTools)
	}

	if in.ResumeSessionID != "" {
		args = append(args, "--resume", in.ResumeSessionID)
	}

	if in.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", in.AppendSystemPrompt)
	}

	args = append(args, in.Prompt)
	return args
}

func (Claude) BuildEnv(in BuildEnvInput, parentEnv []string) []string {
	env := append([]string{}, parentEnv...)
	if in.AnthropicBaseURL != "" {
		env = append(env, "ANTHROPIC_BASE_URL="+in.AnthropicBaseURL)
	}
	if in.AnthropicAuthToken != "" {
		env = append(env, "ANTHROPIC_AUTH_TOKEN="+in.AnthropicAuthToken)
	}
	return env
}

func (Claude) ParseResult(stdout string) Result {
	lines := strings.Split(stdout, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || line[0] != '{' {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(line), &parsed); err != nil {
			continue
		}
		result, ok := parsed["result"].(string)
		if !ok {
			continue
		}
		sessionID, _ := parsed["session_id"].(string)
		return Result{Text: result, SessionID: sessionID}
	}
	return Result{Text: stdout}
}

func (Claude) ExtractProgressMessage(chunk string) string {
	lines := strings.Split(chunk, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "debug") || strings.Contains(lower, "error") {
			continue
		}
		return "🤖 " + line
	}
	return ""
}

func (Claude) ExtractSessionID(chunk string) string {
	m := sessionIDPattern.FindStringSubmatch(chunk)
	if m == nil {
		return ""
	}
	return m[1]
}
