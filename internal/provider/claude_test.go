package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClaude_BuildArgs_CodeEditDefaults(t *testing.T) {
	c := NewClaude()
	args := c.BuildArgs(BuildArgsInput{Prompt: "add jwt login", Scenario: "issue-session"})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--print --model sonnet")
	assert.Contains(t, joined, "--output-format text")
	assert.Contains(t, joined, "--dangerously-skip-permissions")
	assert.Contains(t, joined, generalEditTools)
	assert.Equal(t, "add jwt login", args[len(args)-1])
}

func TestClaude_BuildArgs_SpecDocUsesAcceptEdits(t *testing.T) {
	c := NewClaude()
	args := c.BuildArgs(BuildArgsInput{Prompt: "build a thing", Scenario: "spec-doc"})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--permission-mode acceptEdits")
	assert.Contains(t, joined, specDocTools)
	assert.NotContains(t, joined, "--dangerously-skip-permissions")
}

func TestClaude_BuildArgs_ResumeAndJSON(t *testing.T) {
	c := NewClaude()
	args := c.BuildArgs(BuildArgsInput{Prompt: "continue", ResumeSessionID: "s1", JSONOutput: true})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--output-format json")
	assert.Contains(t, joined, "--resume s1")
}

func TestClaude_BuildEnv(t *testing.T) {
	c := NewClaude()
	env := c.BuildEnv(BuildEnvInput{AnthropicBaseURL: "https://api.example.com", AnthropicAuthToken: "tok"}, []string{"PATH=/bin"})

	assert.Contains(t, env, "PATH=/bin")
	assert.Contains(t, env, "ANTHROPIC_BASE_URL=https://api.example.com")
	assert.Contains(t, env, "ANTHROPIC_AUTH_TOKEN=tok")
}

func TestClaude_BuildEnv_OmitsEmptyOverrides(t *testing.T) {
	c := NewClaude()
	env := c.BuildEnv(BuildEnvInput{}, []string{"PATH=/bin"})

	assert.Equal(t, []string{"PATH=/bin"}, env)
}

func TestClaude_ParseResult_PrefersLastJSONResultLine(t *testing.T) {
	c := NewClaude()
	stdout := "some preamble\n{\"result\":\"first\"}\n{\"result\":\"done\",\"session_id\":\"abc123\"}\n"

	res := c.ParseResult(stdout)

	assert.Equal(t, "done", res.Text)
	assert.Equal(t, "abc123", res.SessionID)
}

func TestClaude_ParseResult_FallsBackToFullText(t *testing.T) {
	c := NewClaude()
	res := c.ParseResult("plain text output\nwith two lines")

	assert.Equal(t, "plain text output\nwith two lines", res.Text)
	assert.Empty(t, res.SessionID)
}

func TestClaude_ExtractProgressMessage_SkipsDebugAndErrorLines(t *testing.T) {
	c := NewClaude()
	msg := c.ExtractProgressMessage("[debug] tracing call\nerror: ignored\nanalyzing main.go")

	assert.Equal(t, "🤖 analyzing main.go", msg)
}

func TestClaude_ExtractSessionID(t *testing.T) {
	c := NewClaude()
	id := c.ExtractSessionID(`{"result":"x","session_id":"zzz"}`)
	assert.Equal(t, "zzz", id)
}
