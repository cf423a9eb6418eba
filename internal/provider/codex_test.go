package provider

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodex_BuildArgs_PlainExec(t *testing.T) {
	c := NewCodex()
	args := c.BuildArgs(BuildArgsInput{Prompt: "fix the bug"})

	assert.Equal(t, []string{"exec", "--dangerously-bypass-approvals-and-sandbox", "--color", "never", "fix the bug"}, args)
}

func TestCodex_BuildArgs_JSONAndResume(t *testing.T) {
	c := NewCodex()
	args := c.BuildArgs(BuildArgsInput{Prompt: "continue please", ResumeSessionID: "sess-1", JSONOutput: true})

	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--experimental-json")
	assert.Contains(t, joined, "resume sess-1 continue please")
}

func TestCodex_BuildEnv_IgnoresOverrides(t *testing.T) {
	c := NewCodex()
	env := c.BuildEnv(BuildEnvInput{AnthropicBaseURL: "https://x", AnthropicAuthToken: "tok"}, []string{"PATH=/bin"})

	assert.Equal(t, []string{"PATH=/bin"}, env)
}

func TestCodex_ParseResult_ConcatenatesDeltasThenUsesDone(t *testing.T) {
	c := NewCodex()
	// The done event's output_text deliberately differs from the
	// concatenated deltas, so a regression back to reading the wrong
	// JSON key (falling through to the delta reconstruction) is caught.
	stdout := strings.Join([]string{
		`{"type":"response.output_text.delta","delta":"Hello "}`,
		`{"type":"response.output_text.delta","delta":"world"}`,
		`{"type":"response.output_text.done","output_text":"Hello world, finalized"}`,
		`{"type":"session.created","session":{"id":"sess-42"}}`,
	}, "\n")

	res := c.ParseResult(stdout)

	assert.Equal(t, "Hello world, finalized", res.Text)
	assert.Equal(t, "sess-42", res.SessionID)
}

// TestCodex_ParseResult_S4Fixture mirrors spec.md §4.4/S4's literal event
// stream verbatim.
func TestCodex_ParseResult_S4Fixture(t *testing.T) {
	c := NewCodex()
	stdout := strings.Join([]string{
		`{"type":"session.created","session_id":"codex-abc"}`,
		`{"type":"response.output_text.delta","delta":"Hello "}`,
		`{"type":"response.output_text.delta","delta":"world"}`,
		`{"type":"response.output_text.done","output_text":"Hello world"}`,
	}, "\n")

	res := c.ParseResult(stdout)

	assert.Equal(t, "Hello world", res.Text)
	assert.Equal(t, "codex-abc", res.SessionID)
}

func TestCodex_ParseResult_FallsBackToDeltaWhenNoDoneEvent(t *testing.T) {
	c := NewCodex()
	stdout := strings.Join([]string{
		`{"type":"response.output_text.delta","delta":"partial "}`,
		`{"type":"response.output_text.delta","delta":"answer"}`,
	}, "\n")

	res := c.ParseResult(stdout)

	assert.Equal(t, "partial answer", res.Text)
}

func TestCodex_ExtractSessionID_FromMetadata(t *testing.T) {
	c := NewCodex()
	id := c.ExtractSessionID(`{"type":"something","metadata":{"session_id":"m-1"}}`)
	assert.Equal(t, "m-1", id)
}

func TestCodex_ExtractProgressMessage_CommandExecutionLifecycle(t *testing.T) {
	c := NewCodex()

	started := c.ExtractProgressMessage(`{"type":"item.started","item":{"type":"command_execution","command":"go test ./..."}}`)
	assert.Equal(t, "🔄 go test ./...", started)

	completed := c.ExtractProgressMessage(`{"type":"item.completed","item":{"type":"command_execution","command":"go test ./...","output":"ok","exit_code":0}}`)
	assert.True(t, strings.HasPrefix(completed, "✅ go test ./..."))
}

func TestCodex_ExtractProgressMessage_IgnoresReasoningItemsInItemEvents(t *testing.T) {
	c := NewCodex()
	msg := c.ExtractProgressMessage(`{"type":"item.completed","item":{"type":"reasoning"}}`)
	assert.Empty(t, msg)
}

func TestCodex_ExtractProgressMessage_ReasoningAndPlanPrefixes(t *testing.T) {
	c := NewCodex()

	reasoning := c.ExtractProgressMessage(`{"type":"reasoning","text":"thinking about the fix"}`)
	assert.Equal(t, "🧠 thinking about the fix", reasoning)

	plan := c.ExtractProgressMessage(`{"type":"plan","text":"1. patch file"}`)
	assert.Equal(t, "🗺️ 1. patch file", plan)
}

func TestCodex_ExtractProgressMessage_Error(t *testing.T) {
	c := NewCodex()
	msg := c.ExtractProgressMessage(`{"type":"error","message":"boom"}`)
	assert.Equal(t, "❌ boom", msg)
}

func TestCodex_ExtractProgressMessage_SessionCreated(t *testing.T) {
	c := NewCodex()
	msg := c.ExtractProgressMessage(`{"type":"session.created","session":{"id":"abc"}}`)
	assert.Equal(t, "🔄 Session: abc", msg)
}
