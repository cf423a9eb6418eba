// Package provider defines the uniform AI CLI adapter capability set
// (§4.4) and a registry the executor and processor look adapters up by
// name from.
package provider

import (
	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

// BuildArgsInput is everything an adapter needs to construct the CLI
// argument list for one invocation.
type BuildArgsInput struct {
	Prompt             string
	Scenario           string // "code-review", "issue-session", "spec-doc", ...
	ResumeSessionID    string
	IsNewSession       bool
	JSONOutput         bool
	AppendSystemPrompt string
}

// BuildEnvInput carries the configured Anthropic endpoint overrides; the
// codex adapter ignores it (it inherits the parent environment only).
type BuildEnvInput struct {
	AnthropicBaseURL   string
	AnthropicAuthToken string
}

// Result is the parsed outcome of one CLI invocation's full stdout.
type Result struct {
	Text      string
	SessionID string
}

// Adapter is the capability set every provider CLI implements, per
// spec.md §4.4.
type Adapter interface {
	BinaryName() string
	DisplayName() string
	Provider() session.Provider
	BuildArgs(in BuildArgsInput) []string
	BuildEnv(in BuildEnvInput, parentEnv []string) []string
	ParseResult(stdout string) Result
	// ExtractProgressMessage inspects one newly-arrived stdout chunk
	// (claude: a trailing line; codex: a NDJSON line) and returns a
	// formatted progress message, or "" if nothing displayable happened.
	ExtractProgressMessage(chunk string) string
	// ExtractSessionID scans a single output chunk for a session id, for
	// adapters (codex) that can discover it before the process exits.
	ExtractSessionID(chunk string) string
}

// Registry looks adapters up by provider name.
type Registry struct {
	adapters map[session.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[session.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Get(p session.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}
