package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygudou/gitlab-copilot-sub001/internal/provider"
	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
	"github.com/mygudou/gitlab-copilot-sub001/internal/workspace"
)

// scriptAdapter is a minimal provider.Adapter backed by a shell script
// written to a temp file, so tests exercise real subprocess streaming
// without depending on the actual claude/codex CLIs being installed.
type scriptAdapter struct {
	binary string
}

func (s scriptAdapter) BinaryName() string         { return s.binary }
func (scriptAdapter) DisplayName() string          { return "Script" }
func (scriptAdapter) Provider() session.Provider   { return session.ProviderClaude }
func (scriptAdapter) BuildArgs(provider.BuildArgsInput) []string { return nil }
func (scriptAdapter) BuildEnv(_ provider.BuildEnvInput, parent []string) []string {
	return parent
}
func (scriptAdapter) ParseResult(stdout string) provider.Result {
	return provider.Result{Text: stdout, SessionID: "sess-from-parse"}
}
func (scriptAdapter) ExtractProgressMessage(chunk string) string {
	if chunk == "" {
		return ""
	}
	return "tick: " + chunk
}
func (scriptAdapter) ExtractSessionID(string) string { return "" }

func writeScript(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

type noopGitStatus struct{}

func (noopGitStatus) DetectFileChanges(ctx context.Context, path string) ([]workspace.FileChange, error) {
	return nil, nil
}

func TestExecute_SuccessPath(t *testing.T) {
	script := writeScript(t, `
if [ "$1" = "--version" ]; then echo ok; exit 0; fi
echo "hello from cli"
exit 0
`)
	adapter := scriptAdapter{binary: script}
	reg := provider.NewRegistry(adapter)
	ex := New(reg, noopGitStatus{}, provider.BuildEnvInput{}, 5*time.Second)

	var progressMsgs []string
	res, err := ex.Execute(context.Background(), session.ProviderClaude, t.TempDir(), "do the thing", func(msg string, final bool) {
		progressMsgs = append(progressMsgs, msg)
	}, Options{})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, "hello from cli")
	assert.Equal(t, "sess-from-parse", res.SessionID)
	assert.Contains(t, progressMsgs, "🚀 … analyzing")
	assert.Contains(t, progressMsgs, "✅ done")
}

func TestExecute_NonZeroExitSurfacesStderr(t *testing.T) {
	script := writeScript(t, `
if [ "$1" = "--version" ]; then echo ok; exit 0; fi
echo "boom explanation" 1>&2
exit 1
`)
	adapter := scriptAdapter{binary: script}
	reg := provider.NewRegistry(adapter)
	ex := New(reg, noopGitStatus{}, provider.BuildEnvInput{}, 5*time.Second)

	res, err := ex.Execute(context.Background(), session.ProviderClaude, t.TempDir(), "do the thing", nil, Options{})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom explanation")
}

func TestExecute_UnavailableCLIFailsFast(t *testing.T) {
	adapter := scriptAdapter{binary: "/nonexistent/definitely-not-a-cli"}
	reg := provider.NewRegistry(adapter)
	ex := New(reg, noopGitStatus{}, provider.BuildEnvInput{}, 5*time.Second)

	_, err := ex.Execute(context.Background(), session.ProviderClaude, t.TempDir(), "x", nil, Options{})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCLIUnavailable)
}

func TestExecute_UnknownProviderErrors(t *testing.T) {
	reg := provider.NewRegistry()
	ex := New(reg, noopGitStatus{}, provider.BuildEnvInput{}, 5*time.Second)

	_, err := ex.Execute(context.Background(), session.ProviderCodex, t.TempDir(), "x", nil, Options{})

	require.Error(t, err)
}

func TestExecute_TimeoutSendsSIGTERM(t *testing.T) {
	script := writeScript(t, `
if [ "$1" = "--version" ]; then echo ok; exit 0; fi
trap 'exit 143' TERM
sleep 30
`)
	adapter := scriptAdapter{binary: script}
	reg := provider.NewRegistry(adapter)
	ex := New(reg, noopGitStatus{}, provider.BuildEnvInput{}, 5*time.Second)

	res, err := ex.Execute(context.Background(), session.ProviderClaude, t.TempDir(), "x", nil, Options{Timeout: 200 * time.Millisecond})

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}
