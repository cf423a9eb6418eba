package classifier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

type fakePeeker struct {
	sessions map[string]*session.Session
}

func (f *fakePeeker) Peek(ctx context.Context, key string) (*session.Session, bool) {
	s, ok := f.sessions[key]
	return s, ok
}

func TestClassify_ClaudeMention(t *testing.T) {
	c := New(nil)
	instr, err := c.Classify(context.Background(), ClassifyInput{
		EventKind: "issue",
		Text:      "@claude please add jwt login",
	})

	require.NoError(t, err)
	require.NotNil(t, instr)
	assert.Equal(t, session.ProviderClaude, instr.Provider)
	assert.Equal(t, "please add jwt login", instr.Command)
	assert.Equal(t, "@claude", instr.Trigger)
}

func TestClassify_CodexMention(t *testing.T) {
	c := New(nil)
	instr, err := c.Classify(context.Background(), ClassifyInput{
		EventKind: "merge_request",
		Text:      "looks good, @codex can you tidy this up",
	})

	require.NoError(t, err)
	require.NotNil(t, instr)
	assert.Equal(t, session.ProviderCodex, instr.Provider)
	assert.Equal(t, "looks good, can you tidy this up", instr.Command)
}

func TestClassify_AIMentionMapsToClaude(t *testing.T) {
	c := New(nil)
	instr, err := c.Classify(context.Background(), ClassifyInput{Text: "@ai fix the bug"})

	require.NoError(t, err)
	require.NotNil(t, instr)
	assert.Equal(t, session.ProviderClaude, instr.Provider)
}

func TestClassify_SlashSpecCommand(t *testing.T) {
	c := New(nil)
	instr, err := c.Classify(context.Background(), ClassifyInput{Text: "  /spec Build a login page"})

	require.NoError(t, err)
	require.NotNil(t, instr)
	assert.Equal(t, ScenarioSpecDoc, instr.Scenario)
	assert.Equal(t, "/speckit.specify", instr.SpecKitCommand)
	assert.Equal(t, session.ProviderClaude, instr.Provider)
	assert.Equal(t, "Build a login page", instr.Command)
}

func TestClassify_SlashPlanAndTasks(t *testing.T) {
	c := New(nil)

	plan, err := c.Classify(context.Background(), ClassifyInput{Text: "/plan"})
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "/speckit.plan", plan.SpecKitCommand)

	tasks, err := c.Classify(context.Background(), ClassifyInput{Text: "/tasks now please"})
	require.NoError(t, err)
	require.NotNil(t, tasks)
	assert.Equal(t, "/speckit.tasks", tasks.SpecKitCommand)
	assert.Equal(t, "now please", tasks.Command)
}

func TestClassify_SlashCommandNotAtStartIsIgnored(t *testing.T) {
	c := New(nil)
	instr, err := c.Classify(context.Background(), ClassifyInput{Text: "please run /spec later"})

	require.NoError(t, err)
	assert.Nil(t, instr)
}

func TestClassify_NoteOnIssueImplicitlyContinuesExistingSession(t *testing.T) {
	peeker := &fakePeeker{sessions: map[string]*session.Session{
		"42:7": {Key: "42:7", LastProvider: session.ProviderCodex},
	}}
	c := New(peeker)

	instr, err := c.Classify(context.Background(), ClassifyInput{
		EventKind:  "note",
		NoteTarget: "issue",
		SessionKey: "42:7",
		Text:       "also handle the edge case where email is empty",
	})

	require.NoError(t, err)
	require.NotNil(t, instr)
	assert.Equal(t, session.ProviderCodex, instr.Provider)
	assert.Empty(t, instr.Trigger)
}

func TestClassify_NoteOnMergeRequestNeverImplicitlyContinues(t *testing.T) {
	peeker := &fakePeeker{sessions: map[string]*session.Session{
		"42:7": {Key: "42:7", LastProvider: session.ProviderClaude},
	}}
	c := New(peeker)

	instr, err := c.Classify(context.Background(), ClassifyInput{
		EventKind:  "note",
		NoteTarget: "merge_request",
		SessionKey: "42:7",
		Text:       "also handle the edge case",
	})

	require.NoError(t, err)
	assert.Nil(t, instr)
}

func TestClassify_NoteOnIssueNoSessionNoTriggerIsIgnored(t *testing.T) {
	c := New(&fakePeeker{sessions: map[string]*session.Session{}})

	instr, err := c.Classify(context.Background(), ClassifyInput{
		EventKind:  "note",
		NoteTarget: "issue",
		SessionKey: "42:7",
		Text:       "no trigger here",
	})

	require.NoError(t, err)
	assert.Nil(t, instr)
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "42:7", SessionKey("42", "7", ""))
	assert.Equal(t, "42:7:99", SessionKey("42", "7", "99"))
}
