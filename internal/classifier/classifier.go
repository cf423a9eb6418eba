// Package classifier inspects a webhook event's text and decides whether
// it contains a usable AI instruction: an explicit trigger mention, a
// spec-kit slash command, or (for issue notes only) an implicit
// continuation of an existing thread session.
package classifier

import (
	"context"
	"regexp"
	"strings"

	"github.com/mygudou/gitlab-copilot-sub001/internal/session"
)

// Scenario selects how the provider adapter builds its CLI arguments.
type Scenario string

const (
	ScenarioSpecDoc Scenario = "spec-doc"
)

var mentionPattern = regexp.MustCompile(`(?i)@(claude|codex|ai)\b`)

// specKitCommands maps a recognized leading slash command to its
// spec-kit equivalent, per spec.md §4.2.
var specKitCommands = map[string]string{
	"/spec":  "/speckit.specify",
	"/plan":  "/speckit.plan",
	"/tasks": "/speckit.tasks",
}

// Instruction is the classifier's sole output: everything downstream
// needs to decide whether, and how, to run the AI.
type Instruction struct {
	Command        string
	Provider       session.Provider
	FullContext    string
	Scenario       Scenario
	Trigger        string
	SpecKitCommand string
}

// ClassifyInput is the already content-sourced text to scan (the caller
// picks description vs. note body per spec.md §4.2's content-source
// table) plus enough event shape to decide implicit continuation.
type ClassifyInput struct {
	EventKind  string // "issue" | "merge_request" | "note"
	NoteTarget string // "issue" | "merge_request", only meaningful when EventKind == "note"
	Text       string
	SessionKey string
}

// SessionPeeker is the narrow read-only session lookup the classifier
// needs to detect implicit note continuation, without depending on the
// full session.Store write surface.
type SessionPeeker interface {
	Peek(ctx context.Context, key string) (*session.Session, bool)
}

// Classifier ties trigger detection to the existing-session lookup used
// for implicit issue-note continuation.
type Classifier struct {
	sessions SessionPeeker
}

func New(sessions SessionPeeker) *Classifier {
	return &Classifier{sessions: sessions}
}

// Classify returns (nil, nil) when no usable instruction was found — the
// caller still records the event, it simply does not invoke the AI.
func (c *Classifier) Classify(ctx context.Context, in ClassifyInput) (*Instruction, error) {
	if specKit, rest, trigger, ok := detectSlashCommand(in.Text); ok {
		return &Instruction{
			Command:        rest,
			Provider:       session.ProviderClaude,
			FullContext:    in.Text,
			Scenario:       ScenarioSpecDoc,
			Trigger:        trigger,
			SpecKitCommand: specKit,
		}, nil
	}

	if trigger, provider, command, ok := detectMention(in.Text); ok {
		return &Instruction{
			Command:     command,
			Provider:    provider,
			FullContext: in.Text,
			Trigger:     trigger,
		}, nil
	}

	if in.EventKind == "note" && in.NoteTarget == "issue" && c.sessions != nil {
		sess, ok := c.sessions.Peek(ctx, in.SessionKey)
		if ok && sess != nil {
			command := strings.TrimSpace(in.Text)
			if command == "" {
				return nil, nil
			}
			return &Instruction{
				Command:     command,
				Provider:    sess.LastProvider,
				FullContext: in.Text,
			}, nil
		}
	}

	return nil, nil
}

func detectSlashCommand(text string) (specKit, rest, trigger string, ok bool) {
	trimmed := strings.TrimLeft(text, " \t\r\n")
	for slash, specKitCmd := range specKitCommands {
		switch {
		case trimmed == slash:
			return specKitCmd, "", slash, true
		case strings.HasPrefix(trimmed, slash+" "), strings.HasPrefix(trimmed, slash+"\n"), strings.HasPrefix(trimmed, slash+"\t"):
			return specKitCmd, strings.TrimSpace(trimmed[len(slash):]), slash, true
		}
	}
	return "", "", "", false
}

func detectMention(text string) (trigger string, provider session.Provider, command string, ok bool) {
	loc := mentionPattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", "", "", false
	}
	matched := text[loc[0]:loc[1]]
	word := strings.ToLower(text[loc[2]:loc[3]])

	provider = session.ProviderClaude
	if word == "codex" {
		provider = session.ProviderCodex
	}

	before := strings.TrimRight(text[:loc[0]], " \t")
	after := strings.TrimLeft(text[loc[1]:], " \t")
	command = strings.TrimSpace(before + " " + after)
	return matched, provider, command, true
}

// SessionKey builds the "<projectId>:<threadIid>[:<discussionId>]" key
// spec.md §4.2 names. discussionID may be empty.
func SessionKey(projectID, threadIID, discussionID string) string {
	key := projectID + ":" + threadIID
	if discussionID != "" {
		key += ":" + discussionID
	}
	return key
}
