package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mygudou/gitlab-copilot-sub001/internal/classifier"
	"github.com/mygudou/gitlab-copilot-sub001/internal/event"
	"github.com/mygudou/gitlab-copilot-sub001/internal/platform"
)

const (
	threadContextLimit        = 10
	maxDescriptionPromptChars = 2000
	maxNoteBodyPromptChars    = 600
)

// buildPrompt assembles the full instruction context §4.6 requires: the
// triggering command, trimmed title/description, an MR-context snapshot
// when the event concerns a merge request, and prior thread activity.
func buildPrompt(instr *classifier.Instruction, we WebhookEvent, threadNotes []platform.Note, mr *platform.MergeRequest, diffs []platform.Diff) string {
	var b strings.Builder
	b.WriteString(instr.Command)
	b.WriteString("\n")

	if title := strings.TrimSpace(we.Title); title != "" {
		fmt.Fprintf(&b, "\nTitle: %s\n", title)
	}
	if desc := strings.TrimSpace(we.Description); desc != "" {
		fmt.Fprintf(&b, "Description: %s\n", truncate(desc, maxDescriptionPromptChars))
	}

	if mr != nil {
		b.WriteString("\n## Merge Request Context\n")
		fmt.Fprintf(&b, "- Title: %s\n", mr.Title)
		if strings.TrimSpace(mr.Description) != "" {
			fmt.Fprintf(&b, "- Description: %s\n", truncate(mr.Description, maxDescriptionPromptChars))
		}
		fmt.Fprintf(&b, "- %s -> %s\n", mr.SourceBranch, mr.TargetBranch)
		if len(diffs) > 0 {
			b.WriteString("- Diff summary:\n")
			for _, d := range diffs {
				fmt.Fprintf(&b, "  - `%s`\n", diffLabel(d))
			}
		}
	}

	if len(threadNotes) > 0 {
		b.WriteString("\n## Prior Discussion\n")
		for _, n := range threadNotes {
			fmt.Fprintf(&b, "- [%s] (%s): %s\n", n.AuthorName, n.CreatedAt.Format(time.RFC3339), truncate(n.Body, maxNoteBodyPromptChars))
		}
	}

	return b.String()
}

func diffLabel(d platform.Diff) string {
	switch {
	case d.NewFile:
		return d.NewPath + " (new)"
	case d.DeletedFile:
		return d.OldPath + " (deleted)"
	case d.RenamedFile:
		return d.OldPath + " -> " + d.NewPath
	default:
		return d.NewPath
	}
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

// fetchThreadContext pulls prior notes on the event's thread, newest
// first, bounded to threadContextLimit — §4.6's "thread context" used to
// prime follow-up executions with what's already been said.
func (p *Processor) fetchThreadContext(ctx context.Context, plat PlatformClient, we WebhookEvent) []platform.Note {
	if we.Kind != event.KindNote || plat == nil {
		return nil
	}
	discussions, err := plat.ListDiscussions(ctx, we.ProjectID, we.NoteTarget, we.ThreadIID)
	if err != nil {
		p.logger.Warn("fetch thread context failed", "project_id", we.ProjectID, "thread_iid", we.ThreadIID, "error", err)
		return nil
	}

	var notes []platform.Note
	for _, d := range discussions {
		for _, n := range d.Notes {
			// The note that just fired this webhook is not "prior"
			// discussion — the classifier already sees its text via
			// instr.Command, so echoing it back here would double it up.
			if n.ID == we.NoteID {
				continue
			}
			notes = append(notes, n)
		}
	}
	sort.Slice(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	if len(notes) > threadContextLimit {
		notes = notes[:threadContextLimit]
	}
	return notes
}

// fetchMRContext fetches the MR snapshot (title, description, branches,
// diffs) for any event that concerns a merge request — either the MR
// event itself or a note placed on one.
func (p *Processor) fetchMRContext(ctx context.Context, plat PlatformClient, we WebhookEvent) (*platform.MergeRequest, []platform.Diff) {
	isMR := we.Kind == event.KindMergeRequest || (we.Kind == event.KindNote && we.NoteTarget == "merge_request")
	if !isMR || plat == nil {
		return nil, nil
	}

	mr, err := plat.GetMergeRequest(ctx, we.ProjectID, we.ThreadIID)
	if err != nil {
		p.logger.Warn("fetch merge request context failed", "project_id", we.ProjectID, "thread_iid", we.ThreadIID, "error", err)
		return nil, nil
	}
	diffs, err := plat.GetMergeRequestDiffs(ctx, we.ProjectID, we.ThreadIID)
	if err != nil {
		p.logger.Warn("fetch merge request diffs failed", "project_id", we.ProjectID, "thread_iid", we.ThreadIID, "error", err)
		diffs = nil
	}
	return mr, diffs
}
