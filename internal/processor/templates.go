package processor

import (
	"fmt"
	"strings"

	"github.com/mygudou/gitlab-copilot-sub001/internal/workspace"
)

const maxSummaryChars = 400

// flattenSummary collapses output to a single line for the
// execution-summary paragraph, per §4.6.
func flattenSummary(text string) string {
	fields := strings.Fields(text)
	flat := strings.Join(fields, " ")
	return truncate(flat, maxSummaryChars)
}

// renderSuccess builds the fixed success template: a heading, a
// one-paragraph flattened summary, a file-change table, any warnings,
// and a verbatim block with the unflattened AI output.
func renderSuccess(output string, changes []workspace.FileChange, warnings []string) string {
	var b strings.Builder
	b.WriteString("### ✅ 工作完成\n\n")

	summary := flattenSummary(output)
	if summary == "" {
		summary = "(no summary text returned)"
	}
	b.WriteString(summary)
	b.WriteString("\n\n")

	if len(changes) > 0 {
		b.WriteString("| 类型 | 文件 |\n|---|---|\n")
		for _, c := range changes {
			fmt.Fprintf(&b, "| %s | `%s` |\n", changeLabel(c.Status), c.Path)
		}
		b.WriteString("\n")
	}

	if len(warnings) > 0 {
		b.WriteString("**警告**:\n")
		for _, w := range warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteString("\n")
	}

	b.WriteString("<details>\n<summary>AI 原始回复</summary>\n\n```\n")
	b.WriteString(output)
	b.WriteString("\n```\n</details>\n")

	return b.String()
}

func changeLabel(status string) string {
	switch status {
	case "created":
		return "Created"
	case "deleted":
		return "Deleted"
	default:
		return "Modified"
	}
}

// renderFailure builds the fixed failure template: a heading, the
// original instruction summary, a failure reason, and the raw error in
// a code fence. No repository changes are claimed.
func renderFailure(instructionSummary, reason, rawError string) string {
	var b strings.Builder
	b.WriteString("### ❌ 工作失败\n\n")

	if instructionSummary != "" {
		fmt.Fprintf(&b, "%s\n\n", flattenSummary(instructionSummary))
	}
	fmt.Fprintf(&b, "**原因**: %s\n\n", reason)
	b.WriteString("```\n")
	b.WriteString(rawError)
	b.WriteString("\n```\n")

	return b.String()
}
