package sessions

import (
	"strings"

	"github.com/loomworks/loom/pkg/models"
)

// Compaction digest limits. The digest is produced by fixed heuristic rules
// rather than a model call: deterministic and cheap, and re-running it over
// the same messages yields the same text.
const (
	// MaxSummaryChars bounds the digest length.
	MaxSummaryChars = 4000

	// snippetChars bounds each quoted line inside the digest.
	snippetChars = 200

	maxUserIntents      = 5
	maxAssistantOutputs = 3
	maxFlaggedLines     = 5
)

// flagKeywords trigger inclusion of a message in the digest's flag section.
var flagKeywords = []string{"error", "failed", "failure", "exception", "todo", "fixme"}

// Summarize produces the bounded digest for the older remainder of a
// session's history: recent user intents, recent assistant outputs, and
// keyword-flagged lines.
func Summarize(older []*models.Message) string {
	if len(older) == 0 {
		return ""
	}

	var users, assistants, flagged []string
	for _, msg := range older {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case models.RoleUser:
			users = append(users, snippet(content))
		case models.RoleAssistant:
			assistants = append(assistants, snippet(content))
		}
		if hasFlagKeyword(content) {
			flagged = append(flagged, snippet(content))
		}
	}

	var b strings.Builder
	b.WriteString("Conversation digest (older history):\n")

	if tail := lastN(users, maxUserIntents); len(tail) > 0 {
		b.WriteString("Recent user intents:\n")
		for _, line := range tail {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if tail := lastN(assistants, maxAssistantOutputs); len(tail) > 0 {
		b.WriteString("Recent assistant outputs:\n")
		for _, line := range tail {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	if tail := lastN(flagged, maxFlaggedLines); len(tail) > 0 {
		b.WriteString("Flagged (errors/TODOs):\n")
		for _, line := range tail {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	out := b.String()
	if len(out) > MaxSummaryChars {
		out = out[:MaxSummaryChars]
	}
	return out
}

func hasFlagKeyword(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range flagKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func snippet(content string) string {
	content = strings.ReplaceAll(content, "\n", " ")
	if len(content) > snippetChars {
		return content[:snippetChars]
	}
	return content
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
