// Package context_builder turns search hits into a bounded memory block and
// splices that block into outgoing chat or generate requests.
package context_builder //nolint:revive // var-naming: using underscores for domain clarity

import (
	"fmt"
	"strings"
	"time"

	"github.com/lewisedginton/recall-proxy/internal/memory_store"
)

// basePrompt is injected whenever the store holds any records, even when no
// hit cleared the similarity threshold. Without it models tend to deny having
// memory at all.
const basePrompt = "You have access to a LOCAL MEMORY system that persistently stores all conversations. " +
	"You CAN and DO remember past interactions with this user. " +
	"If the user asks whether you have memory or can remember things, " +
	"confirm that YES, you have persistent local memory across conversations. " +
	"Never say you cannot remember or that you lack memory — you have it."

// spliceSeparator joins an existing system prompt and the memory block.
const spliceSeparator = "\n\n---\n"

// Options bounds the rendered memory block.
type Options struct {
	MaxItems int
	MaxChars int
}

// BuildMemoryBlock renders the memory block for a request. Returns an empty
// string only when the store is completely empty; otherwise the base prompt is
// always present, followed by the formatted hits or by a degraded notice when
// nothing matched.
func BuildMemoryBlock(hits []memory_store.SearchHit, totalStored int, opts Options) string {
	if totalStored <= 0 && len(hits) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(basePrompt)

	lines := formatMemoryLines(hits, opts)
	switch {
	case len(lines) > 0:
		b.WriteString(fmt.Sprintf("\n\n=== YOUR MEMORY (%d total stored) ===\n", totalStored))
		b.WriteString(strings.Join(lines, "\n"))
		b.WriteString("\n=== END MEMORY ===")
	case totalStored > 0:
		b.WriteString(fmt.Sprintf("\n\nYou have %d stored memories from past conversations. "+
			"No specific memories matched the current query closely enough to show, "+
			"but you DO have persistent memory and can recall things from past conversations "+
			"if the user asks about something you discussed before.", totalStored))
	}

	return b.String()
}

// formatMemoryLines renders at most MaxItems hits under a running MaxChars
// budget. The entry that overflows the budget is truncated with an ellipsis;
// later entries are dropped.
func formatMemoryLines(hits []memory_store.SearchHit, opts Options) []string {
	var lines []string
	totalChars := 0

	for i, hit := range hits {
		if i >= opts.MaxItems {
			break
		}
		remaining := opts.MaxChars - totalChars
		if remaining <= 0 {
			break
		}

		text := hit.Record.Text
		if len(text) > remaining {
			text = text[:remaining] + "..."
		}

		role := hit.Record.Role
		if role == "" {
			role = "unknown"
		}

		line := fmt.Sprintf("[%s] (%s, relevance: %.0f%%): %s",
			role, formatAge(hit.Record.Timestamp), hit.Similarity*100, text)
		lines = append(lines, line)
		totalChars += len(line)
	}

	return lines
}

// InjectIntoMessages splices the block into a chat message list. A leading
// system message gets the block appended; otherwise a new system message is
// prepended. The input slice and its maps are never mutated.
func InjectIntoMessages(messages []map[string]any, block string) []map[string]any {
	if block == "" {
		return messages
	}

	out := make([]map[string]any, 0, len(messages)+1)
	for _, m := range messages {
		clone := make(map[string]any, len(m))
		for k, v := range m {
			clone[k] = v
		}
		out = append(out, clone)
	}

	if len(out) > 0 {
		if role, _ := out[0]["role"].(string); role == "system" {
			content, _ := out[0]["content"].(string)
			out[0]["content"] = content + spliceSeparator + block
			return out
		}
	}

	return append([]map[string]any{{"role": "system", "content": block}}, out...)
}

// InjectIntoSystem splices the block into a generate-style system prompt.
func InjectIntoSystem(system, block string) string {
	if block == "" {
		return system
	}
	if system != "" {
		return system + spliceSeparator + block
	}
	return block
}

func formatAge(ts time.Time) string {
	if ts.IsZero() || ts.Unix() <= 0 {
		return "unknown time"
	}
	delta := time.Since(ts)
	switch {
	case delta < time.Minute:
		return "just now"
	case delta < time.Hour:
		return fmt.Sprintf("%dm ago", int(delta.Minutes()))
	case delta < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(delta.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(delta.Hours()/24))
	}
}
