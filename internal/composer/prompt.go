// Package composer assembles the generation prompt from retrieved memory,
// web search context and the user's question, and holds the localized
// strings the rest of the core writes into memory or returns to users.
package composer

import (
	"strings"
	"unicode/utf8"
)

const defaultMaxContextTokens = 4000

// Composer builds generation prompts for one locale.
type Composer struct {
	Messages         Messages
	MaxContextTokens int
}

// New creates a Composer with the given catalog and token budget for the
// context block. If maxContextTokens <= 0, the default (4000) is used.
func New(msgs Messages, maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{Messages: msgs, MaxContextTokens: maxContextTokens}
}

// ContextBlock joins the retrieved memory texts, nearest first, followed by
// the search context, one per line. The search context is always the last
// element even when empty. When the block would exceed the token budget
// the farthest retrieved texts are dropped first.
func (c *Composer) ContextBlock(retrieved []string, searchContext string) string {
	budget := c.MaxContextTokens - EstimateTokens(searchContext)

	var kept []string
	for _, text := range retrieved {
		tokens := EstimateTokens(text)
		if tokens > budget {
			break
		}
		kept = append(kept, text)
		budget -= tokens
	}
	return strings.Join(append(kept, searchContext), "\n")
}

// Compose renders the full prompt sent to the generation backend.
func (c *Composer) Compose(contextBlock, question string) string {
	m := c.Messages
	var sb strings.Builder
	sb.WriteString(m.Instruction)
	sb.WriteString("\n")
	sb.WriteString(m.ContextHeader)
	sb.WriteString("\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n\n")
	sb.WriteString(m.QuestionHeader)
	sb.WriteString(question)
	sb.WriteString("\n")
	sb.WriteString(m.Requirements)
	return sb.String()
}

// EstimateTokens provides a rough token count using 4 runes per token, so
// multi-byte scripts are not counted by their UTF-8 width.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
