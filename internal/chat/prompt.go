package chat

import (
	"strings"
	"unicode/utf8"

	"github.com/healthadvisor/server/internal/llm"
	"github.com/healthadvisor/server/internal/models"
)

// BuildPrompt converts recent history (oldest first) plus an optional health
// context block into the ordered message list for one completion call. A
// non-empty context becomes a leading system entry; history order is
// preserved as-is. Pure function, no I/O.
func BuildPrompt(history []models.Message, healthContext string) []llm.Message {
	prompt := make([]llm.Message, 0, 1+len(history))

	if healthContext != "" {
		prompt = append(prompt, llm.Message{Role: "system", Content: healthContext})
	}

	for _, message := range history {
		role := strings.TrimSpace(message.Role)
		if role == "" {
			role = "user"
		}
		prompt = append(prompt, llm.Message{Role: role, Content: message.Content})
	}

	return prompt
}

// deriveTitle builds a display title from a conversation's first message:
// the leading runes of the message, ellipsis-suffixed when truncated, plus
// the current date. Rune-safe so multi-byte characters are never split.
func deriveTitle(message string, max int, date string) string {
	title := truncateRunes(strings.TrimSpace(message), max)
	if date == "" {
		return title
	}
	return title + " - " + date
}

func truncateRunes(input string, max int) string {
	if max <= 0 || utf8.RuneCountInString(input) <= max {
		return input
	}

	var builder strings.Builder
	count := 0
	for _, r := range input {
		if count >= max {
			builder.WriteString("...")
			break
		}
		builder.WriteRune(r)
		count++
	}
	return builder.String()
}
