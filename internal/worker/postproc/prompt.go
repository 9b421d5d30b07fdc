package postproc

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/chatrelay/pkg/models"
)

// NoConversationSummary is stored for sessions without any exchanged messages.
const NoConversationSummary = "No conversation data available for this session."

// FormatDuration renders seconds as "S seconds", "M minutes, S seconds" or
// "H hours, M minutes". Units are truncated, not rounded.
func FormatDuration(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes, %d seconds", seconds/60, seconds%60)
	default:
		return fmt.Sprintf("%d hours, %d minutes", seconds/3600, (seconds%3600)/60)
	}
}

// FormatConversation renders one "[timestamp] ROLE: content" line per message.
func FormatConversation(messages []models.Message) string {
	return strings.Join(transcriptLines(messages), "\n")
}

func transcriptLines(messages []models.Message) []string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = fmt.Sprintf("[%s] %s: %s",
			m.Timestamp.UTC().Format(time.RFC3339),
			strings.ToUpper(string(m.Role)),
			m.Content)
	}
	return lines
}

// BuildSummaryPrompt builds the summarization request for one session.
func BuildSummaryPrompt(session *models.Session, transcript string) string {
	var sb strings.Builder

	sb.WriteString("Analyze the following conversation and provide a concise summary.\n\n")
	sb.WriteString("Session Information:\n")
	sb.WriteString(fmt.Sprintf("- Session ID: %s\n", session.SessionID))
	sb.WriteString(fmt.Sprintf("- Duration: %s\n", FormatDuration(session.Duration())))
	sb.WriteString(fmt.Sprintf("- User ID: %s\n\n", session.UserID))
	sb.WriteString("Conversation:\n")
	sb.WriteString(transcript)
	sb.WriteString(`

Please provide:
1. A brief overview (2-3 sentences) of what was discussed
2. Key topics or themes
3. Any actions taken or tools used
4. Overall sentiment and engagement level

Keep the summary concise and informative.`)

	return sb.String()
}

// TokenCounter counts model tokens in a string.
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter returns a cl100k_base counter, or a length-based estimate
// if the encoding cannot be loaded.
func NewTokenCounter() TokenCounter {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, estimating transcript tokens from length")
		return approxCounter{}
	}
	return &tiktokenCounter{codec: codec}
}

func (c *tiktokenCounter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return approxCounter{}.Count(text)
	}
	return len(ids)
}

// approxCounter assumes four bytes per token.
type approxCounter struct{}

func (approxCounter) Count(text string) int {
	return (len(text) + 3) / 4
}

// fitTranscript keeps the newest lines that fit in budget tokens and prepends
// a marker naming how many older lines were dropped. The newest line is
// always kept. A budget <= 0 disables trimming.
func fitTranscript(lines []string, budget int, counter TokenCounter) (string, int, int) {
	costs := make([]int, len(lines))
	total := 0
	for i, line := range lines {
		costs[i] = counter.Count(line) + 1
		total += costs[i]
	}

	if budget <= 0 || total <= budget {
		return strings.Join(lines, "\n"), total, 0
	}

	first := 0
	for first < len(lines)-1 && total > budget {
		total -= costs[first]
		first++
	}

	marker := fmt.Sprintf("[... %d earlier messages omitted ...]", first)
	kept := append([]string{marker}, lines[first:]...)
	return strings.Join(kept, "\n"), total + counter.Count(marker) + 1, first
}
