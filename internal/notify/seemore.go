package notify

import "strings"

const (
	seeMorePadding = 500
	zeroWidthSpace = "\u200b"
)

// applySeeMorePadding puts instruction first and pushes text behind enough
// zero-width characters that the chat client folds it under "see more".
func applySeeMorePadding(text, instruction string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	message := strings.TrimSpace(instruction)

	var b strings.Builder
	b.Grow(len(message) + seeMorePadding*len(zeroWidthSpace) + len(text) + 1)
	b.WriteString(message)
	b.WriteString(strings.Repeat(zeroWidthSpace, seeMorePadding))
	if !strings.HasPrefix(text, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(text)
	return b.String()
}
