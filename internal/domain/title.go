package domain

import (
	"strings"
	"unicode/utf8"
)

// TitleMaxRunes is the length budget of a title derived from a first message.
const TitleMaxRunes = 50

// DeriveTitle builds a conversation title from the content of its first
// message: the first non-blank line, clipped to TitleMaxRunes runes with a
// "..." marker when clipped. Blank content yields DefaultConversationTitle.
func DeriveTitle(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	var line string
	for _, l := range strings.Split(content, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return DefaultConversationTitle
	}
	if utf8.RuneCountInString(line) <= TitleMaxRunes {
		return line
	}
	return string([]rune(line)[:TitleMaxRunes]) + "..."
}
