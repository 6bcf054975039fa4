package utils

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var charRegex = regexp.MustCompile(`\S+`)

// CollapseWhitespace joins the non-whitespace spans of text with single spaces.
func CollapseWhitespace(text string) string {
	return strings.Join(charRegex.FindAllString(text, -1), " ")
}

// TruncateRunes cuts text to at most length runes and appends suffix when
// anything was removed.
func TruncateRunes(text string, length int, suffix string) string {
	if length < 0 || utf8.RuneCountInString(text) <= length {
		return text
	}
	return string([]rune(text)[:length]) + suffix
}
