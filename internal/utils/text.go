package utils

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeName lowercases name and collapses every run of characters outside
// [a-z0-9] into a single underscore, e.g. "Captain Nova!" -> "captain_nova".
func SanitizeName(name string) string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "character"
	}
	return s
}

// StripCodeFences removes an outer markdown fence (``` or ```json) that
// models like to wrap JSON answers in. Backticks inside the body are kept.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// Drop the opening fence line, language tag included.
	nl := strings.IndexByte(s, '\n')
	if nl < 0 {
		s = strings.TrimSpace(strings.TrimSuffix(s[3:], "```"))
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = s[4:]
		}
		return strings.TrimSpace(s)
	}
	s = s[nl+1:]
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most n bytes for log output.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
