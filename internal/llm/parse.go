package llm

import (
	"regexp"
	"strings"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// extractJSON returns the JSON portion of a model reply, unwrapping a
// markdown code fence when one is present.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "```") {
		return s
	}
	if m := fencedBlock.FindStringSubmatch(s); len(m) == 2 {
		return strings.TrimSpace(m[1])
	}
	return s
}

// estimateTokens approximates usage at one token per four characters for
// upstreams that omit usage data.
func estimateTokens(content string) int {
	return (len(content) + 3) / 4
}
