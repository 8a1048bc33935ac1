package domain

import (
	"fmt"
	"strings"
)

type PublishMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Hashtags    []string `json:"hashtags"`
	Public      bool     `json:"public"`
}

// DefaultTitle is the title offered before the user types one.
func DefaultTitle(original OriginalVideo) string {
	return fmt.Sprintf("Duet with @%s", strings.TrimPrefix(original.Creator, "@"))
}

// ParseHashtags splits a comma separated hashtag input. Leading '#' marks
// and blanks are dropped, duplicates (case-insensitive) keep their first spelling.
func ParseHashtags(input string) []string {
	tags := make([]string, 0)
	seen := make(map[string]bool)
	for _, raw := range strings.Split(input, ",") {
		tag := strings.TrimSpace(raw)
		tag = strings.TrimLeft(tag, "#")
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		tags = append(tags, tag)
	}
	return tags
}
