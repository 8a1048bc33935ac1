package validation

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex validates duet, video and device identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)

	// HashtagRegex validates a single hashtag without the leading '#'
	HashtagRegex = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)
)

// ValidateID validates an identifier
func ValidateID(id, fieldName string) error {
	if id == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	if len(id) > 100 {
		return fmt.Errorf("%s is too long (max 100 characters)", fieldName)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format", fieldName)
	}
	return nil
}

// ValidateMediaURL validates the location of a media source
func ValidateMediaURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Errorf("URL must have a host")
		}
	case "file":
		if u.Path == "" {
			return fmt.Errorf("file URL must have a path")
		}
	default:
		return fmt.Errorf("invalid URL scheme (must be http, https, or file)")
	}
	return nil
}

// ValidateUnitInterval validates that v lies in [0, 1]
func ValidateUnitInterval(v float64, fieldName string) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1", fieldName)
	}
	return nil
}

// ValidateOffset validates a start offset inside a media of the given duration
func ValidateOffset(offset, duration float64) error {
	if math.IsNaN(offset) || offset < 0 {
		return fmt.Errorf("start offset must not be negative")
	}
	if duration > 0 && offset >= duration {
		return fmt.Errorf("start offset must be before the end of the video (%.2fs)", duration)
	}
	return nil
}

// ValidateHashtags validates hashtag count and format
func ValidateHashtags(tags []string, max int) error {
	if len(tags) > max {
		return fmt.Errorf("too many hashtags (max %d)", max)
	}
	for _, tag := range tags {
		if !HashtagRegex.MatchString(tag) {
			return fmt.Errorf("invalid hashtag %q", tag)
		}
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("%s contains invalid characters", fieldName)
	}
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
