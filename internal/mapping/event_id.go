package mapping

import (
	"crypto/sha256"
	"encoding/base32"
	"regexp"
	"strings"

	"tasksync/internal/failure"
)

// Google Calendar accepts ids made of base32hex characters (a-v, 0-9),
// 5 to 1024 characters long.
var (
	eventIDEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)
	eventIDPattern  = regexp.MustCompile(`^[a-v0-9]+$`)
)

const (
	eventIDBytes  = 20
	minEventIDLen = 5
	maxEventIDLen = 1024
)

// DeriveEventID returns the deterministic calendar event id of a task.
// Task ids are compared case-insensitively and without hyphens, so both
// spellings of a Notion page id map to the same event.
func DeriveEventID(sourceID string) (string, error) {
	normalized := normalizeSourceID(sourceID)
	if normalized == "" {
		return "", failure.Validation("source_id", "task id is empty")
	}
	sum := sha256.Sum256([]byte(normalized))
	return eventIDEncoding.EncodeToString(sum[:eventIDBytes]), nil
}

// ValidEventID reports whether id satisfies the calendar id constraints.
func ValidEventID(id string) bool {
	return len(id) >= minEventIDLen && len(id) <= maxEventIDLen && eventIDPattern.MatchString(id)
}

func normalizeSourceID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	return strings.ReplaceAll(id, "-", "")
}
