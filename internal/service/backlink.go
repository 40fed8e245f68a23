package service

import (
	"regexp"
	"strings"
)

var (
	plainPageID  = regexp.MustCompile(`(?i)(?:^|[^0-9a-f])([0-9a-f]{32})(?:$|[^0-9a-f])`)
	dashedPageID = regexp.MustCompile(`(?i)(?:^|[^0-9a-f-])([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})(?:$|[^0-9a-f-])`)
)

// ExtractPageID finds the task page id in an event back-link. The first
// text holding an id wins; the id is returned lowercase without hyphens.
func ExtractPageID(texts ...string) string {
	for _, text := range texts {
		if m := plainPageID.FindStringSubmatch(text); m != nil {
			return strings.ToLower(m[1])
		}
		if m := dashedPageID.FindStringSubmatch(text); m != nil {
			return strings.ToLower(strings.ReplaceAll(m[1], "-", ""))
		}
	}
	return ""
}
