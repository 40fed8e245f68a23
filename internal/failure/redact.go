package failure

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

var redactions = []redaction{
	{regexp.MustCompile(`(?i)bearer\s+[a-z0-9._~+/\-]+=*`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`\b(?:secret|ntn)_[A-Za-z0-9]+`), "[REDACTED]"},
	{regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]+`), "[REDACTED]"},
	{regexp.MustCompile(`ya29\.[A-Za-z0-9_.\-]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)\b((?:api_?key|access_token|refresh_token|token|key)=)[^&\s"]+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)("(?:api_?key|access_token|refresh_token|token|private_key)"\s*:\s*")[^"]*"`), `${1}[REDACTED]"`},
}

// Redact removes credentials from a string before it is logged.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}
