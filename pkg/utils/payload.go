package utils

import (
	"regexp"
	"strings"
	"time"
)

var nonAlphanumeric = regexp.MustCompile(`\W+`)

// NormalizeToken strips non-alphanumeric characters and lower-cases the
// value, producing the canonical form used to match picklist labels.
func NormalizeToken(s string) string {
	return strings.ToLower(nonAlphanumeric.ReplaceAllString(s, ""))
}

// CleanPayload removes nil and empty-string values and formats time values
// as Salesforce-compatible timestamps. Nested maps are cleaned recursively.
func CleanPayload(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if v == nil || v == "" {
			continue
		}
		switch tv := v.(type) {
		case time.Time:
			out[k] = FormatTimestamp(tv)
		case *time.Time:
			if tv != nil {
				out[k] = FormatTimestamp(*tv)
			}
		case map[string]interface{}:
			out[k] = CleanPayload(tv)
		default:
			out[k] = v
		}
	}
	return out
}

// FormatTimestamp renders a time as 2006-01-02T15:04:05-07:00. Salesforce
// rejects numeric offsets without the colon separator.
func FormatTimestamp(t time.Time) string {
	s := t.Format("2006-01-02T15:04:05-0700")
	if len(s) > 20 {
		s = s[:len(s)-2] + ":" + s[len(s)-2:]
	}
	return s
}

// FormatDate renders a date-only value for Salesforce date fields.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// EscapeSOQL escapes a string literal for interpolation into a SOQL WHERE
// clause. Filter strings are built by interpolation, never parsed.
func EscapeSOQL(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return s
}

// EnsureCustomSuffix appends the __c suffix to a field name if missing.
func EnsureCustomSuffix(name string) string {
	if strings.HasSuffix(name, "__c") {
		return name
	}
	return name + "__c"
}
