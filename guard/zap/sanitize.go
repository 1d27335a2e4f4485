package zap

import (
	"strings"
)

// controlCharReplacer escapes control characters that can be used for log injection (CWE-117).
// Newlines, carriage returns, and tabs in log values can forge fake log entries in console encoders,
// mislead incident response, or inject false audit trail entries.
//
// The JSON encoder already escapes these inside string values, so this is primarily a defense
// for development/staging environments using the console encoder.
var controlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// sanitizeString escapes control characters in a single string value.
//
// It is applied to string field values flowing through the log.Logger
// interface. The direct zap.Field convenience path is not sanitized: callers
// constructing zap fields by hand are trusted, and the JSON encoder escapes
// their values anyway.
func sanitizeString(s string) string {
	return controlCharReplacer.Replace(s)
}
