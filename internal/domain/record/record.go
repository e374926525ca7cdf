// Package record defines the unit of text flowing from sources through the pipeline.
package record

import "strings"

// Record is one text item read from a source.
type Record struct {
	Ordinal int64  // 0-based position among emitted records
	Line    int64  // 1-based line or row in the source file, 0 when unknown
	Text    string // raw text as read, never modified
}

var sanitizer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", `"`, "'")

// Sanitize flattens text for single-line quoted output: newlines become spaces and
// double quotes become single quotes.
func Sanitize(text string) string {
	return sanitizer.Replace(text)
}
