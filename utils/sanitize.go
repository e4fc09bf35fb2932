package utils

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// posts are plain text; every tag is dropped
var sanitizer = bluemonday.StrictPolicy()

// Sanitize strips HTML from user content to prevent XSS. The policy escapes
// the remaining text; it is unescaped again so plain text is stored as typed
// and substring search matches it.
func Sanitize(input string) string {
	return html.UnescapeString(sanitizer.Sanitize(input))
}
