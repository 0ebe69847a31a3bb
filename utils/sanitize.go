package utils

import "github.com/microcosm-cc/bluemonday"

// sanitizer strips markup down to the UGC subset. Applied to every submitted
// title and body and to generated reply text before it is persisted.
var sanitizer = bluemonday.UGCPolicy()

// Sanitize cleans HTML so stored content is safe to render.
func Sanitize(input string) string {
	return sanitizer.Sanitize(input)
}
