package store

import "strings"

// PrefixPattern returns a Redis SCAN MATCH pattern selecting every key that
// starts with prefix. Glob metacharacters in prefix match literally.
func PrefixPattern(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + 2)
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}
