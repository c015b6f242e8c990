package vault

import "strings"

// TrimPath removes leading and trailing slashes so callers can compose
// hierarchical secret paths without redundant separators. Idempotent.
func TrimPath(path string) string {
	return strings.Trim(path, "/")
}

// JoinPath joins path segments with single slashes, trimming each segment.
func JoinPath(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s = TrimPath(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}
