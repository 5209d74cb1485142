package obs

import "strings"

// Collections whose following path segment is a caller-chosen name.
var namedSegments = map[string]bool{
	"users":    true,
	"groups":   true,
	"roles":    true,
	"services": true,
	"tokens":   true,
	"servers":  true,
	"shares":   true,
	"user":     true,
}

// normalizePath replaces entity names with placeholders to bound label
// cardinality on the path dimension.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		if namedSegments[parts[i-1]] {
			parts[i] = ":name"
		}
	}
	return strings.Join(parts, "/")
}
