package urlutil

import "strings"

// Normalize guarantees an explicit scheme on an operator-entered website
// line. Strings already carrying http:// or https:// pass through
// unchanged; everything else gets https:// prepended. No host validation,
// no punycode handling.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return "https://" + trimmed
}

// NormalizeAll normalizes every line, dropping empties, and dedupes by
// exact case-sensitive string match on the normalized form.
func NormalizeAll(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		if strings.TrimSpace(line) == "" {
			continue
		}
		u := Normalize(line)
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
