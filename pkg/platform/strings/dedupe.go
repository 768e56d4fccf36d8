// Package strings cleans up string lists returned by the authority.
package strings

import "strings"

// Normalizer maps a raw element to its canonical form. An empty result drops
// the element.
type Normalizer func(string) string

// Trim is the default normalizer.
func Trim(s string) string {
	return strings.TrimSpace(s)
}

// TrimLower folds case as well, for handles compared case-insensitively.
func TrimLower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Dedupe normalizes every element and keeps the first occurrence of each
// canonical value. The result is never nil so it encodes as [] in JSON.
//
//	Dedupe([]string{" asha.k ", "ASHA.K", "", "asha_1"}, TrimLower)
//	// []string{"asha.k", "asha_1"}
func Dedupe(values []string, normalize Normalizer) []string {
	if normalize == nil {
		normalize = Trim
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, raw := range values {
		v := normalize(raw)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
