// Package strings splits configuration lists.
package strings

import (
	"strings"
)

// SplitList splits a comma-separated value, trimming each entry and dropping
// empties and repeats. Order is preserved.
//
//	SplitList(" k1:9092, k2:9092,,k1:9092") // []string{"k1:9092", "k2:9092"}
func SplitList(raw string) []string {
	return dedupe(strings.Split(raw, ","), strings.TrimSpace)
}

// SplitListFold is SplitList for case-insensitive values such as domain
// suffixes: entries are lower-cased and lose a leading dot.
//
//	SplitListFold(".NL, org, nl") // []string{"nl", "org"}
func SplitListFold(raw string) []string {
	return dedupe(strings.Split(raw, ","), func(s string) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), ".")
	})
}

func dedupe(values []string, norm func(string) string) []string {
	var out []string
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = norm(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
