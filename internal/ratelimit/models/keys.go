package models

import "strings"

// SanitizeKeySegment escapes ':' so a user-controlled identifier cannot spill
// into an adjacent key segment.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// Key builds the bucket key for scope and identifier. Addresses are folded to
// lower case so casing cannot dodge a limit.
func Key(scope Scope, identifier string) string {
	if scope != ScopeIP {
		identifier = strings.ToLower(strings.TrimSpace(identifier))
	}
	return "rl:" + string(scope) + ":" + SanitizeKeySegment(identifier)
}
