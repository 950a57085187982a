package auth

import "strings"

const (
	ScopeWildcard  = "*"
	ScopeDelimiter = "."

	// ScopeEventsPublish allows a credential to enqueue events for its own subscriptions.
	ScopeEventsPublish = "events.publish"
)

// ParseScopes splits a scope list separated by spaces or commas.
func ParseScopes(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == ',' })
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// ScopeMatches reports whether pattern grants scope. "*" grants everything and
// "analysis.*" grants every scope under "analysis.".
func ScopeMatches(scope, pattern string) bool {
	if scope == pattern || pattern == ScopeWildcard {
		return true
	}
	if strings.HasSuffix(pattern, ScopeWildcard) {
		prefix := strings.TrimSuffix(strings.TrimSuffix(pattern, ScopeWildcard), ScopeDelimiter)
		return strings.HasPrefix(scope, prefix+ScopeDelimiter)
	}
	return false
}

// HasScope reports whether any of granted matches scope. An empty scope is always granted.
func HasScope(granted []string, scope string) bool {
	if scope == "" {
		return true
	}
	for _, g := range granted {
		if ScopeMatches(scope, g) {
			return true
		}
	}
	return false
}
