package bridge

import "slices"

// OriginAllowed applies the allow-list policy. An empty list or a list that
// contains "*" accepts every origin. That permissive default is kept for
// compatibility with existing hosts; production deployments should list
// explicit origins.
func OriginAllowed(allowed []string, origin string) bool {
	return IsPermissive(allowed) || slices.Contains(allowed, origin)
}

// IsPermissive reports whether the allow-list accepts any origin.
func IsPermissive(allowed []string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, WildcardOrigin)
}
