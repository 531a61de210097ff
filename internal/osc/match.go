package osc

import (
	"path"
	"strings"
)

// Match reports whether address matches pattern. Both are split on '/' and
// must have the same number of segments; each pattern segment is a glob
// where '*' matches any single concrete segment, '?' any character and
// '[...]' a character class. Malformed globs never match.
func Match(pattern, address string) bool {
	if pattern == address {
		return true
	}
	ps := strings.Split(pattern, "/")
	as := strings.Split(address, "/")
	if len(ps) != len(as) {
		return false
	}
	for i, p := range ps {
		if p == as[i] {
			continue
		}
		// Globs only match concrete segments, never the empty one in "/e/".
		if as[i] == "" || !strings.ContainsAny(p, "*?[") {
			return false
		}
		ok, err := path.Match(p, as[i])
		if err != nil || !ok {
			return false
		}
	}
	return true
}
