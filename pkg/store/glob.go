package store

import "strings"

// Match reports whether key matches a Redis-style glob pattern.
//
//	*      any sequence, including ':' and '/'
//	?      any single byte
//	[abc]  one byte from the set; [^abc] negates; [a-z] ranges
//	\x     literal x
func Match(pattern, key string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case '*':
			for len(pattern) > 1 && pattern[1] == '*' {
				pattern = pattern[1:]
			}
			if len(pattern) == 1 {
				return true
			}
			for i := 0; i <= len(key); i++ {
				if Match(pattern[1:], key[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(key) == 0 {
				return false
			}
			pattern, key = pattern[1:], key[1:]
		case '[':
			if len(key) == 0 {
				return false
			}
			end, matched, ok := matchClass(pattern, key[0])
			if !ok {
				// unterminated class, treat '[' literally
				if key[0] != '[' {
					return false
				}
				pattern, key = pattern[1:], key[1:]
				continue
			}
			if !matched {
				return false
			}
			pattern, key = pattern[end:], key[1:]
		case '\\':
			if len(pattern) >= 2 {
				pattern = pattern[1:]
			}
			fallthrough
		default:
			if len(key) == 0 || pattern[0] != key[0] {
				return false
			}
			pattern, key = pattern[1:], key[1:]
		}
	}
	return len(key) == 0
}

// matchClass matches c against the class starting at pattern[0] == '['.
// It returns the index just past the closing ']'.
func matchClass(pattern string, c byte) (end int, matched bool, ok bool) {
	i := 1
	negate := false
	if i < len(pattern) && pattern[i] == '^' {
		negate = true
		i++
	}
	for i < len(pattern) && pattern[i] != ']' {
		lo := pattern[i]
		if lo == '\\' && i+1 < len(pattern) {
			i++
			lo = pattern[i]
		}
		hi := lo
		if i+2 < len(pattern) && pattern[i+1] == '-' && pattern[i+2] != ']' {
			hi = pattern[i+2]
			i += 2
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if c >= lo && c <= hi {
			matched = true
		}
		i++
	}
	if i >= len(pattern) {
		return 0, false, false
	}
	if negate {
		matched = !matched
	}
	return i + 1, matched, true
}

// LiteralPrefix returns the part of pattern before the first glob metacharacter.
func LiteralPrefix(pattern string) string {
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		return pattern[:i]
	}
	return pattern
}
