package storage

// MatchPattern reports whether str matches the Redis glob-style pattern.
// Matching works on bytes:
//
//	*       any sequence, including the empty one
//	?       any single byte
//	[abc]   one of the listed bytes; [^abc] negates, [a-z] is a range
//	\x      the byte x literally
//
// An unterminated class is closed by the end of the pattern.
func MatchPattern(str, pattern string) bool {
	p, s := 0, 0
	starP, starS := -1, 0

	for s < len(str) {
		if p < len(pattern) {
			switch pattern[p] {
			case '*':
				for p < len(pattern) && pattern[p] == '*' {
					p++
				}
				if p == len(pattern) {
					return true
				}
				starP, starS = p, s
				continue
			case '?':
				p++
				s++
				continue
			case '[':
				if ok, next := matchClass(pattern, p, str[s]); ok {
					p = next
					s++
					continue
				}
			case '\\':
				if p+1 < len(pattern) {
					if pattern[p+1] == str[s] {
						p += 2
						s++
						continue
					}
				} else if str[s] == '\\' {
					p++
					s++
					continue
				}
			default:
				if pattern[p] == str[s] {
					p++
					s++
					continue
				}
			}
		}

		// mismatch: let the last star absorb one more byte
		if starP < 0 {
			return false
		}
		starS++
		s = starS
		p = starP
	}

	for p < len(pattern) && pattern[p] == '*' {
		p++
	}
	return p == len(pattern)
}

// matchClass matches c against the class starting at pattern[p] == '[' and
// returns the position after the class.
func matchClass(pattern string, p int, c byte) (bool, int) {
	p++
	negate := p < len(pattern) && pattern[p] == '^'
	if negate {
		p++
	}

	matched := false
	for p < len(pattern) && pattern[p] != ']' {
		switch {
		case pattern[p] == '\\' && p+1 < len(pattern):
			p++
			if pattern[p] == c {
				matched = true
			}
		case p+2 < len(pattern) && pattern[p+1] == '-':
			lo, hi := pattern[p], pattern[p+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			if c >= lo && c <= hi {
				matched = true
			}
			p += 2
		default:
			if pattern[p] == c {
				matched = true
			}
		}
		p++
	}
	if p < len(pattern) {
		p++
	}
	return matched != negate, p
}
