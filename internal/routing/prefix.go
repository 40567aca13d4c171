package routing

// DerivePrefix extracts the literal leading digits from a dialed-number
// pattern. A single leading "^" anchor is skipped, then the longest run of
// ASCII digits is taken up to the first non-digit character. Anything that
// is not a plain digit, including "+", "\d", character classes, and groups,
// ends the prefix. A pattern starting with a group or an escape therefore
// derives an empty prefix, which pre-filters nothing but stays correct
// because full pattern evaluation always runs on the candidates.
//
// The derivation runs once, at write time, and the result is stored next to
// the pattern.
func DerivePrefix(regex string) string {
	s := regex
	if len(s) > 0 && s[0] == '^' {
		s = s[1:]
	}
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}
