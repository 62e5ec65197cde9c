package normalize

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// unwanted matches runes that must never reach a column:
// C0 controls except \n \r \t, DEL, C1 controls and ill-formed input
var unwanted = runes.Predicate(func(r rune) bool {
	switch r {
	case '\n', '\r', '\t':
		return false
	case utf8.RuneError:
		return true
	}
	return unicode.IsControl(r)
})

// Sanitize removes NUL and other control characters and drops invalid UTF-8
// Strings that need no cleaning are returned unchanged
func Sanitize(s string) string {
	if s == "" || !needsSanitize(s) {
		return s
	}
	out, _, err := transform.String(runes.Remove(unwanted), s)
	if err != nil {
		return ""
	}
	return out
}

func needsSanitize(s string) bool {
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			if c < 0x20 && c != '\n' && c != '\r' && c != '\t' || c == 0x7F {
				return true
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if unwanted.Contains(r) {
			return true
		}
		i += size
	}
	return false
}
