// Package langhint guesses the writing script of a text and, when the script
// alone is decisive, its language
package langhint

import (
	"unicode"

	"golang.org/x/text/language"
)

// minLetters is the least evidence needed before a language is reported
const minLetters = 20

type script struct {
	name  string
	table *unicode.RangeTable
	lang  language.Tag // Und when the script is shared by many languages
}

// scripts is ordered so specific scripts win ties against Latin
var scripts = []script{
	{"Hiragana", unicode.Hiragana, language.Japanese},
	{"Katakana", unicode.Katakana, language.Japanese},
	{"Hangul", unicode.Hangul, language.Korean},
	{"Han", unicode.Han, language.Und},
	{"Arabic", unicode.Arabic, language.Arabic},
	{"Hebrew", unicode.Hebrew, language.Hebrew},
	{"Thai", unicode.Thai, language.Thai},
	{"Greek", unicode.Greek, language.Greek},
	{"Cyrillic", unicode.Cyrillic, language.Und},
	{"Georgian", unicode.Georgian, language.Und},
	{"Armenian", unicode.Armenian, language.Und},
	{"Devanagari", unicode.Devanagari, language.Und},
	{"Latin", unicode.Latin, language.Und},
}

// Detect returns the predominant script ("" when s has no letters) and a
// BCP 47 language code, set only for long enough texts in a low ambiguity script.
// Any kana marks the text Japanese even when Han dominates
func Detect(s string) (scriptName, lang string) {
	counts := make([]int, len(scripts))
	letters := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for i, sc := range scripts {
			if unicode.Is(sc.table, r) {
				counts[i]++
				break
			}
		}
	}

	best := -1
	for i, c := range counts {
		if c > 0 && (best < 0 || c > counts[best]) {
			best = i
		}
	}
	if best < 0 {
		return "", ""
	}
	scriptName = scripts[best].name

	if letters < minLetters {
		return scriptName, ""
	}
	for i, sc := range scripts {
		if counts[i] > 0 && sc.lang != language.Und {
			return scriptName, sc.lang.String()
		}
	}
	return scriptName, ""
}
