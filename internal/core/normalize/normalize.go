// Package normalize prepares free text lifted out of archive events for storage
//
// Clean keeps the text readable: control characters and invalid UTF-8 dropped,
// NFC composed. Key derives a search key: NFKC, case folded, combining marks
// and format characters stripped, fullwidth forms folded and whitespace collapsed.
package normalize

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// pool of fresh key chains; transform.Chain keeps per-call state
var keyPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKD, // decompose so accents become separate marks
			cases.Fold(),
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
			norm.NFC,
		)
	},
}

// Clean sanitizes s and composes it to NFC
func Clean(s string) string {
	if s == "" {
		return ""
	}
	return norm.NFC.String(Sanitize(s))
}

// Key returns the folded search key for s
func Key(s string) string {
	if s == "" {
		return ""
	}
	s = Sanitize(s)

	tr := keyPool.Get().(transform.Transformer)
	ks, _, err := transform.String(tr, s)
	tr.Reset()
	keyPool.Put(tr)
	if err != nil {
		return ""
	}
	return collapseSpaces(ks)
}

// collapseSpaces turns every whitespace run into one ASCII space and trims the ends
func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
