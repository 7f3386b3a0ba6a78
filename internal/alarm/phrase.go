package alarm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize lowercases, strips accents and punctuation and collapses whitespace
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	res, _, err := transform.String(t, s)
	if err != nil {
		res = s
	}
	res = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return ' '
		}
		return unicode.ToLower(r)
	}, res)
	return strings.Join(strings.Fields(res), " ")
}

// typedMatches reports whether typed text is the unlock phrase
func typedMatches(text, phrase string) bool {
	p := normalize(phrase)
	return p != "" && normalize(text) == p
}

// spokenMatches reports whether a transcript contains the unlock phrase as whole words
func spokenMatches(transcript, phrase string) bool {
	p := normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+normalize(transcript)+" ", " "+p+" ")
}
