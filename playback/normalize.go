package playback

import (
	"regexp"
	"strings"
	"unicode"
)

// Tutor replies are written for the screen: they may carry a bracketed
// translation, markdown emphasis or the odd emoji. None of that belongs in
// the synthesized voice, so playback reduces a reply to its speakable core
// first.

var (
	// Parenthesized asides, both ASCII and fullwidth. The inline fallback
	// translation uses the fullwidth form.
	asidePattern = regexp.MustCompile(`（[^）]*）|\([^)]*\)|【[^】]*】|\[[^\]]*\]`)
	// Markdown emphasis, code spans and list/heading markers.
	markupPattern  = regexp.MustCompile("[*_`~#]+")
	listPattern    = regexp.MustCompile(`(?m)^\s*(?:[-+•]|\d+[.)])\s+`)
	spacesPattern  = regexp.MustCompile(`[ \t]+`)
	blankRunsRegex = regexp.MustCompile(`\n{2,}`)
)

// SpeakableText strips display-only decoration from a reply before it is
// handed to a synthesizer. Returns the empty string when nothing speakable
// remains.
func SpeakableText(text string) string {
	text = asidePattern.ReplaceAllString(text, "")
	text = listPattern.ReplaceAllString(text, "")
	text = markupPattern.ReplaceAllString(text, "")
	text = stripSymbols(text)
	text = spacesPattern.ReplaceAllString(text, " ")
	text = blankRunsRegex.ReplaceAllString(text, "\n")
	return strings.TrimSpace(text)
}

// stripSymbols drops emoji and other pictographs while keeping letters,
// numbers, punctuation and whitespace of any script.
func stripSymbols(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsNumber(r), unicode.IsSpace(r):
			return r
		case unicode.IsPunct(r):
			return r
		case unicode.Is(unicode.Sk, r) || unicode.Is(unicode.Sc, r):
			return r
		default:
			// So, Sm and unassigned symbol planes (emoji live here).
			return -1
		}
	}, text)
}
