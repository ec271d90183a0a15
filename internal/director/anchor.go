package director

import (
	"strings"
	"unicode"

	"github.com/ivlev/timeline2video/internal/timeline"
)

// normalizeToken lowercases s and strips everything that is not a letter or digit
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func tokenize(phrase string) []string {
	var tokens []string
	for _, f := range strings.Fields(phrase) {
		if t := normalizeToken(f); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// findAnchor locates phrase inside words and returns the start of the first
// matched word. The full phrase is searched as a contiguous token run; when
// that fails the first phrase token longer than 3 characters is searched
// alone.
func findAnchor(phrase string, words []timeline.Word) (float64, bool) {
	needle := tokenize(phrase)
	if len(needle) == 0 || len(words) == 0 {
		return 0, false
	}

	// Words that normalize to nothing (pure punctuation) are skipped but the
	// index into words is kept so the match maps back to real timing.
	type token struct {
		text string
		word int
	}
	var hay []token
	for i, w := range words {
		if t := normalizeToken(w.Text); t != "" {
			hay = append(hay, token{text: t, word: i})
		}
	}

	for i := 0; i+len(needle) <= len(hay); i++ {
		match := true
		for j, n := range needle {
			if hay[i+j].text != n {
				match = false
				break
			}
		}
		if match {
			return words[hay[i].word].Start, true
		}
	}

	for _, n := range needle {
		if len([]rune(n)) <= 3 {
			continue
		}
		for _, h := range hay {
			if h.text == n {
				return words[h.word].Start, true
			}
		}
		break
	}

	return 0, false
}
