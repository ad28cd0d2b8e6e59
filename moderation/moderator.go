// Package moderation masks blacklisted words in chat text before it is
// broadcast. Matching is case-insensitive, ignores punctuation and
// spacing noise, and folds common leet-speak substitutions.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

type Moderator struct {
	matcher  *goahocorasick.Machine
	maskChar rune
}

// leetFold maps common substitution characters back to their alphabet
// counterparts before matching.
var leetFold = map[rune]rune{
	'4': 'a', '@': 'a',
	'3': 'e', '€': 'e',
	'1': 'i', '!': 'i', '|': 'i',
	'0': 'o',
	'5': 's', '$': 's',
}

// NewModerator builds the Aho-Corasick automaton over the folded form of
// every blacklisted word.
func NewModerator(words []string, maskChar rune) (*Moderator, error) {
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		folded, _ := fold([]rune(w))
		if len(folded) > 0 {
			patterns = append(patterns, folded)
		}
	}

	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, err
	}
	return &Moderator{matcher: m, maskChar: maskChar}, nil
}

// Censor replaces every matched span of the original text with the mask
// character, preserving the text's length and spacing.
func (m *Moderator) Censor(original string) string {
	runes := []rune(original)
	folded, origIdx := fold(runes)
	if len(folded) == 0 {
		return original
	}

	spans := m.matcher.MultiPatternSearch(folded, false)
	if len(spans) == 0 {
		return original
	}

	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(origIdx) {
			continue
		}
		// Mask the original span including any noise characters inside it.
		for i := origIdx[start]; i <= origIdx[end-1]; i++ {
			runes[i] = m.maskChar
		}
	}

	return string(runes)
}

// fold lowercases and de-leets the input, drops punctuation/space/symbol
// noise, and records each kept rune's position in the original slice.
func fold(input []rune) ([]rune, []int) {
	out := make([]rune, 0, len(input))
	idx := make([]int, 0, len(input))

	for i, r := range input {
		if mapped, ok := leetFold[r]; ok {
			r = mapped
		} else if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
		idx = append(idx, i)
	}
	return out, idx
}
