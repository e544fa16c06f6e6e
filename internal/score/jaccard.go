package score

import (
	"strings"
)

// Jaccard measures lexical overlap as the fraction of profile keywords found
// in the text. Keywords may be multi-word phrases up to three words; the text
// is tokenized into unigrams, bigrams, and trigrams before matching. The
// score is |matched| / |keywords|, so a text containing every keyword scores
// 1.0 regardless of how much other text surrounds them.
func Jaccard(text string, keywords []string) (float64, []string) {
	if len(keywords) == 0 {
		return 0, nil
	}
	terms := textTerms(text)
	if len(terms) == 0 {
		return 0, nil
	}

	var matched []string
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		if _, ok := terms[kw]; ok {
			matched = append(matched, kw)
		}
	}
	if len(seen) == 0 {
		return 0, nil
	}
	return float64(len(matched)) / float64(len(seen)), matched
}

// textTerms lowercases the text, strips punctuation, and returns the set of
// words plus adjacent two- and three-word phrases.
func textTerms(text string) map[string]struct{} {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	words := strings.Fields(b.String())
	if len(words) == 0 {
		return nil
	}

	terms := make(map[string]struct{}, len(words)*3)
	for i, w := range words {
		terms[w] = struct{}{}
		if i+1 < len(words) {
			terms[w+" "+words[i+1]] = struct{}{}
		}
		if i+2 < len(words) {
			terms[w+" "+words[i+1]+" "+words[i+2]] = struct{}{}
		}
	}
	return terms
}
