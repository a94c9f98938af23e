package transcript

import (
	"cmp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/scribe/internal/transcript/phonetic"
)

// token is one whitespace-separated word split into surrounding punctuation
// and its core.
type token struct {
	lead, core, trail string
}

func splitToken(s string) token {
	isWord := func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' }
	start := strings.IndexFunc(s, isWord)
	if start < 0 {
		return token{lead: s}
	}
	end := strings.LastIndexFunc(s, isWord)
	_, size := utf8.DecodeRuneInString(s[end:])
	t := token{lead: s[:start], core: s[start : end+size], trail: s[end+size:]}
	// Possessives are matched on the bare name.
	if n := len(t.core); n > 2 && strings.EqualFold(t.core[n-2:], "'s") {
		t.core, t.trail = t.core[:n-2], t.core[n-2:]+t.trail
	}
	return t
}

type candidate struct {
	start, n int
	term     string
	conf     float64
}

// correct finds every window of up to one word more than the longest term
// that matches the vocabulary, then keeps the most confident non-overlapping
// matches. A name split in two by the recognizer ("elder nacks") can thus be
// rejoined without a looser window swallowing its neighbours.
func (p *Pipeline) correct(text string, vocab *phonetic.Vocabulary) (string, []Correction) {
	fields := strings.Fields(text)
	tokens := make([]token, len(fields))
	for i, f := range fields {
		tokens[i] = splitToken(f)
	}

	var cands []candidate
	for i := range tokens {
		for n := 1; n <= vocab.MaxWords()+1 && i+n <= len(tokens); n++ {
			words, ok := window(tokens[i : i+n])
			if !ok {
				break
			}
			if n == 1 && utf8.RuneCountInString(words[0]) < p.minWordLen {
				continue
			}
			term, conf, matched := p.matcher.Match(strings.Join(words, " "), vocab)
			if !matched || (n > 1 && conf < p.phraseThreshold) {
				continue
			}
			cands = append(cands, candidate{start: i, n: n, term: term, conf: conf})
		}
	}

	slices.SortStableFunc(cands, func(a, b candidate) int {
		if c := cmp.Compare(b.conf, a.conf); c != 0 {
			return c
		}
		if c := cmp.Compare(a.n, b.n); c != 0 {
			return c
		}
		return cmp.Compare(a.start, b.start)
	})

	taken := make([]bool, len(tokens))
	chosen := make(map[int]candidate)
	for _, c := range cands {
		if slices.Contains(taken[c.start:c.start+c.n], true) {
			continue
		}
		for j := c.start; j < c.start+c.n; j++ {
			taken[j] = true
		}
		chosen[c.start] = c
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		c, ok := chosen[i]
		if !ok {
			out = append(out, fields[i])
			i++
			continue
		}
		words, _ := window(tokens[i : i+c.n])
		if original := strings.Join(words, " "); original != c.term {
			corrections = append(corrections, Correction{Original: original, Corrected: c.term, Confidence: c.conf})
		}
		out = append(out, tokens[i].lead+c.term+tokens[i+c.n-1].trail)
		i += c.n
	}
	return strings.Join(out, " "), corrections
}

// window returns the cores of tokens, or false when punctuation inside the
// span ("cave. Eldrinax") breaks it.
func window(tokens []token) ([]string, bool) {
	words := make([]string, len(tokens))
	for j, t := range tokens {
		if t.core == "" || (j > 0 && t.lead != "") || (j < len(tokens)-1 && t.trail != "") {
			return nil, false
		}
		words[j] = t.core
	}
	return words, true
}
