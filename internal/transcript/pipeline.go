// Package transcript turns raw speech-to-text output into the line that is
// appended to a session's chat log.
//
// Processing has two stages:
//
//  1. [Clean] strips transcription artifacts such as blank-audio markers and
//     empty quoted fragments.
//  2. Phonetic correction aligns misheard proper nouns with the session's
//     participant names and the configured glossary. It runs in-process with
//     no network calls.
//
// Each [Correction] records the substitution and its confidence so callers
// can log or audit what changed.
package transcript

import (
	"slices"
	"sync"

	"github.com/MrWong99/scribe/internal/transcript/phonetic"
)

// Correction captures a single substitution made by the pipeline.
type Correction struct {
	// Original is the phrase as produced by the STT provider.
	Original string

	// Corrected is the vocabulary term that replaced it.
	Corrected string

	// Confidence is the match score in [0.0, 1.0].
	Confidence float64
}

// Result is the output of [Pipeline.Process].
type Result struct {
	// Text is the cleaned and corrected text. Empty means the utterance held
	// no usable speech.
	Text string

	// Corrections lists the substitutions applied, in text order.
	Corrections []Correction
}

// PipelineOption is a functional option for configuring a [Pipeline].
type PipelineOption func(*Pipeline)

// WithMatcher enables the phonetic stage. Without a matcher only [Clean]
// runs.
func WithMatcher(m *phonetic.Matcher) PipelineOption {
	return func(p *Pipeline) {
		p.matcher = m
	}
}

// WithGlossary sets the initial glossary terms matched in addition to the
// per-call names.
func WithGlossary(terms []string) PipelineOption {
	return func(p *Pipeline) {
		p.glossary = slices.Clone(terms)
	}
}

// WithMinWordLength sets the shortest word (in runes) the phonetic stage will
// try to replace. Default: 3.
func WithMinWordLength(n int) PipelineOption {
	return func(p *Pipeline) {
		p.minWordLen = n
	}
}

// WithPhraseThreshold sets the minimum confidence for a match spanning more
// than one word. Default: 0.80.
func WithPhraseThreshold(threshold float64) PipelineOption {
	return func(p *Pipeline) {
		p.phraseThreshold = threshold
	}
}

// Pipeline is safe for concurrent use. The glossary may be swapped at runtime
// with [Pipeline.SetGlossary].
type Pipeline struct {
	matcher         *phonetic.Matcher
	minWordLen      int
	phraseThreshold float64

	mu       sync.RWMutex
	glossary []string
}

// NewPipeline constructs a Pipeline with the supplied options.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{minWordLen: 3, phraseThreshold: 0.80}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SetGlossary replaces the glossary used by subsequent Process calls.
func (p *Pipeline) SetGlossary(terms []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.glossary = slices.Clone(terms)
}

// Glossary returns a copy of the current glossary.
func (p *Pipeline) Glossary() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.glossary)
}

// Process cleans text and corrects it against names plus the glossary.
func (p *Pipeline) Process(text string, names []string) Result {
	cleaned := Clean(text)
	if cleaned == "" || p.matcher == nil {
		return Result{Text: cleaned}
	}

	p.mu.RLock()
	terms := make([]string, 0, len(names)+len(p.glossary))
	terms = append(terms, names...)
	terms = append(terms, p.glossary...)
	p.mu.RUnlock()

	vocab := phonetic.NewVocabulary(terms)
	if vocab.Len() == 0 {
		return Result{Text: cleaned}
	}
	corrected, corrections := p.correct(cleaned, vocab)
	return Result{Text: corrected, Corrections: corrections}
}
