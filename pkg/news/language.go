package news

import (
	"strings"

	"github.com/pemistahl/lingua-go"
)

// LanguageDetector guesses the ISO 639-1 code of a text.
type LanguageDetector interface {
	Detect(text string) string
}

type linguaDetector struct {
	detector lingua.LanguageDetector
}

// NewLanguageDetector builds a detector over the languages financial feeds
// commonly publish in.
func NewLanguageDetector() LanguageDetector {
	d := lingua.NewLanguageDetectorBuilder().
		FromLanguages(
			lingua.English, lingua.German, lingua.French, lingua.Spanish,
			lingua.Italian, lingua.Portuguese, lingua.Dutch, lingua.Chinese,
			lingua.Japanese, lingua.Russian,
		).
		WithMinimumRelativeDistance(0.1).
		Build()
	return &linguaDetector{detector: d}
}

// Detect returns a lowercase ISO 639-1 code, or "" when unsure.
func (l *linguaDetector) Detect(text string) string {
	lang, ok := l.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}
