package langdetect

import (
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
)

// minRunes is the shortest transcript worth classifying.
const minRunes = 20

// Detect guesses the language of a transcript and returns its base ISO 639-1
// code. Each non-empty line votes; ok is false when nothing was reliable.
func Detect(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minRunes {
		return "", false
	}

	votes := make(map[string]int)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if utf8.RuneCountInString(line) < minRunes {
			continue
		}
		info := whatlanggo.Detect(line)
		if !info.IsReliable() {
			continue
		}
		if code := info.Lang.Iso6391(); code != "" {
			votes[code] += utf8.RuneCountInString(line)
		}
	}

	// Short lines only: fall back to the whole text.
	if len(votes) == 0 {
		info := whatlanggo.Detect(text)
		if !info.IsReliable() {
			return "", false
		}
		votes[info.Lang.Iso6391()]++
	}

	var top string
	var topCount int
	for code, count := range votes {
		if count > topCount || (count == topCount && code < top) {
			top, topCount = code, count
		}
	}
	return canonical(top)
}

func canonical(code string) (string, bool) {
	if code == "" {
		return "", false
	}
	tag, err := language.Parse(code)
	if err != nil {
		return "", false
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", false
	}
	return base.String(), true
}
