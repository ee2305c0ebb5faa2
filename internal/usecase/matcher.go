package usecase

import "strings"

// DefaultKeywords is the buying-intent vocabulary used when none is configured.
var DefaultKeywords = []string{"need", "looking for", "wtb", "iso", "part out"}

// Matcher detects buying intent with a case-insensitive substring search.
// A single hit is enough; there is no scoring.
type Matcher struct {
	keywords []string
}

// NewMatcher normalises keywords and drops blanks. An empty list falls back to DefaultKeywords.
func NewMatcher(keywords []string) Matcher {
	normalised := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			normalised = append(normalised, kw)
		}
	}
	if len(normalised) == 0 {
		return NewMatcher(DefaultKeywords)
	}
	return Matcher{keywords: normalised}
}

// Match reports whether text contains any keyword.
func (m Matcher) Match(text string) bool {
	_, ok := m.Hit(text)
	return ok
}

// Hit returns the first keyword found in text.
func (m Matcher) Hit(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(lower, kw) {
			return kw, true
		}
	}
	return "", false
}
