// Package gate implements the heuristic pre-filter that decides whether a
// conversation turn is worth handing to the extraction pipeline.
//
// The gate runs inline on the message hot path, so it is pure string work:
// no I/O, no allocation-heavy parsing, and it never fails — anything it
// cannot score degrades to "don't extract".
package gate

import (
	"regexp"
	"strings"
	"unicode"
)

// DefaultThreshold is the score above which a turn passes the gate.
const DefaultThreshold = 0.3

// acknowledgements are messages that never carry extractable facts.
var acknowledgements = map[string]struct{}{
	"ok":        {},
	"okay":      {},
	"k":         {},
	"kk":        {},
	"yes":       {},
	"no":        {},
	"yeah":      {},
	"yep":       {},
	"nope":      {},
	"sure":      {},
	"thanks":    {},
	"thank you": {},
	"thx":       {},
	"ty":        {},
	"got it":    {},
	"cool":      {},
	"nice":      {},
	"great":     {},
	"lol":       {},
	"haha":      {},
	"hmm":       {},
	"done":      {},
}

var (
	commitmentPattern = regexp.MustCompile(`(?i)\b(i('ll| will| need to| have to| must| promised?| gotta)|remind me|don'?t let me forget|by (monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|next week|end of (day|week|month))|deadline|due (date|on|by))\b`)

	personalPattern = regexp.MustCompile(`(?i)\b(my (name|wife|husband|partner|mom|mother|dad|father|son|daughter|kid|boss|doctor|dentist|therapist|birthday|job|team|manager|sister|brother|friend|cat|dog)|i (work|live|grew up|was born|moved|prefer|like|love|hate|dislike|usually|always|never)|i'?m (allergic|from|working on|married|a |an )|call me)\b`)

	preferencePattern = regexp.MustCompile(`(?i)\b(prefer|favorite|favourite|rather|instead of|works (best|better) for me|don'?t (like|want|eat|drink))\b`)

	datePattern = regexp.MustCompile(`(?i)\b(\d{1,2}[:/]\d{2}|\d{1,2}(st|nd|rd|th)|january|february|march|april|june|july|august|september|october|november|december|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)
)

// Config holds gate tuning.
type Config struct {
	// Threshold is the minimum score that passes. Defaults to DefaultThreshold.
	Threshold float64
}

// Gate scores conversation turns for extraction worthiness.
type Gate struct {
	threshold float64
}

// New creates a Gate with the given configuration.
func New(cfg Config) *Gate {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Gate{threshold: threshold}
}

// Check scores a user message against recent context and reports whether it
// should be extracted. The score is always in [0,1]; empty or acknowledgement
// messages score 0.
func (g *Gate) Check(message string, recentContext []string) (bool, float64) {
	score := g.Score(message, recentContext)
	return score >= g.threshold, score
}

// Score computes the extraction-worthiness score without applying the
// threshold.
func (g *Gate) Score(message string, recentContext []string) float64 {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return 0
	}

	normalized := strings.ToLower(strings.TrimRight(trimmed, ".!?, "))
	if _, ok := acknowledgements[normalized]; ok {
		return 0
	}

	// Very short messages are almost always conversational filler.
	if len(trimmed) < 10 {
		return 0
	}

	var score float64

	if commitmentPattern.MatchString(trimmed) {
		score += 0.4
	}
	if personalPattern.MatchString(trimmed) {
		score += 0.35
	}
	if preferencePattern.MatchString(trimmed) {
		score += 0.3
	}
	if datePattern.MatchString(trimmed) {
		score += 0.15
	}

	// Capitalized entities not already visible in the conversation suggest
	// new people, places, or projects worth remembering. One new entity is
	// enough to clear the default threshold on its own.
	novel := countNovelEntities(trimmed, recentContext)
	if novel > 0 {
		score += 0.3
		if novel > 1 {
			score += 0.15
		}
	}

	// Longer messages carry more extractable substance.
	if len(trimmed) > 120 {
		score += 0.1
	}

	return clamp01(score)
}

// Threshold returns the configured pass threshold.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// countNovelEntities counts capitalized words that look like proper nouns and
// do not appear in the recent context.
func countNovelEntities(message string, recentContext []string) int {
	seen := strings.ToLower(strings.Join(recentContext, " "))

	count := 0
	words := strings.Fields(message)
	for i, word := range words {
		cleaned := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if len(cleaned) < 2 {
			continue
		}

		runes := []rune(cleaned)
		if !unicode.IsUpper(runes[0]) {
			continue
		}

		// Sentence-initial capitalization is not an entity signal.
		if i == 0 || endsSentence(words[i-1]) {
			continue
		}

		// Rest of the word should not be all-caps shouting.
		if strings.ToUpper(cleaned) == cleaned && len(runes) > 3 {
			continue
		}

		if !strings.Contains(seen, strings.ToLower(cleaned)) {
			count++
		}
	}

	return count
}

func endsSentence(word string) bool {
	return strings.HasSuffix(word, ".") ||
		strings.HasSuffix(word, "!") ||
		strings.HasSuffix(word, "?")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
