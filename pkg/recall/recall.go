// Package recall decides when an incoming message warrants a memory search
// and filters the results against what the conversation already contains.
//
// Like the gate, this runs on the message hot path and is pure string work.
// The rules are ordered; the first one that fires decides.
package recall

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Reason explains why recall did or did not trigger.
type Reason string

const (
	ReasonColdStart    Reason = "cold_start"
	ReasonPersonalRef  Reason = "personal_reference"
	ReasonNovelEntity  Reason = "novel_entity"
	ReasonRecallPhrase Reason = "recall_phrase"
	ReasonTooShort     Reason = "too_short"
	ReasonNoSignal     Reason = "no_signal"
)

// coldStartMessages is how many messages into a session count as cold start.
const coldStartMessages = 2

// minMessageLen is the length below which a message with no other signal is
// skipped.
const minMessageLen = 30

var (
	personalRefPattern = regexp.MustCompile(`(?i)\b(my|our) (wife|husband|partner|mom|mother|dad|father|son|daughter|kid|boss|doctor|dentist|therapist|birthday|job|team|manager|sister|brother|friend|cat|dog|house|car|project|meeting|appointment|trip|flight)\b`)

	recallPhrasePattern = regexp.MustCompile(`(?i)\b(remember (when|that|what|my|the)|last time|you (said|told|mentioned)|we (talked|discussed|spoke) about|didn'?t i (say|tell|mention)|what did i|as i (said|mentioned)|where was i)\b`)
)

// Decision is the outcome of a recall check.
type Decision struct {
	Search bool
	Reason Reason
}

// Decide applies the ordered recall rules to an incoming message.
// sessionMessages is how many messages the session has seen so far.
func Decide(message string, sessionMessages int, recentContext []string) Decision {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return Decision{Search: false, Reason: ReasonNoSignal}
	}

	if sessionMessages < coldStartMessages {
		return Decision{Search: true, Reason: ReasonColdStart}
	}
	if personalRefPattern.MatchString(trimmed) {
		return Decision{Search: true, Reason: ReasonPersonalRef}
	}
	if hasNovelEntity(trimmed, recentContext) {
		return Decision{Search: true, Reason: ReasonNovelEntity}
	}
	if recallPhrasePattern.MatchString(trimmed) {
		return Decision{Search: true, Reason: ReasonRecallPhrase}
	}
	if len(trimmed) < minMessageLen {
		return Decision{Search: false, Reason: ReasonTooShort}
	}

	return Decision{Search: false, Reason: ReasonNoSignal}
}

// dedupeThreshold is the trigram overlap above which a memory is considered
// already present in the conversation.
const dedupeThreshold = 0.55

// Dedup drops entries whose content substantially overlaps the recent
// conversation, so recall doesn't repeat what was just said.
func Dedup(entries []*memory.Entry, recentContext []string) []*memory.Entry {
	if len(entries) == 0 || len(recentContext) == 0 {
		return entries
	}

	contextGrams := trigrams(strings.Join(recentContext, " "))
	if len(contextGrams) == 0 {
		return entries
	}

	out := entries[:0]
	for _, e := range entries {
		if overlap(trigrams(e.Content), contextGrams) < dedupeThreshold {
			out = append(out, e)
		}
	}
	return out
}

// hasNovelEntity reports whether the message mentions a capitalized word,
// not sentence-initial, that the recent context has not seen.
func hasNovelEntity(message string, recentContext []string) bool {
	seen := strings.ToLower(strings.Join(recentContext, " "))

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
		if i == 0 || strings.HasSuffix(words[i-1], ".") ||
			strings.HasSuffix(words[i-1], "!") || strings.HasSuffix(words[i-1], "?") {
			continue
		}
		if !strings.Contains(seen, strings.ToLower(cleaned)) {
			return true
		}
	}
	return false
}

// trigrams returns the set of letter trigrams of the lowercased input.
func trigrams(s string) map[string]struct{} {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)

	grams := map[string]struct{}{}
	for _, word := range strings.Fields(normalized) {
		runes := []rune(word)
		if len(runes) < 3 {
			grams[word] = struct{}{}
			continue
		}
		for i := 0; i+3 <= len(runes); i++ {
			grams[string(runes[i:i+3])] = struct{}{}
		}
	}
	return grams
}

// overlap returns the fraction of a's trigrams present in b.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	hits := 0
	for g := range a {
		if _, ok := b[g]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(a))
}
