package catalog

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
)

// stopWords are ignored when matching a caller question against FAQs.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "do": true, "does": true,
	"you": true, "your": true, "i": true, "we": true, "can": true, "what": true, "when": true,
	"how": true, "to": true, "of": true, "for": true, "on": true, "in": true, "at": true,
	"it": true, "my": true, "me": true, "have": true, "there": true, "any": true,
}

// FAQIndex answers caller questions from the FAQ list.
type FAQIndex struct {
	mu   sync.RWMutex
	faqs []FAQ
}

// NewFAQIndex creates an index over faqs.
func NewFAQIndex(faqs []FAQ) *FAQIndex {
	idx := &FAQIndex{}
	idx.Replace(faqs)
	return idx
}

// Replace installs a new FAQ snapshot. Entries missing a question or an
// answer are skipped.
func (x *FAQIndex) Replace(faqs []FAQ) {
	valid := make([]FAQ, 0, len(faqs))
	for _, f := range faqs {
		if strings.TrimSpace(f.Question) == "" || strings.TrimSpace(f.Answer) == "" {
			continue
		}
		valid = append(valid, f)
	}
	x.mu.Lock()
	x.faqs = valid
	x.mu.Unlock()
}

// All returns a copy of the indexed FAQs.
func (x *FAQIndex) All() []FAQ {
	x.mu.RLock()
	defer x.mu.RUnlock()
	cp := make([]FAQ, len(x.faqs))
	copy(cp, x.faqs)
	return cp
}

// Search returns the FAQ sharing the most significant words with query.
// Ties go to the earlier entry.
func (x *FAQIndex) Search(query string) (FAQ, error) {
	words := keywords(query)
	if len(words) == 0 {
		return FAQ{}, fmt.Errorf("faq %q: %w", query, ErrNotFound)
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	best, bestScore := -1, 0
	for i, f := range x.faqs {
		score := 0
		candidate := keywords(f.Question)
		for w := range words {
			if candidate[w] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return FAQ{}, fmt.Errorf("faq %q: %w", query, ErrNotFound)
	}
	return x.faqs[best], nil
}

func keywords(s string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if stopWords[f] {
			continue
		}
		out[strings.TrimSuffix(f, "s")] = true
	}
	return out
}
