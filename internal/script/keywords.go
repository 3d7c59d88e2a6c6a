package script

import (
	"sort"
	"strings"
)

// Keyword-scored passage selection for comprehensive-mode section prompts:
// bag-of-content-words overlap per paragraph, with a sliding-window
// fallback anchored at the section index when nothing scores.

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "with": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "by": true, "as": true,
	"at": true, "it": true, "its": true, "this": true, "that": true,
	"these": true, "those": true, "from": true, "but": true, "not": true,
	"can": true, "will": true, "into": true, "their": true, "they": true,
	"we": true, "you": true, "your": true, "our": true, "has": true,
	"have": true, "had": true, "which": true, "what": true, "how": true,
}

func contentWords(s string) map[string]int {
	out := map[string]int{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?()[]{}\"'")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		out[w]++
	}
	return out
}

// SelectPassages picks up to maxChars of source passages relevant to the
// query (section title + key points), scored by content-word overlap.
func SelectPassages(source, query string, sectionIndex, totalSections, maxChars int) string {
	if strings.TrimSpace(source) == "" {
		return ""
	}
	if maxChars <= 0 {
		maxChars = 6000
	}

	paragraphs := splitParagraphs(source)
	queryWords := contentWords(query)

	type scored struct {
		index int
		score int
	}
	var ranked []scored
	for i, para := range paragraphs {
		words := contentWords(para)
		score := 0
		for w, qn := range queryWords {
			if pn, ok := words[w]; ok {
				score += min(qn, pn)
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{index: i, score: score})
		}
	}

	if len(ranked) == 0 {
		return slidingWindow(source, sectionIndex, totalSections, maxChars)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].index < ranked[j].index
	})

	// Take top-scoring paragraphs, then restore document order.
	var chosen []int
	used := 0
	for _, r := range ranked {
		l := len(paragraphs[r.index])
		if used+l > maxChars && used > 0 {
			continue
		}
		chosen = append(chosen, r.index)
		used += l
		if used >= maxChars {
			break
		}
	}
	sort.Ints(chosen)
	parts := make([]string, 0, len(chosen))
	for _, i := range chosen {
		parts = append(parts, paragraphs[i])
	}
	return strings.Join(parts, "\n\n")
}

// slidingWindow returns an overlapping window of the source anchored at the
// section's proportional position.
func slidingWindow(source string, sectionIndex, totalSections, maxChars int) string {
	if totalSections <= 0 {
		totalSections = 1
	}
	if sectionIndex < 0 {
		sectionIndex = 0
	}
	window := maxChars
	overlap := window / 4
	start := 0
	if totalSections > 1 {
		span := len(source) - window
		if span > 0 {
			start = sectionIndex * span / (totalSections - 1)
			start -= overlap
			if start < 0 {
				start = 0
			}
		}
	}
	end := start + window
	if end > len(source) {
		end = len(source)
	}
	return source[start:end]
}

func splitParagraphs(source string) []string {
	var out []string
	for _, p := range strings.Split(source, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
