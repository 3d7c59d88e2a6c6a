package anim

import (
	"errors"
	"regexp"
	"strings"
)

// Edit is one search/replace pair proposed by the refiner.
type Edit struct {
	SearchText      string `json:"search_text"`
	ReplacementText string `json:"replacement_text"`
}

const (
	EditApplied   = "applied"
	EditEmpty     = "empty_search"
	EditNotFound  = "not_found"
	EditAmbiguous = "ambiguous"
)

// EditOutcome records what happened to one edit; outcomes feed the next
// refiner turn's history.
type EditOutcome struct {
	Index   int
	Status  string
	Matched string // "exact" or "whitespace" when applied
}

// ApplyEdits applies edits sequentially against a working copy of the
// buffer. An edit is rejected when its search text is empty, absent, or
// matches more than once; rejected edits are skipped and recorded. If no
// edit applies the original buffer is returned unchanged and ok is false:
// the buffer either equals the input or the input with every applied edit,
// never a partial half-turn.
func ApplyEdits(buffer string, edits []Edit) (result string, outcomes []EditOutcome, ok bool) {
	work := buffer
	applied := 0
	for i, e := range edits {
		if strings.TrimSpace(e.SearchText) == "" {
			outcomes = append(outcomes, EditOutcome{Index: i, Status: EditEmpty})
			continue
		}
		next, status, matched := applyOne(work, e)
		outcomes = append(outcomes, EditOutcome{Index: i, Status: status, Matched: matched})
		if status == EditApplied {
			work = next
			applied++
		}
	}
	if applied == 0 {
		return buffer, outcomes, false
	}
	return work, outcomes, true
}

func applyOne(buffer string, e Edit) (string, string, string) {
	// Exact match first.
	switch strings.Count(buffer, e.SearchText) {
	case 1:
		return strings.Replace(buffer, e.SearchText, e.ReplacementText, 1), EditApplied, "exact"
	case 0:
		// Fall through to whitespace-tolerant matching.
	default:
		return buffer, EditAmbiguous, ""
	}

	re, err := whitespacePattern(e.SearchText)
	if err != nil {
		return buffer, EditNotFound, ""
	}
	locs := re.FindAllStringIndex(buffer, 2)
	switch len(locs) {
	case 1:
		return buffer[:locs[0][0]] + e.ReplacementText + buffer[locs[0][1]:], EditApplied, "whitespace"
	case 0:
		return buffer, EditNotFound, ""
	default:
		return buffer, EditAmbiguous, ""
	}
}

// whitespacePattern builds a regex matching the search text with any run of
// whitespace where the original has whitespace.
func whitespacePattern(search string) (*regexp.Regexp, error) {
	tokens := strings.Fields(search)
	if len(tokens) == 0 {
		return nil, errors.New("empty search pattern")
	}
	escaped := make([]string, len(tokens))
	for i, t := range tokens {
		escaped[i] = regexp.QuoteMeta(t)
	}
	return regexp.Compile(strings.Join(escaped, `\s+`))
}
