package anim

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultExcerptRadius is the line window kept around each reported
	// error line.
	DefaultExcerptRadius = 6
	// DefaultExcerptMaxLines caps the total excerpt size.
	DefaultExcerptMaxLines = 140
	// DefaultCodeSizeBudget is the full-source size above which the refiner
	// switches from whole-file context to excerpts.
	DefaultCodeSizeBudget = 6000
)

type lineRange struct{ start, end int }

// ExcerptAround produces a numbered excerpt of the code centered on the
// reported error lines: a radius window per line, overlapping windows
// merged, total capped at maxLines. Lines are 1-based; out-of-range lines
// are ignored. With no usable lines it falls back to head/tail slicing.
func ExcerptAround(code string, errLines []int, radius, maxLines int) string {
	if radius <= 0 {
		radius = DefaultExcerptRadius
	}
	if maxLines <= 0 {
		maxLines = DefaultExcerptMaxLines
	}
	lines := strings.Split(code, "\n")

	var ranges []lineRange
	for _, el := range errLines {
		if el < 1 || el > len(lines) {
			continue
		}
		start := el - radius
		if start < 1 {
			start = 1
		}
		end := el + radius
		if end > len(lines) {
			end = len(lines)
		}
		ranges = append(ranges, lineRange{start, end})
	}
	if len(ranges) == 0 {
		return HeadTail(code, maxLines)
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })
	merged := []lineRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &merged[len(merged)-1]
		if r.start <= last.end+1 {
			if r.end > last.end {
				last.end = r.end
			}
			continue
		}
		merged = append(merged, r)
	}

	var b strings.Builder
	total := 0
	for i, r := range merged {
		if i > 0 {
			b.WriteString("...\n")
		}
		for ln := r.start; ln <= r.end; ln++ {
			if total >= maxLines {
				b.WriteString("...\n")
				return b.String()
			}
			fmt.Fprintf(&b, "%4d| %s\n", ln, lines[ln-1])
			total++
		}
	}
	return b.String()
}

// HeadTail keeps the first two thirds and last third of the budget when no
// error lines are available.
func HeadTail(code string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultExcerptMaxLines
	}
	lines := strings.Split(code, "\n")
	if len(lines) <= maxLines {
		return numbered(lines, 1)
	}
	head := maxLines * 2 / 3
	tail := maxLines - head
	var b strings.Builder
	b.WriteString(numbered(lines[:head], 1))
	b.WriteString("...\n")
	b.WriteString(numbered(lines[len(lines)-tail:], len(lines)-tail+1))
	return b.String()
}

func numbered(lines []string, first int) string {
	var b strings.Builder
	for i, ln := range lines {
		fmt.Fprintf(&b, "%4d| %s\n", first+i, ln)
	}
	return b.String()
}
