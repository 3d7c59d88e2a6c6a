package script

import (
	"math"
	"regexp"
	"strings"
)

const (
	// DefaultSegmentTargetSeconds is the per-segment TTS target.
	DefaultSegmentTargetSeconds = 12.0
	// segmentHardCapFactor bounds a single segment at 1.5x the target.
	segmentHardCapFactor = 1.5
	// minSegmentSeconds: shorter segments are merged into the previous one.
	minSegmentSeconds = 3.0

	pauseMarker = "[PAUSE]"
)

var sentenceBoundary = regexp.MustCompile(`([.!?]+)(\s+|$)`)

// SegmentNarration splits tts narration into a contiguous timeline of
// segments at sentence boundaries. [PAUSE] markers force splits; segments
// under 3 s merge back into their predecessor; indices are contiguous.
func SegmentNarration(narration string, targetSeconds float64) []NarrationSegment {
	if targetSeconds <= 0 {
		targetSeconds = DefaultSegmentTargetSeconds
	}
	hardCap := targetSeconds * segmentHardCapFactor

	var texts []string
	for _, block := range strings.Split(narration, pauseMarker) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		texts = append(texts, packSentences(splitSentences(block), targetSeconds, hardCap)...)
	}

	texts = mergeShortSegments(texts)

	segments := make([]NarrationSegment, 0, len(texts))
	cursor := 0.0
	for i, text := range texts {
		dur := EstimateDuration(text)
		segments = append(segments, NarrationSegment{
			Text:              text,
			EstimatedDuration: dur,
			StartTime:         round3(cursor),
			EndTime:           round3(cursor + dur),
			SegmentIndex:      i,
		})
		cursor += dur
	}
	return segments
}

func splitSentences(block string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(block, -1) {
		sentence := strings.TrimSpace(block[last:loc[1]])
		if sentence != "" {
			out = append(out, sentence)
		}
		last = loc[1]
	}
	if tail := strings.TrimSpace(block[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// packSentences greedily accumulates sentences up to the target duration,
// splitting oversized single sentences at word boundaries against the cap.
func packSentences(sentences []string, target, hardCap float64) []string {
	var out []string
	var cur strings.Builder
	curDur := 0.0

	flush := func() {
		if cur.Len() > 0 {
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
			curDur = 0
		}
	}

	for _, sentence := range sentences {
		dur := EstimateDuration(sentence)
		if dur > hardCap {
			flush()
			out = append(out, splitAtWords(sentence, hardCap)...)
			continue
		}
		if curDur > 0 && curDur+dur > target {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sentence)
		curDur += dur
	}
	flush()
	return out
}

func splitAtWords(sentence string, capSeconds float64) []string {
	words := strings.Fields(sentence)
	var out []string
	var cur strings.Builder
	for _, w := range words {
		candidate := cur.String()
		if candidate != "" {
			candidate += " "
		}
		candidate += w
		if EstimateDuration(candidate) > capSeconds && cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
			cur.WriteString(w)
			continue
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func mergeShortSegments(texts []string) []string {
	var out []string
	for _, t := range texts {
		if len(out) > 0 && EstimateDuration(t) < minSegmentSeconds {
			out[len(out)-1] = out[len(out)-1] + " " + t
			continue
		}
		out = append(out, t)
	}
	// A short leading segment has no predecessor; merge forward instead.
	if len(out) >= 2 && EstimateDuration(out[0]) < minSegmentSeconds {
		out[1] = out[0] + " " + out[1]
		out = out[1:]
	}
	return out
}

// RescaleSegments stretches the estimated timeline so the summed segment
// durations equal the measured audio duration.
func RescaleSegments(segments []NarrationSegment, measured float64) []NarrationSegment {
	if len(segments) == 0 || measured <= 0 {
		return segments
	}
	total := segments[len(segments)-1].EndTime
	if total <= 0 {
		return segments
	}
	scale := measured / total
	out := make([]NarrationSegment, len(segments))
	cursor := 0.0
	for i, seg := range segments {
		dur := (seg.EndTime - seg.StartTime) * scale
		out[i] = NarrationSegment{
			Text:              seg.Text,
			EstimatedDuration: round3(dur),
			StartTime:         round3(cursor),
			EndTime:           round3(cursor + dur),
			SegmentIndex:      i,
		}
		cursor += dur
	}
	// Pin the tail exactly to the measured duration.
	out[len(out)-1].EndTime = round3(measured)
	return out
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
