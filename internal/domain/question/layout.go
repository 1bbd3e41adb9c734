// Package question holds the pure logic for locating exam questions on a
// PDF page: grouping positioned words into lines, recognizing point-value
// markers, and computing the crop regions between them. Everything here
// operates on layout units (PDF points); pixel scaling belongs to the
// rasterizing adapter.
package question

import (
	"sort"
	"strings"
)

// Word is a positioned token from a PDF page's text layout.
type Word struct {
	Text string
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// PageLayout is the text layout of one PDF page.
type PageLayout struct {
	// 1-based page number
	Number int
	Width  float64
	Height float64
	Words  []Word
}

// Line is a horizontal run of words sharing a baseline.
type Line struct {
	Y    float64
	Text string
}

// lineTolerance is how far apart two words' top edges may be while still
// counting as the same line. PDF generators jitter baselines slightly.
const lineTolerance = 2.0

// LinesOf groups a page's words into y-ordered lines. Words whose top
// edges fall within lineTolerance share a line; each line's text joins
// its words left to right with single spaces.
func LinesOf(page PageLayout) []Line {
	if len(page.Words) == 0 {
		return nil
	}

	words := make([]Word, len(page.Words))
	copy(words, page.Words)
	sort.SliceStable(words, func(i, j int) bool {
		if words[i].YMin != words[j].YMin {
			return words[i].YMin < words[j].YMin
		}
		return words[i].XMin < words[j].XMin
	})

	var lines []Line
	var current []Word
	currentY := words[0].YMin

	flush := func() {
		if len(current) == 0 {
			return
		}
		sort.SliceStable(current, func(i, j int) bool {
			return current[i].XMin < current[j].XMin
		})
		parts := make([]string, len(current))
		for i, w := range current {
			parts[i] = w.Text
		}
		lines = append(lines, Line{Y: currentY, Text: strings.Join(parts, " ")})
		current = current[:0]
	}

	for _, w := range words {
		if w.YMin-currentY > lineTolerance {
			flush()
			currentY = w.YMin
		}
		current = append(current, w)
	}
	flush()

	return lines
}
