package question

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// markerPattern matches a point value: a positive integer followed by the
// word "pont", case-insensitively, with optional whitespace between.
var markerPattern = regexp.MustCompile(`(?i)(\d+)\s*pont`)

// rangePrefixPattern recognizes a digit-dash immediately before a match,
// which marks a point range ("1-5 pont") rather than a question header.
var rangePrefixPattern = regexp.MustCompile(`\d\s*[-–]\s*$`)

// disqualifiers are phrases that, when they follow the match, mark it as
// grading instructions instead of a question header.
var disqualifiers = []string{
	"adható",
	"válaszonként",
	"helyes válasz",
}

// DedupeWindow is the vertical distance within which two markers are
// treated as duplicates of the same question header.
const DedupeWindow = 10.0

// CropPadding is how far above a marker's line the crop region starts.
const CropPadding = 10.0

// Marker is a recognized question header on a page.
type Marker struct {
	// 1-based page number
	Page int
	// Top edge of the marker's line in layout units
	Y float64
	// Point value carried by the question
	Points int
}

// FindMarkers scans a page's lines for question markers, applying the
// disqualification rules, and returns the surviving markers sorted by Y
// with near-duplicates (within DedupeWindow) removed.
func FindMarkers(page PageLayout) []Marker {
	var found []Marker

	for _, line := range LinesOf(page) {
		for _, loc := range markerPattern.FindAllStringSubmatchIndex(line.Text, -1) {
			prefix := line.Text[:loc[0]]
			tail := line.Text[loc[1]:]
			pointsText := line.Text[loc[2]:loc[3]]

			if rangePrefixPattern.MatchString(prefix) {
				continue
			}
			if disqualified(tail) {
				continue
			}

			points, err := strconv.Atoi(pointsText)
			if err != nil || points <= 0 {
				continue
			}

			found = append(found, Marker{Page: page.Number, Y: line.Y, Points: points})
		}
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Y < found[j].Y })

	var markers []Marker
	for _, m := range found {
		if len(markers) > 0 && m.Y-markers[len(markers)-1].Y < DedupeWindow {
			continue
		}
		markers = append(markers, m)
	}
	return markers
}

// disqualified reports whether the text following a match turns it into
// grading instructions. A tail continuing the word itself ("pontonként")
// disqualifies, as does any disqualifier phrase right after the match.
func disqualified(tail string) bool {
	lower := strings.ToLower(tail)

	if strings.HasPrefix(lower, "onként") {
		return true
	}

	trimmed := strings.TrimLeft(lower, " \t:.,;()")
	for _, d := range disqualifiers {
		if strings.HasPrefix(trimmed, d) {
			return true
		}
	}
	return false
}

// CropRegion is the vertical slice of a page holding one question.
type CropRegion struct {
	Page   int
	FromY  float64
	ToY    float64
	Points int
}

// Regions converts a page's markers into crop regions: each region starts
// CropPadding above its marker and ends at the next marker's Y, or at the
// page bottom for the last one. Markers must belong to the given page.
func Regions(markers []Marker, pageHeight float64) []CropRegion {
	regions := make([]CropRegion, 0, len(markers))
	for i, m := range markers {
		from := m.Y - CropPadding
		if from < 0 {
			from = 0
		}
		to := pageHeight
		if i+1 < len(markers) {
			to = markers[i+1].Y
		}
		if to <= from {
			continue
		}
		regions = append(regions, CropRegion{
			Page:   m.Page,
			FromY:  from,
			ToY:    to,
			Points: m.Points,
		})
	}
	return regions
}
