package dedup

import (
	"math"
	"strings"
)

// maxLevenshteinLen is the longest input, in runes, scored by edit distance.
// Longer strings fall back to character overlap.
const maxLevenshteinLen = 255

// Levenshtein returns the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// Closeness scores two strings from 0 to 100. Comparison is case-insensitive
// and ignores surrounding whitespace; an empty side always scores 0.
func Closeness(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 100
	}

	la, lb := len([]rune(a)), len([]rune(b))
	if la > maxLevenshteinLen || lb > maxLevenshteinLen {
		return overlap(a, b)
	}
	longest := max(la, lb)
	return (1 - float64(Levenshtein(a, b))/float64(longest)) * 100
}

// overlap is the share of characters the strings have in common, counted
// with multiplicity, relative to the longer string.
func overlap(a, b string) float64 {
	counts := make(map[rune]int)
	la := 0
	for _, r := range a {
		counts[r]++
		la++
	}
	common, lb := 0, 0
	for _, r := range b {
		lb++
		if counts[r] > 0 {
			counts[r]--
			common++
		}
	}
	return float64(common) / float64(max(la, lb)) * 100
}

// Signal is the part of a media the perceptual heuristic looks at.
type Signal struct {
	Width  int
	Height int
	Size   int64
	Name   string
}

// Weights of the perceptual score.
const (
	weightAspect    = 40.0
	bonusExactDims  = 20.0
	weightSize      = 30.0
	weightFilename  = 30.0
	maxPerceptScore = 100.0
)

// PerceptualScore compares two images by aspect ratio, exact dimensions,
// byte size and base filename. It is a coarse proxy, not an image hash.
func PerceptualScore(a, b Signal) float64 {
	score := 0.0

	if a.Width > 0 && a.Height > 0 && b.Width > 0 && b.Height > 0 {
		ar1 := float64(a.Width) / float64(a.Height)
		ar2 := float64(b.Width) / float64(b.Height)
		score += (1 - math.Abs(ar1-ar2)/math.Max(ar1, ar2)) * weightAspect
		if a.Width == b.Width && a.Height == b.Height {
			score += bonusExactDims
		}
	}

	if largest := max(a.Size, b.Size); largest > 0 {
		diff := a.Size - b.Size
		if diff < 0 {
			diff = -diff
		}
		score += (1 - float64(diff)/float64(largest)) * weightSize
	}

	score += Closeness(a.Name, b.Name) / 100 * weightFilename

	return math.Max(0, math.Min(maxPerceptScore, score))
}
