// Completion: 100% - Utility module complete
package engine

import (
	"math"
	"sort"
)

// utils.go - Utility helper functions
//
// Alignment arithmetic for the memory allocator and edit-distance matching
// for "did you mean" suggestions on unknown resource names.

// alignUp rounds v up to the next multiple of align (align 0 or 1 is a no-op).
// ok is false when the rounded value does not fit in 64 bits.
func alignUp(v, align uint64) (aligned uint64, ok bool) {
	if align <= 1 {
		return v, true
	}
	rem := v % align
	if rem == 0 {
		return v, true
	}
	pad := align - rem
	if v > math.MaxUint64-pad {
		return 0, false
	}
	return v + pad, true
}

// fitsBelow reports whether [start, start+size) ends at or before limit,
// without computing start+size
func fitsBelow(start, size, limit uint64) bool {
	return start <= limit && size <= limit-start
}

// naturalAlign returns the smallest power of two >= size, capped at 64 bytes
func naturalAlign(size uint64) uint64 {
	a := uint64(1)
	for a < size && a < 64 {
		a <<= 1
	}
	return a
}

// levenshteinDistance is the edit distance between two strings, one row at a time
func levenshteinDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			sub := prev[j-1]
			if a[i-1] != b[j-1] {
				sub++
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, sub)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// findSimilarNames returns up to maxSuggestions names within edit distance 2 of name
func findSimilarNames(name string, available []string, maxSuggestions int) []string {
	type suggestion struct {
		name     string
		distance int
	}

	var suggestions []suggestion
	for _, candidate := range available {
		dist := levenshteinDistance(name, candidate)
		if dist <= 2 && dist > 0 {
			suggestions = append(suggestions, suggestion{candidate, dist})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].distance == suggestions[j].distance {
			return suggestions[i].name < suggestions[j].name
		}
		return suggestions[i].distance < suggestions[j].distance
	})

	result := make([]string, 0, maxSuggestions)
	for i := 0; i < len(suggestions) && i < maxSuggestions; i++ {
		result = append(result, suggestions[i].name)
	}
	return result
}
