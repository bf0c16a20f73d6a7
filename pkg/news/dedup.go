package news

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	// DuplicateWindow is the maximum publication gap between near-duplicates.
	DuplicateWindow = 48 * time.Hour
	// DuplicateThreshold is the minimum title similarity of near-duplicates.
	DuplicateThreshold = 0.90

	similarityEpsilon = 1e-9
)

// Similarity is 1 - editDistance(lower(a), lower(b)) / max(len(a), len(b)),
// measured in runes. It is 0 when either string is empty.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	longest := max(la, lb)
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// AtLeast reports whether a similarity reaches threshold, tolerating float noise.
func AtLeast(similarity, threshold float64) bool {
	return similarity+similarityEpsilon >= threshold
}

// IsDuplicate reports whether a and b are near-duplicates: same host,
// published within DuplicateWindow of each other and titles at least
// DuplicateThreshold similar. It is symmetric.
func IsDuplicate(a, b Article) bool {
	if hostOf(a) != hostOf(b) {
		return false
	}
	gap := a.PublishedAt.Sub(b.PublishedAt)
	if gap < 0 {
		gap = -gap
	}
	if gap > DuplicateWindow {
		return false
	}
	return AtLeast(Similarity(a.Title, b.Title), DuplicateThreshold)
}

// FindDuplicate scans existing, which must be ordered most recent first, and
// returns the first near-duplicate of candidate.
func FindDuplicate(candidate Article, existing []Article) (Article, bool) {
	for _, e := range existing {
		if IsDuplicate(candidate, e) {
			return e, true
		}
	}
	return Article{}, false
}

func hostOf(a Article) string {
	if a.Host != "" {
		return a.Host
	}
	return Host(a.URL)
}
