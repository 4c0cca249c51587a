package resolution

import "strings"

// Hybrid similarity weights: character-level edit similarity dominates
// slightly over token overlap, which tolerates word reordering.
const (
	charWeight  = 0.55
	tokenWeight = 0.45

	// truncationBonus is added when one name is a left or right truncation
	// of the other ("conv net" / "conv network"), a common abbreviation
	// style edit distance under-rewards.
	truncationBonus = 0.05

	// maxLengthDelta blocks candidate pairs whose lengths differ by more
	// than this many characters.  A cheap guard that bounds the pairwise
	// cost on large partitions; acronym-initial matches bypass it.
	maxLengthDelta = 20

	// initialsScore is assigned when one name is exactly the word-initial
	// acronym of the other.  Above the auto-merge threshold: "gcn" and
	// "graph convolutional network" are the same method.
	initialsScore = 0.96
)

// nameSimilarity computes the hybrid similarity of two canonicalized names
// in [0,1].  Returns 0 for blocked pairs (length delta exceeded with no
// acronym relation).
func nameSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}

	// Acronym-initials match: checked before the length block, which such
	// pairs exceed by construction.
	if ini := initialism(b); ini != "" && a == ini {
		return initialsScore
	}
	if ini := initialism(a); ini != "" && b == ini {
		return initialsScore
	}

	delta := len(a) - len(b)
	if delta < 0 {
		delta = -delta
	}
	if delta > maxLengthDelta {
		return 0
	}

	score := charWeight*charSimilarity(a, b) + tokenWeight*tokenJaccard(a, b)
	if isTruncation(a, b) {
		score += truncationBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// charSimilarity is normalized Levenshtein similarity:
// 1 − editDistance/maxLen.
func charSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

// levenshtein computes edit distance with a two-row rolling buffer.
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// tokenJaccard is set overlap over whitespace tokens.
func tokenJaccard(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// isTruncation reports whether one name is a left or right truncation of
// the other, with at least 4 shared characters so trivial prefixes do not
// qualify.
func isTruncation(a, b string) bool {
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if len(short) < 4 || len(short) == len(long) {
		return false
	}
	return strings.HasPrefix(long, short) || strings.HasSuffix(long, short)
}
