// Package textmatch provides the lexical similarity kernels used by the
// question-matching pipeline: text normalization and the Ratcliff/Obershelp
// sequence ratio.
//
// Ratio reproduces the behavior of Python's difflib.SequenceMatcher.ratio()
// (without junk heuristics, which never trigger on question-length strings):
// matching blocks are found by recursively locating the longest common
// substring with the earliest-longest tie-break, and the score is
// 2*M/(len(a)+len(b)). Answer thresholds were tuned against this exact
// definition, so the implementation must not be swapped for a different
// string metric.
package textmatch

// findLongestMatch locates the longest matching block between a[alo:ahi] and
// b[blo:bhi]. Among blocks of maximal size it returns the one starting
// earliest in a, then earliest in b.
func findLongestMatch(a []rune, b2j map[rune][]int, alo, ahi, blo, bhi int) (besti, bestj, bestsize int) {
	besti, bestj, bestsize = alo, blo, 0

	// j2len[j] holds the length of the longest match ending at a[i-1], b[j].
	j2len := make(map[int]int)
	for i := alo; i < ahi; i++ {
		newj2len := make(map[int]int)
		for _, j := range b2j[a[i]] {
			if j < blo {
				continue
			}
			if j >= bhi {
				break // index lists are ascending
			}
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = newj2len
	}
	return besti, bestj, bestsize
}

// totalMatched returns the total number of runes covered by all matching
// blocks between a and b.
func totalMatched(a, b []rune) int {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	type span struct{ alo, ahi, blo, bhi int }
	queue := []span{{0, len(a), 0, len(b)}}
	total := 0

	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := findLongestMatch(a, b2j, s.alo, s.ahi, s.blo, s.bhi)
		if k == 0 {
			continue
		}
		total += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return total
}

// Ratio returns the similarity of two strings in [0, 1]. Two empty strings
// score 1.0; an empty string against a non-empty one scores 0.0.
func Ratio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	length := len(ra) + len(rb)
	if length == 0 {
		return 1.0
	}
	return 2.0 * float64(totalMatched(ra, rb)) / float64(length)
}

// QuickRatio returns an upper bound on Ratio computed from rune multiset
// intersection only. It is cheap and is used to prune full Ratio calls when
// scanning many candidates.
func QuickRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	length := len(ra) + len(rb)
	if length == 0 {
		return 1.0
	}
	return 2.0 * float64(multisetOverlap(ra, runeCounts(rb))) / float64(length)
}

func runeCounts(rs []rune) map[rune]int {
	counts := make(map[rune]int, len(rs))
	for _, r := range rs {
		counts[r]++
	}
	return counts
}

// multisetOverlap counts how many runes of a can be paired with distinct
// runes of b (whose counts are given).
func multisetOverlap(a []rune, bcounts map[rune]int) int {
	avail := make(map[rune]int, len(bcounts))
	matches := 0
	for _, r := range a {
		n, seen := avail[r]
		if !seen {
			n = bcounts[r]
		}
		avail[r] = n - 1
		if n > 0 {
			matches++
		}
	}
	return matches
}
