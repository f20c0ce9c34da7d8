package textmatch

import "sort"

// Candidate is a normalized question text paired with its entry ID.
// Callers are expected to pass texts already run through Normalize.
type Candidate struct {
	ID   uint32
	Text string
}

// Scored is a candidate with its computed similarity against a query.
type Scored struct {
	ID    uint32
	Text  string
	Score float64
}

// BestMatch scans candidates for the highest Ratio against the normalized
// query and reports whether that best score clears the threshold (>=, so a
// threshold of 1.0 demands an exact sequence match). Ties keep the first
// candidate encountered, so callers pass candidates in insertion order.
func BestMatch(normQuery string, candidates []Candidate, threshold float64) (Scored, bool) {
	var best Scored
	found := false
	qRunes := []rune(normQuery)
	qCounts := runeCounts(qRunes)

	for _, c := range candidates {
		// QuickRatio is an upper bound on Ratio: candidates that cannot
		// beat the current best are skipped without the full quadratic
		// scan. Below-threshold candidates still compete, since the best
		// score is reported to the caller either way.
		if found && upperBound(qRunes, qCounts, c.Text) <= best.Score {
			continue
		}
		score := Ratio(normQuery, c.Text)
		if score > best.Score {
			best = Scored{ID: c.ID, Text: c.Text, Score: score}
			found = true
		}
	}
	return best, found && best.Score >= threshold
}

// TopN returns up to n candidates ranked by Ratio descending, dropping any
// below floor. Equal scores order by ID ascending for stable output.
func TopN(normQuery string, candidates []Candidate, n int, floor float64) []Scored {
	if n <= 0 {
		return nil
	}
	qRunes := []rune(normQuery)
	qCounts := runeCounts(qRunes)

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if upperBound(qRunes, qCounts, c.Text) < floor {
			continue
		}
		score := Ratio(normQuery, c.Text)
		if score >= floor {
			scored = append(scored, Scored{ID: c.ID, Text: c.Text, Score: score})
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// upperBound is QuickRatio with the query side precomputed.
func upperBound(qRunes []rune, qCounts map[rune]int, candidate string) float64 {
	cRunes := []rune(candidate)
	length := len(qRunes) + len(cRunes)
	if length == 0 {
		return 1.0
	}
	return 2.0 * float64(multisetOverlap(cRunes, qCounts)) / float64(length)
}
