package grading

import (
	"fmt"
	"sort"
)

// Standing pairs a ranked entity (a score row or a student aggregate) with
// the value it competes on.
type Standing struct {
	ID    string
	Score float64
}

// Placement is one entity's computed position after a ranking pass.
type Placement struct {
	ID       string
	Rank     int
	Position string
}

// Rank orders standings by score descending and assigns competition ranks:
// entries whose scores are equal after rounding to two decimals share a rank,
// and the next distinct score takes its true 1-based position, so
// [90, 90, 85] ranks as [1, 1, 3]. The relative input order of tied entries
// is preserved in the output.
func Rank(standings []Standing) []Placement {
	if len(standings) == 0 {
		return nil
	}
	sorted := make([]Standing, len(standings))
	copy(sorted, standings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	placements := make([]Placement, 0, len(sorted))
	rank := 1
	var prev float64
	for i, s := range sorted {
		score := Round2(s.Score)
		if i == 0 || score != prev {
			rank = i + 1
			prev = score
		}
		placements = append(placements, Placement{ID: s.ID, Rank: rank, Position: Ordinal(rank)})
	}
	return placements
}

// Ordinal formats a rank as an English ordinal: 1 -> "1st", 2 -> "2nd",
// 3 -> "3rd", 11..13 -> "11th".."13th", 21 -> "21st", 102 -> "102nd".
func Ordinal(n int) string {
	suffix := "th"
	if mod := n % 100; mod < 11 || mod > 20 {
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
