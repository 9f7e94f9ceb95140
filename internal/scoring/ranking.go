package scoring

import (
	"sort"

	"github.com/CDeX-Labs/CDeX-CTF-Core/internal/model"
)

type Ranked struct {
	model.Aggregate
	Rank int `json:"rank"`
}

// RankTeams orders teams by score, then by who reached it first.
// Teams that never solved anything sort after those that did.
func RankTeams(teams []model.Aggregate) []model.Aggregate {
	out := append([]model.Aggregate(nil), teams...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		switch {
		case a.LastSolveTime == nil && b.LastSolveTime != nil:
			return false
		case a.LastSolveTime != nil && b.LastSolveTime == nil:
			return true
		case a.LastSolveTime != nil && !a.LastSolveTime.Equal(*b.LastSolveTime):
			return a.LastSolveTime.Before(*b.LastSolveTime)
		}
		return a.ID < b.ID
	})
	return out
}

// RankUsers orders users by score, then by fewer solves: reaching the same
// score with fewer challenges ranks higher.
func RankUsers(users []model.Aggregate) []model.Aggregate {
	out := append([]model.Aggregate(nil), users...)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.SolveCount != b.SolveCount {
			return a.SolveCount < b.SolveCount
		}
		return a.ID < b.ID
	})
	return out
}

// Page slices an already ordered list and assigns ranks starting at offset+1.
func Page(ordered []model.Aggregate, limit, offset int) []Ranked {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ordered) {
		return []Ranked{}
	}
	end := len(ordered)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	out := make([]Ranked, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, Ranked{Aggregate: ordered[i], Rank: i + 1})
	}
	return out
}
