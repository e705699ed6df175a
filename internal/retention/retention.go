package retention

import (
	"sort"
)

// GroupPeriods is one usergroup's own contribution to the retention table.
// Periods are hours; 0 means permanent.
type GroupPeriods struct {
	Name    string
	Rank    int
	Periods []float64
}

// Resolver computes the effective set of allowed expiry durations per
// usergroup. A group inherits every lower-ranked group's periods: the
// effective set is the union, deduplicated and sorted ascending. The
// default period is the first entry of the group's own list, falling back
// to the nearest lower group that has one.
type Resolver struct {
	groups []GroupPeriods // sorted by rank ascending
}

func NewResolver(groups []GroupPeriods) *Resolver {
	sorted := make([]GroupPeriods, len(groups))
	copy(sorted, groups)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	return &Resolver{groups: sorted}
}

// PeriodsFor returns the effective allowed periods for a caller of the
// given rank. Anonymous callers pass rank 0.
func (r *Resolver) PeriodsFor(rank int) []float64 {
	seen := make(map[float64]struct{})
	var out []float64
	for _, g := range r.groups {
		if g.Rank > rank {
			break
		}
		for _, p := range g.Periods {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Float64s(out)
	return out
}

// DefaultFor returns the default period for the given rank: the first entry
// of the highest qualifying group's own list, or the nearest lower group's.
func (r *Resolver) DefaultFor(rank int) float64 {
	var def float64
	for _, g := range r.groups {
		if g.Rank > rank {
			break
		}
		if len(g.Periods) > 0 {
			def = g.Periods[0]
		}
	}
	return def
}

// Allowed reports whether age is a member of the rank's effective set.
func (r *Resolver) Allowed(rank int, age float64) bool {
	for _, p := range r.PeriodsFor(rank) {
		if p == age {
			return true
		}
	}
	return false
}
