package pairing

import (
	"math/rand"
	"slices"
	"time"
)

// MinMembers is the smallest pool that yields a batch.
const MinMembers = 2

// Source is the subset of *math/rand.Rand used by this package.
type Source interface {
	Intn(n int) int
	Shuffle(n int, swap func(i, j int))
}

// NewSource returns a time-seeded Source for production use.
func NewSource() Source {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Generate shuffles ids and pairs index i with count-1-i. When the count is odd
// the middle identifier joins the last group, so exactly one triple exists.
// Pools smaller than MinMembers yield nil. ids is not modified.
func Generate(ids []string, r Source) [][]string {
	n := len(ids)
	if n < MinMembers {
		return nil
	}
	order := slices.Clone(ids)
	r.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })

	groups := make([][]string, 0, n/2)
	for i := 0; i < n/2; i++ {
		groups = append(groups, []string{order[i], order[n-1-i]})
	}
	if n%2 == 1 {
		last := len(groups) - 1
		groups[last] = append(groups[last], order[n/2])
	}
	return groups
}

// Without returns ids minus every disallowed identifier, preserving order.
// Duplicate identifiers are collapsed to their first occurrence.
func Without(ids []string, disallowed ...string) []string {
	skip := make(map[string]struct{}, len(disallowed)+len(ids))
	for _, d := range disallowed {
		if d != "" {
			skip[d] = struct{}{}
		}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := skip[id]; ok {
			continue
		}
		skip[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
