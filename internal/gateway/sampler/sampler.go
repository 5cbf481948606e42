// Package sampler implements deterministic weighted variant selection.
//
// Sampling is pinned to (function_name, episode_id): the same pair always
// resolves to the same variant, which is what makes A/B cohorting stable
// across restarts and across every request within an episode. No
// third-party library does seeded hashing any differently than the
// standard library's fnv, so this package stays on hash/fnv rather than
// pulling in a dependency for it.
package sampler

import (
	"hash/fnv"
	"sort"

	"github.com/BaSui01/tensorgate/types"
)

const salt = "tensorgate-variant-sampler-v1"

// Candidate is a single variant and its sampling weight.
type Candidate struct {
	Name   string
	Weight float64
}

// Table is the prefix-sum table computed once at config-load time for a
// function's positive-weight variants.
type Table struct {
	names  []string
	prefix []float64
	total  float64
}

// Build constructs the prefix-sum table from a function's variants,
// excluding all zero/negative-weight entries. Candidates are sorted by
// name first so the resulting table (and therefore sampling outcome) does
// not depend on map iteration order.
func Build(candidates []Candidate) *Table {
	sorted := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Weight > 0 {
			sorted = append(sorted, c)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	t := &Table{
		names:  make([]string, len(sorted)),
		prefix: make([]float64, len(sorted)),
	}
	running := 0.0
	for i, c := range sorted {
		running += c.Weight
		t.names[i] = c.Name
		t.prefix[i] = running
	}
	t.total = running
	return t
}

// Empty reports whether the table has no positive-weight variants.
func (t *Table) Empty() bool { return t == nil || len(t.names) == 0 || t.total <= 0 }

// Pick deterministically selects a variant name for (functionName,
// episodeID). Returns NO_VARIANT when the table has no positive weight.
func (t *Table) Pick(functionName, episodeID string) (string, error) {
	if t.Empty() {
		return "", types.NewError(types.ErrNoVariant, "function has no variant with positive weight").
			WithHTTPStatus(types.HTTPStatusForCode(types.ErrNoVariant))
	}

	h := seededHash(functionName, episodeID)
	target := float64(h%hashSpace) / float64(hashSpace) * t.total

	// binary search for the first prefix sum >= target
	lo, hi := 0, len(t.prefix)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if t.prefix[mid] >= target {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return t.names[lo], nil
}

// hashSpace bounds the hash value mapped into [0, total); large enough that
// modulo bias against a typical variant count is negligible.
const hashSpace = uint64(1) << 53

func seededHash(functionName, episodeID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(salt))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(functionName))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(episodeID))
	return h.Sum64() % hashSpace
}
