package snapshot

import "sort"

// Comparison is the derived difference between two snapshots. It is never
// stored.
type Comparison struct {
	Added    []string  `json:"added"`
	Modified []string  `json:"modified"`
	Removed  []string  `json:"removed"`
	Meta     MetaDelta `json:"meta"`
}

// MetaDelta is b's metadata minus a's. Absent values count as zero in
// the deltas. A changed flag is set when the values differ or when exactly one
// side has the value.
type MetaDelta struct {
	TokensDelta     int     `json:"tokensDelta"`
	TokensChanged   bool    `json:"tokensChanged"`
	DurationDelta   float64 `json:"durationDelta"`
	DurationChanged bool    `json:"durationChanged"`
}

// Compare diffs a against b. A path present in both snapshots is reported as
// modified; file contents are not inspected.
func Compare(a, b Snapshot) Comparison {
	c := comparePaths(a.Paths(), b.Paths())
	c.Meta = compareMeta(a.Metadata, b.Metadata)
	return c
}

// CompareTree diffs a snapshot against a file tree, usually a local checkout.
func CompareTree(a Snapshot, tree FileTree) Comparison {
	return comparePaths(a.Paths(), tree.Paths())
}

func comparePaths(pa, pb []string) Comparison {
	inA := toSet(pa)
	inB := toSet(pb)

	c := Comparison{
		Added:    []string{},
		Modified: []string{},
		Removed:  []string{},
	}
	for p := range inB {
		if _, ok := inA[p]; ok {
			c.Modified = append(c.Modified, p)
		} else {
			c.Added = append(c.Added, p)
		}
	}
	for p := range inA {
		if _, ok := inB[p]; !ok {
			c.Removed = append(c.Removed, p)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Modified)
	sort.Strings(c.Removed)
	return c
}

func compareMeta(a, b *Metadata) MetaDelta {
	var ta, tb *int
	var da, db *float64
	if a != nil {
		ta, da = a.TokensUsed, a.Duration
	}
	if b != nil {
		tb, db = b.TokensUsed, b.Duration
	}

	var d MetaDelta
	d.TokensDelta = intOrZero(tb) - intOrZero(ta)
	d.TokensChanged = (ta == nil) != (tb == nil) || (ta != nil && *ta != *tb)
	d.DurationDelta = floatOrZero(db) - floatOrZero(da)
	d.DurationChanged = (da == nil) != (db == nil) || (da != nil && *da != *db)
	return d
}

func toSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
