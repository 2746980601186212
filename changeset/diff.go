package changeset

import (
	"slices"
	"sort"
)

// Item is one element of a collection snapshot. ID is the element identity
// (object key or canonical value); Version changes whenever the element's
// content changes.
type Item struct {
	ID      string
	Version uint64
}

// Diff computes the change set that turns old into new.
//
// Equal IDs are paired in order: the k-th occurrence of an ID in old is the
// k-th occurrence in new. Among the paired elements the largest set whose
// relative order is unchanged stays in place; the others are reported as moves.
// Modifications are only reported for elements that stayed in place.
func Diff(old, new []Item) *ChangeSet {
	cs := &ChangeSet{}

	pending := make(map[string][]int, len(new))
	for j, it := range new {
		pending[it.ID] = append(pending[it.ID], j)
	}

	newMatched := make([]bool, len(new))
	type pair struct{ from, to int }
	var pairs []pair
	for i, it := range old {
		q := pending[it.ID]
		if len(q) == 0 {
			cs.Deletions = append(cs.Deletions, i)
			continue
		}
		j := q[0]
		pending[it.ID] = q[1:]
		newMatched[j] = true
		pairs = append(pairs, pair{i, j})
	}

	seq := make([]int, len(pairs))
	for k, p := range pairs {
		seq[k] = p.to
	}
	stays := longestIncreasing(seq)

	for k, p := range pairs {
		if stays[k] {
			if old[p.from].Version != new[p.to].Version {
				cs.Modifications = append(cs.Modifications, p.from)
				cs.NewModifications = append(cs.NewModifications, p.to)
			}
			continue
		}
		cs.Deletions = append(cs.Deletions, p.from)
		cs.Moves = append(cs.Moves, Move{From: p.from, To: p.to})
		newMatched[p.to] = false
	}
	for j, matched := range newMatched {
		if !matched {
			cs.Insertions = append(cs.Insertions, j)
		}
	}

	sort.Ints(cs.Deletions)
	sort.Slice(cs.Moves, func(a, b int) bool { return cs.Moves[a].From < cs.Moves[b].From })
	return cs
}

// longestIncreasing marks a longest strictly increasing subsequence of seq.
func longestIncreasing(seq []int) []bool {
	marks := make([]bool, len(seq))
	if len(seq) == 0 {
		return marks
	}
	var tails []int // tails[l] = index in seq of the smallest tail of an increasing run of length l+1
	prev := make([]int, len(seq))
	for i, v := range seq {
		l := sort.Search(len(tails), func(k int) bool { return seq[tails[k]] >= v })
		if l > 0 {
			prev[i] = tails[l-1]
		} else {
			prev[i] = -1
		}
		if l == len(tails) {
			tails = append(tails, i)
		} else {
			tails[l] = i
		}
	}
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		marks[i] = true
	}
	return marks
}

// DiffKeys compares two keyed snapshots.
func DiffKeys(old, new map[string]Item) *DictionaryChangeSet {
	cs := &DictionaryChangeSet{}
	for k, o := range old {
		n, ok := new[k]
		if !ok {
			cs.Deletions = append(cs.Deletions, k)
		} else if n != o {
			cs.Modifications = append(cs.Modifications, k)
		}
	}
	for k := range new {
		if _, ok := old[k]; !ok {
			cs.Insertions = append(cs.Insertions, k)
		}
	}
	slices.Sort(cs.Deletions)
	slices.Sort(cs.Insertions)
	slices.Sort(cs.Modifications)
	return cs
}

// Apply replays cs on old. newAt supplies the element at a given index of
// the new state, and is used for insertions and modifications.
func Apply[T any](old []T, cs *ChangeSet, newAt func(newIndex int) T) []T {
	out := slices.Clone(old)
	for k := len(cs.Deletions) - 1; k >= 0; k-- {
		i := cs.Deletions[k]
		out = slices.Delete(out, i, i+1)
	}
	for _, j := range cs.Insertions {
		out = slices.Insert(out, j, newAt(j))
	}
	for _, j := range cs.NewModifications {
		out[j] = newAt(j)
	}
	return out
}
