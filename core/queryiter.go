package core

import "math"

// SizeHint reports a lower bound and optional upper bound on an EntitySet's
// cardinality without materializing it (§4.4.3). lower equals upper only
// when s.exact holds, for leaves with a directly countable size (Empty,
// Entity, Population, a Full IndexSet) and for any simplification that
// returned such a leaf unchanged. A genuine Union/Intersection/Difference
// node reports lower 0, since upper is only a bound there.
func (s *EntitySet[E]) SizeHint() (lower uint64, upper uint64, upperKnown bool) {
	if s.exact {
		return s.upper, s.upper, s.upperKnow
	}
	return 0, s.upper, s.upperKnow
}

// Iterate yields every member of s exactly once via a range-over-func
// sequence (§4.4.3). Union drains its left child fully, then its right
// child skipping anything already seen on the left, matching the
// uniqueness guarantee of set union without building an auxiliary set for
// every node.
func (s *EntitySet[E]) Iterate() func(yield func(EntityID[E]) bool) {
	return func(yield func(EntityID[E]) bool) {
		s.walk(yield)
	}
}

func (s *EntitySet[E]) walk(yield func(EntityID[E]) bool) bool {
	switch s.kind {
	case kindEmpty:
		return true
	case kindEntity:
		return yield(EntityID[E]{Index: s.entity})
	case kindPopulation:
		for i := uint64(0); i < s.pop; i++ {
			if !yield(EntityID[E]{Index: i}) {
				return false
			}
		}
		return true
	case kindIndexSet:
		b := s.idxSet.bucket(s.idxKey)
		if b == nil {
			return true
		}
		for i := 0; i < b.len(); i++ {
			if !yield(EntityID[E]{Index: b.at(i)}) {
				return false
			}
		}
		return true
	case kindPropertySet:
		for i := uint64(0); i < s.pop; i++ {
			if s.propScan(i) {
				if !yield(EntityID[E]{Index: i}) {
					return false
				}
			}
		}
		return true
	case kindIntersection:
		return s.walkIntersection(yield)
	case kindDifference:
		left, right := s.children[0], s.children[1]
		return left.walk(func(id EntityID[E]) bool {
			if right.Contains(id) {
				return true
			}
			return yield(id)
		})
	case kindUnion:
		left, right := s.children[0], s.children[1]
		if !left.walk(yield) {
			return false
		}
		return right.walk(func(id EntityID[E]) bool {
			if left.Contains(id) {
				return true
			}
			return yield(id)
		})
	}
	return true
}

// walkIntersection drives off the first (smallest, cheapest) child — already
// sorted at construction time — and tests the remaining children by
// Contains, short-circuiting on the first that rejects.
func (s *EntitySet[E]) walkIntersection(yield func(EntityID[E]) bool) bool {
	driver := s.children[0]
	filters := s.children[1:]
	return driver.walk(func(id EntityID[E]) bool {
		for _, f := range filters {
			if !f.Contains(id) {
				return true
			}
		}
		return yield(id)
	})
}

// Count returns the number of members of s, using the leaf's known size
// when exact (Empty/Entity/Population/IndexSet) and otherwise counting by
// iteration.
func (s *EntitySet[E]) Count() uint64 {
	switch s.kind {
	case kindEmpty:
		return 0
	case kindEntity:
		return 1
	case kindPopulation:
		return s.pop
	case kindIndexSet:
		return s.idxSet.count(s.idxKey)
	}
	var n uint64
	s.walk(func(EntityID[E]) bool {
		n++
		return true
	})
	return n
}

// Entities materializes every member of s into a slice, in iteration order.
func (s *EntitySet[E]) Entities() []EntityID[E] {
	out := make([]EntityID[E], 0, s.upper)
	s.walk(func(id EntityID[E]) bool {
		out = append(out, id)
		return true
	})
	return out
}

// randSource is the minimal RNG surface the sampler needs, satisfied by
// *rand.Rand from math/rand or math/rand/v2.
type randSource interface {
	Float64() float64
}

// SampleEntity draws one uniformly random member of s, or (zero, false) if
// s is empty (§4.4.4). Uses exact index sampling when the lower and upper
// size-hint bounds agree, otherwise Algorithm L. Gating on upperKnow alone
// is wrong for Union/Intersection/Difference nodes, whose upper is only a
// bound: sampling a target in [0,n) against an inflated n would walk past
// the true result and misreport a non-empty set as empty.
func (s *EntitySet[E]) SampleEntity(rng randSource) (EntityID[E], bool) {
	if lower, upper, known := s.SizeHint(); known && lower == upper {
		n := upper
		if n == 0 {
			return EntityID[E]{}, false
		}
		target := uint64(rng.Float64() * float64(n))
		if target >= n {
			target = n - 1
		}
		var result EntityID[E]
		i := uint64(0)
		found := false
		s.walk(func(id EntityID[E]) bool {
			if i == target {
				result = id
				found = true
				return false
			}
			i++
			return true
		})
		if found {
			return result, true
		}
		return EntityID[E]{}, false
	}

	// Algorithm L (Li 1994), single-slot reservoir.
	var result EntityID[E]
	found := false
	var i uint64
	w := rng.Float64()
	next := i + uint64(math.Log(rng.Float64())/math.Log(1-w)) + 1
	s.walk(func(id EntityID[E]) bool {
		if i == 0 {
			result, found = id, true
		} else if i == next {
			result, found = id, true
			w *= rng.Float64()
			next = i + uint64(math.Log(rng.Float64())/math.Log(1-w)) + 1
		}
		i++
		return true
	})
	return result, found
}

// SampleEntities draws up to k uniformly random distinct members of s
// without replacement (§4.4.4). Exact path draws k random indices when the
// size hint is exact; otherwise a size-k Algorithm L reservoir.
func (s *EntitySet[E]) SampleEntities(rng randSource, k int) []EntityID[E] {
	if k <= 0 {
		return nil
	}
	if lower, upper, known := s.SizeHint(); known && lower == upper {
		n := upper
		if n == 0 {
			return nil
		}
		if uint64(k) >= n {
			return s.Entities()
		}
		picks := make(map[uint64]struct{}, k)
		for len(picks) < k {
			t := uint64(rng.Float64() * float64(n))
			if t >= n {
				t = n - 1
			}
			picks[t] = struct{}{}
		}
		out := make([]EntityID[E], 0, k)
		i := uint64(0)
		s.walk(func(id EntityID[E]) bool {
			if _, ok := picks[i]; ok {
				out = append(out, id)
			}
			i++
			return true
		})
		return out
	}

	reservoir := make([]EntityID[E], 0, k)
	var i uint64
	w := math.Exp(math.Log(rng.Float64()) / float64(k))
	next := uint64(k-1) + uint64(math.Log(rng.Float64())/math.Log(1-w)) + 1
	s.walk(func(id EntityID[E]) bool {
		if i < uint64(k) {
			reservoir = append(reservoir, id)
		} else if i == next {
			j := int(rng.Float64() * float64(k))
			if j >= k {
				j = k - 1
			}
			reservoir[j] = id
			w *= math.Exp(math.Log(rng.Float64()) / float64(k))
			next = i + uint64(math.Log(rng.Float64())/math.Log(1-w)) + 1
		}
		i++
		return true
	})
	return reservoir
}
