package core

import (
	"sort"
	"sync/atomic"

	"github.com/CDCgov/ixa-sub000/logger"
)

// warnUnindexedDerivedQuery controls whether IndexedEquals logs a warning
// when it falls back to scanning an unindexed derived property (§4.4.6).
// Defaults to on; SetWarnUnindexedDerivedQuery lets an embedder wire this
// to its own configuration (see config.Config.WarnOnUnindexedDerivedQuery).
var warnUnindexedDerivedQuery atomic.Bool

func init() { warnUnindexedDerivedQuery.Store(true) }

// SetWarnUnindexedDerivedQuery toggles the §4.4.6 diagnostic warning.
func SetWarnUnindexedDerivedQuery(enabled bool) { warnUnindexedDerivedQuery.Store(enabled) }

// entitySetKind distinguishes the node variants of an EntitySet expression
// tree (§4.4.1).
type entitySetKind uint8

const (
	kindEmpty entitySetKind = iota
	kindEntity
	kindPopulation
	kindIndexSet
	kindPropertySet
	kindUnion
	kindIntersection
	kindDifference
)

// EntitySet is a lazy set-algebraic expression over entity ordinals of type
// E (§4.4.1). Values are immutable once built; combinators return new trees
// with construction-time simplifications already applied.
type EntitySet[E any] struct {
	kind entitySetKind

	entity uint64 // kindEntity
	pop    uint64 // kindPopulation: {0..pop}

	idxSet *propertyIndex // kindIndexSet
	idxKey Hash128

	propID    PropertyID // kindPropertySet
	propCanon Hash128
	propScan  func(idx uint64) bool // membership test by recompute/scan

	children []*EntitySet[E] // kindUnion/kindIntersection (>=2), kindDifference ([left,right])

	upper     uint64
	upperKnow bool
	// exact reports whether upper is the true cardinality rather than just a
	// bound. Only leaves with a directly countable size (Empty, Entity,
	// Population, a Full IndexSet) start out exact; any genuine
	// Union/Intersection/Difference node loses exactness, matching
	// query_result_iterator.rs's rule that size_hint's lower bound collapses
	// to 0 as soon as a filtering source joins the driver (§4.4.4). A
	// construction-time simplification that returns one of its operands
	// unchanged carries that operand's exact flag along with it.
	exact bool
	cost  int
}

// Empty returns the empty entity set.
func Empty[E any]() *EntitySet[E] {
	return &EntitySet[E]{kind: kindEmpty, upper: 0, upperKnow: true, exact: true, cost: 0}
}

// SingleEntity returns the singleton {id}.
func SingleEntity[E any](id EntityID[E]) *EntitySet[E] {
	return &EntitySet[E]{kind: kindEntity, entity: id.Index, upper: 1, upperKnow: true, exact: true, cost: 1}
}

// Population returns {0..count(E)}, the full live population of E at
// evaluation time.
func Population[E any](ctx *Context) *EntitySet[E] {
	n := EntityCount[E](ctx)
	return &EntitySet[E]{kind: kindPopulation, pop: n, upper: n, upperKnow: true, exact: true, cost: 2}
}

// IndexedEquals returns {i : p(i) == v}, served from p's index after a
// refresh (§4.4.1 "IndexSet"). Falls back to a PropertySet scan if p has no
// installed Full index (no index, or a Count-only one).
func IndexedEquals[E any, V comparable](ctx *Context, p *Property[E, V], v V) *EntitySet[E] {
	canon := p.CanonicalAny(v)
	id := resolveCanonicalID(p)

	ctx.mu.Lock()
	idx, hasIndex := ctx.indexes[id]
	ctx.mu.Unlock()

	if hasIndex && idx.kind == IndexFull {
		RefreshIndex(ctx, p)
		var upper uint64
		ctx.mu.Lock()
		upper = idx.count(canon)
		ctx.mu.Unlock()
		return &EntitySet[E]{kind: kindIndexSet, idxSet: idx, idxKey: canon, upper: upper, upperKnow: true, exact: true, cost: 3}
	}

	if p.kind == Derived && warnUnindexedDerivedQuery.Load() {
		logger.Warn("query: property %q is derived and unindexed; scanning population", p.name)
	}
	n := EntityCount[E](ctx)
	cost := 5
	if p.kind == Derived {
		cost = 6
	}
	return &EntitySet[E]{
		kind:     kindPropertySet,
		propID:   p.id,
		propCanon: canon,
		propScan: func(idx uint64) bool {
			return p.CanonicalAny(getProperty(ctx, p, EntityID[E]{Index: idx})) == canon
		},
		pop:       n,
		upper:     n,
		upperKnow: true,
		cost:      cost,
	}
}

func sameLeaf[E any](a, b *EntitySet[E]) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case kindEmpty:
		return true
	case kindEntity:
		return a.entity == b.entity
	case kindPopulation:
		return a.pop == b.pop
	case kindIndexSet:
		return a.idxSet == b.idxSet && a.idxKey == b.idxKey
	case kindPropertySet:
		return a.propID == b.propID && a.propCanon == b.propCanon
	}
	return false
}

// structurallyEqual reports whether a and b are built from the same tree
// shape with equal leaves (§4.4.1 "Idempotence").
func structurallyEqual[E any](a, b *EntitySet[E]) bool {
	if a.kind != b.kind {
		return false
	}
	if len(a.children) != len(b.children) {
		return sameLeaf(a, b)
	}
	if len(a.children) == 0 {
		return sameLeaf(a, b)
	}
	for i := range a.children {
		if !structurallyEqual(a.children[i], b.children[i]) {
			return false
		}
	}
	return true
}

func (s *EntitySet[E]) isEmpty() bool { return s.kind == kindEmpty }

// isUniverse reports whether s is known, at construction time, to equal the
// full live population (§4.4.1 "U"). Only a Population leaf qualifies;
// index/property sets are never treated as U even if they happen to cover
// everyone, since that can change between refreshes.
func (s *EntitySet[E]) isUniverse(universe uint64) bool {
	return s.kind == kindPopulation && s.pop == universe
}

func (s *EntitySet[E]) sizeUpper() uint64 { return s.upper }

// Contains reports whether id is a member of s (§4.4.2).
func (s *EntitySet[E]) Contains(id EntityID[E]) bool {
	switch s.kind {
	case kindEmpty:
		return false
	case kindEntity:
		return id.Index == s.entity
	case kindPopulation:
		return id.Index < s.pop
	case kindIndexSet:
		if s.idxSet.kind == IndexFull {
			b := s.idxSet.bucket(s.idxKey)
			return b != nil && b.contains(id.Index)
		}
		return s.propScanFallbackContains(id)
	case kindPropertySet:
		return s.propScan(id.Index)
	case kindUnion:
		for _, c := range s.children {
			if c.Contains(id) {
				return true
			}
		}
		return false
	case kindIntersection:
		for _, c := range s.children {
			if !c.Contains(id) {
				return false
			}
		}
		return true
	case kindDifference:
		return s.children[0].Contains(id) && !s.children[1].Contains(id)
	}
	return false
}

// propScanFallbackContains handles Contains on a Count-only IndexSet, which
// carries no membership list; a count-only index leaf is only ever produced
// internally for bucket() calls that already checked IndexFull, but this
// guards the contract if that ever changes.
func (s *EntitySet[E]) propScanFallbackContains(EntityID[E]) bool { return false }

// Union returns the set union of a and b with construction-time
// simplifications applied, larger side placed left.
func Union[E any](universe uint64, a, b *EntitySet[E]) *EntitySet[E] {
	if a.isEmpty() {
		return b
	}
	if b.isEmpty() {
		return a
	}
	if a.isUniverse(universe) || b.isUniverse(universe) {
		return kept0Universe[E](universe)
	}
	if structurallyEqual(a, b) {
		return a
	}
	if a.kind == kindEntity {
		if b.Contains(EntityID[E]{Index: a.entity}) {
			return b
		}
	}
	if b.kind == kindEntity {
		if a.Contains(EntityID[E]{Index: b.entity}) {
			return a
		}
	}

	left, right := a, b
	if right.sizeUpper() > left.sizeUpper() {
		left, right = right, left
	}
	upper := left.upper + right.upper
	return &EntitySet[E]{kind: kindUnion, children: []*EntitySet[E]{left, right}, upper: upper, upperKnow: left.upperKnow && right.upperKnow, cost: left.cost + right.cost}
}

// Intersect returns the set intersection of the given operands, sorted
// ascending by (upper_bound, cost_hint) so iteration drives off the
// smallest, cheapest source (§4.4.1).
func Intersect[E any](universe uint64, sets ...*EntitySet[E]) *EntitySet[E] {
	var kept []*EntitySet[E]
	for _, s := range sets {
		if s.isEmpty() {
			return Empty[E]()
		}
		if s.isUniverse(universe) {
			continue
		}
		kept = append(kept, s)
	}
	if len(kept) == 0 {
		return kept0Universe[E](universe)
	}
	if len(kept) == 1 {
		return kept[0]
	}

	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if structurallyEqual(kept[i], kept[j]) {
				kept = append(kept[:j], kept[j+1:]...)
				j--
			}
		}
	}
	for _, s := range kept {
		if s.kind == kindEntity {
			for _, other := range kept {
				if other == s {
					continue
				}
				if !other.Contains(EntityID[E]{Index: s.entity}) {
					return Empty[E]()
				}
			}
			return s
		}
	}
	if len(kept) == 1 {
		return kept[0]
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].upper != kept[j].upper {
			return kept[i].upper < kept[j].upper
		}
		return kept[i].cost < kept[j].cost
	})
	upper := kept[0].upper
	cost := 0
	for _, s := range kept {
		cost += s.cost
	}
	return &EntitySet[E]{kind: kindIntersection, children: kept, upper: upper, upperKnow: true, cost: cost}
}

func kept0Universe[E any](n uint64) *EntitySet[E] {
	return &EntitySet[E]{kind: kindPopulation, pop: n, upper: n, upperKnow: true, exact: true, cost: 2}
}

// Difference returns {x ∈ a : x ∉ b}.
func Difference[E any](universe uint64, a, b *EntitySet[E]) *EntitySet[E] {
	if a.isEmpty() || b.isUniverse(universe) {
		return Empty[E]()
	}
	if b.isEmpty() {
		return a
	}
	if structurallyEqual(a, b) {
		return Empty[E]()
	}
	if a.kind == kindEntity {
		if b.Contains(EntityID[E]{Index: a.entity}) {
			return Empty[E]()
		}
		return a
	}
	return &EntitySet[E]{kind: kindDifference, children: []*EntitySet[E]{a, b}, upper: a.upper, upperKnow: a.upperKnow, cost: a.cost + b.cost}
}
