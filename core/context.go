package core

import (
	"fmt"
	"strings"
	"sync"

	"github.com/CDCgov/ixa-sub000/logger"
)

// Context is the single owning object through which the scheduler mutates
// simulation state (§2 "all mutation flows through the single owning
// context object"). It is not safe for concurrent use by design (§5
// "Single-threaded, cooperative"): callers that need to fan work out must
// serialize their calls into the owning goroutine.
type Context struct {
	mu sync.Mutex

	populations map[uint64]uint64       // entity-type id -> population
	columns     map[PropertyID]column   // non-derived property id -> column
	indexes     map[PropertyID]*propertyIndex // canonical property id -> index

	changeSubs  map[subKey][]func(any)
	createdSubs map[uint64][]func(any)
}

// NewContext creates an empty simulation context with no entities.
func NewContext() *Context {
	return &Context{
		populations: make(map[uint64]uint64),
		columns:     make(map[PropertyID]column),
		indexes:     make(map[PropertyID]*propertyIndex),
		changeSubs:  make(map[subKey][]func(any)),
		createdSubs: make(map[uint64][]func(any)),
	}
}

func resolveCanonicalID(p propertyDescriptor) PropertyID {
	if ids := p.ComponentIDs(); ids != nil {
		if canon, ok := registry.lookupMultiByComponents(ids); ok {
			return canon
		}
	}
	return p.ID()
}

// columnFor returns the existing column for a property id, or nil.
func (ctx *Context) columnFor(id PropertyID) column {
	return ctx.columns[id]
}

func ensureColumn[V any](ctx *Context, id PropertyID) *typedColumn[V] {
	c, ok := ctx.columns[id]
	if !ok {
		tc := newTypedColumn[V]()
		ctx.columns[id] = tc
		return tc
	}
	return c.(*typedColumn[V])
}

// NewEntity creates a new entity of type E, applying assignments for its
// Explicit properties (§6 "add_entity<E>(init)"). It is an error if a
// required Explicit property of E has no assignment.
func NewEntity[E any](ctx *Context, assignments ...Assignment[E]) (EntityID[E], error) {
	t := EntityTypeID[E]()
	metas := registry.propertiesOf(t)

	provided := make(map[PropertyID]bool, len(assignments))
	for _, a := range assignments {
		provided[a.propertyID] = true
	}

	var missing []string
	for _, m := range metas {
		if m.kind == Explicit && m.required && !provided[m.id] {
			missing = append(missing, m.name)
		}
	}
	if len(missing) > 0 {
		return EntityID[E]{}, fmt.Errorf("%w: %s", ErrMissingRequiredProperty, strings.Join(missing, ", "))
	}

	ctx.mu.Lock()
	idx := ctx.populations[t]
	ctx.populations[t] = idx + 1
	ctx.mu.Unlock()

	eid := EntityID[E]{Index: idx}
	for _, a := range assignments {
		a.apply(ctx, idx)
	}

	ctx.mu.Lock()
	handlers := append(([]func(any))(nil), ctx.createdSubs[t]...)
	ctx.mu.Unlock()
	event := EntityCreatedEvent[E]{EntityID: eid}
	for _, h := range handlers {
		h(event)
	}

	return eid, nil
}

// EntityCount returns the current population of entity type E.
func EntityCount[E any](ctx *Context) uint64 {
	t := EntityTypeID[E]()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return ctx.populations[t]
}

// EntityIter returns a restartable, finite sequence over [0, pop) snapshotted
// at call time (§4.2): entities created after this call are invisible to
// the returned sequence, matching the teacher's own LazySeq-style iterators
// via Go's range-over-func iterators.
func EntityIter[E any](ctx *Context) func(yield func(EntityID[E]) bool) {
	t := EntityTypeID[E]()
	ctx.mu.Lock()
	n := ctx.populations[t]
	ctx.mu.Unlock()
	return func(yield func(EntityID[E]) bool) {
		for i := uint64(0); i < n; i++ {
			if !yield(EntityID[E]{Index: i}) {
				return
			}
		}
	}
}

// getProperty implements the get_property contract (§4.3.1).
func getProperty[E any, V comparable](ctx *Context, p *Property[E, V], id EntityID[E]) V {
	switch p.kind {
	case Derived:
		return p.compute(ctx, id)
	case Constant:
		ctx.mu.Lock()
		col, ok := ctx.columns[p.id]
		ctx.mu.Unlock()
		if !ok {
			return p.defaultValue
		}
		if v, present := getTyped[V](col, id.Index); present {
			return v
		}
		return p.defaultValue
	case Explicit:
		ctx.mu.Lock()
		col, ok := ctx.columns[p.id]
		ctx.mu.Unlock()
		if ok {
			if v, present := getTyped[V](col, id.Index); present {
				return v
			}
		}
		logger.Panic("property store: property %q not initialized for entity %d", p.name, id.Index)
	}
	var zero V
	return zero
}

// setInitial writes an Explicit property's value at entity-creation time.
// It never fires a change event (there is no previous value to compare
// against) and performs no index maintenance: a brand-new entity's ordinal
// is always >= every index's cursor, so this plain column write is left for
// the next refresh to pick up.
func setInitial[E any, V comparable](ctx *Context, p *Property[E, V], idx uint64, v V) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	col := ensureColumn[V](ctx, p.id)
	col.set(idx, v)
}

// setProperty implements the set_property contract and its ordering
// guarantee (§4.3.1, §5): old-value snapshots and index removals, the
// column write, index insertions, dependent change events, then the
// primary change event. Index mutation on a given ordinal is only
// performed eagerly here when that ordinal already lies below the index's
// max-indexed cursor (i.e. a previous refresh already covers it); ordinals
// at or above the cursor are left for the next refresh, which is how
// set_property's per-call index maintenance and refresh_index's bulk scan
// stay consistent without double-counting Count-only buckets.
func setProperty[E any, V comparable](ctx *Context, p *Property[E, V], id EntityID[E], v V) {
	if p.kind == Derived {
		logger.Panic("property store: cannot set derived property %q", p.name)
	}

	type pendingEvent struct {
		key   subKey
		event any
	}
	type depSnapshot struct {
		meta   *propertyMeta
		oldAny any
	}

	ctx.mu.Lock()

	col := ensureColumn[V](ctx, p.id)
	oldVal, hadOld := getTyped[V](col, id.Index)
	if !hadOld && p.kind == Constant {
		// An unset Constant slot reads as the default (§4.3.2), so the
		// default is the previous value for the event and the index.
		oldVal, hadOld = p.defaultValue, true
	}
	differs := !hadOld || oldVal != v

	dependentIDs := registry.dependentsOfLocked(p.id)
	snaps := make([]depSnapshot, 0, len(dependentIDs))
	for _, depID := range dependentIDs {
		depMeta := registry.meta(depID)
		// Derived computations read properties through getProperty, which
		// takes ctx.mu itself, so the lock is released around them.
		ctx.mu.Unlock()
		oldAny := depMeta.descriptor.ComputeAny(ctx, id.Index)
		ctx.mu.Lock()
		snaps = append(snaps, depSnapshot{meta: depMeta, oldAny: oldAny})

		if depIdx, ok := ctx.indexes[resolveCanonicalID(depMeta.descriptor)]; ok && depIdx.kind != IndexNone && id.Index < depIdx.cursor {
			depIdx.removeValue(depMeta.descriptor.CanonicalAny(oldAny), id.Index)
		}
	}

	// §4.3.3: when the new value equals the old one, no index mutation is
	// performed. Removing then re-adding the same value would reorder the
	// indexed bucket for no reason and perturb positional sampling.
	pIdx, pIndexed := ctx.indexes[p.id]
	if differs && hadOld && pIndexed && pIdx.kind != IndexNone && id.Index < pIdx.cursor {
		pIdx.removeValue(p.CanonicalAny(oldVal), id.Index)
	}

	col.set(id.Index, v)

	if differs && pIndexed && pIdx.kind != IndexNone && id.Index < pIdx.cursor {
		pIdx.add(p.CanonicalAny(v), v, id.Index)
	}

	var pending []pendingEvent
	for _, snap := range snaps {
		ctx.mu.Unlock()
		newAny := snap.meta.descriptor.ComputeAny(ctx, id.Index)
		ctx.mu.Lock()
		if depIdx, ok := ctx.indexes[resolveCanonicalID(snap.meta.descriptor)]; ok && depIdx.kind != IndexNone && id.Index < depIdx.cursor {
			depIdx.add(snap.meta.descriptor.CanonicalAny(newAny), newAny, id.Index)
		}
		if event, changed := snap.meta.descriptor.BuildChangeEvent(id.Index, snap.oldAny, newAny); changed {
			pending = append(pending, pendingEvent{key: subKey{entityType: snap.meta.entityType, propertyID: snap.meta.id}, event: event})
		}
	}

	if differs {
		pending = append(pending, pendingEvent{
			key:   subKey{entityType: EntityTypeID[E](), propertyID: p.id},
			event: PropertyChangeEvent[E, V]{EntityID: id, Previous: oldVal, Current: v},
		})
	}

	// Snapshot handler lists while still holding the lock, then release it
	// before invoking subscribers: subscribers may call back into
	// get_property/set_property and must not observe interior-mutable
	// borrows still held by this call (§5 "Reentrancy").
	dispatches := make([]func(), 0, len(pending))
	for _, pe := range pending {
		handlers := append(([]func(any))(nil), ctx.changeSubs[pe.key]...)
		event := pe.event
		dispatches = append(dispatches, func() {
			for _, h := range handlers {
				h(event)
			}
		})
	}

	ctx.mu.Unlock()

	for _, d := range dispatches {
		d()
	}
}

// IndexProperty installs a Full or Count-only index for p (§4.3.1
// "index_property"). Idempotent for the same kind; fatal to change kind on
// an already-installed index. Multi-properties over the same component set
// share a single underlying index regardless of which declaration calls
// IndexProperty first.
func IndexProperty[E any, V comparable](ctx *Context, p *Property[E, V], kind IndexKind) {
	id := resolveCanonicalID(p)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if existing, ok := ctx.indexes[id]; ok {
		if existing.kind != kind {
			logger.Panic("index_property: cannot change index kind for %q from %v to %v", p.name, existing.kind, kind)
		}
		return
	}
	ctx.indexes[id] = newPropertyIndex(kind)
	logger.TraceIf("index", "installed %v index for property %q (id=%d)", kind, p.name, id)
}

// IndexMultiProperty installs a Full or Count-only index for a multi-property.
// It is a separate entry point from IndexProperty because Go's embedding
// does not make *MultiProperty[E,T] assignable to *Property[E,T]; both
// paths route through the same canonical-id resolution and share storage
// with any other MultiProperty declared over the same component set.
func IndexMultiProperty[E any, T comparable](ctx *Context, m *MultiProperty[E, T], kind IndexKind) {
	id := resolveCanonicalID(m)
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if existing, ok := ctx.indexes[id]; ok {
		if existing.kind != kind {
			logger.Panic("index_property: cannot change index kind for %q from %v to %v", m.Name(), existing.kind, kind)
		}
		return
	}
	ctx.indexes[id] = newPropertyIndex(kind)
	logger.TraceIf("index", "installed %v index for multi-property %q (id=%d)", kind, m.Name(), id)
}

// RefreshIndex advances p's index from its max-indexed cursor to the
// current population, a no-op if p carries no index (§4.3.1
// "refresh_index").
func RefreshIndex[E any, V comparable](ctx *Context, p *Property[E, V]) {
	refreshIndexByID(ctx, EntityTypeID[E](), resolveCanonicalID(p), func(idx uint64) (V, Hash128) {
		v := getProperty(ctx, p, EntityID[E]{Index: idx})
		return v, p.CanonicalAny(v)
	})
}

func refreshIndexByID[V any](ctx *Context, entityType uint64, id PropertyID, valueAt func(idx uint64) (V, Hash128)) {
	ctx.mu.Lock()
	idx, ok := ctx.indexes[id]
	if !ok || idx.kind == IndexNone {
		ctx.mu.Unlock()
		return
	}
	pop := ctx.populations[entityType]
	start := idx.cursor
	ctx.mu.Unlock()

	for i := start; i < pop; i++ {
		v, hash := valueAt(i)
		ctx.mu.Lock()
		idx.add(hash, v, i)
		ctx.mu.Unlock()
	}

	ctx.mu.Lock()
	if idx.cursor < pop {
		idx.cursor = pop
	}
	ctx.mu.Unlock()
}

// RebuildIndex drops p's index and recreates it from scratch, resetting the
// max-indexed cursor to 0 and refreshing against the full current
// population. Use after a bulk set_property storm has left an index's
// incremental maintenance in a state the caller no longer trusts
// (SPEC_FULL "ReindexTags-equivalent").
func RebuildIndex[E any, V comparable](ctx *Context, p *Property[E, V]) {
	id := resolveCanonicalID(p)
	ctx.mu.Lock()
	existing, ok := ctx.indexes[id]
	if !ok {
		ctx.mu.Unlock()
		return
	}
	ctx.indexes[id] = newPropertyIndex(existing.kind)
	ctx.mu.Unlock()
	logger.TraceIf("index", "rebuilding %v index for property %q (id=%d)", existing.kind, p.name, id)
	RefreshIndex(ctx, p)
}

// VerifyIndexHealth checks the testable property from §8 ("Index
// consistency"): for a Full index, the union of every bucket must equal
// {i : p(i) == bucket's value} exactly; for a Count-only index, each
// bucket's count must equal the number of live entities with that value.
// Refreshes p's index first so the check runs against current state.
// Returns a human-readable description of the first inconsistency found, or
// ("", true) if none.
func VerifyIndexHealth[E any, V comparable](ctx *Context, p *Property[E, V]) (string, bool) {
	RefreshIndex(ctx, p)
	id := resolveCanonicalID(p)
	ctx.mu.Lock()
	idx, ok := ctx.indexes[id]
	ctx.mu.Unlock()
	if !ok {
		return "", true
	}

	n := EntityCount[E](ctx)
	actualCounts := make(map[Hash128]uint64)
	actualMembers := make(map[Hash128]map[uint64]bool)
	for i := uint64(0); i < n; i++ {
		v := getProperty(ctx, p, EntityID[E]{Index: i})
		h := p.CanonicalAny(v)
		actualCounts[h]++
		if idx.kind == IndexFull {
			if actualMembers[h] == nil {
				actualMembers[h] = make(map[uint64]bool)
			}
			actualMembers[h][i] = true
		}
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	switch idx.kind {
	case IndexFull:
		for h, bucket := range idx.full {
			want := actualMembers[h]
			if uint64(bucket.len()) != uint64(len(want)) {
				return fmt.Sprintf("property %q: bucket %v has %d members, expected %d", p.name, h, bucket.len(), len(want)), false
			}
			for i := 0; i < bucket.len(); i++ {
				if !want[bucket.at(i)] {
					return fmt.Sprintf("property %q: bucket %v contains entity %d which does not match", p.name, h, bucket.at(i)), false
				}
			}
		}
		for h, want := range actualMembers {
			if idx.full[h] == nil && len(want) > 0 {
				return fmt.Sprintf("property %q: missing bucket %v with %d members", p.name, h, len(want)), false
			}
		}
	case IndexCountOnly:
		for h, c := range idx.counts {
			if c != actualCounts[h] {
				return fmt.Sprintf("property %q: count bucket %v reports %d, expected %d", p.name, h, c, actualCounts[h]), false
			}
		}
		for h, want := range actualCounts {
			if idx.counts[h] != want {
				return fmt.Sprintf("property %q: missing count bucket %v, expected %d", p.name, h, want), false
			}
		}
	}
	return "", true
}

// dependentsOfLocked is dependentsOf without re-entering the registry's own
// lock path in a way that would deadlock if called while ctx.mu is held;
// the registry has its own independent mutex, so this is just a documented
// alias to make the lock ordering at call sites explicit.
func (r *typeRegistry) dependentsOfLocked(propertyID PropertyID) []PropertyID {
	return r.dependentsOf(propertyID)
}
