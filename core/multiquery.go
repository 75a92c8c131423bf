package core

// Equals builds one component constraint P == v for use with MultiEquals.
func Equals[E any, V comparable](p *Property[E, V], v V) MultiClause[E] {
	return MultiClause[E]{
		id:    p.id,
		value: v,
		leaf:  func(ctx *Context) *EntitySet[E] { return IndexedEquals(ctx, p, v) },
	}
}

// MultiClause is one component of a multi-property query (§4.4.5).
type MultiClause[E any] struct {
	id    PropertyID
	value any
	leaf  func(ctx *Context) *EntitySet[E]
}

// MultiEquals evaluates a conjunction of component equality clauses over
// the same entity type, routing to a shared multi-property index when one
// is registered for exactly this component set (§4.4.5).
func MultiEquals[E any](ctx *Context, clauses ...MultiClause[E]) *EntitySet[E] {
	if len(clauses) == 0 {
		return Population[E](ctx)
	}

	ids := make([]PropertyID, len(clauses))
	for i, c := range clauses {
		ids[i] = c.id
	}
	canon := CanonicalComponentIDs(ids)

	if sharedID, ok := registry.lookupMultiByComponents(canon); ok {
		meta := registry.meta(sharedID)
		type composer interface{ ComposeAny(values []any) any }
		if cmp, ok := meta.descriptor.(composer); ok {
			nameOrder := meta.descriptor.ComponentIDs()
			values := make([]any, len(nameOrder))
			for i, id := range nameOrder {
				for _, c := range clauses {
					if c.id == id {
						values[i] = c.value
					}
				}
			}
			composed := cmp.ComposeAny(values)
			hash := meta.descriptor.CanonicalAny(composed)

			ctx.mu.Lock()
			idx, hasIdx := ctx.indexes[sharedID]
			ctx.mu.Unlock()
			if hasIdx && idx.kind == IndexFull {
				refreshSharedIndex[E](ctx, sharedID, idx)
				var upper uint64
				ctx.mu.Lock()
				upper = idx.count(hash)
				ctx.mu.Unlock()
				return &EntitySet[E]{kind: kindIndexSet, idxSet: idx, idxKey: hash, upper: upper, upperKnow: true, exact: true, cost: 3}
			}
		}
	}

	universe := EntityCount[E](ctx)
	result := Population[E](ctx)
	for _, c := range clauses {
		leaf := c.leaf(ctx)
		if leaf.isEmpty() {
			return Empty[E]()
		}
		result = Intersect(universe, result, leaf)
	}
	return result
}

// refreshSharedIndex advances a canonical multi-property index by
// recomputing the owning Derived property's value at each unindexed
// ordinal. It looks up any one registered descriptor that routes to
// sharedID, since they all compute the same value for a given entity by
// construction (§4.4.5 step 2, shared index).
func refreshSharedIndex[E any](ctx *Context, sharedID PropertyID, idx *propertyIndex) {
	meta := registry.meta(sharedID)
	if meta == nil {
		return
	}
	t := EntityTypeID[E]()
	refreshIndexByID[any](ctx, t, sharedID, func(ordinal uint64) (any, Hash128) {
		v := meta.descriptor.ComputeAny(ctx, ordinal)
		return v, meta.descriptor.CanonicalAny(v)
	})
}
