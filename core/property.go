package core

import "sort"

// EntityID identifies a single entity of type E by its monotonically
// increasing per-type ordinal (§3). The zero value is the first entity
// ever created of type E.
type EntityID[E any] struct {
	Index uint64
}

// TypeID returns the process-wide entity-type identity this id belongs to.
func (id EntityID[E]) TypeID() uint64 { return EntityTypeID[E]() }

// Property is a typed attribute of entity type E with value type V (§3).
// Property values must be comparable so previous/current equality checks
// (§4.3.1, "iff values differ") can be done with ==.
type Property[E any, V comparable] struct {
	id           PropertyID
	name         string
	kind         Kind
	defaultValue V
	dependencies []PropertyID
	compute      func(ctx *Context, id EntityID[E]) V
	canonFn      func(V) Hash128
}

func (p *Property[E, V]) ID() PropertyID             { return p.id }
func (p *Property[E, V]) Name() string               { return p.name }
func (p *Property[E, V]) EntityTypeIDOf() uint64     { return EntityTypeID[E]() }
func (p *Property[E, V]) Kind() Kind                 { return p.kind }
func (p *Property[E, V]) Dependencies() []PropertyID { return p.dependencies }
func (p *Property[E, V]) DefaultAny() any            { return p.defaultValue }
func (p *Property[E, V]) ComponentIDs() []PropertyID { return nil }

func (p *Property[E, V]) ComputeAny(ctx *Context, idx uint64) any {
	if p.kind != Derived {
		panic("core: ComputeAny called on non-derived property " + p.name)
	}
	return p.compute(ctx, EntityID[E]{Index: idx})
}

func (p *Property[E, V]) CanonicalAny(v any) Hash128 {
	val := v.(V)
	if p.canonFn != nil {
		return p.canonFn(val)
	}
	return DefaultCanonicalHash(val)
}

func (p *Property[E, V]) BuildChangeEvent(idx uint64, oldAny, newAny any) (any, bool) {
	oldV := oldAny.(V)
	newV := newAny.(V)
	if oldV == newV {
		return nil, false
	}
	return PropertyChangeEvent[E, V]{EntityID: EntityID[E]{Index: idx}, Previous: oldV, Current: newV}, true
}

// Get reads this property's current value for id via the owning Context,
// honoring the Explicit/Constant/Derived contract in §4.3.1.
func (p *Property[E, V]) Get(ctx *Context, id EntityID[E]) V {
	return getProperty(ctx, p, id)
}

// Set writes this property's value for id via the owning Context. Fatal if
// p is Derived (§4.3.1).
func (p *Property[E, V]) Set(ctx *Context, id EntityID[E], v V) {
	setProperty(ctx, p, id, v)
}

// NewExplicitProperty declares a property that must be supplied at entity
// creation (§3 "Explicit").
func NewExplicitProperty[E any, V comparable](name string) *Property[E, V] {
	p := &Property[E, V]{name: name, kind: Explicit}
	p.id = registry.register(EntityTypeID[E](), name, Explicit, true, nil, p)
	return p
}

// NewConstantProperty declares a property with a compile-time default; an
// unset slot reads as def without materializing storage (§3 "Constant").
func NewConstantProperty[E any, V comparable](name string, def V) *Property[E, V] {
	p := &Property[E, V]{name: name, kind: Constant, defaultValue: def}
	p.id = registry.register(EntityTypeID[E](), name, Constant, false, nil, p)
	return p
}

// NewDerivedProperty declares a property computed on demand from other
// properties' values. dependencies must be the transitive set of
// non-derived properties compute reads (§3 "a dependency set").
func NewDerivedProperty[E any, V comparable](name string, dependencies []PropertyID, compute func(ctx *Context, id EntityID[E]) V) *Property[E, V] {
	p := &Property[E, V]{name: name, kind: Derived, dependencies: dependencies, compute: compute}
	p.id = registry.register(EntityTypeID[E](), name, Derived, false, dependencies, p)
	return p
}

// WithCanonicalHash overrides the default %#v-based canonical hash for
// property values that need a custom serialization (e.g. floats that
// should be bucketed rather than compared bit-for-bit).
func (p *Property[E, V]) WithCanonicalHash(fn func(V) Hash128) *Property[E, V] {
	p.canonFn = fn
	return p
}

// MultiProperty is a Derived property whose value is the tuple of its
// component properties' values, canonicalized by sorting components by
// name (§3 "Multi-property", §4.4.5).
type MultiProperty[E any, T comparable] struct {
	Property[E, T]
	componentIDs []PropertyID                 // name-sorted
	compose      func(values []any) T         // rebuilds T from name-sorted component values
}

// PropertyComponent names one component of a multi-property for the
// purpose of canonical (name-sorted) ordering.
type PropertyComponent struct {
	Name string
	ID   PropertyID
}

func (m *MultiProperty[E, T]) ComponentIDs() []PropertyID { return m.componentIDs }

// ComposeAny rebuilds this multi-property's T value from component values
// supplied in the same name-sorted order as ComponentIDs(), so a query can
// compute exactly the canonical hash the index stores for that tuple
// (§4.4.5 step 3).
func (m *MultiProperty[E, T]) ComposeAny(values []any) any {
	return m.compose(values)
}

// NewMultiProperty declares a joint index over several component
// properties of the same entity type. compute must read exactly the
// components listed and return them as T; compose must rebuild an
// equivalent T from the same components' values supplied in name-sorted
// order, so that querying by component values hashes to the same bucket
// compute's result would. Multi-properties declared over the same
// component set (regardless of declaration order) share a single
// underlying index (§3, §4.4.5).
func NewMultiProperty[E any, T comparable](name string, components []PropertyComponent, compute func(ctx *Context, id EntityID[E]) T, compose func(values []any) T) *MultiProperty[E, T] {
	sorted := append([]PropertyComponent(nil), components...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	ids := make([]PropertyID, len(sorted))
	for i, c := range sorted {
		ids[i] = c.ID
	}

	m := &MultiProperty[E, T]{componentIDs: ids, compose: compose}
	m.name = name
	m.kind = Derived
	m.dependencies = ids
	m.compute = compute

	if canonicalID, isNew := registry.registerMultiComponent(ids); !isNew {
		// Route to the existing shared index: reuse its id for index
		// storage purposes, but this declaration still gets its own
		// queryable identity so two differently-named MultiProperty
		// declarations over the same components both resolve.
		m.id = registry.register(EntityTypeID[E](), name, Derived, false, ids, m)
		registry.bindMultiComponent(ids, canonicalID)
	} else {
		m.id = registry.register(EntityTypeID[E](), name, Derived, false, ids, m)
		registry.bindMultiComponent(ids, m.id)
	}
	return m
}

// CanonicalComponentIDs returns the routing key's component ids for
// multi-property index sharing (§4.4.5 step 1).
func CanonicalComponentIDs(componentIDs []PropertyID) []PropertyID {
	sorted := append([]PropertyID(nil), componentIDs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
