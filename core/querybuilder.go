package core

// Builder constructs an EntitySet incrementally, via the NewBuilder[E]()
// fluent entry point (SPEC_FULL "fluent query builder").
type Builder[E any] struct {
	ctx      *Context
	universe uint64
	set      *EntitySet[E]
}

// NewBuilder starts a query over the current population of E.
func NewBuilder[E any](ctx *Context) *Builder[E] {
	universe := EntityCount[E](ctx)
	return &Builder[E]{ctx: ctx, universe: universe, set: Population[E](ctx)}
}

// Where intersects the builder's running set with {i : p(i) == v}. A free
// function rather than a method since Go methods cannot carry their own
// type parameters beyond the receiver's.
func Where[E any, V comparable](b *Builder[E], p *Property[E, V], v V) *Builder[E] {
	leaf := IndexedEquals(b.ctx, p, v)
	b.set = Intersect(b.universe, b.set, leaf)
	return b
}

// And intersects the builder's running set with an arbitrary EntitySet,
// e.g. one built from MultiEquals.
func (b *Builder[E]) And(other *EntitySet[E]) *Builder[E] {
	b.set = Intersect(b.universe, b.set, other)
	return b
}

// AndNot subtracts other from the builder's running set.
func (b *Builder[E]) AndNot(other *EntitySet[E]) *Builder[E] {
	b.set = Difference(b.universe, b.set, other)
	return b
}

// Or unions the builder's running set with other.
func (b *Builder[E]) Or(other *EntitySet[E]) *Builder[E] {
	b.set = Union(b.universe, b.set, other)
	return b
}

// Build returns the constructed EntitySet.
func (b *Builder[E]) Build() *EntitySet[E] {
	return b.set
}
