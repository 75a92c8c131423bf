package core

// PropertyChangeEvent is dispatched synchronously by set_property after all
// index mutations for P (and its Derived dependents) complete, but only
// when the value actually changed (§4.3.3).
type PropertyChangeEvent[E any, V any] struct {
	EntityID EntityID[E]
	Previous V
	Current  V
}

// EntityCreatedEvent is dispatched synchronously at the end of NewEntity,
// after explicit properties are written (SPEC_FULL "Entity-created events").
type EntityCreatedEvent[E any] struct {
	EntityID EntityID[E]
}

// subKey identifies a (entity-type, property) subscription bucket.
type subKey struct {
	entityType uint64
	propertyID PropertyID
}

// Subscribe registers handler to run whenever p's value changes for any
// entity of type E (§6 "Event subscription").
func Subscribe[E any, V comparable](ctx *Context, p *Property[E, V], handler func(PropertyChangeEvent[E, V])) {
	key := subKey{entityType: EntityTypeID[E](), propertyID: p.id}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.changeSubs[key] = append(ctx.changeSubs[key], func(ev any) {
		handler(ev.(PropertyChangeEvent[E, V]))
	})
}

// SubscribeEntityCreated registers handler to run whenever a new entity of
// type E is created.
func SubscribeEntityCreated[E any](ctx *Context, handler func(EntityCreatedEvent[E])) {
	t := EntityTypeID[E]()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.createdSubs[t] = append(ctx.createdSubs[t], func(ev any) {
		handler(ev.(EntityCreatedEvent[E]))
	})
}

// Assignment binds an Explicit property to a value to supply at entity
// creation time (§6 "add_entity<E>(init)").
type Assignment[E any] struct {
	propertyID PropertyID
	apply      func(ctx *Context, idx uint64)
}

// Assign builds an Assignment for this property, for use with NewEntity.
func (p *Property[E, V]) Assign(v V) Assignment[E] {
	return Assignment[E]{
		propertyID: p.id,
		apply: func(ctx *Context, idx uint64) {
			setInitial(ctx, p, idx, v)
		},
	}
}
