// Package core implements the type-identity registry (C1), entity store
// (C2), property store (C3), and the owning Context that ties them
// together, following the teacher's "heterogeneous per-type columns: an
// arena indexed by type ordinal, each slot holding a lazily constructed
// type-erased column and a downcast handle recovered at access time"
// pattern (see DESIGN.md).
package core

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/maps"

	"github.com/CDCgov/ixa-sub000/logger"
)

// Kind is the initialization kind of a property (§3).
type Kind uint8

const (
	// Explicit properties must be supplied at entity creation; reading
	// before setting is fatal.
	Explicit Kind = iota
	// Constant properties fall back to a compile-time default when unset.
	Constant
	// Derived properties are computed on demand and never stored.
	Derived
)

func (k Kind) String() string {
	switch k {
	case Explicit:
		return "Explicit"
	case Constant:
		return "Constant"
	case Derived:
		return "Derived"
	default:
		return "Unknown"
	}
}

// PropertyID is the dense, process-wide identity of a property type.
type PropertyID uint64

// idSlot lazily assigns a dense ordinal to a reflect.Type the first time it
// is requested. Using sync.Once per type mirrors the teacher's
// acquire/release CAS pattern (models/lockfree_string_intern.go) without
// hand-rolling the memory barrier: Once.Do already provides the
// happens-before guarantee the spec calls "acquire/release semantics".
type idSlot struct {
	once sync.Once
	id   uint64
}

var (
	entityTypeSlots   sync.Map // reflect.Type -> *idSlot
	entityTypeCounter atomic.Uint64
)

// entityTypeIdentity returns the dense ordinal for an entity type tag,
// claiming a fresh ordinal on first call for that type (§4.1).
func entityTypeIdentity(t reflect.Type) uint64 {
	v, _ := entityTypeSlots.LoadOrStore(t, &idSlot{})
	slot := v.(*idSlot)
	slot.once.Do(func() {
		slot.id = entityTypeCounter.Add(1) - 1
	})
	return slot.id
}

// EntityTypeID returns the process-wide dense identity of entity type E,
// assigning one on first call (§4.1 "id(T) -> usize (idempotent)").
func EntityTypeID[E any]() uint64 {
	return entityTypeIdentity(reflect.TypeOf((*E)(nil)).Elem())
}

// propertyMeta is the type-erased record the registry keeps for every
// registered property, independent of its Go value type V.
type propertyMeta struct {
	id           PropertyID
	name         string
	entityType   uint64
	kind         Kind
	required     bool
	dependencies []PropertyID // transitive non-derived dependency set
	descriptor   propertyDescriptor
}

// propertyDescriptor is the type-erased interface every *Property[E,V]
// satisfies, letting the registry and Context manipulate properties of
// unknown V without reflection on the hot path.
type propertyDescriptor interface {
	ID() PropertyID
	Name() string
	EntityTypeIDOf() uint64
	Kind() Kind
	Dependencies() []PropertyID
	DefaultAny() any
	ComputeAny(ctx *Context, idx uint64) any
	CanonicalAny(v any) Hash128
	ComponentIDs() []PropertyID // non-nil only for multi-properties
	// BuildChangeEvent constructs the typed PropertyChangeEvent[E,V] for
	// this property as an any, returning ok=false when oldAny == newAny
	// so callers don't need to know V to perform the equality check.
	BuildChangeEvent(idx uint64, oldAny, newAny any) (event any, differs bool)
}

var registry = newTypeRegistry()

type typeRegistry struct {
	mu               sync.Mutex
	propertyCounter  atomic.Uint64
	byID             map[PropertyID]*propertyMeta
	byEntityType     map[uint64][]*propertyMeta // insertion order
	dependents       map[PropertyID][]PropertyID
	multiByComponent map[string]PropertyID // sorted component-id signature -> canonical property id
	frozen           atomic.Bool
}

func newTypeRegistry() *typeRegistry {
	return &typeRegistry{
		byID:             make(map[PropertyID]*propertyMeta),
		byEntityType:     make(map[uint64][]*propertyMeta),
		dependents:       make(map[PropertyID][]PropertyID),
		multiByComponent: make(map[string]PropertyID),
	}
}

// register assigns a fresh PropertyID and records the property's metadata.
// It is fatal to call after freezeMetadata (§3 "Invariant (monotone
// registry)").
func (r *typeRegistry) register(entityType uint64, name string, kind Kind, required bool, deps []PropertyID, descriptor propertyDescriptor) PropertyID {
	if r.frozen.Load() {
		logger.Panic("registry: cannot register property %q: metadata already frozen", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		logger.Panic("registry: cannot register property %q: metadata already frozen", name)
	}
	id := PropertyID(r.propertyCounter.Add(1) - 1)
	meta := &propertyMeta{
		id:           id,
		name:         name,
		entityType:   entityType,
		kind:         kind,
		required:     required,
		dependencies: deps,
		descriptor:   descriptor,
	}
	r.byID[id] = meta
	r.byEntityType[entityType] = append(r.byEntityType[entityType], meta)
	return id
}

// registerMultiComponent routes a multi-property registration to a shared
// PropertyID if one already exists for the same component set (§3
// "Multi-property", §4.4.5). Returns (canonicalID, isNew).
func (r *typeRegistry) registerMultiComponent(componentIDs []PropertyID) (PropertyID, bool) {
	key := componentSignature(componentIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.multiByComponent[key]; ok {
		return existing, false
	}
	return 0, true
}

func (r *typeRegistry) bindMultiComponent(componentIDs []PropertyID, id PropertyID) {
	key := componentSignature(componentIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.multiByComponent[key]; !ok {
		r.multiByComponent[key] = id
	}
}

// lookupMultiByComponents finds the canonical property id routing for a set
// of component property ids, regardless of the order the caller supplies
// them in (§4.4.5 step 1-2).
func (r *typeRegistry) lookupMultiByComponents(componentIDs []PropertyID) (PropertyID, bool) {
	key := componentSignature(componentIDs)
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.multiByComponent[key]
	return id, ok
}

func componentSignature(ids []PropertyID) string {
	sorted := append([]PropertyID(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

// ensureFrozen computes the dependents map and freezes the registry on
// first read (§4.1 "freeze_metadata()"). Safe to call repeatedly.
func (r *typeRegistry) ensureFrozen() {
	if r.frozen.Load() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return
	}
	// Walk property IDs in sorted order so the dependents slices built below
	// have a deterministic order independent of Go's randomized map
	// iteration, which matters for reproducible calibration runs.
	ids := maps.Keys(r.byID)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		meta := r.byID[id]
		if meta.kind != Derived {
			continue
		}
		for _, dep := range meta.dependencies {
			r.dependents[dep] = append(r.dependents[dep], id)
		}
	}
	r.frozen.Store(true)
}

// propertiesOf returns the frozen, insertion-ordered property list for an
// entity type (§4.1 "exposes the static list of properties associated to
// each entity type").
func (r *typeRegistry) propertiesOf(entityType uint64) []*propertyMeta {
	r.ensureFrozen()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*propertyMeta(nil), r.byEntityType[entityType]...)
}

// dependentsOf returns the Derived properties whose dependency set includes
// propertyID (§8 "Registry" testable property).
func (r *typeRegistry) dependentsOf(propertyID PropertyID) []PropertyID {
	r.ensureFrozen()
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PropertyID(nil), r.dependents[propertyID]...)
}

func (r *typeRegistry) meta(id PropertyID) *propertyMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// DependentsOf returns the Derived properties whose transitive
// non-derived-dependency set contains propertyID (§8 "Registry").
func DependentsOf(propertyID PropertyID) []PropertyID {
	return registry.dependentsOf(propertyID)
}
