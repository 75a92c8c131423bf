package core

import "errors"

// Sentinel errors for the conditions §7 marks "surfaced to caller" rather
// than fatal. Fatal conditions (registry freeze violations, reads of
// uninitialized explicit properties, sets of derived properties, index
// kind transitions, missing category alpha) abort instead, via logger.Panic
// (a panic) or logger.Fatal (process exit), matching the teacher's convention that programming-contract
// violations abort rather than return an error.
var (
	// ErrMissingRequiredProperty is returned by NewEntity when an
	// Explicit, required property of the entity type was not supplied.
	ErrMissingRequiredProperty = errors.New("missing required explicit property")

	// ErrDuplicateItinerarySetting is returned when an itinerary lists the
	// same setting more than once (§3 "Itinerary" invariant).
	ErrDuplicateItinerarySetting = errors.New("duplicate setting in itinerary")
)
