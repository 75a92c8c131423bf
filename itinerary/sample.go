package itinerary

import "github.com/CDCgov/ixa-sub000/core"

// randSource is the minimal RNG surface draw_contact needs.
type randSource interface {
	Float64() float64
}

// DrawContact samples one contact for p by weighted-choosing a setting from
// p's itinerary, then drawing uniformly among that setting's other members
// (§4.5 "draw_contact"). Returns (zero, false) if p's weighted setting has
// no other member to contact.
func (s *Sampler[E]) DrawContact(p core.EntityID[E], rng randSource) (core.EntityID[E], bool) {
	entries := s.itineraries[p.Index]
	if len(entries) == 0 {
		return core.EntityID[E]{}, false
	}

	weights := make([]float64, len(entries))
	var total float64
	for i, e := range entries {
		weights[i] = s.settingWeight(p, e)
		total += weights[i]
	}
	if total <= 0 {
		return core.EntityID[E]{}, false
	}

	target := rng.Float64() * total
	chosen := len(entries) - 1
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			chosen = i
			break
		}
	}

	setting := entries[chosen].Setting
	members := s.members[setting]
	if len(members) <= 1 {
		return core.EntityID[E]{}, false
	}

	for {
		j := int(rng.Float64() * float64(len(members)))
		if j >= len(members) {
			j = len(members) - 1
		}
		candidate := members[j]
		if candidate.Index != p.Index {
			return candidate, true
		}
	}
}
