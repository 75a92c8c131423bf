// Package itinerary implements the contact sampler (C5): settings people
// visit, the itineraries binding people to settings with a contribution
// ratio, and weighted draw_contact sampling for mixing models.
package itinerary

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/CDCgov/ixa-sub000/core"
	"github.com/CDCgov/ixa-sub000/logger"
)

// Category groups settings that share an alpha (mixing exponent), e.g.
// "household", "school", "workplace".
type Category string

// SettingID uniquely identifies one setting (a household, a classroom, a
// workplace) a person can be a member of. Backed by a UUID so settings can
// be created independently across entity types without a shared counter.
type SettingID uuid.UUID

// NewSettingID mints a fresh, globally unique setting identifier.
func NewSettingID() SettingID {
	return SettingID(uuid.New())
}

func (id SettingID) String() string {
	return uuid.UUID(id).String()
}

// Entry binds one setting into a person's itinerary with its contribution
// ratio r_s (§4.5).
type Entry struct {
	Setting SettingID
	Ratio   float64
}

// Sampler owns the setting membership lists, per-person itineraries, and
// per-category alphas for one entity type E (the "person" type).
type Sampler[E any] struct {
	settingCategory map[SettingID]Category
	alpha           map[Category]float64
	members         map[SettingID][]core.EntityID[E]
	memberPos       map[SettingID]map[uint64]int // entity ordinal -> position in members[s], for swap-removal
	itineraries     map[uint64][]Entry            // entity ordinal -> itinerary
}

// NewSampler creates an empty contact sampler for entity type E.
func NewSampler[E any]() *Sampler[E] {
	return &Sampler[E]{
		settingCategory: make(map[SettingID]Category),
		alpha:           make(map[Category]float64),
		members:         make(map[SettingID][]core.EntityID[E]),
		memberPos:       make(map[SettingID]map[uint64]int),
		itineraries:     make(map[uint64][]Entry),
	}
}

// DeclareSetting registers a setting under a mixing category. Re-declaring
// the same setting under a different category is fatal, mirroring the
// registry's monotone-metadata contract in core.
func (s *Sampler[E]) DeclareSetting(id SettingID, category Category) {
	if existing, ok := s.settingCategory[id]; ok {
		if existing != category {
			logger.Panic("itinerary: setting %s already declared under category %q, cannot redeclare as %q", id, existing, category)
		}
		return
	}
	s.settingCategory[id] = category
}

// SetAlpha assigns the mixing exponent α for category (§4.5 "set_alpha").
func (s *Sampler[E]) SetAlpha(category Category, alpha float64) {
	s.alpha[category] = alpha
}

func (s *Sampler[E]) alphaFor(setting SettingID) float64 {
	category, ok := s.settingCategory[setting]
	if !ok {
		logger.Fatal("itinerary: setting %s was never declared with DeclareSetting", setting)
	}
	a, ok := s.alpha[category]
	if !ok {
		logger.Fatal("itinerary: no alpha assigned for category %q (setting %s)", category, setting)
	}
	return a
}

// AddItinerary replaces p's itinerary with entries, maintaining members(s)
// for every setting touched: removed entries swap-remove p from their
// members list, added entries append p (§4.5 "add_itinerary").
func (s *Sampler[E]) AddItinerary(p core.EntityID[E], entries []Entry) error {
	seen := make(map[SettingID]bool, len(entries))
	for _, e := range entries {
		if seen[e.Setting] {
			return fmt.Errorf("%w: setting %s", core.ErrDuplicateItinerarySetting, e.Setting)
		}
		seen[e.Setting] = true
		if _, ok := s.settingCategory[e.Setting]; !ok {
			logger.Fatal("itinerary: setting %s was never declared with DeclareSetting", e.Setting)
		}
	}

	old := s.itineraries[p.Index]
	for _, e := range old {
		if !seen[e.Setting] {
			s.removeMember(e.Setting, p)
		}
	}

	oldSet := make(map[SettingID]bool, len(old))
	for _, e := range old {
		oldSet[e.Setting] = true
	}
	for _, e := range entries {
		if !oldSet[e.Setting] {
			s.addMember(e.Setting, p)
		}
	}

	s.itineraries[p.Index] = append([]Entry(nil), entries...)
	return nil
}

func (s *Sampler[E]) addMember(setting SettingID, p core.EntityID[E]) {
	pos := s.memberPos[setting]
	if pos == nil {
		pos = make(map[uint64]int)
		s.memberPos[setting] = pos
	}
	if _, already := pos[p.Index]; already {
		return
	}
	pos[p.Index] = len(s.members[setting])
	s.members[setting] = append(s.members[setting], p)
}

func (s *Sampler[E]) removeMember(setting SettingID, p core.EntityID[E]) {
	pos := s.memberPos[setting]
	if pos == nil {
		return
	}
	i, ok := pos[p.Index]
	if !ok {
		return
	}
	list := s.members[setting]
	last := len(list) - 1
	lastMember := list[last]
	list[i] = lastMember
	pos[lastMember.Index] = i
	s.members[setting] = list[:last]
	delete(pos, p.Index)
}

// MemberCount returns |members(s)|.
func (s *Sampler[E]) MemberCount(setting SettingID) int {
	return len(s.members[setting])
}

// TotalMultiplier computes Σ_s r_s · (|members(s)|−1)^α(category(s)) over
// p's itinerary (§4.5 "total_multiplier").
func (s *Sampler[E]) TotalMultiplier(p core.EntityID[E]) float64 {
	var total float64
	for _, e := range s.itineraries[p.Index] {
		total += s.settingWeight(p, e)
	}
	return total
}

// settingWeight computes r_s · (|members(s)|−1)^α(category(s)) verbatim
// (§4.5): a setting where p is the only member still gets a weight of
// r_s·0^α, which is r_s (not 0) when α==0 — draw_contact's explicit
// single-member check is what turns that case into None, not a zero weight
// here.
func (s *Sampler[E]) settingWeight(p core.EntityID[E], e Entry) float64 {
	n := len(s.members[e.Setting])
	a := s.alphaFor(e.Setting)
	return e.Ratio * math.Pow(float64(n-1), a)
}
