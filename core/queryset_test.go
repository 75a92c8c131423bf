package core_test

import (
	"math/rand"
	"testing"

	"github.com/CDCgov/ixa-sub000/core"
)

type qPerson struct{}

// qRisk is declared once at package level: the registry freezes on the first
// entity creation, so each test reuses it with a fresh Context.
var qRisk = core.NewExplicitProperty[qPerson, string]("qPerson_risk")

func newIndexedRisk(t *testing.T) (*core.Context, *core.Property[qPerson, string]) {
	t.Helper()
	ctx := core.NewContext()
	core.IndexProperty(ctx, qRisk, core.IndexFull)
	return ctx, qRisk
}

func TestIndexCountMatchesBucketUnion(t *testing.T) {
	ctx, risk := newIndexedRisk(t)
	for i := 0; i < 100; i++ {
		if _, err := core.NewEntity[qPerson](ctx, risk.Assign("High")); err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
	}

	high := core.IndexedEquals(ctx, risk, "High")
	if got := high.Count(); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}

	for i := 0; i < 50; i++ {
		if _, err := core.NewEntity[qPerson](ctx, risk.Assign("High")); err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
	}

	high2 := core.IndexedEquals(ctx, risk, "High")
	if got := high2.Count(); got != 150 {
		t.Fatalf("expected 150 after growth, got %d", got)
	}
}

func TestRefreshIdempotence(t *testing.T) {
	ctx, risk := newIndexedRisk(t)
	for i := 0; i < 10; i++ {
		core.NewEntity[qPerson](ctx, risk.Assign("Low"))
	}

	core.RefreshIndex(ctx, risk)
	first := core.IndexedEquals(ctx, risk, "Low").Count()
	core.RefreshIndex(ctx, risk)
	second := core.IndexedEquals(ctx, risk, "Low").Count()

	if first != second {
		t.Fatalf("refresh not idempotent: %d != %d", first, second)
	}
}

func TestVerifyIndexHealthPassesAndRebuildIndexRecovers(t *testing.T) {
	ctx, risk := newIndexedRisk(t)
	for i := 0; i < 20; i++ {
		v := "Low"
		if i%3 == 0 {
			v = "High"
		}
		if _, err := core.NewEntity[qPerson](ctx, risk.Assign(v)); err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
	}

	if msg, ok := core.VerifyIndexHealth(ctx, risk); !ok {
		t.Fatalf("expected a healthy index, got inconsistency: %s", msg)
	}

	core.RebuildIndex(ctx, risk)
	if msg, ok := core.VerifyIndexHealth(ctx, risk); !ok {
		t.Fatalf("expected a healthy index after rebuild, got: %s", msg)
	}

	high := core.IndexedEquals(ctx, risk, "High")
	if got, want := high.Count(), uint64(7); got != want {
		t.Fatalf("expected %d High after rebuild, got %d", want, got)
	}
}

type setAlg struct{}

// buildSetAlgebraFixture creates a 15-entity population of setAlg and
// returns it alongside the four overlapping sets from scenario 5:
// A={1,2,3,4} B={3,4,5} C={7,8,9,10} D={9,10,11}. Built by unioning
// singleton leaves directly rather than through an indexed property, since
// a single-valued column cannot express an entity belonging to two
// independently-defined sets at once.
func buildSetAlgebraFixture(t *testing.T) (ctx *core.Context, a, b, c, d *core.EntitySet[setAlg]) {
	t.Helper()
	ctx = core.NewContext()
	for i := 0; i < 15; i++ {
		if _, err := core.NewEntity[setAlg](ctx); err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
	}
	universe := core.EntityCount[setAlg](ctx)
	set := func(ords ...uint64) *core.EntitySet[setAlg] {
		s := core.Empty[setAlg]()
		for _, o := range ords {
			s = core.Union(universe, s, core.SingleEntity(core.EntityID[setAlg]{Index: o}))
		}
		return s
	}
	a = set(1, 2, 3, 4)
	b = set(3, 4, 5)
	c = set(7, 8, 9, 10)
	d = set(9, 10, 11)
	return ctx, a, b, c, d
}

func TestSetAlgebraScenario(t *testing.T) {
	ctx, a, b, c, d := buildSetAlgebraFixture(t)
	universe := core.EntityCount[setAlg](ctx)

	aIntersectB := core.Intersect(universe, a, b)
	cMinusD := core.Difference(universe, c, d)
	result := core.Union(universe, aIntersectB, cMinusD)

	got := map[uint64]bool{}
	for _, id := range result.Entities() {
		got[id.Index] = true
	}
	want := map[uint64]bool{3: true, 4: true, 7: true, 8: true}

	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("missing expected member %d in %v", k, got)
		}
	}

	for x := uint64(0); x < 15; x++ {
		id := core.EntityID[setAlg]{Index: x}
		if result.Contains(id) != want[x] {
			t.Fatalf("Contains(%d) disagreed with Entities() membership", x)
		}
	}
}

// TestSampleEntityOnCompositeSetNeverMisreportsEmpty exercises the
// exactness fix directly: (A∩B)∪(C\D) has a true size of 4 but an inflated
// upper bound of 7 (the naive sum of its operands' bounds), so sampling
// against upperKnow instead of the true lower==upper exactness signal used
// to return (zero, false) on roughly half of all draws and bias
// SampleEntities toward low ordinal positions.
func TestSampleEntityOnCompositeSetNeverMisreportsEmpty(t *testing.T) {
	ctx, a, b, c, d := buildSetAlgebraFixture(t)
	universe := core.EntityCount[setAlg](ctx)

	aIntersectB := core.Intersect(universe, a, b)
	cMinusD := core.Difference(universe, c, d)
	result := core.Union(universe, aIntersectB, cMinusD)

	want := map[uint64]bool{3: true, 4: true, 7: true, 8: true}
	rng := rand.New(rand.NewSource(42))
	seen := map[uint64]int{}
	for i := 0; i < 200; i++ {
		id, ok := result.SampleEntity(rng)
		if !ok {
			t.Fatalf("trial %d: SampleEntity reported empty for a 4-member set", i)
		}
		if !want[id.Index] {
			t.Fatalf("trial %d: sampled entity %d is not a true member", i, id.Index)
		}
		seen[id.Index]++
	}
	for k := range want {
		if seen[k] == 0 {
			t.Fatalf("expected every true member to be drawn at least once across 200 trials, member %d was never drawn", k)
		}
	}

	got := result.SampleEntities(rng, 4)
	if len(got) != 4 {
		t.Fatalf("expected SampleEntities(4) to return all 4 members of a 4-member set, got %d", len(got))
	}
}

func TestUnionIsCommutativeAndDeduplicates(t *testing.T) {
	_, a, b, _, _ := buildSetAlgebraFixture(t)
	universe := uint64(15)

	ab := core.Union(universe, a, b)
	ba := core.Union(universe, b, a)

	if ab.Count() != ba.Count() {
		t.Fatalf("union not commutative in size: %d vs %d", ab.Count(), ba.Count())
	}
	seen := map[uint64]int{}
	for _, id := range ab.Entities() {
		seen[id.Index]++
	}
	for id, n := range seen {
		if n != 1 {
			t.Fatalf("entity %d appeared %d times in union, expected deduplication", id, n)
		}
	}
}

func TestSampleEntityOnEmptySetReturnsNone(t *testing.T) {
	empty := core.Empty[setAlg]()
	if _, ok := empty.SampleEntity(fixedRNG{0.5}); ok {
		t.Fatal("expected SampleEntity(empty) to return false")
	}
}

// TestIntersectionDistributesOverUnion checks A∩(B∪C) ≡ (A∩B)∪(A∩C) by
// membership, not structural equality — the two trees have different shapes
// but must agree on every ordinal in the universe.
func TestIntersectionDistributesOverUnion(t *testing.T) {
	ctx, a, b, c, _ := buildSetAlgebraFixture(t)
	universe := core.EntityCount[setAlg](ctx)

	lhs := core.Intersect(universe, a, core.Union(universe, b, c))
	rhs := core.Union(universe, core.Intersect(universe, a, b), core.Intersect(universe, a, c))

	for x := uint64(0); x < universe; x++ {
		id := core.EntityID[setAlg]{Index: x}
		if lhs.Contains(id) != rhs.Contains(id) {
			t.Fatalf("distributivity violated at entity %d: A∩(B∪C)=%v, (A∩B)∪(A∩C)=%v", x, lhs.Contains(id), rhs.Contains(id))
		}
	}
}

// TestDifferenceIsNotCommutative checks A\B ≢ B\A for a fixture where A and
// B genuinely overlap but neither is a subset of the other.
func TestDifferenceIsNotCommutative(t *testing.T) {
	ctx, a, b, _, _ := buildSetAlgebraFixture(t)
	universe := core.EntityCount[setAlg](ctx)

	aMinusB := core.Difference(universe, a, b)
	bMinusA := core.Difference(universe, b, a)

	if aMinusB.Count() == 0 || bMinusA.Count() == 0 {
		t.Fatal("fixture does not exercise asymmetric difference: one side is empty")
	}

	same := aMinusB.Count() == bMinusA.Count()
	if same {
		for x := uint64(0); x < universe; x++ {
			id := core.EntityID[setAlg]{Index: x}
			if aMinusB.Contains(id) != bMinusA.Contains(id) {
				same = false
				break
			}
		}
	}
	if same {
		t.Fatal("expected A\\B and B\\A to differ for overlapping, non-nested sets")
	}
}

// TestSampleEntityUniformityChiSquared exercises §8's sampling-uniformity
// methodology: draw m >= 30*n samples from an n-member set, bin by member,
// and check the chi-squared statistic against the 0.001-significance
// critical value for n-1 degrees of freedom. With n=10 (df=9) that critical
// value is 27.88 (standard chi-squared table).
func TestSampleEntityUniformityChiSquared(t *testing.T) {
	ctx := core.NewContext()
	const n = 10
	for i := 0; i < n; i++ {
		if _, err := core.NewEntity[setAlg](ctx); err != nil {
			t.Fatalf("NewEntity: %v", err)
		}
	}
	universe := core.Population[setAlg](ctx)

	const trials = 400 // 400 draws of 1 each gives m=400=40*n, comfortably >= 30*n
	rng := rand.New(rand.NewSource(7))
	counts := make([]int, n)
	for i := 0; i < trials; i++ {
		id, ok := universe.SampleEntity(rng)
		if !ok {
			t.Fatal("expected a sample from a non-empty population")
		}
		counts[id.Index]++
	}

	expected := float64(trials) / float64(n)
	var chiSq float64
	for _, c := range counts {
		diff := float64(c) - expected
		chiSq += diff * diff / expected
	}

	const criticalValue = 27.88 // df=9, alpha=0.001
	if chiSq > criticalValue {
		t.Fatalf("chi-squared statistic %.2f exceeds critical value %.2f for uniform sampling (counts=%v)", chiSq, criticalValue, counts)
	}
}

type fixedRNG struct{ v float64 }

func (f fixedRNG) Float64() float64 { return f.v }
