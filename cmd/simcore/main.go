// Command simcore is a minimal embedding example for the simulation core:
// it builds a small population, installs an index, runs a single
// transmission step over a household itinerary sampler, and prints the
// resulting query count and change events.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"strings"

	"github.com/CDCgov/ixa-sub000/config"
	"github.com/CDCgov/ixa-sub000/core"
	"github.com/CDCgov/ixa-sub000/itinerary"
	"github.com/CDCgov/ixa-sub000/logger"
)

// Person is the zero-sized entity type tag for this demo population.
type Person struct{}

var (
	Age             = core.NewExplicitProperty[Person, int]("Age")
	InfectionStatus = core.NewConstantProperty[Person, string]("InfectionStatus", "Susceptible")
)

const populationSize = 200

func main() {
	var seed int64
	flag.Int64Var(&seed, "seed", 1, "RNG seed for the transmission step")
	flag.Parse()

	cfg := config.Load()
	logger.Configure()
	if err := logger.SetLogLevel(cfg.LogLevel); err != nil {
		logger.Fatal("invalid log level: %v", err)
	}
	core.SetWarnUnindexedDerivedQuery(cfg.WarnOnUnindexedDerivedQuery)
	if cfg.TraceSubsystems != "" {
		logger.EnableTrace(strings.Split(cfg.TraceSubsystems, ",")...)
	}

	ctx := core.NewContext()

	var changeEvents int
	core.Subscribe(ctx, InfectionStatus, func(ev core.PropertyChangeEvent[Person, string]) {
		changeEvents++
		logger.Info("infection status change: entity=%d previous=%s current=%s", ev.EntityID.Index, ev.Previous, ev.Current)
	})

	core.IndexProperty(ctx, InfectionStatus, core.IndexFull)

	rng := rand.New(rand.NewSource(seed))
	sampler := buildHouseholds(ctx, rng)

	transmissionStep(ctx, sampler, rng)

	infected := core.IndexedEquals(ctx, InfectionStatus, "Infected")
	fmt.Printf("infected count: %d\n", infected.Count())
	fmt.Printf("change events observed: %d\n", changeEvents)

	sampleSize := 10
	if sampleSize > cfg.DefaultReservoirSampleCap {
		sampleSize = cfg.DefaultReservoirSampleCap
	}
	susceptible := core.IndexedEquals(ctx, InfectionStatus, "Susceptible")
	cohort := susceptible.SampleEntities(rng, sampleSize)
	fmt.Printf("sampled %d susceptible people for a follow-up cohort\n", len(cohort))
}

// buildHouseholds creates the demo population and groups people into
// two-person households, returning a contact sampler ready for draw_contact.
func buildHouseholds(ctx *core.Context, rng *rand.Rand) *itinerary.Sampler[Person] {
	sampler := itinerary.NewSampler[Person]()
	sampler.SetAlpha("household", 0.8)

	var people []core.EntityID[Person]
	for i := 0; i < populationSize; i++ {
		id, err := core.NewEntity[Person](ctx, Age.Assign(18+rng.Intn(60)))
		if err != nil {
			logger.Fatal("failed to create person: %v", err)
		}
		people = append(people, id)
	}

	for i := 0; i+1 < len(people); i += 2 {
		home := itinerary.NewSettingID()
		sampler.DeclareSetting(home, "household")
		entries := []itinerary.Entry{{Setting: home, Ratio: 1.0}}
		sampler.AddItinerary(people[i], entries)
		sampler.AddItinerary(people[i+1], entries)
	}
	return sampler
}

// transmissionStep picks a uniformly random living person, draws one
// household contact for them, and infects that contact if one exists — the
// single-step scenario from the testable-properties scenario list.
func transmissionStep(ctx *core.Context, sampler *itinerary.Sampler[Person], rng *rand.Rand) {
	population := core.Population[Person](ctx)
	source, ok := population.SampleEntity(rng)
	if !ok {
		logger.Warn("transmission step: empty population, nothing to do")
		return
	}
	contact, ok := sampler.DrawContact(source, rng)
	if !ok {
		logger.Info("transmission step: source %d drew no contact", source.Index)
		return
	}
	InfectionStatus.Set(ctx, contact, "Infected")
}
