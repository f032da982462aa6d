package sim

import (
	"hash/fnv"
	"math/rand/v2"
)

// === SimulationKey ===

// SimulationKey is the global seed of a run. Equal keys, equal subsystem
// overrides and equal configuration give byte-identical reports.
type SimulationKey int64

// NewSimulationKey wraps a global seed.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemArrivals drives Poisson interarrival gaps.
	SubsystemArrivals = "arrivals"

	// SubsystemService drives service-time draws.
	SubsystemService = "service"

	// SubsystemState drives developer state transitions, stint lengths and
	// the initial state assignment.
	SubsystemState = "state"

	// SubsystemRouting drives feedback decisions and churn-weighted selection.
	SubsystemRouting = "routing"

	// SubsystemChurn drives synthetic churn metadata attached at arrival.
	SubsystemChurn = "churn"
)

// Subsystems lists every subsystem name in a fixed order.
var Subsystems = []string{SubsystemArrivals, SubsystemService, SubsystemState, SubsystemRouting, SubsystemChurn}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula:
//   - If an explicit seed was registered for the subsystem, it is used as is.
//   - Otherwise: masterSeed XOR fnv1a64(subsystemName)
//
// The returned *rand.Rand also satisfies rand.Source, so it can be handed
// directly to gonum distributions.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	overrides  map[string]int64
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		overrides:  make(map[string]int64),
		subsystems: make(map[string]*rand.Rand),
	}
}

// WithSeed pins the seed of one subsystem. It must be called before the
// subsystem's first ForSubsystem call; later calls have no effect on an
// already created generator.
func (p *PartitionedRNG) WithSeed(name string, seed int64) *PartitionedRNG {
	p.overrides[name] = seed
	return p
}

// SeedFor returns the seed the named subsystem is (or would be) created with.
func (p *PartitionedRNG) SeedFor(name string) int64 {
	if seed, ok := p.overrides[name]; ok {
		return seed
	}
	return int64(p.key) ^ fnv1a64(name)
}

// ForSubsystem returns the generator of the named subsystem, creating it on
// first use. Repeated calls hand back the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := newRandFromSeed(p.SeedFor(name))
	p.subsystems[name] = rng
	return rng
}

func (p *PartitionedRNG) Key() SimulationKey { return p.key }

func newRandFromSeed(seed int64) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
