// Package policy implements the replacement-policy family shared by every
// level of a cache hierarchy: LRU, LFU, RAND, NMRU and NMFU, all driven by a
// single logical clock advanced once per completed top-level trace access.
//
// A *Policy value is meant to be constructed once and shared — by reference
// — across every CacheLevel in a Hierarchy, so the clock is genuinely global
// rather than per-level (see SPEC_FULL.md §1.3 and the "shared clock" design
// note in spec.md §9).
package policy

import (
	"fmt"
	"math/rand"

	"github.com/cachetrace/simcache/internal/block"
)

// Kind tags which of the five variants a Policy behaves as. A tagged
// dispatch is used instead of a type hierarchy per spec.md's redesign
// guidance: each variant's three functions are small enough to switch on.
type Kind int

const (
	LRU Kind = iota
	LFU
	RAND
	NMRU
	NMFU
)

func (k Kind) String() string {
	switch k {
	case LRU:
		return "LRU"
	case LFU:
		return "LFU"
	case RAND:
		return "RAND"
	case NMRU:
		return "NMRU"
	case NMFU:
		return "NMFU"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Policy is a shared, stateful replacement policy instance. The zero value
// is not usable; construct with New.
type Policy struct {
	kind  Kind
	clock int64
	rng   *rand.Rand
}

// New constructs a Policy of the given kind. rng is the injected randomness
// source consumed by RAND, NMRU and NMFU (LRU and LFU never touch it); pass
// rand.New(rand.NewSource(seed)) for reproducible runs, never a package-level
// global, so tests can fix the seed (spec.md §5, §9).
func New(kind Kind, rng *rand.Rand) *Policy {
	return &Policy{kind: kind, rng: rng}
}

// Name returns the variant name (the same spelling Kind.String produces).
func (p *Policy) Name() string {
	return p.kind.String()
}

// Clock returns the current value of the shared logical clock.
func (p *Policy) Clock() int64 {
	return p.clock
}

// Step advances the shared clock by one. Called exactly once, as the
// terminal action of every completed Hierarchy.PerformFetch/PerformSet.
func (p *Policy) Step() {
	p.clock++
}

// DefaultMetadata returns the metadata a freshly allocated block should
// start with.
func (p *Policy) DefaultMetadata() int64 {
	switch p.kind {
	case LFU, NMFU:
		return 0
	default: // LRU, RAND, NMRU
		return p.clock
	}
}

// Touch implements block.Toucher: given a block's current metadata, returns
// its replacement value for this access.
func (p *Policy) Touch(current int64) int64 {
	switch p.kind {
	case LRU, NMRU:
		return p.clock
	case LFU, NMFU:
		return current + 1
	default: // RAND
		return current
	}
}

// Evict selects and returns the victim among occupants, a fully-occupied
// set's blocks in slot order. Calling Evict on anything but a fully occupied
// set is a logic error — the caller (CacheLevel.Put) is responsible for only
// invoking Evict once every slot holds a block. An empty occupants slice
// panics rather than returning an error, per spec.md §7's "invariant
// violation: surfaced as assertions"; nil slots are not checked for.
func (p *Policy) Evict(occupants []*block.Block) *block.Block {
	if len(occupants) == 0 {
		panic("policy: Evict called on a set with no occupants")
	}
	switch p.kind {
	case LRU, LFU:
		return minByMetadata(occupants)
	case RAND:
		return occupants[p.rng.Intn(len(occupants))]
	case NMRU, NMFU:
		return p.evictNotMax(occupants)
	default:
		panic(fmt.Sprintf("policy: unknown kind %d", p.kind))
	}
}

// minByMetadata returns the first block (in iteration order) whose metadata
// is smallest, the deterministic tie-break spec.md §4.2 requires.
func minByMetadata(occupants []*block.Block) *block.Block {
	victim := occupants[0]
	for _, b := range occupants[1:] {
		if b.GetPolicyData() < victim.GetPolicyData() {
			victim = b
		}
	}
	return victim
}

// maxByMetadata mirrors minByMetadata for the NMRU/NMFU exclusion step.
func maxByMetadata(occupants []*block.Block) *block.Block {
	winner := occupants[0]
	for _, b := range occupants[1:] {
		if b.GetPolicyData() > winner.GetPolicyData() {
			winner = b
		}
	}
	return winner
}

// evictNotMax picks uniformly at random among occupants other than the
// single block that wins the max-metadata tie-break. With only one occupant
// (associativity 1) there is nothing else to pick from, so that sole block
// is evicted — NMRU/NMFU degenerate to always-evict at 1-way associativity.
func (p *Policy) evictNotMax(occupants []*block.Block) *block.Block {
	if len(occupants) == 1 {
		return occupants[0]
	}
	mostUsed := maxByMetadata(occupants)
	candidates := make([]*block.Block, 0, len(occupants)-1)
	for _, b := range occupants {
		if b != mostUsed {
			candidates = append(candidates, b)
		}
	}
	return candidates[p.rng.Intn(len(candidates))]
}
