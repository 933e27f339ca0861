// Package hierarchy orchestrates fetches and stores across a fixed
// IL1/DL1/UL2/UL3/MEM topology: split L1 (instruction vs data), a unified
// L2 and L3, and a MEM sentinel representing main memory. Two inclusivity
// variants are supported — Inclusive and ExclusiveBypassing — selected at
// construction (spec.md §4.4).
package hierarchy

import (
	"github.com/pkg/errors"

	"github.com/cachetrace/simcache/internal/block"
	"github.com/cachetrace/simcache/internal/cachelevel"
	"github.com/cachetrace/simcache/internal/metrics"
	"github.com/cachetrace/simcache/internal/policy"
	"github.com/cachetrace/simcache/internal/simaddr"
)

// Fixed level names, used both as CacheLevel.Name and as the level/transition
// identifiers in the saved metrics report.
const (
	IL1Name = "IL1"
	DL1Name = "DL1"
	UL2Name = "UL2"
	UL3Name = "UL3"
	// MEMName names the main-memory sentinel. Per spec.md's design note, MEM
	// carries no cache structure of its own — it exists purely so metrics can
	// name it as a transition source/destination.
	MEMName = "MEM"
)

// Variant selects how the hierarchy handles inclusivity between levels.
type Variant int

const (
	// Inclusive promotes a fetched or stored block all the way up to L1 on
	// every miss, regardless of which level satisfied it; evictions caused
	// by promotion are discarded (the block is assumed still present at the
	// deeper level it was promoted from).
	Inclusive Variant = iota
	// ExclusiveBypassing installs a cold miss at L3 only, and a fetch hit
	// below L1 promotes a copy exactly one level up; the block stays resident
	// at the level it was promoted from. A store that misses L1 but hits a
	// deeper level is satisfied in place without repopulating L1.
	ExclusiveBypassing
)

// Latency is an optional (read, write) latency pair for one level.
type Latency struct {
	Read, Write int64
}

// Config are the hierarchy's constructor arguments (spec.md §6).
type Config struct {
	Space simaddr.Space
	// Policy is the single replacement-policy instance shared by every
	// level — its clock is therefore global across the whole hierarchy.
	Policy *policy.Policy
	Variant Variant

	// LevelSizes is the (L1, L2, L3) triple in bytes. L1 size applies to
	// both IL1 and DL1 (each gets its own independent instance of that
	// size).
	LevelSizes [3]int
	// LevelAssociativities is the (L1, L2, L3) triple.
	LevelAssociativities [3]int
	BlockSize            int

	// Latencies is the (L1, L2, L3, MEM) read/write latency quadruple.
	// Omitted (zero value) entries carry zero latency. The MEM entry is not
	// applied: an access that misses every level accrues only the L1, L2 and
	// L3 latencies.
	Latencies [4]Latency

	// MetricsOptions is passed through to metrics.New, e.g.
	// metrics.WithBoundedAddresses for long traces.
	MetricsOptions []metrics.Option
}

// Hierarchy is a constructed multi-level cache hierarchy ready to replay a
// trace against.
type Hierarchy struct {
	il1, dl1, ul2, ul3 *cachelevel.Level
	policy             *policy.Policy
	variant            Variant
	stats              *metrics.Metrics
}

// declaredTransitionPairs enumerates every (from, to) pair this hierarchy can
// legitimately report: a self-pair per level (a straight hit with no
// promotion), a promotion-direction pair for every adjacent (deeper,
// shallower) step, and an eviction-direction pair for every adjacent
// (shallower, next-deeper) step. Promotion is always logged one hop at a
// time — a cold MEM miss under Inclusive surfaces as three separate rows
// (MEM->UL3, UL3->UL2, UL2->L1), never as a single multi-hop jump — so no
// multi-hop pair is ever declared.
//
// The teacher source's bypassing draft declared an equivalent but
// DL1-only set (it never accounted for IL1 transitions at all, a gap in
// that draft); this generalizes it symmetrically across both L1 halves,
// per spec.md's "the existing source contains duplicated drafts; the
// authoritative design here is deduplicated".
func declaredTransitionPairs() []metrics.Pair {
	levels := []string{IL1Name, DL1Name, UL2Name, UL3Name, MEMName}
	pairs := make([]metrics.Pair, 0, len(levels)*2)

	for _, l := range levels {
		pairs = append(pairs, metrics.Pair{From: l, To: l})
	}

	// Adjacent steps, one hop at a time in either direction: promotion
	// (deeper -> shallower, the block's own movement) and eviction
	// (shallower -> deeper, a displaced victim cascading down).
	steps := [][2]string{
		{IL1Name, UL2Name},
		{DL1Name, UL2Name},
		{UL2Name, UL3Name},
		{UL3Name, MEMName},
	}
	for _, step := range steps {
		pairs = append(pairs, metrics.Pair{From: step[0], To: step[1]})
		pairs = append(pairs, metrics.Pair{From: step[1], To: step[0]})
	}

	return pairs
}

// New constructs a Hierarchy. Level geometry is validated by
// cachelevel.New; any error it returns is a configuration error.
func New(cfg Config) (*Hierarchy, error) {
	if cfg.Policy == nil {
		return nil, errors.New("hierarchy: policy must not be nil")
	}
	if !cfg.Space.Valid() {
		return nil, errors.Errorf("hierarchy: invalid address space %v", cfg.Space)
	}

	l1Read, l1Write := cfg.Latencies[0].Read, cfg.Latencies[0].Write
	l2Read, l2Write := cfg.Latencies[1].Read, cfg.Latencies[1].Write
	l3Read, l3Write := cfg.Latencies[2].Read, cfg.Latencies[2].Write

	dl1, err := cachelevel.New(cfg.Space, cfg.LevelSizes[0], cfg.LevelAssociativities[0], cfg.BlockSize, cfg.Policy, DL1Name, l1Read, l1Write)
	if err != nil {
		return nil, errors.Wrap(err, "hierarchy: DL1")
	}
	il1, err := cachelevel.New(cfg.Space, cfg.LevelSizes[0], cfg.LevelAssociativities[0], cfg.BlockSize, cfg.Policy, IL1Name, l1Read, l1Write)
	if err != nil {
		return nil, errors.Wrap(err, "hierarchy: IL1")
	}
	ul2, err := cachelevel.New(cfg.Space, cfg.LevelSizes[1], cfg.LevelAssociativities[1], cfg.BlockSize, cfg.Policy, UL2Name, l2Read, l2Write)
	if err != nil {
		return nil, errors.Wrap(err, "hierarchy: UL2")
	}
	ul3, err := cachelevel.New(cfg.Space, cfg.LevelSizes[2], cfg.LevelAssociativities[2], cfg.BlockSize, cfg.Policy, UL3Name, l3Read, l3Write)
	if err != nil {
		return nil, errors.Wrap(err, "hierarchy: UL3")
	}

	stats := metrics.New([]string{IL1Name, DL1Name, UL2Name, UL3Name, MEMName}, declaredTransitionPairs(), cfg.MetricsOptions...)

	return &Hierarchy{il1: il1, dl1: dl1, ul2: ul2, ul3: ul3, policy: cfg.Policy, variant: cfg.Variant, stats: stats}, nil
}

// Stats returns the metrics collector this hierarchy has been reporting
// into.
func (h *Hierarchy) Stats() *metrics.Metrics {
	return h.stats
}

func (h *Hierarchy) l1(forData bool) *cachelevel.Level {
	if forData {
		return h.dl1
	}
	return h.il1
}

func l1Name(forData bool) string {
	if forData {
		return DL1Name
	}
	return IL1Name
}

func touch(blk *block.Block, isRead bool) {
	if isRead {
		blk.Read()
	} else {
		blk.Write()
	}
}

func latencyFor(level *cachelevel.Level, isRead bool) int64 {
	if isRead {
		return level.ReadLatency
	}
	return level.WriteLatency
}

// newBlockFor constructs a fresh Block for placement into target, inheriting
// dirty from its source (false if sourced straight from MEM).
func (h *Hierarchy) newBlockFor(target *cachelevel.Level, address uint64, dirty bool) *block.Block {
	return block.New(address&target.BaseAddressMask(), dirty, h.policy, h.policy.DefaultMetadata())
}

// PerformFetch simulates a read access to address, returning the name of the
// level the access was ultimately satisfied from after any promotion
// (destination), the name of the level the block was actually found in
// (hitIn), and the resulting block.
func (h *Hierarchy) PerformFetch(address uint64, forData bool) (destination, hitIn string, blk *block.Block, err error) {
	return h.access(address, forData, true)
}

// PerformSet simulates a write access to address. Semantics mirror
// PerformFetch except Block.Write is used (marking blocks dirty) and, under
// ExclusiveBypassing, promotion never occurs on a store that hits below L1.
func (h *Hierarchy) PerformSet(address uint64, forData bool) (destination, hitIn string, blk *block.Block, err error) {
	return h.access(address, forData, false)
}

func (h *Hierarchy) access(address uint64, forData, isRead bool) (destination, hitIn string, result *block.Block, err error) {
	switch h.variant {
	case Inclusive:
		destination, hitIn, result, err = h.accessInclusive(address, forData, isRead)
	case ExclusiveBypassing:
		destination, hitIn, result, err = h.accessExclusiveBypassing(address, forData, isRead)
	default:
		return "", "", nil, errors.Errorf("hierarchy: unknown variant %d", h.variant)
	}
	if err != nil {
		return "", "", nil, err
	}
	h.policy.Step()
	return destination, hitIn, result, nil
}

// accessInclusive implements spec.md §4.4.1: probe top-down, and on a miss at
// every level, cascade-allocate from MEM up through L3, L2 and L1,
// discarding any eviction caused by promotion (the block is still present
// deeper in an inclusive hierarchy, so no write-back is needed).
func (h *Hierarchy) accessInclusive(address uint64, forData, isRead bool) (string, string, *block.Block, error) {
	l1, l1n := h.l1(forData), l1Name(forData)
	var latency int64

	// Each probed level's latency contributes to the access, whether it
	// hits or misses there (spec.md §4.4.1 step 1/3: "Add L.read_latency to
	// metrics" happens at every probe, not only the one that finally hits).
	latency += latencyFor(l1, isRead)
	if blk := l1.Get(address); blk != nil {
		touch(blk, isRead)
		h.stats.AddLatency(latency, isRead)
		h.stats.AddHit(address, l1n, isRead, !forData)
		// No promotion needed; record the access as a same-level self-pair,
		// matching the bypassing draft's unconditional transition logging
		// even on a direct hit.
		if err := h.stats.AddTransition(l1n, l1n, address); err != nil {
			return "", "", nil, err
		}
		return l1n, l1n, blk, nil
	}
	h.stats.AddMiss(l1n)

	latency += latencyFor(h.ul2, isRead)
	if blk := h.ul2.Get(address); blk != nil {
		touch(blk, isRead)
		h.stats.AddLatency(latency, isRead)
		h.stats.AddHit(address, UL2Name, isRead, !forData)
		promoted, err := h.promoteInclusive(l1, l1n, UL2Name, address, blk.IsDirty(), isRead)
		if err != nil {
			return "", "", nil, err
		}
		return l1n, UL2Name, promoted, nil
	}
	h.stats.AddMiss(UL2Name)

	latency += latencyFor(h.ul3, isRead)
	if blk := h.ul3.Get(address); blk != nil {
		touch(blk, isRead)
		h.stats.AddLatency(latency, isRead)
		h.stats.AddHit(address, UL3Name, isRead, !forData)
		ul2Block, err := h.promoteInclusive(h.ul2, UL2Name, UL3Name, address, blk.IsDirty(), isRead)
		if err != nil {
			return "", "", nil, err
		}
		l1Block, err := h.promoteInclusive(l1, l1n, UL2Name, address, ul2Block.IsDirty(), isRead)
		if err != nil {
			return "", "", nil, err
		}
		return l1n, UL3Name, l1Block, nil
	}
	h.stats.AddMiss(UL3Name)

	// Cold miss: allocate from MEM into UL3, then cascade up to UL2 and L1,
	// logging each single-hop step (MEM->UL3, UL3->UL2, UL2->L1) as the
	// block's own movement, in addition to any victim eviction a step causes.
	// MEM contributes no latency of its own (it carries no Level struct).
	memBlock := h.newBlockFor(h.ul3, address, false)
	touch(memBlock, isRead)
	if evicted := h.ul3.Put(memBlock); evicted != nil {
		if err := h.stats.AddTransition(UL3Name, MEMName, evicted.BaseAddress); err != nil {
			return "", "", nil, err
		}
	}
	h.stats.AddLatency(latency, isRead)
	h.stats.AddHit(address, MEMName, isRead, !forData)
	if err := h.stats.AddTransition(MEMName, UL3Name, address); err != nil {
		return "", "", nil, err
	}
	ul2Block, err := h.promoteInclusive(h.ul2, UL2Name, UL3Name, address, memBlock.IsDirty(), isRead)
	if err != nil {
		return "", "", nil, err
	}
	l1Block, err := h.promoteInclusive(l1, l1n, UL2Name, address, ul2Block.IsDirty(), isRead)
	if err != nil {
		return "", "", nil, err
	}
	return l1n, MEMName, l1Block, nil
}

// promoteInclusive constructs a fresh block for target, touches it, places
// it, and records two distinct transitions: the block's own single-hop
// movement (sourceName -> targetName, unconditional — this is what lets a
// cold miss surface as MEM->UL3, UL3->UL2, UL2->L1 rather than one
// multi-hop jump) and, if the placement displaced an existing occupant, that
// victim's eviction (targetName -> sourceName, for the victim's address).
func (h *Hierarchy) promoteInclusive(target *cachelevel.Level, targetName, sourceName string, address uint64, dirty, isRead bool) (*block.Block, error) {
	nb := h.newBlockFor(target, address, dirty)
	touch(nb, isRead)
	evicted := target.Put(nb)
	if err := h.stats.AddTransition(sourceName, targetName, address); err != nil {
		return nil, err
	}
	if evicted != nil {
		if err := h.stats.AddTransition(targetName, sourceName, evicted.BaseAddress); err != nil {
			return nil, err
		}
	}
	return nb, nil
}

// accessExclusiveBypassing implements spec.md §4.4.2.
func (h *Hierarchy) accessExclusiveBypassing(address uint64, forData, isRead bool) (string, string, *block.Block, error) {
	l1, l1n := h.l1(forData), l1Name(forData)
	var latency int64

	latency += latencyFor(l1, isRead)
	if blk := l1.Get(address); blk != nil {
		touch(blk, isRead)
		h.stats.AddLatency(latency, isRead)
		if err := h.recordAccess(address, l1n, l1n, isRead, forData); err != nil {
			return "", "", nil, err
		}
		return l1n, l1n, blk, nil
	}
	h.stats.AddMiss(l1n)

	latency += latencyFor(h.ul2, isRead)
	if blk := h.ul2.Get(address); blk != nil {
		touch(blk, isRead)
		destination := UL2Name
		result := blk
		if isRead {
			// Fetch: promote into L1 only; L1 evictions are dropped (the
			// block is still resident in UL2).
			nb := h.newBlockFor(l1, address, blk.IsDirty())
			nb.Read()
			if evicted := l1.Put(nb); evicted != nil {
				if err := h.stats.AddTransition(l1n, UL2Name, evicted.BaseAddress); err != nil {
					return "", "", nil, err
				}
			}
			destination, result = l1n, nb
		}
		// Store: no promotion to L1 — write in place at UL2, destination
		// stays UL2.
		h.stats.AddLatency(latency, isRead)
		if err := h.recordAccess(address, UL2Name, destination, isRead, forData); err != nil {
			return "", "", nil, err
		}
		return destination, UL2Name, result, nil
	}
	h.stats.AddMiss(UL2Name)

	latency += latencyFor(h.ul3, isRead)
	if blk := h.ul3.Get(address); blk != nil {
		touch(blk, isRead)
		destination := UL3Name
		result := blk
		if isRead {
			// Fetch: promote into UL2 only.
			nb := h.newBlockFor(h.ul2, address, blk.IsDirty())
			nb.Read()
			if evicted := h.ul2.Put(nb); evicted != nil {
				if err := h.stats.AddTransition(UL2Name, UL3Name, evicted.BaseAddress); err != nil {
					return "", "", nil, err
				}
			}
			destination, result = UL2Name, nb
		}
		// Store: write in place at UL3, no promotion.
		h.stats.AddLatency(latency, isRead)
		if err := h.recordAccess(address, UL3Name, destination, isRead, forData); err != nil {
			return "", "", nil, err
		}
		return destination, UL3Name, result, nil
	}
	h.stats.AddMiss(UL3Name)

	// Cold miss: install only into UL3, regardless of read or write. MEM
	// contributes no latency of its own.
	nb := h.newBlockFor(h.ul3, address, false)
	touch(nb, isRead)
	if evicted := h.ul3.Put(nb); evicted != nil {
		if err := h.stats.AddTransition(UL3Name, MEMName, evicted.BaseAddress); err != nil {
			return "", "", nil, err
		}
	}
	h.stats.AddLatency(latency, isRead)
	if err := h.recordAccess(address, MEMName, UL3Name, isRead, forData); err != nil {
		return "", "", nil, err
	}
	return UL3Name, MEMName, nb, nil
}

// recordAccess records the hit at hitIn and appends the (hitIn ->
// destination) transition row for this access (as distinct from eviction
// transitions). Latency is accumulated by the caller across every probed
// level and reported via a separate AddLatency call before this is invoked.
func (h *Hierarchy) recordAccess(address uint64, hitIn, destination string, isRead, forData bool) error {
	h.stats.AddHit(address, hitIn, isRead, !forData)
	return h.stats.AddTransition(hitIn, destination, address)
}

// Populate pre-loads address into level without counting it as a trace
// access — a cold warm-up helper (spec.md §4.4, §7). If the placement
// evicted an existing block, that's reported as a conflict: Populate is
// meant for conflict-free warm starts.
func (h *Hierarchy) Populate(address uint64, level *cachelevel.Level, dirty bool) error {
	nb := h.newBlockFor(level, address, dirty)
	if evicted := level.Put(nb); evicted != nil {
		return errors.Errorf("hierarchy: cold placement of 0x%x into %s evicted 0x%x", nb.BaseAddress, level.Name, evicted.BaseAddress)
	}
	return nil
}

// Level returns the named level for use with Populate, or nil if name isn't
// one of IL1Name/DL1Name/UL2Name/UL3Name.
func (h *Hierarchy) Level(name string) *cachelevel.Level {
	switch name {
	case IL1Name:
		return h.il1
	case DL1Name:
		return h.dl1
	case UL2Name:
		return h.ul2
	case UL3Name:
		return h.ul3
	default:
		return nil
	}
}

// Clock returns the hierarchy's shared replacement-policy clock.
func (h *Hierarchy) Clock() int64 {
	return h.policy.Clock()
}
