// Package cachelevel implements one set-associative cache level: address
// decomposition into tag/index/offset, set lookup, placement and
// policy-delegated eviction. A CacheLevel has no notion of the levels above
// or below it — that orchestration belongs to package hierarchy.
package cachelevel

import (
	"math/bits"

	"github.com/pkg/errors"

	"github.com/cachetrace/simcache/internal/block"
	"github.com/cachetrace/simcache/internal/simaddr"
)

// Policy is the subset of policy.Policy a CacheLevel needs: it never steps
// the clock or reports its own name, it only asks for a victim and for the
// metadata a fresh block should start with.
type Policy interface {
	block.Toucher
	DefaultMetadata() int64
	Evict(occupants []*block.Block) *block.Block
}

// Config-time errors. All are wrapped with the offending field via
// errors.Wrapf at the call site, matching the erigon convention of sentinel
// errors plus contextual wrapping.
var (
	ErrNotPowerOfTwo         = errors.New("value must be a power of two")
	ErrAssociativityMismatch = errors.New("associativity does not evenly divide the block count into a power-of-two set count")
	ErrAddressTooWide        = errors.New("address space too narrow for the requested geometry")
)

// Level is one set-associative cache: a fixed topology of sets, each a
// fixed-size array of ways.
type Level struct {
	Name         string
	ReadLatency  int64
	WriteLatency int64

	space         simaddr.Space
	size          int
	associativity int
	blockSize     int

	numBlocks int
	numSets   int

	offsetBits int
	indexBits  int
	tagBits    int

	baseAddressMask uint64

	policy Policy
	sets   [][]*block.Block
}

// New constructs a Level. size, associativity and blockSize must all be
// powers of two and size must equal associativity*numSets*blockSize exactly
// (spec.md §3 invariants) — otherwise a configuration error is returned.
func New(space simaddr.Space, size, associativity, blockSize int, policy Policy, name string, readLatency, writeLatency int64) (*Level, error) {
	if !isPowerOfTwo(size) {
		return nil, errors.Wrapf(ErrNotPowerOfTwo, "%s: size %d", name, size)
	}
	if !isPowerOfTwo(associativity) {
		return nil, errors.Wrapf(ErrNotPowerOfTwo, "%s: associativity %d", name, associativity)
	}
	if !isPowerOfTwo(blockSize) {
		return nil, errors.Wrapf(ErrNotPowerOfTwo, "%s: block size %d", name, blockSize)
	}

	numBlocks := size / blockSize
	if numBlocks == 0 || numBlocks%associativity != 0 {
		return nil, errors.Wrapf(ErrAssociativityMismatch, "%s: %d blocks, associativity %d", name, numBlocks, associativity)
	}
	numSets := numBlocks / associativity
	if !isPowerOfTwo(numSets) {
		return nil, errors.Wrapf(ErrAssociativityMismatch, "%s: derived %d sets is not a power of two", name, numSets)
	}

	offsetBits := bits.TrailingZeros(uint(blockSize))
	indexBits := bits.TrailingZeros(uint(numSets))
	tagBits := space.Width() - offsetBits - indexBits
	if tagBits < 0 {
		return nil, errors.Wrapf(ErrAddressTooWide, "%s: needs %d offset+index bits, address space is %d bits", name, offsetBits+indexBits, space.Width())
	}

	baseAddressMask := ((uint64(1) << uint(tagBits+indexBits)) - 1) << uint(offsetBits)

	sets := make([][]*block.Block, numSets)
	for i := range sets {
		sets[i] = make([]*block.Block, associativity)
	}

	return &Level{
		Name:            name,
		ReadLatency:     readLatency,
		WriteLatency:    writeLatency,
		space:           space,
		size:            size,
		associativity:   associativity,
		blockSize:       blockSize,
		numBlocks:       numBlocks,
		numSets:         numSets,
		offsetBits:      offsetBits,
		indexBits:       indexBits,
		tagBits:         tagBits,
		baseAddressMask: baseAddressMask,
		policy:          policy,
		sets:            sets,
	}, nil
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// setIndex computes the set an address maps to.
func (l *Level) setIndex(address uint64) int {
	return int(uint64(l.numSets-1) & (address >> uint(l.offsetBits)))
}

// BaseAddressMask returns the mask that clears an address down to its base
// address for this level's geometry.
func (l *Level) BaseAddressMask() uint64 {
	return l.baseAddressMask
}

// baseAddress derives the base address of address under this level's
// offset bits.
func (l *Level) baseAddress(address uint64) uint64 {
	return (address >> uint(l.offsetBits)) << uint(l.offsetBits)
}

// Policy returns the replacement policy this level delegates eviction to.
func (l *Level) Policy() Policy {
	return l.policy
}

// BlockSize returns the configured block size in bytes.
func (l *Level) BlockSize() int {
	return l.blockSize
}

// NumSets returns the number of sets in this level.
func (l *Level) NumSets() int {
	return l.numSets
}

// Associativity returns the number of ways per set.
func (l *Level) Associativity() int {
	return l.associativity
}

// Get performs a pure lookup: it neither touches nor mutates any metadata.
// Callers decide whether the access counts as a read or write hit and
// invoke Block.Read/Block.Write themselves.
func (l *Level) Get(address uint64) *block.Block {
	set := l.sets[l.setIndex(address)]
	base := l.baseAddress(address)
	for _, b := range set {
		if b != nil && b.BaseAddress == base {
			return b
		}
	}
	return nil
}

// Put places blk into this level. Three cases, in priority order: an
// existing block with the same base address is overwritten in place (a
// rewrite, reported as no eviction); an empty slot is used if one exists (in
// first-slot order); otherwise the policy selects a victim to make room.
// The evicted block, if any, is returned — it is no longer reachable from
// this level afterward.
func (l *Level) Put(blk *block.Block) *block.Block {
	set := l.sets[l.setIndex(blk.BaseAddress)]

	for i, existing := range set {
		if existing != nil && existing.BaseAddress == blk.BaseAddress {
			set[i] = blk
			return nil
		}
	}

	for i, existing := range set {
		if existing == nil {
			set[i] = blk
			return nil
		}
	}

	victim := l.policy.Evict(set)
	for i, existing := range set {
		if existing == victim {
			set[i] = blk
			return victim
		}
	}
	panic("cachelevel: policy selected a victim not present in the set")
}

// Remove clears blk's slot, if present. A no-op if blk isn't resident.
func (l *Level) Remove(blk *block.Block) {
	l.RemoveByBaseAddress(blk.BaseAddress)
}

// RemoveByBaseAddress clears the slot holding baseAddress, if present.
func (l *Level) RemoveByBaseAddress(baseAddress uint64) {
	set := l.sets[l.setIndex(baseAddress)]
	for i, existing := range set {
		if existing != nil && existing.BaseAddress == baseAddress {
			set[i] = nil
			return
		}
	}
}

// Occupants returns a defensive copy of set s's slots (nil entries included
// for empty ways), for invariant-checking tests.
func (l *Level) Occupants(s int) []*block.Block {
	out := make([]*block.Block, len(l.sets[s]))
	copy(out, l.sets[s])
	return out
}
