package policy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cachetrace/simcache/internal/block"
)

func blockWith(addr uint64, data int64) *block.Block {
	b := block.New(addr, false, nil, 0)
	b.PolicyData = data
	return b
}

func TestDefaultMetadata(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	lru := New(LRU, rng)
	lru.Step()
	lru.Step()
	assert.Equal(t, int64(2), lru.DefaultMetadata())

	lfu := New(LFU, rng)
	lfu.Step()
	assert.Equal(t, int64(0), lfu.DefaultMetadata())

	nmfu := New(NMFU, rng)
	assert.Equal(t, int64(0), nmfu.DefaultMetadata())
}

func TestTouchLRU(t *testing.T) {
	p := New(LRU, rand.New(rand.NewSource(1)))
	p.Step()
	p.Step()
	p.Step()
	assert.Equal(t, int64(3), p.Touch(0))
}

func TestTouchLFU(t *testing.T) {
	p := New(LFU, rand.New(rand.NewSource(1)))
	assert.Equal(t, int64(1), p.Touch(0))
	assert.Equal(t, int64(6), p.Touch(5))
}

func TestTouchRANDUnchanged(t *testing.T) {
	p := New(RAND, rand.New(rand.NewSource(1)))
	assert.Equal(t, int64(11), p.Touch(11))
}

func TestEvictLRUPicksSmallest(t *testing.T) {
	p := New(LRU, rand.New(rand.NewSource(1)))
	occupants := []*block.Block{blockWith(0x1000, 5), blockWith(0x2000, 1), blockWith(0x3000, 9)}
	victim := p.Evict(occupants)
	assert.Equal(t, uint64(0x2000), victim.BaseAddress)
}

func TestEvictLRUTieBreaksFirst(t *testing.T) {
	p := New(LRU, rand.New(rand.NewSource(1)))
	occupants := []*block.Block{blockWith(0x1000, 3), blockWith(0x2000, 3)}
	victim := p.Evict(occupants)
	assert.Equal(t, uint64(0x1000), victim.BaseAddress)
}

func TestEvictPanicsOnEmptySet(t *testing.T) {
	p := New(LRU, rand.New(rand.NewSource(1)))
	assert.Panics(t, func() { p.Evict(nil) })
}

func TestEvictNMRUSingleOccupantAlwaysEvicts(t *testing.T) {
	p := New(NMRU, rand.New(rand.NewSource(1)))
	occupants := []*block.Block{blockWith(0x1000, 5)}
	victim := p.Evict(occupants)
	assert.Equal(t, uint64(0x1000), victim.BaseAddress)
}

func TestEvictNMRUNeverPicksMaximum(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(rt, "n")
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(rt, "seed")))
		p := New(NMRU, rng)

		occupants := make([]*block.Block, n)
		maxIdx := 0
		for i := 0; i < n; i++ {
			data := rapid.Int64Range(0, 1000).Draw(rt, "data")
			occupants[i] = blockWith(uint64(i+1), data)
			if occupants[i].GetPolicyData() > occupants[maxIdx].GetPolicyData() {
				maxIdx = i
			}
		}

		for trial := 0; trial < 20; trial++ {
			victim := p.Evict(occupants)
			// It's fine for the victim to tie the max's value as long as it
			// isn't the block object that holds the maximum, matching
			// evictNotMax's exclusion by pointer identity.
			assert.NotSame(rt, occupants[maxIdx], victim)
		}
	})
}

func TestEvictRANDUniform(t *testing.T) {
	p := New(RAND, rand.New(rand.NewSource(42)))
	occupants := []*block.Block{blockWith(1, 0), blockWith(2, 0), blockWith(3, 0), blockWith(4, 0)}
	counts := make(map[uint64]int)
	const trials = 4000
	for i := 0; i < trials; i++ {
		victim := p.Evict(occupants)
		counts[victim.BaseAddress]++
	}
	require.Len(t, counts, len(occupants))
	for _, c := range counts {
		// Loose bound: each slot should get roughly trials/len(occupants),
		// allowing generous statistical slack.
		assert.Greater(t, c, trials/len(occupants)/2)
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "LRU", LRU.String())
	assert.Equal(t, "NMFU", NMFU.String())
}
