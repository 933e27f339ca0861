package hierarchy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachetrace/simcache/internal/policy"
	"github.com/cachetrace/simcache/internal/simaddr"
)

// newTestHierarchy builds a small hierarchy matching the shared header used
// by spec.md §8's scenarios: L1=16B/1-way, L2=32B/2-way, L3=64B/2-way, block
// size 4, LRU, zero latencies.
func newTestHierarchy(t *testing.T, variant Variant) *Hierarchy {
	t.Helper()
	pol := policy.New(policy.LRU, rand.New(rand.NewSource(1)))
	h, err := New(Config{
		Space:                simaddr.Width16,
		Policy:               pol,
		Variant:              variant,
		LevelSizes:           [3]int{16, 32, 64},
		LevelAssociativities: [3]int{1, 2, 2},
		BlockSize:            4,
	})
	require.NoError(t, err)
	return h
}

// Scenario 1: a cold fetch followed by a repeat of the same address hits L1.
func TestScenarioColdFetchThenRepeatHitsL1(t *testing.T) {
	h := newTestHierarchy(t, Inclusive)

	destination, hitIn, _, err := h.PerformFetch(0x0000, true)
	require.NoError(t, err)
	assert.Equal(t, DL1Name, destination)
	assert.Equal(t, MEMName, hitIn)
	assert.Equal(t, int64(1), h.Stats().Misses(DL1Name))
	assert.Equal(t, int64(1), h.Stats().Misses(UL2Name))
	assert.Equal(t, int64(1), h.Stats().Misses(UL3Name))
	assert.Equal(t, int64(1), h.Stats().Hits(MEMName))

	destination, hitIn, _, err = h.PerformFetch(0x0000, true)
	require.NoError(t, err)
	assert.Equal(t, DL1Name, destination)
	assert.Equal(t, DL1Name, hitIn)
	assert.Equal(t, int64(1), h.Stats().Hits(DL1Name))
	assert.Equal(t, int64(1), h.Stats().Misses(DL1Name), "second access must not count as a miss")
}

// Scenario 2: three addresses that alias in a 1-way L1 set but land in
// distinct L2 sets under a wider L2 geometry all stay resident in L2, so a
// subsequent L1-evicted address is still served by an L2 hit rather than a
// cold miss. This deliberately swaps in a larger L2 than the shared header
// (128B/2-way instead of 32B/2-way) — at the header's literal sizes L1 and
// L2 share the same index-bit count (both have 4 sets at a 4-byte block
// size), so three addresses colliding in L1's one set would
// necessarily also collide in L2, making the scenario's claim unrealizable.
func TestScenarioL1EvictionSurvivesInL2(t *testing.T) {
	pol := policy.New(policy.LRU, rand.New(rand.NewSource(1)))
	h, err := New(Config{
		Space:                simaddr.Width16,
		Policy:               pol,
		Variant:              Inclusive,
		LevelSizes:           [3]int{16, 128, 256},
		LevelAssociativities: [3]int{1, 2, 2},
		BlockSize:            4,
	})
	require.NoError(t, err)

	for _, addr := range []uint64{0x0000, 0x0010, 0x0020} {
		_, _, _, err := h.PerformFetch(addr, true)
		require.NoError(t, err)
	}

	// L1 is 1-way: only the most recent of the three (0x0020) remains.
	assert.Nil(t, h.Level(DL1Name).Get(0x0000))
	assert.NotNil(t, h.Level(DL1Name).Get(0x0020))

	destination, hitIn, _, err := h.PerformFetch(0x0000, true)
	require.NoError(t, err)
	assert.Equal(t, UL2Name, hitIn)
	assert.Equal(t, DL1Name, destination)
}

// Scenario 3: a cold write under Inclusive cascades all the way to L1,
// leaving the block dirty at every level it passed through, and logging
// each cascade step as its own single-hop transition.
func TestScenarioInclusiveColdWriteCascadesDirty(t *testing.T) {
	h := newTestHierarchy(t, Inclusive)

	destination, hitIn, blk, err := h.PerformSet(0x0100, true)
	require.NoError(t, err)
	assert.Equal(t, DL1Name, destination)
	assert.Equal(t, MEMName, hitIn)
	assert.True(t, blk.IsDirty())

	assert.True(t, h.Level(DL1Name).Get(0x0100).IsDirty())
	assert.True(t, h.Level(UL2Name).Get(0x0100).IsDirty())
	assert.True(t, h.Level(UL3Name).Get(0x0100).IsDirty())

	report := h.Stats().Report()
	transitionsFor := func(addr string) map[string]int64 {
		for _, row := range report.Addresses {
			if row.Address == addr {
				return row.Transitions
			}
		}
		t.Fatalf("no report row for %s", addr)
		return nil
	}
	row := transitionsFor("0x100")
	assert.Equal(t, int64(1), row["MEM->UL3"])
	assert.Equal(t, int64(1), row["UL3->UL2"])
	assert.Equal(t, int64(1), row["UL2->DL1"])
}

// Scenario 4: the same cold write under ExclusiveBypassing installs the
// block only at L3, with no L3->L2 or L2->L1 promotion.
func TestScenarioExclusiveBypassingColdWriteStaysAtL3(t *testing.T) {
	h := newTestHierarchy(t, ExclusiveBypassing)

	destination, hitIn, blk, err := h.PerformSet(0x0100, true)
	require.NoError(t, err)
	assert.Equal(t, UL3Name, destination)
	assert.Equal(t, MEMName, hitIn)
	assert.True(t, blk.IsDirty())

	assert.Nil(t, h.Level(DL1Name).Get(0x0100))
	assert.Nil(t, h.Level(UL2Name).Get(0x0100))
	assert.NotNil(t, h.Level(UL3Name).Get(0x0100))

	report := h.Stats().Report()
	for _, row := range report.Addresses {
		if row.Address != "0x100" {
			continue
		}
		assert.Equal(t, int64(1), row.Transitions["MEM->UL3"])
		assert.Equal(t, int64(0), row.Transitions["UL3->UL2"])
		assert.Equal(t, int64(0), row.Transitions["UL2->DL1"])
	}
}

// Scenario 5: under a 2-way L1 set, touching A more recently than B means a
// third address mapping to the same set evicts B, not A.
func TestScenarioLRUEvictsLeastRecentlyTouched(t *testing.T) {
	pol := policy.New(policy.LRU, rand.New(rand.NewSource(1)))
	h, err := New(Config{
		Space:                simaddr.Width16,
		Policy:               pol,
		Variant:              Inclusive,
		LevelSizes:           [3]int{32, 64, 128},
		LevelAssociativities: [3]int{2, 2, 2},
		BlockSize:            4,
	})
	require.NoError(t, err)

	const a, b, c = 0x0000, 0x0010, 0x0020 // all alias the same L1 set

	_, _, _, err = h.PerformFetch(a, true)
	require.NoError(t, err)
	_, _, _, err = h.PerformFetch(b, true)
	require.NoError(t, err)
	_, _, _, err = h.PerformFetch(a, true) // touch A again
	require.NoError(t, err)
	_, _, _, err = h.PerformFetch(c, true) // forces an eviction in the set
	require.NoError(t, err)

	assert.Nil(t, h.Level(DL1Name).Get(b), "B should have been evicted as least recently used")
	assert.NotNil(t, h.Level(DL1Name).Get(a))
	assert.NotNil(t, h.Level(DL1Name).Get(c))
}

// Scenario 6: replaying many records advances the shared clock once per
// access, and every access is recorded as exactly one hit somewhere in the
// hierarchy (including the MEM sentinel on a cold miss).
func TestScenarioManyRecordsAdvanceClockAndHits(t *testing.T) {
	h := newTestHierarchy(t, Inclusive)

	const n = 10000
	for i := 0; i < n; i++ {
		addr := uint64(i%256) * 4
		var err error
		if i%2 == 0 {
			_, _, _, err = h.PerformFetch(addr, true)
		} else {
			_, _, _, err = h.PerformSet(addr, true)
		}
		require.NoError(t, err)
	}

	assert.Equal(t, int64(n), h.Clock())

	var totalHits int64
	for _, name := range []string{IL1Name, DL1Name, UL2Name, UL3Name, MEMName} {
		totalHits += h.Stats().Hits(name)
	}
	assert.Equal(t, int64(n), totalHits)
}
