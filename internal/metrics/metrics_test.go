package metrics

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	return New([]string{"L1", "L2"}, []Pair{{From: "L1", To: "L2"}, {From: "L2", To: "MEM"}})
}

func TestAddHitAndMiss(t *testing.T) {
	m := newTestMetrics()
	m.AddHit(0x1000, "L1", true, false)
	m.AddMiss("L2")

	assert.Equal(t, int64(1), m.Hits("L1"))
	assert.Equal(t, int64(0), m.Hits("L2"))
	assert.Equal(t, int64(1), m.Misses("L2"))
	assert.Equal(t, int64(1), m.TotalAccesses())
}

func TestAddTransitionRejectsUndeclaredPair(t *testing.T) {
	m := newTestMetrics()
	err := m.AddTransition("L2", "L1", 0x1000)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTransition)
}

func TestAddTransitionAccepted(t *testing.T) {
	m := newTestMetrics()
	require.NoError(t, m.AddTransition("L1", "L2", 0x1000))
	require.NoError(t, m.AddTransition("L1", "L2", 0x1000))

	report := m.Report()
	require.Len(t, report.Addresses, 1)
	assert.Equal(t, int64(2), report.Addresses[0].Transitions["L1->L2"])
}

func TestTotalDistanceTracksRecency(t *testing.T) {
	m := newTestMetrics()
	m.AddHit(0x1000, "L1", true, false) // access 1, distance contribution 0
	m.AddHit(0x2000, "L1", true, false) // access 2
	m.AddHit(0x1000, "L1", true, false) // access 3, distance = 3-1 = 2

	report := m.Report()
	var row *AddressReport
	for i := range report.Addresses {
		if report.Addresses[i].Address == "0x1000" {
			row = &report.Addresses[i]
		}
	}
	require.NotNil(t, row)
	assert.InDelta(t, 1.0, row.AvgDistance, 0.0001) // total distance 2 over 2 accesses
}

func TestBoundedAddressesEvictsOldest(t *testing.T) {
	m := New([]string{"L1"}, nil, WithBoundedAddresses(2))
	m.AddHit(0x1, "L1", true, false)
	m.AddHit(0x2, "L1", true, false)
	m.AddHit(0x3, "L1", true, false) // evicts 0x1's row

	assert.Equal(t, int64(1), m.DroppedAddresses())
	report := m.Report()
	assert.Len(t, report.Addresses, 2)
}

func TestSaveProducesCanonicalFormat(t *testing.T) {
	m := newTestMetrics()
	m.AddHit(0x10, "L1", true, false)
	m.AddMiss("L2")
	require.NoError(t, m.AddTransition("L1", "L2", 0x10))
	m.AddLatency(4, true)

	var buf strings.Builder
	require.NoError(t, m.Save(&buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "Overall Stats:\n"))
	assert.Contains(t, out, "L1 - 0 misses 1 hits\n")
	assert.Contains(t, out, "L2 - 1 misses 0 hits\n")
	assert.Contains(t, out, "Total Accesses: 1\n")
	assert.Contains(t, out, "Average Latency: 4.0000\n")
	assert.Contains(t, out, "Transition Stats:\n")
	assert.Contains(t, out, "L1->L2 L2->MEM\n")
	assert.Contains(t, out, `0x10:{"L1->L2": 1, "L2->MEM": 0, "accesses": 1, "avg-distance": 0.0000}`)
}

func TestReportMatchesDirectComputation(t *testing.T) {
	m := newTestMetrics()
	m.AddHit(0x20, "L1", false, true)
	require.NoError(t, m.AddTransition("L1", "L2", 0x20))

	got := m.Report()
	want := Report{
		Levels: map[string]LevelStats{"L1": {Hits: 1, Misses: 0}, "L2": {Hits: 0, Misses: 0}},
		TotalAccesses:       1,
		WriteAccesses:       1,
		InstructionAccesses: 1,
		Addresses: []AddressReport{
			{Address: "0x20", Transitions: map[string]int64{"L1->L2": 1, "L2->MEM": 0}, Accesses: 1, AvgDistance: 0},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("report mismatch (-want +got):\n%s", diff)
	}
}
