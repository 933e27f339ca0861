// Package metrics implements the cache-hierarchy metrics collector: per-level
// hit/miss counters, a per-address block-movement histogram, global access
// counters split by read/write and instruction/data, and running latency
// sums, plus serialization of the final report (spec.md §4.5, §6).
package metrics

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
)

// Pair names a declared (from, to) transition the hierarchy may report. Any
// transition named at runtime that wasn't declared at construction is a
// configuration error (spec.md §4.4, §7).
type Pair struct {
	From, To string
}

func (p Pair) key() string    { return p.From + "->" + p.To }
func (p Pair) String() string { return p.key() }

// ErrUnknownTransition is returned by AddTransition for a (from, to) pair
// that wasn't declared at construction.
var ErrUnknownTransition = errors.New("transition pair was not declared at construction")

type addressStats struct {
	transitions map[string]int64
	accesses    int64
}

// Metrics aggregates the counters and histograms a hierarchy reports into as
// it processes trace records.
type Metrics struct {
	levelOrder []string
	hits       map[string]int64
	misses     map[string]int64

	declaredPairs []Pair
	declaredSet   map[string]bool

	perAddress   map[uint64]*addressStats
	addressOrder []uint64

	lastSeen      map[uint64]int64
	totalDistance map[uint64]int64

	totalAccesses, readAccesses, writeAccesses int64
	dataAccesses, instructionAccesses          int64

	totalLatency, readLatency, writeLatency int64

	bounded          *lru.Cache[uint64, struct{}]
	droppedAddresses int64
}

// Option configures optional Metrics behavior.
type Option func(*Metrics)

// WithBoundedAddresses caps the number of distinct addresses whose
// transition histograms are retained to n, evicting the least-recently-
// touched address's row when the cap is exceeded. Unbounded (the default,
// when this option isn't supplied) matches spec.md exactly; this is a
// memory-safety supplement for very long traces over huge address ranges
// (SPEC_FULL.md §3).
func WithBoundedAddresses(n int) Option {
	return func(m *Metrics) {
		c, err := lru.New[uint64, struct{}](n)
		if err != nil {
			panic(errors.Wrap(err, "metrics: invalid bounded-address capacity"))
		}
		m.bounded = c
	}
}

// New constructs a Metrics collector. levelNames fixes the order levels are
// printed in the "Overall Stats" block; transitionPairs fixes the set of
// (from, to) pairs AddTransition will accept, and the order they're printed
// in the "Transition Stats" header.
func New(levelNames []string, transitionPairs []Pair, opts ...Option) *Metrics {
	m := &Metrics{
		levelOrder:    append([]string(nil), levelNames...),
		hits:          make(map[string]int64, len(levelNames)),
		misses:        make(map[string]int64, len(levelNames)),
		declaredPairs: append([]Pair(nil), transitionPairs...),
		declaredSet:   make(map[string]bool, len(transitionPairs)),
		perAddress:    make(map[uint64]*addressStats),
		lastSeen:      make(map[uint64]int64),
		totalDistance: make(map[uint64]int64),
	}
	for _, name := range levelNames {
		m.hits[name] = 0
		m.misses[name] = 0
	}
	for _, p := range transitionPairs {
		m.declaredSet[p.key()] = true
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddHit records a hit at level for an access to address.
func (m *Metrics) AddHit(address uint64, level string, isRead, isInstruction bool) {
	m.hits[level]++
	m.totalAccesses++
	if isRead {
		m.readAccesses++
	} else {
		m.writeAccesses++
	}
	if isInstruction {
		m.instructionAccesses++
	} else {
		m.dataAccesses++
	}

	if last, seen := m.lastSeen[address]; seen {
		m.totalDistance[address] += m.totalAccesses - last
	}
	m.lastSeen[address] = m.totalAccesses

	stats := m.addressStats(address)
	stats.accesses++
}

// AddMiss records a miss at level.
func (m *Metrics) AddMiss(level string) {
	m.misses[level]++
}

// AddTransition records one block movement from -> to for address. The pair
// must have been declared at construction.
func (m *Metrics) AddTransition(from, to string, address uint64) error {
	p := Pair{From: from, To: to}
	if !m.declaredSet[p.key()] {
		return errors.Wrapf(ErrUnknownTransition, "%s", p.key())
	}
	stats := m.addressStats(address)
	stats.transitions[p.key()]++
	return nil
}

// AddLatency accumulates amount into the running latency sums.
func (m *Metrics) AddLatency(amount int64, isRead bool) {
	m.totalLatency += amount
	if isRead {
		m.readLatency += amount
	} else {
		m.writeLatency += amount
	}
}

// addressStats returns the per-address row for address, initializing it
// (with every declared pair zeroed) on first touch, and applying the
// bounded-address eviction policy if configured.
func (m *Metrics) addressStats(address uint64) *addressStats {
	if s, ok := m.perAddress[address]; ok {
		if m.bounded != nil {
			m.bounded.Add(address, struct{}{})
		}
		return s
	}
	s := &addressStats{transitions: make(map[string]int64, len(m.declaredPairs))}
	for _, p := range m.declaredPairs {
		s.transitions[p.key()] = 0
	}
	m.perAddress[address] = s
	m.addressOrder = append(m.addressOrder, address)

	if m.bounded != nil {
		oldest, _, hadOldest := m.bounded.GetOldest()
		if evicted := m.bounded.Add(address, struct{}{}); evicted && hadOldest {
			delete(m.perAddress, oldest)
			m.droppedAddresses++
		}
	}
	return s
}

// Hits returns the hit count recorded at level.
func (m *Metrics) Hits(level string) int64 { return m.hits[level] }

// Misses returns the miss count recorded at level.
func (m *Metrics) Misses(level string) int64 { return m.misses[level] }

// TotalAccesses returns the number of completed accesses recorded so far.
func (m *Metrics) TotalAccesses() int64 { return m.totalAccesses }

// DroppedAddresses returns how many address rows were evicted under a
// WithBoundedAddresses cap. Always zero in unbounded mode.
func (m *Metrics) DroppedAddresses() int64 { return m.droppedAddresses }

// Save writes the canonical textual report (spec.md §6) to w.
func (m *Metrics) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "Overall Stats:")
	for _, name := range m.levelOrder {
		fmt.Fprintf(bw, "%s - %d misses %d hits\n", name, m.misses[name], m.hits[name])
	}
	fmt.Fprintf(bw, "Total Accesses: %d\n", m.totalAccesses)
	fmt.Fprintf(bw, "Total Read Accesses: %d\n", m.readAccesses)
	fmt.Fprintf(bw, "Total Write Accesses: %d\n", m.writeAccesses)
	fmt.Fprintf(bw, "Total Data Accesses: %d\n", m.dataAccesses)
	fmt.Fprintf(bw, "Total Instr Accesses: %d\n", m.instructionAccesses)
	fmt.Fprintf(bw, "Average Latency: %s\n", formatAverage(m.totalLatency, m.totalAccesses))
	fmt.Fprintf(bw, "Average Read Latency: %s\n", formatAverage(m.readLatency, m.readAccesses))
	fmt.Fprintf(bw, "Average Write Latency: %s\n", formatAverage(m.writeLatency, m.writeAccesses))

	fmt.Fprintln(bw, "Transition Stats:")
	header := make([]string, len(m.declaredPairs))
	for i, p := range m.declaredPairs {
		header[i] = p.key()
	}
	fmt.Fprintln(bw, joinSpace(header))

	for _, addr := range m.addressOrder {
		stats, ok := m.perAddress[addr]
		if !ok {
			continue // evicted under a bounded-address cap
		}
		fmt.Fprintf(bw, "0x%x:%s\n", addr, formatAddressRow(m.declaredPairs, stats, m.totalDistance[addr]))
	}

	if m.bounded != nil && m.droppedAddresses > 0 {
		fmt.Fprintf(bw, "# dropped-addresses: %d\n", m.droppedAddresses)
	}

	return bw.Flush()
}

func formatAverage(sum, count int64) string {
	if count == 0 {
		return "0.0000"
	}
	return fmt.Sprintf("%.4f", float64(sum)/float64(count))
}

func formatAddressRow(pairs []Pair, stats *addressStats, totalDistance int64) string {
	parts := make([]string, 0, len(pairs)+2)
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%q: %d", p.key(), stats.transitions[p.key()]))
	}
	parts = append(parts, fmt.Sprintf("%q: %d", "accesses", stats.accesses))
	avgDistance := float64(0)
	if stats.accesses > 0 {
		avgDistance = float64(totalDistance) / float64(stats.accesses)
	}
	parts = append(parts, fmt.Sprintf("%q: %.4f", "avg-distance", avgDistance))
	return "{" + joinComma(parts) + "}"
}

func joinSpace(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// LevelStats is the hit/miss pair reported for one cache level.
type LevelStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// AddressReport is one address's transition histogram row, in the shape the
// --format=json CLI output serializes.
type AddressReport struct {
	Address     string           `json:"address"`
	Transitions map[string]int64 `json:"transitions"`
	Accesses    int64            `json:"accesses"`
	AvgDistance float64          `json:"avg_distance"`
}

// Report is a structured, JSON-friendly snapshot of the same data Save
// writes as text — an alternative output format (SPEC_FULL.md §3), not a
// replacement for the canonical text report.
type Report struct {
	Levels              map[string]LevelStats `json:"levels"`
	TotalAccesses       int64                 `json:"total_accesses"`
	ReadAccesses        int64                 `json:"read_accesses"`
	WriteAccesses       int64                 `json:"write_accesses"`
	DataAccesses        int64                 `json:"data_accesses"`
	InstructionAccesses int64                 `json:"instruction_accesses"`
	AverageLatency      float64               `json:"average_latency"`
	AverageReadLatency  float64               `json:"average_read_latency"`
	AverageWriteLatency float64               `json:"average_write_latency"`
	Addresses           []AddressReport       `json:"addresses"`
	DroppedAddresses    int64                 `json:"dropped_addresses,omitempty"`
}

// Report builds a structured snapshot of the collector's current state.
func (m *Metrics) Report() Report {
	levels := make(map[string]LevelStats, len(m.levelOrder))
	for _, name := range m.levelOrder {
		levels[name] = LevelStats{Hits: m.hits[name], Misses: m.misses[name]}
	}

	addresses := make([]AddressReport, 0, len(m.perAddress))
	for _, addr := range m.SortedAddresses() {
		stats := m.perAddress[addr]
		transitions := make(map[string]int64, len(m.declaredPairs))
		for _, p := range m.declaredPairs {
			transitions[p.key()] = stats.transitions[p.key()]
		}
		avgDistance := float64(0)
		if stats.accesses > 0 {
			avgDistance = float64(m.totalDistance[addr]) / float64(stats.accesses)
		}
		addresses = append(addresses, AddressReport{
			Address:     fmt.Sprintf("0x%x", addr),
			Transitions: transitions,
			Accesses:    stats.accesses,
			AvgDistance: avgDistance,
		})
	}

	return Report{
		Levels:              levels,
		TotalAccesses:       m.totalAccesses,
		ReadAccesses:        m.readAccesses,
		WriteAccesses:       m.writeAccesses,
		DataAccesses:        m.dataAccesses,
		InstructionAccesses: m.instructionAccesses,
		AverageLatency:      averageFloat(m.totalLatency, m.totalAccesses),
		AverageReadLatency:  averageFloat(m.readLatency, m.readAccesses),
		AverageWriteLatency: averageFloat(m.writeLatency, m.writeAccesses),
		Addresses:           addresses,
		DroppedAddresses:    m.droppedAddresses,
	}
}

func averageFloat(sum, count int64) float64 {
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// SortedAddresses returns every address with a recorded row, sorted
// ascending — used by tests and by the --format=json export, where a
// deterministic order matters more than matching insertion order.
func (m *Metrics) SortedAddresses() []uint64 {
	out := make([]uint64, 0, len(m.perAddress))
	for addr := range m.perAddress {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
