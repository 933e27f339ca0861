// Package block defines the atomic storage unit of a cache level.
package block

// Toucher is the behavior a Block needs from its owning replacement policy:
// compute fresh per-block metadata in response to an access. Policies are
// otherwise unaware of Block as a concrete type, which keeps the dependency
// one-directional (block -> policy metadata, never policy -> block storage).
type Toucher interface {
	Touch(currentMetadata int64) int64
}

// Block is one cache line: a base address, a dirty bit, and opaque
// replacement-policy metadata. Two Blocks are equal iff their base addresses
// match; Dirty and PolicyData never participate in identity, so equality is
// exposed as an explicit method rather than overloaded, and callers must use
// SameBaseAddress (or BaseAddress ==) for set-membership tests.
type Block struct {
	BaseAddress uint64
	Dirty       bool
	PolicyData  int64

	policy Toucher
}

// New creates a Block owned by policy, seeding its metadata from
// policy.Touch applied to the zero value is wrong for some policies (e.g.
// LFU wants 0, LRU wants the current clock) — so callers supply the policy's
// default via defaultMetadata rather than relying on a zero value.
func New(baseAddress uint64, dirty bool, policy Toucher, defaultMetadata int64) *Block {
	return &Block{
		BaseAddress: baseAddress,
		Dirty:       dirty,
		policy:      policy,
		PolicyData:  defaultMetadata,
	}
}

// SameBaseAddress reports whether b and other identify the same cache line.
func (b *Block) SameBaseAddress(other *Block) bool {
	if b == nil || other == nil {
		return b == other
	}
	return b.BaseAddress == other.BaseAddress
}

// Touch asks the owning policy for fresh metadata. Both Read and Write call
// this; it is the single bookkeeping hook every policy variant needs.
func (b *Block) Touch() {
	b.PolicyData = b.policy.Touch(b.PolicyData)
}

// Read performs a simulated read: touches the policy metadata only.
func (b *Block) Read() {
	b.Touch()
}

// Write performs a simulated write: touches the policy metadata and marks
// the block dirty. Dirty is tracked separately from policy metadata because
// it only matters for the hypothetical write-back on eviction from the
// deepest level.
func (b *Block) Write() {
	b.Touch()
	b.Dirty = true
}

// IsDirty reports whether this block is dirty: created dirty, or written
// since creation.
func (b *Block) IsDirty() bool {
	return b.Dirty
}

// GetPolicyData returns the current opaque replacement-policy metadata.
func (b *Block) GetPolicyData() int64 {
	return b.PolicyData
}
