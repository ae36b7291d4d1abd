// Package tlb caches translations per MMU index and carries out the
// invalidation requests that keep them coherent with the page tables.
package tlb

import (
	"sync"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
	"github.com/sarchlab/akita/v4/mem/vm"

	"github.com/sarchlab/armsys/arch"
	"github.com/sarchlab/armsys/mmu"
)

// granule is the tag granularity. It matches the smallest page any
// translation format produces.
const granule = 1 << 10

// Config holds TLB geometry.
type Config struct {
	// Sets per MMU index. Must be a power of two.
	Sets int
	// Ways per set.
	Ways int
}

// DefaultConfig returns the default geometry: 64 sets of 4 ways for every
// MMU index.
func DefaultConfig() Config {
	return Config{
		Sets: 64,
		Ways: 4,
	}
}

// Statistics holds TLB activity counters.
type Statistics struct {
	Lookups   uint64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	// Invalidated counts entries dropped by invalidation requests.
	Invalidated uint64
}

// entry is the payload of one directory block.
type entry struct {
	vaBase uint64
	result mmu.Result
}

func (e *entry) covers(addr uint64) bool {
	return addr >= e.vaBase && addr-e.vaBase < e.result.PageSize
}

// array is the set-associative store of one MMU index.
type array struct {
	directory *akitacache.DirectoryImpl
	entries   []entry
	ways      int
}

func newArray(config Config) *array {
	return &array{
		directory: akitacache.NewDirectory(
			config.Sets,
			config.Ways,
			granule,
			akitacache.NewLRUVictimFinder(),
		),
		entries: make([]entry, config.Sets*config.Ways),
		ways:    config.Ways,
	}
}

func (a *array) entryOf(block *akitacache.Block) *entry {
	return &a.entries[block.SetID*a.ways+block.WayID]
}

// TLB is the translation cache of one core. Every method is safe to call
// from another core's goroutine.
type TLB struct {
	mu     sync.Mutex
	config Config
	arrays [arch.NumTLBIndexes]*array
	stats  Statistics
}

// New creates an empty TLB.
func New(config Config) *TLB {
	t := &TLB{config: config}
	for i := range t.arrays {
		t.arrays[i] = newArray(config)
	}
	return t
}

// Config returns the TLB geometry.
func (t *TLB) Config() Config {
	return t.config
}

// Stats returns the activity counters.
func (t *TLB) Stats() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// ResetStats clears the activity counters.
func (t *TLB) ResetStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = Statistics{}
}

// pid packs the tag identity of an entry. Bit 16 marks global entries,
// which carry no ASID.
func pid(asid, vmid uint16, global bool) vm.PID {
	p := vm.PID(vmid&0x7fff) << 17
	if global {
		return p | 1<<16
	}
	return p | vm.PID(asid)
}

func pidGlobal(p vm.PID) bool { return p&(1<<16) != 0 }
func pidASID(p vm.PID) uint16 { return uint16(p) }
func pidVMID(p vm.PID) uint16 { return uint16(p >> 17) }

// Lookup returns the cached translation of va through idx for the given
// address-space identifiers. Global entries match any ASID.
func (t *TLB) Lookup(idx arch.MMUIndex, va uint64, asid, vmid uint16) (mmu.Result, bool) {
	if !idx.HasTLB() {
		return mmu.Result{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.stats.Lookups++
	a := t.arrays[idx]
	tag := va &^ (granule - 1)

	for _, p := range [2]vm.PID{pid(asid, vmid, false), pid(0, vmid, true)} {
		block := a.directory.Lookup(p, tag)
		if block == nil || !block.IsValid {
			continue
		}

		t.stats.Hits++
		a.directory.Visit(block)

		e := a.entryOf(block)
		res := e.result
		mask := res.PageSize - 1
		res.PhysAddr = res.PhysAddr&^mask | va&mask
		return res, true
	}

	t.stats.Misses++
	return mmu.Result{}, false
}

// Insert caches res as the translation of va through idx.
func (t *TLB) Insert(idx arch.MMUIndex, va uint64, asid, vmid uint16, res mmu.Result) {
	if !idx.HasTLB() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.arrays[idx]
	tag := va &^ (granule - 1)
	p := pid(asid, vmid, res.Global)

	block := a.directory.Lookup(p, tag)
	if block == nil {
		block = a.directory.FindVictim(tag)
		if block == nil {
			return
		}
		if block.IsValid {
			t.stats.Evictions++
		}
		block.Tag = tag
		block.PID = p
		block.IsValid = true
	}

	*a.entryOf(block) = entry{
		vaBase: va &^ (res.PageSize - 1),
		result: res,
	}
	a.directory.Visit(block)
}

// FlushAll drops every cached translation.
func (t *TLB) FlushAll() {
	t.Apply(Flush{Kind: FlushEverything, Indexes: arch.MaskAll, AnyVMID: true})
}

// FlushIndexes drops every cached translation of the indexes in mask.
func (t *TLB) FlushIndexes(mask arch.MMUIndexMask) {
	t.Apply(Flush{Kind: FlushEverything, Indexes: mask, AnyVMID: true})
}

// Len returns the number of valid entries cached for idx.
func (t *TLB) Len(idx arch.MMUIndex) int {
	if !idx.HasTLB() {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, set := range t.arrays[idx].directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				n++
			}
		}
	}
	return n
}

// Apply carries out one resolved invalidation and returns the number of
// entries dropped.
func (t *TLB) Apply(f Flush) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	dropped := 0
	for _, idx := range f.Indexes.Indexes() {
		if !idx.HasTLB() {
			continue
		}
		a := t.arrays[idx]
		vmidTagged := (arch.MaskE10 | arch.MaskStage2).Has(idx)

		for _, set := range a.directory.GetSets() {
			for _, block := range set.Blocks {
				if !block.IsValid {
					continue
				}
				if !f.matches(block.PID, a.entryOf(block), vmidTagged) {
					continue
				}
				block.IsValid = false
				dropped++
			}
		}
	}

	t.stats.Invalidated += uint64(dropped)
	return dropped
}
