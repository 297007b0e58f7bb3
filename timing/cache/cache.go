// Package cache models the coherent cache hierarchy. Tag and LRU
// state lives in Akita cache directories; each line additionally
// carries a MESI coherency state maintained by the hierarchy.
package cache

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// MESIState is a line's coherency state.
type MESIState uint8

// MESI states.
const (
	Invalid MESIState = iota
	Shared
	Exclusive
	Modified
)

// String returns the state name.
func (s MESIState) String() string {
	switch s {
	case Invalid:
		return "I"
	case Shared:
		return "S"
	case Exclusive:
		return "E"
	case Modified:
		return "M"
	}
	return "?"
}

// Config holds the geometry of one cache level.
type Config struct {
	// Size in bytes.
	Size int
	// Associativity (number of ways).
	Associativity int
	// BlockSize in bytes.
	BlockSize int
}

// DefaultL1IConfig returns the L1 instruction cache geometry:
// 64 KiB, 2-way, 64-byte lines.
func DefaultL1IConfig() Config {
	return Config{Size: 64 * 1024, Associativity: 2, BlockSize: 64}
}

// DefaultL1DConfig returns the L1 data cache geometry: 64 KiB,
// 2-way, 64-byte lines.
func DefaultL1DConfig() Config {
	return Config{Size: 64 * 1024, Associativity: 2, BlockSize: 64}
}

// DefaultL2Config returns the per-CPU L2 geometry: 1 MiB, 8-way.
func DefaultL2Config() Config {
	return Config{Size: 1024 * 1024, Associativity: 8, BlockSize: 64}
}

// DefaultL3Config returns the shared L3 geometry: 8 MiB, 16-way.
func DefaultL3Config() Config {
	return Config{Size: 8 * 1024 * 1024, Associativity: 16, BlockSize: 64}
}

// AccessResult reports one cache access.
type AccessResult struct {
	Hit          bool
	Data         uint64
	Evicted      bool
	EvictedAddr  uint64
	EvictedDirty bool
}

// BackingStore is the next level down in the hierarchy.
type BackingStore interface {
	Read(addr uint64, size int) []byte
	Write(addr uint64, data []byte)
}

// Statistics counts accesses on one cache.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
	Snoops     uint64
}

// Cache is one level: an Akita directory for tags and LRU, a data
// store, and a parallel MESI state array. The cache itself is
// unsynchronized; the hierarchy serializes access under the
// coherency lock.
type Cache struct {
	config    Config
	directory *akitacache.DirectoryImpl
	dataStore [][]byte
	states    []MESIState
	stats     Statistics
	backing   BackingStore
}

// New creates a cache over the given backing store.
func New(config Config, backing BackingStore) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		states:    make([]MESIState, totalBlocks),
		backing:   backing,
	}
}

// Config returns the cache geometry.
func (c *Cache) Config() Config { return c.config }

// Stats returns the access counters.
func (c *Cache) Stats() Statistics { return c.stats }

// ResetStats clears the access counters.
func (c *Cache) ResetStats() { c.stats = Statistics{} }

func (c *Cache) blockAddr(addr uint64) uint64 {
	return addr / uint64(c.config.BlockSize) * uint64(c.config.BlockSize)
}

func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

func (c *Cache) lookup(addr uint64) *akitacache.Block {
	block := c.directory.Lookup(0, c.blockAddr(addr))
	if block == nil || !block.IsValid {
		return nil
	}
	return block
}

// State returns the MESI state of the line holding addr, Invalid
// when the line is not resident.
func (c *Cache) State(addr uint64) MESIState {
	block := c.lookup(addr)
	if block == nil {
		return Invalid
	}
	return c.states[c.blockIndex(block)]
}

// SetState overwrites the MESI state of a resident line. Setting
// Invalid drops the line without writeback.
func (c *Cache) SetState(addr uint64, s MESIState) {
	block := c.lookup(addr)
	if block == nil {
		return
	}
	idx := c.blockIndex(block)
	c.states[idx] = s
	if s == Invalid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// ClearDirty marks a resident line clean.
func (c *Cache) ClearDirty(addr uint64) {
	if block := c.lookup(addr); block != nil {
		block.IsDirty = false
	}
}

// PeekBlock returns the resident line's data without touching LRU.
func (c *Cache) PeekBlock(addr uint64) ([]byte, bool) {
	block := c.lookup(addr)
	if block == nil {
		return nil, false
	}
	return c.dataStore[c.blockIndex(block)], true
}

// Read reads size bytes at addr. A miss fills from the backing
// store and installs the line in the given MESI state; a hit leaves
// the state unchanged.
func (c *Cache) Read(addr uint64, size int, fill MESIState) AccessResult {
	c.stats.Reads++

	if block := c.lookup(addr); block != nil {
		c.stats.Hits++
		c.directory.Visit(block)
		data := c.dataStore[c.blockIndex(block)]
		return AccessResult{
			Hit:  true,
			Data: extractData(data, addr%uint64(c.config.BlockSize), size),
		}
	}

	c.stats.Misses++
	result := c.fill(addr, fill)
	data, _ := c.PeekBlock(addr)
	result.Data = extractData(data, addr%uint64(c.config.BlockSize), size)
	return result
}

// Write writes size bytes at addr, write-allocating on a miss. The
// line ends Modified and dirty.
func (c *Cache) Write(addr uint64, size int, value uint64) AccessResult {
	c.stats.Writes++

	block := c.lookup(addr)
	var result AccessResult
	if block != nil {
		c.stats.Hits++
		c.directory.Visit(block)
		result.Hit = true
	} else {
		c.stats.Misses++
		result = c.fill(addr, Modified)
		block = c.lookup(addr)
		if block == nil {
			return result
		}
	}

	storeData(c.dataStore[c.blockIndex(block)], addr%uint64(c.config.BlockSize), size, value)
	block.IsDirty = true
	c.states[c.blockIndex(block)] = Modified
	return result
}

// fill installs the line containing addr, evicting the LRU victim
// and writing back a dirty one.
func (c *Cache) fill(addr uint64, state MESIState) AccessResult {
	result := AccessResult{}
	blockAddr := c.blockAddr(addr)

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}
	idx := c.blockIndex(victim)
	victimData := c.dataStore[idx]

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag
		result.EvictedDirty = victim.IsDirty
		if victim.IsDirty && c.backing != nil {
			c.stats.Writebacks++
			c.backing.Write(victim.Tag, victimData)
		}
	}

	if c.backing != nil {
		copy(victimData, c.backing.Read(blockAddr, c.config.BlockSize))
	} else {
		for i := range victimData {
			victimData[i] = 0
		}
	}

	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false
	c.states[idx] = state
	c.directory.Visit(victim)
	return result
}

// ReadBytes reads a full range through the normal access path. Upper
// levels use it as their backing store.
func (c *Cache) ReadBytes(addr uint64, size int) []byte {
	buf := make([]byte, size)
	for i := 0; i < size; {
		step := c.config.BlockSize - int((addr+uint64(i))%uint64(c.config.BlockSize))
		if step > size-i {
			step = size - i
		}
		c.Read(addr+uint64(i), 0, Exclusive)
		data, ok := c.PeekBlock(addr + uint64(i))
		if ok {
			offset := (addr + uint64(i)) % uint64(c.config.BlockSize)
			copy(buf[i:i+step], data[offset:offset+uint64(step)])
		}
		i += step
	}
	return buf
}

// WriteBytes writes a full range through the normal access path.
func (c *Cache) WriteBytes(addr uint64, data []byte) {
	for i := 0; i < len(data); {
		step := c.config.BlockSize - int((addr+uint64(i))%uint64(c.config.BlockSize))
		if step > len(data)-i {
			step = len(data) - i
		}
		c.Read(addr+uint64(i), 0, Modified)
		blk, ok := c.PeekBlock(addr + uint64(i))
		if ok {
			offset := (addr + uint64(i)) % uint64(c.config.BlockSize)
			copy(blk[offset:offset+uint64(step)], data[i:i+step])
			if block := c.lookup(addr + uint64(i)); block != nil {
				block.IsDirty = true
				c.states[c.blockIndex(block)] = Modified
			}
		}
		i += step
	}
}

// InvalidateLine drops the line holding addr without writeback.
func (c *Cache) InvalidateLine(addr uint64) {
	c.stats.Snoops++
	c.SetState(addr, Invalid)
}

// FlushLine writes back the line holding addr if dirty, then drops
// it.
func (c *Cache) FlushLine(addr uint64) {
	c.stats.Snoops++
	block := c.lookup(addr)
	if block == nil {
		return
	}
	if block.IsDirty && c.backing != nil {
		c.stats.Writebacks++
		c.backing.Write(block.Tag, c.dataStore[c.blockIndex(block)])
	}
	block.IsValid = false
	block.IsDirty = false
	c.states[c.blockIndex(block)] = Invalid
}

// DrainDirty writes back every dirty line, keeping lines resident.
// Modified lines downgrade to Exclusive.
func (c *Cache) DrainDirty() {
	for _, set := range c.directory.GetSets() {
		for _, block := range set.Blocks {
			if !block.IsValid || !block.IsDirty {
				continue
			}
			if c.backing != nil {
				c.stats.Writebacks++
				c.backing.Write(block.Tag, c.dataStore[c.blockIndex(block)])
			}
			block.IsDirty = false
			idx := c.blockIndex(block)
			if c.states[idx] == Modified {
				c.states[idx] = Exclusive
			}
		}
	}
}

// Flush writes back all dirty lines and invalidates everything.
func (c *Cache) Flush() {
	c.DrainDirty()
	c.InvalidateAll()
}

// InvalidateAll drops every line without writeback.
func (c *Cache) InvalidateAll() {
	c.directory.Reset()
	for i := range c.states {
		c.states[i] = Invalid
	}
}

func extractData(data []byte, offset uint64, size int) uint64 {
	if data == nil || int(offset)+size > len(data) {
		return 0
	}
	var result uint64
	for i := 0; i < size; i++ {
		result |= uint64(data[int(offset)+i]) << (i * 8)
	}
	return result
}

func storeData(data []byte, offset uint64, size int, value uint64) {
	if data == nil || int(offset)+size > len(data) {
		return
	}
	for i := 0; i < size; i++ {
		data[int(offset)+i] = byte(value >> (i * 8))
	}
}
