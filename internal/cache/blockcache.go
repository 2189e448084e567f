// Package cache implements the §4.3 block cache: an LRU-capped store of
// physical-block-number to decoded block buffer, reference-counted so a
// held handle is never evicted out from under its caller.
package cache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/deploymenttheory/go-apfs/internal/apfserrors"
	"github.com/deploymenttheory/go-apfs/internal/checksum"
)

// Reader fetches one block's raw bytes from the device, applying any
// per-volume decryption the caller's layer requires before the checksum is
// verified. The cache itself never touches a device or a crypto provider
// directly; it just owns the buffer's lifecycle.
type Reader func(block uint64) ([]byte, error)

const DefaultCapacity = 8192

type entry struct {
	block    uint64
	data     []byte
	refCount int
	lruElem  *list.Element // nil while referenced
}

// Handle is a reference-counted view onto one cached block. Callers must
// call Release exactly once per Handle obtained from Get.
type Handle struct {
	c     *Cache
	block uint64
	e     *entry
}

func (h *Handle) Data() []byte { return h.e.data }
func (h *Handle) Block() uint64 { return h.block }

// Cache is the LRU-capped, reference-counted block store. It's the single
// shared mutable structure in the mount (§5); its public methods are
// linearizable via a single mutex.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint64]*entry
	lru      *list.List // least-recently-released at Back, most recent at Front
}

// New creates a Cache with the given capacity (minimum 2; DefaultCapacity
// if zero).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity < 2 {
		capacity = 2
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[uint64]*entry),
		lru:      list.New(),
	}
}

// Get returns a held handle for block, reading it via read on a miss. If
// verifyChecksum is set, a checksum mismatch on a fresh read returns
// apfserrors.ErrCorruptMetadata and the block is not cached.
func (c *Cache) Get(block uint64, verifyChecksum bool, read Reader) (*Handle, error) {
	c.mu.Lock()
	if e, ok := c.entries[block]; ok {
		if e.lruElem != nil {
			c.lru.Remove(e.lruElem)
			e.lruElem = nil
		}
		e.refCount++
		c.mu.Unlock()
		return &Handle{c: c, block: block, e: e}, nil
	}
	c.mu.Unlock()

	data, err := read(block)
	if err != nil {
		return nil, err
	}
	if verifyChecksum && !checksum.Verify(data) {
		return nil, fmt.Errorf("%w: block %d checksum mismatch", apfserrors.ErrCorruptMetadata, block)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[block]; ok {
		// Lost the race against a concurrent miss; reuse the winner.
		if e.lruElem != nil {
			c.lru.Remove(e.lruElem)
			e.lruElem = nil
		}
		e.refCount++
		return &Handle{c: c, block: block, e: e}, nil
	}
	e := &entry{block: block, data: data, refCount: 1}
	c.entries[block] = e
	return &Handle{c: c, block: block, e: e}, nil
}

// Release decrements the handle's reference count. At zero the entry
// becomes evictable; eviction happens only here, never from Get, and only
// once len(lru) exceeds capacity.
func (c *Cache) Release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := h.e
	e.refCount--
	if e.refCount < 0 {
		e.refCount = 0
	}
	if e.refCount == 0 {
		e.lruElem = c.lru.PushFront(e)
		for c.lru.Len() > c.capacity {
			back := c.lru.Back()
			if back == nil {
				break
			}
			oldest := back.Value.(*entry)
			c.lru.Remove(back)
			delete(c.entries, oldest.block)
		}
	}
}

// Invalidate drops block from the cache if it's not currently held.
// Returns false if the block is still referenced.
func (c *Cache) Invalidate(block uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[block]
	if !ok {
		return true
	}
	if e.refCount > 0 {
		return false
	}
	if e.lruElem != nil {
		c.lru.Remove(e.lruElem)
	}
	delete(c.entries, block)
	return true
}

// Len returns the number of entries currently cached (held or not).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
