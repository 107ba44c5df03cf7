// Package spl implements the keyslot arbitration example of the
// shared-resource discipline: a pool of virtual keyslots backed by a
// smaller number of physical keyslots, mapped by an MRU cache.
package spl

import (
	"container/list"
	"sync"

	"github.com/hipc-systems/hipc-core/domain"
)

// VirtualSlot identifies one of the fixed virtual keyslot indices
// (16..24 in the original hardware numbering; this package treats the
// range as caller-supplied and does not hardcode it).
type VirtualSlot uint32

// PhysicalSlot identifies one of the 4-6 physical keyslots actually
// backing the hardware crypto engine.
type PhysicalSlot uint32

// Owner is the opaque identity of whoever allocated a virtual slot; only
// that same Owner may Find or Release it. In practice this is a pointer
// to the caller's own per-connection state, compared by identity.
type Owner interface{}

type entry struct {
	virt  VirtualSlot
	phys  PhysicalSlot
	owner Owner
	bound bool // true once virt->phys is live; false once Released (phys content is retained but unaddressable by virt)
}

// Cache is the MRU virtual-to-physical keyslot cache. physicalCount
// physical slots back an arbitrary number of distinct virtual slots
// over the cache's lifetime; Allocate evicts the LRU physical slot to
// make room for a new binding.
type Cache struct {
	mu sync.Mutex

	physical []PhysicalSlot
	// mru orders physical slots from least- (Front) to most-recently-used
	// (Back); list.Element.Value is a PhysicalSlot.
	mru *list.List
	// elemOf maps a physical slot to its node in mru, for O(1) promote.
	elemOf map[PhysicalSlot]*list.Element

	// byVirt maps a bound virtual slot to the entry describing it.
	byVirt map[VirtualSlot]*entry
	// byPhys maps every physical slot that has been allocated (bound or
	// not) to the entry whose content it last held. Release keeps this
	// mapping, but the package has no lookup by physical slot number, and
	// Allocate does not reuse a released entry's content.
	byPhys map[PhysicalSlot]*entry
}

// NewCache creates a cache over the given physical slot numbers, all
// initially idle and LRU-ordered in the order given (physicalSlots[0]
// is evicted first).
func NewCache(physicalSlots []PhysicalSlot) *Cache {
	c := &Cache{
		physical: append([]PhysicalSlot(nil), physicalSlots...),
		mru:      list.New(),
		elemOf:   make(map[PhysicalSlot]*list.Element),
		byVirt:   make(map[VirtualSlot]*entry),
		byPhys:   make(map[PhysicalSlot]*entry),
	}
	for _, p := range physicalSlots {
		e := c.mru.PushBack(p)
		c.elemOf[p] = e
	}
	return c
}

// Allocate evicts the LRU physical slot, binds it to virt under owner,
// and returns it. If virt was already cached on some physical slot from
// an earlier Release, that slot's content is considered stale the
// moment a different virtual slot has been bound to it in between; this
// cache never attempts to detect that and always evicts fresh per the
// MRU order.
func (c *Cache) Allocate(virt VirtualSlot, owner Owner) (PhysicalSlot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lru := c.mru.Front()
	if lru == nil {
		return 0, domain.NewError(domain.KindOutOfKeySlots, "spl: no physical keyslots configured")
	}
	phys := lru.Value.(PhysicalSlot)

	if old, ok := c.byPhys[phys]; ok && old.bound {
		delete(c.byVirt, old.virt)
	}

	e := &entry{virt: virt, phys: phys, owner: owner, bound: true}
	c.byVirt[virt] = e
	c.byPhys[phys] = e
	c.mru.MoveToBack(lru)
	return phys, nil
}

// Find returns the physical slot virt is bound to, promoting it to MRU.
// It fails if virt isn't bound, or is bound to a different owner.
func (c *Cache) Find(virt VirtualSlot, owner Owner) (PhysicalSlot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byVirt[virt]
	if !ok || !e.bound {
		return 0, domain.NewError(domain.KindInvalidKeySlot, "spl: virtual slot %d not allocated", virt)
	}
	if e.owner != owner {
		return 0, domain.NewError(domain.KindInvalidKeySlot, "spl: virtual slot %d not owned by caller", virt)
	}
	c.mru.MoveToBack(c.elemOf[e.phys])
	return e.phys, nil
}

// Release clears virt's binding and moves its physical slot to the LRU
// end. The slot's byPhys entry is kept (unbound); there is no lookup by
// physical slot number, and the next Allocate that lands on the slot
// rebinds it without reusing that content.
func (c *Cache) Release(virt VirtualSlot, owner Owner) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byVirt[virt]
	if !ok || !e.bound {
		return domain.NewError(domain.KindInvalidKeySlot, "spl: virtual slot %d not allocated", virt)
	}
	if e.owner != owner {
		return domain.NewError(domain.KindInvalidKeySlot, "spl: virtual slot %d not owned by caller", virt)
	}
	e.bound = false
	delete(c.byVirt, virt)
	c.mru.MoveToFront(c.elemOf[e.phys])
	return nil
}

// ReleaseAll releases every virtual slot currently owned by owner; it is
// what runs when an allocator (a connection, a service instance) is torn
// down.
func (c *Cache) ReleaseAll(owner Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for virt, e := range c.byVirt {
		if e.owner == owner {
			e.bound = false
			delete(c.byVirt, virt)
			c.mru.MoveToFront(c.elemOf[e.phys])
		}
	}
}
