package idpool

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/francistor/acnetd/acnet"
)

// Largest table that can be addressed with a 16 bit id
const MaxCapacity = 1 << 16

var ErrIdsExhausted = errors.New("request ids exhausted")

// Fixed capacity table of T indexed by a compact id. The lowest free id is always
// allocated first. The free ids are tracked in a bitmap, so that finding one takes at
// most capacity/64 word scans.
// Each allocation gets a new entry, so a pointer kept after the release of its id never
// aliases the entry of a later allocation of the same id.
// Not thread safe. Meant to be owned by an event loop.
type IdPool[T any] struct {
	// nil for free slots
	entries []*T

	// Bit set to 1 if the slot is free
	free []uint64

	activeIdCount    int
	maxActiveIdCount int
}

// Creates an IdPool with the specified number of slots
func New[T any](capacity int) *IdPool[T] {
	if capacity < 1 || capacity > MaxCapacity {
		panic(fmt.Sprintf("bad idpool capacity %d", capacity))
	}

	p := IdPool[T]{
		entries: make([]*T, capacity),
		free:    make([]uint64, (capacity+63)/64),
	}

	for i := 0; i < capacity; i++ {
		p.free[i/64] |= 1 << (i % 64)
	}

	return &p
}

// Claims the lowest free slot and returns its id and a pointer to a new zeroed entry.
// Returns ErrIdsExhausted if there is no free slot
func (p *IdPool[T]) Alloc() (acnet.ReqId, *T, error) {
	for w := range p.free {
		if p.free[w] == 0 {
			continue
		}
		b := bits.TrailingZeros64(p.free[w])
		p.free[w] &^= 1 << b

		idx := w*64 + b
		p.entries[idx] = new(T)

		p.activeIdCount++
		if p.activeIdCount > p.maxActiveIdCount {
			p.maxActiveIdCount = p.activeIdCount
		}

		return acnet.ReqId(idx), p.entries[idx], nil
	}

	return 0, nil, ErrIdsExhausted
}

// Returns the slot to the free pool. Releasing a free or out of range id does nothing.
// The entry is dropped from the table but pointers to it stay valid
func (p *IdPool[T]) Release(id acnet.ReqId) {
	if !p.isLive(id) {
		return
	}

	idx := int(id)
	p.free[idx/64] |= 1 << (idx % 64)
	p.entries[idx] = nil
	p.activeIdCount--
}

// Returns the entry if the id denotes a live slot
func (p *IdPool[T]) Entry(id acnet.ReqId) (*T, bool) {
	if !p.isLive(id) {
		return nil, false
	}
	return p.entries[id], true
}

// Returns the next live id in table order after the one specified or, if first is true,
// the first live id. The current id must not be released before asking for the next one
func (p *IdPool[T]) Next(after acnet.ReqId, first bool) (acnet.ReqId, bool) {
	start := 0
	if !first {
		start = int(after) + 1
	}

	for idx := start; idx < len(p.entries); {
		w := idx / 64
		// Live bits from idx on in this word
		live := ^p.free[w] >> (idx % 64)
		if live != 0 {
			next := idx + bits.TrailingZeros64(live)
			if next < len(p.entries) {
				return acnet.ReqId(next), true
			}
			return 0, false
		}
		idx = (w + 1) * 64
	}

	return 0, false
}

func (p *IdPool[T]) ActiveIdCount() int {
	return p.activeIdCount
}

func (p *IdPool[T]) MaxActiveIdCount() int {
	return p.maxActiveIdCount
}

func (p *IdPool[T]) Capacity() int {
	return len(p.entries)
}

func (p *IdPool[T]) isLive(id acnet.ReqId) bool {
	idx := int(id)
	if idx >= len(p.entries) {
		return false
	}
	return p.free[idx/64]&(1<<(idx%64)) == 0
}
