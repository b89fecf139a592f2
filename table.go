// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hashtab implements an open-addressing hash table intended as a
// building block for identity-keyed runtime structures such as symbol
// interners. The dominant operations are lookup and insert; removals are rare.
//
// # Layout
//
// A Table is a power-of-two sized array of slots. Each slot is empty, a
// tombstone, or occupied. An occupied slot records the 32-bit hash the caller
// supplied at insertion along with the value itself. The stored hash is never
// recomputed by the table: resizing re-inserts entries using their stored
// hash, and lookups compare stored hashes before invoking the caller's
// equality function.
//
// # Probing
//
// Probing is linear with wraparound: a probe for hash h starts at h&mask and
// visits consecutive slots until it finds a match or an empty slot.
// Tombstones are skipped, never treated as a stopping point. A probe never
// visits more than capacity slots, and the load factor policy guarantees an
// empty slot always exists, so an unsuccessful lookup always terminates.
//
// # Deletion and resizing
//
// Remove converts a slot into a tombstone. Tombstones count against the load
// factor so a table with many removals still resizes before its probe chains
// degrade. After an insertion, if (live+dead)*8 > capacity*5 (a load factor of
// 62.5%) the table doubles, re-inserting occupied slots and dropping
// tombstones. The table never shrinks.
//
// Failing to allocate during a resize is fatal. Leaving the table over its
// load factor would risk a lookup that probes a full array, so the
// configured Logger's Fatalf is invoked rather than attempting to continue.
//
// # Ownership and synchronization
//
// The table stores values supplied by the caller and never allocates or frees
// them. The release function configured with WithRelease is invoked only by
// Clear and Close. Values removed by Remove or ForEachRemove are handed back
// to the caller untouched.
//
// A Table is NOT goroutine-safe. Callers serialize mutating operations,
// including a Lookup that may insert, against each other and against readers
// with a lock of their choosing. See the intern package for an example.
package hashtab

import (
	"fmt"
	"math"
	"math/bits"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	debug = false

	// The table resizes once (live+dead)/capacity exceeds
	// maxLoadNumerator/maxLoadDenominator.
	maxLoadNumerator   = 5
	maxLoadDenominator = 8

	// maxCapacity is the largest slot count a uint32 mask can address.
	maxCapacity = 1 << 32
)

// ErrAllocationFailed is returned (or, during a resize, raised fatally) when
// the Allocator cannot provide backing storage.
var ErrAllocationFailed = errors.New("hashtab: slot allocation failed")

type slotState uint8

const (
	slotEmpty slotState = iota
	slotTombstone
	slotOccupied
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotTombstone:
		return "tombstone"
	case slotOccupied:
		return "occupied"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Slot holds a stored hash and value along with the slot's state. The zero
// Slot is empty.
type Slot[V comparable] struct {
	hash  uint32
	state slotState
	value V
}

// Verdict is returned by a ForEachRemove visitor to indicate whether the
// visited entry should be kept or removed.
type Verdict int

const (
	// Keep leaves the visited entry in the table.
	Keep Verdict = iota
	// Remove converts the visited entry's slot into a tombstone.
	Remove
)

// Table is an open-addressing hash table of caller-owned values. Hashing and
// equality are supplied by the caller on each call, so a Table is agnostic to
// the key type. Values are compared with == for identity, which for pointer
// types is pointer identity. The zero value of V is reserved and must never
// be stored.
//
// A Table is NOT goroutine-safe.
type Table[V comparable] struct {
	// slots is always a power of two in length and never empty until Close
	// is called.
	slots []Slot[V]
	// mask is len(slots)-1, used to compute h%len(slots).
	mask uint32
	// The number of occupied slots.
	live int
	// The number of tombstone slots. Reset to zero by every resize.
	dead int
	// The number of traversals in progress. Only maintained when invariants
	// are enabled.
	iterating int
	// release is invoked on each live value by Clear and Close.
	release   func(V)
	allocator Allocator[V]
	logger    Logger
}

// New constructs a Table with room for sizeHint slots, rounded up to the next
// power of two. A sizeHint less than 1 is treated as 1. If the configured
// Allocator fails, or sizeHint exceeds the largest supported capacity (1<<32
// slots), New returns an error marked with ErrAllocationFailed and no Table.
func New[V comparable](sizeHint int, options ...Option[V]) (*Table[V], error) {
	t := &Table[V]{
		allocator: defaultAllocator[V]{},
		logger:    DefaultLogger,
	}
	for _, op := range options {
		op.apply(t)
	}

	c := roundUpPowerOf2(sizeHint)
	if c > maxCapacity || c > math.MaxInt {
		return nil, errors.Wrapf(ErrAllocationFailed,
			"size hint %d exceeds maximum capacity %d", sizeHint, uint64(maxCapacity))
	}
	capacity := int(c)
	slots := t.allocator.AllocSlots(capacity)
	if len(slots) != capacity {
		return nil, errors.Wrapf(ErrAllocationFailed, "allocating %d slots", capacity)
	}
	t.setSlots(slots)
	t.checkInvariants()
	return t, nil
}

// CapacityFor returns the smallest size hint that allows a Table to hold n
// entries without resizing.
func CapacityFor(n int) int {
	if n > (math.MaxInt-1)/maxLoadDenominator {
		return math.MaxInt
	}
	return (n*maxLoadDenominator)/maxLoadNumerator + 1
}

// roundUpPowerOf2 returns the smallest power of two >= n, with a minimum of 1.
func roundUpPowerOf2(n int) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len64(uint64(n-1))
}

func (t *Table[V]) setSlots(slots []Slot[V]) {
	t.slots = slots
	t.mask = uint32(len(slots) - 1)
}

// Len returns the number of live entries in the table.
func (t *Table[V]) Len() int {
	return t.live
}

// Tombstones returns the number of removed entries whose slots have not yet
// been reclaimed by a resize or Clear.
func (t *Table[V]) Tombstones() int {
	return t.dead
}

// Capacity returns the number of slots in the table.
func (t *Table[V]) Capacity() int {
	return len(t.slots)
}

// probe walks the probe sequence for hash, returning the index of the first
// occupied slot satisfying match, or the index of the first empty slot if no
// such slot precedes it. found reports which of the two was returned. steps
// is the number of slots passed over before stopping. If the entire table was
// visited without reaching either, probe returns idx=-1.
//
// The sequence visits at most len(t.slots) slots, which covers the
// single-slot table: after checking slot 0, wrapping around would revisit it.
func (t *Table[V]) probe(hash uint32, match func(s *Slot[V]) bool) (idx int, steps int, found bool) {
	i := hash & t.mask
	if debug {
		fmt.Printf("probe(%08x): start=%d capacity=%d\n", hash, i, len(t.slots))
	}
	for steps = 0; steps < len(t.slots); steps++ {
		s := &t.slots[i]
		switch s.state {
		case slotEmpty:
			if debug {
				fmt.Printf("probe(not-found): index=%d steps=%d\n", i, steps)
			}
			return int(i), steps, false
		case slotOccupied:
			if match(s) {
				if debug {
					fmt.Printf("probe(found): index=%d steps=%d\n", i, steps)
				}
				return int(i), steps, true
			}
		}
		i = (i + 1) & t.mask
	}
	return -1, steps, false
}

// Lookup searches for an entry with the given hash whose stored value
// satisfies eq(stored, key). If one is found it is returned and the table is
// not modified, even when insert is set.
//
// If no entry matches and insert is true, key itself is stored under hash and
// returned. The insertion may resize the table. If no entry matches and
// insert is false, Lookup returns the zero V and false.
func (t *Table[V]) Lookup(hash uint32, key V, eq func(stored, key V) bool, insert bool) (V, bool) {
	var zero V
	if invariants && key == zero {
		panic(errors.AssertionFailedf("hashtab: lookup with zero value key"))
	}

	idx, _, found := t.probe(hash, func(s *Slot[V]) bool {
		return s.hash == hash && eq(s.value, key)
	})
	if found {
		return t.slots[idx].value, true
	}
	if !insert {
		return zero, false
	}
	if invariants && t.iterating > 0 {
		panic(errors.AssertionFailedf("hashtab: insert during iteration"))
	}
	if idx < 0 {
		// The load factor policy guarantees an empty slot.
		panic(errors.AssertionFailedf("hashtab: no empty slot in table of capacity %d (live=%d dead=%d)",
			len(t.slots), t.live, t.dead))
	}

	t.slots[idx] = Slot[V]{hash: hash, state: slotOccupied, value: key}
	t.live++
	if debug {
		fmt.Printf("insert(%08x): index=%d live=%d dead=%d\n", hash, idx, t.live, t.dead)
	}

	// The slot reference is invalid after a resize; nothing below may use idx.
	if (t.live+t.dead)*maxLoadDenominator > len(t.slots)*maxLoadNumerator {
		t.resize(2 * len(t.slots))
	}
	t.checkInvariants()
	return key, true
}

// Find is a read-only lookup using a probe key of a type other than V. It
// returns the first entry with the given hash for which eq(stored, key)
// holds. Find never inserts.
func Find[V comparable, K any](t *Table[V], hash uint32, key K, eq func(stored V, key K) bool) (V, bool) {
	idx, _, found := t.probe(hash, func(s *Slot[V]) bool {
		return s.hash == hash && eq(s.value, key)
	})
	if !found {
		var zero V
		return zero, false
	}
	return t.slots[idx].value, true
}

// Remove removes the entry stored under hash whose value is identical (==) to
// value, reporting whether it was found. Remove does not invoke the release
// function: ownership of the value returns to the caller.
func (t *Table[V]) Remove(hash uint32, value V) bool {
	idx, _, found := t.probe(hash, func(s *Slot[V]) bool {
		return s.value == value
	})
	if !found {
		return false
	}
	t.bury(idx)
	t.checkInvariants()
	return true
}

// bury converts the occupied slot at index i into a tombstone.
func (t *Table[V]) bury(i int) {
	s := &t.slots[i]
	// Keep the hash for debugging output but drop the reference to the value
	// so the table does not retain it.
	var zero V
	s.state = slotTombstone
	s.value = zero
	t.live--
	t.dead++
	if debug {
		fmt.Printf("remove: index=%d live=%d dead=%d\n", i, t.live, t.dead)
	}
}

// Clear removes every entry, invoking the release function (if configured) on
// each live value. Tombstones are discarded. The capacity is unchanged.
func (t *Table[V]) Clear() {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == slotOccupied && t.release != nil {
			t.release(s.value)
		}
		*s = Slot[V]{}
	}
	t.live = 0
	t.dead = 0
	t.checkInvariants()
}

// Close clears the table and returns its slots to the configured Allocator.
// It is invalid to use a Table after it has been closed, though Close itself
// is idempotent and may be called on a nil *Table.
func (t *Table[V]) Close() {
	if t == nil || t.slots == nil {
		return
	}
	t.Clear()
	t.allocator.FreeSlots(t.slots)
	t.slots = nil
	t.mask = 0
}

// resize replaces the slot array with one of newCapacity slots, re-inserting
// every occupied slot by its stored hash. Tombstones are dropped.
func (t *Table[V]) resize(newCapacity int) {
	if invariants {
		if dead := t.countState(slotTombstone); dead != t.dead {
			panic(errors.AssertionFailedf("hashtab: found %d tombstones, but dead count is %d\n%s",
				dead, t.dead, t.debugString()))
		}
	}

	var newSlots []Slot[V]
	if uint64(newCapacity) <= maxCapacity {
		newSlots = t.allocator.AllocSlots(newCapacity)
	}
	if len(newSlots) != newCapacity {
		err := errors.Wrapf(ErrAllocationFailed, "resizing %d -> %d slots (live=%d dead=%d)",
			len(t.slots), newCapacity, t.live, t.dead)
		t.logger.Fatalf("hashtab: %v", err)
		// Fatalf is not expected to return. Continuing would leave the table
		// over its load factor.
		panic(err)
	}

	if debug {
		fmt.Printf("resize: capacity=%d->%d live=%d dead=%d\n",
			len(t.slots), newCapacity, t.live, t.dead)
	}

	newMask := uint32(newCapacity - 1)
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotOccupied {
			continue
		}
		j := s.hash & newMask
		for newSlots[j].state != slotEmpty {
			j = (j + 1) & newMask
		}
		newSlots[j] = *s
	}

	oldSlots := t.slots
	t.setSlots(newSlots)
	t.dead = 0
	t.allocator.FreeSlots(oldSlots)
}

// ForEach calls visit for each live value in slot order. If visit returns a
// non-nil error, iteration stops and the error is returned. The table must
// not be mutated during iteration.
func (t *Table[V]) ForEach(visit func(v V) error) error {
	if invariants {
		t.iterating++
		defer func() { t.iterating-- }()
	}
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotOccupied {
			continue
		}
		if err := visit(s.value); err != nil {
			return err
		}
	}
	return nil
}

// ForEachRemove calls visit for each live value in slot order. If visit
// returns Remove the entry is removed as by Remove, without invoking the
// release function. If visit returns a non-nil error, iteration stops and the
// error is returned; the verdict accompanying the error is ignored. The
// visitor must not otherwise mutate the table.
func (t *Table[V]) ForEachRemove(visit func(v V) (Verdict, error)) error {
	defer t.checkInvariants()
	if invariants {
		t.iterating++
		defer func() { t.iterating-- }()
	}
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotOccupied {
			continue
		}
		verdict, err := visit(s.value)
		if err != nil {
			return err
		}
		switch verdict {
		case Keep:
		case Remove:
			t.bury(i)
		default:
			panic(errors.AssertionFailedf("hashtab: unknown verdict %d", verdict))
		}
	}
	return nil
}

// All calls yield sequentially for each live value in the table. If yield
// returns false, iteration stops. The table must not be mutated during
// iteration.
func (t *Table[V]) All(yield func(v V) bool) {
	if invariants {
		t.iterating++
		defer func() { t.iterating-- }()
	}
	for i := range t.slots {
		s := &t.slots[i]
		if s.state == slotOccupied && !yield(s.value) {
			return
		}
	}
}

func (t *Table[V]) countState(state slotState) int {
	var n int
	for i := range t.slots {
		if t.slots[i].state == state {
			n++
		}
	}
	return n
}

func (t *Table[V]) checkInvariants() {
	if !invariants || t.slots == nil {
		return
	}
	if c := len(t.slots); c == 0 || c&(c-1) != 0 {
		panic(errors.AssertionFailedf("hashtab: capacity %d is not a power of two", c))
	}

	// Count the occupied and tombstone slots and verify every occupied slot
	// is reachable from the start of its probe sequence.
	var live, dead int
	for i := range t.slots {
		s := &t.slots[i]
		switch s.state {
		case slotTombstone:
			dead++
		case slotOccupied:
			live++
			idx, _, found := t.probe(s.hash, func(c *Slot[V]) bool {
				return c.value == s.value
			})
			if !found || idx != i {
				panic(errors.AssertionFailedf("hashtab: slot(%d) [hash=%08x] not reachable (probe found %d)\n%s",
					i, s.hash, idx, t.debugString()))
			}
		}
	}
	if live != t.live {
		panic(errors.AssertionFailedf("hashtab: found %d live slots, but live count is %d\n%s",
			live, t.live, t.debugString()))
	}
	if dead != t.dead {
		panic(errors.AssertionFailedf("hashtab: found %d tombstones, but dead count is %d\n%s",
			dead, t.dead, t.debugString()))
	}
	if t.live+t.dead >= len(t.slots) {
		panic(errors.AssertionFailedf("hashtab: no empty slot (live=%d dead=%d capacity=%d)\n%s",
			t.live, t.dead, len(t.slots), t.debugString()))
	}
}

func (t *Table[V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  live=%d  dead=%d\n", len(t.slots), t.live, t.dead)
	for i := range t.slots {
		switch s := &t.slots[i]; s.state {
		case slotOccupied:
			fmt.Fprintf(&buf, "  %4d: %v [hash=%08x home=%d]\n", i, s.value, s.hash, s.hash&t.mask)
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, s.state)
		}
	}
	return buf.String()
}
