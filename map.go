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

// Package robinhood is a Go implementation of an open-addressing hash table
// using robin-hood displacement. See also:
// https://programming.guide/robin-hood-hashing.html.
//
// # Layout
//
// A table with shift s has 2^s + s slots. A key's ideal position is the low
// s bits of its hash, so ideal positions lie in [0, 2^s) and the trailing s
// slots exist only to hold entries displaced past the last ideal position.
// Probing is linear and never wraps around the end of the table.
//
// The table maintains the following invariants:
//
//  1. The displacement of every entry (its position minus its ideal
//     position) lies in [0, s].
//  2. An entry with a non-zero displacement is immediately preceded by
//     another entry, never by a hole.
//  3. The ideal positions of adjacent entries are non-decreasing.
//  4. Keys are unique.
//
// Invariant 3 lets a lookup stop as soon as it finds an entry whose ideal
// position is greater than the key's: the key cannot appear later. Together
// with invariant 1 this bounds every lookup to a scan of s+1 slots.
//
// # Insertion
//
// Insertion walks from the key's ideal position carrying a candidate entry.
// When the walk reaches an entry whose ideal position is greater than the
// candidate's (an entry that is "richer", closer to home, than the
// candidate), the two are swapped and the walk continues with the evicted
// entry as the candidate. If the candidate's displacement would exceed s the
// table grows: s is incremented, the storage is extended and every entry
// whose ideal position moved past its current position is removed and
// reinserted. The repair pass walks from the highest position down to zero.
// Reinsertion only ever touches slots above the entry's old position, so a
// descending walk never reads a slot that was mutated out of order.
//
// # Deletion
//
// Deletion uses backward shifting rather than tombstones: the entries
// following the removed one are shifted back by one slot for as long as they
// are displaced, and the first slot that cannot be filled becomes a hole.
//
// # Storage
//
// Slots live in a Storage. MemStorage holds them in a slice;
// PersistentStorage encodes them into a ByteStore such as a file using an
// ItemFormat, where an all-zero slot is a hole. When a Map is constructed on
// a non-empty Storage the shift is inferred from its length, which allows a
// persisted table to be reopened.
package robinhood

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Map is a hash map from keys to values with Get, Set, Remove and All
// operations, stored in a Storage using robin-hood hashing.
//
// A Map is NOT goroutine-safe.
type Map[K comparable, V any] struct {
	storage Storage[K, V]
	hash    Hasher[K]
	logger  *zap.Logger
	// shift determines the capacity (2^shift + shift), the range of ideal
	// positions [0, 2^shift) and the maximum displacement.
	shift int
	// The number of entries in the table.
	used int
}

// SlotInfo describes a single slot as reported by Map.Dump.
type SlotInfo[K comparable, V any] struct {
	Pos   int
	Hole  bool
	Ideal int
	Key   K
	Value V
}

// Displacement returns the distance of the entry from its ideal position.
func (s SlotInfo[K, V]) Displacement() int {
	return s.Pos - s.Ideal
}

// New constructs a Map over storage using hash to compute ideal positions.
// If storage is non-empty it must have been left in a valid state by a
// previous Map using the same hash function; the shift is inferred from
// storage.Len().
func New[K comparable, V any](
	storage Storage[K, V], hash Hasher[K], options ...option[K, V],
) (*Map[K, V], error) {
	m := &Map[K, V]{
		storage: storage,
		hash:    hash,
		logger:  zap.NewNop(),
	}

	for _, op := range options {
		op.apply(m)
	}

	n := storage.Len()
	for i := 0; i < n; i++ {
		item, err := storage.Read(i)
		if err != nil {
			return nil, err
		}
		if !item.IsHole() {
			m.used++
		}
	}

	if err := m.resize(inferShift(n)); err != nil {
		return nil, err
	}
	m.logger.Debug("opened table",
		zap.Int("slots", n), zap.Int("shift", m.shift), zap.Int("entries", m.used))

	m.checkInvariants()
	return m, nil
}

// Set inserts an entry into the map, overwriting an existing value if an
// entry with the same key already exists.
func (m *Map[K, V]) Set(key K, value V) error {
	if err := m.set(key, value); err != nil {
		return err
	}
	m.checkInvariants()
	return nil
}

// Get retrieves the value from the map for the specified key, returning
// ok=false if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool, err error) {
	_, item, ok, err := m.find(key)
	return item.value, ok, err
}

// Remove removes the entry corresponding to the specified key from the map.
// It is a noop to remove a non-existent key.
func (m *Map[K, V]) Remove(key K) error {
	pos, _, ok, err := m.find(key)
	if err != nil || !ok {
		return err
	}
	if err := m.removeAt(pos); err != nil {
		return err
	}
	m.checkInvariants()
	return nil
}

// All calls yield sequentially for each key and value present in the map, in
// slot order. If yield returns false, iteration stops. The map must not be
// mutated during iteration.
func (m *Map[K, V]) All(yield func(key K, value V) bool) error {
	for i, n := 0, m.storage.Len(); i < n; i++ {
		item, err := m.storage.Read(i)
		if err != nil {
			return err
		}
		if item.IsHole() {
			continue
		}
		if !yield(item.key, item.value) {
			return nil
		}
	}
	return nil
}

// Items returns the entries of the map in slot order.
func (m *Map[K, V]) Items() ([]KeyValue[K, V], error) {
	items := make([]KeyValue[K, V], 0, m.used)
	err := m.All(func(k K, v V) bool {
		items = append(items, KeyValue[K, V]{Key: k, Value: v})
		return true
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Shift returns the current shift of the table.
func (m *Map[K, V]) Shift() int {
	return m.shift
}

// Capacity returns the number of slots the table uses, 2^shift + shift.
func (m *Map[K, V]) Capacity() int {
	return capacityFor(m.shift)
}

// Dump returns a description of every slot of the underlying storage. It is
// intended for tests and debugging.
func (m *Map[K, V]) Dump() ([]SlotInfo[K, V], error) {
	n := m.storage.Len()
	slots := make([]SlotInfo[K, V], 0, n)
	for i := 0; i < n; i++ {
		item, err := m.storage.Read(i)
		if err != nil {
			return nil, err
		}
		s := SlotInfo[K, V]{Pos: i, Hole: item.IsHole()}
		if !s.Hole {
			s.Ideal = m.ideal(item.key)
			s.Key, s.Value = item.key, item.value
		}
		slots = append(slots, s)
	}
	return slots, nil
}

// DebugString renders the output of Dump, one slot per line.
func (m *Map[K, V]) DebugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "shift=%d  capacity=%d  used=%d\n", m.shift, m.Capacity(), m.used)
	slots, err := m.Dump()
	if err != nil {
		fmt.Fprintf(&buf, "  error: %v\n", err)
		return buf.String()
	}
	for _, s := range slots {
		if s.Hole {
			fmt.Fprintf(&buf, "  %4d: empty\n", s.Pos)
			continue
		}
		fmt.Fprintf(&buf, "  %4d: %v=%v [ideal=%d dist=%d]\n",
			s.Pos, s.Key, s.Value, s.Ideal, s.Displacement())
	}
	return buf.String()
}

func capacityFor(shift int) int {
	return 1<<shift + shift
}

// inferShift returns the largest shift whose capacity fits in n slots.
func inferShift(n int) int {
	shift := 0
	for capacityFor(shift+1) <= n {
		shift++
	}
	return shift
}

// ideal returns the ideal position of key.
func (m *Map[K, V]) ideal(key K) int {
	return int(m.hash(key) & (1<<uint(m.shift) - 1))
}

// find locates key, returning its position and the item stored there.
func (m *Map[K, V]) find(key K) (int, Item[K, V], bool, error) {
	ideal := m.ideal(key)
	for pos := ideal; pos-ideal <= m.shift; pos++ {
		item, err := m.storage.Read(pos)
		if err != nil {
			return -1, item, false, err
		}
		if item.IsHole() {
			break
		}
		if item.key == key {
			return pos, item, true, nil
		}
		if m.ideal(item.key) > ideal {
			// Entries are ordered by ideal position: key cannot appear later.
			break
		}
	}
	return -1, Item[K, V]{}, false, nil
}

func (m *Map[K, V]) set(key K, value V) error {
	candidate := Entry(key, value)
	for {
		placed, err := m.insert(&candidate)
		if err != nil || placed {
			return err
		}
		// The candidate is not necessarily key: once a swap has happened key
		// is in the table and the evicted entry is the one left to place.
		if err := m.resize(m.shift + 1); err != nil {
			return err
		}
	}
}

// insert walks the table from the ideal position of *candidate, swapping it
// with richer entries along the way. It returns false if the entry being
// carried cannot be placed within the maximum displacement, in which case
// *candidate holds that entry.
func (m *Map[K, V]) insert(candidate *Item[K, V]) (bool, error) {
	ideal := m.ideal(candidate.key)
	for pos := ideal; ; pos++ {
		if pos-ideal > m.shift {
			return false, nil
		}
		item, err := m.storage.Read(pos)
		if err != nil {
			return false, err
		}
		if item.IsHole() {
			if err := m.storage.Write(pos, *candidate); err != nil {
				return false, err
			}
			m.used++
			return true, nil
		}
		if item.key == candidate.key {
			return true, m.storage.Write(pos, *candidate)
		}
		if itemIdeal := m.ideal(item.key); itemIdeal > ideal {
			if err := m.storage.Write(pos, *candidate); err != nil {
				return false, err
			}
			*candidate, ideal = item, itemIdeal
		}
	}
}

// removeAt removes the entry at pos by shifting the displaced entries that
// follow it back by one slot.
func (m *Map[K, V]) removeAt(pos int) error {
	for n := m.storage.Len(); pos+1 < n; pos++ {
		next, err := m.storage.Read(pos + 1)
		if err != nil {
			return err
		}
		if next.IsHole() || m.ideal(next.key) > pos {
			break
		}
		if err := m.storage.Write(pos, next); err != nil {
			return err
		}
	}
	if err := m.storage.Write(pos, Hole[K, V]()); err != nil {
		return err
	}
	m.used--
	return nil
}

// resize sets the table's shift, extends the storage to the corresponding
// capacity and moves every entry whose ideal position now lies beyond its
// position.
func (m *Map[K, V]) resize(shift int) error {
	oldLen := m.storage.Len()
	capacity := capacityFor(shift)
	if capacity > oldLen {
		if err := m.storage.Resize(capacity); err != nil {
			return err
		}
	}
	m.shift = shift

	// NB: the walk must be descending. Reinserting an entry only mutates
	// slots above its old position, all of which have already been visited.
	moved := 0
	for i := oldLen - 1; i >= 0; i-- {
		item, err := m.storage.Read(i)
		if err != nil {
			return err
		}
		if item.IsHole() || m.ideal(item.key) <= i {
			continue
		}
		if err := m.removeAt(i); err != nil {
			return err
		}
		if err := m.set(item.key, item.value); err != nil {
			return err
		}
		moved++
	}

	m.logger.Debug("resized table",
		zap.Int("shift", m.shift), zap.Int("capacity", m.Capacity()), zap.Int("moved", moved))
	return nil
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if err := m.validate(); err != nil {
			panic(fmt.Sprintf("invariant failed: %v\n%s", err, m.DebugString()))
		}
	}
}

// validate returns an error describing the first violated table invariant.
func (m *Map[K, V]) validate() error {
	n := m.storage.Len()
	if capacity := m.Capacity(); n < capacity {
		return fmt.Errorf("storage has %d slots, capacity is %d", n, capacity)
	}

	seen := make(map[K]int)
	prevFull := false
	prevIdeal := 0
	for i := 0; i < n; i++ {
		item, err := m.storage.Read(i)
		if err != nil {
			return err
		}
		if item.IsHole() {
			prevFull = false
			continue
		}
		ideal := m.ideal(item.key)
		if dist := i - ideal; dist < 0 || dist > m.shift {
			return fmt.Errorf("slot(%d): %v has displacement %d, shift is %d", i, item.key, dist, m.shift)
		}
		if i > ideal && !prevFull {
			return fmt.Errorf("slot(%d): displaced %v follows a hole", i, item.key)
		}
		if prevFull && prevIdeal > ideal {
			return fmt.Errorf("slot(%d): %v has ideal position %d, preceded by %d", i, item.key, ideal, prevIdeal)
		}
		if j, ok := seen[item.key]; ok {
			return fmt.Errorf("slot(%d): %v duplicates slot(%d)", i, item.key, j)
		}
		seen[item.key] = i
		prevFull, prevIdeal = true, ideal
	}

	if len(seen) != m.used {
		return fmt.Errorf("found %d entries, but used count is %d", len(seen), m.used)
	}
	return nil
}
