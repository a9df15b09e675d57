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

package robinhood

import "fmt"

// Storage is a grow-only, randomly indexable sequence of slots that backs a
// Map. Indexes passed to Read and Write must be in [0, Len()); violating
// this, or asking Resize to shrink the storage, is a programming error and
// panics.
//
// A Storage is used by a single Map at a time and need not be
// goroutine-safe.
type Storage[K comparable, V any] interface {
	// Len returns the number of slots.
	Len() int

	// Resize grows the storage to n slots. The new slots are holes.
	Resize(n int) error

	// Read returns the item stored in slot i.
	Read(i int) (Item[K, V], error)

	// Write stores item in slot i.
	Write(i int, item Item[K, V]) error
}

// Allocator specifies an interface for allocating and releasing the slot
// slices used by a MemStorage. The default allocator utilizes Go's builtin
// make() and allows the GC to reclaim memory.
//
// If the allocator is manually managing memory and requires that slots be
// freed then MemStorage.Close must be called in order to ensure Free is
// called for the final slice.
type Allocator[K comparable, V any] interface {
	// Alloc should return a slice equivalent to make([]Item[K,V], n).
	Alloc(n int) []Item[K, V]

	// Free can optionally release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by Alloc.
	Free(v []Item[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) Alloc(n int) []Item[K, V] {
	return make([]Item[K, V], n)
}

func (defaultAllocator[K, V]) Free(v []Item[K, V]) {
}

// MemStorage is a Storage held in memory.
type MemStorage[K comparable, V any] struct {
	allocator Allocator[K, V]
	slots     []Item[K, V]
}

var _ Storage[int, int] = (*MemStorage[int, int])(nil)

// NewMemStorage returns an empty in-memory storage. If allocator is nil the
// slots are allocated with make().
func NewMemStorage[K comparable, V any](allocator Allocator[K, V]) *MemStorage[K, V] {
	if allocator == nil {
		allocator = defaultAllocator[K, V]{}
	}
	return &MemStorage[K, V]{allocator: allocator}
}

// Close releases the slots back to the allocator. It is unnecessary to close
// a MemStorage using the default allocator. It is invalid to use a
// MemStorage after it has been closed, though Close itself is idempotent.
func (s *MemStorage[K, V]) Close() {
	if s.slots != nil {
		s.allocator.Free(s.slots)
		s.slots = nil
	}
}

func (s *MemStorage[K, V]) Len() int {
	return len(s.slots)
}

func (s *MemStorage[K, V]) Resize(n int) error {
	if n < len(s.slots) {
		panic(fmt.Sprintf("robinhood: cannot shrink storage from %d to %d slots", len(s.slots), n))
	}
	if n == len(s.slots) {
		return nil
	}
	// Alloc returns zeroed items, which are holes.
	slots := s.allocator.Alloc(n)
	copy(slots, s.slots)
	if s.slots != nil {
		s.allocator.Free(s.slots)
	}
	s.slots = slots
	return nil
}

func (s *MemStorage[K, V]) Read(i int) (Item[K, V], error) {
	checkIndex(i, len(s.slots))
	return s.slots[i], nil
}

func (s *MemStorage[K, V]) Write(i int, item Item[K, V]) error {
	checkIndex(i, len(s.slots))
	s.slots[i] = item
	return nil
}

func checkIndex(i, n int) {
	if uint(i) >= uint(n) {
		panic(fmt.Sprintf("robinhood: slot index %d out of range [0, %d)", i, n))
	}
}
