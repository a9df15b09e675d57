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

// Item is the content of a single table slot: either a hole or an entry
// holding a key and value. The zero value is a hole.
type Item[K comparable, V any] struct {
	key   K
	value V
	full  bool
}

// Hole returns an empty slot.
func Hole[K comparable, V any]() Item[K, V] {
	return Item[K, V]{}
}

// Entry returns a slot holding key and value.
func Entry[K comparable, V any](key K, value V) Item[K, V] {
	return Item[K, V]{key: key, value: value, full: true}
}

// IsHole returns true if the slot is empty.
func (it Item[K, V]) IsHole() bool {
	return !it.full
}

// Key returns the entry's key. The result is the zero K for a hole.
func (it Item[K, V]) Key() K {
	return it.key
}

// Value returns the entry's value. The result is the zero V for a hole.
func (it Item[K, V]) Value() V {
	return it.value
}

// KeyValue is a key and value pair returned by Map.Items.
type KeyValue[K comparable, V any] struct {
	Key   K
	Value V
}
