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

import lru "github.com/hashicorp/golang-lru/v2"

// CachedStorage is a write-through LRU cache of decoded slots in front of
// another Storage, typically a PersistentStorage. Writes always reach the
// underlying storage before the cache is updated, so a read following a
// write observes the written item.
type CachedStorage[K comparable, V any] struct {
	inner Storage[K, V]
	slots *lru.Cache[int, Item[K, V]]

	hits, misses int
}

var _ Storage[int, int] = (*CachedStorage[int, int])(nil)

// NewCachedStorage wraps inner with a cache holding up to maxSize slots. A
// maxSize below one is treated as one.
func NewCachedStorage[K comparable, V any](inner Storage[K, V], maxSize int) *CachedStorage[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	slots, err := lru.New[int, Item[K, V]](maxSize)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &CachedStorage[K, V]{inner: inner, slots: slots}
}

func (c *CachedStorage[K, V]) Len() int {
	return c.inner.Len()
}

// Resize grows the underlying storage. Cached slots remain valid since
// growing never moves existing slots.
func (c *CachedStorage[K, V]) Resize(n int) error {
	return c.inner.Resize(n)
}

func (c *CachedStorage[K, V]) Read(i int) (Item[K, V], error) {
	if item, ok := c.slots.Get(i); ok {
		c.hits++
		return item, nil
	}
	c.misses++
	item, err := c.inner.Read(i)
	if err != nil {
		return item, err
	}
	c.slots.Add(i, item)
	return item, nil
}

func (c *CachedStorage[K, V]) Write(i int, item Item[K, V]) error {
	if err := c.inner.Write(i, item); err != nil {
		// The slot's content is unknown after a failed write.
		c.slots.Remove(i)
		return err
	}
	c.slots.Add(i, item)
	return nil
}

// Stats returns the number of cache hits and misses observed by Read.
func (c *CachedStorage[K, V]) Stats() (hits, misses int) {
	return c.hits, c.misses
}

// Cached returns the number of slots currently held in the cache.
func (c *CachedStorage[K, V]) Cached() int {
	return c.slots.Len()
}
