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

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// memByteStore is a ByteStore held in memory that zero-fills on extension.
type memByteStore struct {
	data []byte
	// failWrites, if set, is returned by writes that extend the store.
	failWrites error
	// failAll, if set, is returned by every write.
	failAll error
	reads   int
	writes  int
}

func (s *memByteStore) ReadAt(p []byte, off int64) (int, error) {
	s.reads++
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *memByteStore) WriteAt(p []byte, off int64) (int, error) {
	s.writes++
	if s.failAll != nil {
		return 0, s.failAll
	}
	end := int(off) + len(p)
	if end > len(s.data) {
		if s.failWrites != nil {
			return 0, s.failWrites
		}
		s.data = append(s.data, make([]byte, end-len(s.data))...)
	}
	return copy(s.data[off:], p), nil
}

func (s *memByteStore) Size() (int64, error) {
	return int64(len(s.data)), nil
}

func testStorage(t *testing.T, s Storage[uint64, uint64]) {
	require.EqualValues(t, 0, s.Len())
	require.NoError(t, s.Resize(4))
	require.EqualValues(t, 4, s.Len())
	for i := 0; i < 4; i++ {
		it, err := s.Read(i)
		require.NoError(t, err)
		require.True(t, it.IsHole())
	}

	require.NoError(t, s.Write(2, Entry[uint64, uint64](7, 70)))
	it, err := s.Read(2)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](7, 70), it)

	// Growing preserves existing slots and adds holes.
	require.NoError(t, s.Resize(10))
	require.NoError(t, s.Resize(10))
	require.EqualValues(t, 10, s.Len())
	it, err = s.Read(2)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](7, 70), it)
	for i := 4; i < 10; i++ {
		it, err := s.Read(i)
		require.NoError(t, err)
		require.True(t, it.IsHole())
	}

	require.NoError(t, s.Write(2, Hole[uint64, uint64]()))
	it, err = s.Read(2)
	require.NoError(t, err)
	require.True(t, it.IsHole())

	require.Panics(t, func() { _ = s.Resize(3) })
	require.Panics(t, func() { _, _ = s.Read(10) })
	require.Panics(t, func() { _, _ = s.Read(-1) })
	require.Panics(t, func() { _ = s.Write(10, Hole[uint64, uint64]()) })
}

func newPersistentStorage(t *testing.T, store ByteStore) *PersistentStorage[uint64, uint64] {
	s, err := NewPersistentStorage(store,
		NewItemFormat[uint64, uint64](Tagged[uint64](Uint64Format{}), Uint64Format{}))
	require.NoError(t, err)
	return s
}

func TestStorage(t *testing.T) {
	t.Run("memory", func(t *testing.T) {
		testStorage(t, NewMemStorage[uint64, uint64](nil))
	})
	t.Run("persistent", func(t *testing.T) {
		testStorage(t, newPersistentStorage(t, &memByteStore{}))
	})
	t.Run("file", func(t *testing.T) {
		f, err := OpenFile(t.TempDir() + "/table")
		require.NoError(t, err)
		defer func() { require.NoError(t, f.Close()) }()
		testStorage(t, newPersistentStorage(t, f))
	})
	t.Run("cached", func(t *testing.T) {
		testStorage(t, NewCachedStorage[uint64, uint64](newPersistentStorage(t, &memByteStore{}), 2))
	})
}

func TestPersistentStorageLayout(t *testing.T) {
	store := &memByteStore{}
	s := newPersistentStorage(t, store)
	require.NoError(t, s.Resize(3))
	// The store is extended by a single write of a hole at the last slot.
	require.EqualValues(t, 1, store.writes)
	require.Len(t, store.data, 3*17)

	require.NoError(t, s.Write(1, Entry[uint64, uint64](1, 2)))
	require.Equal(t, []byte{0x01, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 2}, store.data[17:34])

	// Reopening derives the length from the store size.
	s2 := newPersistentStorage(t, store)
	require.EqualValues(t, 3, s2.Len())
	it, err := s2.Read(1)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](1, 2), it)
}

func TestPersistentStorageCorrupt(t *testing.T) {
	_, err := NewPersistentStorage(&memByteStore{data: make([]byte, 20)},
		NewItemFormat[uint64, uint64](Tagged[uint64](Uint64Format{}), Uint64Format{}))
	require.ErrorIs(t, err, ErrCorruptStore)
}

func TestStorageErrorPropagates(t *testing.T) {
	errFull := errors.New("device full")
	store := &memByteStore{}
	m, err := New[uint64, uint64](newPersistentStorage(t, store), HashUint64)
	require.NoError(t, err)

	store.failWrites = errFull
	var setErr error
	for i := uint64(0); i < 100 && setErr == nil; i++ {
		setErr = m.Set(i, i)
	}
	require.ErrorIs(t, setErr, errFull)
}

func TestCachedStorage(t *testing.T) {
	store := &memByteStore{}
	c := NewCachedStorage[uint64, uint64](newPersistentStorage(t, store), 2)
	require.NoError(t, c.Resize(4))

	require.NoError(t, c.Write(0, Entry[uint64, uint64](1, 10)))
	require.NoError(t, c.Write(1, Entry[uint64, uint64](2, 20)))
	reads := store.reads

	// Written slots are served from the cache.
	it, err := c.Read(0)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](1, 10), it)
	it, err = c.Read(1)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](2, 20), it)
	require.EqualValues(t, reads, store.reads)
	hits, misses := c.Stats()
	require.EqualValues(t, 2, hits)
	require.EqualValues(t, 0, misses)

	// Reading slot 2 evicts slot 0, the least recently used.
	_, err = c.Read(2)
	require.NoError(t, err)
	require.EqualValues(t, reads+1, store.reads)
	_, err = c.Read(0)
	require.NoError(t, err)
	require.EqualValues(t, reads+2, store.reads)
	require.EqualValues(t, 2, c.Cached())

	// Writes go through to the underlying storage.
	require.NoError(t, c.Write(1, Entry[uint64, uint64](2, 21)))
	require.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 21}, store.data[17+9:34])
	it, err = c.Read(1)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](2, 21), it)
}

func TestCachedStorageWriteError(t *testing.T) {
	errIO := errors.New("i/o error")
	store := &memByteStore{}
	c := NewCachedStorage[uint64, uint64](newPersistentStorage(t, store), 4)
	require.NoError(t, c.Resize(4))
	require.NoError(t, c.Write(0, Entry[uint64, uint64](1, 10)))
	require.EqualValues(t, 1, c.Cached())

	// A failed write drops the cached slot instead of caching the new item.
	store.failAll = errIO
	require.ErrorIs(t, c.Write(0, Entry[uint64, uint64](1, 11)), errIO)
	require.EqualValues(t, 0, c.Cached())

	store.failAll = nil
	reads := store.reads
	it, err := c.Read(0)
	require.NoError(t, err)
	require.Equal(t, Entry[uint64, uint64](1, 10), it)
	require.EqualValues(t, reads+1, store.reads)
	_, misses := c.Stats()
	require.EqualValues(t, 1, misses)

	// A zero maxSize still caches one slot.
	c = NewCachedStorage[uint64, uint64](newPersistentStorage(t, store), 0)
	_, err = c.Read(0)
	require.NoError(t, err)
	_, err = c.Read(1)
	require.NoError(t, err)
	require.EqualValues(t, 1, c.Cached())
}

func TestCachedMap(t *testing.T) {
	store := &memByteStore{}
	c := NewCachedStorage[uint64, uint64](newPersistentStorage(t, store), 64)
	m, err := New[uint64, uint64](c, HashUint64)
	require.NoError(t, err)

	e := make(map[uint64]uint64)
	for i := uint64(0); i < 500; i++ {
		require.NoError(t, m.Set(i, i*3))
		e[i] = i * 3
	}
	for i := uint64(0); i < 500; i += 3 {
		require.NoError(t, m.Remove(i))
		delete(e, i)
	}
	requireValid(t, m)
	require.Equal(t, e, m.toBuiltinMap(t))

	// The uncached view of the same bytes agrees.
	m2, err := New[uint64, uint64](newPersistentStorage(t, store), HashUint64)
	require.NoError(t, err)
	require.Equal(t, e, m2.toBuiltinMap(t))
}

func TestPersistence(t *testing.T) {
	path := t.TempDir() + "/persistence.rh"
	format := NewItemFormat[string, uint64](Tagged[string](StringFormat{Width: 16}), Uint64Format{})

	var expected []KeyValue[string, uint64]
	var shift int
	{
		f, err := OpenFile(path)
		require.NoError(t, err)
		s, err := NewPersistentStorage(f, format)
		require.NoError(t, err)
		m, err := New[string, uint64](s, HashString)
		require.NoError(t, err)

		for i := uint64(0); i < 1000; i++ {
			require.NoError(t, m.Set(fmt.Sprintf("key-%d", i), i))
		}
		for i := uint64(0); i < 1000; i += 7 {
			require.NoError(t, m.Remove(fmt.Sprintf("key-%d", i)))
		}
		require.NoError(t, m.Set("", 42))
		requireValid(t, m)

		expected, err = m.Items()
		require.NoError(t, err)
		shift = m.Shift()
		require.NoError(t, f.Close())
	}

	{
		f, err := OpenFile(path)
		require.NoError(t, err)
		defer func() { require.NoError(t, f.Close()) }()
		s, err := NewPersistentStorage(f, format)
		require.NoError(t, err)
		m, err := New[string, uint64](s, HashString)
		require.NoError(t, err)
		requireValid(t, m)

		require.EqualValues(t, shift, m.Shift())
		require.EqualValues(t, len(expected), m.Len())
		items, err := m.Items()
		require.NoError(t, err)
		require.Equal(t, expected, items)

		v, ok, err := m.Get("")
		require.NoError(t, err)
		require.True(t, ok)
		require.EqualValues(t, 42, v)
	}
}
