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
	"os"

	"go.uber.org/multierr"
)

// ErrCorruptStore is returned when a byte store cannot hold a whole number of
// slots.
var ErrCorruptStore = errors.New("robinhood: corrupt store")

// ByteStore is a random-access byte store that can be extended by writing
// past its current end.
type ByteStore interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the current length of the store in bytes.
	Size() (int64, error)
}

// FileStore is a ByteStore backed by an *os.File.
type FileStore struct {
	f *os.File
}

var _ ByteStore = (*FileStore)(nil)

// OpenFile creates or opens the file at path for use as a ByteStore.
func OpenFile(path string) (*FileStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return &FileStore{f: f}, nil
}

func (s *FileStore) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *FileStore) WriteAt(p []byte, off int64) (int, error) {
	return s.f.WriteAt(p, off)
}

func (s *FileStore) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Sync commits the file contents to stable storage.
func (s *FileStore) Sync() error {
	return s.f.Sync()
}

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	return multierr.Combine(s.f.Sync(), s.f.Close())
}

// PersistentStorage is a Storage whose slots are encoded with an ItemFormat
// into a ByteStore. Slot i occupies the bytes [i*size, (i+1)*size). Every
// Read and Write performs exactly one access to the byte store.
type PersistentStorage[K comparable, V any] struct {
	store  ByteStore
	format ItemFormat[K, V]
	size   int
	n      int
	buf    []byte
}

var _ Storage[int, int] = (*PersistentStorage[int, int])(nil)

// NewPersistentStorage returns a Storage over the existing contents of store.
// The number of slots is derived from the store's size, which must be a
// multiple of the item size.
func NewPersistentStorage[K comparable, V any](
	store ByteStore, format ItemFormat[K, V],
) (*PersistentStorage[K, V], error) {
	size := format.Size()
	bytes, err := store.Size()
	if err != nil {
		return nil, err
	}
	if bytes%int64(size) != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of the %d byte item size",
			ErrCorruptStore, bytes, size)
	}
	return &PersistentStorage[K, V]{
		store:  store,
		format: format,
		size:   size,
		n:      int(bytes / int64(size)),
		buf:    make([]byte, size),
	}, nil
}

func (s *PersistentStorage[K, V]) Len() int {
	return s.n
}

// Resize extends the store by writing a hole at the new last slot. Stores
// that extend with zero bytes, such as files, leave the slots in between as
// holes too.
func (s *PersistentStorage[K, V]) Resize(n int) error {
	if n < s.n {
		panic(fmt.Sprintf("robinhood: cannot shrink storage from %d to %d slots", s.n, n))
	}
	if n == s.n {
		return nil
	}
	clear(s.buf)
	if _, err := s.store.WriteAt(s.buf, int64(n-1)*int64(s.size)); err != nil {
		return err
	}
	s.n = n
	return nil
}

func (s *PersistentStorage[K, V]) Read(i int) (Item[K, V], error) {
	checkIndex(i, s.n)
	// ReaderAt may return io.EOF alongside a complete read of the last slot.
	if n, err := s.store.ReadAt(s.buf, int64(i)*int64(s.size)); err != nil && (err != io.EOF || n < s.size) {
		return Item[K, V]{}, err
	}
	return s.format.Decode(s.buf), nil
}

func (s *PersistentStorage[K, V]) Write(i int, item Item[K, V]) error {
	checkIndex(i, s.n)
	s.format.Encode(s.buf, item)
	_, err := s.store.WriteAt(s.buf, int64(i)*int64(s.size))
	return err
}
