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
	"encoding/binary"
	"fmt"
	"strings"
)

// Format converts values of type T to and from a fixed-width byte window.
// Decode(Encode(v)) must equal v for every representable v. A Format used
// for keys must additionally never encode a key as all zero bytes: that
// pattern is reserved for holes. Tagged turns any Format into one that
// satisfies the key requirement.
type Format[T any] interface {
	// Size returns the width in bytes of an encoded value. It must be
	// positive and constant.
	Size() int

	// Encode writes v into dst, which is exactly Size() bytes long.
	Encode(dst []byte, v T)

	// Decode reads a value from src, which is exactly Size() bytes long.
	Decode(src []byte) T
}

// Uint64Format encodes a uint64 as 8 big-endian bytes. It is not key-safe on
// its own since 0 encodes as all zeros.
type Uint64Format struct{}

var _ Format[uint64] = Uint64Format{}

func (Uint64Format) Size() int { return 8 }
func (Uint64Format) Encode(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
func (Uint64Format) Decode(src []byte) uint64 { return binary.BigEndian.Uint64(src) }

// Uint32Format encodes a uint32 as 4 big-endian bytes. It is not key-safe on
// its own since 0 encodes as all zeros.
type Uint32Format struct{}

var _ Format[uint32] = Uint32Format{}

func (Uint32Format) Size() int { return 4 }
func (Uint32Format) Encode(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }
func (Uint32Format) Decode(src []byte) uint32 { return binary.BigEndian.Uint32(src) }

// StringFormat encodes strings of at most Width bytes, padded with NUL bytes.
// Strings containing NUL cannot be represented. The empty string encodes as
// all zeros, so wrap with Tagged when used for keys.
type StringFormat struct {
	Width int
}

var _ Format[string] = StringFormat{}

func (f StringFormat) Size() int { return f.Width }

func (f StringFormat) Encode(dst []byte, v string) {
	if len(v) > f.Width {
		panic(fmt.Sprintf("robinhood: string %q exceeds width %d", v, f.Width))
	}
	if strings.IndexByte(v, 0) >= 0 {
		panic(fmt.Sprintf("robinhood: string %q contains NUL", v))
	}
	n := copy(dst, v)
	clear(dst[n:])
}

func (f StringFormat) Decode(src []byte) string {
	n := len(src)
	for n > 0 && src[n-1] == 0 {
		n--
	}
	return string(src[:n])
}

const tagByte = 0x01

type taggedFormat[T any] struct {
	f Format[T]
}

// Tagged returns a Format that prefixes the encoding of f with a non-zero tag
// byte. The result never encodes a value as all zeros and is therefore safe
// to use for keys.
func Tagged[T any](f Format[T]) Format[T] {
	return taggedFormat[T]{f}
}

func (t taggedFormat[T]) Size() int { return 1 + t.f.Size() }

func (t taggedFormat[T]) Encode(dst []byte, v T) {
	dst[0] = tagByte
	t.f.Encode(dst[1:], v)
}

func (t taggedFormat[T]) Decode(src []byte) T {
	return t.f.Decode(src[1:])
}

// ItemFormat is the Format of a table slot. An entry is encoded as the key
// bytes followed by the value bytes, and a hole as all zeros.
type ItemFormat[K comparable, V any] struct {
	key   Format[K]
	value Format[V]
}

var _ Format[Item[int, int]] = ItemFormat[int, int]{}

// NewItemFormat composes a key and a value format into an item format. The
// key format must honor the zero-reservation requirement described on
// Format.
func NewItemFormat[K comparable, V any](key Format[K], value Format[V]) ItemFormat[K, V] {
	if key.Size() <= 0 || value.Size() <= 0 {
		panic(fmt.Sprintf("robinhood: invalid format sizes: key=%d value=%d", key.Size(), value.Size()))
	}
	return ItemFormat[K, V]{key: key, value: value}
}

func (f ItemFormat[K, V]) Size() int {
	return f.key.Size() + f.value.Size()
}

// Encode writes it into dst. It panics if a real key encodes as all zeros
// since such an entry would read back as a hole.
func (f ItemFormat[K, V]) Encode(dst []byte, it Item[K, V]) {
	if it.IsHole() {
		clear(dst)
		return
	}
	ks := f.key.Size()
	f.key.Encode(dst[:ks], it.key)
	if isZero(dst[:ks]) {
		panic(fmt.Sprintf("robinhood: invariant failed: key %v encodes as a hole", it.key))
	}
	f.value.Encode(dst[ks:], it.value)
}

func (f ItemFormat[K, V]) Decode(src []byte) Item[K, V] {
	if isZero(src) {
		return Hole[K, V]()
	}
	ks := f.key.Size()
	return Entry(f.key.Decode(src[:ks]), f.value.Decode(src[ks:]))
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
