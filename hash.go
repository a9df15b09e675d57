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

	"github.com/cespare/xxhash/v2"
	"github.com/twmb/murmur3"
)

// Hasher maps a key to a hash code. It must be deterministic across
// processes when used with a PersistentStorage, since ideal positions are
// recomputed from it whenever a table is reopened. Hash quality affects
// performance but never correctness.
type Hasher[K comparable] func(key K) uint64

// HashUint64 hashes the big-endian encoding of key with xxhash.
func HashUint64(key uint64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return xxhash.Sum64(buf[:])
}

// HashString hashes key with xxhash.
func HashString(key string) uint64 {
	return xxhash.Sum64String(key)
}

// Murmur3String hashes key with the 64-bit variant of murmur3.
func Murmur3String(key string) uint64 {
	return murmur3.StringSum64(key)
}
