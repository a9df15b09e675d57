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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashers(t *testing.T) {
	// Persistent tables rely on hashes being stable across processes.
	require.Equal(t, HashString("robinhood"), HashString("robinhood"))
	require.Equal(t, Murmur3String("robinhood"), Murmur3String("robinhood"))
	require.Equal(t, HashUint64(42), HashUint64(42))

	require.NotEqual(t, HashString("a"), HashString("b"))
	require.NotEqual(t, Murmur3String("a"), Murmur3String("b"))
	require.NotEqual(t, HashUint64(1), HashUint64(2))

	// The low bits select the ideal position and must vary for sequential
	// keys.
	seen := make(map[uint64]bool)
	for i := uint64(0); i < 64; i++ {
		seen[HashUint64(i)&0xff] = true
	}
	require.Greater(t, len(seen), 32)
}
