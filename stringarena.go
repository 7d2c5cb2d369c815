// Copyright 2024 The JLS Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package jls

import (
	"unsafe"

	"github.com/cespare/xxhash/v2"
)

// minArenaBlock is the minimum size of one string-arena block (spec.md §4.5:
// "a linked-block string arena (≥8 MiB blocks)").
const minArenaBlock = 8 << 20

// stringArena interns decoded strings into a chain of growable blocks so
// every returned string is backed by contiguous, stable memory for the
// life of the reader (spec.md §3 "Strings parsed by the reader are
// interned into an arena of linked blocks", §9 "String arena").
//
// A JLS file routinely repeats the same strings (vendor, units, ...) across
// its source and signal DEF chunks, so a dedup cache keyed on an
// xxhash of the string contents avoids copying (and retaining) the same
// bytes into the arena more than once.
type stringArena struct {
	blockSize int
	blocks    [][]byte
	seen      map[uint64]string
}

func newStringArena(blockSize int) *stringArena {
	if blockSize < minArenaBlock {
		blockSize = minArenaBlock
	}
	return &stringArena{blockSize: blockSize, seen: make(map[uint64]string)}
}

// intern copies s into the arena and returns a string backed by the arena's
// storage, or an already-interned copy if an identical string was seen
// before. If s does not fit in the tail block's remaining space, a fresh
// block is allocated and s (never split across blocks, even if s itself
// exceeds blockSize) is copied whole into it, exactly mirroring the
// teacher's approach of carrying a partial string into a fresh block so
// every interned string stays contiguous (spec.md §9).
func (a *stringArena) intern(s string) string {
	if s == "" {
		return ""
	}
	h := xxhash.Sum64String(s)
	if prior, ok := a.seen[h]; ok && prior == s {
		return prior
	}

	n := len(s)
	var out string
	if len(a.blocks) > 0 {
		tail := a.blocks[len(a.blocks)-1]
		if cap(tail)-len(tail) >= n {
			start := len(tail)
			tail = append(tail, s...)
			a.blocks[len(a.blocks)-1] = tail
			out = yoloString(tail[start : start+n])
		}
	}
	if out == "" {
		size := a.blockSize
		if n > size {
			size = n
		}
		block := make([]byte, 0, size)
		block = append(block, s...)
		a.blocks = append(a.blocks, block)
		out = yoloString(block[:n])
	}
	a.seen[h] = out
	return out
}

// yoloString borrows b as a string without copying, exactly as the
// teacher's index reader does when handing out symbol-table slices
// (_examples/bagaswh-prometheus/index.go, lookupSymbol). Safe here because
// the backing block is never mutated again once a string has been handed
// out of it (future interns only ever append past the already-claimed
// prefix).
func yoloString(b []byte) string {
	return *(*string)(unsafe.Pointer(&b))
}
