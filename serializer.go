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
	"encoding/binary"
	"math"
)

// minScratchCapacity is the minimum size of an encoder's backing region
// (spec.md §4.2: "a fixed scratch region (≥1 MiB)").
const minScratchCapacity = 1 << 20

// stringTerminator is the two-byte sequence that ends every serialized
// string: NUL then Unit Separator, chosen so a reader can concatenate
// strings and recognize the boundary even when a trailing NUL would
// otherwise be ambiguous with binary payload bytes (spec.md §4.2).
var stringTerminator = [2]byte{0x00, 0x1F}

// encoder is the buffered serializer (spec.md §4.2): a fixed scratch
// region with a moving cursor, mirroring the teacher's encbuf
// (_examples/bagaswh-prometheus/index.go).
type encoder struct {
	b   []byte
	cap int
}

func newEncoder(capacity int) *encoder {
	if capacity < minScratchCapacity {
		capacity = minScratchCapacity
	}
	return &encoder{b: make([]byte, 0, capacity), cap: capacity}
}

func (e *encoder) reset()      { e.b = e.b[:0] }
func (e *encoder) bytes() []byte { return e.b }
func (e *encoder) len() int    { return len(e.b) }

func (e *encoder) ensure(n int) error {
	if len(e.b)+n > e.cap {
		return newErr(KindNotEnoughMemory, "encoder scratch region exhausted")
	}
	return nil
}

func (e *encoder) writeZero(n int) error {
	if err := e.ensure(n); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		e.b = append(e.b, 0)
	}
	return nil
}

func (e *encoder) writeU8(v uint8) error {
	if err := e.ensure(1); err != nil {
		return err
	}
	e.b = append(e.b, v)
	return nil
}

func (e *encoder) writeU16(v uint16) error {
	if err := e.ensure(2); err != nil {
		return err
	}
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
	return nil
}

func (e *encoder) writeU32(v uint32) error {
	if err := e.ensure(4); err != nil {
		return err
	}
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
	return nil
}

func (e *encoder) writeU64(v uint64) error {
	if err := e.ensure(8); err != nil {
		return err
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.b = append(e.b, tmp[:]...)
	return nil
}

func (e *encoder) writeI64(v int64) error { return e.writeU64(uint64(v)) }

func (e *encoder) writeF32(v float32) error { return e.writeU32(math.Float32bits(v)) }

func (e *encoder) writeBinary(b []byte) error {
	if err := e.ensure(len(b)); err != nil {
		return err
	}
	e.b = append(e.b, b...)
	return nil
}

// writeString appends s as UTF-8 bytes followed by the string terminator.
func (e *encoder) writeString(s string) error {
	if err := e.ensure(len(s) + len(stringTerminator)); err != nil {
		return err
	}
	e.b = append(e.b, s...)
	e.b = append(e.b, stringTerminator[:]...)
	return nil
}
