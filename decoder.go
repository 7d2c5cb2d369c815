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
	"bytes"
	"encoding/binary"
	"math"
)

// decoder is the read-side counterpart of encoder: a bounded cursor over a
// byte slice decoded from one chunk's payload, mirroring the teacher's
// decbuf (_examples/bagaswh-prometheus/index.go).
type decoder struct {
	b   []byte
	off int
	e   error
}

func newDecoder(b []byte) *decoder { return &decoder{b: b} }

func (d *decoder) err() error { return d.e }

func (d *decoder) remaining() int { return len(d.b) - d.off }

func (d *decoder) need(n int) bool {
	if d.e != nil {
		return false
	}
	if d.remaining() < n {
		d.e = newErr(KindParameterInvalid, "short payload")
		return false
	}
	return true
}

func (d *decoder) skip(n int) {
	if !d.need(n) {
		return
	}
	d.off += n
}

func (d *decoder) readU8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) readU16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.b[d.off:])
	d.off += 2
	return v
}

func (d *decoder) readU32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) readU64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) readI64() int64 { return int64(d.readU64()) }

func (d *decoder) readF32() float32 { return math.Float32frombits(d.readU32()) }

func (d *decoder) readBinary(n int) []byte {
	if !d.need(n) {
		return nil
	}
	b := d.b[d.off : d.off+n]
	d.off += n
	return b
}

// readString reads up to and past the next string terminator, returning
// the decoded string without the terminator. Interning into the reader's
// string arena, when desired, is the caller's responsibility (stringarena.go).
func (d *decoder) readString() string {
	if d.e != nil {
		return ""
	}
	idx := bytes.Index(d.b[d.off:], stringTerminator[:])
	if idx < 0 {
		d.e = newErr(KindParameterInvalid, "unterminated string")
		return ""
	}
	s := string(d.b[d.off : d.off+idx])
	d.off += idx + len(stringTerminator)
	return s
}
