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
	"hash/crc32"
)

// HeaderSize is the fixed on-disk size, in bytes, of a chunk header.
const HeaderSize = 8 + 8 + 1 + 1 + 2 + 4 + 4 + 4

// castagnoliTable is shared by every CRC computation in the package, the
// same polynomial choice as the teacher's index/WAL checksums.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ChunkHeader is the fixed-size framing record that precedes every chunk's
// payload (spec.md §6). The CRC covers only the header fields that precede
// it; payload integrity is the caller's concern (spec.md §4.1 leaves this
// choice to the implementer).
type ChunkHeader struct {
	ItemNext          uint64
	ItemPrev          uint64
	Tag               Tag
	Rsv0              uint8
	ChunkMeta         uint16
	PayloadLength     uint32
	PayloadPrevLength uint32
}

// encode writes the header, little-endian, including a trailing CRC32 of
// everything before it.
func (h ChunkHeader) encode(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint64(b[0:8], h.ItemNext)
	binary.LittleEndian.PutUint64(b[8:16], h.ItemPrev)
	b[16] = byte(h.Tag)
	b[17] = h.Rsv0
	binary.LittleEndian.PutUint16(b[18:20], h.ChunkMeta)
	binary.LittleEndian.PutUint32(b[20:24], h.PayloadLength)
	binary.LittleEndian.PutUint32(b[24:28], h.PayloadPrevLength)
	crc := crc32.Checksum(b[0:28], castagnoliTable)
	binary.LittleEndian.PutUint32(b[28:32], crc)
}

// decodeHeader parses a header and validates its CRC.
func decodeHeader(b []byte) (ChunkHeader, error) {
	if len(b) < HeaderSize {
		return ChunkHeader{}, newErr(KindParameterInvalid, "short chunk header")
	}
	got := binary.LittleEndian.Uint32(b[28:32])
	want := crc32.Checksum(b[0:28], castagnoliTable)
	if got != want {
		return ChunkHeader{}, newErr(KindParameterInvalid, "chunk header CRC mismatch")
	}
	h := ChunkHeader{
		ItemNext:          binary.LittleEndian.Uint64(b[0:8]),
		ItemPrev:          binary.LittleEndian.Uint64(b[8:16]),
		Tag:               Tag(b[16]),
		Rsv0:              b[17],
		ChunkMeta:         binary.LittleEndian.Uint16(b[18:20]),
		PayloadLength:     binary.LittleEndian.Uint32(b[20:24]),
		PayloadPrevLength: binary.LittleEndian.Uint32(b[24:28]),
	}
	return h, nil
}
