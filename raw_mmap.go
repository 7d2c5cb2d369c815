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
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// mmapRawFile is the read-only, memory-mapped counterpart to rawFile
// (spec.md §4.1), mirroring the teacher's openMmapFile helper used by
// newIndexReader (_examples/bagaswh-prometheus/index.go). It answers the
// same chunk-framing contract out of one []byte covering the whole file
// instead of issuing a read(2) per chunk, which pays off on very large
// JLS files that are read (never back-patched) repeatedly - exactly the
// read path, since header back-patching (spec.md §4.4, §9) only ever
// happens on the write side, which always uses the buffered rawFile.
type mmapRawFile struct {
	f   *os.File
	m   mmap.MMap
	pos int64
}

func openMmapRaw(path string) (*mmapRawFile, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "open jls file for mmap")
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "mmap jls file")
	}
	return &mmapRawFile{f: f, m: m}, nil
}

func (r *mmapRawFile) chunkTell() uint64 { return uint64(r.pos) }

func (r *mmapRawFile) chunkSeek(offset uint64) error {
	if offset > uint64(len(r.m)) {
		return newErr(KindParameterInvalid, "seek past end of mapped file")
	}
	r.pos = int64(offset)
	return nil
}

// readHeaderAndPayload mirrors rawFile.readHeaderAndPayload's contract
// exactly (spec.md §4.1): TOO_BIG without advancing if buf is undersized,
// EMPTY at end of file, otherwise the decoded header plus a payload slice.
// The returned payload aliases the mapping directly; callers that need to
// retain it past the next read must copy, same as with the buffered
// backend's reused scratch buffer.
func (r *mmapRawFile) readHeaderAndPayload(buf []byte) (ChunkHeader, []byte, error) {
	start := r.pos
	if start >= int64(len(r.m)) {
		return ChunkHeader{}, nil, newErr(KindEmpty, "end of file")
	}
	if start+int64(HeaderSize) > int64(len(r.m)) {
		return ChunkHeader{}, nil, newErr(KindParameterInvalid, "truncated chunk header")
	}
	hdr, err := decodeHeader(r.m[start : start+int64(HeaderSize)])
	if err != nil {
		return ChunkHeader{}, nil, err
	}
	if hdr.PayloadLength > uint32(len(buf)) {
		return hdr, nil, newErr(KindTooBig, "payload exceeds buffer")
	}
	payloadStart := start + int64(HeaderSize)
	payloadEnd := payloadStart + int64(hdr.PayloadLength)
	if payloadEnd > int64(len(r.m)) {
		return ChunkHeader{}, nil, newErr(KindParameterInvalid, "truncated chunk payload")
	}
	r.pos = payloadEnd
	return hdr, r.m[payloadStart:payloadEnd], nil
}

func (r *mmapRawFile) close() error {
	if r.f == nil {
		return nil
	}
	uerr := r.m.Unmap()
	cerr := r.f.Close()
	r.f = nil
	if uerr != nil {
		return errors.Wrap(uerr, "unmap jls file")
	}
	return errors.Wrap(cerr, "close jls file")
}
