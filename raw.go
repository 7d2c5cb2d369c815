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
	"io"
	"os"

	"github.com/pkg/errors"
)

// rawMode selects how the underlying file is opened.
type rawMode int

const (
	rawModeRead rawMode = iota
	rawModeWrite
)

// rawReader is the subset of rawFile's contract (spec.md §4.1) a Reader
// needs: chunk-boundary seeks and framed reads. Both the default buffered
// *rawFile and the optional mmap-backed *mmapRawFile (raw_mmap.go) satisfy
// it, so OpenReader can swap the backend without reader.go noticing.
type rawReader interface {
	chunkTell() uint64
	chunkSeek(offset uint64) error
	readHeaderAndPayload(buf []byte) (ChunkHeader, []byte, error)
	close() error
}

// rawFile is the chunk-framing I/O layer (spec.md §4.1). It understands
// only chunk boundaries: it has no notion of chains, signals, or tracks.
// All seeks are expressed as absolute chunk offsets.
type rawFile struct {
	f    *os.File
	mode rawMode
	pos  int64 // current absolute offset, mirrors f's cursor
	hdr  [HeaderSize]byte
}

func openRaw(path string, mode rawMode) (*rawFile, error) {
	var f *os.File
	var err error
	switch mode {
	case rawModeWrite:
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	case rawModeRead:
		f, err = os.OpenFile(path, os.O_RDONLY, 0)
	default:
		return nil, newErr(KindParameterInvalid, "invalid raw mode")
	}
	if err != nil {
		return nil, errors.Wrap(err, "open jls file")
	}
	return &rawFile{f: f, mode: mode}, nil
}

func (r *rawFile) close() error {
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// chunkTell returns the current absolute offset.
func (r *rawFile) chunkTell() uint64 { return uint64(r.pos) }

// chunkSeek repositions to an absolute chunk offset.
func (r *rawFile) chunkSeek(offset uint64) error {
	off, err := r.f.Seek(int64(offset), io.SeekStart)
	if err != nil {
		return errors.Wrap(err, "chunk seek")
	}
	r.pos = off
	return nil
}

// fileSize returns the current on-disk length without disturbing r.pos.
func (r *rawFile) fileSize() (uint64, error) {
	fi, err := r.f.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat jls file")
	}
	return uint64(fi.Size()), nil
}

// readHeaderAndPayload reads one full chunk at the current offset into buf,
// advancing past it. If buf is smaller than the chunk's payload, it returns
// KindTooBig without advancing the cursor; the caller must grow buf and
// retry. At end of file it returns KindEmpty.
func (r *rawFile) readHeaderAndPayload(buf []byte) (ChunkHeader, []byte, error) {
	startPos := r.pos
	n, err := io.ReadFull(r.f, r.hdr[:])
	if err == io.EOF || (err == io.ErrUnexpectedEOF && n == 0) {
		return ChunkHeader{}, nil, newErr(KindEmpty, "end of file")
	}
	if err != nil {
		return ChunkHeader{}, nil, errors.Wrap(err, "read chunk header")
	}
	r.pos += int64(n)

	hdr, err := decodeHeader(r.hdr[:])
	if err != nil {
		return ChunkHeader{}, nil, err
	}
	if hdr.PayloadLength > uint32(len(buf)) {
		// Rewind so a retry with a larger buffer re-reads cleanly.
		if _, serr := r.f.Seek(startPos, io.SeekStart); serr != nil {
			return ChunkHeader{}, nil, errors.Wrap(serr, "rewind after TOO_BIG")
		}
		r.pos = startPos
		return hdr, nil, newErr(KindTooBig, "payload exceeds buffer")
	}
	payload := buf[:hdr.PayloadLength]
	n, err = io.ReadFull(r.f, payload)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return ChunkHeader{}, nil, newErr(KindParameterInvalid, "truncated chunk payload")
		}
		return ChunkHeader{}, nil, errors.Wrap(err, "read chunk payload")
	}
	r.pos += int64(n)
	return hdr, payload, nil
}

// write appends a new header+payload at the current offset, advancing past
// it.
func (r *rawFile) write(hdr ChunkHeader, payload []byte) error {
	hdr.PayloadLength = uint32(len(payload))
	hdr.encode(r.hdr[:])
	if _, err := r.f.Write(r.hdr[:]); err != nil {
		return errors.Wrap(err, "write chunk header")
	}
	if len(payload) > 0 {
		if _, err := r.f.Write(payload); err != nil {
			return errors.Wrap(err, "write chunk payload")
		}
	}
	r.pos += int64(HeaderSize) + int64(len(payload))
	return nil
}

// writeHeader rewrites the header in place at the current offset, without
// touching the payload that follows it. Used for back-patching item_next
// links and for nothing else: the header's PayloadLength must match what
// was originally written there.
func (r *rawFile) writeHeader(hdr ChunkHeader) error {
	hdr.encode(r.hdr[:])
	if _, err := r.f.Write(r.hdr[:]); err != nil {
		return errors.Wrap(err, "rewrite chunk header")
	}
	r.pos += int64(HeaderSize)
	return nil
}

// writePayload rewrites length bytes of payload in place at the current
// offset (which must be positioned just past a chunk's header). The
// payload length is unchanged; it is the caller's responsibility to pass
// exactly the original payload length.
func (r *rawFile) writePayload(data []byte) error {
	if _, err := r.f.Write(data); err != nil {
		return errors.Wrap(err, "rewrite chunk payload")
	}
	r.pos += int64(len(data))
	return nil
}

func (r *rawFile) sync() error {
	if r.f == nil {
		return nil
	}
	return r.f.Sync()
}
