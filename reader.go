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
	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

// readTrack is the reader's per-track directory entry: offsets of every
// DATA chunk in chain order (for FSR random access) plus the per-level
// offsets read out of the track's HEAD chunk.
type readTrack struct {
	defined bool

	dataOffsets []uint64 // level-0 DATA chunk offsets, in chain order
	length      uint64   // total sample/record count across all DATA chunks

	headOffsets [SummaryLevelCount]uint64 // from the track's HEAD payload
}

// readSignal is the reader's per-signal directory entry.
type readSignal struct {
	defined bool
	def     SignalDef
	tracks  [4]readTrack
}

// Reader opens an existing JLS file and answers length/seek/read/iterate
// queries against its directory, built once at Open time by one linear
// pass over every chunk in the file (see scan).
type Reader struct {
	raw    rawReader
	logger log.Logger

	sources       [SourceCount]SourceDef
	sourceDefined [SourceCount]bool

	signals [SignalCount]readSignal

	userData    []userDataRecord
	sawSentinel bool

	arena *stringArena

	buf []byte
}

type userDataRecord struct {
	offset  uint64
	meta    uint16
	storage StorageType
	data    []byte
}

// ReaderOption configures OpenReader.
type ReaderOption func(*readerConfig)

type readerConfig struct {
	r       *Reader
	useMmap bool
}

// WithReaderLogger attaches a go-kit logger for reader diagnostics.
func WithReaderLogger(l log.Logger) ReaderOption {
	return func(c *readerConfig) { c.r.logger = l }
}

// WithMmap opens the file read-only through a memory-mapped raw-I/O
// backend (raw_mmap.go) instead of ordinary buffered os.File reads.
// SPEC_FULL.md records this as a deliberate non-default: see DESIGN.md
// "raw.go / raw_mmap.go — chunk-framed file I/O".
func WithMmap() ReaderOption {
	return func(c *readerConfig) { c.useMmap = true }
}

// OpenReader opens path read-only and scans its full chunk graph into an
// in-RAM directory (spec.md §4.5).
func OpenReader(path string, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		arena: newStringArena(0),
		buf:   make([]byte, 64*1024),
	}
	cfg := &readerConfig{r: r}
	for _, opt := range opts {
		opt(cfg)
	}
	r.logger = defaultLogger(r.logger)

	var raw rawReader
	var err error
	if cfg.useMmap {
		raw, err = openMmapRaw(path)
	} else {
		raw, err = openRaw(path, rawModeRead)
	}
	if err != nil {
		return nil, err
	}
	r.raw = raw

	if err := r.scan(); err != nil {
		r.raw.close()
		return nil, errors.Wrap(err, "scan jls file")
	}
	return r, nil
}

// scan walks every chunk in the file exactly once, in on-disk order,
// classifying each by tag and folding it into the directory. This is a
// straight linear pass rather than a chain walk: on-disk order already
// matches append order, and a single pass builds the same directory the
// chain links would, without the extra seeks (spec.md §4.5).
func (r *Reader) scan() error {
	if err := r.raw.chunkSeek(0); err != nil {
		return err
	}
	for {
		offset := r.raw.chunkTell()
		hdr, payload, err := r.readChunk()
		if err != nil {
			if ErrorKind(err) == KindEmpty {
				return nil
			}
			// A crash between appendChunk's write and its back-patch
			// rewrite (spec.md §4.4 "Failure between (i) and (ii)") can
			// leave a partial or truncated trailing chunk. Per spec.md §7
			// ("partially written files remain openable") and §8 scenario
			// 6 ("open returns success... scans find whatever preceded"),
			// that stops the scan here rather than failing Open: whatever
			// was folded up to this offset stands as the directory.
			logWarn(r.logger, "stopping scan at structural anomaly", "offset", offset, "err", err)
			return nil
		}
		if err := r.fold(offset, hdr, payload); err != nil {
			logWarn(r.logger, "skipping malformed chunk", "offset", offset, "tag", hdr.Tag, "err", err)
			continue
		}
	}
}

// readChunk reads one chunk at the current position, growing r.buf and
// retrying if it was too small (spec.md §4.1 TOO_BIG protocol).
func (r *Reader) readChunk() (ChunkHeader, []byte, error) {
	for {
		hdr, payload, err := r.raw.readHeaderAndPayload(r.buf)
		if err == nil {
			return hdr, payload, nil
		}
		if ErrorKind(err) == KindTooBig {
			r.buf = make([]byte, hdr.PayloadLength*2+HeaderSize)
			continue
		}
		return ChunkHeader{}, nil, err
	}
}

func (r *Reader) fold(offset uint64, hdr ChunkHeader, payload []byte) error {
	tag := hdr.Tag
	switch {
	case tag == TagSourceDef:
		sourceID := hdr.ChunkMeta
		if int(sourceID) >= SourceCount {
			return newErr(KindParameterInvalid, "source_id out of range")
		}
		d := newDecoder(payload)
		def := decodeSourceDef(d, sourceID)
		if err := d.err(); err != nil {
			return err
		}
		def.Name = r.arena.intern(def.Name)
		def.Vendor = r.arena.intern(def.Vendor)
		def.Model = r.arena.intern(def.Model)
		def.Version = r.arena.intern(def.Version)
		def.Serial = r.arena.intern(def.Serial)
		r.sources[sourceID] = def
		r.sourceDefined[sourceID] = true
		return nil

	case tag == TagSignalDef:
		signalID := chunkMetaSignalID(hdr.ChunkMeta)
		if int(signalID) >= SignalCount {
			return newErr(KindParameterInvalid, "signal_id out of range")
		}
		d := newDecoder(payload)
		def := decodeSignalDef(d, signalID)
		if err := d.err(); err != nil {
			return err
		}
		def.Name = r.arena.intern(def.Name)
		def.SIUnits = r.arena.intern(def.SIUnits)
		r.signals[signalID] = readSignal{defined: true, def: def}
		return nil

	case tag == TagUserData:
		// The very first user-data chunk in the file is the sentinel Open
		// writes before any real content exists (spec.md §4.4 "open...
		// writes an initial user-data sentinel chunk"). It anchors the
		// chain's backward link but is never itself a caller-visible
		// record: user_data_prev crossing it returns EMPTY (spec.md §4.5).
		if !r.sawSentinel {
			r.sawSentinel = true
			return nil
		}
		r.userData = append(r.userData, userDataRecord{
			offset:  offset,
			meta:    userDataValue(hdr.ChunkMeta),
			storage: userDataStorage(hdr.ChunkMeta),
			data:    append([]byte(nil), payload...),
		})
		return nil

	case tag.isTrackChunk():
		return r.foldTrackChunk(offset, hdr, payload)

	default:
		return nil
	}
}

func (r *Reader) foldTrackChunk(offset uint64, hdr ChunkHeader, payload []byte) error {
	tt := hdr.Tag.trackType()
	signalID := chunkMetaSignalID(hdr.ChunkMeta)
	if int(signalID) >= SignalCount || !r.signals[signalID].defined {
		return newErr(KindParameterInvalid, "track chunk references undefined signal")
	}
	track := &r.signals[signalID].tracks[tt]

	switch hdr.Tag.role() {
	case roleDef:
		track.defined = true
	case roleHead:
		track.defined = true
		d := newDecoder(payload)
		for i := range track.headOffsets {
			track.headOffsets[i] = d.readU64()
		}
	case roleData:
		if isSampleTrack(tt) {
			d := newDecoder(payload)
			_ = d.readU64() // start timestamp/sample id
			count := d.readU64()
			track.length += count
			track.dataOffsets = append(track.dataOffsets, offset)
		}
	case roleSummary, roleIndex:
		// Summary/index chunks are reached on demand via the HEAD offsets
		// recorded above; scan does not need to index them individually.
	}
	return nil
}

// signal validates signalID and returns its directory entry.
func (r *Reader) signal(signalID uint16) (*readSignal, error) {
	if int(signalID) >= SignalCount || !r.signals[signalID].defined {
		return nil, newErr(KindNotFound, "signal_id not defined")
	}
	return &r.signals[signalID], nil
}

// SignalDef returns the definition recorded for signalID.
func (r *Reader) SignalDef(signalID uint16) (SignalDef, error) {
	sig, err := r.signal(signalID)
	if err != nil {
		return SignalDef{}, err
	}
	return sig.def, nil
}

// SourceDef returns the definition recorded for sourceID.
func (r *Reader) SourceDef(sourceID uint16) (SourceDef, error) {
	if int(sourceID) >= SourceCount || !r.sourceDefined[sourceID] {
		return SourceDef{}, newErr(KindNotFound, "source_id not defined")
	}
	return r.sources[sourceID], nil
}

// FSRLength returns the total number of samples appended to signalID's FSR
// track (spec.md §4.5).
func (r *Reader) FSRLength(signalID uint16) (uint64, error) {
	sig, err := r.signal(signalID)
	if err != nil {
		return 0, err
	}
	if sig.def.SignalType != SignalTypeFSR {
		return 0, newErr(KindParameterInvalid, "signal is not FSR")
	}
	return sig.tracks[TrackFSR].length, nil
}

// FSRF32 reads n samples starting at sampleID from signalID's FSR track
// into dst, returning the slice actually filled (spec.md §4.5). It walks
// the level-0 DATA chunks in chain order from the first one, reading each
// and copying the samples that fall in [sampleID, sampleID+n); it stops
// once dst is full.
func (r *Reader) FSRF32(signalID uint16, sampleID uint64, dst []float32) ([]float32, error) {
	sig, err := r.signal(signalID)
	if err != nil {
		return nil, err
	}
	if sig.def.SignalType != SignalTypeFSR {
		return nil, newErr(KindParameterInvalid, "signal is not FSR")
	}
	codec, err := codecFor(sig.def.DataType)
	if err != nil {
		return nil, err
	}
	track := &sig.tracks[TrackFSR]
	out := dst[:0]
	want := uint64(len(dst))
	filled := uint64(0)

	for _, off := range track.dataOffsets {
		if filled >= want {
			break
		}
		_, payload, err := r.readChunkAt(off)
		if err != nil {
			return nil, err
		}
		d := newDecoder(payload)
		start := d.readU64()
		count := d.readU64()
		end := start + count
		if end <= sampleID || start >= sampleID+want {
			continue
		}
		for i := uint64(0); i < count && filled < want; i++ {
			abs := start + i
			v := codec.decode(d)
			if abs < sampleID {
				continue
			}
			out = append(out, v)
			filled++
		}
	}
	return out, nil
}

// readChunkAt reads one full chunk at an absolute offset without
// disturbing the reader's notion of "current scan position" (the scan is
// already complete by the time callers use this).
func (r *Reader) readChunkAt(offset uint64) (ChunkHeader, []byte, error) {
	if err := r.raw.chunkSeek(offset); err != nil {
		return ChunkHeader{}, nil, err
	}
	return r.readChunk()
}

// Seek locates the chunk covering sampleID at targetLevel by descending
// signalID's summary pyramid from its highest populated level, following
// each SummaryEntry.ChildOffset down one level at a time (spec.md §4.5
// "seek(signal_id, target_level, sample_id)", §8 scenario 1). targetLevel
// 0 returns the offset of the level-0 DATA chunk whose span contains
// sampleID; a non-zero targetLevel stops the descent early and returns the
// offset of the SUMMARY chunk at that level instead.
func (r *Reader) Seek(signalID uint16, targetLevel int, sampleID uint64) (uint64, error) {
	sig, err := r.signal(signalID)
	if err != nil {
		return 0, err
	}
	if sig.def.SignalType != SignalTypeFSR {
		return 0, newErr(KindParameterInvalid, "signal is not FSR")
	}
	if targetLevel < 0 || targetLevel >= SummaryLevelCount {
		return 0, newErr(KindParameterInvalid, "target_level out of range")
	}
	track := &sig.tracks[TrackFSR]
	if track.length == 0 || sampleID >= track.length {
		return 0, newErr(KindNotFound, "sampleID out of range")
	}

	level := SummaryLevelCount - 1
	for level > 0 && track.headOffsets[level] == 0 {
		level--
	}
	if level < targetLevel {
		return 0, newErr(KindNotFound, "target_level exceeds populated pyramid height")
	}
	if level == 0 {
		for _, off := range track.dataOffsets {
			_, payload, err := r.readChunkAt(off)
			if err != nil {
				return 0, err
			}
			d := newDecoder(payload)
			start := d.readU64()
			count := d.readU64()
			if sampleID >= start && sampleID < start+count {
				return off, nil
			}
		}
		return 0, newErr(KindNotFound, "sampleID not covered by any data chunk")
	}

	offset := track.headOffsets[level]
	for level > targetLevel {
		entries, err := r.readSummaryEntries(offset)
		if err != nil {
			return 0, err
		}
		entry, err := pickEntry(entries, sampleID)
		if err != nil {
			return 0, err
		}
		offset = entry.ChildOffset
		level--
	}
	return offset, nil
}

// pickEntry returns the last entry whose ChildTimestamp is <= sampleID,
// i.e. the entry (or child chunk) that spans sampleID.
func pickEntry(entries []SummaryEntry, sampleID uint64) (SummaryEntry, error) {
	var best *SummaryEntry
	for i := range entries {
		if entries[i].ChildTimestamp <= sampleID {
			best = &entries[i]
		} else {
			break
		}
	}
	if best == nil {
		return SummaryEntry{}, newErr(KindNotFound, "sampleID precedes all summary entries")
	}
	return *best, nil
}

// readSummaryEntries reads every entry out of one SUMMARY chunk.
func (r *Reader) readSummaryEntries(offset uint64) ([]SummaryEntry, error) {
	_, payload, err := r.readChunkAt(offset)
	if err != nil {
		return nil, err
	}
	d := newDecoder(payload)
	_ = d.readU64() // timestamp of first entry
	count := d.readU64()
	entries := make([]SummaryEntry, 0, count)
	for i := uint64(0); i < count; i++ {
		entries = append(entries, SummaryEntry{
			ChildTimestamp: d.readU64(),
			ChildCount:     d.readU64(),
			ChildOffset:    d.readU64(),
			Mean:           d.readF32(),
			Min:            d.readF32(),
			Max:            d.readF32(),
			Std:            d.readF32(),
		})
	}
	return entries, d.err()
}

// FSRStatistics returns the combined (mean, min, max, stddev) for the
// samples in [sampleID, sampleID+length) (SPEC_FULL.md names this as a
// supplemented operation). Only the highest populated pyramid level is
// consulted: when its entries that lie wholly inside the range cover the
// whole range, they are combined; otherwise the samples are reduced
// directly from the level-0 DATA chunks.
func (r *Reader) FSRStatistics(signalID uint16, sampleID, length uint64) (mean, min, max, std float32, err error) {
	sig, err := r.signal(signalID)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if sig.def.SignalType != SignalTypeFSR {
		return 0, 0, 0, 0, newErr(KindParameterInvalid, "signal is not FSR")
	}
	codec, err := codecFor(sig.def.DataType)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	track := &sig.tracks[TrackFSR]
	end := sampleID + length
	if length == 0 || end > track.length {
		return 0, 0, 0, 0, newErr(KindParameterInvalid, "range exceeds signal length")
	}

	level := SummaryLevelCount - 1
	for level > 0 && track.headOffsets[level] == 0 {
		level--
	}
	if level == 0 {
		return r.statisticsFromData(track, codec, sampleID, end)
	}

	entries, err := r.readSummaryEntries(track.headOffsets[level])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	var covering []SummaryEntry
	for _, e := range entries {
		if e.ChildTimestamp >= sampleID && e.ChildTimestamp+e.ChildCount <= end {
			covering = append(covering, e)
		}
	}
	if len(covering) > 0 {
		m, mn, mx, s, n := combineEntries(covering)
		if n == length {
			return m, mn, mx, s, nil
		}
	}
	return r.statisticsFromData(track, codec, sampleID, end)
}

func (r *Reader) statisticsFromData(track *readTrack, codec SampleCodec, start, end uint64) (mean, min, max, std float32, err error) {
	samples := make([]float32, 0, end-start)
	for _, off := range track.dataOffsets {
		_, payload, rerr := r.readChunkAt(off)
		if rerr != nil {
			return 0, 0, 0, 0, rerr
		}
		d := newDecoder(payload)
		chunkStart := d.readU64()
		count := d.readU64()
		chunkEnd := chunkStart + count
		if chunkEnd <= start || chunkStart >= end {
			continue
		}
		for i := uint64(0); i < count; i++ {
			abs := chunkStart + i
			v := codec.decode(d)
			if abs >= start && abs < end {
				samples = append(samples, v)
			}
		}
	}
	mean, min, max, std = reduceF32(samples)
	return mean, min, max, std, nil
}

// AnnotationNext is a named but unimplemented extension point; spec.md §9
// leaves full annotation iteration semantics (filtering, cursors) open, and
// SPEC_FULL.md stubs it rather than inventing unverified cursor behavior.
func (r *Reader) AnnotationNext(signalID uint16, cursor uint64) (Annotation, uint64, error) {
	return Annotation{}, 0, newErr(KindNotSupported, "annotation iteration is not implemented")
}

// UserDataNext returns the user-data record at cursor+1 along with the
// cursor to pass on the next call, or KindEmpty once the chain is
// exhausted (spec.md §4.4, §4.5 "user_data_next ... follow item_next").
func (r *Reader) UserDataNext(cursor int) (meta uint16, storage StorageType, data []byte, next int, err error) {
	candidate := cursor + 1
	if candidate < 0 || candidate >= len(r.userData) {
		return 0, 0, nil, cursor, newErr(KindEmpty, "no more user_data chunks")
	}
	rec := r.userData[candidate]
	return rec.meta, rec.storage, rec.data, candidate, nil
}

// UserDataPrev returns the user-data record at cursor-1, or KindEmpty and a
// cursor reset to UserDataReset() if that would cross the initial sentinel
// chunk (spec.md §4.5: "prev that would cross the initial sentinel returns
// EMPTY and resets the cursor").
func (r *Reader) UserDataPrev(cursor int) (meta uint16, storage StorageType, data []byte, next int, err error) {
	candidate := cursor - 1
	if candidate < 0 || cursor > len(r.userData) {
		return 0, 0, nil, r.UserDataReset(), newErr(KindEmpty, "user_data_prev crossed the initial sentinel")
	}
	rec := r.userData[candidate]
	return rec.meta, rec.storage, rec.data, candidate, nil
}

// UserDataReset returns the cursor value that, passed to UserDataNext,
// yields the first user-data chunk after the initial sentinel.
func (r *Reader) UserDataReset() int { return -1 }

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.raw.close()
}
