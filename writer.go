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

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

// Writer streams sources, signals, samples, annotations, UTC anchors, and
// user data into a new JLS file, maintaining the chunk chains and the
// per-signal summary pyramid as it goes (spec.md §4.4). A Writer is owned
// by exactly one goroutine at a time; it performs no internal locking
// (spec.md §5).
type Writer struct {
	raw    *rawFile
	enc    *encoder
	logger log.Logger

	endOffset         uint64
	payloadPrevLength uint32

	sourceMRA   chainLink
	signalMRA   chainLink
	userDataMRA chainLink

	sources [SourceCount]sourceState
	signals [SignalCount]signalState

	closed bool
}

// WriterOption configures Open.
type WriterOption func(*Writer)

// WithWriterLogger attaches a go-kit logger the writer uses for the
// warn/error diagnostics spec.md §7 requires.
func WithWriterLogger(l log.Logger) WriterOption {
	return func(w *Writer) { w.logger = l }
}

// WithScratchCapacity overrides the buffered serializer's scratch region
// size (spec.md §4.2 floors it at 1 MiB regardless).
func WithScratchCapacity(n int) WriterOption {
	return func(w *Writer) { w.enc = newEncoder(n) }
}

// Open creates path, truncating any existing file, writes the initial
// user-data sentinel chunk, and defines the reserved source 0 and signal 0
// (spec.md §4.4).
func Open(path string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{enc: newEncoder(0)}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = defaultLogger(w.logger)

	raw, err := openRaw(path, rawModeWrite)
	if err != nil {
		return nil, err
	}
	w.raw = raw

	if _, err := w.appendChunk(TagUserData, userDataMeta(0, StorageInvalid), nil, &w.userDataMRA); err != nil {
		return nil, errors.Wrap(err, "write initial user-data sentinel")
	}
	if err := w.defineSource(SourceDef{SourceID: 0, Name: "global"}); err != nil {
		return nil, errors.Wrap(err, "define reserved source 0")
	}
	if err := w.defineSignal(SignalDef{
		SignalID:              0,
		SourceID:               0,
		SignalType:             SignalTypeVSR,
		DataType:               DataTypeF32,
		Name:                   "global_annotation",
		EntriesPerSummary:      minEntriesPerSummary,
		SummaryDecimateFactor:  minSummaryDecimateFactor,
	}); err != nil {
		return nil, errors.Wrap(err, "define reserved signal 0")
	}
	return w, nil
}

// appendChunk writes a new chunk at end of file, back-patching the
// previous most-recently-added chunk of the same chain (identified by
// link) so its item_next points at the new chunk, per the four-step
// protocol in spec.md §4.4.
func (w *Writer) appendChunk(tag Tag, meta uint16, payload []byte, link *chainLink) (uint64, error) {
	if err := w.raw.chunkSeek(w.endOffset); err != nil {
		return 0, err
	}
	var prevOffset uint64
	if link.valid {
		prevOffset = link.offset
	}
	hdr := ChunkHeader{
		ItemNext:          0,
		ItemPrev:          prevOffset,
		Tag:               tag,
		ChunkMeta:         meta,
		PayloadLength:     uint32(len(payload)),
		PayloadPrevLength: w.payloadPrevLength,
	}
	newOffset := w.endOffset
	if err := w.raw.write(hdr, payload); err != nil {
		return 0, err
	}
	w.payloadPrevLength = uint32(len(payload))
	w.endOffset = w.raw.chunkTell()

	if link.valid {
		old := link.header
		old.ItemNext = newOffset
		if err := w.raw.chunkSeek(link.offset); err != nil {
			return 0, err
		}
		if err := w.raw.writeHeader(old); err != nil {
			return 0, err
		}
	}
	link.offset = newOffset
	link.header = hdr
	link.valid = true
	return newOffset, nil
}

// rewriteHead rewrites a track's HEAD payload in place with its current
// per-level offsets.
func (w *Writer) rewriteHead(t *trackState) error {
	w.enc.reset()
	for _, off := range t.headData {
		if err := w.enc.writeU64(off); err != nil {
			return err
		}
	}
	if err := w.raw.chunkSeek(t.headOffset + HeaderSize); err != nil {
		return err
	}
	return w.raw.writePayload(w.enc.bytes())
}

// SourceDef defines a new source. source_id must be unused and in range;
// signals may only reference a source defined here first (spec.md §3, §4.4).
func (w *Writer) SourceDef(s SourceDef) error {
	if s.SourceID == 0 {
		return newErr(KindAlreadyExists, "source 0 is reserved")
	}
	return w.defineSource(s)
}

func (w *Writer) defineSource(s SourceDef) error {
	if int(s.SourceID) >= SourceCount {
		return newErr(KindParameterInvalid, "source_id out of range")
	}
	if w.sources[s.SourceID].defined {
		return newErr(KindAlreadyExists, "source_id already defined")
	}
	w.enc.reset()
	if err := encodeSourceDef(w.enc, s); err != nil {
		return err
	}
	if _, err := w.appendChunk(TagSourceDef, s.SourceID, append([]byte(nil), w.enc.bytes()...), &w.sourceMRA); err != nil {
		return errors.Wrap(err, "write source_def")
	}
	w.sources[s.SourceID] = sourceState{defined: true, def: s}
	return nil
}

// SignalDef defines a new signal. signal_id must be unused and in range;
// source_id must already be defined (spec.md §4.4).
func (w *Writer) SignalDef(s SignalDef) error {
	if s.SignalID == 0 {
		return newErr(KindAlreadyExists, "signal 0 is reserved")
	}
	return w.defineSignal(s)
}

func (w *Writer) defineSignal(s SignalDef) error {
	if int(s.SignalID) >= SignalCount {
		return newErr(KindParameterInvalid, "signal_id out of range")
	}
	if w.signals[s.SignalID].defined {
		return newErr(KindAlreadyExists, "signal_id already defined")
	}
	if !w.sources[s.SourceID].defined {
		return newErr(KindNotFound, "source_id not defined")
	}
	switch s.SignalType {
	case SignalTypeFSR:
		if s.SampleRate == 0 {
			return newErr(KindParameterInvalid, "FSR signal requires sample_rate > 0")
		}
	case SignalTypeVSR:
		s.SampleRate = 0
	default:
		return newErr(KindParameterInvalid, "signal_type must be FSR or VSR")
	}
	if s.DataType != DataTypeF32 {
		return newErr(KindNotSupported, "only the F32 data type is implemented")
	}
	if s.SummaryDecimateFactor < minSummaryDecimateFactor {
		logWarn(w.logger, "raising summary_decimate_factor to floor", "signal_id", s.SignalID, "value", s.SummaryDecimateFactor, "floor", minSummaryDecimateFactor)
		s.SummaryDecimateFactor = minSummaryDecimateFactor
	}
	if s.EntriesPerSummary < minEntriesPerSummary {
		logWarn(w.logger, "raising entries_per_summary to floor", "signal_id", s.SignalID, "value", s.EntriesPerSummary, "floor", minEntriesPerSummary)
		s.EntriesPerSummary = minEntriesPerSummary
	}
	if s.SummaryDecimateFactor != s.EntriesPerSummary {
		logWarn(w.logger, "summary_decimate_factor does not match entries_per_summary; entries_per_summary governs the actual pyramid fan-out", "signal_id", s.SignalID, "summary_decimate_factor", s.SummaryDecimateFactor, "entries_per_summary", s.EntriesPerSummary)
	}
	if s.SignalType == SignalTypeFSR && s.SampleDecimateFactor != s.SamplesPerData {
		logWarn(w.logger, "sample_decimate_factor does not match samples_per_data; samples_per_data governs the actual level-1 entry span", "signal_id", s.SignalID, "sample_decimate_factor", s.SampleDecimateFactor, "samples_per_data", s.SamplesPerData)
	}

	w.enc.reset()
	if err := encodeSignalDef(w.enc, s); err != nil {
		return err
	}
	if _, err := w.appendChunk(TagSignalDef, trackChunkMeta(s.SignalID, 0), append([]byte(nil), w.enc.bytes()...), &w.signalMRA); err != nil {
		return errors.Wrap(err, "write signal_def")
	}

	st := &signalState{defined: true, def: s}
	if s.SignalType == SignalTypeFSR && s.SamplesPerData > 0 {
		st.dataBuf = make([]float32, 0, s.SamplesPerData)
	}
	for _, tt := range legalTracks(s.SignalType) {
		if err := w.defineTrack(st, s.SignalID, tt); err != nil {
			return err
		}
	}
	w.signals[s.SignalID] = *st
	return nil
}

func (w *Writer) defineTrack(st *signalState, signalID uint16, tt TrackType) error {
	defTag, headTag, _, _ := trackTags(tt)
	meta := trackChunkMeta(signalID, 0)

	if _, err := w.appendChunk(defTag, meta, nil, &w.signalMRA); err != nil {
		return errors.Wrap(err, "write track def")
	}

	w.enc.reset()
	if err := w.enc.writeZero(SummaryLevelCount * 8); err != nil {
		return err
	}
	headOffset, err := w.appendChunk(headTag, meta, append([]byte(nil), w.enc.bytes()...), &w.signalMRA)
	if err != nil {
		return errors.Wrap(err, "write track head")
	}

	ts := &st.tracks[tt]
	ts.defined = true
	ts.headOffset = headOffset
	return nil
}

// track returns the trackState for (signalID, tt), validating both are
// legal.
func (w *Writer) track(signalID uint16, tt TrackType) (*signalState, *trackState, error) {
	if int(signalID) >= SignalCount || !w.signals[signalID].defined {
		return nil, nil, newErr(KindNotFound, "signal_id not defined")
	}
	sig := &w.signals[signalID]
	ts := &sig.tracks[tt]
	if !ts.defined {
		return nil, nil, newErr(KindParameterInvalid, "track not legal for this signal")
	}
	return sig, ts, nil
}

// FSRF32 appends n samples, starting at sampleID, to an FSR signal's
// sample stream (spec.md §4.4). Samples must be appended contiguously;
// sampleID must equal the signal's next expected sample id.
func (w *Writer) FSRF32(signalID uint16, sampleID uint64, data []float32) error {
	sig, track, err := w.track(signalID, TrackFSR)
	if err != nil {
		return err
	}
	if sig.def.SignalType != SignalTypeFSR {
		return newErr(KindParameterInvalid, "signal is not FSR")
	}
	if len(sig.dataBuf) == 0 && !track.data.valid {
		sig.dataBufStart = sampleID
		sig.nextSampleID = sampleID
	}
	if sampleID != sig.nextSampleID {
		return newErr(KindParameterInvalid, "sampleID is not contiguous with prior writes")
	}

	perData := int(sig.def.SamplesPerData)
	for len(data) > 0 {
		room := perData - len(sig.dataBuf)
		n := room
		if n > len(data) {
			n = len(data)
		}
		sig.dataBuf = append(sig.dataBuf, data[:n]...)
		data = data[n:]
		sig.nextSampleID += uint64(n)

		if len(sig.dataBuf) == perData {
			if err := w.emitDataChunk(sig, track); err != nil {
				return err
			}
		}
	}
	return nil
}

// VSRF32 is a named but unimplemented extension point (spec.md §9:
// "VSR-write ... stubbed; leave them as unimplemented error kinds rather
// than inventing behavior").
func (w *Writer) VSRF32(signalID uint16, timestamps []uint64, data []float32) error {
	return newErr(KindNotSupported, "VSR sample writing is not implemented")
}

// emitDataChunk flushes sig's staged raw samples as one level-0 FSR data
// chunk and folds its reduction into the level-1 summary staging
// accumulator (spec.md §4.4 steps 1-3).
func (w *Writer) emitDataChunk(sig *signalState, track *trackState) error {
	if len(sig.dataBuf) == 0 {
		return nil
	}
	codec, err := codecFor(sig.def.DataType)
	if err != nil {
		return err
	}
	_, _, dataTag, _ := trackTags(TrackFSR)

	w.enc.reset()
	if err := w.enc.writeU64(sig.dataBufStart); err != nil {
		return err
	}
	if err := w.enc.writeU64(uint64(len(sig.dataBuf))); err != nil {
		return err
	}
	for _, v := range sig.dataBuf {
		if err := codec.encode(w.enc, v); err != nil {
			return err
		}
	}
	offset, err := w.appendChunk(dataTag, trackChunkMeta(sig.def.SignalID, 0), append([]byte(nil), w.enc.bytes()...), &track.data)
	if err != nil {
		return errors.Wrap(err, "write fsr data chunk")
	}

	mean, min, max, std := reduceF32(sig.dataBuf)
	entry := SummaryEntry{
		ChildTimestamp: sig.dataBufStart,
		ChildCount:     uint64(len(sig.dataBuf)),
		ChildOffset:    offset,
		Mean:           mean,
		Min:            min,
		Max:            max,
		Std:            std,
	}
	sig.dataBuf = sig.dataBuf[:0]
	sig.dataBufStart = sig.nextSampleID

	return w.appendSummaryEntry(sig, track, TrackFSR, 1, entry)
}

// appendSummaryEntry stages entry at the given pyramid level, flushing
// (and recursing one level up) whenever the level's staging buffer fills
// (spec.md §4.4 step 2).
func (w *Writer) appendSummaryEntry(sig *signalState, track *trackState, tt TrackType, level int, entry SummaryEntry) error {
	if level >= SummaryLevelCount {
		return nil
	}
	track.staged[level] = append(track.staged[level], entry)
	if uint32(len(track.staged[level])) >= sig.def.EntriesPerSummary {
		return w.flushSummaryLevel(sig, track, tt, level, false)
	}
	return nil
}

// flushSummaryLevel writes whatever is staged at level as one SUMMARY
// chunk, rewrites the track's HEAD chunk to point at it, and feeds the
// combined reduction up to level+1. With force, a non-full (partial)
// buffer is flushed anyway (used by Close).
func (w *Writer) flushSummaryLevel(sig *signalState, track *trackState, tt TrackType, level int, force bool) error {
	entries := track.staged[level]
	if len(entries) == 0 {
		return nil
	}
	if !force && uint32(len(entries)) < sig.def.EntriesPerSummary {
		return nil
	}
	_, _, _, summaryTag := trackTags(tt)

	w.enc.reset()
	if err := w.enc.writeU64(entries[0].ChildTimestamp); err != nil {
		return err
	}
	if err := w.enc.writeU64(uint64(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeSummaryEntry(w.enc, e); err != nil {
			return err
		}
	}
	meta := trackChunkMeta(sig.def.SignalID, uint8(level))
	offset, err := w.appendChunk(summaryTag, meta, append([]byte(nil), w.enc.bytes()...), &track.summary[level])
	if err != nil {
		return errors.Wrap(err, "write summary chunk")
	}

	track.headData[level] = offset
	if err := w.rewriteHead(track); err != nil {
		return errors.Wrap(err, "rewrite track head")
	}
	track.ledger[level].record(len(entries))

	mean, min, max, std, total := combineEntries(entries)
	parent := SummaryEntry{
		ChildTimestamp: entries[0].ChildTimestamp,
		ChildCount:     total,
		ChildOffset:    offset,
		Mean:           mean,
		Min:            min,
		Max:            max,
		Std:            std,
	}
	track.staged[level] = track.staged[level][:0]
	return w.appendSummaryEntry(sig, track, tt, level+1, parent)
}

func writeSummaryEntry(e *encoder, s SummaryEntry) error {
	if err := e.writeU64(s.ChildTimestamp); err != nil {
		return err
	}
	if err := e.writeU64(s.ChildCount); err != nil {
		return err
	}
	if err := e.writeU64(s.ChildOffset); err != nil {
		return err
	}
	if err := e.writeF32(s.Mean); err != nil {
		return err
	}
	if err := e.writeF32(s.Min); err != nil {
		return err
	}
	if err := e.writeF32(s.Max); err != nil {
		return err
	}
	return e.writeF32(s.Std)
}

// Annotation appends one annotation record to signalID's ANNOTATION track.
func (w *Writer) Annotation(signalID uint16, timestamp uint64, at AnnotationType, st StorageType, body []byte) error {
	_, track, err := w.track(signalID, TrackAnnotation)
	if err != nil {
		return err
	}
	switch st {
	case StorageString, StorageJSON:
		if idx := bytes.IndexByte(body, 0); idx >= 0 {
			body = body[:idx+1]
		} else {
			body = append(append([]byte(nil), body...), 0)
		}
	case StorageBinary, StorageInvalid:
		// used as-is
	default:
		return newErr(KindParameterInvalid, "unknown storage_type")
	}

	w.enc.reset()
	if err := w.enc.writeU64(timestamp); err != nil {
		return err
	}
	if err := w.enc.writeU8(uint8(at)); err != nil {
		return err
	}
	if err := w.enc.writeU8(uint8(st)); err != nil {
		return err
	}
	if err := w.enc.writeZero(6); err != nil {
		return err
	}
	if err := w.enc.writeBinary(body); err != nil {
		return err
	}
	_, _, dataTag, _ := trackTags(TrackAnnotation)
	_, err = w.appendChunk(dataTag, trackChunkMeta(signalID, 0), append([]byte(nil), w.enc.bytes()...), &track.data)
	return errors.Wrap(err, "write annotation")
}

// UTC appends one UTC anchor to an FSR signal's UTC track (spec.md §3: the
// UTC track exists only for FSR signals).
func (w *Writer) UTC(signalID uint16, sampleID uint64, utc int64) error {
	sig, track, err := w.track(signalID, TrackUTC)
	if err != nil {
		return err
	}
	if sig.def.SignalType != SignalTypeFSR {
		return newErr(KindParameterInvalid, "UTC track is only legal for FSR signals")
	}
	w.enc.reset()
	if err := w.enc.writeU64(sampleID); err != nil {
		return err
	}
	if err := w.enc.writeI64(utc); err != nil {
		return err
	}
	_, _, dataTag, _ := trackTags(TrackUTC)
	_, err = w.appendChunk(dataTag, trackChunkMeta(signalID, 0), append([]byte(nil), w.enc.bytes()...), &track.data)
	return errors.Wrap(err, "write utc anchor")
}

// UserData appends one arbitrary-metadata chunk. chunkMeta is masked to 12
// bits; storageType is packed into the top nibble. String and JSON bodies
// are normalized to end at their first NUL (spec.md §4.4).
func (w *Writer) UserData(chunkMeta uint16, storageType StorageType, data []byte) error {
	switch storageType {
	case StorageInvalid:
		data = nil
	case StorageBinary:
		// used as-is
	case StorageString, StorageJSON:
		if idx := bytes.IndexByte(data, 0); idx >= 0 {
			data = data[:idx+1]
		} else {
			data = append(append([]byte(nil), data...), 0)
		}
	default:
		return newErr(KindParameterInvalid, "unknown storage_type")
	}
	meta := userDataMeta(chunkMeta, storageType)
	_, err := w.appendChunk(TagUserData, meta, data, &w.userDataMRA)
	return errors.Wrap(err, "write user_data")
}

// SummaryFlushHistogram returns, for signalID's FSR track, the sequence of
// entry counts each SUMMARY flush at level carried. It is a profiling aid
// (SPEC_FULL.md "performance profile") and has no effect on file contents.
func (w *Writer) SummaryFlushHistogram(signalID uint16, level int) ([]int, error) {
	if level <= 0 || level >= SummaryLevelCount {
		return nil, newErr(KindParameterInvalid, "level out of range")
	}
	_, track, err := w.track(signalID, TrackFSR)
	if err != nil {
		return nil, err
	}
	return track.ledger[level].counts(), nil
}

// Close flushes any partial sample buffer and partial summaries as short
// final chunks, then closes the underlying file (spec.md §4.4).
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	for i := range w.signals {
		sig := &w.signals[i]
		if !sig.defined {
			continue
		}
		for _, tt := range legalTracks(sig.def.SignalType) {
			track := &sig.tracks[tt]
			if !isSampleTrack(tt) {
				continue
			}
			if tt == TrackFSR && len(sig.dataBuf) > 0 {
				if err := w.emitDataChunk(sig, track); err != nil {
					return err
				}
			}
			for level := 1; level < SummaryLevelCount; level++ {
				if err := w.flushSummaryLevel(sig, track, tt, level, true); err != nil {
					return err
				}
			}
		}
	}

	if err := w.raw.sync(); err != nil {
		return errors.Wrap(err, "sync jls file")
	}
	return w.raw.close()
}
