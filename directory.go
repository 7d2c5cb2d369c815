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

// chainLink is the writer's in-RAM record of the most-recently-added (MRA)
// chunk of one chain: its offset and the header that was written there, so
// that header can be mutated (item_next patched) and rewritten in place
// without a re-read (spec.md §4.3, §4.4 "header back-patch protocol").
type chainLink struct {
	offset uint64
	header ChunkHeader
	valid  bool
}

// trackState is the writer's per-(signal,track) directory entry: the three
// always-present chains (def, head, data) plus, for sample tracks, the
// per-level summary staging and chain state (spec.md §3, §4.3).
type trackState struct {
	defined bool

	// data is the chain MRA for this track's DATA chunks. DEF and HEAD
	// chunks are written exactly once at signal-definition time and are
	// threaded into the writer's single file-wide signal chain instead
	// (spec.md §4.5 "scan_signals... walks signal_head.item_next"), so
	// they need no chain state of their own here.
	data chainLink

	headOffset uint64                     // offset of the (singleton) HEAD chunk
	headData   [SummaryLevelCount]uint64  // mirrors the HEAD chunk's payload

	summary [SummaryLevelCount]chainLink      // per-level summary chain MRA (index 0 unused)
	staged  [SummaryLevelCount][]SummaryEntry // per-level pending entries awaiting a full chunk
	ledger  [SummaryLevelCount]flushLedger    // per-level history of flush sizes, for profiling
}

// signalState is the writer's per-signal directory entry.
type signalState struct {
	defined bool
	def     SignalDef

	tracks [4]trackState // indexed by TrackType

	// dataBuf stages raw samples for the FSR track between data-chunk
	// flushes; its capacity is SamplesPerData floats (spec.md §4.4).
	dataBuf      []float32
	dataBufStart uint64 // sample id of dataBuf[0]
	nextSampleID uint64 // next expected sample id (monotonic append cursor)
}

// sourceState is the writer's per-source directory entry.
type sourceState struct {
	defined bool
	def     SourceDef
	link    chainLink
}
