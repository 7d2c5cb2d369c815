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

// Package jls implements the JLS (Jetperch Log Storage) container format:
// a single-file store for long fixed-sample-rate and variable-sample-rate
// numeric signals, annotations, UTC anchors, and arbitrary user metadata,
// indexed by a per-signal summary pyramid for O(log N) length, seek, and
// range-statistics queries.
package jls

const (
	// SourceCount is the number of source_id slots a file can hold.
	// source_id 0 is reserved for the default global annotation source.
	SourceCount = 256
	// SignalCount is the number of signal_id slots a file can hold;
	// signal_id must fit in 12 bits (chunk_meta's low bits carry it).
	SignalCount = 4096
	// SummaryLevelCount is the number of pyramid levels a sample track
	// maintains, level 0 being raw data.
	SummaryLevelCount = 8

	// minSummaryDecimateFactor and minEntriesPerSummary are the floors
	// signal_def enforces, warning when it has to raise a caller's value
	// (spec.md §4.4).
	minSummaryDecimateFactor = 10
	minEntriesPerSummary     = 1000
)

// SignalType distinguishes fixed-sample-rate from variable-sample-rate
// signals.
type SignalType uint8

const (
	SignalTypeFSR SignalType = 0
	SignalTypeVSR SignalType = 1
)

// DataType identifies the binary representation of one sample. Only F32 is
// implemented; spec.md §1 names additional data types as an extension
// point this implementation does not exercise.
type DataType uint32

const (
	DataTypeF32 DataType = 0
)

// SourceDef describes one data source (instrument, file, or synthetic
// generator). source_id 0 is reserved for the default global annotation
// source and cannot be redefined.
type SourceDef struct {
	SourceID uint16
	Name     string
	Vendor   string
	Model    string
	Version  string
	Serial   string
}

// SignalDef describes one signal: its source, sample layout, and summary
// pyramid geometry. signal_id 0 is reserved for global VSR annotations.
type SignalDef struct {
	SignalID       uint16
	SourceID       uint16
	SignalType     SignalType
	DataType       DataType
	Name           string
	SIUnits        string
	SampleRate     uint32 // required for FSR, forced to 0 for VSR
	SamplesPerData uint32 // FSR data-chunk granularity

	SampleDecimateFactor uint32 // nominal samples per level-1 summary entry
	EntriesPerSummary    uint32 // entries per summary chunk; also the
	// actual per-level fan-out factor this implementation uses when
	// collapsing child entries upward (see DESIGN.md "writer.go", "Cascade
	// factor").
	SummaryDecimateFactor uint32 // nominal summary entries collapsed per
	// parent entry; validated against EntriesPerSummary, see DESIGN.md.

	UTCRateAuto uint32 // opaque pass-through, semantics undocumented upstream
}

// SummaryEntry is one reduction tuple in a level k≥1 summary chain. Beyond
// the four statistics spec.md §4.4 mandates at minimum (mean, min, max,
// stddev), each entry also carries the child chunk it summarizes, unifying
// the SUMMARY and INDEX roles spec.md §3/§6 describe separately; see
// DESIGN.md "summary/index unification" for why.
type SummaryEntry struct {
	ChildTimestamp uint64
	ChildCount     uint64
	ChildOffset    uint64
	Mean           float32
	Min            float32
	Max            float32
	Std            float32
}

// summaryEntrySize is the fixed on-disk size of one SummaryEntry.
const summaryEntrySize = 8 + 8 + 8 + 4 + 4 + 4 + 4

// AnnotationType distinguishes how an annotation's body is laid out.
type AnnotationType uint8

const (
	AnnotationTypeUser AnnotationType = 0
	AnnotationTypeMark AnnotationType = 1
)

// Annotation is one record in a track's ANNOTATION chain.
type Annotation struct {
	Timestamp      uint64
	AnnotationType AnnotationType
	StorageType    StorageType
	Body           []byte
}

// UTCEntry anchors a sample id to a UTC timestamp (spec.md §6, UTC track).
type UTCEntry struct {
	SampleID uint64
	UTC      int64
}
