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

// TrackType identifies one of a signal's (up to) four logical tracks.
type TrackType uint8

const (
	TrackFSR        TrackType = 0
	TrackVSR        TrackType = 1
	TrackAnnotation TrackType = 2
	TrackUTC        TrackType = 3
)

func (t TrackType) String() string {
	switch t {
	case TrackFSR:
		return "fsr"
	case TrackVSR:
		return "vsr"
	case TrackAnnotation:
		return "annotation"
	case TrackUTC:
		return "utc"
	default:
		return "unknown"
	}
}

// chunkRole is the low 3 bits of tag: the chunk's role within a track
// (container-level chunks leave these bits zero).
type chunkRole uint8

const (
	roleDef     chunkRole = 0
	roleHead    chunkRole = 1
	roleIndex   chunkRole = 2
	roleData    chunkRole = 3
	roleSummary chunkRole = 4
)

// containerKind occupies bits 5-7 of tag. A value of 0 means "this is a
// per-track chunk, dispatch on role/trackType"; a non-zero value names a
// file-wide, non-track chunk kind directly.
type containerKind uint8

const (
	containerTrack     containerKind = 0
	containerSourceDef containerKind = 1
	containerSignalDef containerKind = 2
	containerUserData  containerKind = 3
)

// Tag is the one-byte chunk-kind discriminant stored in every chunk header.
// Bit layout (spec.md §6): bits 0-2 role, bits 3-4 track type, bits 5-7
// container kind (0 => track chunk, decode via role/trackType).
type Tag uint8

func makeTrackTag(tt TrackType, role chunkRole) Tag {
	return Tag(uint8(role) | uint8(tt)<<3)
}

func makeContainerTag(k containerKind) Tag {
	return Tag(uint8(k) << 5)
}

func (t Tag) role() chunkRole          { return chunkRole(t & 0x7) }
func (t Tag) trackType() TrackType     { return TrackType((t >> 3) & 0x3) }
func (t Tag) container() containerKind { return containerKind((t >> 5) & 0x7) }
func (t Tag) isTrackChunk() bool       { return t.container() == containerTrack }

var (
	TagSourceDef = makeContainerTag(containerSourceDef)
	TagSignalDef = makeContainerTag(containerSignalDef)
	TagUserData  = makeContainerTag(containerUserData)

	TagTrackFSRDef         = makeTrackTag(TrackFSR, roleDef)
	TagTrackFSRHead        = makeTrackTag(TrackFSR, roleHead)
	TagTrackFSRIndex       = makeTrackTag(TrackFSR, roleIndex)
	TagTrackFSRData        = makeTrackTag(TrackFSR, roleData)
	TagTrackFSRSummary     = makeTrackTag(TrackFSR, roleSummary)
	TagTrackVSRDef         = makeTrackTag(TrackVSR, roleDef)
	TagTrackVSRHead        = makeTrackTag(TrackVSR, roleHead)
	TagTrackVSRIndex       = makeTrackTag(TrackVSR, roleIndex)
	TagTrackVSRData        = makeTrackTag(TrackVSR, roleData)
	TagTrackVSRSummary     = makeTrackTag(TrackVSR, roleSummary)
	TagTrackAnnotationDef  = makeTrackTag(TrackAnnotation, roleDef)
	TagTrackAnnotationHead = makeTrackTag(TrackAnnotation, roleHead)
	TagTrackAnnotationData = makeTrackTag(TrackAnnotation, roleData)
	TagTrackUTCDef         = makeTrackTag(TrackUTC, roleDef)
	TagTrackUTCHead        = makeTrackTag(TrackUTC, roleHead)
	TagTrackUTCData        = makeTrackTag(TrackUTC, roleData)
)

// trackTags returns the four role-tags for a given track type, used by the
// writer when it needs to pick the right tag for a DEF/HEAD/DATA/SUMMARY
// chunk of that track.
func trackTags(t TrackType) (def, head, data, summary Tag) {
	return makeTrackTag(t, roleDef), makeTrackTag(t, roleHead), makeTrackTag(t, roleData), makeTrackTag(t, roleSummary)
}

// legalTracks lists, in definition order, the track types a signal of the
// given type owns (spec.md §3).
func legalTracks(st SignalType) []TrackType {
	if st == SignalTypeFSR {
		return []TrackType{TrackFSR, TrackAnnotation, TrackUTC}
	}
	return []TrackType{TrackVSR, TrackAnnotation}
}

// isSampleTrack reports whether t maintains a summary pyramid.
func isSampleTrack(t TrackType) bool { return t == TrackFSR || t == TrackVSR }

// StorageType discriminates the body of a user-data chunk; it is packed
// into the top nibble of chunk_meta (spec.md §4.4, §6).
type StorageType uint8

const (
	StorageInvalid StorageType = 0
	StorageBinary  StorageType = 1
	StorageString  StorageType = 2
	StorageJSON    StorageType = 3
)

// trackChunkMeta packs, and chunkMetaSignalID/chunkMetaLevel unpack, the
// 16-bit chunk_meta field for per-track chunks. The low 12 bits always
// hold the signal id.
// SUMMARY (and, if ever populated, INDEX) chunks additionally use bits
// 12-14 to hold the pyramid level, since a track's SUMMARY role is shared
// across SUMMARY_LEVEL_COUNT independent chains and the tag alone cannot
// tell them apart. See DESIGN.md, "tag.go — tag bit-packing, chunk_meta"
// ("chunk_meta level extension").
const (
	chunkMetaSignalMask = 0x0FFF
	chunkMetaLevelShift = 12
	chunkMetaLevelMask  = 0x7
)

func trackChunkMeta(signalID uint16, level uint8) uint16 {
	return signalID&chunkMetaSignalMask | uint16(level&chunkMetaLevelMask)<<chunkMetaLevelShift
}

func chunkMetaSignalID(meta uint16) uint16 { return meta & chunkMetaSignalMask }
func chunkMetaLevel(meta uint16) uint8     { return uint8((meta >> chunkMetaLevelShift) & chunkMetaLevelMask) }

// userDataMeta and its accessors pack the caller-supplied 12-bit value and
// the 4-bit storage type into chunk_meta for USER_DATA chunks.
func userDataMeta(meta uint16, st StorageType) uint16 {
	return meta&chunkMetaSignalMask | uint16(st&0xF)<<chunkMetaLevelShift
}

func userDataValue(meta uint16) uint16        { return meta & chunkMetaSignalMask }
func userDataStorage(meta uint16) StorageType { return StorageType((meta >> chunkMetaLevelShift) & 0xF) }
