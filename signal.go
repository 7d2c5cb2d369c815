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

// sourceDefReservedBytes is the fixed reserved region at the head of a
// SOURCE_DEF payload (spec.md §6).
const sourceDefReservedBytes = 64

// signalDefReservedBytes is the writer's 68-byte reservation (4 + 64),
// taken as ground truth over the reader's narrower 64-byte skip per
// spec.md §9's open question; both encode and decode share this constant
// so they can never disagree (SPEC_FULL.md, "Open questions — decisions").
const signalDefReservedBytes = 4 + 64

// encodeSourceDef serializes a SourceDef payload: 64 reserved bytes, then
// five terminator-delimited strings.
func encodeSourceDef(e *encoder, s SourceDef) error {
	if err := e.writeZero(sourceDefReservedBytes); err != nil {
		return err
	}
	for _, str := range []string{s.Name, s.Vendor, s.Model, s.Version, s.Serial} {
		if err := e.writeString(str); err != nil {
			return err
		}
	}
	return nil
}

func decodeSourceDef(d *decoder, sourceID uint16) SourceDef {
	d.skip(sourceDefReservedBytes)
	return SourceDef{
		SourceID: sourceID,
		Name:     d.readString(),
		Vendor:   d.readString(),
		Model:    d.readString(),
		Version:  d.readString(),
		Serial:   d.readString(),
	}
}

// encodeSignalDef serializes a SignalDef payload. Field order follows the
// writer's order named authoritative by spec.md §9: source_id, signal_type,
// rsv, data_type, sample_rate, samples_per_data, sample_decimate_factor,
// entries_per_summary, summary_decimate_factor, utc_rate_auto, reserved,
// name, si_units.
func encodeSignalDef(e *encoder, s SignalDef) error {
	if err := e.writeU16(s.SourceID); err != nil {
		return err
	}
	if err := e.writeU8(uint8(s.SignalType)); err != nil {
		return err
	}
	if err := e.writeU8(0); err != nil { // rsv
		return err
	}
	if err := e.writeU32(uint32(s.DataType)); err != nil {
		return err
	}
	if err := e.writeU32(s.SampleRate); err != nil {
		return err
	}
	if err := e.writeU32(s.SamplesPerData); err != nil {
		return err
	}
	if err := e.writeU32(s.SampleDecimateFactor); err != nil {
		return err
	}
	if err := e.writeU32(s.EntriesPerSummary); err != nil {
		return err
	}
	if err := e.writeU32(s.SummaryDecimateFactor); err != nil {
		return err
	}
	if err := e.writeU32(s.UTCRateAuto); err != nil {
		return err
	}
	if err := e.writeZero(signalDefReservedBytes); err != nil {
		return err
	}
	if err := e.writeString(s.Name); err != nil {
		return err
	}
	return e.writeString(s.SIUnits)
}

func decodeSignalDef(d *decoder, signalID uint16) SignalDef {
	s := SignalDef{SignalID: signalID}
	s.SourceID = d.readU16()
	s.SignalType = SignalType(d.readU8())
	d.readU8() // rsv
	s.DataType = DataType(d.readU32())
	s.SampleRate = d.readU32()
	s.SamplesPerData = d.readU32()
	s.SampleDecimateFactor = d.readU32()
	s.EntriesPerSummary = d.readU32()
	s.SummaryDecimateFactor = d.readU32()
	s.UTCRateAuto = d.readU32()
	d.skip(signalDefReservedBytes)
	s.Name = d.readString()
	s.SIUnits = d.readString()
	return s
}

// SampleCodec converts between a signal's on-disk sample encoding and the
// float32 values the FSR read/write paths exchange. spec.md §1 names
// concrete compression as an out-of-scope extension point with "named
// hooks"; this is that hook. emitDataChunk (writer.go) and the reader's
// sample loops (reader.go) always go through codecFor rather than calling
// writeF32/readF32 directly, so a second DataType could be added here
// without touching chunk-framing or pyramid code.
type SampleCodec interface {
	encode(e *encoder, v float32) error
	decode(d *decoder) float32
}

// f32Codec is the only built-in SampleCodec: raw little-endian IEEE-754
// float32, spec.md §6's sole data_type.
type f32Codec struct{}

func (f32Codec) encode(e *encoder, v float32) error { return e.writeF32(v) }
func (f32Codec) decode(d *decoder) float32          { return d.readF32() }

// codecFor resolves the SampleCodec for a DataType. Only DataTypeF32 is
// implemented; SignalDef already rejects any other value at definition
// time (writer.go), so this only ever fails on a file written by some
// other implementation with a data_type this one doesn't know.
func codecFor(dt DataType) (SampleCodec, error) {
	switch dt {
	case DataTypeF32:
		return f32Codec{}, nil
	default:
		return nil, newErr(KindNotSupported, "unsupported data_type")
	}
}
