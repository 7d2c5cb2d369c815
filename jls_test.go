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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempFile(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.jls")
}

func mustOpenWriter(t *testing.T, path string) *Writer {
	t.Helper()
	w, err := Open(path)
	require.NoError(t, err)
	return w
}

// TestFSRRoundTrip covers spec.md §8 "Round-trip" and scenario 4: writing
// samples that span several full data chunks plus a short final one on
// close yields bit-identical floats back and the correct total length.
func TestFSRRoundTrip(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "src"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID:       1,
		SourceID:       1,
		SignalType:     SignalTypeFSR,
		DataType:       DataTypeF32,
		Name:           "sig",
		SampleRate:     1000,
		SamplesPerData: 1000,
	}))

	const total = 3500
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = float32(i) * 0.5
	}
	require.NoError(t, w.FSRF32(1, 0, samples))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	length, err := r.FSRLength(1)
	require.NoError(t, err)
	require.Equal(t, uint64(total), length)

	got := make([]float32, total)
	out, err := r.FSRF32(1, 0, got)
	require.NoError(t, err)
	require.Equal(t, samples, out)
}

// TestSeekCorrectness covers spec.md §8 "Seek correctness": after
// Seek(signal, sampleID), reading one sample via FSRF32 at the same
// sampleID returns the same value.
func TestSeekCorrectness(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "src"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID:       1,
		SourceID:       1,
		SignalType:     SignalTypeFSR,
		DataType:       DataTypeF32,
		Name:           "sig",
		SampleRate:     1000,
		SamplesPerData: 100,
	}))

	const total = 1000
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = triangleWaveForTest(uint64(i), 1000, 1)
	}
	require.NoError(t, w.FSRF32(1, 0, samples))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	for _, s := range []uint64{0, 1, 250, 499, 500, 999} {
		offset, err := r.Seek(1, 0, s)
		require.NoError(t, err)
		require.NotZero(t, offset)

		out := make([]float32, 1)
		got, err := r.FSRF32(1, s, out)
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, samples[s], got[0])
	}
}

func triangleWaveForTest(i, period uint64, amplitude float32) float32 {
	half := period / 2
	phase := i % period
	var v float32
	if phase < half {
		v = -1 + 2*float32(phase)/float32(half)
	} else {
		v = 1 - 2*float32(phase-half)/float32(half)
	}
	return v * amplitude
}

// TestSeekTargetLevel covers spec.md §4.5's target_level parameter: a
// non-zero target_level stops the descent early and returns the SUMMARY
// chunk at that level instead of a level-0 DATA chunk.
func TestSeekTargetLevel(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "src"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID:       1,
		SourceID:       1,
		SignalType:     SignalTypeFSR,
		DataType:       DataTypeF32,
		Name:           "sig",
		SampleRate:     1000,
		SamplesPerData: 10,
	}))

	const total = 10000 // 1000 level-0 flushes, exactly one level-1 flush
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = triangleWaveForTest(uint64(i), 1000, 1)
	}
	require.NoError(t, w.FSRF32(1, 0, samples))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	dataOffset, err := r.Seek(1, 0, 0)
	require.NoError(t, err)

	summaryOffset, err := r.Seek(1, 1, 0)
	require.NoError(t, err)
	require.NotZero(t, summaryOffset)
	require.NotEqual(t, dataOffset, summaryOffset)

	entries, err := r.readSummaryEntries(summaryOffset)
	require.NoError(t, err)
	require.Len(t, entries, total/10)
	require.Equal(t, uint64(10), entries[0].ChildCount)

	_, err = r.Seek(1, SummaryLevelCount, 0)
	require.Error(t, err)
	require.Equal(t, KindParameterInvalid, ErrorKind(err))
}

// TestSourcesAndSignalsRoundTrip covers spec.md §8 scenario 2.
func TestSourcesAndSignalsRoundTrip(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "source-one", Vendor: "acme"}))
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 3, Name: "source-three", Vendor: "acme"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID: 1, SourceID: 1, SignalType: SignalTypeFSR, DataType: DataTypeF32,
		Name: "signal-one", SampleRate: 100, SamplesPerData: 10,
	}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID: 5, SourceID: 3, SignalType: SignalTypeFSR, DataType: DataTypeF32,
		Name: "signal-five", SampleRate: 100, SamplesPerData: 10,
	}))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	s1, err := r.SourceDef(1)
	require.NoError(t, err)
	require.Equal(t, "source-one", s1.Name)

	s3, err := r.SourceDef(3)
	require.NoError(t, err)
	require.Equal(t, "source-three", s3.Name)

	sig1, err := r.SignalDef(1)
	require.NoError(t, err)
	require.Equal(t, "signal-one", sig1.Name)
	require.Equal(t, uint16(1), sig1.SourceID)

	sig5, err := r.SignalDef(5)
	require.NoError(t, err)
	require.Equal(t, "signal-five", sig5.Name)
	require.Equal(t, uint16(3), sig5.SourceID)
}

// TestUserDataIteration covers spec.md §8 scenario 3 and the idempotence
// property: UserDataReset then a full forward traversal yields every
// user-data chunk exactly once, in append order, and UserDataPrev past the
// first one reports EMPTY and resets the cursor.
func TestUserDataIteration(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.UserData(1, StorageBinary, []byte{1, 2, 3}))
	require.NoError(t, w.UserData(2, StorageString, []byte("hello")))
	require.NoError(t, w.UserData(3, StorageJSON, []byte(`{"k":1}`)))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	type rec struct {
		meta    uint16
		storage StorageType
		data    string
	}
	var got []rec
	cursor := r.UserDataReset()
	for {
		meta, storage, data, next, err := r.UserDataNext(cursor)
		if ErrorKind(err) == KindEmpty {
			break
		}
		require.NoError(t, err)
		got = append(got, rec{meta, storage, string(data)})
		cursor = next
	}
	require.Equal(t, []rec{
		{1, StorageBinary, "\x01\x02\x03"},
		{2, StorageString, "hello\x00"},
		{3, StorageJSON, "{\"k\":1}\x00"},
	}, got)

	// Stepping back past the first entry crosses the sentinel.
	_, _, _, reset, err := r.UserDataPrev(cursor - 2)
	require.Error(t, err)
	require.Equal(t, KindEmpty, ErrorKind(err))
	require.Equal(t, r.UserDataReset(), reset)
}

// TestSignalDefUnknownSource covers spec.md §8 scenario 5.
func TestSignalDefUnknownSource(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	err := w.SignalDef(SignalDef{
		SignalID: 7, SourceID: 99, SignalType: SignalTypeFSR, DataType: DataTypeF32,
		SampleRate: 100, SamplesPerData: 10,
	})
	require.Error(t, err)
	require.Equal(t, KindNotFound, ErrorKind(err))
	require.NoError(t, w.Close())
}

// TestTruncatedReopen covers spec.md §8 scenario 6: a file whose last
// chunk was truncated mid-payload still opens successfully, with reads
// limited to what preceded the truncation.
func TestTruncatedReopen(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "src"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID: 1, SourceID: 1, SignalType: SignalTypeFSR, DataType: DataTypeF32,
		Name: "sig", SampleRate: 100, SamplesPerData: 10,
	}))
	samples := make([]float32, 10)
	for i := range samples {
		samples[i] = float32(i)
	}
	require.NoError(t, w.FSRF32(1, 0, samples))
	require.NoError(t, w.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-4))

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	// The signal definition preceded the truncated tail chunk and must
	// still be visible.
	_, err = r.SignalDef(1)
	require.NoError(t, err)
}

// TestFSRStatisticsMonotonicity covers spec.md §8 "Summary monotonicity".
func TestFSRStatisticsMonotonicity(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "src"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID: 1, SourceID: 1, SignalType: SignalTypeFSR, DataType: DataTypeF32,
		Name: "sig", SampleRate: 1000, SamplesPerData: 1,
	}))

	const total = 1200
	samples := make([]float32, total)
	for i := range samples {
		samples[i] = triangleWaveForTest(uint64(i), 100, 3)
	}
	require.NoError(t, w.FSRF32(1, 0, samples))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	mean, min, max, _, err := r.FSRStatistics(1, 0, total)
	require.NoError(t, err)
	require.LessOrEqual(t, min, mean)
	require.LessOrEqual(t, mean, max)
}

// TestAnnotationAndUTC writes one ANNOTATION and one UTC record, reopens
// the file, and checks that annotation read reports NOT_SUPPORTED.
func TestAnnotationAndUTC(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	require.NoError(t, w.SourceDef(SourceDef{SourceID: 1, Name: "src"}))
	require.NoError(t, w.SignalDef(SignalDef{
		SignalID: 1, SourceID: 1, SignalType: SignalTypeFSR, DataType: DataTypeF32,
		Name: "sig", SampleRate: 1000, SamplesPerData: 10,
	}))
	require.NoError(t, w.Annotation(1, 5, AnnotationTypeUser, StorageString, []byte("note")))
	require.NoError(t, w.UTC(1, 0, 1700000000))
	require.NoError(t, w.Close())

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()
	// Annotation read is a named stub (spec.md §9); verify it reports
	// NOT_SUPPORTED rather than inventing behavior.
	_, _, err = r.AnnotationNext(1, 0)
	require.Equal(t, KindNotSupported, ErrorKind(err))
}

// TestVSRWriteUnsupported covers the documented VSR-write stub.
func TestVSRWriteUnsupported(t *testing.T) {
	path := tempFile(t)
	w := mustOpenWriter(t, path)
	err := w.VSRF32(0, []uint64{0}, []float32{1})
	require.Equal(t, KindNotSupported, ErrorKind(err))
	require.NoError(t, w.Close())
}
