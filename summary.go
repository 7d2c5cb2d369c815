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
	"math"

	"github.com/dennwc/varint"
)

// flushLedger records, per pyramid level, how many entries each SUMMARY
// flush carried, varint-packed into a small rolling byte buffer rather than
// a []uint64 slice. The counts never exceed entries_per_summary, so each
// one costs a few bytes varint-encoded against 8 fixed.
// Writer.SummaryFlushHistogram decodes this history on request.
type flushLedger struct {
	buf []byte
}

func (l *flushLedger) record(count int) {
	var tmp [binaryMaxVarintLen64]byte
	n := varint.PutUvarint(tmp[:], uint64(count))
	l.buf = append(l.buf, tmp[:n]...)
}

// counts decodes the full recorded history in order.
func (l *flushLedger) counts() []int {
	out := make([]int, 0, len(l.buf))
	for off := 0; off < len(l.buf); {
		v, n := varint.Uvarint(l.buf[off:])
		if n <= 0 {
			break
		}
		out = append(out, int(v))
		off += n
	}
	return out
}

// binaryMaxVarintLen64 mirrors encoding/binary.MaxVarintLen64; dennwc/varint
// shares the same wire format so the same bound applies.
const binaryMaxVarintLen64 = 10

// reduceF32 computes the (mean, min, max, stddev) reduction over a window
// of raw samples, the minimum set of statistics spec.md §4.4 mandates for
// a level-1 summary entry.
func reduceF32(samples []float32) (mean, min, max, std float32) {
	if len(samples) == 0 {
		return 0, 0, 0, 0
	}
	min, max = samples[0], samples[0]
	var sum float64
	for _, v := range samples {
		f := float64(v)
		sum += f
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	n := float64(len(samples))
	meanF := sum / n
	var sqDiff float64
	for _, v := range samples {
		d := float64(v) - meanF
		sqDiff += d * d
	}
	return float32(meanF), min, max, float32(math.Sqrt(sqDiff / n))
}

// combineEntries reduces a set of child SummaryEntry values, each
// representing childCount samples, into the (mean, min, max, stddev) of
// their combined span, using the parallel-variance formula so that
// combining is associative regardless of how the children were grouped.
func combineEntries(children []SummaryEntry) (mean, min, max, std float32, totalCount uint64) {
	if len(children) == 0 {
		return 0, 0, 0, 0, 0
	}
	min, max = children[0].Min, children[0].Max
	var n float64
	var meanAcc float64
	var m2Acc float64

	for i, c := range children {
		if c.Min < min {
			min = c.Min
		}
		if c.Max > max {
			max = c.Max
		}
		totalCount += c.ChildCount
		cn := float64(c.ChildCount)
		if cn == 0 {
			continue
		}
		cMean := float64(c.Mean)
		cM2 := float64(c.Std) * float64(c.Std) * cn

		if i == 0 || n == 0 {
			n = cn
			meanAcc = cMean
			m2Acc = cM2
			continue
		}
		delta := cMean - meanAcc
		newN := n + cn
		meanAcc += delta * cn / newN
		m2Acc += cM2 + delta*delta*n*cn/newN
		n = newN
	}
	if n == 0 {
		return float32(meanAcc), min, max, 0, totalCount
	}
	return float32(meanAcc), min, max, float32(math.Sqrt(m2Acc / n)), totalCount
}
