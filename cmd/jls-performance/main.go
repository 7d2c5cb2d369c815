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

// The jls-performance command is the external collaborator spec.md §1
// and §6 name only by call shape ("generate"/"profile"). It is a thin
// CLI around the jls package: generate writes a synthetic FSR file,
// profile opens one and times the operations the reader's public API
// exposes.
package main

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	jls "github.com/jetperch/jls-go"
)

const signalID = 1
const sourceID = 1

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, level.AllowInfo())

	app := kingpin.New("performance", "Generate and profile synthetic JLS files.")
	app.HelpFlag.Short('h')
	app.UsageWriter(os.Stdout)
	app.Terminate(func(status int) {
		os.Exit(status)
	})

	generate := app.Command("generate", "Write a synthetic FSR-signal JLS file.")
	genFilename := generate.Arg("filename", "Output path.").Required().String()
	genSampleRate := generate.Flag("sample_rate", "Samples per second.").Default("1000000").Uint32()
	genLength := generate.Flag("length", "Total number of samples to generate.").Default("10000000").Uint64()
	genSamplesPerData := generate.Flag("samples_per_data", "Samples per level-0 data chunk.").Default("100000").Uint32()
	genSampleDecimateFactor := generate.Flag("sample_decimate_factor", "Samples per level-1 summary entry.").Default("100").Uint32()
	genEntriesPerSummary := generate.Flag("entries_per_summary", "Entries per summary chunk.").Default("20000").Uint32()
	genSummaryDecimateFactor := generate.Flag("summary_decimate_factor", "Summary entries collapsed per parent entry.").Default("100").Uint32()

	profile := app.Command("profile", "Open a JLS file and time reader operations.")
	profFilename := profile.Arg("filename", "Input path.").Required().String()

	help := app.Command("help", "Show usage.")

	var err error
	cmd, parseErr := app.Parse(os.Args[1:])
	if parseErr != nil {
		fmt.Fprintln(os.Stdout, parseErr)
		app.Usage(os.Args[1:])
		os.Exit(1)
	}

	switch cmd {
	case generate.FullCommand():
		err = runGenerate(logger, *genFilename, *genSampleRate, *genLength, *genSamplesPerData,
			*genSampleDecimateFactor, *genEntriesPerSummary, *genSummaryDecimateFactor)
	case profile.FullCommand():
		err = runProfile(logger, *profFilename)
	case help.FullCommand():
		app.Usage(nil)
		return
	default:
		fmt.Fprintln(os.Stdout, "unknown command")
		app.Usage(os.Args[1:])
		os.Exit(1)
	}
	if err != nil {
		level.Error(logger).Log("msg", "command failed", "cmd", cmd, "err", err)
		os.Exit(1)
	}
}

// triangleWave returns amplitude * a symmetric triangle wave of the given
// period evaluated at sample index i (spec.md §8 scenario 1: "triangle
// period 1000 with amplitude ±1").
func triangleWave(i, period uint64, amplitude float32) float32 {
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

func runGenerate(logger log.Logger, filename string, sampleRate uint32, length uint64, samplesPerData, sampleDecimateFactor, entriesPerSummary, summaryDecimateFactor uint32) error {
	start := time.Now()
	w, err := jls.Open(filename, jls.WithWriterLogger(logger))
	if err != nil {
		return errors.Wrap(err, "open output file")
	}
	defer w.Close()

	if err := w.SourceDef(jls.SourceDef{
		SourceID: sourceID,
		Name:     "jls-performance",
		Vendor:   "jetperch",
		Model:    "generator",
		Version:  "1.0",
		Serial:   "0",
	}); err != nil {
		return errors.Wrap(err, "define source")
	}
	if err := w.SignalDef(jls.SignalDef{
		SignalID:              signalID,
		SourceID:              sourceID,
		SignalType:            jls.SignalTypeFSR,
		DataType:              jls.DataTypeF32,
		Name:                  "triangle",
		SIUnits:               "V",
		SampleRate:            sampleRate,
		SamplesPerData:        samplesPerData,
		SampleDecimateFactor:  sampleDecimateFactor,
		EntriesPerSummary:     entriesPerSummary,
		SummaryDecimateFactor: summaryDecimateFactor,
	}); err != nil {
		return errors.Wrap(err, "define signal")
	}

	batch := make([]float32, 0, samplesPerData)
	var sampleID uint64
	for sampleID < length {
		batch = batch[:0]
		n := uint64(samplesPerData)
		if sampleID+n > length {
			n = length - sampleID
		}
		for i := uint64(0); i < n; i++ {
			batch = append(batch, triangleWave(sampleID+i, 1000, 1))
		}
		if err := w.FSRF32(signalID, sampleID, batch); err != nil {
			return errors.Wrap(err, "write samples")
		}
		sampleID += n
	}

	if err := w.Close(); err != nil {
		return errors.Wrap(err, "close output file")
	}
	level.Info(logger).Log("msg", "generate complete", "filename", filename, "length", length, "elapsed", time.Since(start))
	return nil
}

func runProfile(logger log.Logger, filename string) error {
	openStart := time.Now()
	r, err := jls.OpenReader(filename, jls.WithReaderLogger(logger))
	if err != nil {
		return errors.Wrap(err, "open input file")
	}
	defer r.Close()
	openElapsed := time.Since(openStart)

	length, err := r.FSRLength(signalID)
	if err != nil {
		return errors.Wrap(err, "fsr_length")
	}

	// Concurrent verification passes (length, seek, summary-monotonicity)
	// each open their own Reader: a single Reader is owned by one caller
	// at a time (spec.md §5), so fanning work out under one errgroup.Group
	// means fanning out independent read-only handles, not sharing one.
	var g errgroup.Group
	var lengthElapsed, seekElapsed, monotonicityElapsed time.Duration

	g.Go(func() error {
		start := time.Now()
		rr, err := jls.OpenReader(filename)
		if err != nil {
			return errors.Wrap(err, "verify length: open")
		}
		defer rr.Close()
		got, err := rr.FSRLength(signalID)
		if err != nil {
			return errors.Wrap(err, "verify length")
		}
		if got != length {
			return errors.Errorf("length mismatch: %d != %d", got, length)
		}
		lengthElapsed = time.Since(start)
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		rr, err := jls.OpenReader(filename)
		if err != nil {
			return errors.Wrap(err, "verify seek: open")
		}
		defer rr.Close()
		if length > 0 {
			target := length / 2
			if _, err := rr.Seek(signalID, 0, target); err != nil {
				return errors.Wrap(err, "seek")
			}
			var out [1]float32
			if _, err := rr.FSRF32(signalID, target, out[:]); err != nil {
				return errors.Wrap(err, "read after seek")
			}
		}
		seekElapsed = time.Since(start)
		return nil
	})

	g.Go(func() error {
		start := time.Now()
		rr, err := jls.OpenReader(filename)
		if err != nil {
			return errors.Wrap(err, "verify monotonicity: open")
		}
		defer rr.Close()
		if length > 0 {
			window := length
			if window > 1_000_000 {
				window = 1_000_000
			}
			mean, min, max, _, err := rr.FSRStatistics(signalID, 0, window)
			if err != nil {
				return errors.Wrap(err, "fsr_statistics")
			}
			if !(min <= mean && mean <= max) {
				return errors.Errorf("summary monotonicity violated: min=%v mean=%v max=%v", min, mean, max)
			}
			if math.IsNaN(float64(mean)) {
				return errors.New("mean is NaN")
			}
		}
		monotonicityElapsed = time.Since(start)
		return nil
	})

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "verification")
	}

	level.Info(logger).Log(
		"msg", "profile complete",
		"filename", filename,
		"length", length,
		"open_elapsed", openElapsed,
		"length_check_elapsed", lengthElapsed,
		"seek_elapsed", seekElapsed,
		"monotonicity_elapsed", monotonicityElapsed,
	)
	return nil
}
