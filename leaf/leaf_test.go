// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package leaf_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bpipe.dev/bpipe"
	"bpipe.dev/bpipe/leaf"
)

func TestGeneratorGainCSVWriterGraph(t *testing.T) {
	buff := bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 4, RingCapacityExpo: 3}

	gen, err := leaf.NewGenerator(leaf.GeneratorConfig{
		FilterConfig: bpipe.FilterConfig{Name: "gen", Buff: buff, MaxSinks: 1, Timeout: 20 * time.Millisecond},
		Waveform:     leaf.Sine,
		FrequencyHz:  10,
		Amplitude:    1,
		PeriodNs:     1_000_000,
		NumBatches:   3,
	})
	require.NoError(t, err)

	gain, err := leaf.NewGain(leaf.GainConfig{
		FilterConfig: bpipe.FilterConfig{Name: "gain", Buff: buff, MaxSinks: 1, Timeout: 20 * time.Millisecond},
		Factor:       2,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	writer, err := leaf.NewCSVWriter(leaf.CSVWriterConfig{
		FilterConfig: bpipe.FilterConfig{Name: "csv", Buff: buff, Timeout: 20 * time.Millisecond},
		Writer:       &buf,
	})
	require.NoError(t, err)

	require.NoError(t, gen.SinkConnect(0, gain.Inputs()[0]))
	require.NoError(t, gain.SinkConnect(0, writer.Inputs()[0]))

	require.NoError(t, writer.Start())
	require.NoError(t, gain.Start())
	require.NoError(t, gen.Start())

	deadline := time.Now().Add(2 * time.Second)
	for writer.WorkerErr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		if buf.Len() > 0 && !gen.Running() {
			break
		}
	}
	gen.Stop()
	gain.Stop()
	writer.Stop()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	require.NotEmpty(t, lines[0], "CSVWriter produced no output")
	for _, line := range lines {
		require.Contains(t, line, ",", "malformed CSV line: %q", line)
	}
}

func TestCSVWriterSelfStopsOnMaxFileSize(t *testing.T) {
	buff := bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 2, RingCapacityExpo: 2}
	var buf bytes.Buffer
	writer, err := leaf.NewCSVWriter(leaf.CSVWriterConfig{
		FilterConfig:     bpipe.FilterConfig{Name: "csv", Buff: buff, Timeout: 20 * time.Millisecond},
		Writer:           &buf,
		MaxFileSizeBytes: 8,
	})
	require.NoError(t, err)
	require.NoError(t, writer.Start())

	in := writer.Inputs()[0]
	in.Start()
	head := in.GetHead()
	row := head.F32()
	for i := range row {
		row[i] = float32(i)
	}
	head.Count = len(row)
	head.TNs = 0
	head.PeriodNs = 1000
	require.NoError(t, in.Submit(time.Second))

	deadline := time.Now().Add(time.Second)
	for writer.WorkerErr() == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	writer.Stop()

	werr := writer.WorkerErr()
	require.NotNil(t, werr, "WorkerErr() = nil, want NoSpace")
	k, ok := bpipe.KindOf(werr)
	require.True(t, ok)
	require.Equal(t, bpipe.NoSpace, k)
}

func TestGainRejectsNonNumericDType(t *testing.T) {
	buff := bpipe.BuffConfig{DType: bpipe.DType(99), BatchCapacityExpo: 2, RingCapacityExpo: 2}
	_, err := leaf.NewGain(leaf.GainConfig{
		FilterConfig: bpipe.FilterConfig{Name: "gain", Buff: buff, MaxSinks: 1},
	})
	require.Error(t, err)
}

func TestGeneratorRejectsZeroPeriod(t *testing.T) {
	buff := bpipe.BuffConfig{DType: bpipe.F32, BatchCapacityExpo: 2, RingCapacityExpo: 2}
	_, err := leaf.NewGenerator(leaf.GeneratorConfig{
		FilterConfig: bpipe.FilterConfig{Name: "gen", Buff: buff, MaxSinks: 1},
		PeriodNs:     0,
	})
	require.Error(t, err)
}
