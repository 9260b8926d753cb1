// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package leaf

import (
	"bufio"
	"fmt"
	"io"

	"bpipe.dev/bpipe"
)

// CSVWriterConfig configures a CSVWriter.
type CSVWriterConfig struct {
	bpipe.FilterConfig
	// Writer receives one CSV row per input sample: t_ns,value.
	Writer io.Writer
	// MaxFileSizeBytes bounds how much CSVWriter will write before
	// self-stopping with NoSpace. Zero means unbounded.
	MaxFileSizeBytes int64
}

// CSVWriter is a SINK filter that renders every received sample as a
// CSV row. Reaching MaxFileSizeBytes (or a write error) is this filter's
// one self-initiated stop condition: it latches NoSpace into WorkerErr
// and stops its own input buffer, so an upstream producer's next Submit
// into that buffer returns Stopped. No FilterStopping error is produced.
type CSVWriter struct {
	*bpipe.Filter
	written int64
}

// NewCSVWriter builds a CSVWriter filter with exactly one input.
func NewCSVWriter(cfg CSVWriterConfig) (*CSVWriter, error) {
	cfg.Type = bpipe.Sink
	cfg.NInputs = 1
	if cfg.Writer == nil {
		return nil, bpipe.NewInvalidConfig("leaf.CSVWriter: writer must not be nil")
	}
	if cfg.Buff.DType > bpipe.U32 {
		return nil, bpipe.NewInvalidConfig("leaf.CSVWriter: dtype must be numeric")
	}

	w := &CSVWriter{}
	f, err := bpipe.NewFilter(cfg.FilterConfig, w.run(cfg))
	if err != nil {
		return nil, err
	}
	w.Filter = f
	return w, nil
}

// BytesWritten returns how many bytes this writer has emitted so far.
func (w *CSVWriter) BytesWritten() int64 { return w.written }

func (w *CSVWriter) run(cfg CSVWriterConfig) bpipe.WorkerFunc {
	return func(f *bpipe.Filter) {
		in := f.Inputs()[0]
		out := bufio.NewWriter(cfg.Writer)
		defer out.Flush()

		for f.Running() {
			b, err := in.GetTail(f.Timeout())
			if err != nil {
				if bpipe.IsTimeout(err) {
					continue
				}
				return
			}
			if b.Status == bpipe.Complete {
				in.DelTail()
				return
			}

			for i := 0; i < b.Count; i++ {
				tNs := b.TNs + uint64(i)*b.PeriodNs
				v := getSample(b, in.DType(), i)
				n, werr := fmt.Fprintf(out, "%d,%g\n", tNs, v)
				w.written += int64(n)
				if werr != nil || (cfg.MaxFileSizeBytes > 0 && w.written >= cfg.MaxFileSizeBytes) {
					in.DelTail()
					out.Flush()
					f.Fail(bpipe.NoSpace, "leaf.CSVWriter: max_file_size_bytes reached")
					in.Stop()
					return
				}
			}
			in.DelTail()
		}
	}
}
