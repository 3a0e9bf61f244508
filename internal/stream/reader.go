package stream

import (
	"context"
	"errors"
	"io"
	"iter"

	"github.com/iksnae/medichat/internal"
)

const readBufferSize = 4096

// Reader pulls frames from a response body on demand
type Reader struct {
	src     io.Reader
	dec     *Decoder
	buf     []byte
	pending []Frame
	err     error
}

// NewReader returns a Reader decoding src
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		dec: NewDecoder(),
		buf: make([]byte, readBufferSize),
	}
}

// Next returns the next frame. It returns io.EOF after the last frame, when
// the source is exhausted or the [DONE] sentinel was seen. A trailing
// unterminated frame is discarded. Once ctx is cancelled no further frames
// are returned, including ones already decoded.
func (r *Reader) Next(ctx context.Context) (Frame, error) {
	for {
		if r.err == nil {
			if err := ctx.Err(); err != nil {
				r.err = err
				r.pending = nil
			}
		}
		if len(r.pending) > 0 {
			f := r.pending[0]
			r.pending = r.pending[1:]
			return f, nil
		}
		if r.err != nil {
			return Frame{}, r.err
		}
		if r.dec.Finished() {
			r.err = io.EOF
			continue
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.buf[:n])...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
				continue
			}
			if left := r.dec.Buffered(); left > 0 {
				internal.LogDebug("Discarding %d bytes of unterminated frame at end of stream", left)
			}
			r.err = io.EOF
		}
	}
}

// Frames returns the remaining frames as a sequence. Iteration ends at end of
// stream; any other failure is yielded once as the final element.
func (r *Reader) Frames(ctx context.Context) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := r.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}
