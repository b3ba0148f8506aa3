package protocol

import (
	"errors"
	"io"
)

const (
	// readChunk is the minimum free space requested from the source per read
	readChunk = 4096

	// compactThreshold is the consumed prefix size that triggers moving the
	// unconsumed tail back to the start of the buffer
	compactThreshold = 64 * 1024
)

// Reader decodes frames from a byte stream. It keeps a single growable
// buffer: bytes are appended as they arrive and the consumed prefix is
// dropped after each decoded frame.
//
// A Reader belongs to one stream and must not be used concurrently.
type Reader struct {
	rd      io.Reader
	dec     Decoder
	buf     []byte
	start   int   // first unconsumed byte in buf
	readErr error // error returned by rd alongside data, reported once buf drains
	err     error // sticky decode failure

	beforeRead func() error
}

// ReaderOption configures a Reader
type ReaderOption func(*Reader)

// WithDecoder replaces the Reader's decoder configuration
func WithDecoder(d Decoder) ReaderOption {
	return func(r *Reader) {
		r.dec = d
	}
}

// WithBeforeRead registers fn to run whenever the Reader is about to read
// from its source, which may block. An error from fn is returned by
// ReadFrame.
func WithBeforeRead(fn func() error) ReaderOption {
	return func(r *Reader) {
		r.beforeRead = fn
	}
}

// NewReader creates a streaming frame reader over rd
func NewReader(rd io.Reader, opts ...ReaderOption) *Reader {
	r := &Reader{
		rd:  rd,
		buf: make([]byte, 0, readChunk),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetVersion changes the grammar accepted for the following frames
func (r *Reader) SetVersion(v Version) {
	r.dec.Version = v
}

// Buffered returns the number of received bytes not yet decoded
func (r *Reader) Buffered() int {
	return len(r.buf) - r.start
}

// ReadFrame returns the next frame from the stream.
//
// A protocol error is permanent: every later call returns it again.
// If the stream ends in the middle of a frame io.ErrUnexpectedEOF is
// returned; a clean end between frames yields io.EOF.
func (r *Reader) ReadFrame() (Frame, error) {
	if r.err != nil {
		return Frame{}, r.err
	}
	for {
		f, n, err := r.dec.Decode(r.buf[r.start:])
		if err == nil {
			r.advance(n)
			return f, nil
		}
		if !errors.Is(err, ErrIncomplete) {
			r.err = err
			return Frame{}, err
		}
		if err := r.fill(); err != nil {
			return Frame{}, err
		}
	}
}

func (r *Reader) advance(n int) {
	r.start += n
	if r.start == len(r.buf) {
		r.buf = r.buf[:0]
		r.start = 0
	}
}

// fill reads at least one more byte into the buffer.
func (r *Reader) fill() error {
	if r.readErr != nil {
		err := r.readErr
		if err == io.EOF && r.Buffered() > 0 {
			err = io.ErrUnexpectedEOF
		}
		return err
	}

	if r.start > 0 && (r.start >= compactThreshold || cap(r.buf)-len(r.buf) < readChunk) {
		n := copy(r.buf, r.buf[r.start:])
		r.buf = r.buf[:n]
		r.start = 0
	}
	if cap(r.buf)-len(r.buf) < readChunk {
		grown := make([]byte, len(r.buf), 2*cap(r.buf)+readChunk)
		copy(grown, r.buf)
		r.buf = grown
	}

	if r.beforeRead != nil {
		if err := r.beforeRead(); err != nil {
			return err
		}
	}

	for {
		n, err := r.rd.Read(r.buf[len(r.buf):cap(r.buf)])
		r.buf = r.buf[:len(r.buf)+n]
		if n > 0 {
			r.readErr = err
			return nil
		}
		if err != nil {
			r.readErr = err
			return r.fill()
		}
	}
}
