package protocol

import (
	"bufio"
	"io"
)

// Writer provides buffered writing of frames
type Writer struct {
	bw      *bufio.Writer
	enc     Encoder
	scratch []byte
}

// NewWriter creates a new frame writer. Frames are written verbatim until
// SetVersion selects a protocol generation.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw:      bufio.NewWriter(w),
		scratch: make([]byte, 0, 512),
	}
}

// SetVersion selects the protocol generation used for following frames
func (w *Writer) SetVersion(v Version) {
	w.enc.Version = v
}

// Version returns the protocol generation in use
func (w *Writer) Version() Version {
	return w.enc.Version
}

// WriteFrame writes one frame to the output stream
func (w *Writer) WriteFrame(f Frame) error {
	w.scratch = w.enc.Append(w.scratch[:0], f)
	_, err := w.bw.Write(w.scratch)
	if cap(w.scratch) > 64*1024 {
		w.scratch = make([]byte, 0, 512)
	}
	return err
}

// WriteSimpleString writes a simple string. CR and LF are replaced by spaces.
func (w *Writer) WriteSimpleString(s string) error {
	return w.WriteFrame(SimpleString(SanitizeText(s)))
}

// WriteError writes an error message. CR and LF are replaced by spaces so a
// multi-line message cannot break framing.
func (w *Writer) WriteError(msg string) error {
	return w.WriteFrame(SimpleError(SanitizeText(msg)))
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	return w.WriteFrame(Integer(n))
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	w.scratch = appendBulk(w.scratch[:0], data)
	_, err := w.bw.Write(w.scratch)
	return err
}

// WriteNull writes the null reply of the current generation
func (w *Writer) WriteNull() error {
	return w.WriteFrame(Null())
}

// WriteOK writes a simple "OK" response
func (w *Writer) WriteOK() error {
	return w.WriteFrame(SimpleString("OK"))
}

// WriteCommand writes a command as an array of bulk strings
func (w *Writer) WriteCommand(name string, args ...string) error {
	items := make([]Frame, 0, 1+len(args))
	items = append(items, BulkString(name))
	for _, arg := range args {
		items = append(items, BulkString(arg))
	}
	return w.WriteFrame(Array(items...))
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// Buffered returns the number of bytes written but not yet flushed
func (w *Writer) Buffered() int {
	return w.bw.Buffered()
}

// Reset discards buffered output and writes to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}
