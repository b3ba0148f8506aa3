// Package protocol implements the Redis Serialization Protocol (RESP)
// as a codec between Frame values and wire bytes.
//
// A Frame is an immutable tagged value: simple string, simple error,
// integer, bulk string, boolean, double, the unified null, the two legacy
// nulls, and the composites array, map and set. Maps are kept in sorted key
// order and sets in the canonical order given by Compare, so encoding does
// not depend on insertion order.
//
// Encoding is pure and total:
//
//	b := protocol.Encode(protocol.Integer(123)) // ":+123\r\n"
//
// Decoding is incremental. Decode either returns one frame and the number
// of bytes it used, or ErrIncomplete without consuming anything:
//
//	f, n, err := protocol.Decode(buf)
//	switch {
//	case errors.Is(err, protocol.ErrIncomplete):
//		// read more into buf and call again
//	case err != nil:
//		// the stream is broken, close it
//	default:
//		buf = buf[n:]
//	}
//
// Reader and Writer wrap the codec around an io.Reader and io.Writer.
// Both generations of the protocol are supported: Encoder.Version and
// Decoder.Version select RESP2 or RESP3 behaviour. The generations write
// integers the way Redis does (":123"); only the verbatim form signs them.
package protocol
