// Package wire provides the byte-oriented encoding primitives that underpin
// every protocol message: an append-only Writer sink, a zero-copy Reader
// cursor, and the Writeable/Readable contracts implemented by domain objects.
//
// All integers are encoded big-endian with fixed widths, per tor-spec.txt
// section 0.2. Length prefixes for variable collections are the
// responsibility of higher layers.
package wire

import "encoding/binary"

// Writer is an append-only byte sink. Writes never fail; concrete writers
// grow as needed.
type Writer interface {
	// WriteAll appends b to the output.
	WriteAll(b []byte)
	// WriteZeros appends n zero bytes to the output.
	WriteZeros(n int)
}

// Writeable is implemented by values that can serialize themselves onto any
// Writer. Serialization is total and cannot fail.
type Writeable interface {
	WriteOnto(w Writer)
}

// WriteableOnce is implemented by values that are consumed by serialization,
// such as MAC results whose code may only be extracted once.
type WriteableOnce interface {
	WriteInto(w Writer)
}

// Write serializes v onto w.
func Write(w Writer, v Writeable) {
	v.WriteOnto(w)
}

// WriteU8 appends a single byte.
func WriteU8(w Writer, v uint8) {
	w.WriteAll([]byte{v})
}

// WriteU16 appends a big-endian 16-bit integer.
func WriteU16(w Writer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.WriteAll(b[:])
}

// WriteU32 appends a big-endian 32-bit integer.
func WriteU32(w Writer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.WriteAll(b[:])
}

// WriteU64 appends a big-endian 64-bit integer.
func WriteU64(w Writer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.WriteAll(b[:])
}

// WriteU128 appends a big-endian 128-bit integer.
func WriteU128(w Writer, v U128) {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], v.Hi)
	binary.BigEndian.PutUint64(b[8:16], v.Lo)
	w.WriteAll(b[:])
}

// U128 is a 128-bit unsigned integer, encoded big-endian on the wire.
type U128 struct {
	Hi uint64
	Lo uint64
}

// WriteOnto implements Writeable.
func (v U128) WriteOnto(w Writer) {
	WriteU128(w, v)
}

// TakeFrom implements Readable.
func (v *U128) TakeFrom(r *Reader) error {
	b, err := r.Take(16)
	if err != nil {
		return err
	}
	v.Hi = binary.BigEndian.Uint64(b[0:8])
	v.Lo = binary.BigEndian.Uint64(b[8:16])
	return nil
}

// Buffer is an in-memory growable Writer.
type Buffer struct {
	b []byte
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// WriteAll implements Writer.
func (buf *Buffer) WriteAll(b []byte) {
	buf.b = append(buf.b, b...)
}

// WriteZeros implements Writer.
func (buf *Buffer) WriteZeros(n int) {
	buf.b = append(buf.b, make([]byte, n)...)
}

// Bytes returns the accumulated output. The slice is owned by the buffer and
// valid until the next write.
func (buf *Buffer) Bytes() []byte {
	return buf.b
}

// Len returns the number of bytes accumulated so far.
func (buf *Buffer) Len() int {
	return len(buf.b)
}

// Reset discards the accumulated output.
func (buf *Buffer) Reset() {
	buf.b = buf.b[:0]
}
