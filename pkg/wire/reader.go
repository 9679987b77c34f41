package wire

import (
	"encoding/binary"

	"github.com/opd-ai/go-torclient/pkg/errors"
)

// Readable is implemented by values that can parse themselves from a Reader.
// Implementations are on pointer receivers and fill in the receiver.
type Readable interface {
	TakeFrom(r *Reader) error
}

// Reader is a forward cursor over a borrowed byte slice. It never copies;
// slices returned by Take alias the underlying buffer.
type Reader struct {
	b   []byte
	off int
}

// NewReader creates a Reader over b. The Reader borrows b; the caller must
// not mutate it while parsing.
func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int {
	return len(r.b) - r.off
}

// Consumed returns the number of bytes consumed so far.
func (r *Reader) Consumed() int {
	return r.off
}

// Take consumes and returns the next n bytes.
func (r *Reader) Take(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, errors.BadMessage("truncated")
	}
	b := r.b[r.off : r.off+n]
	r.off += n
	return b, nil
}

// TakeRest consumes and returns all remaining bytes.
func (r *Reader) TakeRest() []byte {
	b := r.b[r.off:]
	r.off = len(r.b)
	return b
}

// TakeInto fills dst with the next len(dst) bytes, copying.
func (r *Reader) TakeInto(dst []byte) error {
	b, err := r.Take(len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// TakeU8 consumes a single byte.
func (r *Reader) TakeU8() (uint8, error) {
	b, err := r.Take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// TakeU16 consumes a big-endian 16-bit integer.
func (r *Reader) TakeU16() (uint16, error) {
	b, err := r.Take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// TakeU32 consumes a big-endian 32-bit integer.
func (r *Reader) TakeU32() (uint32, error) {
	b, err := r.Take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// TakeU64 consumes a big-endian 64-bit integer.
func (r *Reader) TakeU64() (uint64, error) {
	b, err := r.Take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// TakeU128 consumes a big-endian 128-bit integer.
func (r *Reader) TakeU128() (U128, error) {
	var v U128
	err := v.TakeFrom(r)
	return v, err
}

// TakeFrom parses v from the reader.
func TakeFrom(r *Reader, v Readable) error {
	return v.TakeFrom(r)
}

// TakeN parses n consecutive encodings of T from the reader.
func TakeN[T any, PT interface {
	Readable
	*T
}](r *Reader, n int) ([]T, error) {
	out := make([]T, n)
	for i := 0; i < n; i++ {
		if err := PT(&out[i]).TakeFrom(r); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// ShouldBeExhausted returns a BadMessage error if any bytes remain.
func (r *Reader) ShouldBeExhausted() error {
	if r.Remaining() != 0 {
		return errors.BadMessage("Extra data at end of message")
	}
	return nil
}
