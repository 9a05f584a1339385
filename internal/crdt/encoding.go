package crdt

import (
	"errors"
)

// ErrUnexpectedEnd is returned when a decoder runs off the end of its input.
var ErrUnexpectedEnd = errors.New("unexpected end of input")

// ErrOverflow is returned when a varint does not fit in 64 bits.
var ErrOverflow = errors.New("varint overflow")

// Encoder builds the variable-length binary format shared by document
// updates, state vectors and the wire protocol. Unsigned integers are
// little-endian base-128 varints, byte strings are length-prefixed.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{}
}

func (e *Encoder) Uint(n uint64) {
	for n >= 0x80 {
		e.buf = append(e.buf, byte(n)|0x80)
		n >>= 7
	}
	e.buf = append(e.buf, byte(n))
}

func (e *Encoder) Byte(b byte) {
	e.buf = append(e.buf, b)
}

func (e *Encoder) Bytes(p []byte) {
	e.Uint(uint64(len(p)))
	e.buf = append(e.buf, p...)
}

func (e *Encoder) String(s string) {
	e.Uint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

// Result returns the accumulated bytes. The encoder must not be reused
// afterwards.
func (e *Encoder) Result() []byte {
	return e.buf
}

// Decoder reads the format produced by Encoder. Methods return
// ErrUnexpectedEnd on truncated input and never panic.
type Decoder struct {
	buf []byte
	pos int
}

func NewDecoder(p []byte) *Decoder {
	return &Decoder{buf: p}
}

func (d *Decoder) Uint() (uint64, error) {
	var n uint64
	var shift uint
	for {
		if d.pos >= len(d.buf) {
			return 0, ErrUnexpectedEnd
		}
		b := d.buf[d.pos]
		d.pos++
		if shift >= 64 || (shift == 63 && b > 1) {
			return 0, ErrOverflow
		}
		n |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return n, nil
		}
		shift += 7
	}
}

func (d *Decoder) Byte() (byte, error) {
	if d.pos >= len(d.buf) {
		return 0, ErrUnexpectedEnd
	}
	b := d.buf[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint()
	if err != nil {
		return nil, err
	}
	if n > uint64(len(d.buf)-d.pos) {
		return nil, ErrUnexpectedEnd
	}
	p := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return p, nil
}

func (d *Decoder) String() (string, error) {
	p, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// Remaining reports how many undecoded bytes are left.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}
