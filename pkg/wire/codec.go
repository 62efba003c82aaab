package wire

import (
	"encoding/binary"

	"github.com/DorAlter/postguard/pkg/pgerr"
)

// encoder builds up a compact, deterministic, field-order-stable binary
// encoding: every variable-length field is a big-endian u32 length
// prefix followed by its bytes, every fixed-width integer is big-endian.
// No reflection is involved; field order is whatever the Marshal method
// writes in, matching the teacher's own manual byte-slicing style
// (opjale.go's nonce/sequence-number manipulation) rather than reaching
// for a struct-tag-driven serialization library (see SPEC_FULL.md §3).
type encoder struct {
	buf []byte
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) u64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *encoder) byteVal(v byte) {
	e.buf = append(e.buf, v)
}

func (e *encoder) bytes(b []byte) {
	e.u32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

func (e *encoder) str(s string) {
	e.bytes([]byte(s))
}

// optionalStr encodes a *string as a presence byte followed by the bytes
// if present, mirroring Attribute.Value's Option<String> shape.
func (e *encoder) optionalStr(s *string) {
	if s == nil {
		e.byteVal(0)
		return
	}
	e.byteVal(1)
	e.str(*s)
}

type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder {
	return &decoder{buf: b}
}

func (d *decoder) need(n int) error {
	if len(d.buf)-d.pos < n {
		return pgerr.FormatViolation("unexpected end of encoded data")
	}
	return nil
}

func (d *decoder) u32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) byteVal() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

func (d *decoder) str() (string, error) {
	b, err := d.bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) optionalStr() (*string, error) {
	tag, err := d.byteVal()
	if err != nil {
		return nil, err
	}
	if tag == 0 {
		return nil, nil
	}
	s, err := d.str()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *decoder) done() bool {
	return d.pos >= len(d.buf)
}
