// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ibkr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single message payload.
const MaxFrameSize = 0xFFFFFF

// ErrFrameTooLarge is returned for a length prefix above MaxFrameSize.
var ErrFrameTooLarge = errors.New("ibkr: frame exceeds maximum size")

// unsetDouble is the gateway's marker for a price or greek it never computed.
const unsetDouble = math.MaxFloat64

// WriteFrame writes payload behind a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// SplitFields splits a payload into its NUL-terminated fields.
func SplitFields(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}
	parts := bytes.Split(payload, []byte{0})
	if len(parts[len(parts)-1]) == 0 {
		parts = parts[:len(parts)-1]
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = string(p)
	}
	return out
}

// Encoder builds an outgoing message payload.
type Encoder struct {
	buf bytes.Buffer
}

// Encode returns a payload holding the given fields.
func Encode(fields ...any) []byte {
	var e Encoder
	for _, f := range fields {
		e.Field(f)
	}
	return e.Bytes()
}

// Field appends one value. Bools encode as 1 or 0, unset floats as empty.
func (e *Encoder) Field(v any) *Encoder {
	switch x := v.(type) {
	case string:
		e.buf.WriteString(x)
	case int:
		e.buf.WriteString(strconv.Itoa(x))
	case int64:
		e.buf.WriteString(strconv.FormatInt(x, 10))
	case float64:
		if x != unsetDouble {
			e.buf.WriteString(strconv.FormatFloat(x, 'f', -1, 64))
		}
	case bool:
		if x {
			e.buf.WriteByte('1')
		} else {
			e.buf.WriteByte('0')
		}
	case nil:
	default:
		e.buf.WriteString(fmt.Sprint(x))
	}
	e.buf.WriteByte(0)
	return e
}

// Bytes returns the encoded payload.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Decoder reads typed values from the fields of one incoming message. The
// first decoding failure sticks and every later read returns a zero value.
type Decoder struct {
	fields []string
	pos    int
	err    error
}

// NewDecoder wraps the fields of one message.
func NewDecoder(fields []string) *Decoder {
	return &Decoder{fields: fields}
}

// Err returns the first decoding error.
func (d *Decoder) Err() error { return d.err }

// Remaining reports how many fields are left.
func (d *Decoder) Remaining() int { return len(d.fields) - d.pos }

func (d *Decoder) next() (string, bool) {
	if d.err != nil {
		return "", false
	}
	if d.pos >= len(d.fields) {
		d.err = fmt.Errorf("ibkr: message truncated at field %d", d.pos)
		return "", false
	}
	s := d.fields[d.pos]
	d.pos++
	return s, true
}

// String reads a text field.
func (d *Decoder) String() string {
	s, _ := d.next()
	return s
}

// Int reads an integer field. Empty means 0.
func (d *Decoder) Int() int {
	s, ok := d.next()
	if !ok || s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		d.err = fmt.Errorf("ibkr: field %d: %w", d.pos-1, err)
	}
	return n
}

// Int64 reads a 64-bit integer field.
func (d *Decoder) Int64() int64 {
	s, ok := d.next()
	if !ok || s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		d.err = fmt.Errorf("ibkr: field %d: %w", d.pos-1, err)
	}
	return n
}

// Float reads a floating point field. Empty means 0; "Infinity" is unset.
func (d *Decoder) Float() float64 {
	s, ok := d.next()
	if !ok || s == "" {
		return 0
	}
	if strings.EqualFold(s, "infinity") {
		return math.Inf(1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		d.err = fmt.Errorf("ibkr: field %d: %w", d.pos-1, err)
	}
	return f
}

// Decimal reads a size field. Sizes arrive as decimals on newer servers.
func (d *Decoder) Decimal() float64 { return d.Float() }

// Bool reads a 0/1 field.
func (d *Decoder) Bool() bool { return d.Int() != 0 }

// Skip discards n fields.
func (d *Decoder) Skip(n int) {
	for i := 0; i < n; i++ {
		d.next()
	}
}
