// Package wire implements the primitive data types of RFC 4251 section 5 as
// used by the SSH agent protocol: byte, boolean, uint32, uint64 and string,
// including the mpint and name-list views of string.
package wire

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/cryptobyte"
)

// MaxStringLength is the largest length representable by a string's uint32
// length prefix.
const MaxStringLength = math.MaxUint32

// Codec errors.
var (
	// ErrTruncated indicates fewer bytes were available than the type requires.
	ErrTruncated = errors.New("wire: truncated input")

	// ErrLengthLimitExceeded indicates a string longer than 2^32-1 bytes.
	ErrLengthLimitExceeded = errors.New("wire: 32-bit length limit exceeded")

	// ErrInvalidNameList indicates an empty, NUL-containing or non-UTF-8 name.
	ErrInvalidNameList = errors.New("wire: invalid name-list")

	// ErrNonMinimalMpint indicates an mpint with redundant leading bytes.
	ErrNonMinimalMpint = errors.New("wire: mpint is not minimally encoded")
)

// CheckLength reports whether a string of n bytes can be encoded.
func CheckLength(n uint64) error {
	if n > MaxStringLength {
		return fmt.Errorf("%w: %d bytes", ErrLengthLimitExceeded, n)
	}
	return nil
}

// Reader decodes primitives from a byte slice. A failed read leaves the
// position unchanged.
type Reader struct {
	s cryptobyte.String
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{s: cryptobyte.String(b)}
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.s) }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.s }

// Raw consumes exactly n bytes.
func (r *Reader) Raw(n int) ([]byte, error) {
	var b []byte
	if !r.s.ReadBytes(&b, n) {
		return nil, ErrTruncated
	}
	return b, nil
}

// Byte decodes a single byte.
func (r *Reader) Byte() (byte, error) {
	var b uint8
	if !r.s.ReadUint8(&b) {
		return 0, ErrTruncated
	}
	return b, nil
}

// Bool decodes a boolean; any nonzero byte is true.
func (r *Reader) Bool() (bool, error) {
	b, err := r.Byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Uint32 decodes a big-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	var v uint32
	if !r.s.ReadUint32(&v) {
		return 0, ErrTruncated
	}
	return v, nil
}

// Uint64 decodes a big-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	var v uint64
	if !r.s.ReadUint64(&v) {
		return 0, ErrTruncated
	}
	return v, nil
}

// Bytes decodes a length-prefixed string. The result aliases the input.
func (r *Reader) Bytes() ([]byte, error) {
	s := r.s
	var n uint32
	var b []byte
	if !s.ReadUint32(&n) || uint64(n) > uint64(len(s)) || !s.ReadBytes(&b, int(n)) {
		return nil, ErrTruncated
	}
	r.s = s
	return b, nil
}

// Text decodes a string as text.
func (r *Reader) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Mpint decodes a string as a two's-complement multiple precision integer.
func (r *Reader) Mpint() (*big.Int, error) {
	start := r.s
	b, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	x, err := ParseMpint(b)
	if err != nil {
		r.s = start
		return nil, err
	}
	return x, nil
}

// NameList decodes a string as a comma-separated list of names.
func (r *Reader) NameList() ([]string, error) {
	start := r.s
	s, err := r.Text()
	if err != nil {
		return nil, err
	}
	names, err := ParseNameList(s)
	if err != nil {
		r.s = start
		return nil, err
	}
	return names, nil
}

// Writer encodes primitives into a growing buffer.
type Writer struct {
	b *cryptobyte.Builder
	n int
}

// NewWriter returns a Writer with capacity hint n.
func NewWriter(n int) *Writer {
	return &Writer{b: cryptobyte.NewBuilder(make([]byte, 0, n))}
}

// Bytes returns the encoded bytes. Lengths are checked before anything is
// added, so the builder never holds an error.
func (w *Writer) Bytes() []byte { return w.b.BytesOrPanic() }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return w.n }

// PutRaw appends b without a length prefix.
func (w *Writer) PutRaw(b []byte) {
	w.b.AddBytes(b)
	w.n += len(b)
}

// PutByte appends a single byte.
func (w *Writer) PutByte(b byte) {
	w.b.AddUint8(b)
	w.n++
}

// PutBool appends a boolean as 0 or 1.
func (w *Writer) PutBool(v bool) {
	if v {
		w.PutByte(1)
		return
	}
	w.PutByte(0)
}

// PutUint32 appends a big-endian uint32.
func (w *Writer) PutUint32(v uint32) {
	w.b.AddUint32(v)
	w.n += 4
}

// PutUint64 appends a big-endian uint64.
func (w *Writer) PutUint64(v uint64) {
	w.b.AddUint64(v)
	w.n += 8
}

// PutString appends a length-prefixed string. It fails instead of
// truncating when b does not fit the 32-bit length prefix.
func (w *Writer) PutString(b []byte) error {
	if err := CheckLength(uint64(len(b))); err != nil {
		return err
	}
	w.b.AddUint32LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(b)
	})
	w.n += 4 + len(b)
	return nil
}

// PutText appends s as a length-prefixed string.
func (w *Writer) PutText(s string) error {
	return w.PutString([]byte(s))
}

// PutMpint appends x in mpint form.
func (w *Writer) PutMpint(x *big.Int) error {
	return w.PutString(MarshalMpint(x))
}

// PutNameList appends names as a comma-separated string.
func (w *Writer) PutNameList(names []string) error {
	s, err := JoinNameList(names)
	if err != nil {
		return err
	}
	return w.PutText(s)
}

// MarshalMpint returns the minimal two's-complement big-endian form of x.
// Zero encodes as the empty string.
func MarshalMpint(x *big.Int) []byte {
	switch x.Sign() {
	case 0:
		return []byte{}
	case 1:
		n := x.BitLen()/8 + 1
		return x.FillBytes(make([]byte, n))
	}
	// Smallest n with x >= -2^(8n-1).
	m := new(big.Int).Neg(x)
	m.Sub(m, big.NewInt(1))
	n := m.BitLen()/8 + 1
	v := new(big.Int).Lsh(big.NewInt(1), uint(8*n))
	v.Add(v, x)
	return v.FillBytes(make([]byte, n))
}

// ParseMpint decodes the body of an mpint string.
func ParseMpint(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return new(big.Int), nil
	}
	if b[0] == 0 && (len(b) == 1 || b[1]&0x80 == 0) {
		return nil, ErrNonMinimalMpint
	}
	if b[0] == 0xff && len(b) > 1 && b[1]&0x80 != 0 {
		return nil, ErrNonMinimalMpint
	}
	x := new(big.Int).SetBytes(b)
	if b[0]&0x80 != 0 {
		x.Sub(x, new(big.Int).Lsh(big.NewInt(1), uint(8*len(b))))
	}
	return x, nil
}

// ParseNameList splits a name-list. The empty string is the empty list.
func ParseNameList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	names := strings.Split(s, ",")
	for _, name := range names {
		if err := validName(name); err != nil {
			return nil, err
		}
	}
	return names, nil
}

// JoinNameList joins names with commas after validating each one.
func JoinNameList(names []string) (string, error) {
	for _, name := range names {
		if err := validName(name); err != nil {
			return "", err
		}
		if strings.Contains(name, ",") {
			return "", fmt.Errorf("%w: name %q contains a comma", ErrInvalidNameList, name)
		}
	}
	return strings.Join(names, ","), nil
}

func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidNameList)
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: name contains NUL", ErrInvalidNameList)
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("%w: name is not UTF-8", ErrInvalidNameList)
	}
	return nil
}
