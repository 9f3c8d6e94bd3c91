package ring

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// AddressBits is the width of the ring address space.
const AddressBits = 160

// AddressLength is the byte length of an encoded address.
const AddressLength = AddressBits / 8

var (
	ErrInvalidAddress = errors.New("ring: invalid address")

	// mask keeps arithmetic inside [0, 2^160).
	mask = func() uint256.Int {
		var one, m uint256.Int
		one.SetUint64(1)
		m.Lsh(&one, AddressBits)
		m.Sub(&m, &one)
		return m
	}()

	// half is 2^159, the distance at which "left" and "right" swap.
	half = func() uint256.Int {
		var one, h uint256.Int
		one.SetUint64(1)
		h.Lsh(&one, AddressBits-1)
		return h
	}()
)

// Address is a position on the ring. Positions grow to the right and wrap
// around at 2^160.
type Address struct {
	v uint256.Int
}

// FromBytes interprets b as a big-endian position. Inputs longer than
// AddressLength keep their low-order bytes.
func FromBytes(b []byte) Address {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	var a Address
	a.v.SetBytes(b)
	return a
}

// FromUint64 builds a small address, mostly useful in tests.
func FromUint64(x uint64) Address {
	var a Address
	a.v.SetUint64(x)
	return a
}

// HashAddress maps arbitrary data onto the ring with SHA-1.
func HashAddress(data []byte) Address {
	sum := sha1.Sum(data)
	return FromBytes(sum[:])
}

// ParseAddress decodes a hex address with an optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" || len(s) > AddressLength*2 {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return FromBytes(b), nil
}

// Bytes returns the fixed-width big-endian encoding.
func (a Address) Bytes() []byte {
	b := a.v.Bytes20()
	return b[:]
}

func (a Address) String() string {
	return hex.EncodeToString(a.Bytes())
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Address) Equal(b Address) bool {
	return a.v.Eq(&b.v)
}

// Cmp orders addresses numerically, ignoring the ring wrap.
func (a Address) Cmp(b Address) int {
	return a.v.Cmp(&b.v)
}

// Add moves the address delta positions to the right.
func (a Address) Add(delta uint64) Address {
	var d, out Address
	d.v.SetUint64(delta)
	out.v.Add(&a.v, &d.v)
	out.v.And(&out.v, &mask)
	return out
}

// Sub moves the address delta positions to the left.
func (a Address) Sub(delta uint64) Address {
	var d, out Address
	d.v.SetUint64(delta)
	out.v.Sub(&a.v, &d.v)
	out.v.And(&out.v, &mask)
	return out
}

// DistanceTo returns the number of steps walking right from a to b.
func (a Address) DistanceTo(b Address) Address {
	var d Address
	d.v.Sub(&b.v, &a.v)
	d.v.And(&d.v, &mask)
	return d
}

// IsLeftOf reports whether b is reached sooner walking right from a than
// walking left, i.e. a sits on b's left.
func (a Address) IsLeftOf(b Address) bool {
	d := a.DistanceTo(b)
	return !d.v.IsZero() && d.v.Lt(&half)
}

// IsRightOf reports whether a sits on b's right.
func (a Address) IsRightOf(b Address) bool {
	return b.IsLeftOf(a)
}
