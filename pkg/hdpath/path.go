// Package hdpath converts between BIP32/EIP-2334 derivation path strings and
// their ordered index sequences.
package hdpath

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/pkg/errors"
)

// HardenedOffset is added to an index marked with a trailing apostrophe.
const HardenedOffset uint32 = 0x80000000

const (
	prefix         = "m/"
	hardenedMarker = "'"
)

var (
	// ErrInvalidPathFormat is returned when a path string cannot be parsed.
	ErrInvalidPathFormat = errors.New("invalid derivation path format")
	// ErrIndexOutOfRange is returned when a position does not exist in a path.
	ErrIndexOutOfRange = errors.New("derivation path position out of range")
)

// Path is an immutable derivation path. The zero value is an empty path.
type Path struct {
	indices accounts.DerivationPath
}

// New returns a path holding a copy of the given indices.
func New(indices ...uint32) Path {
	cp := make(accounts.DerivationPath, len(indices))
	copy(cp, indices)

	return Path{indices: cp}
}

// Parse converts a path string such as "m/12381/3600/0/0/0" or "m/44'/60'/0'/0/0"
// into a Path.
func Parse(s string) (Path, error) {
	if !strings.HasPrefix(s, prefix) {
		return Path{}, errors.Wrapf(ErrInvalidPathFormat, "path %q must start with %q", s, prefix)
	}

	segments := strings.Split(strings.TrimPrefix(s, prefix), "/")
	indices := make(accounts.DerivationPath, 0, len(segments))

	for _, segment := range segments {
		index, err := parseSegment(segment)
		if err != nil {
			return Path{}, errors.Wrapf(err, "path %q", s)
		}

		indices = append(indices, index)
	}

	return Path{indices: indices}, nil
}

// MustParse is like Parse but panics on malformed input. Only use it for constants.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return p
}

func parseSegment(segment string) (uint32, error) {
	var offset uint32

	if strings.HasSuffix(segment, hardenedMarker) {
		offset = HardenedOffset
		segment = strings.TrimSuffix(segment, hardenedMarker)
	}

	// ParseUint accepts a leading '+', which is not a valid path segment.
	if segment == "" || segment[0] < '0' || segment[0] > '9' {
		return 0, errors.Wrapf(ErrInvalidPathFormat, "segment %q is not numeric", segment)
	}

	// Values at or above 2^31 are only expressible through the hardened marker,
	// otherwise the string form would not round trip.
	value, err := strconv.ParseUint(segment, 10, 31)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidPathFormat, "segment %q is not a valid index", segment)
	}

	return uint32(value) + offset, nil
}

// String formats the path, rendering hardened indices with a trailing apostrophe.
func (p Path) String() string {
	return p.indices.String()
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*p = parsed

	return nil
}

// Indices returns a copy of the raw index sequence.
func (p Path) Indices() []uint32 {
	cp := make([]uint32, len(p.indices))
	copy(cp, p.indices)

	return cp
}

// Len returns the number of segments.
func (p Path) Len() int {
	return len(p.indices)
}

// At returns the raw index at position i.
func (p Path) At(i int) (uint32, error) {
	if i < 0 || i >= len(p.indices) {
		return 0, errors.Wrapf(ErrIndexOutOfRange, "position %d in %s", i, p)
	}

	return p.indices[i], nil
}

// IsHardened reports whether the index at position i carries the hardened offset.
func (p Path) IsHardened(i int) bool {
	v, err := p.At(i)

	return err == nil && v >= HardenedOffset
}

// WithIndexAt returns a new path with the index at position replaced by value.
func (p Path) WithIndexAt(position int, value uint32) (Path, error) {
	if position < 0 || position >= len(p.indices) {
		return Path{}, errors.Wrapf(ErrIndexOutOfRange, "position %d in %s", position, p)
	}

	next := New(p.indices...)
	next.indices[position] = value

	return next, nil
}

// Parent returns the path without its final segment.
func (p Path) Parent() (Path, error) {
	if len(p.indices) < 2 {
		return Path{}, errors.Wrapf(ErrIndexOutOfRange, "%s has no parent", p)
	}

	return New(p.indices[:len(p.indices)-1]...), nil
}

// Equal reports whether both paths hold the same indices.
func (p Path) Equal(other Path) bool {
	if len(p.indices) != len(other.indices) {
		return false
	}

	for i := range p.indices {
		if p.indices[i] != other.indices[i] {
			return false
		}
	}

	return true
}
