package trace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// SelectorLength is the size of a function selector in bytes.
const SelectorLength = 4

// Selector is the first four bytes of keccak256 of a function signature.
type Selector [SelectorLength]byte

// Hex returns the 0x-prefixed lower-case encoding, e.g. 0xa9059cbb.
func (s Selector) Hex() string {
	return hexutil.Encode(s[:])
}

func (s Selector) String() string {
	return s.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := ParseSelector(string(text))
	if err != nil {
		return err
	}

	*s = parsed

	return nil
}

// ParseSelector decodes a 0x-prefixed 4-byte hex string.
func ParseSelector(str string) (Selector, error) {
	b, err := hexutil.Decode(str)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid selector %q: %w", str, err)
	}

	if len(b) != SelectorLength {
		return Selector{}, fmt.Errorf("invalid selector %q: want %d bytes, got %d", str, SelectorLength, len(b))
	}

	var s Selector

	copy(s[:], b)

	return s, nil
}
