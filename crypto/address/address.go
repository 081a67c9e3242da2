// Package address defines the 20-byte 0x-prefixed hex identifiers operators
// and nodes are known by, derived from ML-DSA-44 public keys via Blake2b-256.
// Every identifier entering the settlement core is validated against this
// format before any state is read.
package address

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	mldsa "github.com/cloudflare/circl/sign/mldsa/mldsa44"
	"golang.org/x/crypto/blake2b"
)

const (
	// Address format constants
	AddressPrefix     = "0x"
	AddressLength     = 42 // "0x" + 40 hex characters
	AddressByteLength = 20
)

// Address is a 20-byte operator or node identifier
type Address [AddressByteLength]byte

// New derives an Address from an ML-DSA-44 public key
func New(pubKey *mldsa.PublicKey) (*Address, error) {
	if pubKey == nil {
		return nil, fmt.Errorf("public key cannot be nil")
	}

	pubKeyBytes := pubKey.Bytes()
	if len(pubKeyBytes) == 0 {
		return nil, fmt.Errorf("public key bytes cannot be empty")
	}

	hash := blake2b.Sum256(pubKeyBytes)

	// Last 20 bytes of the digest
	var addr Address
	copy(addr[:], hash[len(hash)-AddressByteLength:])

	return &addr, nil
}

// NullAddress returns the zero address
func NullAddress() *Address {
	return &Address{}
}

// FromString parses a 0x-prefixed hex string into an Address
func FromString(s string) (*Address, error) {
	if err := Validate(s); err != nil {
		return nil, fmt.Errorf("invalid address format: %v", err)
	}

	raw, err := hex.DecodeString(strings.ToLower(s[2:]))
	if err != nil {
		return nil, fmt.Errorf("invalid hex in address: %v", err)
	}

	var addr Address
	copy(addr[:], raw)
	return &addr, nil
}

// FromBytes creates an Address from raw bytes
func FromBytes(b []byte) (*Address, error) {
	if len(b) != AddressByteLength {
		return nil, fmt.Errorf("address must be exactly %d bytes, got %d", AddressByteLength, len(b))
	}

	var addr Address
	copy(addr[:], b)
	return &addr, nil
}

// Validate checks that a string is a well-formed 0x address
func Validate(s string) error {
	if len(s) != AddressLength {
		return fmt.Errorf("address must be exactly %d characters long, got %d", AddressLength, len(s))
	}

	if !strings.HasPrefix(s, AddressPrefix) {
		return fmt.Errorf("address must start with %q", AddressPrefix)
	}

	for i, c := range s[2:] {
		if !isHexChar(c) {
			return fmt.Errorf("address contains invalid hex character %q at position %d", c, i+2)
		}
	}

	return nil
}

// IsValid reports whether a string is a well-formed 0x address
func IsValid(s string) bool {
	return Validate(s) == nil
}

func isHexChar(c rune) bool {
	return (c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'f') ||
		(c >= 'A' && c <= 'F')
}

// Bytes returns the raw 20-byte address
func (a *Address) Bytes() []byte {
	if a == nil {
		return nil
	}
	return a[:]
}

// String returns the 0x-prefixed lowercase hex representation
func (a *Address) String() string {
	if a == nil {
		return AddressPrefix + strings.Repeat("0", 40)
	}
	return AddressPrefix + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is all zeros
func (a *Address) IsZero() bool {
	if a == nil {
		return true
	}
	for _, b := range a {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal reports whether two addresses are identical
func (a *Address) Equal(other *Address) bool {
	if a == nil && other == nil {
		return true
	}
	if a == nil || other == nil {
		return false
	}
	return bytes.Equal(a[:], other[:])
}

// MarshalJSON implements json.Marshaler
func (a *Address) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler
func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid JSON data for address")
	}

	parsed, err := FromString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("failed to parse address from JSON: %v", err)
	}

	copy(a[:], parsed[:])
	return nil
}
