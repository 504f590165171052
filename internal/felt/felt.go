// Package felt converts Starknet field elements and u256 low/high pairs into
// fixed-width 256-bit integers.
package felt

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// maxU128 is 2^128 - 1, the largest value a u256 half may hold.
var maxU128 = new(uint256.Int).SubUint64(new(uint256.Int).Lsh(uint256.NewInt(1), 128), 1)

// Parse decodes a felt given as 0x-prefixed hex (leading zeros allowed) or decimal.
func Parse(s string) (uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uint256.Int{}, fmt.Errorf("empty felt")
	}
	b, ok := math.ParseBig256(s)
	if !ok {
		return uint256.Int{}, fmt.Errorf("invalid felt: %q", s)
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.Int{}, fmt.Errorf("felt overflows 256 bits: %q", s)
	}
	return *v, nil
}

// FromParts reconstructs high*2^128 + low. Both halves must fit in 128 bits.
func FromParts(low, high uint256.Int) (uint256.Int, error) {
	if low.Gt(maxU128) {
		return uint256.Int{}, fmt.Errorf("u256 low half exceeds 128 bits: %s", low.Hex())
	}
	if high.Gt(maxU128) {
		return uint256.Int{}, fmt.Errorf("u256 high half exceeds 128 bits: %s", high.Hex())
	}
	var out uint256.Int
	out.Lsh(&high, 128)
	out.Or(&out, &low)
	return out, nil
}

// ParseParts parses two felts as the low and high halves of a u256.
func ParseParts(low, high string) (uint256.Int, error) {
	lo, err := Parse(low)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("low: %w", err)
	}
	hi, err := Parse(high)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("high: %w", err)
	}
	return FromParts(lo, hi)
}

// Split decomposes v into its low and high 128-bit halves.
func Split(v uint256.Int) (low, high uint256.Int) {
	low.And(&v, maxU128)
	high.Rsh(&v, 128)
	return low, high
}

// Hex renders v as 0x followed by 64 lowercase hex digits.
func Hex(v uint256.Int) string {
	return common.Hash(v.Bytes32()).Hex()
}

// Normalize re-encodes a felt string in the canonical Hex form.
func Normalize(s string) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Hex(v), nil
}

// Selector returns the starknet_keccak of an entry point or event name:
// Keccak-256 truncated to its low 250 bits.
func Selector(name string) uint256.Int {
	h := crypto.Keccak256([]byte(name))
	h[0] &= 0x03
	var v uint256.Int
	v.SetBytes32(h)
	return v
}
