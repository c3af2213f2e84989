package compiler

import (
	"fmt"
	"math/big"
)

// toBigInt normalizes the range of Go integer types accepted for an ASN.1
// INTEGER or ENUMERATED value into a [*big.Int]. INTEGER is not limited in
// size by this package (§4.3); *big.Int is used internally so that the
// two's-complement encoder does not need to special-case machine word sizes.
func toBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return v, nil
	case big.Int:
		return &v, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint8:
		return big.NewInt(int64(v)), nil
	case uint16:
		return big.NewInt(int64(v)), nil
	case uint32:
		return big.NewInt(int64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as an INTEGER", value)
	}
}

// encodeTwosComplement returns the shortest two's-complement big-endian
// encoding of n, with no redundant leading 0x00 or 0xFF byte (§4.3).
func encodeTwosComplement(n *big.Int) []byte {
	if n.Sign() == 0 {
		return []byte{0}
	}
	if n.Sign() > 0 {
		b := n.Bytes()
		if b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return b
	}
	// Negative: encode abs(n)-1, complement every byte, accounting for a
	// leading 0xFF if the top bit of the result is already set after
	// complementing the shortest unsigned form.
	bitLen := n.BitLen()
	numBytes := bitLen/8 + 1
	abs := new(big.Int).Neg(n) // abs(n), n < 0
	buf := make([]byte, numBytes)
	abs.FillBytes(buf)
	// two's complement: invert and add one, done via big.Int arithmetic to
	// avoid per-byte carry propagation bugs.
	mod := new(big.Int).Lsh(big.NewInt(1), uint(numBytes*8))
	twos := new(big.Int).Add(n, mod)
	twos.FillBytes(buf)
	// strip a redundant leading 0xFF byte, keeping at least one byte and
	// keeping the sign bit set.
	for len(buf) > 1 && buf[0] == 0xFF && buf[1]&0x80 != 0 {
		buf = buf[1:]
	}
	return buf
}

// decodeTwosComplement parses content as a two's-complement big-endian
// integer (§4.3: "sign-extend from the first byte").
func decodeTwosComplement(content []byte) *big.Int {
	n := new(big.Int).SetBytes(content)
	if content[0]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(len(content)*8))
		n.Sub(n, mod)
	}
	return n
}

// shrinkInt returns n as an int64 if it fits, otherwise n itself.
func shrinkInt(n *big.Int) any {
	if n.IsInt64() {
		return n.Int64()
	}
	return n
}

// normalizeDiscriminator canonicalizes a discriminator value (either an
// ANY DEFINED BY sibling's decoded value, or a key of the user-supplied
// discriminator mapping) so that integer-valued discriminators of different
// concrete Go types compare equal.
func normalizeDiscriminator(value any) any {
	switch v := value.(type) {
	case int:
		return int64(v)
	case int8:
		return int64(v)
	case int16:
		return int64(v)
	case int32:
		return int64(v)
	case uint:
		return int64(v)
	case uint8:
		return int64(v)
	case uint16:
		return int64(v)
	case uint32:
		return int64(v)
	case uint64:
		return int64(v)
	case *big.Int:
		if v.IsInt64() {
			return v.Int64()
		}
		return v.String()
	default:
		return value
	}
}
