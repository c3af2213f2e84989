package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/internal/vlq"
)

// encodeOID renders an OBJECT IDENTIFIER's arcs as the base-128 content octets
// described in §4.3: the first two arcs are collapsed into a single value
// 40*X+Y, every arc after that is appended as its own VLQ.
func encodeOID(oid asn1.ObjectIdentifier) ([]byte, error) {
	if len(oid) < 2 {
		return nil, fmt.Errorf("object identifier needs at least two arcs")
	}
	content := vlq.Append(nil, uint(40*oid[0]+oid[1]))
	for _, arc := range oid[2:] {
		content = vlq.Append(content, uint(arc))
	}
	return content, nil
}

// decodeOID parses an OBJECT IDENTIFIER's content octets back into its arcs.
func decodeOID(content []byte) (asn1.ObjectIdentifier, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("object identifier has no content")
	}
	first, n, err := vlq.Decode(content)
	if err != nil {
		return nil, err
	}
	var a, b uint64
	switch {
	case first < 40:
		a, b = 0, uint64(first)
	case first < 80:
		a, b = 1, uint64(first)-40
	default:
		a, b = 2, uint64(first)-80
	}
	oid := asn1.ObjectIdentifier{a, b}
	for n < len(content) {
		arc, read, err := vlq.Decode(content[n:])
		if err != nil {
			return nil, err
		}
		oid = append(oid, uint64(arc))
		n += read
	}
	return oid, nil
}

// encodeReal renders a float64 as REAL content octets. §4.3 does not specify a
// byte-level contract for REAL beyond "a string of digits"; this package
// follows the ISO 6093 NR3 base-10 form used by the textual encoding rules,
// which round-trips through this package's own encoder and decoder. It is not
// guaranteed to match any other implementation's binary encoding of REAL.
func encodeReal(v float64) []byte {
	if v == 0 {
		return nil
	}
	text := strconv.FormatFloat(v, 'E', -1, 64)
	return append([]byte{0x03}, text...)
}

// decodeReal parses REAL content octets produced by encodeReal.
func decodeReal(content []byte) (float64, error) {
	if len(content) == 0 {
		return 0, nil
	}
	if content[0] != 0x03 {
		return 0, fmt.Errorf("unsupported REAL encoding form 0x%02x", content[0])
	}
	text := strings.ReplaceAll(string(content[1:]), "E", "e")
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed REAL content: %w", err)
	}
	return v, nil
}
