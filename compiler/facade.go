package compiler

import (
	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/tlv"
)

// Encode encodes value as typeName and returns its complete TLV encoding
// (§4.6).
func (s *Specification) Encode(typeName string, value any) ([]byte, error) {
	node, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	return node.encode(value)
}

// Decode decodes data as typeName and returns the resulting dynamic value
// (§4.6). In DER mode, any bytes of data left over after the top-level value
// are rejected; in BER mode they are ignored.
func (s *Specification) Decode(typeName string, data []byte) (any, error) {
	node, err := s.lookup(typeName)
	if err != nil {
		return nil, err
	}
	value, consumed, err := node.decode(data, 0)
	if err != nil {
		return nil, err
	}
	if s.Mode == asn1.DER && consumed != len(data) {
		return nil, &asn1.DecodeError{Message: "trailing data after top-level value"}
	}
	return value, nil
}

// DecodeLength reads the tag and length octets at the front of data and
// returns the total size, in bytes, of the TLV they introduce. For a definite
// length the value's content need not be present (§4.4, §4.6); for the
// indefinite-length form the content is scanned up to its end-of-contents
// octets, so it must be present. It fails with a [asn1.NotEnoughDataError] if
// data does not hold a complete header.
func (s *Specification) DecodeLength(data []byte) (int, error) {
	return DecodeLength(data)
}

// DecodeLength is the package-level form of Specification.DecodeLength; it
// needs no compiled specification since header framing does not depend on
// any particular schema.
func DecodeLength(data []byte) (int, error) {
	h, hn, err := tlv.DecodeHeader(data)
	if err != nil {
		return 0, err
	}
	if h.Length == tlv.LengthIndefinite {
		contentLen, err := scanIndefiniteContent(data[hn:])
		if err != nil {
			return 0, err
		}
		return hn + contentLen + 2, nil
	}
	return hn + h.Length, nil
}

// Types returns the flat, cross-module type name lookup. A name declared in
// more than one module is absent here; use Modules to disambiguate.
func (s *Specification) Types() map[string]*Node {
	return s.flatTypes
}

// Modules returns the per-module compiled view of every module that was
// passed to Compile.
func (s *Specification) Modules() map[string]*ModuleInfo {
	return s.modules
}

// lookup resolves a bare type name through the flat cross-module namespace.
func (s *Specification) lookup(typeName string) (*Node, error) {
	if s.ambiguous[typeName] {
		return nil, &asn1.AmbiguousTypeError{TypeName: typeName}
	}
	node, ok := s.flatTypes[typeName]
	if !ok {
		return nil, &asn1.UnknownTypeError{TypeName: typeName}
	}
	return node, nil
}
