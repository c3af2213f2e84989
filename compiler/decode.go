package compiler

import (
	"fmt"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
	"github.com/FabianEckermann/asn1tools/tlv"
)

// decode implements §4.3's per-type Decode contracts. data is the remaining
// input from the current cursor onward; base is the absolute offset of
// data[0] within the original top-level input, used to compute the Offset
// field of a DecodeTagError. decode returns the number of bytes of data it
// consumed.
func (n *Node) decode(data []byte, base int) (value any, consumed int, err error) {
	if n.Recursive {
		return nil, 0, &asn1.RecursiveTypeError{TypeName: kindName(n.Kind)}
	}

	if n.ExplicitInner != nil {
		h, hn, err := tlv.DecodeHeader(data)
		if err != nil {
			return nil, 0, err
		}
		if h.Tag != n.Tag || h.Constructed != n.Constructed {
			return nil, 0, tagMismatch(kindName(n.Kind), n.Tag, n.Constructed, h, base)
		}
		content, total, err := n.readContent(data, h, hn, base)
		if err != nil {
			return nil, 0, err
		}
		inner, _, err := n.ExplicitInner.decode(content, base+hn)
		if err != nil {
			return nil, 0, err
		}
		return inner, total, nil
	}

	switch n.Kind {
	case schema.Choice:
		return n.decodeChoice(data, base)
	case schema.Any, schema.AnyDefinedBy:
		return n.decodeAny(data, base)
	}

	h, hn, err := tlv.DecodeHeader(data)
	if err != nil {
		return nil, 0, err
	}
	if n.spec != nil && n.spec.Mode == asn1.DER && h.Length == tlv.LengthIndefinite {
		return nil, 0, &asn1.DecodeError{Message: "indefinite length form is not allowed in DER"}
	}
	if h.Tag != n.Tag || h.Constructed != n.Constructed {
		return nil, 0, tagMismatch(kindName(n.Kind), n.Tag, n.Constructed, h, base)
	}
	content, total, err := n.readContent(data, h, hn, base)
	if err != nil {
		return nil, 0, err
	}
	val, err := n.decodeContent(content, base+hn)
	if err != nil {
		return nil, 0, err
	}
	return val, total, nil
}

// tagMismatch builds a DecodeTagError rendering the full identifier octet
// (class, constructed bit, number) on both sides, matching the canonical
// string form in §6/§8.
func tagMismatch(typeName string, expectedTag asn1.Tag, expectedConstructed bool, actual tlv.Header, offset int) error {
	return &asn1.DecodeTagError{
		TypeName: typeName,
		Expected: tlv.IdentifierByte(expectedTag, expectedConstructed),
		Actual:   tlv.IdentifierByte(actual.Tag, actual.Constructed),
		Offset:   offset,
	}
}

// readContent returns the content octets belonging to the TLV whose header is
// h (already parsed from the first hn bytes of data), and the total number of
// bytes occupied by the complete TLV, resolving the indefinite-length form
// (BER only, by scanning for the matching end-of-contents marker) when
// necessary.
func (n *Node) readContent(data []byte, h tlv.Header, hn int, base int) ([]byte, int, error) {
	if h.Length != tlv.LengthIndefinite {
		end := hn + h.Length
		if end > len(data) {
			return nil, 0, &asn1.NotEnoughDataError{Need: end, Have: len(data)}
		}
		return data[hn:end], end, nil
	}
	contentLen, err := scanIndefiniteContent(data[hn:])
	if err != nil {
		return nil, 0, err
	}
	return data[hn : hn+contentLen], hn + contentLen + 2, nil
}

// scanIndefiniteContent finds the length of the content preceding the
// end-of-contents octets (0x00 0x00) that close an indefinite-length
// constructed encoding, recursing into any nested indefinite-length value so
// that its own end-of-contents marker is not mistaken for the outer one.
func scanIndefiniteContent(data []byte) (int, error) {
	pos := 0
	for {
		if pos+2 <= len(data) && data[pos] == 0 && data[pos+1] == 0 {
			return pos, nil
		}
		if pos >= len(data) {
			return 0, &asn1.NotEnoughDataError{Need: pos + 2, Have: len(data)}
		}
		h, hn, err := tlv.DecodeHeader(data[pos:])
		if err != nil {
			return 0, err
		}
		if h.Length == tlv.LengthIndefinite {
			inner, err := scanIndefiniteContent(data[pos+hn:])
			if err != nil {
				return 0, err
			}
			pos += hn + inner + 2
		} else {
			pos += hn + h.Length
		}
	}
}

// decodeContent parses the content octets of every node kind that carries
// its own tag, the counterpart to encodeContent.
func (n *Node) decodeContent(content []byte, base int) (any, error) {
	switch n.Kind {
	case schema.Boolean:
		if len(content) != 1 {
			return nil, &asn1.DecodeError{Message: "BOOLEAN content must be exactly one byte"}
		}
		return content[0] != 0, nil

	case schema.Integer:
		if len(content) == 0 {
			return nil, &asn1.DecodeError{Message: "INTEGER content must not be empty"}
		}
		return shrinkInt(decodeTwosComplement(content)), nil

	case schema.Enumerated:
		if len(content) == 0 {
			return nil, &asn1.DecodeError{Message: "ENUMERATED content must not be empty"}
		}
		num := decodeTwosComplement(content)
		if !num.IsInt64() {
			return nil, &asn1.UnknownEnumeratedError{TypeName: kindName(n.Kind), Value: num.String()}
		}
		name, ok := n.EnumToName[int(num.Int64())]
		if !ok {
			return nil, &asn1.UnknownEnumeratedError{TypeName: kindName(n.Kind), Value: num.Int64()}
		}
		return name, nil

	case schema.BitString:
		if len(content) == 0 {
			return nil, &asn1.DecodeError{Message: "BIT STRING content must have at least one byte"}
		}
		unused := int(content[0])
		payload := content[1:]
		return asn1.BitString{Bytes: payload, BitLength: len(payload)*8 - unused}, nil

	case schema.OctetString:
		return content, nil

	case schema.Null:
		if len(content) != 0 {
			return nil, &asn1.DecodeError{Message: "NULL content must be empty"}
		}
		return asn1.Null{}, nil

	case schema.ObjectIdentifier:
		return decodeOID(content)

	case schema.Real:
		return decodeReal(content)

	case schema.UTF8String, schema.NumericString, schema.PrintableString, schema.IA5String, schema.VisibleString:
		return string(content), nil

	case schema.BMPString, schema.UniversalString, schema.TeletexString:
		return content, nil

	case schema.UTCTime, schema.GeneralizedTime:
		s := string(content)
		if len(s) > 0 && s[len(s)-1] == 'Z' {
			s = s[:len(s)-1]
		}
		return s, nil

	case schema.Sequence, schema.Set:
		return n.decodeStruct(content, base)

	case schema.SequenceOf, schema.SetOf:
		return n.decodeOf(content, base)

	default:
		return nil, fmt.Errorf("%s: unsupported for decoding", kindName(n.Kind))
	}
}

func (n *Node) decodeOf(content []byte, base int) ([]any, error) {
	var result []any
	pos := 0
	for pos < len(content) {
		matched, actual, err := n.Element.tagMatches(content[pos:])
		if err != nil {
			return nil, err
		}
		if !matched {
			return nil, withPath(tagMismatch(kindName(n.Element.Kind), n.Element.Tag, n.Element.Constructed, actual, base+pos), fmt.Sprintf("[%d]", len(result)))
		}
		val, consumed, err := n.Element.decode(content[pos:], base+pos)
		if err != nil {
			return nil, withPath(err, fmt.Sprintf("[%d]", len(result)))
		}
		result = append(result, val)
		pos += consumed
	}
	return result, nil
}

// decodeStruct decodes the members of a Sequence or Set node. It matches
// wire TLVs against the schema's member list in declared order: a present
// member whose tag does not match the next expected member is treated as
// absent if that member is OPTIONAL, DEFAULT or an extension addition.
// Unrecognized trailing TLVs (future extension additions this schema does
// not know about) are skipped once every known member has been consumed.
func (n *Node) decodeStruct(content []byte, base int) (map[string]any, error) {
	result := map[string]any{}
	pos := 0

	for _, m := range n.Members {
		if pos >= len(content) {
			if m.Optional || m.HasDefault || m.ExtensionAddition {
				if m.HasDefault {
					result[m.Name] = m.Default
				}
				continue
			}
			return nil, &asn1.DecodeError{Message: fmt.Sprintf("missing required member %q", m.Name)}
		}

		if m.Node.Kind == schema.AnyDefinedBy {
			val, consumed, err := n.decodeAnyDefinedByMember(m, result, content[pos:], base+pos)
			if err != nil {
				return nil, withPath(err, m.Name)
			}
			result[m.Name] = val
			pos += consumed
			continue
		}

		matched, actual, err := m.Node.tagMatches(content[pos:])
		if err != nil {
			return nil, withPath(err, m.Name)
		}
		if !matched {
			if m.Optional || m.HasDefault || m.ExtensionAddition {
				if m.HasDefault {
					result[m.Name] = m.Default
				}
				continue
			}
			return nil, withPath(tagMismatch(kindName(m.Node.Kind), m.Node.effectiveTag(), m.Node.effectiveConstructed(), actual, base+pos), m.Name)
		}
		val, consumed, err := m.Node.decode(content[pos:], base+pos)
		if err != nil {
			return nil, withPath(err, m.Name)
		}
		result[m.Name] = val
		pos += consumed
	}

	// Permissively skip any trailing TLVs not accounted for by the known
	// member list (unknown extension additions, §4.3).
	for pos < len(content) {
		h, hn, err := tlv.DecodeHeader(content[pos:])
		if err != nil {
			return nil, &asn1.DecodeError{Message: err.Error()}
		}
		if h.Length == tlv.LengthIndefinite {
			inner, err := scanIndefiniteContent(content[pos+hn:])
			if err != nil {
				return nil, err
			}
			pos += hn + inner + 2
		} else {
			pos += hn + h.Length
		}
	}

	return result, nil
}

func (n *Node) decodeAnyDefinedByMember(m Member, partial map[string]any, data []byte, base int) (any, int, error) {
	sibling, ok := partial[m.Node.DefinedByField]
	if !ok {
		return nil, 0, &asn1.DecodeError{Message: fmt.Sprintf("sibling field %q not yet decoded", m.Node.DefinedByField)}
	}
	target, ok := m.Node.DefinedByChoices[normalizeDiscriminator(sibling)]
	if !ok {
		return nil, 0, &asn1.UnknownDiscriminatorError{Discriminator: sibling}
	}
	return target.decode(data, base)
}

func (n *Node) decodeChoice(data []byte, base int) (any, int, error) {
	for _, m := range n.Members {
		matched, _, err := m.Node.tagMatches(data)
		if err != nil {
			return nil, 0, err
		}
		if matched {
			val, consumed, err := m.Node.decode(data, base)
			if err != nil {
				return nil, 0, withPath(err, m.Name)
			}
			return asn1.Choice{Alternative: m.Name, Value: val}, consumed, nil
		}
	}
	return nil, 0, &asn1.DecodeError{Message: "no matching CHOICE alternative"}
}

func (n *Node) decodeAny(data []byte, base int) (any, int, error) {
	h, hn, err := tlv.DecodeHeader(data)
	if err != nil {
		return nil, 0, err
	}
	_, total, err := n.readContent(data, h, hn, base)
	if err != nil {
		return nil, 0, err
	}
	return asn1.Any(data[:total]), total, nil
}

// tagMatches reports whether the tag of the next TLV in data matches n's
// effective tag (for ANY, any tag matches; for CHOICE, the tag of any of its
// alternatives matches). It also returns the
// actual header read, for use in a DecodeTagError when it does not match.
func (n *Node) tagMatches(data []byte) (bool, tlv.Header, error) {
	if len(data) == 0 {
		return false, tlv.Header{}, nil
	}
	h, _, err := tlv.DecodeHeader(data)
	if err != nil {
		return false, tlv.Header{}, err
	}
	return n.matchesTag(h), h, nil
}

func (n *Node) matchesTag(h tlv.Header) bool {
	if n.ExplicitInner != nil {
		return n.Tag == h.Tag && n.Constructed == h.Constructed
	}
	switch n.Kind {
	case schema.Any, schema.AnyDefinedBy:
		return true
	case schema.Choice:
		for _, m := range n.Members {
			if m.Node.matchesTag(h) {
				return true
			}
		}
		return false
	default:
		return n.Tag == h.Tag && n.Constructed == h.Constructed
	}
}
