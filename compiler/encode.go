package compiler

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
	"github.com/FabianEckermann/asn1tools/tlv"
)

// buildTLV wraps content in the tag-length-value framing for tag/constructed.
func buildTLV(tag asn1.Tag, constructed bool, content []byte) []byte {
	h := tlv.Header{Tag: tag, Constructed: constructed, Length: len(content)}
	buf := make([]byte, 0, h.Size()+len(content))
	buf = tlv.AppendHeader(buf, h)
	return append(buf, content...)
}

// encode implements §4.3's per-type Encode contracts. It returns the value's
// complete TLV encoding, including its own tag and length.
func (n *Node) encode(value any) ([]byte, error) {
	if n.Recursive {
		return nil, &asn1.RecursiveTypeError{TypeName: kindName(n.Kind)}
	}
	if n.ExplicitInner != nil {
		inner, err := n.ExplicitInner.encode(value)
		if err != nil {
			return nil, err
		}
		return buildTLV(n.Tag, true, inner), nil
	}
	switch n.Kind {
	case schema.Choice:
		return n.encodeChoice(value)
	case schema.Any, schema.AnyDefinedBy:
		return n.encodeAny(value)
	default:
		content, constructed, err := n.encodeContent(value)
		if err != nil {
			return nil, err
		}
		return buildTLV(n.Tag, constructed, content), nil
	}
}

// encodeContent produces the content octets (and the constructed bit) for
// every node kind that carries its own tag, i.e. everything except CHOICE and
// ANY/ANY DEFINED BY, which borrow another node's framing entirely.
func (n *Node) encodeContent(value any) (content []byte, constructed bool, err error) {
	switch n.Kind {
	case schema.Boolean:
		b, ok := value.(bool)
		if !ok {
			return nil, false, fmt.Errorf("expected bool, got %T", value)
		}
		if b {
			return []byte{0xFF}, false, nil
		}
		return []byte{0x00}, false, nil

	case schema.Integer:
		i, err := toBigInt(value)
		if err != nil {
			return nil, false, err
		}
		return encodeTwosComplement(i), false, nil

	case schema.Enumerated:
		name, ok := value.(string)
		if !ok {
			return nil, false, fmt.Errorf("expected string identifier, got %T", value)
		}
		num, ok := n.NameToEnum[name]
		if !ok {
			return nil, false, &asn1.UnknownEnumeratedError{TypeName: kindName(n.Kind), Value: name}
		}
		return encodeTwosComplement(big.NewInt(int64(num))), false, nil

	case schema.BitString:
		bs, ok := value.(asn1.BitString)
		if !ok {
			return nil, false, fmt.Errorf("expected asn1.BitString, got %T", value)
		}
		unused := len(bs.Bytes)*8 - bs.BitLength
		if unused < 0 || unused > 7 {
			return nil, false, fmt.Errorf("bit string length %d inconsistent with %d bytes", bs.BitLength, len(bs.Bytes))
		}
		content := make([]byte, 0, len(bs.Bytes)+1)
		content = append(content, byte(unused))
		content = append(content, bs.Bytes...)
		return content, false, nil

	case schema.OctetString:
		b, ok := value.([]byte)
		if !ok {
			return nil, false, fmt.Errorf("expected []byte, got %T", value)
		}
		return b, false, nil

	case schema.Null:
		return nil, false, nil

	case schema.ObjectIdentifier:
		oid, ok := value.(asn1.ObjectIdentifier)
		if !ok {
			return nil, false, fmt.Errorf("expected asn1.ObjectIdentifier, got %T", value)
		}
		c, err := encodeOID(oid)
		return c, false, err

	case schema.Real:
		f, ok := value.(float64)
		if !ok {
			return nil, false, fmt.Errorf("expected float64, got %T", value)
		}
		return encodeReal(f), false, nil

	case schema.UTF8String, schema.NumericString, schema.PrintableString, schema.IA5String, schema.VisibleString:
		s, ok := value.(string)
		if !ok {
			return nil, false, fmt.Errorf("expected string, got %T", value)
		}
		return []byte(s), false, nil

	case schema.BMPString, schema.UniversalString, schema.TeletexString:
		b, ok := value.([]byte)
		if !ok {
			return nil, false, fmt.Errorf("expected []byte, got %T", value)
		}
		return b, false, nil

	case schema.UTCTime, schema.GeneralizedTime:
		s, ok := value.(string)
		if !ok {
			return nil, false, fmt.Errorf("expected string, got %T", value)
		}
		return []byte(s + "Z"), false, nil

	case schema.Sequence, schema.Set:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false, fmt.Errorf("expected map[string]any, got %T", value)
		}
		content, err := n.encodeStruct(m)
		return content, true, err

	case schema.SequenceOf, schema.SetOf:
		s, ok := value.([]any)
		if !ok {
			return nil, false, fmt.Errorf("expected []any, got %T", value)
		}
		var content []byte
		for i, elem := range s {
			b, err := n.Element.encode(elem)
			if err != nil {
				return nil, false, withPath(err, fmt.Sprintf("[%d]", i))
			}
			content = append(content, b...)
		}
		return content, true, nil

	default:
		return nil, false, fmt.Errorf("%s: unsupported for encoding", kindName(n.Kind))
	}
}

// encodeStruct encodes the members of a Sequence or Set node, in the order
// the spec requires: an absent OPTIONAL or DEFAULT member (and any member
// past the extensibility marker) is simply omitted, matching the simpler
// "omit if absent" rule rather than DER's "omit iff equal to default" (§9).
// For a Set in DER mode, the encoded members are reordered by ascending tag
// before concatenation (§4.5).
func (n *Node) encodeStruct(value map[string]any) ([]byte, error) {
	type encoded struct {
		tag   asn1.Tag
		bytes []byte
	}
	var parts []encoded

	for _, m := range n.Members {
		raw, present := value[m.Name]

		if m.Node.Kind == schema.AnyDefinedBy {
			if !present {
				if m.Optional || m.HasDefault || m.ExtensionAddition {
					continue
				}
				return nil, &asn1.EncodeError{Message: (&asn1.MemberMissingError{Name: m.Name}).Error()}
			}
			sibling, ok := value[m.Node.DefinedByField]
			if !ok {
				return nil, withPath(&asn1.EncodeError{Message: fmt.Sprintf("sibling field %q required for ANY DEFINED BY", m.Node.DefinedByField)}, m.Name)
			}
			target, ok := m.Node.DefinedByChoices[normalizeDiscriminator(sibling)]
			if !ok {
				return nil, &asn1.UnknownDiscriminatorError{Discriminator: sibling}
			}
			b, err := target.encode(raw)
			if err != nil {
				return nil, withPath(err, m.Name)
			}
			parts = append(parts, encoded{tag: target.Tag, bytes: b})
			continue
		}

		if !present {
			if m.Optional || m.HasDefault || m.ExtensionAddition {
				continue
			}
			return nil, &asn1.EncodeError{Message: (&asn1.MemberMissingError{Name: m.Name}).Error()}
		}
		b, err := m.Node.encode(raw)
		if err != nil {
			return nil, withPath(err, m.Name)
		}
		parts = append(parts, encoded{tag: m.Node.effectiveTag(), bytes: b})
	}

	if n.Kind == schema.Set && n.spec != nil && n.spec.Mode == asn1.DER {
		sort.SliceStable(parts, func(i, j int) bool { return parts[i].tag < parts[j].tag })
	}

	var content []byte
	for _, p := range parts {
		content = append(content, p.bytes...)
	}
	return content, nil
}

// effectiveTag returns the tag a node's encoding starts with: its own tag,
// or (for a borrowed-tag kind) the first alternative's effective tag. It is
// used to order SET members under DER (§4.5) and to render the expected tag
// of a member in a tag mismatch error.
func (n *Node) effectiveTag() asn1.Tag {
	if n.Kind == schema.Choice && len(n.Members) > 0 {
		return n.Members[0].Node.effectiveTag()
	}
	return n.Tag
}

// effectiveConstructed returns the constructed bit that accompanies
// effectiveTag, used to render a representative tag byte in error messages
// for a CHOICE member (§6).
func (n *Node) effectiveConstructed() bool {
	if n.Kind == schema.Choice && len(n.Members) > 0 {
		return n.Members[0].Node.effectiveConstructed()
	}
	return n.Constructed
}

func (n *Node) encodeChoice(value any) ([]byte, error) {
	c, ok := value.(asn1.Choice)
	if !ok {
		return nil, fmt.Errorf("expected asn1.Choice, got %T", value)
	}
	for _, m := range n.Members {
		if m.Name == c.Alternative {
			b, err := m.Node.encode(c.Value)
			if err != nil {
				return nil, withPath(err, m.Name)
			}
			return b, nil
		}
	}
	return nil, &asn1.EncodeError{Message: (&asn1.UnknownAlternativeError{TypeName: "CHOICE", Alternative: c.Alternative}).Error()}
}

func (n *Node) encodeAny(value any) ([]byte, error) {
	raw, ok := value.(asn1.Any)
	if !ok {
		return nil, fmt.Errorf("expected asn1.Any, got %T", value)
	}
	return []byte(raw), nil
}
