// Package tlv implements the syntactic layer of the Basic Encoding Rules
// (BER) described in [Rec. ITU-T X.690]: the tag-length-value framing that
// wraps every encoded value. The compiler package builds on top of this
// package for the semantic, per-type encoding described in §4.3 of the design
// document; this package only deals with headers (§4.4).
//
// Unlike the system this design is based on, this package operates on
// in-memory byte slices rather than a stream: the specification is explicit
// that the codec is full-buffer in, full-buffer out (§1, Non-goals).
//
// [Rec. ITU-T X.690]: https://www.itu.int/rec/T-REC-X.690
package tlv

import (
	"errors"
	"io"
	"math"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/internal/vlq"
)

// LengthIndefinite is used as the Length of a [Header] to indicate the
// constructed indefinite-length encoding. BER accepts this form on decode;
// DER rejects it (§4.5).
const LengthIndefinite = -1

// Header represents the tag and length octets that prefix every BER-encoded
// data value.
type Header struct {
	Tag         asn1.Tag
	Constructed bool
	Length      int
}

// Size returns the number of bytes that [AppendHeader] would write for h.
func (h Header) Size() int {
	n := 1
	if h.Tag.Number() >= 31 {
		n += vlq.Length(h.Tag.Number())
	}
	n++ // length octet
	if h.Length == LengthIndefinite || h.Length < 128 {
		return n
	}
	l := h.Length
	for l > 0 {
		n++
		l >>= 8
	}
	return n
}

// IdentifierByte returns the leading octet of tag's identifier encoding: its
// class and constructed bits, plus its number if it fits in the low-tag-number
// form (below 31), or the 0x1f high-tag-number marker otherwise. It is used
// both by AppendHeader and to render a representative tag byte in tag
// mismatch error messages (§6).
func IdentifierByte(tag asn1.Tag, constructed bool) byte {
	b := byte(tag.Class() >> 8)
	if constructed {
		b |= 0x20
	}
	if tag.Number() < 31 {
		return b | byte(tag.Number())
	}
	return b | 0x1f
}

// AppendHeader appends the BER encoding of h to buf and returns the extended
// slice.
func AppendHeader(buf []byte, h Header) []byte {
	buf = append(buf, IdentifierByte(h.Tag, h.Constructed))
	if h.Tag.Number() >= 31 {
		buf = vlq.Append(buf, h.Tag.Number())
	}

	switch {
	case h.Length == LengthIndefinite:
		buf = append(buf, 0x80)
	case h.Length < 128:
		buf = append(buf, byte(h.Length))
	default:
		var tmp [8]byte
		n := 0
		for l := h.Length; l > 0; l >>= 8 {
			tmp[n] = byte(l)
			n++
		}
		buf = append(buf, 0x80|byte(n))
		for i := n - 1; i >= 0; i-- {
			buf = append(buf, tmp[i])
		}
	}
	return buf
}

// DecodeHeader reads a [Header] from the front of data and returns it along
// with the number of bytes consumed. If data is too short to contain a
// complete header, DecodeHeader returns an [asn1.NotEnoughDataError].
func DecodeHeader(data []byte) (Header, int, error) {
	if len(data) < 2 {
		return Header{}, 0, &asn1.NotEnoughDataError{Need: 2, Have: len(data)}
	}
	var h Header
	b := data[0]
	h.Tag = asn1.Tag(b>>6) << 14
	h.Constructed = b&0x20 != 0
	n := 1

	if b&0x1f == 0x1f {
		num, read, err := vlq.Decode(data[n:])
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, 0, &asn1.NotEnoughDataError{Need: len(data) + 1, Have: len(data)}
		}
		if err != nil {
			return Header{}, 0, err
		}
		n += read
		h.Tag |= asn1.Tag(num) &^ (0b11 << 14)
		if n >= len(data) {
			return Header{}, 0, &asn1.NotEnoughDataError{Need: n + 1, Have: len(data)}
		}
	} else {
		h.Tag |= asn1.Tag(b & 0x1f)
	}

	lb := data[n]
	n++
	switch {
	case lb&0x80 == 0:
		h.Length = int(lb & 0x7f)
	case lb == 0x80:
		h.Length = LengthIndefinite
	default:
		numBytes := int(lb & 0x7f)
		if n+numBytes > len(data) {
			return Header{}, 0, &asn1.NotEnoughDataError{Need: n + numBytes, Have: len(data)}
		}
		length := 0
		for i := 0; i < numBytes; i++ {
			if length >= math.MaxInt32 {
				return Header{}, 0, &asn1.NotEnoughDataError{Need: n + numBytes, Have: len(data)}
			}
			length = length<<8 | int(data[n])
			n++
		}
		h.Length = length
	}
	return h, n, nil
}

// TotalLength returns the total size, in bytes, of the TLV encoding whose
// header is h: the header size plus the content length. TotalLength returns
// LengthIndefinite if h uses the indefinite-length form, since the total size
// of such an encoding cannot be known from the header alone.
func TotalLength(headerSize int, h Header) int {
	if h.Length == LengthIndefinite {
		return LengthIndefinite
	}
	return headerSize + h.Length
}
