package asn1

import (
	"errors"
	"fmt"
	"strings"
)

// SchemaError is returned by the compiler for problems found in an ASN.1
// module definition, such as an unknown module or type or an unsupported type
// kind. Line and Column are 1-based when set; the compiler works on a
// [schema.Dictionary] without source positions and leaves them zero. The
// parser reports syntax errors and unsupported constructs with its own error
// type, whose message has the same "module:line:column: message" form.
type SchemaError struct {
	Module  string
	Line    int
	Column  int
	Message string
}

func (e *SchemaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.Module, e.Line, e.Column, e.Message)
	}
	if e.Module != "" {
		return fmt.Sprintf("%s: %s", e.Module, e.Message)
	}
	return e.Message
}

// ErrUnsupported is wrapped by the error the parser returns for a construct it
// recognizes but does not implement, so that callers can distinguish it from a
// plain syntax error using errors.Is.
var ErrUnsupported = errors.New("unsupported construct")

// EncodeError is returned by Specification.Encode. Path identifies, from
// outermost to innermost, the member names traversed before the failure
// occurred.
type EncodeError struct {
	Path    []string
	Message string
}

func (e *EncodeError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return strings.Join(e.Path, ": ") + ": " + e.Message
}

// withPath returns a copy of e with name prepended to the path.
func (e *EncodeError) withPath(name string) *EncodeError {
	path := make([]string, 0, len(e.Path)+1)
	path = append(path, name)
	path = append(path, e.Path...)
	return &EncodeError{Path: path, Message: e.Message}
}

// DecodeError is returned by Specification.Decode. Like EncodeError, Path
// records the location trail built up as the decoder descends into
// constructed types, so that e.Error() reads "a: b: c: <message>".
type DecodeError struct {
	Path    []string
	Message string
}

func (e *DecodeError) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return strings.Join(e.Path, ": ") + ": " + e.Message
}

func (e *DecodeError) withPath(name string) *DecodeError {
	path := make([]string, 0, len(e.Path)+1)
	path = append(path, name)
	path = append(path, e.Path...)
	return &DecodeError{Path: path, Message: e.Message}
}

// DecodeTagError is a [DecodeError] subtype reported whenever the tag read
// from the wire does not match the tag expected for a given type. Expected
// and Actual are the leading identifier octets (class, constructed bit and,
// for a tag number below 31, the number itself) exactly as they appear on the
// wire, so that the canonical string form can be reproduced exactly:
//
//	expected <TYPE> with tag 0x<exp> but got 0x<act> at offset <n>
type DecodeTagError struct {
	Path     []string
	TypeName string
	Expected byte
	Actual   byte
	Offset   int
}

func (e *DecodeTagError) Error() string {
	msg := fmt.Sprintf("expected %s with tag 0x%02x but got 0x%02x at offset %d",
		e.TypeName, e.Expected, e.Actual, e.Offset)
	if len(e.Path) == 0 {
		return msg
	}
	return strings.Join(e.Path, ": ") + ": " + msg
}

func (e *DecodeTagError) withPath(name string) *DecodeTagError {
	path := make([]string, 0, len(e.Path)+1)
	path = append(path, name)
	path = append(path, e.Path...)
	return &DecodeTagError{Path: path, TypeName: e.TypeName, Expected: e.Expected, Actual: e.Actual, Offset: e.Offset}
}

// NotEnoughDataError is returned by DecodeLength and by any decode operation
// that runs out of input bytes before a complete header or value could be
// read.
type NotEnoughDataError struct {
	Need int
	Have int
}

func (e *NotEnoughDataError) Error() string {
	return fmt.Sprintf("not enough data: need at least %d bytes, have %d", e.Need, e.Have)
}

// MemberMissingError is an [EncodeError] cause reported when a required,
// non-OPTIONAL, non-DEFAULT member is absent from a user-supplied SEQUENCE or
// SET value.
type MemberMissingError struct {
	Name string
}

func (e *MemberMissingError) Error() string {
	return fmt.Sprintf("missing required member %q", e.Name)
}

// UnknownDiscriminatorError is returned when an ANY DEFINED BY field's
// discriminator value has no corresponding entry in the mapping supplied to
// the compiler.
type UnknownDiscriminatorError struct {
	Discriminator any
}

func (e *UnknownDiscriminatorError) Error() string {
	return fmt.Sprintf("unknown discriminator %v", e.Discriminator)
}

// UnknownAlternativeError describes a CHOICE value whose alternative name does
// not match any member of the CHOICE type. Encoding such a value fails with an
// [EncodeError] whose message is this error's text.
type UnknownAlternativeError struct {
	TypeName    string
	Alternative string
}

func (e *UnknownAlternativeError) Error() string {
	return fmt.Sprintf("%s has no alternative %q", e.TypeName, e.Alternative)
}

// UnknownEnumeratedError is returned when encoding or decoding an ENUMERATED
// value whose identifier (on encode) or integer (on decode) is not part of
// the type's value mapping.
type UnknownEnumeratedError struct {
	TypeName string
	Value    any
}

func (e *UnknownEnumeratedError) Error() string {
	return fmt.Sprintf("%v is not a valid value of %s", e.Value, e.TypeName)
}

// RecursiveTypeError is returned when encode or decode is attempted on a type
// the compiler marked as self-referential. Recursive types are detected at
// compile time but rejected lazily, at first use, matching the behavior of the
// system this package's design is based on. See the design notes in DESIGN.md.
type RecursiveTypeError struct {
	TypeName string
}

func (e *RecursiveTypeError) Error() string {
	return fmt.Sprintf("%s: recursive types not yet implemented", e.TypeName)
}

// AmbiguousTypeError is returned by Specification.Encode/Decode when a
// type name is looked up in the flat, cross-module namespace but is declared
// in more than one module. Callers must go through Specification.Modules to
// disambiguate.
type AmbiguousTypeError struct {
	TypeName string
}

func (e *AmbiguousTypeError) Error() string {
	return fmt.Sprintf("%s is ambiguous: declared in more than one module", e.TypeName)
}

// UnknownTypeError is returned when a type name is not found at all.
type UnknownTypeError struct {
	TypeName string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown type %q", e.TypeName)
}
