// Package compiler implements §4.2 (the schema compiler) and the shared
// tag-length-value codec engine described in §4.3–§4.5: it resolves a
// [schema.Dictionary] into a graph of codec [Node]s and exposes that graph
// through a [Specification], the public facade described in §4.6.
package compiler

import (
	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
)

// Node is one codec node of the compiled graph: it knows its own effective
// tag and, for constructed kinds, how to walk its children. A Node is
// immutable once [Compile] returns (§3, Invariants).
type Node struct {
	Kind schema.TypeKind

	// Tag and Constructed together form this node's effective tag: the byte
	// sequence that must prefix this node's TLV on the wire, both for
	// encode-emit and decode-accept (§3, Invariants).
	Tag         asn1.Tag
	Constructed bool

	// ExplicitInner is non-nil when this node is an EXPLICIT tag wrapper:
	// its own Tag/Constructed describe the outer TLV, and ExplicitInner
	// describes the value carried as that TLV's sole content.
	ExplicitInner *Node

	// Members holds the ordered component list of a Sequence, Set or Choice.
	Members []Member

	// Element is the member node of a SequenceOf or SetOf.
	Element *Node

	// EnumToName and NameToEnum are the two directions of an Enumerated
	// type's identifier<->integer map.
	EnumToName map[int]string
	NameToEnum map[string]int

	// DefinedByField names the sibling member whose already-decoded value
	// selects a DefinedByChoices entry, for an AnyDefinedBy node.
	DefinedByField   string
	DefinedByChoices map[any]*Node

	// Recursive is true if this node was detected to be self-referential
	// during compilation (§4.2, step 4; §9). Encode/Decode on such a node
	// return a [asn1.RecursiveTypeError] instead of attempting to recurse.
	Recursive bool

	spec     *Specification
	resolved bool // compiler bookkeeping: true once this stub has been filled in.
}

// Member describes one resolved component of a Sequence, Set or Choice node.
type Member struct {
	Name              string
	Node              *Node
	Optional          bool
	HasDefault        bool
	Default           any
	ExtensionAddition bool // true if this member lies after an opening '...' marker and before its closing one.
}

// kindName returns the ASN.1 keyword for k, used to render human-readable
// type names in error messages (e.g. [asn1.DecodeTagError]) for nodes that do
// not otherwise have a more specific name.
func kindName(k schema.TypeKind) string {
	switch k {
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Integer:
		return "INTEGER"
	case schema.BitString:
		return "BIT STRING"
	case schema.OctetString:
		return "OCTET STRING"
	case schema.Null:
		return "NULL"
	case schema.ObjectIdentifier:
		return "OBJECT IDENTIFIER"
	case schema.Real:
		return "REAL"
	case schema.Enumerated:
		return "ENUMERATED"
	case schema.UTF8String:
		return "UTF8String"
	case schema.NumericString:
		return "NumericString"
	case schema.PrintableString:
		return "PrintableString"
	case schema.IA5String:
		return "IA5String"
	case schema.VisibleString:
		return "VisibleString"
	case schema.UniversalString:
		return "UniversalString"
	case schema.BMPString:
		return "BMPString"
	case schema.TeletexString:
		return "TeletexString"
	case schema.UTCTime:
		return "UTCTime"
	case schema.GeneralizedTime:
		return "GeneralizedTime"
	case schema.Sequence:
		return "SEQUENCE"
	case schema.Set:
		return "SET"
	case schema.SequenceOf:
		return "SEQUENCE OF"
	case schema.SetOf:
		return "SET OF"
	case schema.Choice:
		return "CHOICE"
	case schema.Any, schema.AnyDefinedBy:
		return "ANY"
	default:
		return "type"
	}
}
