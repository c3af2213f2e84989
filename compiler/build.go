package compiler

import (
	"fmt"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
)

// asn1Class converts a schema.Class into the corresponding asn1.Class bits.
func asn1Class(c schema.Class) asn1.Class {
	switch c {
	case schema.ClassApplication:
		return asn1.ClassApplication
	case schema.ClassContextSpecific:
		return asn1.ClassContextSpecific
	case schema.ClassPrivate:
		return asn1.ClassPrivate
	default:
		return asn1.ClassUniversal
	}
}

// wrapsExplicit reports whether a tag directive of the given kind results in
// an EXPLICIT wrapper (as opposed to an IMPLICIT tag replacement), given the
// enclosing module's default tagging mode. A bare tag directive with no
// IMPLICIT/EXPLICIT qualifier defers to the module default; AUTOMATIC modules
// behave like IMPLICIT for such directives (§4.2, step 3).
func wrapsExplicit(moduleTagging schema.Tagging, kind schema.TagKind) bool {
	switch kind {
	case schema.TagExplicit:
		return true
	case schema.TagImplicit:
		return false
	default:
		return moduleTagging == schema.Explicit
	}
}

func (c *compiler) own(n *Node) *Node {
	n.spec = c.spec
	return n
}

// buildNode builds the Node for a single type descriptor, applying its
// tagging directive (if any) on top of the node produced for its bare kind.
// selfName identifies the enclosing named type, used to key ANY DEFINED BY
// wiring; it is "" for types with no enclosing named type of their own.
func (c *compiler) buildNode(module string, typ *schema.TypeDescriptor, selfName string) (*Node, error) {
	inner, err := c.buildKindNode(module, typ, selfName)
	if err != nil {
		return nil, err
	}
	if typ.Tag == nil {
		return inner, nil
	}

	mod := c.dict[module]
	tag := asn1Class(typ.Tag.Class) | asn1.Tag(typ.Tag.Number)
	if wrapsExplicit(mod.Tags, typ.Tag.Kind) {
		return c.own(&Node{
			Kind:          typ.Kind,
			Tag:           tag,
			Constructed:   true,
			ExplicitInner: inner,
		}), nil
	}
	// IMPLICIT: replace the tag in place; the constructed/primitive nature
	// of the encoding is unaffected (§3, Invariants).
	inner.Tag = tag
	return inner, nil
}

// buildKindNode builds a Node for typ's bare kind, ignoring any tagging
// directive (handled by the caller, buildNode).
func (c *compiler) buildKindNode(module string, typ *schema.TypeDescriptor, selfName string) (*Node, error) {
	switch typ.Kind {
	case schema.Boolean:
		return c.own(&Node{Kind: schema.Boolean, Tag: asn1.TagBoolean}), nil
	case schema.Integer:
		return c.own(&Node{Kind: schema.Integer, Tag: asn1.TagInteger}), nil
	case schema.BitString:
		return c.own(&Node{Kind: schema.BitString, Tag: asn1.TagBitString}), nil
	case schema.OctetString:
		return c.own(&Node{Kind: schema.OctetString, Tag: asn1.TagOctetString}), nil
	case schema.Null:
		return c.own(&Node{Kind: schema.Null, Tag: asn1.TagNull}), nil
	case schema.ObjectIdentifier:
		return c.own(&Node{Kind: schema.ObjectIdentifier, Tag: asn1.TagOID}), nil
	case schema.Real:
		return c.own(&Node{Kind: schema.Real, Tag: asn1.TagReal}), nil
	case schema.Enumerated:
		toName := map[int]string{}
		toNum := map[string]int{}
		for n, name := range typ.Values {
			toName[n] = name
			toNum[name] = n
		}
		return c.own(&Node{Kind: schema.Enumerated, Tag: asn1.TagEnumerated, EnumToName: toName, NameToEnum: toNum}), nil
	case schema.UTF8String:
		return c.own(&Node{Kind: schema.UTF8String, Tag: asn1.TagUTF8String}), nil
	case schema.NumericString:
		return c.own(&Node{Kind: schema.NumericString, Tag: asn1.TagNumericString}), nil
	case schema.PrintableString:
		return c.own(&Node{Kind: schema.PrintableString, Tag: asn1.TagPrintableString}), nil
	case schema.IA5String:
		return c.own(&Node{Kind: schema.IA5String, Tag: asn1.TagIA5String}), nil
	case schema.VisibleString:
		return c.own(&Node{Kind: schema.VisibleString, Tag: asn1.TagVisibleString}), nil
	case schema.UniversalString:
		return c.own(&Node{Kind: schema.UniversalString, Tag: asn1.TagUniversalString}), nil
	case schema.BMPString:
		return c.own(&Node{Kind: schema.BMPString, Tag: asn1.TagBMPString}), nil
	case schema.TeletexString:
		return c.own(&Node{Kind: schema.TeletexString, Tag: asn1.TagTeletexString}), nil
	case schema.UTCTime:
		return c.own(&Node{Kind: schema.UTCTime, Tag: asn1.TagUTCTime}), nil
	case schema.GeneralizedTime:
		return c.own(&Node{Kind: schema.GeneralizedTime, Tag: asn1.TagGeneralizedTime}), nil
	case schema.Sequence, schema.Set:
		tag := asn1.Tag(asn1.TagSequence)
		if typ.Kind == schema.Set {
			tag = asn1.TagSet
		}
		members, err := c.buildMembers(module, typ.Members, c.dict[module].Tags == schema.Automatic, selfName)
		if err != nil {
			return nil, err
		}
		return c.own(&Node{Kind: typ.Kind, Tag: tag, Constructed: true, Members: members}), nil
	case schema.SequenceOf, schema.SetOf:
		tag := asn1.Tag(asn1.TagSequence)
		if typ.Kind == schema.SetOf {
			tag = asn1.TagSet
		}
		elem, err := c.buildNode(module, typ.Element, "")
		if err != nil {
			return nil, err
		}
		return c.own(&Node{Kind: typ.Kind, Tag: tag, Constructed: true, Element: elem}), nil
	case schema.Choice:
		members, err := c.buildMembers(module, typ.Members, c.dict[module].Tags == schema.Automatic, selfName)
		if err != nil {
			return nil, err
		}
		return c.own(&Node{Kind: schema.Choice, Members: members}), nil
	case schema.Any:
		return c.own(&Node{Kind: schema.Any}), nil
	case schema.AnyDefinedBy:
		node := c.own(&Node{Kind: schema.AnyDefinedBy, DefinedByField: typ.DefinedByField})
		c.pendingAnyDefinedBy = append(c.pendingAnyDefinedBy, pendingADB{
			key:  AnyDefinedByKey{Module: module, Type: selfName, Field: typ.DefinedByField},
			node: node,
		})
		return node, nil
	case schema.Reference:
		refModule := typ.ReferenceModule
		if refModule == "" {
			refModule = module
		}
		return c.resolveTypeName(refModule, typ.ReferenceName)
	default:
		return nil, &asn1.SchemaError{Module: module, Message: "unsupported type kind"}
	}
}

// buildMembers resolves the component list of a Sequence, Set or Choice.
// When auto is true (the enclosing module uses AUTOMATIC TAGS), every member
// without its own tag directive receives a sequential, IMPLICIT, CONTEXT
// SPECIFIC tag equal to its position among real (non-marker) members (§4.2,
// step 3) — a running counter is kept separately from the slice index so
// that a "..." extensibility marker, which occupies a slot in schemaMembers
// but is not itself a member, does not consume a tag number. selfName is the
// enclosing named type, forwarded so a member that is itself an
// AnyDefinedBy can key its AnyDefinedByKey by the type that declares it.
func (c *compiler) buildMembers(module string, schemaMembers []schema.Member, auto bool, selfName string) ([]Member, error) {
	flat, err := c.flattenMembers(module, schemaMembers)
	if err != nil {
		return nil, err
	}

	var members []Member
	extensionAddition := false
	index := 0
	for _, fm := range flat {
		sm := fm.member
		if sm.ExtensionEnd {
			extensionAddition = !extensionAddition
			continue
		}
		typ := sm.Type
		if auto && typ.Tag == nil {
			cp := *typ
			cp.Tag = &schema.Tag{Class: schema.ClassContextSpecific, Number: uint(index), Kind: schema.TagImplicit}
			typ = &cp
		}
		node, err := c.buildNode(fm.module, typ, selfName)
		if err != nil {
			return nil, err
		}
		// An ANY DEFINED BY member is keyed by its own member name, not by the
		// sibling field whose value selects its type.
		if last := len(c.pendingAnyDefinedBy) - 1; last >= 0 && c.pendingAnyDefinedBy[last].node == node {
			c.pendingAnyDefinedBy[last].key.Field = sm.Name
		}
		members = append(members, Member{
			Name:              sm.Name,
			Node:              node,
			Optional:          sm.Optional,
			HasDefault:        sm.HasDefault,
			Default:           sm.Default,
			ExtensionAddition: extensionAddition,
		})
		index++
	}
	return members, nil
}

// flatMember pairs a schema.Member with the module it should be built
// against, so that a member spliced in from another module's type by
// COMPONENTS OF (below) resolves its own nested references correctly.
type flatMember struct {
	module string
	member schema.Member
}

// flattenMembers expands every COMPONENTS OF entry in schemaMembers by
// splicing in the referenced SEQUENCE/SET's own component list in its place,
// recursively expanding further COMPONENTS OF entries within it.
func (c *compiler) flattenMembers(module string, schemaMembers []schema.Member) ([]flatMember, error) {
	var out []flatMember
	for _, sm := range schemaMembers {
		if sm.ComponentsOf == "" {
			out = append(out, flatMember{module: module, member: sm})
			continue
		}
		refModule := sm.ComponentsOfModule
		if refModule == "" {
			refModule = module
		}
		typ, definedIn, err := c.lookupTypeDescriptor(refModule, sm.ComponentsOf)
		if err != nil {
			return nil, err
		}
		if typ.Kind != schema.Sequence && typ.Kind != schema.Set {
			return nil, &asn1.SchemaError{Module: module, Message: fmt.Sprintf("COMPONENTS OF %s: not a SEQUENCE or SET", sm.ComponentsOf)}
		}
		nested, err := c.flattenMembers(definedIn, typ.Members)
		if err != nil {
			return nil, err
		}
		out = append(out, nested...)
	}
	return out, nil
}

// lookupTypeDescriptor resolves a bare type name to its schema.TypeDescriptor
// and the module it is declared in, checking module's own types and then its
// imports. It is the schema-level counterpart to resolveTypeName, used by
// flattenMembers, which needs the unresolved member list rather than a
// compiled Node.
func (c *compiler) lookupTypeDescriptor(module, name string) (*schema.TypeDescriptor, string, error) {
	if mod, ok := c.dict[module]; ok {
		if typ, ok := mod.Types[name]; ok {
			return typ, module, nil
		}
		for imported, symbols := range mod.Imports {
			for _, s := range symbols {
				if s == name {
					if impMod, ok := c.dict[imported]; ok {
						if typ, ok := impMod.Types[name]; ok {
							return typ, imported, nil
						}
					}
				}
			}
		}
	}
	return nil, "", &asn1.UnknownTypeError{TypeName: name}
}
