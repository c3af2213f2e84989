package compiler

import (
	"fmt"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
)

// AnyDefinedByKey identifies one ANY DEFINED BY field, as a module/type/field
// path, so that a caller of [Compile] can supply the runtime mapping from
// discriminator value to sub-type name for it (§6: "tuple-key of
// module-path-to-field").
type AnyDefinedByKey struct {
	Module string
	Type   string
	Field  string
}

// ModuleInfo is the compiled view of a single module, reachable from
// Specification.Modules.
type ModuleInfo struct {
	Name   string
	Types  map[string]*Node
	Values map[string]*schema.ValueAssignment
}

// Specification is the immutable, compiled view of a set of ASN.1 modules
// (§3). It is safe to share across goroutines (§5).
type Specification struct {
	Mode    asn1.Mode
	modules map[string]*ModuleInfo

	// flatTypes is the cross-module `types` lookup. A name present in
	// ambiguous is never present in flatTypes (§3: duplicate type names
	// across modules null out the flat lookup for that name).
	flatTypes map[string]*Node
	ambiguous map[string]bool
}

// compiler holds the mutable state used while resolving a [schema.Dictionary]
// into a [Specification]. It is discarded once Compile returns.
type compiler struct {
	dict    schema.Dictionary
	mode    asn1.Mode
	choices map[AnyDefinedByKey]map[any]string

	// nodes holds one stub Node per named type, keyed by "module\x00name",
	// allocated before any type body is resolved so that forward and
	// recursive references have a stable pointer to resolve to (§4.2, step 2).
	nodes map[string]*Node
	// visiting is the set of named types currently being resolved, used to
	// detect self-recursion (§4.2, step 4; §9).
	visiting map[string]bool

	spec *Specification

	// pendingAnyDefinedBy collects AnyDefinedBy nodes discovered while
	// walking type bodies; they are wired up in a second pass once every
	// named type has a stub, so that sub-type names can be resolved
	// regardless of declaration order.
	pendingAnyDefinedBy []pendingADB
}

type pendingADB struct {
	key  AnyDefinedByKey
	node *Node
}

func nodeKey(module, name string) string { return module + "\x00" + name }

// Compile resolves dict into a [Specification] targeting the given encoding
// mode. anyDefinedByChoices supplies the runtime discriminator mapping for
// every ANY DEFINED BY field in dict; a field with no corresponding entry
// compiles successfully but fails at encode/decode time with
// [asn1.UnknownDiscriminatorError] for every value.
//
// Compile implements §4.2. It never mutates dict.
func Compile(dict schema.Dictionary, mode asn1.Mode, anyDefinedByChoices map[AnyDefinedByKey]map[any]string) (*Specification, error) {
	c := &compiler{
		dict:     dict,
		mode:     mode,
		choices:  anyDefinedByChoices,
		nodes:    map[string]*Node{},
		visiting: map[string]bool{},
	}

	spec := &Specification{
		Mode:      mode,
		modules:   map[string]*ModuleInfo{},
		flatTypes: map[string]*Node{},
		ambiguous: map[string]bool{},
	}
	c.spec = spec

	// Step 2: allocate a stub per named type so forward references resolve.
	for modName, mod := range dict {
		for typeName := range mod.Types {
			stub := &Node{spec: spec}
			c.nodes[nodeKey(modName, typeName)] = stub
		}
	}

	// Step 3: walk each type descriptor and fill in its stub.
	for modName, mod := range dict {
		info := &ModuleInfo{Name: modName, Types: map[string]*Node{}, Values: map[string]*schema.ValueAssignment{}}
		for typeName := range mod.Types {
			node, err := c.resolveNamedType(modName, typeName)
			if err != nil {
				return nil, err
			}
			info.Types[typeName] = node
		}
		for valName, val := range mod.Values {
			info.Values[valName] = val
		}
		spec.modules[modName] = info

		// Step 5: aggregate the flat, cross-module types lookup, nulling out
		// any name declared in more than one module.
		for typeName, node := range info.Types {
			if spec.ambiguous[typeName] {
				continue
			}
			if existing, ok := spec.flatTypes[typeName]; ok && existing != node {
				delete(spec.flatTypes, typeName)
				spec.ambiguous[typeName] = true
				continue
			}
			spec.flatTypes[typeName] = node
		}
	}

	// Wire ANY DEFINED BY choices now that every named type has a node.
	for _, p := range c.pendingAnyDefinedBy {
		choices, ok := c.choices[p.key]
		if !ok {
			continue // resolved lazily to UnknownDiscriminatorError at call time
		}
		resolved := make(map[any]*Node, len(choices))
		for discriminator, typeName := range choices {
			node, err := c.resolveTypeName(p.key.Module, typeName)
			if err != nil {
				return nil, fmt.Errorf("any defined by %s.%s.%s: %w", p.key.Module, p.key.Type, p.key.Field, err)
			}
			resolved[normalizeDiscriminator(discriminator)] = node
		}
		p.node.DefinedByChoices = resolved
	}

	return spec, nil
}

// resolveNamedType fills in the stub for the named type (module, name),
// detecting self-recursion along the way.
func (c *compiler) resolveNamedType(module, name string) (*Node, error) {
	key := nodeKey(module, name)
	stub := c.nodes[key]

	if c.visiting[key] {
		// A reference back to a type currently being resolved: mark it
		// recursive and hand back the (still incomplete) stub pointer. The
		// caller higher up the stack continues resolving normally; only
		// use of the recursive node at encode/decode time is rejected.
		stub.Recursive = true
		return stub, nil
	}
	if stub.resolved {
		// Already resolved (reached via an earlier reference).
		return stub, nil
	}

	mod, ok := c.dict[module]
	if !ok {
		return nil, &asn1.SchemaError{Module: module, Message: fmt.Sprintf("unknown module %q", module)}
	}
	typ, ok := mod.Types[name]
	if !ok {
		return nil, &asn1.SchemaError{Module: module, Message: fmt.Sprintf("unknown type %q", name)}
	}

	c.visiting[key] = true
	built, err := c.buildNode(module, typ, name)
	delete(c.visiting, key)
	if err != nil {
		return nil, err
	}
	recursive := stub.Recursive
	*stub = *built
	stub.Recursive = stub.Recursive || recursive
	stub.spec = c.spec
	stub.resolved = true
	return stub, nil
}

// resolveTypeName resolves a bare type name to a Node, first checking module
// as well as its imports, then falling back to the bare ASN.1 universal
// keywords (e.g. "INTEGER", "NULL") so that ANY DEFINED BY discriminator
// mappings can name a universal type directly, as in §8 scenario 6.
func (c *compiler) resolveTypeName(module, name string) (*Node, error) {
	if mod, ok := c.dict[module]; ok {
		if _, ok := mod.Types[name]; ok {
			return c.resolveNamedType(module, name)
		}
		for imported, symbols := range mod.Imports {
			for _, s := range symbols {
				if s == name {
					if impMod, ok := c.dict[imported]; ok {
						if _, ok := impMod.Types[name]; ok {
							return c.resolveNamedType(imported, name)
						}
					}
				}
			}
		}
	}
	if kind, ok := universalKeywords[name]; ok {
		return c.buildNode(module, &schema.TypeDescriptor{Kind: kind}, "")
	}
	return nil, &asn1.UnknownTypeError{TypeName: name}
}

// universalKeywords maps the bare ASN.1 keyword spellings used in §3 to their
// TypeKind, for resolving a sub-type name that does not refer to a
// user-defined type (e.g. an ANY DEFINED BY choice naming "NULL" directly).
var universalKeywords = map[string]schema.TypeKind{
	"BOOLEAN":            schema.Boolean,
	"INTEGER":            schema.Integer,
	"BIT STRING":         schema.BitString,
	"OCTET STRING":       schema.OctetString,
	"NULL":               schema.Null,
	"OBJECT IDENTIFIER":  schema.ObjectIdentifier,
	"REAL":               schema.Real,
	"UTF8String":         schema.UTF8String,
	"NumericString":      schema.NumericString,
	"PrintableString":    schema.PrintableString,
	"IA5String":          schema.IA5String,
	"VisibleString":      schema.VisibleString,
	"UniversalString":    schema.UniversalString,
	"BMPString":          schema.BMPString,
	"TeletexString":      schema.TeletexString,
	"UTCTime":            schema.UTCTime,
	"GeneralizedTime":    schema.GeneralizedTime,
}
