// Package parser implements the lexer and recursive-descent parser described
// in §4.1 of the design document: it recognizes the subset of ASN.1 (Rec.
// ITU-T X.680) module syntax needed to build a [schema.Dictionary], which the
// compiler package then resolves into a codec node graph.
//
// Supported constructs: module headers with an optional default tagging mode,
// type and value assignments, SEQUENCE/SET member lists including OPTIONAL,
// DEFAULT, COMPONENTS OF and the extensibility marker "...", CHOICE, SEQUENCE
// OF/SET OF, bracketed tags with an optional IMPLICIT/EXPLICIT qualifier, ANY
// and ANY DEFINED BY, restricted-to and size constraints, and IMPORTS.
// Constructs outside this subset (e.g. object classes, parameterized types)
// produce a distinct "unsupported" error rather than being silently accepted.
package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
)

// parseError is returned for both syntax errors and unsupported constructs. It
// implements error and carries the position of the offending token.
type parseError struct {
	module       string
	line, column int
	msg          string
	unsupported  bool
}

func (e *parseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: %s", e.module, e.line, e.column, e.msg)
}

// Unsupported reports whether e was raised for a recognized-but-unimplemented
// construct rather than a plain syntax error.
func (e *parseError) Unsupported() bool { return e.unsupported }

// Unwrap returns [asn1.ErrUnsupported] for an unsupported-construct error and
// nil for a plain syntax error.
func (e *parseError) Unwrap() error {
	if e.unsupported {
		return asn1.ErrUnsupported
	}
	return nil
}

// ParseModule parses a single ASN.1 module from src and returns it, keyed by
// its own name, as a one-entry [schema.Dictionary]. Use [ParseString] to parse
// a source string containing several modules back to back.
func ParseModule(src string) (schema.Dictionary, error) {
	dict, err := ParseString(src)
	if err != nil {
		return nil, err
	}
	if len(dict) != 1 {
		return nil, fmt.Errorf("parser: expected exactly one module, found %d", len(dict))
	}
	return dict, nil
}

// ParseString parses zero or more ASN.1 modules from src, as would result from
// concatenating a set of schema files, and returns the resulting
// [schema.Dictionary]. This is the shared core behind the compile_string and
// compile_files convenience wrappers (§1; those wrappers themselves, and
// reading schema files from disk, are outside this package's scope).
func ParseString(src string) (schema.Dictionary, error) {
	p := &parser{lex: newLexer("", src)}
	dict := schema.Dictionary{}
	if err := p.advance(); err != nil {
		return nil, err
	}
	for p.tok.kind != tokEOF {
		mod, err := p.parseModule()
		if err != nil {
			return nil, err
		}
		dict[mod.Name] = mod
	}
	return dict, nil
}

// parser holds the recursive-descent parser's state: the lexer producing
// tokens and a one-token lookahead buffer.
type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errorf(format string, args ...any) *parseError {
	return &parseError{module: p.lex.moduleName, line: p.tok.line, column: p.tok.column, msg: fmt.Sprintf(format, args...)}
}

func (p *parser) unsupportedf(format string, args ...any) *parseError {
	e := p.errorf(format, args...)
	e.unsupported = true
	return e
}

// expectPunct consumes the current token if it is the punctuation tok, or
// returns a syntax error.
func (p *parser) expectPunct(text string) error {
	if p.tok.kind != tokPunct || p.tok.text != text {
		return p.errorf("expected %q, got %q", text, p.tok.text)
	}
	return p.advance()
}

func (p *parser) isPunct(text string) bool {
	return p.tok.kind == tokPunct && p.tok.text == text
}

func (p *parser) expectTypeRef() (string, error) {
	if p.tok.kind != tokTypeRef {
		return "", p.errorf("expected a type reference, got %q", p.tok.text)
	}
	name := p.tok.text
	return name, p.advance()
}

func (p *parser) expectValueRef() (string, error) {
	if p.tok.kind != tokValueRef {
		return "", p.errorf("expected an identifier, got %q", p.tok.text)
	}
	name := p.tok.text
	return name, p.advance()
}

func (p *parser) expectKeyword(kw string) error {
	if (p.tok.kind != tokTypeRef && p.tok.kind != tokValueRef && p.tok.kind != tokIdent) || p.tok.text != kw {
		return p.errorf("expected %q, got %q", kw, p.tok.text)
	}
	return p.advance()
}

func (p *parser) isKeyword(kw string) bool {
	return (p.tok.kind == tokTypeRef || p.tok.kind == tokValueRef || p.tok.kind == tokIdent) && p.tok.text == kw
}

// parseModule parses a single `<Name> DEFINITIONS ... ::= BEGIN ... END`
// module.
func (p *parser) parseModule() (*schema.Module, error) {
	name, err := p.expectTypeRef()
	if err != nil {
		return nil, err
	}
	p.lex.moduleName = name
	mod := &schema.Module{
		Name:    name,
		Types:   map[string]*schema.TypeDescriptor{},
		Values:  map[string]*schema.ValueAssignment{},
		Imports: map[string][]string{},
	}

	if err := p.expectKeyword("DEFINITIONS"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("EXPLICIT"):
		mod.Tags = schema.Explicit
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isKeyword("IMPLICIT"):
		mod.Tags = schema.Implicit
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isKeyword("AUTOMATIC"):
		mod.Tags = schema.Automatic
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.isKeyword("TAGS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.isKeyword("EXTENSIBILITY") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("IMPLIED"); err != nil {
			return nil, err
		}
		mod.ExtensibilityImplied = true
	}
	if err := p.expectPunct("::="); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("BEGIN"); err != nil {
		return nil, err
	}

	if p.isKeyword("IMPORTS") {
		if err := p.parseImports(mod); err != nil {
			return nil, err
		}
	}

	for !p.isKeyword("END") {
		if p.tok.kind == tokEOF {
			return nil, p.errorf("unexpected end of input, expected END")
		}
		if err := p.parseAssignment(mod); err != nil {
			return nil, err
		}
	}
	return mod, p.advance()
}

// parseImports parses `IMPORTS Sym1, Sym2 FROM Module1 Sym3 FROM Module2;`.
func (p *parser) parseImports(mod *schema.Module) error {
	if err := p.advance(); err != nil { // IMPORTS
		return err
	}
	for !p.isPunct(";") {
		var symbols []string
		for p.tok.kind == tokTypeRef || p.tok.kind == tokValueRef {
			symbols = append(symbols, p.tok.text)
			if err := p.advance(); err != nil {
				return err
			}
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return err
				}
			}
		}
		if err := p.expectKeyword("FROM"); err != nil {
			return err
		}
		from, err := p.expectTypeRef()
		if err != nil {
			return err
		}
		mod.Imports[from] = append(mod.Imports[from], symbols...)
	}
	return p.advance() // ;
}

// parseAssignment parses either a type assignment (`Name ::= <type>`) or a
// value assignment (`name Type ::= <value>`).
func (p *parser) parseAssignment(mod *schema.Module) error {
	switch p.tok.kind {
	case tokTypeRef:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("::="); err != nil {
			return err
		}
		typ, err := p.parseType()
		if err != nil {
			return err
		}
		if _, exists := mod.Types[name]; exists {
			return p.errorf("duplicate type assignment %q", name)
		}
		mod.Types[name] = typ
		return nil
	case tokValueRef:
		name := p.tok.text
		if err := p.advance(); err != nil {
			return err
		}
		typ, err := p.parseType()
		if err != nil {
			return err
		}
		if err := p.expectPunct("::="); err != nil {
			return err
		}
		lit, err := p.parseValue(typ)
		if err != nil {
			return err
		}
		mod.Values[name] = &schema.ValueAssignment{Type: typ, Literal: lit}
		return nil
	default:
		return p.errorf("expected a type or value assignment, got %q", p.tok.text)
	}
}

// parseType parses a single ASN.1 type expression, including an optional
// leading tag.
func (p *parser) parseType() (*schema.TypeDescriptor, error) {
	var tag *schema.Tag
	if p.isPunct("[") {
		t, err := p.parseTag()
		if err != nil {
			return nil, err
		}
		tag = t
	}

	typ, err := p.parseUntaggedType()
	if err != nil {
		return nil, err
	}
	typ.Tag = tag

	for {
		switch {
		case p.isKeyword("DEFINED"):
			if typ.Kind != schema.Any {
				return nil, p.unsupportedf("DEFINED BY is only supported on ANY")
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			field, err := p.expectValueRef()
			if err != nil {
				return nil, err
			}
			typ.Kind = schema.AnyDefinedBy
			typ.DefinedByField = field
		case p.isPunct("("):
			if err := p.parseConstraint(typ); err != nil {
				return nil, err
			}
		default:
			return typ, nil
		}
	}
}

// parseTag parses `[ [class] number ]` followed by an optional
// IMPLICIT/EXPLICIT keyword.
func (p *parser) parseTag() (*schema.Tag, error) {
	if err := p.expectPunct("["); err != nil {
		return nil, err
	}
	tag := &schema.Tag{Class: schema.ClassContextSpecific}
	switch {
	case p.isKeyword("UNIVERSAL"):
		tag.Class = schema.ClassUniversal
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isKeyword("APPLICATION"):
		tag.Class = schema.ClassApplication
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isKeyword("PRIVATE"):
		tag.Class = schema.ClassPrivate
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	if p.tok.kind != tokNumber {
		return nil, p.errorf("expected a tag number, got %q", p.tok.text)
	}
	num, err := strconv.ParseUint(p.tok.text, 10, 64)
	if err != nil {
		return nil, p.errorf("invalid tag number %q", p.tok.text)
	}
	tag.Number = uint(num)
	if err := p.advance(); err != nil {
		return nil, err
	}
	if err := p.expectPunct("]"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("IMPLICIT"):
		tag.Kind = schema.TagImplicit
		return tag, p.advance()
	case p.isKeyword("EXPLICIT"):
		tag.Kind = schema.TagExplicit
		return tag, p.advance()
	default:
		tag.Kind = schema.TagDefault
		return tag, nil
	}
}

// universalTypes maps a bare keyword to the TypeKind it denotes, for the types
// that are a single keyword (as opposed to "SEQUENCE OF" etc. or the
// multi-keyword "BIT STRING"/"OBJECT IDENTIFIER"/"SEQUENCE OF"/"SET OF").
var universalTypes = map[string]schema.TypeKind{
	"BOOLEAN":         schema.Boolean,
	"INTEGER":         schema.Integer,
	"NULL":            schema.Null,
	"REAL":            schema.Real,
	"ENUMERATED":      schema.Enumerated,
	"UTF8String":      schema.UTF8String,
	"NumericString":   schema.NumericString,
	"PrintableString": schema.PrintableString,
	"IA5String":       schema.IA5String,
	"VisibleString":   schema.VisibleString,
	"UniversalString": schema.UniversalString,
	"BMPString":       schema.BMPString,
	"TeletexString":   schema.TeletexString,
	"UTCTime":         schema.UTCTime,
	"GeneralizedTime": schema.GeneralizedTime,
	"ANY":             schema.Any,
}

func (p *parser) parseUntaggedType() (*schema.TypeDescriptor, error) {
	switch {
	case p.isKeyword("BIT"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("STRING"); err != nil {
			return nil, err
		}
		return &schema.TypeDescriptor{Kind: schema.BitString}, nil
	case p.isKeyword("OCTET"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("STRING"); err != nil {
			return nil, err
		}
		return &schema.TypeDescriptor{Kind: schema.OctetString}, nil
	case p.isKeyword("OBJECT"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("IDENTIFIER"); err != nil {
			return nil, err
		}
		return &schema.TypeDescriptor{Kind: schema.ObjectIdentifier}, nil
	case p.isKeyword("SEQUENCE"):
		return p.parseSequenceOrSet(schema.Sequence, schema.SequenceOf)
	case p.isKeyword("SET"):
		return p.parseSequenceOrSet(schema.Set, schema.SetOf)
	case p.isKeyword("CHOICE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		members, err := p.parseMemberList()
		if err != nil {
			return nil, err
		}
		return &schema.TypeDescriptor{Kind: schema.Choice, Members: members}, nil
	case p.tok.kind == tokTypeRef:
		name := p.tok.text
		if kind, ok := universalTypes[name]; ok {
			if err := p.advance(); err != nil {
				return nil, err
			}
			typ := &schema.TypeDescriptor{Kind: kind}
			if kind == schema.Enumerated {
				values, err := p.parseEnumeratedValues()
				if err != nil {
					return nil, err
				}
				typ.Values = values
			}
			return typ, nil
		}
		// A reference to a user-defined type. A module-qualified
		// "Module.Type" reference is not recognized; the compiler resolves
		// the bare name through the module's own types and its IMPORTS.
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &schema.TypeDescriptor{Kind: schema.Reference, ReferenceName: name}, nil
	default:
		return nil, p.unsupportedf("unsupported type expression starting with %q", p.tok.text)
	}
}

// parseEnumeratedValues parses the `{ a(1), b(2), ... }` body of an ENUMERATED
// type.
func (p *parser) parseEnumeratedValues() (map[int]string, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	values := map[int]string{}
	for !p.isPunct("}") {
		name, err := p.expectValueRef()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		if p.tok.kind != tokNumber {
			return nil, p.errorf("expected an integer, got %q", p.tok.text)
		}
		num, err := strconv.Atoi(p.tok.text)
		if err != nil {
			return nil, p.errorf("invalid enumerated value %q", p.tok.text)
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		values[num] = name
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return values, p.advance()
}

// parseSequenceOrSet parses `SEQUENCE { ... }`/`SET { ... }` and their `OF`
// variants.
func (p *parser) parseSequenceOrSet(kind, ofKind schema.TypeKind) (*schema.TypeDescriptor, error) {
	if err := p.advance(); err != nil { // SEQUENCE / SET
		return nil, err
	}
	if p.isKeyword("OF") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &schema.TypeDescriptor{Kind: ofKind, Element: elem}, nil
	}
	members, err := p.parseMemberList()
	if err != nil {
		return nil, err
	}
	return &schema.TypeDescriptor{Kind: kind, Members: members}, nil
}

// parseMemberList parses the `{ member, member, ..., '...' }` body shared by
// SEQUENCE, SET and CHOICE.
func (p *parser) parseMemberList() ([]schema.Member, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	var members []schema.Member
	for !p.isPunct("}") {
		if p.isPunct("...") {
			members = append(members, schema.Member{ExtensionEnd: true})
			if err := p.advance(); err != nil {
				return nil, err
			}
		} else if p.isKeyword("COMPONENTS") {
			m, err := p.parseComponentsOf()
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		} else {
			m, err := p.parseMember()
			if err != nil {
				return nil, err
			}
			members = append(members, m)
		}
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return members, p.advance()
}

// parseComponentsOf parses `COMPONENTS OF <Type>`, a member-list entry whose
// referenced SEQUENCE/SET's own components are spliced in at this position
// (resolved later by the compiler, once every named type has a stub).
func (p *parser) parseComponentsOf() (schema.Member, error) {
	if err := p.advance(); err != nil { // COMPONENTS
		return schema.Member{}, err
	}
	if err := p.expectKeyword("OF"); err != nil {
		return schema.Member{}, err
	}
	name, err := p.expectTypeRef()
	if err != nil {
		return schema.Member{}, err
	}
	return schema.Member{ComponentsOf: name}, nil
}

func (p *parser) parseMember() (schema.Member, error) {
	name, err := p.expectValueRef()
	if err != nil {
		return schema.Member{}, err
	}
	typ, err := p.parseType()
	if err != nil {
		return schema.Member{}, err
	}
	m := schema.Member{Name: name, Type: typ}
	switch {
	case p.isKeyword("OPTIONAL"):
		m.Optional = true
		return m, p.advance()
	case p.isKeyword("DEFAULT"):
		if err := p.advance(); err != nil {
			return schema.Member{}, err
		}
		lit, err := p.parseValue(typ)
		if err != nil {
			return schema.Member{}, err
		}
		m.HasDefault = true
		m.Default = lit
		return m, nil
	default:
		return m, nil
	}
}

// parseConstraint parses a `(...)` restricted-to or size constraint and
// records it on typ. These are purely informational (§1): they are recorded
// but never enforced on encode.
func (p *parser) parseConstraint(typ *schema.TypeDescriptor) error {
	if err := p.expectPunct("("); err != nil {
		return err
	}
	if p.isKeyword("SIZE") {
		if err := p.advance(); err != nil {
			return err
		}
		if err := p.expectPunct("("); err != nil {
			return err
		}
	}
	for !p.isPunct(")") {
		lo, err := p.parseConstraintBound()
		if err != nil {
			return err
		}
		hi := lo
		if p.isPunct("..") {
			if err := p.advance(); err != nil {
				return err
			}
			hi, err = p.parseConstraintBound()
			if err != nil {
				return err
			}
		}
		typ.Size = append(typ.Size, schema.SizeConstraint{Low: int(lo), High: int(hi)})
		typ.RestrictedTo = append(typ.RestrictedTo, schema.ValueRange{Low: lo, High: hi})
		if p.isPunct(",") || p.isPunct("|") {
			if err := p.advance(); err != nil {
				return err
			}
		}
	}
	if err := p.advance(); err != nil { // closing )
		return err
	}
	if p.isPunct(")") {
		return p.advance() // SIZE(...)'s outer paren
	}
	return nil
}

func (p *parser) parseConstraintBound() (int64, error) {
	if p.tok.kind != tokNumber {
		return 0, p.errorf("expected a number, got %q", p.tok.text)
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(p.tok.text, "."), 10, 64)
	if err != nil {
		return 0, p.errorf("invalid constraint bound %q", p.tok.text)
	}
	return n, p.advance()
}

// parseValue parses a literal value of the given type, as used for DEFAULT
// members and top-level value assignments.
func (p *parser) parseValue(typ *schema.TypeDescriptor) (any, error) {
	switch {
	case p.isKeyword("TRUE"):
		return true, p.advance()
	case p.isKeyword("FALSE"):
		return false, p.advance()
	case p.isKeyword("NULL"):
		return asn1.Null{}, p.advance()
	case p.tok.kind == tokNumber:
		n, err := strconv.ParseInt(p.tok.text, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer literal %q", p.tok.text)
		}
		return n, p.advance()
	case p.tok.kind == tokString:
		s := p.tok.text
		return s, p.advance()
	case p.tok.kind == tokValueRef && typ != nil && typ.Kind == schema.Enumerated:
		name := p.tok.text
		return name, p.advance()
	default:
		return nil, p.unsupportedf("unsupported value literal %q", p.tok.text)
	}
}
