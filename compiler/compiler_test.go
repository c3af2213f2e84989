package compiler

import (
	"bytes"
	"errors"
	"testing"

	"github.com/FabianEckermann/asn1tools"
	"github.com/FabianEckermann/asn1tools/schema"
)

func strType(k schema.TypeKind) *schema.TypeDescriptor { return &schema.TypeDescriptor{Kind: k} }

func tagged(inner *schema.TypeDescriptor, class schema.Class, number uint, kind schema.TagKind) *schema.TypeDescriptor {
	cp := *inner
	cp.Tag = &schema.Tag{Class: class, Number: number, Kind: kind}
	return &cp
}

func refType(name string) *schema.TypeDescriptor {
	return &schema.TypeDescriptor{Kind: schema.Reference, ReferenceName: name}
}

// TestQuestionSequence covers scenario 1: a simple two-member SEQUENCE.
func TestQuestionSequence(t *testing.T) {
	dict := schema.Dictionary{
		"Question": {
			Name: "Question",
			Types: map[string]*schema.TypeDescriptor{
				"Question": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "id", Type: strType(schema.Integer)},
						{Name: "question", Type: strType(schema.IA5String)},
					},
				},
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := []byte{0x30, 0x0E, 0x02, 0x01, 0x01, 0x16, 0x09, 0x49, 0x73, 0x20, 0x31, 0x2B, 0x31, 0x3D, 0x33, 0x3F}
	value := map[string]any{"id": int64(1), "question": "Is 1+1=3?"}

	got, err := spec.Encode("Question", value)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}

	decoded, err := spec.Decode("Question", want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("Decode returned %T, want map[string]any", decoded)
	}
	if m["id"] != int64(1) || m["question"] != "Is 1+1=3?" {
		t.Errorf("Decode = %+v, want {id:1 question:Is 1+1=3?}", m)
	}
}

// TestSequenceDefault covers scenario 3: an OPTIONAL/DEFAULT member is
// omitted when absent from the user value (not when it equals the default).
func TestSequenceDefault(t *testing.T) {
	dict := schema.Dictionary{
		"Seq2": {
			Name: "Seq2",
			Types: map[string]*schema.TypeDescriptor{
				"Sequence2": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "a", Type: strType(schema.Integer), HasDefault: true, Default: int64(0)},
					},
				},
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	absent, err := spec.Encode("Sequence2", map[string]any{})
	if err != nil {
		t.Fatalf("Encode(absent): %v", err)
	}
	if want := []byte{0x30, 0x00}; !bytes.Equal(absent, want) {
		t.Errorf("Encode(absent) = % X, want % X", absent, want)
	}

	present, err := spec.Encode("Sequence2", map[string]any{"a": int64(1)})
	if err != nil {
		t.Fatalf("Encode(present): %v", err)
	}
	if want := []byte{0x30, 0x03, 0x02, 0x01, 0x01}; !bytes.Equal(present, want) {
		t.Errorf("Encode(present) = % X, want % X", present, want)
	}

	decodedAbsent, err := spec.Decode("Sequence2", absent)
	if err != nil {
		t.Fatalf("Decode(absent): %v", err)
	}
	if got := decodedAbsent.(map[string]any)["a"]; got != int64(0) {
		t.Errorf("Decode(absent)[a] = %v, want 0 (the default)", got)
	}

	decodedPresent, err := spec.Decode("Sequence2", present)
	if err != nil {
		t.Fatalf("Decode(present): %v", err)
	}
	if got := decodedPresent.(map[string]any)["a"]; got != int64(1) {
		t.Errorf("Decode(present)[a] = %v, want 1", got)
	}
}

// TestExplicitVsImplicitTag covers scenario 4.
func TestExplicitVsImplicitTag(t *testing.T) {
	dict := schema.Dictionary{
		"Foo": {
			Name: "Foo",
			Types: map[string]*schema.TypeDescriptor{
				"FooExplicit": tagged(strType(schema.Integer), schema.ClassContextSpecific, 2, schema.TagExplicit),
				"FooImplicit": tagged(strType(schema.Integer), schema.ClassContextSpecific, 2, schema.TagImplicit),
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	explicit, err := spec.Encode("FooExplicit", int64(1))
	if err != nil {
		t.Fatalf("Encode(explicit): %v", err)
	}
	if want := []byte{0xA2, 0x03, 0x02, 0x01, 0x01}; !bytes.Equal(explicit, want) {
		t.Errorf("Encode(explicit) = % X, want % X", explicit, want)
	}

	implicit, err := spec.Encode("FooImplicit", int64(1))
	if err != nil {
		t.Fatalf("Encode(implicit): %v", err)
	}
	if want := []byte{0x82, 0x01, 0x01}; !bytes.Equal(implicit, want) {
		t.Errorf("Encode(implicit) = % X, want % X", implicit, want)
	}

	if v, err := spec.Decode("FooExplicit", explicit); err != nil || v != int64(1) {
		t.Errorf("Decode(explicit) = %v, %v, want 1, nil", v, err)
	}
	if v, err := spec.Decode("FooImplicit", implicit); err != nil || v != int64(1) {
		t.Errorf("Decode(implicit) = %v, %v, want 1, nil", v, err)
	}
}

// TestNestedExplicitTagging covers scenario 5, grounded on the OUTER/INNER
// fixture from the corpus's own nested-tag regression test: INNERSEQ has a
// single member tagged [21], wrapped by INNER ::= [APPLICATION 20] INNERSEQ;
// OUTERSEQ has members tagged [11] and [12], wrapped by
// OUTER ::= [APPLICATION 10] OUTERSEQ. The module uses EXPLICIT tagging by
// default, so every member tag (and both APPLICATION wrappers) add a layer
// rather than replacing the underlying INTEGER/SEQUENCE tag.
func TestNestedExplicitTagging(t *testing.T) {
	dict := schema.Dictionary{
		"TESTCASE": {
			Name: "TESTCASE",
			Tags: schema.Explicit,
			Types: map[string]*schema.TypeDescriptor{
				"INNERSEQ": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "innernumber", Type: tagged(strType(schema.Integer), schema.ClassContextSpecific, 21, schema.TagDefault)},
					},
				},
				"INNER": tagged(refType("INNERSEQ"), schema.ClassApplication, 20, schema.TagDefault),
				"OUTERSEQ": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "outernumber", Type: tagged(strType(schema.Integer), schema.ClassContextSpecific, 11, schema.TagDefault)},
						{Name: "inner", Type: tagged(refType("INNER"), schema.ClassContextSpecific, 12, schema.TagDefault)},
					},
				},
				"OUTER": tagged(refType("OUTERSEQ"), schema.ClassApplication, 10, schema.TagDefault),
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := []byte{
		0x6A, 0x12, 0x30, 0x10, 0xAB, 0x03, 0x02, 0x01, 0x17, 0xAC, 0x09, 0x74, 0x07, 0x30,
		0x05, 0xB5, 0x03, 0x02, 0x01, 0x2A,
	}
	value := map[string]any{
		"outernumber": int64(23),
		"inner": map[string]any{
			"innernumber": int64(42),
		},
	}

	got, err := spec.Encode("OUTER", value)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}

	decoded, err := spec.Decode("OUTER", want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m := decoded.(map[string]any)
	if m["outernumber"] != int64(23) {
		t.Errorf("outernumber = %v, want 23", m["outernumber"])
	}
	inner := m["inner"].(map[string]any)
	if inner["innernumber"] != int64(42) {
		t.Errorf("innernumber = %v, want 42", inner["innernumber"])
	}
}

// TestAnyDefinedBy covers scenario 6, grounded on the corpus's ANY DEFINED BY
// integer-discriminator fixture.
func TestAnyDefinedBy(t *testing.T) {
	dict := schema.Dictionary{
		"Foo": {
			Name: "Foo",
			Types: map[string]*schema.TypeDescriptor{
				"Fie": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "bar", Type: strType(schema.Integer)},
						{Name: "fum", Type: &schema.TypeDescriptor{Kind: schema.AnyDefinedBy, DefinedByField: "bar"}},
					},
				},
			},
		},
	}
	// Keys are plain ints, as a caller would naturally write them; the
	// compiler must normalize them to line up with the int64 discriminator
	// values produced by decoding an INTEGER sibling field.
	choices := map[AnyDefinedByKey]map[any]string{
		{Module: "Foo", Type: "Fie", Field: "fum"}: {
			0: "NULL",
			1: "INTEGER",
		},
	}
	spec, err := Compile(dict, asn1.BER, choices)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	nullCase := map[string]any{"bar": int64(0), "fum": asn1.Null{}}
	wantNull := []byte{0x30, 0x05, 0x02, 0x01, 0x00, 0x05, 0x00}
	got, err := spec.Encode("Fie", nullCase)
	if err != nil {
		t.Fatalf("Encode(null case): %v", err)
	}
	if !bytes.Equal(got, wantNull) {
		t.Errorf("Encode(null case) = % X, want % X", got, wantNull)
	}
	decoded, err := spec.Decode("Fie", wantNull)
	if err != nil {
		t.Fatalf("Decode(null case): %v", err)
	}
	if m := decoded.(map[string]any); m["bar"] != int64(0) || m["fum"] != (asn1.Null{}) {
		t.Errorf("Decode(null case) = %+v", m)
	}

	intCase := map[string]any{"bar": int64(1), "fum": int64(5)}
	wantInt := []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x05}
	got, err = spec.Encode("Fie", intCase)
	if err != nil {
		t.Fatalf("Encode(int case): %v", err)
	}
	if !bytes.Equal(got, wantInt) {
		t.Errorf("Encode(int case) = % X, want % X", got, wantInt)
	}
	decoded, err = spec.Decode("Fie", wantInt)
	if err != nil {
		t.Fatalf("Decode(int case): %v", err)
	}
	if m := decoded.(map[string]any); m["bar"] != int64(1) || m["fum"] != int64(5) {
		t.Errorf("Decode(int case) = %+v", m)
	}

	unknownCase := map[string]any{"bar": int64(2), "fum": int64(5)}
	if _, err := spec.Encode("Fie", unknownCase); err == nil {
		t.Fatal("Encode(unknown discriminator): expected error, got nil")
	} else if _, ok := asUnknownDiscriminator(err); !ok {
		t.Errorf("Encode(unknown discriminator) error = %v, want UnknownDiscriminatorError", err)
	}

	unknownWire := []byte{0x30, 0x06, 0x02, 0x01, 0x02, 0x02, 0x01, 0x05}
	if _, err := spec.Decode("Fie", unknownWire); err == nil {
		t.Fatal("Decode(unknown discriminator): expected error, got nil")
	} else if _, ok := asUnknownDiscriminator(err); !ok {
		t.Errorf("Decode(unknown discriminator) error = %v, want UnknownDiscriminatorError", err)
	}
}

func asUnknownDiscriminator(err error) (*asn1.UnknownDiscriminatorError, bool) {
	u, ok := err.(*asn1.UnknownDiscriminatorError)
	return u, ok
}

// TestDecodeErrorLocationTrail covers scenario 7: a tag mismatch several
// levels deep in a SEQUENCE reports the full member-name path and the exact
// byte offset of the bad TLV, grounded on the corpus's corrupted-certificate
// regression test (RFC 5280 Certificate/tbsCertificate/issuer at offset 150).
// This schema is a minimal stand-in with the same three-level member shape.
func TestDecodeErrorLocationTrail(t *testing.T) {
	dict := schema.Dictionary{
		"CERT": {
			Name: "CERT",
			Types: map[string]*schema.TypeDescriptor{
				"Certificate": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "tbsCertificate", Type: refType("TBSCertificate")},
					},
				},
				"TBSCertificate": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "version", Type: strType(schema.Integer)},
						{Name: "serialNumber", Type: strType(schema.Integer)},
						{Name: "filler", Type: strType(schema.OctetString)},
						{Name: "issuer", Type: refType("Name")},
					},
				},
				"Name": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "dummy", Type: strType(schema.Integer)},
					},
				},
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	version := tlvBytes(0x02, []byte{0x02})
	serial := tlvBytes(0x02, []byte{0x30, 0x39})
	filler := tlvBytes(0x04, bytes.Repeat([]byte{0xAA}, 134))
	issuer := tlvBytes(0x30, tlvBytes(0x02, []byte{0x07}))

	tbsContent := append(append(append(append([]byte{}, version...), serial...), filler...), issuer...)
	tbs := tlvBytes(0x30, tbsContent)
	cert := tlvBytes(0x30, tbs)

	issuerOffset := bytes.Index(cert, issuer)
	if issuerOffset != 150 {
		t.Fatalf("test fixture construction error: issuer TLV lands at offset %d, want 150", issuerOffset)
	}

	corrupted := append([]byte{}, cert...)
	corrupted[issuerOffset] = 0x31

	_, err = spec.Decode("Certificate", corrupted)
	if err == nil {
		t.Fatal("Decode: expected error, got nil")
	}
	want := "tbsCertificate: issuer: expected SEQUENCE with tag 0x30 but got 0x31 at offset 150"
	if got := err.Error(); got != want {
		t.Errorf("Decode error = %q, want %q", got, want)
	}
}

// TestDERSetMemberReordering covers §4.5: a SET's members are encoded in
// declaration order under BER, but reordered by ascending tag under DER.
func TestDERSetMemberReordering(t *testing.T) {
	dict := schema.Dictionary{
		"Pair": {
			Name: "Pair",
			Types: map[string]*schema.TypeDescriptor{
				"Pair": {
					Kind: schema.Set,
					Members: []schema.Member{
						{Name: "second", Type: tagged(strType(schema.Integer), schema.ClassContextSpecific, 5, schema.TagImplicit)},
						{Name: "first", Type: tagged(strType(schema.Integer), schema.ClassContextSpecific, 2, schema.TagImplicit)},
					},
				},
			},
		},
	}
	value := map[string]any{"first": int64(1), "second": int64(2)}

	ber, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile(BER): %v", err)
	}
	gotBER, err := ber.Encode("Pair", value)
	if err != nil {
		t.Fatalf("Encode(BER): %v", err)
	}
	wantBER := []byte{0x31, 0x06, 0x85, 0x01, 0x02, 0x82, 0x01, 0x01}
	if !bytes.Equal(gotBER, wantBER) {
		t.Errorf("Encode(BER) = % X, want % X (declaration order, unsorted)", gotBER, wantBER)
	}

	der, err := Compile(dict, asn1.DER, nil)
	if err != nil {
		t.Fatalf("Compile(DER): %v", err)
	}
	gotDER, err := der.Encode("Pair", value)
	if err != nil {
		t.Fatalf("Encode(DER): %v", err)
	}
	wantDER := []byte{0x31, 0x06, 0x82, 0x01, 0x01, 0x85, 0x01, 0x02}
	if !bytes.Equal(gotDER, wantDER) {
		t.Errorf("Encode(DER) = % X, want % X (ascending tag order)", gotDER, wantDER)
	}
}

// TestDERRejectsIndefiniteLength covers §4.5: the indefinite length form
// decodes fine under BER but is rejected outright under DER.
func TestDERRejectsIndefiniteLength(t *testing.T) {
	dict := schema.Dictionary{
		"Wrapper": {
			Name: "Wrapper",
			Types: map[string]*schema.TypeDescriptor{
				"Wrapper": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "x", Type: strType(schema.Integer)},
					},
				},
			},
		},
	}
	wire := []byte{0x30, 0x80, 0x02, 0x01, 0x05, 0x00, 0x00}

	ber, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile(BER): %v", err)
	}
	decoded, err := ber.Decode("Wrapper", wire)
	if err != nil {
		t.Fatalf("Decode(BER): %v", err)
	}
	if m := decoded.(map[string]any); m["x"] != int64(5) {
		t.Errorf("Decode(BER) = %+v, want x=5", m)
	}

	der, err := Compile(dict, asn1.DER, nil)
	if err != nil {
		t.Fatalf("Compile(DER): %v", err)
	}
	if _, err := der.Decode("Wrapper", wire); err == nil {
		t.Fatal("Decode(DER): expected error for indefinite length, got nil")
	}
}

// TestDERRejectsTrailingData covers §4.5: trailing bytes after the top-level
// value are ignored under BER but rejected under DER.
func TestDERRejectsTrailingData(t *testing.T) {
	dict := schema.Dictionary{
		"Wrapper": {
			Name: "Wrapper",
			Types: map[string]*schema.TypeDescriptor{
				"Wrapper": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "x", Type: strType(schema.Integer)},
					},
				},
			},
		},
	}

	ber, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile(BER): %v", err)
	}
	wire, err := ber.Encode("Wrapper", map[string]any{"x": int64(5)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	withTrailer := append(append([]byte{}, wire...), 0xFF)

	if _, err := ber.Decode("Wrapper", withTrailer); err != nil {
		t.Errorf("Decode(BER, trailing garbage) = %v, want nil (ignored)", err)
	}

	der, err := Compile(dict, asn1.DER, nil)
	if err != nil {
		t.Fatalf("Compile(DER): %v", err)
	}
	if _, err := der.Decode("Wrapper", withTrailer); err == nil {
		t.Fatal("Decode(DER, trailing garbage): expected error, got nil")
	}
}

// TestUTCTimeAppendsAndStripsZ is grounded on the corpus's own Utctime
// fixture ('010203040506' <-> 17 0d "010203040506Z"): the trailing "Z" is
// appended on encode and stripped on decode, so the Go value itself never
// carries it.
func TestUTCTimeAppendsAndStripsZ(t *testing.T) {
	dict := schema.Dictionary{
		"Time": {
			Name: "Time",
			Types: map[string]*schema.TypeDescriptor{
				"Utctime": strType(schema.UTCTime),
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := append([]byte{0x17, 0x0d}, []byte("010203040506Z")...)
	got, err := spec.Encode("Utctime", "010203040506")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X", got, want)
	}

	decoded, err := spec.Decode("Utctime", want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != "010203040506" {
		t.Errorf("Decode = %q, want %q (no trailing Z)", decoded, "010203040506")
	}
}

// TestAutomaticTagsSkipExtensionMarker covers §4.2, step 3: AUTOMATIC TAGS
// numbers members sequentially among themselves, and the "..." extensibility
// marker does not consume a tag number even though it occupies its own slot
// in the member list.
func TestAutomaticTagsSkipExtensionMarker(t *testing.T) {
	dict := schema.Dictionary{
		"Auto": {
			Name: "Auto",
			Tags: schema.Automatic,
			Types: map[string]*schema.TypeDescriptor{
				"Seq": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "a", Type: strType(schema.Integer)},
						{ExtensionEnd: true},
						{Name: "b", Type: strType(schema.Integer)},
					},
				},
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := []byte{0x30, 0x06, 0x80, 0x01, 0x05, 0x81, 0x01, 0x07}
	got, err := spec.Encode("Seq", map[string]any{"a": int64(5), "b": int64(7)})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Encode = % X, want % X (b tagged [1], not [2])", got, want)
	}

	decoded, err := spec.Decode("Seq", want)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m := decoded.(map[string]any); m["a"] != int64(5) || m["b"] != int64(7) {
		t.Errorf("Decode = %+v, want {a:5 b:7}", m)
	}
}

// TestRecursiveTypeError covers §9: a directly self-recursive type is
// rejected lazily, at encode/decode time, with the same error type on both
// paths so that a caller can errors.As into it either way.
func TestRecursiveTypeError(t *testing.T) {
	dict := schema.Dictionary{
		"M": {
			Name: "M",
			Types: map[string]*schema.TypeDescriptor{
				"Node": {
					Kind: schema.Sequence,
					Members: []schema.Member{
						{Name: "value", Type: strType(schema.Integer)},
						{Name: "next", Type: refType("Node"), Optional: true},
					},
				},
			},
		},
	}
	spec, err := Compile(dict, asn1.BER, nil)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	var recErr *asn1.RecursiveTypeError

	_, encErr := spec.Encode("Node", map[string]any{"value": int64(1)})
	if encErr == nil {
		t.Fatal("Encode: expected error for recursive type, got nil")
	}
	if !errors.As(encErr, &recErr) {
		t.Errorf("Encode error = %v (%T), want errors.As to find *asn1.RecursiveTypeError", encErr, encErr)
	}

	_, decErr := spec.Decode("Node", []byte{0x30, 0x03, 0x02, 0x01, 0x01})
	if decErr == nil {
		t.Fatal("Decode: expected error for recursive type, got nil")
	}
	if !errors.As(decErr, &recErr) {
		t.Errorf("Decode error = %v (%T), want errors.As to find *asn1.RecursiveTypeError", decErr, decErr)
	}
}

// tlvBytes builds a definite-length TLV with a short-form or long-form
// length, matching the framing tlv.AppendHeader produces.
func tlvBytes(tag byte, content []byte) []byte {
	n := len(content)
	var length []byte
	if n < 128 {
		length = []byte{byte(n)}
	} else {
		var be []byte
		for n > 0 {
			be = append([]byte{byte(n & 0xff)}, be...)
			n >>= 8
		}
		length = append([]byte{0x80 | byte(len(be))}, be...)
	}
	out := append([]byte{tag}, length...)
	return append(out, content...)
}
