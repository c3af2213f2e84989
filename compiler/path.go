package compiler

import "github.com/FabianEckermann/asn1tools"

// withPath prepends name to err's location trail, if err is one of the
// path-carrying error types (§7). Any other error is returned unchanged.
func withPath(err error, name string) error {
	switch e := err.(type) {
	case *asn1.EncodeError:
		return &asn1.EncodeError{Path: append([]string{name}, e.Path...), Message: e.Message}
	case *asn1.DecodeTagError:
		return &asn1.DecodeTagError{Path: append([]string{name}, e.Path...), TypeName: e.TypeName, Expected: e.Expected, Actual: e.Actual, Offset: e.Offset}
	case *asn1.DecodeError:
		return &asn1.DecodeError{Path: append([]string{name}, e.Path...), Message: e.Message}
	default:
		return err
	}
}
