// Package txerr defines the single error taxonomy used across the
// translation pipeline.
//
// Every pipeline stage, from decoding through module assembly, reports
// failures through one concrete type, *Error: a message plus a
// component/offset pair locating the failure in the input bytecode. Its
// cause is created by github.com/pkg/errors and carries the Go stack at
// the point New or Wrap was called.
package txerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind enumerates the fatal failure categories a translation can report.
// There is no recovery path for any of them: a translation either
// succeeds whole or produces no module at all.
type Kind int

const (
	// MalformedInput covers hex/ABI decode failures and truncated PUSH
	// immediates.
	MalformedInput Kind = iota
	// UnsupportedOpcode is a known-unhandled opcode reached in live code.
	UnsupportedOpcode
	// UnsupportedAbiType is an ABI parameter type this translator has no
	// mapping for.
	UnsupportedAbiType
	// DynamicControlFlow is a jump target the flow tracer could not
	// resolve to a constant block id.
	DynamicControlFlow
	// ConstructorRevert is a revert or abort during constructor
	// pre-execution.
	ConstructorRevert
	// TypeMismatch is an illegal cast requested during MIR lowering.
	TypeMismatch
	// UnresolvedLabel is a branch placeholder the emitter never patched.
	UnresolvedLabel
	// VerifierRejection is a Move bytecode verifier failure.
	VerifierRejection
)

// String renders the kind the way it appears in error text and log
// fields.
func (k Kind) String() string {
	switch k {
	case MalformedInput:
		return "malformed_input"
	case UnsupportedOpcode:
		return "unsupported_opcode"
	case UnsupportedAbiType:
		return "unsupported_abi_type"
	case DynamicControlFlow:
		return "dynamic_control_flow"
	case ConstructorRevert:
		return "constructor_revert"
	case TypeMismatch:
		return "type_mismatch"
	case UnresolvedLabel:
		return "unresolved_label"
	case VerifierRejection:
		return "verifier_rejection"
	default:
		return "unknown"
	}
}

// Error is a fatal translation failure.
//
// Offset is the absolute byte offset into the runtime EVM code segment
// the failure relates to, or -1 when the failure has no single source
// location (e.g. a missing ABI entry). Component is a short pipeline tag
// such as "decoder", "flow", "hir", "mir", "emit".
type Error struct {
	Kind      Kind
	Component string
	Offset    int
	cause     error
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, component, message string, offset int) *Error {
	return &Error{Kind: kind, Component: component, Offset: offset, cause: errors.New(message)}
}

// Wrap builds an *Error that carries an underlying cause, preserving its
// stack via github.com/pkg/errors so a developer can still see where the
// lower-level failure originated.
func Wrap(kind Kind, component string, offset int, cause error, message string) *Error {
	return &Error{Kind: kind, Component: component, Offset: offset, cause: errors.Wrap(cause, message)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s: %s at offset 0x%x: %s", e.Component, e.Kind, e.Offset, e.cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind, e.cause)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As keep working
// across the pkg/errors boundary.
func (e *Error) Unwrap() error { return e.cause }

// IsKind reports whether err is a *Error of the given kind, unwrapping
// through any github.com/pkg/errors wrapping in between.
func IsKind(err error, kind Kind) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}
