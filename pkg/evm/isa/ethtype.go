package isa

// EthType is the restricted set of ABI-boundary types this translator
// understands. Everything else is rejected by the ABI binder as
// UnsupportedAbiType.
type EthType int

const (
	EthU256 EthType = iota
	EthBool
	EthAddress
	EthBytes
)

// String renders the type name used in error messages and the emitted
// .move interface text.
func (t EthType) String() string {
	switch t {
	case EthU256:
		return "U256"
	case EthBool:
		return "Bool"
	case EthAddress:
		return "Address"
	case EthBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}
