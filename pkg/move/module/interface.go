package module

import (
	"fmt"
	"io"

	"github.com/pontem-network/e2m-core/pkg/abi"
	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/move/template"
)

// WriteInterface renders the textual .move interface source that
// documents a translated module's public entry points (spec.md §6,
// "Outputs" bullet 2). It is never parsed back in; it exists purely so
// a human or a downstream publishing tool can see the module's public
// surface without disassembling the binary container.
func WriteInterface(w io.Writer, binding template.Binding, descs []abi.FunctionDescriptor, u128IO bool) error {
	fmt.Fprintf(w, "module 0x%x::%s {\n", binding.SelfAddress, binding.ModuleName)

	if !u128IO && crossesU256Boundary(descs) {
		fmt.Fprintln(w, "    struct U256 has copy, drop, store { bits: vector<u64> }")
		fmt.Fprintln(w)
	}

	for _, d := range descs {
		params := make([]string, 0, len(d.Inputs)+1)
		params = append(params, "account: &signer")
		for i, in := range d.Inputs {
			params = append(params, fmt.Sprintf("arg%d: %s", i, ethTypeName(in, u128IO)))
		}
		ret := ""
		if len(d.Outputs) == 1 {
			ret = ": " + ethTypeName(d.Outputs[0], u128IO)
		} else if len(d.Outputs) > 1 {
			names := make([]string, len(d.Outputs))
			for i, o := range d.Outputs {
				names[i] = ethTypeName(o, u128IO)
			}
			ret = fmt.Sprintf(": (%s)", joinComma(names))
		}
		mut := ""
		if !d.Mutates {
			mut = " /* view */"
		}
		fmt.Fprintf(w, "    public fun %s(%s)%s%s\n", d.Name, joinComma(params), ret, mut)
	}

	fmt.Fprintln(w, "}")
	return nil
}

func crossesU256Boundary(descs []abi.FunctionDescriptor) bool {
	for _, d := range descs {
		for _, t := range d.Inputs {
			if t == isa.EthU256 {
				return true
			}
		}
		for _, t := range d.Outputs {
			if t == isa.EthU256 {
				return true
			}
		}
	}
	return false
}

func ethTypeName(t isa.EthType, u128IO bool) string {
	switch t {
	case isa.EthU256:
		if u128IO {
			return "u128"
		}
		return "U256"
	case isa.EthBool:
		return "bool"
	case isa.EthAddress:
		return "address"
	case isa.EthBytes:
		return "vector<u8>"
	default:
		return "u128"
	}
}

func joinComma(xs []string) string {
	out := ""
	for i, x := range xs {
		if i > 0 {
			out += ", "
		}
		out += x
	}
	return out
}
