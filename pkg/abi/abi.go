// Package abi implements the ABI binder: it decodes the ABI JSON
// descriptor, derives each function's 4-byte selector, maps its
// parameter types to isa.EthType, and pairs the result with the
// dispatcher-resolved entry block once the flow tracer has run.
package abi

import (
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

const component = "abi"

// Param is one ABI-declared input or output parameter.
type Param struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Entry is one element of the ABI JSON array: a function, constructor,
// event, or fallback declaration. Only "function" entries produce a
// FunctionDescriptor; everything else is ignored here (event ABI
// decoding beyond signature extraction is out of scope).
type Entry struct {
	Name            string  `json:"name"`
	Type            string  `json:"type"`
	StateMutability string  `json:"stateMutability"`
	Inputs          []Param `json:"inputs"`
	Outputs         []Param `json:"outputs"`
}

// FunctionDescriptor is one ABI function's selector, name, and typed
// input/output vectors.
type FunctionDescriptor struct {
	Selector [4]byte
	Name     string
	Inputs   []isa.EthType
	Outputs  []isa.EthType
	// Mutates is false for pure/view functions — not used by the core
	// translator directly, but threaded through so the emitted .move
	// interface can annotate read-only entry points.
	Mutates bool
}

// CallDataSize returns the expected calldata length: 4-byte selector
// plus one 32-byte word per input.
func (f FunctionDescriptor) CallDataSize() int { return 32*len(f.Inputs) + 4 }

// ParseEntries decodes the raw ABI JSON array.
func ParseEntries(raw []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, txerr.Wrap(txerr.MalformedInput, component, -1, err, "invalid ABI JSON")
	}
	return entries, nil
}

// mapType maps one ABI type string to isa.EthType. Anything else,
// including tuples and fixed-size arrays, is UnsupportedAbiType.
func mapType(abiType string) (isa.EthType, error) {
	if strings.Contains(abiType, "[") {
		return 0, txerr.New(txerr.UnsupportedAbiType, component, "unsupported ABI type: "+abiType, -1)
	}
	switch {
	case abiType == "bool":
		return isa.EthBool, nil
	case abiType == "address":
		return isa.EthAddress, nil
	case strings.HasPrefix(abiType, "uint"), strings.HasPrefix(abiType, "int"):
		return isa.EthU256, nil
	case abiType == "string", strings.HasPrefix(abiType, "bytes"):
		return isa.EthBytes, nil
	default:
		return 0, txerr.New(txerr.UnsupportedAbiType, component, "unsupported ABI type: "+abiType, -1)
	}
}

func mapTypes(params []Param) ([]isa.EthType, error) {
	out := make([]isa.EthType, 0, len(params))
	for _, p := range params {
		t, err := mapType(p.Type)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// CanonicalSignature renders "name(t1,t2,...)" — the string Selector
// hashes, exactly as solc/abigen derive it.
func CanonicalSignature(name string, inputs []Param) string {
	types := make([]string, len(inputs))
	for i, p := range inputs {
		types[i] = p.Type
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(types, ","))
}

// Selector computes the 4-byte selector: the first four bytes of
// keccak256 over the canonical signature.
func Selector(name string, inputs []Param) [4]byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(CanonicalSignature(name, inputs)))
	sum := h.Sum(nil)
	var sel [4]byte
	copy(sel[:], sum[:4])
	return sel
}

// Descriptors converts every function entry into a FunctionDescriptor,
// skipping constructor/event/fallback/receive entries.
func Descriptors(entries []Entry) ([]FunctionDescriptor, error) {
	var out []FunctionDescriptor
	for _, e := range entries {
		if e.Type != "" && e.Type != "function" {
			continue
		}
		inputs, err := mapTypes(e.Inputs)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", e.Name, err)
		}
		outputs, err := mapTypes(e.Outputs)
		if err != nil {
			return nil, fmt.Errorf("function %q: %w", e.Name, err)
		}
		out = append(out, FunctionDescriptor{
			Selector: Selector(e.Name, e.Inputs),
			Name:     e.Name,
			Inputs:   inputs,
			Outputs:  outputs,
			Mutates:  e.StateMutability != "view" && e.StateMutability != "pure",
		})
	}
	return out, nil
}

// Dispatch is the selector -> entry-block-offset table the ABI binder
// hands to the HIR builder, once the flow tracer has resolved the
// basic-block entry reached after the dispatch table matches a given
// selector.
type Dispatch map[[4]byte]int

// Bind pairs each descriptor with its entry block offset, looking the
// offset up in a dispatch table built by the caller from the decoded
// dispatcher blocks (the literal PUSH4 <selector> EQ PUSH2 <dest> JUMPI
// chain every solc contract opens with).
func Bind(descs []FunctionDescriptor, dispatch Dispatch) (map[string]int, error) {
	out := make(map[string]int, len(descs))
	for _, d := range descs {
		offset, ok := dispatch[d.Selector]
		if !ok {
			return nil, txerr.New(txerr.MalformedInput, component,
				fmt.Sprintf("no dispatcher entry for function %q (selector %x)", d.Name, d.Selector), -1)
		}
		out[d.Name] = offset
	}
	return out, nil
}
