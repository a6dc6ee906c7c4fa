// Package module implements module assembly (spec.md §4.9–§4.10, C10):
// combining the emitter's per-function code units with the bound
// runtime template into one serialized Move module, plus the textual
// ".move" interface the translator emits alongside the binary.
//
// Module is the standard Move container described in spec.md §3:
// identifier pool, address pool, signature pool, constant pool, struct
// and function handles, and per-function code units. It is the only
// mutable structure during C8–C10 and is owned solely by the emitter
// and this package, matching the ownership rule in spec.md §3.
package module

import (
	"github.com/pontem-network/e2m-core/pkg/mir"
	"github.com/pontem-network/e2m-core/pkg/move/emit"
	"github.com/pontem-network/e2m-core/pkg/move/template"
)

// Visibility mirrors Move's function visibility modifiers. Every
// translated ABI entry point is Public; the synthesized constructor is
// Private and invoked only by the publishing transaction.
type Visibility int

const (
	VisPrivate Visibility = iota
	VisPublic
)

// LocalSignature is one function's local-variable type vector —
// mir.Function.Locals reinterpreted as a Move signature token list.
type LocalSignature struct {
	Types []mir.SemType
}

// FunctionHandle names one callable function: its defining module
// (0 for a handle into the bound template, 1 for this module's own
// emitted functions) and its identifier-pool entry.
type FunctionHandle struct {
	ModuleIndex int
	NameIndex   int
	ParamsSig   int
	ReturnsSig  int
}

// FunctionDef is one emitted function's complete code unit.
type FunctionDef struct {
	Handle     int // handle index AddFunction returned, at or above the reserved template range; the FunctionHandles entry sits at this def's position in Functions
	Visibility Visibility
	LocalsSig  int // index into Module.Signatures
	Code       []emit.Instruction
}

// Module is the final container: the bound template plus every emitted
// function, ready for Serialize.
type Module struct {
	SelfAddress [32]byte
	SelfName    string

	Identifiers []string
	Addresses   [][32]byte
	Signatures  []LocalSignature
	Constants   *emit.ConstantPool

	// StructHandles mirrors the template's fixed Memory/Persist/U256
	// handles (spec.md §6); this core never defines a new struct type
	// of its own.
	StructHandles []int

	FunctionHandles []FunctionHandle
	Functions       []FunctionDef

	Handles *template.HandleTable
}

// New creates an empty Module bound to one contract, pre-populated with
// the template's fixed struct handles and the reserved function-handle
// range the emitter's Call instructions index into.
func New(binding template.Binding, handles *template.HandleTable) *Module {
	m := &Module{
		SelfAddress:   binding.SelfAddress,
		SelfName:      binding.ModuleName,
		Identifiers:   []string{binding.ModuleName},
		Addresses:     [][32]byte{binding.SelfAddress},
		Constants:     emit.NewConstantPool(),
		StructHandles: []int{template.MemoryStructHandle, template.PersistStructHandle, template.U256StructHandle},
		Handles:       handles,
	}
	return m
}

// identIndex interns name into the identifier pool, returning its
// index.
func (m *Module) identIndex(name string) int {
	for i, n := range m.Identifiers {
		if n == name {
			return i
		}
	}
	m.Identifiers = append(m.Identifiers, name)
	return len(m.Identifiers) - 1
}

// AddFunction appends one emitted function's code unit, interning its
// name and local signature, and returns the function handle index
// assigned to it — always at or above the template's reserved range
// (spec.md §4.9: "Emitted functions are appended; their handle indices
// follow the template's reserved range").
func (m *Module) AddFunction(name string, fn *mir.Function, code []emit.Instruction, vis Visibility) int {
	sigIdx := len(m.Signatures)
	m.Signatures = append(m.Signatures, LocalSignature{Types: fn.Locals})

	handleIdx := len(m.FunctionHandles)
	if handleIdx < int(m.Handles.NextFreeHandle()) {
		handleIdx = int(m.Handles.NextFreeHandle()) + len(m.Functions)
	}
	m.FunctionHandles = append(m.FunctionHandles, FunctionHandle{
		ModuleIndex: 1,
		NameIndex:   m.identIndex(name),
		ParamsSig:   sigIdx,
		ReturnsSig:  sigIdx,
	})
	m.Functions = append(m.Functions, FunctionDef{
		Handle:     handleIdx,
		Visibility: vis,
		LocalsSig:  sigIdx,
		Code:       code,
	})
	return handleIdx
}
