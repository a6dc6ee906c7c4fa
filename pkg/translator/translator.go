// Package translator orchestrates the full EVM-to-Move pipeline: decode,
// block partition, constructor pre-execution, ABI binding, flow tracing,
// HIR/MIR lowering, Move emission, and module assembly, wiring C1
// through C10 together behind one entry point.
package translator

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/abi"
	"github.com/pontem-network/e2m-core/pkg/evm/block"
	"github.com/pontem-network/e2m-core/pkg/evm/decode"
	"github.com/pontem-network/e2m-core/pkg/evm/preexec"
	"github.com/pontem-network/e2m-core/pkg/flow"
	"github.com/pontem-network/e2m-core/pkg/hir"
	"github.com/pontem-network/e2m-core/pkg/mir"
	"github.com/pontem-network/e2m-core/pkg/move/emit"
	"github.com/pontem-network/e2m-core/pkg/move/module"
	"github.com/pontem-network/e2m-core/pkg/move/template"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

const component = "translator"

// Config carries every flag that changes the shape of the emitted
// module (spec.md §6): the ABI boundary conventions and the target
// Move account/module identity.
type Config struct {
	ModuleName string
	// NativeOutput decodes return words into typed Move values at the
	// ABI boundary rather than passing opaque byte slices straight
	// through. NativeInput is carried into mir.Config but no stage reads
	// it: calldata is always read through the request buffer.
	NativeInput  bool
	NativeOutput bool
	// HiddenOutput suppresses a function's return value entirely,
	// keeping only its side effects.
	HiddenOutput bool
	// U128IO narrows 256-bit ABI values to native 128-bit Move integers.
	U128IO bool
}

func (c Config) mirConfig() mir.Config {
	return mir.Config{
		NativeInput:  c.NativeInput,
		NativeOutput: c.NativeOutput,
		HiddenOutput: c.HiddenOutput,
		U128IO:       c.U128IO,
	}
}

// Result is a completed translation: the binary module container, its
// textual interface, and any documented semantic gaps encountered along
// the way (spec.md §9 — folded environment opcodes, GAS/GASLIMIT).
type Result struct {
	Module    *module.Module
	Interface string
	Warnings  []string
}

// Translate runs the full pipeline over hex-encoded deployment bytecode
// and its ABI JSON descriptor, producing one Move module for address.
//
// ctx is checked once before each function is traced and lowered, so a
// host can cancel between functions; the flow tracer and HIR builder do
// not observe it. The pipeline itself is synchronous and spawns no
// goroutines (spec.md §5).
func Translate(ctx context.Context, initCodeHex string, abiJSON []byte, address [20]byte, ctorArgs []byte, cfg Config) (*Result, error) {
	log := logrus.WithFields(logrus.Fields{"stage": component, "module": cfg.ModuleName})
	log.Debug("starting translation")

	initCode, err := hexDecode(initCodeHex)
	if err != nil {
		return nil, err
	}

	snapshot, err := preexec.Run(initCode, preexec.Config{Address: address, CtorArgs: ctorArgs})
	if err != nil {
		return nil, err
	}

	instrs, err := decode.Decode(hex.EncodeToString(snapshot.RuntimeCode))
	if err != nil {
		return nil, err
	}
	prog := block.Build(instrs)

	entries, err := abi.ParseEntries(abiJSON)
	if err != nil {
		return nil, err
	}
	descs, err := abi.Descriptors(entries)
	if err != nil {
		return nil, err
	}
	dispatch := abi.BuildDispatch(instrs)
	entryOffsets, err := abi.Bind(descs, dispatch)
	if err != nil {
		return nil, err
	}

	handles := template.Load()
	binding := template.Bind(moveAddress(address), cfg.ModuleName)
	mod := module.New(binding, handles)

	ctorMir := mir.BuildConstructor(snapshot.Storage)
	ctorCode, err := emit.Emit(ctorMir, mod.Constants, handles)
	if err != nil {
		return nil, err
	}
	mod.AddFunction("constructor", ctorMir, ctorCode, module.VisPrivate)

	warnings := append([]string(nil), snapshot.Warnings...)

	for _, desc := range descs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		entry, ok := entryOffsets[desc.Name]
		if !ok {
			return nil, txerr.New(txerr.MalformedInput, component,
				"no dispatcher entry bound for function "+desc.Name, -1)
		}

		trace, err := flow.Trace(prog, entry)
		if err != nil {
			return nil, err
		}
		hirFn, err := hir.Build(prog, trace, entry, desc.Name, len(desc.Inputs))
		if err != nil {
			return nil, err
		}
		mirFn, err := mir.Lower(hirFn, desc.Inputs, desc.Outputs, cfg.mirConfig())
		if err != nil {
			return nil, err
		}
		code, err := emit.Emit(mirFn, mod.Constants, handles)
		if err != nil {
			return nil, err
		}
		mod.AddFunction(desc.Name, mirFn, code, module.VisPublic)
		warnings = append(warnings, mirFn.Warnings...)
	}

	var iface bytes.Buffer
	if err := module.WriteInterface(&iface, binding, descs, cfg.U128IO); err != nil {
		return nil, err
	}

	log.WithField("functions", len(descs)).Debug("translation complete")
	return &Result{Module: mod, Interface: iface.String(), Warnings: warnings}, nil
}

func hexDecode(s string) ([]byte, error) {
	trimmed := s
	if len(trimmed) >= 2 && trimmed[0] == '0' && (trimmed[1] == 'x' || trimmed[1] == 'X') {
		trimmed = trimmed[2:]
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, txerr.Wrap(txerr.MalformedInput, component, -1, err, "invalid hex init code")
	}
	return raw, nil
}

// moveAddress left-pads a 20-byte EVM-style address into Move's 32-byte
// account address space, the same convention preexec.Config.Address and
// template.Bind expect callers to share.
func moveAddress(addr [20]byte) [32]byte {
	var out [32]byte
	copy(out[12:], addr[:])
	return out
}
