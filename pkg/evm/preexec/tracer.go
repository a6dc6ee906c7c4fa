package preexec

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// execTrace is the only student-written glue between the real EVM
// runtime.Call and the Snapshot the rest of the pipeline consumes: it
// watches the one account under pre-execution via tracing.Hooks and
// records its final storage plus any documented semantic gap the
// constructor's bytecode exercised (spec.md §9 — folded environment
// opcodes, GAS/GASLIMIT).
type execTrace struct {
	addr    common.Address
	storage map[[32]byte]uint256.Int
	warned  map[string]bool
	// sawReturn records whether RETURN actually ran, distinguishing an
	// explicit empty runtime segment (RETURN of zero length) from a
	// constructor that never RETURNed at all — the EVM represents both
	// as nil/empty return data, so Run needs this flag to tell them
	// apart before deciding whether to fall back to initCode.
	sawReturn bool
}

func newExecTrace(addr common.Address) *execTrace {
	return &execTrace{
		addr:    addr,
		storage: make(map[[32]byte]uint256.Int),
		warned:  make(map[string]bool),
	}
}

func (t *execTrace) hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnStorageChange: t.onStorageChange,
		OnOpcode:        t.onOpcode,
	}
}

// onStorageChange keeps the last value written to every slot of the
// account under pre-execution; a constructor that writes a slot more
// than once leaves only the final value, matching Storage's purpose as
// the Move module's initial storage.
func (t *execTrace) onStorageChange(addr common.Address, slot common.Hash, _, newVal common.Hash) {
	if addr != t.addr {
		return
	}
	var v uint256.Int
	v.SetBytes(newVal.Bytes())
	t.storage[slot] = v
}

// onOpcode flags the opcodes spec.md §9 documents as having no faithful
// meaning during constructor pre-execution: there is no real chain
// context, so environment reads fold to whatever the EVM itself returns
// for a zero-valued context, and GAS/GASLIMIT report the oversized
// allowance Run configures rather than a real gas model.
func (t *execTrace) onOpcode(_ uint64, op byte, _, _ uint64, _ tracing.OpContext, _ []byte, _ int, err error) {
	if err != nil {
		return
	}
	if vm.OpCode(op) == vm.RETURN {
		t.sawReturn = true
	}
	switch vm.OpCode(op) {
	case vm.CALLVALUE, vm.BALANCE, vm.ORIGIN, vm.GASPRICE, vm.COINBASE,
		vm.DIFFICULTY, vm.NUMBER, vm.TIMESTAMP, vm.BLOCKHASH:
		t.warn("environment opcode " + vm.OpCode(op).String() + " folded to 0 during constructor pre-execution")
	case vm.GAS, vm.GASLIMIT:
		t.warn("GAS/GASLIMIT folded to U256::MAX during constructor pre-execution")
	}
}

func (t *execTrace) warn(msg string) {
	if !t.warned[msg] {
		t.warned[msg] = true
		logrus.WithFields(logrus.Fields{"stage": component}).Warn(msg)
	}
}

func (t *execTrace) warningList() []string {
	out := make([]string, 0, len(t.warned))
	for w := range t.warned {
		out = append(out, w)
	}
	return out
}
