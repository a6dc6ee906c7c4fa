package abi

import (
	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/isa"
)

// BuildDispatch walks a decoded instruction stream looking for the
// selector dispatcher every solc contract opens with: a PUSH4 literal
// selector, an EQ comparison against CALLDATALOAD/SHR-derived calldata,
// and a PUSH<dest> JUMPI pair routing a match to the function's entry
// block. Since solc's exact shuffle sequence has changed across
// compiler versions, other opcodes may sit in between, within fixed
// bounds: the EQ must come within six instructions after the PUSH4,
// the destination PUSH within three after the EQ, and the JUMPI within
// two after that PUSH.
func BuildDispatch(instrs []isa.Instruction) Dispatch {
	push4 := isa.OpPush1 + 3 // PUSH4: selectors are always the 4-byte form
	dispatch := make(Dispatch)
	for i, in := range instrs {
		if in.Op != push4 {
			continue
		}
		var selector [4]byte
		copy(selector[:], in.Immediate)

		eqIdx := scanForward(instrs, i+1, isa.OpEq, 6)
		if eqIdx < 0 {
			continue
		}
		destIdx := firstPushAfter(instrs, eqIdx+1, 3)
		if destIdx < 0 {
			continue
		}
		jumpiIdx := scanForward(instrs, destIdx+1, isa.OpJumpI, 2)
		if jumpiIdx < 0 {
			continue
		}

		dest := int(decodeImmediate(instrs[destIdx].Immediate))
		if _, exists := dispatch[selector]; exists {
			continue
		}
		dispatch[selector] = dest
	}
	logrus.WithFields(logrus.Fields{"stage": "abi", "entries": len(dispatch)}).Debug("built selector dispatch table")
	return dispatch
}

// scanForward returns the index of the first instruction at or after
// from whose opcode is want, scanning at most within window
// instructions, or -1 if not found within that bound.
func scanForward(instrs []isa.Instruction, from int, want isa.Opcode, window int) int {
	for i := from; i < len(instrs) && i < from+window; i++ {
		if instrs[i].Op == want {
			return i
		}
	}
	return -1
}

// firstPushAfter returns the index of the first PUSH instruction at or
// after from, within window instructions.
func firstPushAfter(instrs []isa.Instruction, from, window int) int {
	for i := from; i < len(instrs) && i < from+window; i++ {
		if instrs[i].Op.IsPush() {
			return i
		}
	}
	return -1
}

// decodeImmediate reads a big-endian PUSH immediate as an int; dispatch
// destinations are code offsets, always far smaller than int's range.
func decodeImmediate(imm []byte) int64 {
	var v int64
	for _, b := range imm {
		v = v<<8 | int64(b)
	}
	return v
}
