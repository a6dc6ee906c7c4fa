// Package decode implements the decoder: it turns a hex-encoded EVM
// runtime code segment into an ordered, non-restartable sequence of
// isa.Instruction values, stripping any trailing Swarm/IPFS metadata hash
// first.
//
// A cursor walks forward over the byte buffer, one Instruction at a
// time, and every failure is reported with the byte offset it occurred
// at.
package decode

import (
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/isa"
	"github.com/pontem-network/e2m-core/pkg/txerr"
)

const component = "decoder"

// stripMetadata removes the CBOR-ish metadata block solc appends, with
// its 2-byte length suffix, after the Swarm/IPFS metadata, e.g.
// ...a2646970667358221220<34 bytes>64736f6c63<version>0033
// We only need the coarse shape: a trailing length-prefixed block whose
// last two bytes encode its own length.
func stripMetadata(code []byte) []byte {
	if len(code) < 2 {
		return code
	}
	n := len(code)
	length := int(code[n-2])<<8 | int(code[n-1])
	if length <= 0 || length+2 > n {
		return code
	}
	candidate := code[n-length-2 : n-2]
	if len(candidate) >= 4 && strings.Contains(string(candidate), "ipfs") {
		return code[:n-length-2]
	}
	if len(candidate) >= 4 && strings.Contains(string(candidate), "bzzr") {
		return code[:n-length-2]
	}
	return code
}

// Decode parses a hex-encoded (optionally "0x"-prefixed) EVM runtime code
// segment into its instruction sequence, in program order.
//
// Decode fails the whole translation (returns a *txerr.Error of Kind
// MalformedInput) on invalid hex or a PUSH whose immediate runs past the
// end of the buffer — there is no partial result.
func Decode(hexCode string) ([]isa.Instruction, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexCode), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, txerr.Wrap(txerr.MalformedInput, component, -1, err, "invalid hex bytecode")
	}

	code := stripMetadata(raw)
	logrus.WithFields(logrus.Fields{"stage": component, "bytes": len(code)}).Debug("decoding runtime code")

	var out []isa.Instruction
	for pc := 0; pc < len(code); {
		op := isa.Opcode(code[pc])
		in := isa.Instruction{Offset: pc, Op: op}
		if op.IsPush() {
			width := op.PushWidth()
			if pc+1+width > len(code) {
				return nil, txerr.New(txerr.MalformedInput, component,
					"truncated opcode: PUSH immediate exceeds remaining bytes", pc)
			}
			in.Immediate = append([]byte(nil), code[pc+1:pc+1+width]...)
		}
		out = append(out, in)
		pc += in.Len()
	}
	return out, nil
}

// Disassemble renders a decoded instruction sequence as text, one
// instruction per line — used by tests and the optional `e2m disasm`
// debug subcommand.
func Disassemble(instrs []isa.Instruction) string {
	var b strings.Builder
	for _, in := range instrs {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}
