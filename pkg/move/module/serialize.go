package module

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pontem-network/e2m-core/pkg/mir"
	"github.com/pontem-network/e2m-core/pkg/move/emit"
)

// Binary container format for a translated module, laid out the same
// sectioned way as the teacher's .sg format: a fixed header followed by
// one section per pool, each self-describing with a leading count.
//
//   [Header]
//     Magic (4 bytes): "MOVE" (0x4D4F5645)
//     Version (4 bytes): 1
//     SelfAddress (32 bytes)
//     SelfName (4-byte length + UTF-8)
//
//   [Address pool]    count + 32-byte entries
//   [Identifier pool] count + (4-byte length + UTF-8) entries
//   [Signature pool]  count + (4-byte type count + 1-byte SemType tags)
//   [Constant pool]   count + (1-byte tag + 4-byte length + data)
//   [Struct handles]  count + 4-byte entries
//   [Function handles] count + 4x 4-byte fields
//   [Function defs]   count + (handle, visibility, locals sig, code)

const (
	moduleMagic   uint32 = 0x4D4F5645
	moduleVersion uint32 = 1
)

// Serialize writes m's binary container to w.
func Serialize(m *Module, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, moduleMagic); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, moduleVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, m.SelfAddress); err != nil {
		return err
	}
	if err := writeString(w, m.SelfName); err != nil {
		return fmt.Errorf("self name: %w", err)
	}
	if err := writeAddresses(w, m.Addresses); err != nil {
		return fmt.Errorf("addresses: %w", err)
	}
	if err := writeStrings(w, m.Identifiers); err != nil {
		return fmt.Errorf("identifiers: %w", err)
	}
	if err := writeSignatures(w, m.Signatures); err != nil {
		return fmt.Errorf("signatures: %w", err)
	}
	if err := writeConstants(w, m.Constants); err != nil {
		return fmt.Errorf("constants: %w", err)
	}
	if err := writeInts(w, m.StructHandles); err != nil {
		return fmt.Errorf("struct handles: %w", err)
	}
	if err := writeFunctionHandles(w, m.FunctionHandles); err != nil {
		return fmt.Errorf("function handles: %w", err)
	}
	if err := writeFunctionDefs(w, m.Functions); err != nil {
		return fmt.Errorf("function defs: %w", err)
	}
	return nil
}

// Deserialize reads back a module previously written by Serialize. The
// template.HandleTable is not part of the wire format; callers reattach
// the one loaded for their target framework via m.Handles afterward.
func Deserialize(r io.Reader) (*Module, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, err
	}
	if magic != moduleMagic {
		return nil, fmt.Errorf("invalid module magic: 0x%08X", magic)
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != moduleVersion {
		return nil, fmt.Errorf("unsupported module version: %d", version)
	}

	m := &Module{}
	if err := binary.Read(r, binary.LittleEndian, &m.SelfAddress); err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	m.SelfName = name

	if m.Addresses, err = readAddresses(r); err != nil {
		return nil, fmt.Errorf("addresses: %w", err)
	}
	if m.Identifiers, err = readStrings(r); err != nil {
		return nil, fmt.Errorf("identifiers: %w", err)
	}
	if m.Signatures, err = readSignatures(r); err != nil {
		return nil, fmt.Errorf("signatures: %w", err)
	}
	if m.Constants, err = readConstants(r); err != nil {
		return nil, fmt.Errorf("constants: %w", err)
	}
	if m.StructHandles, err = readInts(r); err != nil {
		return nil, fmt.Errorf("struct handles: %w", err)
	}
	if m.FunctionHandles, err = readFunctionHandles(r); err != nil {
		return nil, fmt.Errorf("function handles: %w", err)
	}
	if m.Functions, err = readFunctionDefs(r); err != nil {
		return nil, fmt.Errorf("function defs: %w", err)
	}
	return m, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeStrings(w io.Writer, ss []string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(ss))); err != nil {
		return err
	}
	for _, s := range ss {
		if err := writeString(w, s); err != nil {
			return err
		}
	}
	return nil
}

func readStrings(r io.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func writeAddresses(w io.Writer, addrs [][32]byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(addrs))); err != nil {
		return err
	}
	for _, a := range addrs {
		if err := binary.Write(w, binary.LittleEndian, a); err != nil {
			return err
		}
	}
	return nil
}

func readAddresses(r io.Reader) ([][32]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([][32]byte, n)
	for i := range out {
		if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func writeSignatures(w io.Writer, sigs []LocalSignature) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(sigs))); err != nil {
		return err
	}
	for _, sig := range sigs {
		if err := binary.Write(w, binary.LittleEndian, uint32(len(sig.Types))); err != nil {
			return err
		}
		for _, t := range sig.Types {
			if err := binary.Write(w, binary.LittleEndian, byte(t)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readSignatures(r io.Reader) ([]LocalSignature, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]LocalSignature, n)
	for i := range out {
		var tn uint32
		if err := binary.Read(r, binary.LittleEndian, &tn); err != nil {
			return nil, err
		}
		types := make([]mir.SemType, tn)
		for j := range types {
			var b byte
			if err := binary.Read(r, binary.LittleEndian, &b); err != nil {
				return nil, err
			}
			types[j] = mir.SemType(b)
		}
		out[i] = LocalSignature{Types: types}
	}
	return out, nil
}

func writeConstants(w io.Writer, pool *emit.ConstantPool) error {
	entries := pool.Entries()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := binary.Write(w, binary.LittleEndian, byte(e.Tag)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Data))); err != nil {
			return err
		}
		if _, err := w.Write(e.Data); err != nil {
			return err
		}
	}
	return nil
}

func readConstants(r io.Reader) (*emit.ConstantPool, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	pool := emit.NewConstantPool()
	for i := uint32(0); i < n; i++ {
		var tag byte
		if err := binary.Read(r, binary.LittleEndian, &tag); err != nil {
			return nil, err
		}
		var dn uint32
		if err := binary.Read(r, binary.LittleEndian, &dn); err != nil {
			return nil, err
		}
		data := make([]byte, dn)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		pool.Intern(emit.ConstTag(tag), data)
	}
	return pool, nil
}

func writeInts(w io.Writer, xs []int) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(xs))); err != nil {
		return err
	}
	for _, x := range xs {
		if err := binary.Write(w, binary.LittleEndian, uint32(x)); err != nil {
			return err
		}
	}
	return nil
}

func readInts(r io.Reader) ([]int, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]int, n)
	for i := range out {
		var v uint32
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, err
		}
		out[i] = int(v)
	}
	return out, nil
}

func writeFunctionHandles(w io.Writer, hs []FunctionHandle) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hs))); err != nil {
		return err
	}
	for _, h := range hs {
		fields := []int{h.ModuleIndex, h.NameIndex, h.ParamsSig, h.ReturnsSig}
		for _, f := range fields {
			if err := binary.Write(w, binary.LittleEndian, uint32(f)); err != nil {
				return err
			}
		}
	}
	return nil
}

func readFunctionHandles(r io.Reader) ([]FunctionHandle, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]FunctionHandle, n)
	for i := range out {
		var fields [4]uint32
		for j := range fields {
			if err := binary.Read(r, binary.LittleEndian, &fields[j]); err != nil {
				return nil, err
			}
		}
		out[i] = FunctionHandle{
			ModuleIndex: int(fields[0]),
			NameIndex:   int(fields[1]),
			ParamsSig:   int(fields[2]),
			ReturnsSig:  int(fields[3]),
		}
	}
	return out, nil
}

func writeFunctionDefs(w io.Writer, fns []FunctionDef) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(fns))); err != nil {
		return err
	}
	for _, fn := range fns {
		if err := binary.Write(w, binary.LittleEndian, uint32(fn.Handle)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, byte(fn.Visibility)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(fn.LocalsSig)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(fn.Code))); err != nil {
			return err
		}
		for _, instr := range fn.Code {
			if err := binary.Write(w, binary.LittleEndian, byte(instr.Op)); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, instr.Operand); err != nil {
				return err
			}
		}
	}
	return nil
}

func readFunctionDefs(r io.Reader) ([]FunctionDef, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	out := make([]FunctionDef, n)
	for i := range out {
		var handle uint32
		if err := binary.Read(r, binary.LittleEndian, &handle); err != nil {
			return nil, err
		}
		var vis byte
		if err := binary.Read(r, binary.LittleEndian, &vis); err != nil {
			return nil, err
		}
		var localsSig uint32
		if err := binary.Read(r, binary.LittleEndian, &localsSig); err != nil {
			return nil, err
		}
		var codeLen uint32
		if err := binary.Read(r, binary.LittleEndian, &codeLen); err != nil {
			return nil, err
		}
		code := make([]emit.Instruction, codeLen)
		for j := range code {
			var op byte
			if err := binary.Read(r, binary.LittleEndian, &op); err != nil {
				return nil, err
			}
			var operand uint16
			if err := binary.Read(r, binary.LittleEndian, &operand); err != nil {
				return nil, err
			}
			code[j] = emit.Instruction{Op: emit.Opcode(op), Operand: operand}
		}
		out[i] = FunctionDef{
			Handle:     int(handle),
			Visibility: Visibility(vis),
			LocalsSig:  int(localsSig),
			Code:       code,
		}
	}
	return out, nil
}
