package emit

import "bytes"

// ConstTag identifies a constant pool entry's Move type tag.
type ConstTag byte

const (
	ConstU256 ConstTag = iota
	ConstU128
	ConstBool
	ConstAddress
	ConstBytes
)

// ConstEntry is one constant pool slot.
type ConstEntry struct {
	Tag  ConstTag
	Data []byte
}

// ConstantPool stores the module's constant pool, deduplicating by
// (type, bytes) exactly as spec.md §4.8 requires. It lives in this
// package (rather than pkg/move/module, which assembles the final
// container) because the emitter is what grows it while compiling each
// function; pkg/move/module only reads it back at serialization time.
type ConstantPool struct {
	entries []ConstEntry
	index   map[string]uint16
}

func NewConstantPool() *ConstantPool {
	return &ConstantPool{index: make(map[string]uint16)}
}

func poolKey(tag ConstTag, data []byte) string {
	return string(tag) + string(data)
}

// Intern adds (tag, data) to the pool if not already present, returning
// its index either way.
func (p *ConstantPool) Intern(tag ConstTag, data []byte) uint16 {
	key := poolKey(tag, data)
	if idx, ok := p.index[key]; ok {
		return idx
	}
	idx := uint16(len(p.entries))
	p.entries = append(p.entries, ConstEntry{Tag: tag, Data: append([]byte(nil), data...)})
	p.index[key] = idx
	return idx
}

// Entries returns the pool contents in insertion (i.e. index) order.
func (p *ConstantPool) Entries() []ConstEntry { return p.entries }

// Equal reports whether two pools hold identical entries in the same
// order — used by determinism tests (spec.md §8 property 1).
func (p *ConstantPool) Equal(o *ConstantPool) bool {
	if len(p.entries) != len(o.entries) {
		return false
	}
	for i, e := range p.entries {
		if e.Tag != o.entries[i].Tag || !bytes.Equal(e.Data, o.entries[i].Data) {
			return false
		}
	}
	return true
}
