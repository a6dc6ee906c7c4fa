// Package block implements the block builder: it partitions a decoded
// instruction sequence into basic blocks keyed by entry offset.
//
// A single forward pass over the instruction stream closes off a block
// whenever it recognizes a boundary, and hands back a completed
// collection rather than an incremental API.
package block

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/pontem-network/e2m-core/pkg/evm/isa"
)

const component = "block"

// Block is a maximal straight-line instruction run: [Start, End] plus its
// ordered instructions. It never overlaps with another block, and every
// byte of the runtime segment belongs to exactly one.
type Block struct {
	Start        int
	End          int // offset of the last instruction's last byte, inclusive
	Instructions []isa.Instruction
}

// Entry returns the block's entry offset — the key used in Program.
func (b *Block) Entry() int { return b.Start }

// Last returns the block's terminating instruction.
func (b *Block) Last() isa.Instruction { return b.Instructions[len(b.Instructions)-1] }

// Program is the full set of basic blocks for one runtime code segment,
// keyed by entry offset.
type Program struct {
	Blocks map[int]*Block
	// Order holds entry offsets in ascending order, since Go map
	// iteration order is undefined and callers need ascending iteration.
	Order []int
}

// At returns the block starting at offset, or nil.
func (p *Program) At(offset int) *Block { return p.Blocks[offset] }

// Build partitions instrs into basic blocks.
//
// A new block starts at offset 0 and at every JUMPDEST. A block closes
// when its last instruction terminates control flow or the next
// instruction is a JUMPDEST — so the first of two adjacent JUMPDESTs
// forms a one-instruction block of its own and the second starts the
// next block; neither is elided.
func Build(instrs []isa.Instruction) *Program {
	p := &Program{Blocks: make(map[int]*Block)}
	if len(instrs) == 0 {
		return p
	}

	var cur *Block
	flush := func() {
		if cur != nil && len(cur.Instructions) > 0 {
			cur.End = cur.Instructions[len(cur.Instructions)-1].Offset + cur.Instructions[len(cur.Instructions)-1].Len() - 1
			p.Blocks[cur.Start] = cur
			p.Order = append(p.Order, cur.Start)
		}
		cur = nil
	}

	for i, in := range instrs {
		if cur == nil {
			cur = &Block{Start: in.Offset}
		}
		cur.Instructions = append(cur.Instructions, in)

		atEnd := in.EndOfBlock()
		nextIsJumpDest := i+1 < len(instrs) && instrs[i+1].Op == isa.OpJumpDest
		if atEnd || nextIsJumpDest {
			flush()
		}
	}
	flush()

	sort.Ints(p.Order)
	logrus.WithFields(logrus.Fields{"stage": component, "blocks": len(p.Order)}).Debug("block partition complete")
	return p
}
