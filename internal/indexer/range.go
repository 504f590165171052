package indexer

import "fmt"

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

// Len is the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// NextWindow returns the next catch-up window starting at from, capped at
// maxSpan blocks and never past target.
func NextWindow(from, target, maxSpan uint64) (BlockRange, error) {
	if maxSpan == 0 {
		return BlockRange{}, fmt.Errorf("max block range must be greater than zero")
	}
	if target < from {
		return BlockRange{}, fmt.Errorf("target block %d is below start %d", target, from)
	}

	end := target
	if target-from >= maxSpan {
		end = from + maxSpan - 1
	}
	return BlockRange{From: from, To: end}, nil
}
