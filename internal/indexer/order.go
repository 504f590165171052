package indexer

import (
	"sort"

	"lendingScope/internal/model"
)

// blockEvents holds the events of one block in chain order.
type blockEvents struct {
	Number uint64
	Events []model.RawEvent
}

// groupByBlock splits events by block, ascending, and assigns each event its
// position within the block. Nodes that report transaction and event indexes
// are ordered by them; otherwise arrival order is chain order.
func groupByBlock(events []model.RawEvent) []blockEvents {
	byBlock := make(map[uint64][]model.RawEvent)
	numbers := make([]uint64, 0)
	for _, ev := range events {
		if _, ok := byBlock[ev.BlockNumber]; !ok {
			numbers = append(numbers, ev.BlockNumber)
		}
		byBlock[ev.BlockNumber] = append(byBlock[ev.BlockNumber], ev)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	out := make([]blockEvents, 0, len(numbers))
	for _, n := range numbers {
		evs := byBlock[n]
		if hasIndexes(evs) {
			sort.SliceStable(evs, func(i, j int) bool {
				if *evs[i].TxIndex != *evs[j].TxIndex {
					return *evs[i].TxIndex < *evs[j].TxIndex
				}
				return *evs[i].EventIndex < *evs[j].EventIndex
			})
		}
		for i := range evs {
			evs[i].LogIndex = uint32(i)
		}
		out = append(out, blockEvents{Number: n, Events: evs})
	}
	return out
}

func hasIndexes(events []model.RawEvent) bool {
	for _, ev := range events {
		if ev.TxIndex == nil || ev.EventIndex == nil {
			return false
		}
	}
	return true
}
