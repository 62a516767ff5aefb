package executor

import (
	"context"

	"github.com/samber/lo"
)

// Batch is an inclusive, contiguous range of keys.
type Batch struct {
	Number int
	Start  int64
	End    int64
}

func (b Batch) Len() int64 {
	if b.End < b.Start {
		return 0
	}

	return b.End - b.Start + 1
}

func (b Batch) Keys() []int64 {
	return lo.RangeFrom(b.Start, int(b.Len()))
}

type WorkFunc func(ctx context.Context, b Batch) error
