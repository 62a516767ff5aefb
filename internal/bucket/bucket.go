package bucket

import (
	"slices"

	"github.com/samber/lo"
)

// ID returns the bucket a key falls into: floor(key/width)*width.
func ID(key int64, width int64) int64 {
	if width <= 1 {
		return key
	}

	var q = key / width

	if key%width != 0 && key < 0 {
		q--
	}

	return q * width
}

// ForKeys returns the sorted, distinct buckets touched by keys.
func ForKeys(keys []int64, width int64) []int64 {
	var ids = lo.Uniq(lo.Map(keys, func(k int64, _ int) int64 { return ID(k, width) }))
	slices.Sort(ids)
	return ids
}

// ForRange returns every bucket intersecting the inclusive range [start, end].
func ForRange(start int64, end int64, width int64) []int64 {
	if end < start {
		return nil
	}

	var (
		first = ID(start, width)
		last  = ID(end, width)
		step  = max(width, 1)
		res   []int64
	)

	for b := first; b <= last; b += step {
		res = append(res, b)
	}

	return res
}

// SingleForRange reports whether [start, end] lies inside one bucket.
func SingleForRange(start int64, end int64, width int64) (int64, bool) {
	var first = ID(start, width)
	return first, first == ID(end, width)
}
