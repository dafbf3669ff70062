// Package means holds the per-connection price store behind the
// "means" protocol: timestamped int32 prices with an inclusive range
// mean query.
package means

import (
	"cmp"
	"slices"
)

type point struct {
	ts    int32
	price int32
}

// Store is an ordered collection of (timestamp, price) points.  It is
// owned by a single connection and not safe for concurrent use.
type Store struct {
	points []point // sorted by ts, unique
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// Len returns the number of stored points.
func (s *Store) Len() int { return len(s.points) }

// Insert records price at ts.  A second insert for the same timestamp
// replaces the earlier price.
func (s *Store) Insert(ts, price int32) {
	i, found := slices.BinarySearchFunc(s.points, ts, func(p point, t int32) int {
		return cmp.Compare(p.ts, t)
	})
	if found {
		s.points[i].price = price
		return
	}
	s.points = slices.Insert(s.points, i, point{ts: ts, price: price})
}

// Mean returns the integer mean of every price with min ≤ ts ≤ max,
// truncated toward zero.  An empty or inverted range yields 0.
func (s *Store) Mean(min, max int32) int32 {
	if min > max {
		return 0
	}
	lo, _ := slices.BinarySearchFunc(s.points, min, func(p point, t int32) int {
		return cmp.Compare(p.ts, t)
	})
	var sum, n int64
	for _, p := range s.points[lo:] {
		if p.ts > max {
			break
		}
		sum += int64(p.price)
		n++
	}
	if n == 0 {
		return 0
	}
	return int32(sum / n)
}
