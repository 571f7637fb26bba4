// Package seq provides the single monotonic counter the helper uses for
// validation ticket seqnos and stream indices.
package seq

import "sync/atomic"

// Source hands out strictly increasing int64 values starting at 0. A zero
// Source is ready to use. Order of delivery between concurrent callers is
// unspecified; each value is handed to exactly one caller.
type Source struct {
	next atomic.Int64
}

// Next returns the next value in the sequence.
func (s *Source) Next() int64 {
	return s.next.Add(1) - 1
}
