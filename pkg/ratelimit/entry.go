package ratelimit

import (
	"fmt"
	"time"
)

// CounterEntry is the persisted state of one fixed window.
//
// Timestamps are unix milliseconds. The JSON form matches what stores write
// to their backends.
type CounterEntry struct {
	WindowStart int64 `json:"start"`
	WindowEnd   int64 `json:"end"`
	Count       int   `json:"count"`
}

// newWindow opens a window of the given period starting at now with one hit.
func newWindow(now time.Time, period int) CounterEntry {
	start := now.UnixMilli()
	return CounterEntry{
		WindowStart: start,
		WindowEnd:   start + int64(period)*1000,
		Count:       1,
	}
}

// Contains reports whether now falls inside the window, both ends inclusive.
func (e CounterEntry) Contains(now time.Time) bool {
	ms := now.UnixMilli()
	return e.WindowStart <= ms && ms <= e.WindowEnd
}

// Expired reports whether the window ended before now.
func (e CounterEntry) Expired(now time.Time) bool {
	return now.UnixMilli() > e.WindowEnd
}

// IsZero reports whether e is the zero-width sentinel returned for
// rules that always deny.
func (e CounterEntry) IsZero() bool {
	return e.WindowStart == 0 && e.WindowEnd == 0 && e.Count == 0
}

// StartTime returns the window start as a time.Time.
func (e CounterEntry) StartTime() time.Time {
	return time.UnixMilli(e.WindowStart)
}

// EndTime returns the window end as a time.Time.
func (e CounterEntry) EndTime() time.Time {
	return time.UnixMilli(e.WindowEnd)
}

// TTL returns how long the entry stays relevant after now.
func (e CounterEntry) TTL(now time.Time) time.Duration {
	d := time.Duration(e.WindowEnd-now.UnixMilli()) * time.Millisecond
	if d < 0 {
		return 0
	}
	return d
}

func (e CounterEntry) String() string {
	return fmt.Sprintf("CounterEntry{Start: %d, End: %d, Count: %d}", e.WindowStart, e.WindowEnd, e.Count)
}
