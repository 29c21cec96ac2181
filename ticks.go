package coapkit

import "time"

// Ticks is the engine's logical clock unit, one millisecond per tick.
// The host supplies the current value to Advance; the engine never reads
// the wall clock for retransmission scheduling.
type Ticks uint64

func TicksFromDuration(d time.Duration) Ticks {
	return Ticks(d / time.Millisecond)
}

func (t Ticks) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}
