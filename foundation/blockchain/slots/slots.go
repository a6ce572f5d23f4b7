// Package slots maps wall clock time onto the forging time slots of the
// chain. Timestamps carried by transactions and blocks are whole seconds
// since the network epoch.
package slots

import "time"

// Slots describes the time slot layout of the network.
type Slots struct {
	Epoch    time.Time
	Interval int64
}

// New constructs the slot layout for an epoch and a block interval given
// in seconds.
func New(epoch time.Time, interval int64) Slots {
	if interval <= 0 {
		interval = 1
	}

	return Slots{
		Epoch:    epoch,
		Interval: interval,
	}
}

// EpochTime returns the number of seconds between the epoch and t.
func (s Slots) EpochTime(t time.Time) int64 {
	return int64(t.Sub(s.Epoch) / time.Second)
}

// RealTime converts an epoch timestamp back into wall clock time.
func (s Slots) RealTime(epochTime int64) time.Time {
	return s.Epoch.Add(time.Duration(epochTime) * time.Second)
}

// SlotNumber returns the slot an epoch timestamp belongs to.
func (s Slots) SlotNumber(epochTime int64) int64 {
	return epochTime / s.Interval
}

// SlotTime returns the epoch timestamp a slot starts at.
func (s Slots) SlotTime(slot int64) int64 {
	return slot * s.Interval
}

// CurrentSlot returns the slot for the wall clock time now.
func (s Slots) CurrentSlot(now time.Time) int64 {
	return s.SlotNumber(s.EpochTime(now))
}
