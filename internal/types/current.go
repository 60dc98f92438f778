package types

import "time"

// LockStatus is the app-controlled rotation gate. false means unlocked, true
// means closed (scheduler must hold), and any n>=1 is an app-provided
// advisory capacity the router exposes but does not police (see spec §9 open
// questions: no code enforces the count).
type LockStatus struct {
	Closed bool
	N      int // >=1 when the lock is an integer capacity; 0 when Closed carries the meaning
}

// IsInt reports whether this status was set from an integer rather than a bool.
func (s LockStatus) IsInt() bool { return s.N > 0 }

// Truthy reports whether the scheduler should treat this as "locked": Closed,
// or any positive integer capacity.
func (s LockStatus) Truthy() bool { return s.Closed || s.N > 0 }

func (s LockStatus) Equal(o LockStatus) bool { return s.Closed == o.Closed && s.N == o.N }

func LockClosed() LockStatus    { return LockStatus{Closed: true} }
func LockOpen() LockStatus      { return LockStatus{} }
func LockCapacity(n int) LockStatus { return LockStatus{N: n} }

// Lock is the mutable app-controlled rotation gate attached to the current
// experience. Setting Status to its current value is a documented no-op: it
// must not advance LastUpdate.
type Lock struct {
	Status     LockStatus
	LastUpdate *time.Time
}

// Set updates the lock status, recording LastUpdate only when the status
// actually changes. Returns true if the update was applied.
func (l *Lock) Set(status LockStatus) bool {
	if l.Status.Equal(status) {
		return false
	}
	l.Status = status
	now := time.Now()
	l.LastUpdate = &now
	return true
}

// CurrentExperience is the mutable wrapper around the one running
// Experience. Only the Controller may construct or replace it; messaging and
// the scheduler observe and patch specific fields through Controller methods.
type CurrentExperience struct {
	Experience Experience

	StartTime time.Time

	EndTime         *time.Time
	LastInteraction *time.Time

	Lock Lock
}

// NewCurrentExperience returns the freshly-started state for an experience:
// no end time, no interaction yet, lock open, start time now.
func NewCurrentExperience(exp Experience) *CurrentExperience {
	return &CurrentExperience{
		Experience: exp,
		StartTime:  time.Now(),
		Lock:       Lock{Status: LockOpen()},
	}
}
