// Package chain models an ordered escalation chain of reviewer/approver
// slots and the transition algorithm that advances it. Everything here is a
// pure in-memory transform; persistence and authorization context live in
// the service and repository layers.
package chain

import (
	"github.com/lumen-erp/be-procurement/internal/errors"
)

// Status is the state of a single slot.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

// Verdict is the aggregate outcome of a chain.
type Verdict string

const (
	VerdictPending  Verdict = "pending"
	VerdictApproved Verdict = "approved"
	VerdictDeclined Verdict = "declined"
)

// Slot is one seat in an escalation chain. A nil ActorID means the seat is
// intentionally unfilled; such slots are never the deciding slot and only
// ever receive a derivative stamp from the cascade.
type Slot struct {
	Role    string
	ActorID *string
	Status  Status
}

// Advance applies one actor's outcome to the chain and returns the new slot
// states plus the resulting verdict. The input slice is never mutated.
//
// The caller must be the actor of a pending slot, otherwise the call fails
// with an UNAUTHORIZED error. Stamping rules, evaluated against the chain
// state as it was before this call:
//
//   - slot 1, when filled, is always re-stamped with the outcome;
//   - slot k (k > 1) is stamped when it is pending and slot k-1 was already
//     approved, or when slot k is unfilled and slot k-1 was still pending
//     (the unfilled seat rides along with its predecessor's decision).
//
// A consequence of the first rule is that a decline at a later slot
// overwrites an already-approved slot 1 to declined. That matches the
// long-standing behavior of the per-document handlers this engine replaced
// and is pinned by a regression test; do not "fix" it without changing the
// contract.
func Advance(slots []Slot, actorID string, outcome Status) ([]Slot, Verdict, error) {
	if outcome != StatusApproved && outcome != StatusDeclined {
		return nil, "", errors.InvalidInput("outcome", "must be approved or declined")
	}

	acting := -1
	for i, s := range slots {
		if s.Status == StatusPending && s.ActorID != nil && *s.ActorID == actorID {
			acting = i
			break
		}
	}
	if acting == -1 {
		return nil, "", errors.Unauthorized("caller does not hold a pending slot in this chain")
	}

	next := make([]Slot, len(slots))
	copy(next, slots)

	if slots[0].ActorID != nil {
		next[0].Status = outcome
	}
	for k := 1; k < len(slots); k++ {
		advanced := slots[k].Status == StatusPending && slots[k-1].Status == StatusApproved
		skipped := slots[k-1].Status == StatusPending && slots[k].ActorID == nil
		if advanced || skipped {
			next[k].Status = outcome
		}
	}

	return next, ComputeVerdict(next), nil
}

// ComputeVerdict derives the chain verdict: declined if any slot is
// declined, approved if every filled slot is approved, otherwise pending.
func ComputeVerdict(slots []Slot) Verdict {
	allApproved := true
	for _, s := range slots {
		if s.Status == StatusDeclined {
			return VerdictDeclined
		}
		if s.ActorID != nil && s.Status != StatusApproved {
			allApproved = false
		}
	}
	if allApproved {
		return VerdictApproved
	}
	return VerdictPending
}

// NextActor returns the actor holding the task: the first pending slot with
// a filled seat. A declined chain has no next actor, nor does a fully
// approved one; both return nil.
func NextActor(slots []Slot, declined bool) *string {
	if declined {
		return nil
	}
	for _, s := range slots {
		if s.Status == StatusPending && s.ActorID != nil {
			return s.ActorID
		}
	}
	return nil
}

// Combined concatenates the review slots and approval slots in order, the
// list the resolver scans when a case hands off from review into approval.
func Combined(review, approval []Slot) []Slot {
	out := make([]Slot, 0, len(review)+len(approval))
	out = append(out, review...)
	out = append(out, approval...)
	return out
}

// ActorCount returns the number of filled slots.
func ActorCount(slots []Slot) int {
	n := 0
	for _, s := range slots {
		if s.ActorID != nil {
			n++
		}
	}
	return n
}
