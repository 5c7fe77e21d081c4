package service

import (
	"context"
	"fmt"

	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/logger"
	"github.com/lumen-erp/be-procurement/internal/repository"
)

// Seat counts of the two chains. Fixed by the document layout: two
// reviewers, three approvers.
const (
	reviewerSeats = 2
	approverSeats = 3
)

var (
	reviewerRoles = [reviewerSeats]string{"reviewer1", "reviewer2"}
	approverRoles = [approverSeats]string{"approver1", "approver2", "approver3"}
)

// ChainAssignment is the resolved seat occupancy for a new case. Entries
// may be nil for intentionally absent seats.
type ChainAssignment struct {
	Reviewers []*string // reviewerSeats entries
	Approvers []*string // approverSeats entries
}

// TierAssigner encodes organizational signing policy: who fills which seat
// for a given monetary total and stage tier code. Pure lookup, no side
// effects.
type TierAssigner interface {
	AssignChain(ctx context.Context, monetaryTotal int64, tierCode string) (*ChainAssignment, error)
}

// tierRulesStore is the slice of TierRulesRepository the assigner needs.
type tierRulesStore interface {
	FindMatchingRule(ctx context.Context, tierCode string, amount int64) (*repository.TierRule, error)
}

// RuleTierAssigner resolves chains from the amount-banded tier rules table.
type RuleTierAssigner struct {
	rules tierRulesStore
	log   *logger.Logger
}

// NewRuleTierAssigner creates a rules-backed tier assigner.
func NewRuleTierAssigner(rules tierRulesStore, log *logger.Logger) *RuleTierAssigner {
	return &RuleTierAssigner{rules: rules, log: log}
}

// AssignChain finds the first active rule matching the tier code and amount
// and returns its validated chain assignment. A missing rule or an
// assignment with no usable approver is a configuration error and never
// silently defaults to approval.
func (a *RuleTierAssigner) AssignChain(ctx context.Context, monetaryTotal int64, tierCode string) (*ChainAssignment, error) {
	rule, err := a.rules.FindMatchingRule(ctx, tierCode, monetaryTotal)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, errors.InvalidChain(
			fmt.Sprintf("no tier rule matches tier %q for amount %d", tierCode, monetaryTotal))
	}

	assignment := &ChainAssignment{
		Reviewers: padSeats(rule.Chain.Reviewers, reviewerSeats),
		Approvers: padSeats(rule.Chain.Approvers, approverSeats),
	}
	if err := validateAssignment(assignment); err != nil {
		return nil, err
	}

	a.log.Debug().
		Str("tier_code", tierCode).
		Int64("amount", monetaryTotal).
		Str("rule_id", rule.ID).
		Msg("Tier chain assigned")

	return assignment, nil
}

// padSeats normalizes a rule's seat list to the expected length, treating
// missing trailing entries as absent seats.
func padSeats(seats []*string, n int) []*string {
	out := make([]*string, n)
	copy(out, seats)
	return out
}

// validateAssignment rejects unusable assignments: an approval chain with
// zero filled seats, or a chain whose first seat is empty while a later
// seat is filled (the cascade can never reach the filled seat in that
// shape).
func validateAssignment(a *ChainAssignment) error {
	if countSeats(a.Approvers) == 0 {
		return errors.InvalidChain("approval chain has no filled seats")
	}
	if hasLeadingGap(a.Reviewers) {
		return errors.InvalidChain("review chain has an empty seat before its first actor")
	}
	if hasLeadingGap(a.Approvers) {
		return errors.InvalidChain("approval chain has an empty seat before its first actor")
	}
	return nil
}

func countSeats(seats []*string) int {
	n := 0
	for _, s := range seats {
		if s != nil {
			n++
		}
	}
	return n
}

func hasLeadingGap(seats []*string) bool {
	if len(seats) == 0 || seats[0] != nil {
		return false
	}
	return countSeats(seats) > 0
}
