package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/logger"
	"github.com/lumen-erp/be-procurement/internal/repository"
)

type fakeTierRules struct {
	rule *repository.TierRule
	err  error
}

func (f *fakeTierRules) FindMatchingRule(ctx context.Context, tierCode string, amount int64) (*repository.TierRule, error) {
	return f.rule, f.err
}

func newAssigner(rule *repository.TierRule) *RuleTierAssigner {
	return NewRuleTierAssigner(&fakeTierRules{rule: rule}, &logger.Logger{Logger: zerolog.Nop()})
}

func TestAssignChainPadsShortSeatLists(t *testing.T) {
	assigner := newAssigner(&repository.TierRule{
		ID:       "rule-1",
		TierCode: "REQ",
		Chain: repository.TierChainSpec{
			Reviewers: []*string{strPtr("rev-1")},
			Approvers: []*string{strPtr("app-1"), strPtr("app-2")},
		},
	})

	got, err := assigner.AssignChain(context.Background(), 500_00, "REQ")
	require.NoError(t, err)

	require.Len(t, got.Reviewers, reviewerSeats)
	require.Len(t, got.Approvers, approverSeats)
	assert.Equal(t, "rev-1", *got.Reviewers[0])
	assert.Nil(t, got.Reviewers[1])
	assert.Nil(t, got.Approvers[2])
}

func TestAssignChainNoMatchingRule(t *testing.T) {
	assigner := newAssigner(nil)

	_, err := assigner.AssignChain(context.Background(), 99_999_00, "REQ")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidChain))
}

func TestAssignChainRejectsEmptyApproverChain(t *testing.T) {
	assigner := newAssigner(&repository.TierRule{
		Chain: repository.TierChainSpec{
			Reviewers: []*string{strPtr("rev-1")},
			Approvers: []*string{nil, nil, nil},
		},
	})

	_, err := assigner.AssignChain(context.Background(), 500_00, "REQ")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidChain))
}

func TestAssignChainRejectsLeadingGap(t *testing.T) {
	// A filled seat behind an empty first seat can never be reached by the
	// cascade, so the rule is unusable.
	assigner := newAssigner(&repository.TierRule{
		Chain: repository.TierChainSpec{
			Reviewers: []*string{nil, strPtr("rev-2")},
			Approvers: []*string{strPtr("app-1")},
		},
	})

	_, err := assigner.AssignChain(context.Background(), 500_00, "REQ")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidChain))
}

func TestAssignChainAllowsEmptyReviewerChain(t *testing.T) {
	assigner := newAssigner(&repository.TierRule{
		Chain: repository.TierChainSpec{
			Reviewers: []*string{nil, nil},
			Approvers: []*string{strPtr("app-1"), nil, nil},
		},
	})

	got, err := assigner.AssignChain(context.Background(), 100_00, "CKV")
	require.NoError(t, err)
	assert.Nil(t, got.Reviewers[0])
	assert.Equal(t, "app-1", *got.Approvers[0])
}

func TestAssignChainPropagatesStoreError(t *testing.T) {
	assigner := NewRuleTierAssigner(
		&fakeTierRules{err: errors.New(errors.ErrCodeInternal, "database unavailable")},
		&logger.Logger{Logger: zerolog.Nop()})

	_, err := assigner.AssignChain(context.Background(), 500_00, "REQ")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInternal))
}
