package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-erp/be-procurement/internal/chain"
	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/logger"
	"github.com/lumen-erp/be-procurement/internal/repository"
)

// ── Fakes ────────────────────────────────────────────────────────────────────

type fakeCaseStore struct {
	cases    map[string]*repository.Case
	nextID   int
	lastPlan *repository.TransitionPlan
	applyErr error
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{cases: make(map[string]*repository.Case)}
}

func (f *fakeCaseStore) assignIDs(c *repository.Case) {
	f.nextID++
	c.ID = fmt.Sprintf("case-%d", f.nextID)
	for _, s := range append(append([]*repository.CaseSlot{}, c.ReviewSlots...), c.ApprovalSlots...) {
		f.nextID++
		s.ID = fmt.Sprintf("slot-%d", f.nextID)
		s.CaseID = c.ID
	}
	for _, item := range c.Items {
		f.nextID++
		item.ID = fmt.Sprintf("item-%d", f.nextID)
		item.CaseID = c.ID
	}
}

func (f *fakeCaseStore) Create(ctx context.Context, c *repository.Case) error {
	f.assignIDs(c)
	f.cases[c.ID] = c
	return nil
}

// GetByID returns a deep copy: the real repository builds fresh structs
// from row scans, so service code must never see later store mutations.
func (f *fakeCaseStore) GetByID(ctx context.Context, id string) (*repository.Case, error) {
	c, ok := f.cases[id]
	if !ok {
		return nil, errors.NotFound("case", id)
	}
	return copyCase(c), nil
}

func copyCase(c *repository.Case) *repository.Case {
	out := *c
	out.ReviewSlots = copySlots(c.ReviewSlots)
	out.ApprovalSlots = copySlots(c.ApprovalSlots)
	out.Items = make([]*repository.LineItem, len(c.Items))
	for i, item := range c.Items {
		cp := *item
		out.Items[i] = &cp
	}
	return &out
}

func copySlots(slots []*repository.CaseSlot) []*repository.CaseSlot {
	out := make([]*repository.CaseSlot, len(slots))
	for i, s := range slots {
		cp := *s
		out[i] = &cp
	}
	return out
}

func (f *fakeCaseStore) ApplyTransition(ctx context.Context, plan *repository.TransitionPlan) error {
	f.lastPlan = plan
	if f.applyErr != nil {
		return f.applyErr
	}
	c, ok := f.cases[plan.CaseID]
	if !ok {
		return errors.NotFound("case", plan.CaseID)
	}
	byID := make(map[string]*repository.CaseSlot)
	for _, s := range append(append([]*repository.CaseSlot{}, c.ReviewSlots...), c.ApprovalSlots...) {
		byID[s.ID] = s
	}
	for _, su := range plan.SlotUpdates {
		slot, ok := byID[su.SlotID]
		if !ok {
			return errors.NotFound("case slot", su.SlotID)
		}
		slot.Status = su.Status
		if su.ActedBy != nil {
			slot.ActedBy = su.ActedBy
		}
	}
	c.ReviewVerdict = plan.ReviewVerdict
	c.ApprovalVerdict = plan.ApprovalVerdict
	c.NextAction = plan.NextAction
	c.NextActionUserID = plan.NextActionUserID
	for _, rej := range plan.Rejections {
		for _, item := range c.Items {
			if item.ID == rej.ItemID {
				reason := rej.Reason
				item.Rejected = true
				item.RejectionReason = &reason
			}
		}
	}
	if plan.NextCase != nil {
		f.assignIDs(plan.NextCase)
		f.cases[plan.NextCase.ID] = plan.NextCase
	}
	return nil
}

func (f *fakeCaseStore) List(ctx context.Context, purchasingCaseID, stageKind, nextAction *string, limit, offset int) ([]*repository.Case, int64, error) {
	var out []*repository.Case
	for _, c := range f.cases {
		out = append(out, copyCase(c))
	}
	return out, int64(len(out)), nil
}

func (f *fakeCaseStore) GetPendingForUser(ctx context.Context, userID string) ([]*repository.Case, error) {
	var out []*repository.Case
	for _, c := range f.cases {
		if c.NextActionUserID != nil && *c.NextActionUserID == userID {
			out = append(out, copyCase(c))
		}
	}
	return out, nil
}

type fakePurchasingStore struct {
	records map[string]*repository.PurchasingCase
	nextID  int
}

func newFakePurchasingStore() *fakePurchasingStore {
	return &fakePurchasingStore{records: make(map[string]*repository.PurchasingCase)}
}

func (f *fakePurchasingStore) Create(ctx context.Context, pc *repository.PurchasingCase) error {
	f.nextID++
	pc.ID = fmt.Sprintf("pc-%d", f.nextID)
	f.records[pc.ID] = pc
	return nil
}

func (f *fakePurchasingStore) GetByID(ctx context.Context, id string) (*repository.PurchasingCase, error) {
	pc, ok := f.records[id]
	if !ok {
		return nil, errors.NotFound("purchasing case", id)
	}
	return pc, nil
}

func (f *fakePurchasingStore) List(ctx context.Context, limit, offset int) ([]*repository.PurchasingCase, int64, error) {
	var out []*repository.PurchasingCase
	for _, pc := range f.records {
		out = append(out, pc)
	}
	return out, int64(len(out)), nil
}

type fakeAuditStore struct {
	entries []*repository.CaseAuditEntry
}

func (f *fakeAuditStore) Append(ctx context.Context, entry *repository.CaseAuditEntry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) GetByCaseID(ctx context.Context, caseID string) ([]*repository.CaseAuditEntry, error) {
	var out []*repository.CaseAuditEntry
	for _, e := range f.entries {
		if e.CaseID == caseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeAuditStore) GetByPurchasingCaseID(ctx context.Context, purchasingCaseID string) ([]*repository.CaseAuditEntry, error) {
	var out []*repository.CaseAuditEntry
	for _, e := range f.entries {
		if e.PurchasingCaseID == purchasingCaseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeTierAssigner hands out a fixed assignment regardless of tier.
type fakeTierAssigner struct {
	assignment *ChainAssignment
	err        error
}

func (f *fakeTierAssigner) AssignChain(ctx context.Context, monetaryTotal int64, tierCode string) (*ChainAssignment, error) {
	if f.err != nil {
		return nil, f.err
	}
	// Copy so case construction never aliases the fixture.
	return &ChainAssignment{
		Reviewers: append([]*string{}, f.assignment.Reviewers...),
		Approvers: append([]*string{}, f.assignment.Approvers...),
	}, nil
}

type publishedEvent struct {
	EventType  string
	CaseID     string
	Recipients []string
}

type fakePublisher struct {
	events []publishedEvent
}

func (f *fakePublisher) PublishCaseEvent(ctx context.Context, eventType, caseID, purchasingCaseID, actorID string, recipients []string, payload map[string]interface{}) {
	f.events = append(f.events, publishedEvent{EventType: eventType, CaseID: caseID, Recipients: recipients})
}

// ── Fixture ──────────────────────────────────────────────────────────────────

func strPtr(s string) *string { return &s }

type workflowFixture struct {
	svc        *WorkflowService
	cases      *fakeCaseStore
	purchasing *fakePurchasingStore
	audit      *fakeAuditStore
	tiers      *fakeTierAssigner
	events     *fakePublisher
}

func newWorkflowFixture(assignment *ChainAssignment) *workflowFixture {
	fx := &workflowFixture{
		cases:      newFakeCaseStore(),
		purchasing: newFakePurchasingStore(),
		audit:      &fakeAuditStore{},
		tiers:      &fakeTierAssigner{assignment: assignment},
		events:     &fakePublisher{},
	}
	log := &logger.Logger{Logger: zerolog.Nop()}
	fx.svc = NewWorkflowService(fx.cases, fx.purchasing, fx.audit, fx.tiers, NewPipeline(), fx.events, log)
	return fx
}

func fullAssignment() *ChainAssignment {
	return &ChainAssignment{
		Reviewers: []*string{strPtr("rev-1"), strPtr("rev-2")},
		Approvers: []*string{strPtr("app-1"), strPtr("app-2"), strPtr("app-3")},
	}
}

func sparseAssignment() *ChainAssignment {
	return &ChainAssignment{
		Reviewers: []*string{strPtr("rev-1"), nil},
		Approvers: []*string{strPtr("app-1"), nil, nil},
	}
}

func openRequisition(t *testing.T, fx *workflowFixture) *CaseSnapshot {
	t.Helper()
	snap, err := fx.svc.OpenPurchasingCase(context.Background(), &OpenPurchasingCaseRequest{
		ReferenceNo: "PR-2026-0001",
		Items: []*LineItemRequest{
			{LineNumber: 1, Description: "Office chairs", Quantity: 4, UnitPrice: 250_00},
			{LineNumber: 2, Description: "Standing desk", Quantity: 1, UnitPrice: 1_200_00},
		},
		CreatedBy: "requester-1",
	})
	require.NoError(t, err)
	return snap
}

// ── Case creation ────────────────────────────────────────────────────────────

func TestOpenPurchasingCaseStartsAtRequisition(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())

	snap := openRequisition(t, fx)

	assert.Equal(t, repository.StageRequisition, snap.StageKind)
	assert.Equal(t, int64(2_200_00), snap.MonetaryTotal)
	assert.Equal(t, string(chain.VerdictPending), snap.ReviewVerdict)
	assert.Equal(t, string(chain.VerdictPending), snap.ApprovalVerdict)
	assert.Equal(t, repository.ActionAwaitingReview, snap.NextAction)
	require.NotNil(t, snap.NextActionUserID)
	assert.Equal(t, "rev-1", *snap.NextActionUserID)

	require.Len(t, snap.ReviewSlots, 2)
	require.Len(t, snap.ApprovalSlots, 3)
	assert.Equal(t, "reviewer1", snap.ReviewSlots[0].Role)
	assert.Equal(t, "approver3", snap.ApprovalSlots[2].Role)
	for _, sv := range append(append([]SlotView{}, snap.ReviewSlots...), snap.ApprovalSlots...) {
		assert.Equal(t, string(chain.StatusPending), sv.Status)
	}
}

func TestCreateStageCaseRequiresItems(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	pc := &repository.PurchasingCase{ReferenceNo: "PR-2026-0002"}
	require.NoError(t, fx.purchasing.Create(context.Background(), pc))

	_, err := fx.svc.CreateStageCase(context.Background(), &CreateCaseRequest{
		PurchasingCaseID: pc.ID,
		StageKind:        repository.StageRequisition,
		CreatedBy:        "requester-1",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestCreateStageCaseUnknownStage(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	_, err := fx.svc.CreateStageCase(context.Background(), &CreateCaseRequest{
		PurchasingCaseID: "pc-1",
		StageKind:        "warehouse_receipt",
		CreatedBy:        "requester-1",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestCreateStageCaseTierAssignmentFailure(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	fx.tiers.err = errors.InvalidChain("no tier rule matches")
	pc := &repository.PurchasingCase{ReferenceNo: "PR-2026-0003"}
	require.NoError(t, fx.purchasing.Create(context.Background(), pc))

	_, err := fx.svc.CreateStageCase(context.Background(), &CreateCaseRequest{
		PurchasingCaseID: pc.ID,
		StageKind:        repository.StageRequisition,
		Items:            []*LineItemRequest{{LineNumber: 1, Description: "Chair", Quantity: 1, UnitPrice: 100_00}},
		CreatedBy:        "requester-1",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidChain))
}

func TestCheckVoucherSkipsReviewPhase(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	pc := &repository.PurchasingCase{ReferenceNo: "PR-2026-0004"}
	require.NoError(t, fx.purchasing.Create(context.Background(), pc))

	snap, err := fx.svc.CreateStageCase(context.Background(), &CreateCaseRequest{
		PurchasingCaseID: pc.ID,
		StageKind:        repository.StageCheckVoucher,
		Items:            []*LineItemRequest{{LineNumber: 1, Description: "Voucher", Quantity: 1, UnitPrice: 500_00}},
		CreatedBy:        "requester-1",
	})
	require.NoError(t, err)

	assert.Empty(t, snap.ReviewSlots)
	assert.Equal(t, string(chain.VerdictApproved), snap.ReviewVerdict)
	assert.Equal(t, repository.ActionAwaitingApproval, snap.NextAction)
	require.NotNil(t, snap.NextActionUserID)
	assert.Equal(t, "app-1", *snap.NextActionUserID)
}

// ── Review phase ─────────────────────────────────────────────────────────────

func TestSubmitReviewAdvancesToSecondReviewer(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	snap, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID:  opened.ID,
		ActorID: "rev-1",
		Outcome: OutcomeApprove,
	})
	require.NoError(t, err)

	assert.Equal(t, string(chain.VerdictPending), snap.ReviewVerdict)
	assert.Equal(t, repository.ActionAwaitingReview, snap.NextAction)
	require.NotNil(t, snap.NextActionUserID)
	assert.Equal(t, "rev-2", *snap.NextActionUserID)
	assert.Equal(t, string(chain.StatusApproved), snap.ReviewSlots[0].Status)
	assert.Equal(t, string(chain.StatusPending), snap.ReviewSlots[1].Status)
}

func TestSubmitReviewHandsOffToApprovalPhase(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove,
	})
	require.NoError(t, err)
	snap, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-2", Outcome: OutcomeApprove,
	})
	require.NoError(t, err)

	assert.Equal(t, string(chain.VerdictApproved), snap.ReviewVerdict)
	assert.Equal(t, repository.ActionAwaitingApproval, snap.NextAction)
	require.NotNil(t, snap.NextActionUserID)
	assert.Equal(t, "app-1", *snap.NextActionUserID)
}

func TestSubmitReviewEmptySecondSeatClosesPhase(t *testing.T) {
	fx := newWorkflowFixture(sparseAssignment())
	opened := openRequisition(t, fx)

	snap, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove,
	})
	require.NoError(t, err)

	// The empty second seat carries the first reviewer's outcome forward in
	// the same step, resolving the whole phase.
	assert.Equal(t, string(chain.VerdictApproved), snap.ReviewVerdict)
	assert.Equal(t, string(chain.StatusApproved), snap.ReviewSlots[1].Status)
	assert.Nil(t, snap.ReviewSlots[1].ActorID)
	assert.Equal(t, repository.ActionAwaitingApproval, snap.NextAction)
	require.NotNil(t, snap.NextActionUserID)
	assert.Equal(t, "app-1", *snap.NextActionUserID)
}

func TestSubmitReviewDeclineTerminatesCase(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	reason := "wrong supplier"
	snap, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID:  opened.ID,
		ActorID: "rev-1",
		Outcome: OutcomeDecline,
		RejectedItems: []*ItemRejectionRequest{
			{ItemID: opened.Items[0].ID, Reason: reason},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, string(chain.VerdictDeclined), snap.ReviewVerdict)
	assert.Equal(t, repository.ActionDeclined, snap.NextAction)
	assert.Nil(t, snap.NextActionUserID)
	assert.Nil(t, snap.SpawnedCaseID)

	require.NotNil(t, fx.cases.lastPlan.TerminalVerdict)
	assert.Equal(t, string(chain.VerdictDeclined), *fx.cases.lastPlan.TerminalVerdict)
	require.Len(t, fx.cases.lastPlan.Rejections, 1)
	assert.Equal(t, opened.Items[0].ID, fx.cases.lastPlan.Rejections[0].ItemID)

	assert.True(t, snap.Items[0].Rejected)
	require.NotNil(t, snap.Items[0].RejectionReason)
	assert.Equal(t, reason, *snap.Items[0].RejectionReason)
}

func TestSubmitReviewUnauthorizedActor(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-2", Outcome: OutcomeApprove,
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeUnauthorized))
}

func TestSubmitReviewWrongPhaseIsStale(t *testing.T) {
	fx := newWorkflowFixture(sparseAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove,
	})
	require.NoError(t, err)

	// Review already resolved; a second review submission is stale.
	_, err = fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove,
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeStaleCase))
}

func TestSubmitReviewInvalidOutcome(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: "defer",
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestSubmitReviewConcurrentLoserGetsStale(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)
	fx.cases.applyErr = errors.StaleCase("case was modified by another transaction")

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove,
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeStaleCase))
}

// ── Approval phase and cascade ───────────────────────────────────────────────

func approveThrough(t *testing.T, fx *workflowFixture, caseID string, actors ...string) *CaseSnapshot {
	t.Helper()
	var snap *CaseSnapshot
	var err error
	for i, actor := range actors {
		req := &SubmitActionRequest{CaseID: caseID, ActorID: actor, Outcome: OutcomeApprove}
		if i < 2 {
			snap, err = fx.svc.SubmitReview(context.Background(), req)
		} else {
			snap, err = fx.svc.SubmitApproval(context.Background(), req)
		}
		require.NoError(t, err)
	}
	return snap
}

func TestFullApprovalCascadesNextStage(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	snap := approveThrough(t, fx, opened.ID, "rev-1", "rev-2", "app-1", "app-2", "app-3")

	assert.Equal(t, string(chain.VerdictApproved), snap.ApprovalVerdict)
	assert.Equal(t, repository.ActionCompleted, snap.NextAction)
	require.NotNil(t, fx.cases.lastPlan.TerminalVerdict)
	assert.Equal(t, string(chain.VerdictApproved), *fx.cases.lastPlan.TerminalVerdict)

	// Requisition auto-cascades into canvassing with the items carried over
	// and a freshly assigned chain.
	require.NotNil(t, snap.SpawnedCaseID)
	next, err := fx.svc.GetCaseSnapshot(context.Background(), *snap.SpawnedCaseID)
	require.NoError(t, err)
	assert.Equal(t, repository.StageCanvassing, next.StageKind)
	assert.Equal(t, opened.PurchasingCaseID, next.PurchasingCaseID)
	require.NotNil(t, next.SourceCaseID)
	assert.Equal(t, opened.ID, *next.SourceCaseID)
	assert.Equal(t, opened.MonetaryTotal, next.MonetaryTotal)
	assert.Equal(t, repository.ActionAwaitingReview, next.NextAction)
	assert.Len(t, next.Items, len(opened.Items))
}

func TestApprovalDeclineDoesNotCascade(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove})
	require.NoError(t, err)
	_, err = fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{CaseID: opened.ID, ActorID: "rev-2", Outcome: OutcomeApprove})
	require.NoError(t, err)

	snap, err := fx.svc.SubmitApproval(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "app-1", Outcome: OutcomeDecline,
	})
	require.NoError(t, err)

	assert.Equal(t, string(chain.VerdictDeclined), snap.ApprovalVerdict)
	assert.Equal(t, repository.ActionDeclined, snap.NextAction)
	assert.Nil(t, snap.SpawnedCaseID)
	assert.Nil(t, fx.cases.lastPlan.NextCase)
	require.NotNil(t, fx.cases.lastPlan.TerminalVerdict)
	assert.Equal(t, string(chain.VerdictDeclined), *fx.cases.lastPlan.TerminalVerdict)
}

func TestCascadeExcludesRejectedItems(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	// A line dropped during clarification outside the workflow: only the
	// surviving lines move to the next stage.
	fx.cases.cases[opened.ID].Items[1].Rejected = true

	snap := approveThrough(t, fx, opened.ID, "rev-1", "rev-2", "app-1", "app-2", "app-3")
	require.NotNil(t, snap.SpawnedCaseID)

	next, err := fx.svc.GetCaseSnapshot(context.Background(), *snap.SpawnedCaseID)
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, "Office chairs", next.Items[0].Description)
	assert.Equal(t, int64(1_000_00), next.MonetaryTotal)
}

func TestSubmitApprovalBeforeReviewIsStale(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitApproval(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "app-1", Outcome: OutcomeApprove,
	})
	assert.True(t, errors.HasCode(err, errors.ErrCodeStaleCase))
}

// ── Manual cascade ───────────────────────────────────────────────────────────

func completedRequestCase(t *testing.T, fx *workflowFixture) *CaseSnapshot {
	t.Helper()
	pc := &repository.PurchasingCase{ReferenceNo: "PR-2026-0005"}
	require.NoError(t, fx.purchasing.Create(context.Background(), pc))

	snap, err := fx.svc.CreateStageCase(context.Background(), &CreateCaseRequest{
		PurchasingCaseID: pc.ID,
		StageKind:        repository.StageRequest,
		Items:            []*LineItemRequest{{LineNumber: 1, Description: "Site survey", Rate: 80_00, Hours: 10}},
		CreatedBy:        "requester-1",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(800_00), snap.MonetaryTotal)

	return approveThrough(t, fx, snap.ID, "rev-1", "rev-2", "app-1", "app-2", "app-3")
}

func TestCreateNextStageFromCompletedManualStage(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	done := completedRequestCase(t, fx)

	// Request stage never auto-cascades.
	assert.Nil(t, done.SpawnedCaseID)

	next, err := fx.svc.CreateNextStage(context.Background(), done.ID, "requester-1")
	require.NoError(t, err)
	assert.Equal(t, repository.StageOrder, next.StageKind)
	require.NotNil(t, next.SourceCaseID)
	assert.Equal(t, done.ID, *next.SourceCaseID)
	// Order stage prices goods lines, not service rates.
	assert.Equal(t, int64(0), next.MonetaryTotal)
}

func TestCreateNextStageRejectsPendingSource(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.CreateNextStage(context.Background(), opened.ID, "requester-1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

func TestCreateNextStageRejectsAutoCascadeStage(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)
	approveThrough(t, fx, opened.ID, "rev-1", "rev-2", "app-1", "app-2", "app-3")

	_, err := fx.svc.CreateNextStage(context.Background(), opened.ID, "requester-1")
	assert.True(t, errors.HasCode(err, errors.ErrCodeConflict))
}

// ── Ambient behavior ─────────────────────────────────────────────────────────

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)
	approveThrough(t, fx, opened.ID, "rev-1", "rev-2", "app-1", "app-2", "app-3")

	trail, err := fx.svc.GetAuditTrail(context.Background(), opened.ID)
	require.NoError(t, err)
	require.Len(t, trail, 6) // submitted, 2 reviews, 3 approvals

	assert.Equal(t, "submitted", trail[0].Action)
	assert.Equal(t, "reviewed", trail[1].Action)
	assert.Equal(t, "approved", trail[5].Action)

	// The cascaded successor gets its own entry under the same transaction.
	pipelineTrail, err := fx.svc.GetPipelineAuditTrail(context.Background(), opened.PurchasingCaseID)
	require.NoError(t, err)
	assert.Len(t, pipelineTrail, 7)
	assert.Equal(t, "cascaded", pipelineTrail[6].Action)
}

func TestEventsTargetNextActor(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	require.NotEmpty(t, fx.events.events)
	first := fx.events.events[0]
	assert.Equal(t, "case_submitted", first.EventType)
	assert.Equal(t, opened.ID, first.CaseID)
	assert.Equal(t, []string{"rev-1"}, first.Recipients)
}

func TestActionRequiredEventTargetsNewHolder(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeApprove,
	})
	require.NoError(t, err)

	// The task moved on to the second reviewer; the event must address
	// them, not the reviewer who just acted.
	require.NotEmpty(t, fx.events.events)
	last := fx.events.events[len(fx.events.events)-1]
	assert.Equal(t, "action_required", last.EventType)
	assert.Equal(t, []string{"rev-2"}, last.Recipients)
}

func TestTerminalEventFallsBackToCreator(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	_, err := fx.svc.SubmitReview(context.Background(), &SubmitActionRequest{
		CaseID: opened.ID, ActorID: "rev-1", Outcome: OutcomeDecline,
	})
	require.NoError(t, err)

	// A declined case holds no next actor, so the creator is notified.
	last := fx.events.events[len(fx.events.events)-1]
	assert.Equal(t, "case_declined", last.EventType)
	assert.Equal(t, []string{"requester-1"}, last.Recipients)
}

func TestGetAggregateReflectsStoredVerdicts(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	verdict := string(chain.VerdictApproved)
	fx.purchasing.records[opened.PurchasingCaseID].RequisitionVerdict = &verdict

	agg, err := fx.svc.GetAggregate(context.Background(), opened.PurchasingCaseID)
	require.NoError(t, err)
	assert.Equal(t, "PR-2026-0001", agg.ReferenceNo)
	require.NotNil(t, agg.RequisitionVerdict)
	assert.Equal(t, verdict, *agg.RequisitionVerdict)
	assert.Nil(t, agg.CanvassingVerdict)
}

func TestGetPendingForUser(t *testing.T) {
	fx := newWorkflowFixture(fullAssignment())
	opened := openRequisition(t, fx)

	pending, err := fx.svc.GetPendingForUser(context.Background(), "rev-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opened.ID, pending[0].ID)

	none, err := fx.svc.GetPendingForUser(context.Background(), "rev-2")
	require.NoError(t, err)
	assert.Empty(t, none)
}
