package service

import (
	"context"
	"fmt"

	"github.com/lumen-erp/be-procurement/internal/chain"
	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/logger"
	"github.com/lumen-erp/be-procurement/internal/repository"
)

// CaseStore is the persistence surface WorkflowService needs for stage
// cases. Implemented by repository.CaseRepository.
type CaseStore interface {
	Create(ctx context.Context, c *repository.Case) error
	GetByID(ctx context.Context, id string) (*repository.Case, error)
	ApplyTransition(ctx context.Context, plan *repository.TransitionPlan) error
	List(ctx context.Context, purchasingCaseID, stageKind, nextAction *string, limit, offset int) ([]*repository.Case, int64, error)
	GetPendingForUser(ctx context.Context, userID string) ([]*repository.Case, error)
}

// PurchasingStore is the persistence surface for the cross-stage aggregate.
// Implemented by repository.PurchasingCaseRepository.
type PurchasingStore interface {
	Create(ctx context.Context, pc *repository.PurchasingCase) error
	GetByID(ctx context.Context, id string) (*repository.PurchasingCase, error)
	List(ctx context.Context, limit, offset int) ([]*repository.PurchasingCase, int64, error)
}

// AuditStore appends and reads the immutable case audit trail.
// Implemented by repository.CaseAuditRepository.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.CaseAuditEntry) error
	GetByCaseID(ctx context.Context, caseID string) ([]*repository.CaseAuditEntry, error)
	GetByPurchasingCaseID(ctx context.Context, purchasingCaseID string) ([]*repository.CaseAuditEntry, error)
}

// EventPublisher publishes workflow events. Publishing is best-effort and
// never interrupts a transition.
type EventPublisher interface {
	PublishCaseEvent(ctx context.Context, eventType, caseID, purchasingCaseID, actorID string, recipients []string, payload map[string]interface{})
}

// Outcome values accepted by submissions.
const (
	OutcomeApprove = "approve"
	OutcomeDecline = "decline"
)

// WorkflowService orchestrates the multi-actor escalation workflow: one
// review chain then one approval chain per stage case, with terminal
// verdicts stamped into the purchasing aggregate and auto-cascading stages
// spawning their successor in the same transaction.
type WorkflowService struct {
	cases      CaseStore
	purchasing PurchasingStore
	audit      AuditStore
	tiers      TierAssigner
	pipeline   *Pipeline
	events     EventPublisher
	log        *logger.Logger
}

// NewWorkflowService creates a new WorkflowService. events may be nil.
func NewWorkflowService(
	cases CaseStore,
	purchasing PurchasingStore,
	audit AuditStore,
	tiers TierAssigner,
	pipeline *Pipeline,
	events EventPublisher,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		cases:      cases,
		purchasing: purchasing,
		audit:      audit,
		tiers:      tiers,
		pipeline:   pipeline,
		events:     events,
		log:        log,
	}
}

// ── Request / snapshot types ─────────────────────────────────────────────────

// LineItemRequest is one line of a new stage case.
type LineItemRequest struct {
	LineNumber  int
	Description string
	Quantity    float64
	UnitPrice   int64
	Rate        int64
	Hours       float64
}

// OpenPurchasingCaseRequest starts a new end-to-end purchasing transaction
// with its first stage case.
type OpenPurchasingCaseRequest struct {
	ReferenceNo string
	Description *string
	StageKind   string // defaults to requisition
	Items       []*LineItemRequest
	CreatedBy   string
}

// CreateCaseRequest creates a stage case against an existing purchasing case.
type CreateCaseRequest struct {
	PurchasingCaseID string
	StageKind        string
	Items            []*LineItemRequest
	CreatedBy        string
}

// ItemRejectionRequest tags one line item with a rejection reason.
type ItemRejectionRequest struct {
	ItemID string
	Reason string
}

// SubmitActionRequest is one escalation step: the calling actor's outcome
// for the case currently waiting on them.
type SubmitActionRequest struct {
	CaseID        string
	ActorID       string
	Outcome       string // approve | decline
	Notes         *string
	RejectedItems []*ItemRejectionRequest // honored on decline only
}

// SlotView is one chain seat in a snapshot.
type SlotView struct {
	Phase    string  `json:"phase"`
	Position int     `json:"position"`
	Role     string  `json:"role"`
	ActorID  *string `json:"actor_id"`
	Status   string  `json:"status"`
}

// ItemView is one line item in a snapshot.
type ItemView struct {
	ID              string  `json:"id"`
	LineNumber      int     `json:"line_number"`
	Description     string  `json:"description"`
	Quantity        float64 `json:"quantity"`
	UnitPrice       int64   `json:"unit_price"`
	Rate            int64   `json:"rate"`
	Hours           float64 `json:"hours"`
	Rejected        bool    `json:"rejected"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

// CaseSnapshot is the externally visible state of a case after (or between)
// transitions. It is always built from a single consistent read.
type CaseSnapshot struct {
	ID               string     `json:"id"`
	StageKind        string     `json:"stage_kind"`
	PurchasingCaseID string     `json:"purchasing_case_id"`
	SourceCaseID     *string    `json:"source_case_id,omitempty"`
	TierCode         string     `json:"tier_code"`
	MonetaryTotal    int64      `json:"monetary_total"`
	ReviewVerdict    string     `json:"review_verdict"`
	ApprovalVerdict  string     `json:"approval_verdict"`
	NextAction       string     `json:"next_action"`
	NextActionUserID *string    `json:"next_action_user_id,omitempty"`
	ReviewSlots      []SlotView `json:"review_slots"`
	ApprovalSlots    []SlotView `json:"approval_slots"`
	Items            []ItemView `json:"items"`
	SpawnedCaseID    *string    `json:"spawned_case_id,omitempty"`
}

// AggregateSnapshot is the read-model view of a purchasing case.
type AggregateSnapshot struct {
	ID                  string  `json:"id"`
	ReferenceNo         string  `json:"reference_no"`
	Description         *string `json:"description,omitempty"`
	CreatedBy           *string `json:"created_by,omitempty"`
	RequisitionVerdict  *string `json:"requisition_verdict"`
	CanvassingVerdict   *string `json:"canvassing_verdict"`
	RequestVerdict      *string `json:"request_verdict"`
	OrderVerdict        *string `json:"order_verdict"`
	RFPVerdict          *string `json:"rfp_verdict"`
	CheckVoucherVerdict *string `json:"check_voucher_verdict"`
}

// ── Case creation ────────────────────────────────────────────────────────────

// OpenPurchasingCase creates the aggregate row and the pipeline's first
// stage case.
func (s *WorkflowService) OpenPurchasingCase(ctx context.Context, req *OpenPurchasingCaseRequest) (*CaseSnapshot, error) {
	if req.ReferenceNo == "" {
		return nil, errors.InvalidInput("reference_no", "reference number is required")
	}
	stageKind := req.StageKind
	if stageKind == "" {
		stageKind = repository.StageRequisition
	}

	pc := &repository.PurchasingCase{
		ReferenceNo: req.ReferenceNo,
		Description: req.Description,
		CreatedBy:   &req.CreatedBy,
	}
	if err := s.purchasing.Create(ctx, pc); err != nil {
		return nil, err
	}

	return s.CreateStageCase(ctx, &CreateCaseRequest{
		PurchasingCaseID: pc.ID,
		StageKind:        stageKind,
		Items:            req.Items,
		CreatedBy:        req.CreatedBy,
	})
}

// CreateStageCase creates one stage case: derives the monetary total from
// the line items, requests a fresh escalation chain from tier assignment
// and resolves the first actor.
func (s *WorkflowService) CreateStageCase(ctx context.Context, req *CreateCaseRequest) (*CaseSnapshot, error) {
	cfg, err := s.pipeline.Stage(req.StageKind)
	if err != nil {
		return nil, err
	}
	if len(req.Items) < 1 {
		return nil, errors.InvalidInput("items", "case must have at least 1 line item")
	}
	if _, err := s.purchasing.GetByID(ctx, req.PurchasingCaseID); err != nil {
		return nil, err
	}

	items := make([]*repository.LineItem, 0, len(req.Items))
	for _, ir := range req.Items {
		if ir.Quantity < 0 || ir.Hours < 0 {
			return nil, errors.InvalidInput("items", "quantity and hours must not be negative")
		}
		if ir.UnitPrice < 0 || ir.Rate < 0 {
			return nil, errors.InvalidInput("items", "unit price and rate must not be negative")
		}
		items = append(items, &repository.LineItem{
			LineNumber:  ir.LineNumber,
			Description: ir.Description,
			Quantity:    ir.Quantity,
			UnitPrice:   ir.UnitPrice,
			Rate:        ir.Rate,
			Hours:       ir.Hours,
		})
	}

	createdBy := req.CreatedBy
	c, err := s.buildCase(ctx, cfg, req.PurchasingCaseID, nil, items, &createdBy)
	if err != nil {
		return nil, err
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("case_id", c.ID).
		Str("stage_kind", c.StageKind).
		Str("purchasing_case_id", c.PurchasingCaseID).
		Int64("monetary_total", c.MonetaryTotal).
		Msg("Stage case created")

	s.appendAudit(ctx, &repository.CaseAuditEntry{
		CaseID:           c.ID,
		PurchasingCaseID: c.PurchasingCaseID,
		Action:           "submitted",
		PerformedBy:      req.CreatedBy,
		NextActionAfter:  &c.NextAction,
		Metadata:         map[string]interface{}{"stage_kind": c.StageKind, "monetary_total": c.MonetaryTotal},
	})
	s.publishEvent(ctx, "case_submitted", c, req.CreatedBy, nil)

	return s.snapshot(c, nil), nil
}

// buildCase assembles a new case for a stage: total derivation, tier
// assignment, slot construction, initial verdicts and first actor.
func (s *WorkflowService) buildCase(
	ctx context.Context,
	cfg StageConfig,
	purchasingCaseID string,
	sourceCaseID *string,
	items []*repository.LineItem,
	createdBy *string,
) (*repository.Case, error) {
	total := DeriveAmount(cfg.AmountRule, items)

	assignment, err := s.tiers.AssignChain(ctx, total, cfg.TierCode)
	if err != nil {
		return nil, err
	}

	var reviewSlots []*repository.CaseSlot
	if cfg.ReviewPhase {
		reviewSlots = buildSlots(repository.PhaseReview, reviewerRoles[:], assignment.Reviewers)
	}
	approvalSlots := buildSlots(repository.PhaseApproval, approverRoles[:], assignment.Approvers)

	reviewVerdict := string(chain.VerdictApproved)
	if cfg.ReviewPhase {
		reviewVerdict = string(chain.ComputeVerdict(toChainSlots(reviewSlots)))
	}

	c := &repository.Case{
		StageKind:        cfg.Kind,
		PurchasingCaseID: purchasingCaseID,
		SourceCaseID:     sourceCaseID,
		TierCode:         cfg.TierCode,
		MonetaryTotal:    total,
		ReviewVerdict:    reviewVerdict,
		ApprovalVerdict:  string(chain.VerdictPending),
		CreatedBy:        createdBy,
		ReviewSlots:      reviewSlots,
		ApprovalSlots:    approvalSlots,
		Items:            items,
	}

	if reviewVerdict == string(chain.VerdictPending) {
		c.NextAction = repository.ActionAwaitingReview
		c.NextActionUserID = chain.NextActor(toChainSlots(reviewSlots), false)
	} else {
		c.NextAction = repository.ActionAwaitingApproval
		c.NextActionUserID = chain.NextActor(
			chain.Combined(toChainSlots(reviewSlots), toChainSlots(approvalSlots)), false)
	}
	if c.NextActionUserID == nil {
		// Tier assignment validation guarantees a filled approver seat, so
		// a brand-new case always has someone to act.
		return nil, errors.InvalidChain("new case resolved no next actor")
	}

	return c, nil
}

// ── Escalation steps ─────────────────────────────────────────────────────────

// SubmitReview records one reviewer's outcome for a case awaiting review.
func (s *WorkflowService) SubmitReview(ctx context.Context, req *SubmitActionRequest) (*CaseSnapshot, error) {
	return s.submit(ctx, req, repository.PhaseReview)
}

// SubmitApproval records one approver's outcome for a case awaiting
// approval.
func (s *WorkflowService) SubmitApproval(ctx context.Context, req *SubmitActionRequest) (*CaseSnapshot, error) {
	return s.submit(ctx, req, repository.PhaseApproval)
}

func (s *WorkflowService) submit(ctx context.Context, req *SubmitActionRequest, phase string) (*CaseSnapshot, error) {
	outcome, err := parseOutcome(req.Outcome)
	if err != nil {
		return nil, err
	}

	c, err := s.cases.GetByID(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}

	expectedAction := repository.ActionAwaitingReview
	slots := c.ReviewSlots
	if phase == repository.PhaseApproval {
		expectedAction = repository.ActionAwaitingApproval
		slots = c.ApprovalSlots
	}

	if c.NextAction != expectedAction {
		return nil, errors.StaleCase(
			fmt.Sprintf("case is %s, not %s", c.NextAction, expectedAction))
	}
	if c.NextActionUserID == nil || *c.NextActionUserID != req.ActorID {
		return nil, errors.Unauthorized("case is not awaiting action from this user")
	}

	current := toChainSlots(slots)
	next, verdict, err := chain.Advance(current, req.ActorID, outcome)
	if err != nil {
		return nil, err
	}

	plan := &repository.TransitionPlan{
		CaseID:           c.ID,
		PurchasingCaseID: c.PurchasingCaseID,
		StageKind:        c.StageKind,
		GuardPhase:       phase,
		GuardNextAction:  expectedAction,
		SlotUpdates:      slotUpdates(slots, current, next, req.ActorID),
		ReviewVerdict:    c.ReviewVerdict,
		ApprovalVerdict:  c.ApprovalVerdict,
	}

	auditAction := "reviewed"
	if phase == repository.PhaseReview {
		plan.ReviewVerdict = string(verdict)
	} else {
		plan.ApprovalVerdict = string(verdict)
		auditAction = "approved"
	}

	switch verdict {
	case chain.VerdictPending:
		plan.NextAction = expectedAction
		plan.NextActionUserID = chain.NextActor(next, false)

	case chain.VerdictApproved:
		if phase == repository.PhaseReview {
			// Review phase resolved; hand off into the approval phase over
			// the combined reviewer+approver list.
			plan.NextAction = repository.ActionAwaitingApproval
			plan.NextActionUserID = chain.NextActor(
				chain.Combined(next, toChainSlots(c.ApprovalSlots)), false)
			if plan.NextActionUserID == nil {
				return nil, errors.InvalidChain("approval chain has no actor to hand off to")
			}
		} else {
			plan.NextAction = repository.ActionCompleted
			terminal := string(chain.VerdictApproved)
			plan.TerminalVerdict = &terminal

			cfg, err := s.pipeline.Stage(c.StageKind)
			if err != nil {
				return nil, err
			}
			if cfg.AutoCascade && cfg.NextStage != "" {
				nextCase, err := s.buildSuccessor(ctx, c, cfg)
				if err != nil {
					return nil, err
				}
				plan.NextCase = nextCase
			}
		}

	case chain.VerdictDeclined:
		plan.NextAction = repository.ActionDeclined
		terminal := string(chain.VerdictDeclined)
		plan.TerminalVerdict = &terminal
		auditAction = "declined"
		for _, rej := range req.RejectedItems {
			plan.Rejections = append(plan.Rejections, repository.ItemRejection{
				ItemID: rej.ItemID,
				Reason: rej.Reason,
			})
		}
	}

	if err := s.cases.ApplyTransition(ctx, plan); err != nil {
		return nil, err
	}

	// c was read before the guard; fold the applied plan back in so the
	// events below target the party now holding the task, not the caller.
	c.ReviewVerdict = plan.ReviewVerdict
	c.ApprovalVerdict = plan.ApprovalVerdict
	c.NextAction = plan.NextAction
	c.NextActionUserID = plan.NextActionUserID

	s.log.Info().
		Str("case_id", c.ID).
		Str("stage_kind", c.StageKind).
		Str("phase", phase).
		Str("outcome", req.Outcome).
		Str("verdict", string(verdict)).
		Str("acted_by", req.ActorID).
		Msg("Escalation step applied")

	before := expectedAction
	s.appendAudit(ctx, &repository.CaseAuditEntry{
		CaseID:           c.ID,
		PurchasingCaseID: c.PurchasingCaseID,
		Action:           auditAction,
		PerformedBy:      req.ActorID,
		NextActionBefore: &before,
		NextActionAfter:  &plan.NextAction,
		Metadata:         auditMetadata(req, verdict),
	})

	var spawnedID *string
	if plan.NextCase != nil {
		spawnedID = &plan.NextCase.ID

		s.log.Info().
			Str("case_id", c.ID).
			Str("spawned_case_id", plan.NextCase.ID).
			Str("spawned_stage", plan.NextCase.StageKind).
			Int64("spawned_total", plan.NextCase.MonetaryTotal).
			Msg("Next pipeline stage cascaded")

		s.appendAudit(ctx, &repository.CaseAuditEntry{
			CaseID:           plan.NextCase.ID,
			PurchasingCaseID: c.PurchasingCaseID,
			Action:           "cascaded",
			PerformedBy:      req.ActorID,
			NextActionAfter:  &plan.NextCase.NextAction,
			Metadata:         map[string]interface{}{"source_case_id": c.ID, "stage_kind": plan.NextCase.StageKind},
		})
		s.publishEvent(ctx, "stage_cascaded", plan.NextCase, req.ActorID, map[string]interface{}{"source_case_id": c.ID})
	}

	switch plan.NextAction {
	case repository.ActionCompleted:
		s.publishEvent(ctx, "case_approved", c, req.ActorID, nil)
	case repository.ActionDeclined:
		s.publishEvent(ctx, "case_declined", c, req.ActorID, nil)
	default:
		s.publishEvent(ctx, "action_required", c, req.ActorID, nil)
	}

	snap, err := s.GetCaseSnapshot(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	snap.SpawnedCaseID = spawnedID
	return snap, nil
}

// buildSuccessor derives the next stage's case from an approved source:
// non-rejected line items carry over and the chain is freshly assigned for
// the recomputed total.
func (s *WorkflowService) buildSuccessor(ctx context.Context, source *repository.Case, cfg StageConfig) (*repository.Case, error) {
	nextCfg, err := s.pipeline.Stage(cfg.NextStage)
	if err != nil {
		return nil, err
	}

	items := make([]*repository.LineItem, 0, len(source.Items))
	for _, item := range source.Items {
		if item.Rejected {
			continue
		}
		items = append(items, &repository.LineItem{
			LineNumber:  item.LineNumber,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Rate:        item.Rate,
			Hours:       item.Hours,
		})
	}
	if len(items) == 0 {
		return nil, errors.InvalidChain("no line items remain for the next stage")
	}

	return s.buildCase(ctx, nextCfg, source.PurchasingCaseID, &source.ID, items, source.CreatedBy)
}

// CreateNextStage manually spawns the successor of a completed case whose
// stage is not configured to auto-cascade. The chain is still freshly
// assigned by tier assignment.
func (s *WorkflowService) CreateNextStage(ctx context.Context, sourceCaseID, createdBy string) (*CaseSnapshot, error) {
	source, err := s.cases.GetByID(ctx, sourceCaseID)
	if err != nil {
		return nil, err
	}
	if source.NextAction != repository.ActionCompleted {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("source case is %s, only completed cases can spawn a next stage", source.NextAction))
	}

	cfg, err := s.pipeline.Stage(source.StageKind)
	if err != nil {
		return nil, err
	}
	if cfg.NextStage == "" {
		return nil, errors.New(errors.ErrCodeConflict, "stage has no successor stage")
	}
	if cfg.AutoCascade {
		return nil, errors.New(errors.ErrCodeConflict, "stage cascades automatically; successor already created")
	}

	next, err := s.buildSuccessor(ctx, source, cfg)
	if err != nil {
		return nil, err
	}
	next.CreatedBy = &createdBy
	if err := s.cases.Create(ctx, next); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("source_case_id", source.ID).
		Str("case_id", next.ID).
		Str("stage_kind", next.StageKind).
		Msg("Next pipeline stage created manually")

	s.appendAudit(ctx, &repository.CaseAuditEntry{
		CaseID:           next.ID,
		PurchasingCaseID: next.PurchasingCaseID,
		Action:           "cascaded",
		PerformedBy:      createdBy,
		NextActionAfter:  &next.NextAction,
		Metadata:         map[string]interface{}{"source_case_id": source.ID, "manual": true},
	})
	s.publishEvent(ctx, "stage_cascaded", next, createdBy, map[string]interface{}{"source_case_id": source.ID})

	return s.snapshot(next, nil), nil
}

// ── Queries ──────────────────────────────────────────────────────────────────

// GetCaseSnapshot returns the current state of a case.
func (s *WorkflowService) GetCaseSnapshot(ctx context.Context, caseID string) (*CaseSnapshot, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return s.snapshot(c, nil), nil
}

// GetAggregate returns the cross-stage verdict view for a purchasing case.
func (s *WorkflowService) GetAggregate(ctx context.Context, purchasingCaseID string) (*AggregateSnapshot, error) {
	pc, err := s.purchasing.GetByID(ctx, purchasingCaseID)
	if err != nil {
		return nil, err
	}
	return &AggregateSnapshot{
		ID:                  pc.ID,
		ReferenceNo:         pc.ReferenceNo,
		Description:         pc.Description,
		CreatedBy:           pc.CreatedBy,
		RequisitionVerdict:  pc.RequisitionVerdict,
		CanvassingVerdict:   pc.CanvassingVerdict,
		RequestVerdict:      pc.RequestVerdict,
		OrderVerdict:        pc.OrderVerdict,
		RFPVerdict:          pc.RFPVerdict,
		CheckVoucherVerdict: pc.CheckVoucherVerdict,
	}, nil
}

// ListPurchasingCases lists purchasing cases newest-first with pagination.
func (s *WorkflowService) ListPurchasingCases(ctx context.Context, page, pageSize int) ([]*repository.PurchasingCase, int64, error) {
	offset := (page - 1) * pageSize
	return s.purchasing.List(ctx, pageSize, offset)
}

// ListCases lists cases with optional filters and pagination.
func (s *WorkflowService) ListCases(ctx context.Context, purchasingCaseID, stageKind, nextAction *string, page, pageSize int) ([]*repository.Case, int64, error) {
	offset := (page - 1) * pageSize
	return s.cases.List(ctx, purchasingCaseID, stageKind, nextAction, pageSize, offset)
}

// GetPendingForUser returns the cases currently waiting on a user.
func (s *WorkflowService) GetPendingForUser(ctx context.Context, userID string) ([]*repository.Case, error) {
	return s.cases.GetPendingForUser(ctx, userID)
}

// GetAuditTrail returns the audit trail for one case.
func (s *WorkflowService) GetAuditTrail(ctx context.Context, caseID string) ([]*repository.CaseAuditEntry, error) {
	return s.audit.GetByCaseID(ctx, caseID)
}

// GetPipelineAuditTrail returns the audit trail across all stages of a
// purchasing transaction.
func (s *WorkflowService) GetPipelineAuditTrail(ctx context.Context, purchasingCaseID string) ([]*repository.CaseAuditEntry, error) {
	return s.audit.GetByPurchasingCaseID(ctx, purchasingCaseID)
}

// ── Internal helpers ─────────────────────────────────────────────────────────

func parseOutcome(s string) (chain.Status, error) {
	switch s {
	case OutcomeApprove:
		return chain.StatusApproved, nil
	case OutcomeDecline:
		return chain.StatusDeclined, nil
	}
	return "", errors.InvalidInput("outcome", "must be approve or decline")
}

// toChainSlots projects persisted slots into the pure chain model.
func toChainSlots(slots []*repository.CaseSlot) []chain.Slot {
	out := make([]chain.Slot, len(slots))
	for i, s := range slots {
		out[i] = chain.Slot{
			Role:    s.Role,
			ActorID: s.ActorID,
			Status:  chain.Status(s.Status),
		}
	}
	return out
}

// buildSlots constructs persisted slots for one phase from an assignment's
// seat list.
func buildSlots(phase string, roles []string, seats []*string) []*repository.CaseSlot {
	slots := make([]*repository.CaseSlot, len(roles))
	for i, role := range roles {
		var actorID *string
		if i < len(seats) {
			actorID = seats[i]
		}
		slots[i] = &repository.CaseSlot{
			Phase:    phase,
			Position: i + 1,
			Role:     role,
			ActorID:  actorID,
			Status:   string(chain.StatusPending),
		}
	}
	return slots
}

// slotUpdates diffs the pre/post chain states into per-slot updates,
// marking the caller's own slot as directly acted on.
func slotUpdates(persisted []*repository.CaseSlot, before, after []chain.Slot, actorID string) []repository.SlotUpdate {
	acting := -1
	for i, s := range before {
		if s.Status == chain.StatusPending && s.ActorID != nil && *s.ActorID == actorID {
			acting = i
			break
		}
	}

	var updates []repository.SlotUpdate
	for i := range after {
		if after[i].Status == before[i].Status {
			continue
		}
		su := repository.SlotUpdate{
			SlotID: persisted[i].ID,
			Status: string(after[i].Status),
		}
		if i == acting {
			su.ActedBy = &actorID
		}
		updates = append(updates, su)
	}
	return updates
}

func auditMetadata(req *SubmitActionRequest, verdict chain.Verdict) map[string]interface{} {
	md := map[string]interface{}{
		"outcome": req.Outcome,
		"verdict": string(verdict),
	}
	if req.Notes != nil {
		md["notes"] = *req.Notes
	}
	if len(req.RejectedItems) > 0 {
		md["rejected_items"] = len(req.RejectedItems)
	}
	return md
}

// snapshot builds a CaseSnapshot from an in-memory case.
func (s *WorkflowService) snapshot(c *repository.Case, spawnedID *string) *CaseSnapshot {
	snap := &CaseSnapshot{
		ID:               c.ID,
		StageKind:        c.StageKind,
		PurchasingCaseID: c.PurchasingCaseID,
		SourceCaseID:     c.SourceCaseID,
		TierCode:         c.TierCode,
		MonetaryTotal:    c.MonetaryTotal,
		ReviewVerdict:    c.ReviewVerdict,
		ApprovalVerdict:  c.ApprovalVerdict,
		NextAction:       c.NextAction,
		NextActionUserID: c.NextActionUserID,
		ReviewSlots:      slotViews(c.ReviewSlots),
		ApprovalSlots:    slotViews(c.ApprovalSlots),
		Items:            itemViews(c.Items),
		SpawnedCaseID:    spawnedID,
	}
	return snap
}

func slotViews(slots []*repository.CaseSlot) []SlotView {
	views := make([]SlotView, len(slots))
	for i, s := range slots {
		views[i] = SlotView{
			Phase:    s.Phase,
			Position: s.Position,
			Role:     s.Role,
			ActorID:  s.ActorID,
			Status:   s.Status,
		}
	}
	return views
}

func itemViews(items []*repository.LineItem) []ItemView {
	views := make([]ItemView, len(items))
	for i, item := range items {
		views[i] = ItemView{
			ID:              item.ID,
			LineNumber:      item.LineNumber,
			Description:     item.Description,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice,
			Rate:            item.Rate,
			Hours:           item.Hours,
			Rejected:        item.Rejected,
			RejectionReason: item.RejectionReason,
		}
	}
	return views
}

// appendAudit writes an audit entry and logs a warning on failure (never
// returns an error).
func (s *WorkflowService) appendAudit(ctx context.Context, entry *repository.CaseAuditEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("case_id", entry.CaseID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// publishEvent emits a workflow event; recipients are the party now holding
// the task, falling back to the case creator.
func (s *WorkflowService) publishEvent(ctx context.Context, eventType string, c *repository.Case, actorID string, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	var recipients []string
	if c.NextActionUserID != nil {
		recipients = append(recipients, *c.NextActionUserID)
	} else if c.CreatedBy != nil {
		recipients = append(recipients, *c.CreatedBy)
	}
	s.events.PublishCaseEvent(ctx, eventType, c.ID, c.PurchasingCaseID, actorID, recipients, payload)
}
