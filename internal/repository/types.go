package repository

import "time"

// ── Domain records for the procurement escalation pipeline ───────────────────

// Stage kind values. One Case exists per stage per purchasing transaction.
const (
	StageRequisition  = "requisition"
	StageCanvassing   = "canvassing"
	StageRequest      = "request"
	StageOrder        = "order"
	StageRFP          = "rfp"
	StageCheckVoucher = "check_voucher"
)

// Next-action values for a case.
const (
	ActionAwaitingReview   = "awaiting_review"
	ActionAwaitingApproval = "awaiting_approval"
	ActionDeclined         = "declined"
	ActionCompleted        = "completed"
)

// Slot phase values.
const (
	PhaseReview   = "review"
	PhaseApproval = "approval"
)

// Case is one pipeline stage's business document under escalation.
type Case struct {
	ID               string
	StageKind        string
	PurchasingCaseID string
	SourceCaseID     *string // set when this case was cascaded from a predecessor
	TierCode         string
	MonetaryTotal    int64 // cents
	ReviewVerdict    string
	ApprovalVerdict  string
	NextAction       string
	NextActionUserID *string
	CreatedBy        *string
	CreatedAt        time.Time
	UpdatedAt        time.Time

	ReviewSlots   []*CaseSlot
	ApprovalSlots []*CaseSlot
	Items         []*LineItem
}

// CaseSlot is one seat in a case's review or approval chain.
type CaseSlot struct {
	ID        string
	CaseID    string
	Phase     string // review | approval
	Position  int    // 1-based within the phase
	Role      string // reviewer1..reviewer2, approver1..approver3
	ActorID   *string
	Status    string // pending | approved | declined
	ActedBy   *string
	ActedAt   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LineItem is one line of a stage case. Goods-type stages price lines as
// quantity x unit price; service-type stages as rate x hours.
type LineItem struct {
	ID              string
	CaseID          string
	LineNumber      int
	Description     string
	Quantity        float64
	UnitPrice       int64 // cents
	Rate            int64 // cents per hour
	Hours           float64
	Rejected        bool
	RejectionReason *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PurchasingCase is the cross-stage aggregate: one row per end-to-end
// transaction, one nullable verdict column per stage kind. Each stage
// writes only its own column.
type PurchasingCase struct {
	ID                  string
	ReferenceNo         string
	Description         *string
	CreatedBy           *string
	RequisitionVerdict  *string
	CanvassingVerdict   *string
	RequestVerdict      *string
	OrderVerdict        *string
	RFPVerdict          *string
	CheckVoucherVerdict *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// TierChainSpec is the JSONB payload of a tier rule: the reviewer and
// approver seats assigned for a matching amount band. Entries may be null
// for intentionally absent seats.
type TierChainSpec struct {
	Reviewers []*string `json:"reviewers"` // 2 seats
	Approvers []*string `json:"approvers"` // 3 seats
}

// TierRule maps a tier code plus amount band to a chain assignment.
// Rules are evaluated in priority order; first match wins.
type TierRule struct {
	ID        string
	TierCode  string
	RuleName  string
	IsActive  bool
	MinAmount *int64 // cents; nil = no lower bound
	MaxAmount *int64 // cents; nil = no upper bound
	Chain     TierChainSpec
	Priority  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CaseAuditEntry is one immutable record in the case audit log.
type CaseAuditEntry struct {
	ID               string
	CaseID           string
	PurchasingCaseID string
	Action           string // submitted | reviewed | approved | declined | cascaded
	PerformedBy      string
	PerformedAt      time.Time
	NextActionBefore *string
	NextActionAfter  *string
	Metadata         map[string]interface{}
}

// ItemRejection tags a single line item with a rejection reason as part of
// a decline submission.
type ItemRejection struct {
	ItemID string
	Reason string
}

// SlotUpdate carries one slot's new status into ApplyTransition.
type SlotUpdate struct {
	SlotID  string
	Status  string
	ActedBy *string // set only on the slot the caller decided directly
}

// TransitionPlan is everything one escalation step writes, applied in a
// single transaction by CaseRepository.ApplyTransition.
type TransitionPlan struct {
	CaseID           string
	PurchasingCaseID string
	StageKind        string

	// Optimistic phase guard: the case update only applies while the acted
	// phase's verdict is still pending and next_action matches.
	GuardPhase      string // review | approval
	GuardNextAction string

	SlotUpdates      []SlotUpdate
	ReviewVerdict    string
	ApprovalVerdict  string
	NextAction       string
	NextActionUserID *string

	// TerminalVerdict, when set, is stamped into the aggregate's column for
	// StageKind in the same transaction.
	TerminalVerdict *string

	Rejections []ItemRejection

	// NextCase, when set, is the auto-cascaded successor inserted in the
	// same transaction (with its slots and line items).
	NextCase *Case
}
