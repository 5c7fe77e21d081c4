package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/lumen-erp/be-procurement/internal/database"
	"github.com/lumen-erp/be-procurement/internal/errors"
)

// CaseRepository manages stage cases, their chain slots and line items.
// Case + slot + item creation is always done together in a single
// transaction, and an escalation step is applied atomically by
// ApplyTransition.
type CaseRepository struct {
	db *database.DB
}

// NewCaseRepository creates a new CaseRepository.
func NewCaseRepository(db *database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

// aggregateColumns maps a stage kind to its verdict column on
// purchasing_cases. Acts as a whitelist for the dynamic column write.
var aggregateColumns = map[string]string{
	StageRequisition:  "requisition_verdict",
	StageCanvassing:   "canvassing_verdict",
	StageRequest:      "request_verdict",
	StageOrder:        "order_verdict",
	StageRFP:          "rfp_verdict",
	StageCheckVoucher: "check_voucher_verdict",
}

// Create inserts a case with its slots and line items in one transaction.
func (r *CaseRepository) Create(ctx context.Context, c *Case) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return insertCase(ctx, tx, c)
	})
}

// insertCase writes a case plus its slots and items using the given
// transaction. Shared by Create and ApplyTransition (cascade inserts).
func insertCase(ctx context.Context, tx pgx.Tx, c *Case) error {
	caseQuery := `
		INSERT INTO cases
		    (stage_kind, purchasing_case_id, source_case_id, tier_code,
		     monetary_total, review_verdict, approval_verdict,
		     next_action, next_action_user_id, created_by)
		VALUES ($1, $2, $3, $4,
		        $5, $6::verdict, $7::verdict,
		        $8::case_action, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, caseQuery,
		c.StageKind,
		c.PurchasingCaseID,
		c.SourceCaseID,
		c.TierCode,
		c.MonetaryTotal,
		c.ReviewVerdict,
		c.ApprovalVerdict,
		c.NextAction,
		c.NextActionUserID,
		c.CreatedBy,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create case")
	}

	slotQuery := `
		INSERT INTO case_slots
		    (case_id, phase, position, role, actor_id, status)
		VALUES ($1, $2::slot_phase, $3, $4, $5, $6::slot_status)
		RETURNING id, created_at, updated_at
	`

	for _, slot := range append(append([]*CaseSlot{}, c.ReviewSlots...), c.ApprovalSlots...) {
		slot.CaseID = c.ID
		err := tx.QueryRow(ctx, slotQuery,
			slot.CaseID,
			slot.Phase,
			slot.Position,
			slot.Role,
			slot.ActorID,
			slot.Status,
		).Scan(&slot.ID, &slot.CreatedAt, &slot.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create case slot")
		}
	}

	itemQuery := `
		INSERT INTO case_line_items
		    (case_id, line_number, description, quantity, unit_price,
		     rate, hours, rejected, rejection_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	for _, item := range c.Items {
		item.CaseID = c.ID
		err := tx.QueryRow(ctx, itemQuery,
			item.CaseID,
			item.LineNumber,
			item.Description,
			item.Quantity,
			item.UnitPrice,
			item.Rate,
			item.Hours,
			item.Rejected,
			item.RejectionReason,
		).Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create case line item")
		}
	}

	return nil
}

// GetByID retrieves a case with its slots and line items.
func (r *CaseRepository) GetByID(ctx context.Context, id string) (*Case, error) {
	query := `
		SELECT id, stage_kind, purchasing_case_id, source_case_id, tier_code,
		       monetary_total, review_verdict, approval_verdict,
		       next_action, next_action_user_id,
		       created_by, created_at, updated_at
		FROM cases
		WHERE id = $1
	`

	c := &Case{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&c.ID,
		&c.StageKind,
		&c.PurchasingCaseID,
		&c.SourceCaseID,
		&c.TierCode,
		&c.MonetaryTotal,
		&c.ReviewVerdict,
		&c.ApprovalVerdict,
		&c.NextAction,
		&c.NextActionUserID,
		&c.CreatedBy,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("case", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get case")
	}

	if err := r.loadSlots(ctx, c); err != nil {
		return nil, err
	}

	items, err := r.GetLineItems(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Items = items

	return c, nil
}

// loadSlots fills ReviewSlots and ApprovalSlots ordered by position.
func (r *CaseRepository) loadSlots(ctx context.Context, c *Case) error {
	query := `
		SELECT id, case_id, phase, position, role, actor_id, status,
		       acted_by, acted_at, created_at, updated_at
		FROM case_slots
		WHERE case_id = $1
		ORDER BY phase DESC, position ASC
	`

	rows, err := r.db.Query(ctx, query, c.ID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to get case slots")
	}
	defer rows.Close()

	c.ReviewSlots = nil
	c.ApprovalSlots = nil
	for rows.Next() {
		s := &CaseSlot{}
		err := rows.Scan(
			&s.ID,
			&s.CaseID,
			&s.Phase,
			&s.Position,
			&s.Role,
			&s.ActorID,
			&s.Status,
			&s.ActedBy,
			&s.ActedAt,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to scan case slot")
		}
		if s.Phase == PhaseReview {
			c.ReviewSlots = append(c.ReviewSlots, s)
		} else {
			c.ApprovalSlots = append(c.ApprovalSlots, s)
		}
	}
	return nil
}

// GetLineItems retrieves all line items for a case ordered by line number.
func (r *CaseRepository) GetLineItems(ctx context.Context, caseID string) ([]*LineItem, error) {
	query := `
		SELECT id, case_id, line_number, description, quantity, unit_price,
		       rate, hours, rejected, rejection_reason, created_at, updated_at
		FROM case_line_items
		WHERE case_id = $1
		ORDER BY line_number
	`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get case line items")
	}
	defer rows.Close()

	items := make([]*LineItem, 0)
	for rows.Next() {
		item := &LineItem{}
		err := rows.Scan(
			&item.ID,
			&item.CaseID,
			&item.LineNumber,
			&item.Description,
			&item.Quantity,
			&item.UnitPrice,
			&item.Rate,
			&item.Hours,
			&item.Rejected,
			&item.RejectionReason,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan case line item")
		}
		items = append(items, item)
	}
	return items, nil
}

// List retrieves cases with filtering and pagination. Slots and items are
// not loaded for listings.
func (r *CaseRepository) List(ctx context.Context, purchasingCaseID, stageKind, nextAction *string, limit, offset int) ([]*Case, int64, error) {
	query := `
		SELECT id, stage_kind, purchasing_case_id, source_case_id, tier_code,
		       monetary_total, review_verdict, approval_verdict,
		       next_action, next_action_user_id,
		       created_by, created_at, updated_at
		FROM cases
		WHERE TRUE
	`
	countQuery := `SELECT COUNT(*) FROM cases WHERE TRUE`

	args := []interface{}{}
	argCount := 1

	if purchasingCaseID != nil {
		cond := fmt.Sprintf(" AND purchasing_case_id = $%d", argCount)
		query += cond
		countQuery += cond
		args = append(args, *purchasingCaseID)
		argCount++
	}
	if stageKind != nil {
		cond := fmt.Sprintf(" AND stage_kind = $%d", argCount)
		query += cond
		countQuery += cond
		args = append(args, *stageKind)
		argCount++
	}
	if nextAction != nil {
		cond := fmt.Sprintf(" AND next_action = $%d::case_action", argCount)
		query += cond
		countQuery += cond
		args = append(args, *nextAction)
		argCount++
	}

	query += " ORDER BY created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, limit, offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count cases")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list cases")
	}
	defer rows.Close()

	cases := make([]*Case, 0)
	for rows.Next() {
		c := &Case{}
		err := rows.Scan(
			&c.ID,
			&c.StageKind,
			&c.PurchasingCaseID,
			&c.SourceCaseID,
			&c.TierCode,
			&c.MonetaryTotal,
			&c.ReviewVerdict,
			&c.ApprovalVerdict,
			&c.NextAction,
			&c.NextActionUserID,
			&c.CreatedBy,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan case")
		}
		cases = append(cases, c)
	}

	return cases, total, nil
}

// GetPendingForUser returns cases currently awaiting action from a user.
func (r *CaseRepository) GetPendingForUser(ctx context.Context, userID string) ([]*Case, error) {
	query := `
		SELECT id, stage_kind, purchasing_case_id, source_case_id, tier_code,
		       monetary_total, review_verdict, approval_verdict,
		       next_action, next_action_user_id,
		       created_by, created_at, updated_at
		FROM cases
		WHERE next_action_user_id = $1
		  AND next_action IN ('awaiting_review', 'awaiting_approval')
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending cases")
	}
	defer rows.Close()

	cases := make([]*Case, 0)
	for rows.Next() {
		c := &Case{}
		err := rows.Scan(
			&c.ID,
			&c.StageKind,
			&c.PurchasingCaseID,
			&c.SourceCaseID,
			&c.TierCode,
			&c.MonetaryTotal,
			&c.ReviewVerdict,
			&c.ApprovalVerdict,
			&c.NextAction,
			&c.NextActionUserID,
			&c.CreatedBy,
			&c.CreatedAt,
			&c.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan pending case")
		}
		cases = append(cases, c)
	}
	return cases, nil
}

// ApplyTransition applies one escalation step atomically: slot stamps, the
// guarded case update, the aggregate verdict write-back, line item
// rejection tags and, when the stage auto-cascades, the successor case
// insert. The case update is predicated on the acted phase's verdict still
// being pending; losing that race rolls everything back with STALE_CASE.
func (r *CaseRepository) ApplyTransition(ctx context.Context, plan *TransitionPlan) error {
	guardColumn := "review_verdict"
	if plan.GuardPhase == PhaseApproval {
		guardColumn = "approval_verdict"
	}
	aggregateColumn, ok := aggregateColumns[plan.StageKind]
	if !ok {
		return errors.InvalidInput("stage_kind", fmt.Sprintf("unknown stage kind %q", plan.StageKind))
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		// Guarded case update first: if the case already left the expected
		// phase there is no point stamping anything.
		caseQuery := fmt.Sprintf(`
			UPDATE cases
			SET review_verdict      = $2::verdict,
			    approval_verdict    = $3::verdict,
			    next_action         = $4::case_action,
			    next_action_user_id = $5,
			    updated_at          = NOW()
			WHERE id = $1
			  AND %s = 'pending'::verdict
			  AND next_action = $6::case_action
			RETURNING id
		`, guardColumn)

		var returnedID string
		err := tx.QueryRow(ctx, caseQuery,
			plan.CaseID,
			plan.ReviewVerdict,
			plan.ApprovalVerdict,
			plan.NextAction,
			plan.NextActionUserID,
			plan.GuardNextAction,
		).Scan(&returnedID)
		if err == pgx.ErrNoRows {
			return errors.StaleCase("case already left the expected phase")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update case")
		}

		slotQuery := `
			UPDATE case_slots
			SET status     = $2::slot_status,
			    acted_by   = COALESCE($3, acted_by),
			    acted_at   = CASE WHEN $3::text IS NOT NULL THEN NOW() ELSE acted_at END,
			    updated_at = NOW()
			WHERE id = $1
			RETURNING id
		`

		for _, su := range plan.SlotUpdates {
			var slotID string
			err := tx.QueryRow(ctx, slotQuery, su.SlotID, su.Status, su.ActedBy).Scan(&slotID)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to update case slot")
			}
		}

		for _, rej := range plan.Rejections {
			tag, err := tx.Exec(ctx, `
				UPDATE case_line_items
				SET rejected         = TRUE,
				    rejection_reason = $3,
				    updated_at       = NOW()
				WHERE id = $1 AND case_id = $2
			`, rej.ItemID, plan.CaseID, rej.Reason)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to tag rejected line item")
			}
			if tag.RowsAffected() == 0 {
				return errors.NotFound("case_line_item", rej.ItemID)
			}
		}

		if plan.TerminalVerdict != nil {
			aggQuery := fmt.Sprintf(`
				UPDATE purchasing_cases
				SET %s = $2::verdict,
				    updated_at = NOW()
				WHERE id = $1
				RETURNING id
			`, aggregateColumn)

			var aggID string
			err := tx.QueryRow(ctx, aggQuery, plan.PurchasingCaseID, *plan.TerminalVerdict).Scan(&aggID)
			if err == pgx.ErrNoRows {
				return errors.NotFound("purchasing_case", plan.PurchasingCaseID)
			}
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to stamp purchasing case verdict")
			}
		}

		if plan.NextCase != nil {
			if err := insertCase(ctx, tx, plan.NextCase); err != nil {
				return errors.CascadeFailed(err, "failed to insert cascaded stage case")
			}
		}

		return nil
	})
}
