package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/lumen-erp/be-procurement/internal/database"
	"github.com/lumen-erp/be-procurement/internal/errors"
)

// PurchasingCaseRepository manages the cross-stage aggregate rows. Verdict
// columns are written only through CaseRepository.ApplyTransition so that
// the stamp shares the transaction of the stage case's own update.
type PurchasingCaseRepository struct {
	db *database.DB
}

// NewPurchasingCaseRepository creates a new PurchasingCaseRepository.
func NewPurchasingCaseRepository(db *database.DB) *PurchasingCaseRepository {
	return &PurchasingCaseRepository{db: db}
}

// Create inserts a new purchasing case with all stage verdicts unset.
func (r *PurchasingCaseRepository) Create(ctx context.Context, pc *PurchasingCase) error {
	query := `
		INSERT INTO purchasing_cases (reference_no, description, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		pc.ReferenceNo,
		pc.Description,
		pc.CreatedBy,
	).Scan(&pc.ID, &pc.CreatedAt, &pc.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create purchasing case")
	}
	return nil
}

// GetByID retrieves a purchasing case by primary key.
func (r *PurchasingCaseRepository) GetByID(ctx context.Context, id string) (*PurchasingCase, error) {
	query := `
		SELECT id, reference_no, description, created_by,
		       requisition_verdict, canvassing_verdict, request_verdict,
		       order_verdict, rfp_verdict, check_voucher_verdict,
		       created_at, updated_at
		FROM purchasing_cases
		WHERE id = $1
	`

	pc := &PurchasingCase{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&pc.ID,
		&pc.ReferenceNo,
		&pc.Description,
		&pc.CreatedBy,
		&pc.RequisitionVerdict,
		&pc.CanvassingVerdict,
		&pc.RequestVerdict,
		&pc.OrderVerdict,
		&pc.RFPVerdict,
		&pc.CheckVoucherVerdict,
		&pc.CreatedAt,
		&pc.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("purchasing_case", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get purchasing case")
	}
	return pc, nil
}

// List returns purchasing cases newest-first with pagination.
func (r *PurchasingCaseRepository) List(ctx context.Context, limit, offset int) ([]*PurchasingCase, int64, error) {
	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM purchasing_cases`).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count purchasing cases")
	}

	query := `
		SELECT id, reference_no, description, created_by,
		       requisition_verdict, canvassing_verdict, request_verdict,
		       order_verdict, rfp_verdict, check_voucher_verdict,
		       created_at, updated_at
		FROM purchasing_cases
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list purchasing cases")
	}
	defer rows.Close()

	out := make([]*PurchasingCase, 0)
	for rows.Next() {
		pc := &PurchasingCase{}
		err := rows.Scan(
			&pc.ID,
			&pc.ReferenceNo,
			&pc.Description,
			&pc.CreatedBy,
			&pc.RequisitionVerdict,
			&pc.CanvassingVerdict,
			&pc.RequestVerdict,
			&pc.OrderVerdict,
			&pc.RFPVerdict,
			&pc.CheckVoucherVerdict,
			&pc.CreatedAt,
			&pc.UpdatedAt,
		)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan purchasing case")
		}
		out = append(out, pc)
	}
	return out, total, nil
}
