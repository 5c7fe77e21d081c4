package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/lumen-erp/be-procurement/internal/database"
	"github.com/lumen-erp/be-procurement/internal/errors"
)

// CaseAuditRepository appends and reads immutable case audit log entries.
type CaseAuditRepository struct {
	db *database.DB
}

// NewCaseAuditRepository creates a new CaseAuditRepository.
func NewCaseAuditRepository(db *database.DB) *CaseAuditRepository {
	return &CaseAuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger
// so this is the only mutation operation exposed.
func (r *CaseAuditRepository) Append(ctx context.Context, entry *CaseAuditEntry) error {
	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO case_audit_log
		    (case_id, purchasing_case_id, action, performed_by,
		     next_action_before, next_action_after, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, performed_at
	`

	return r.db.QueryRow(ctx, query,
		entry.CaseID,
		entry.PurchasingCaseID,
		entry.Action,
		entry.PerformedBy,
		entry.NextActionBefore,
		entry.NextActionAfter,
		metadataJSON,
	).Scan(&entry.ID, &entry.PerformedAt)
}

// GetByCaseID returns the audit trail for one case, oldest-first.
func (r *CaseAuditRepository) GetByCaseID(ctx context.Context, caseID string) ([]*CaseAuditEntry, error) {
	query := `
		SELECT id, case_id, purchasing_case_id, action, performed_by,
		       performed_at, next_action_before, next_action_after, metadata
		FROM case_audit_log
		WHERE case_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, caseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// GetByPurchasingCaseID returns the audit trail across all stages of one
// purchasing transaction, oldest-first.
func (r *CaseAuditRepository) GetByPurchasingCaseID(ctx context.Context, purchasingCaseID string) ([]*CaseAuditEntry, error) {
	query := `
		SELECT id, case_id, purchasing_case_id, action, performed_by,
		       performed_at, next_action_before, next_action_after, metadata
		FROM case_audit_log
		WHERE purchasing_case_id = $1
		ORDER BY performed_at ASC
	`

	rows, err := r.db.Query(ctx, query, purchasingCaseID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pipeline audit log")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *CaseAuditRepository) scanRows(rows pgx.Rows) ([]*CaseAuditEntry, error) {
	var entries []*CaseAuditEntry
	for rows.Next() {
		entry := &CaseAuditEntry{}
		var metadataJSON []byte

		err := rows.Scan(
			&entry.ID,
			&entry.CaseID,
			&entry.PurchasingCaseID,
			&entry.Action,
			&entry.PerformedBy,
			&entry.PerformedAt,
			&entry.NextActionBefore,
			&entry.NextActionAfter,
			&metadataJSON,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan audit entry")
		}

		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
