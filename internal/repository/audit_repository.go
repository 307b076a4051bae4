package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
)

// AuditRepository persists the append-only AuditEntry log.
//
// Schema:
//
//	audit_entries(audit_id PK, entity_type, entity_id, action, old_value JSONB,
//	  new_value JSONB, performed_by, performed_at)
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository builds an AuditRepository bound to db.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one AuditEntry within tx, so it commits atomically with
// the state change it describes.
func (r *AuditRepository) Append(ctx context.Context, tx pgx.Tx, e domain.AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO audit_entries (audit_id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, e.AuditID, e.EntityType, e.EntityID, e.Action, nullableJSON(e.OldValue), nullableJSON(e.NewValue), e.PerformedBy)
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "inserting audit_entries row")
	}
	return nil
}

// AuditFilter narrows a List query.
type AuditFilter struct {
	EntityType  *domain.EntityType
	EntityID    *string
	Action      *string
	PerformedBy *string
	Since       *time.Time
	Until       *time.Time
}

// List returns audit entries matching filter, keyset-paginated with default
// limit 100 and cap 1000.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter, page PageRequest) (Page[domain.AuditEntry], error) {
	page = page.Normalize(100, 1000)

	conditions := []string{"1=1"}
	args := []any{}
	argN := 1
	addEq := func(col string, val any) {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", col, argN))
		args = append(args, val)
		argN++
	}

	if filter.EntityType != nil {
		addEq("entity_type", *filter.EntityType)
	}
	if filter.EntityID != nil {
		addEq("entity_id", *filter.EntityID)
	}
	if filter.Action != nil {
		addEq("action", *filter.Action)
	}
	if filter.PerformedBy != nil {
		addEq("performed_by", *filter.PerformedBy)
	}
	if filter.Since != nil {
		conditions = append(conditions, fmt.Sprintf("performed_at >= $%d", argN))
		args = append(args, *filter.Since)
		argN++
	}
	if filter.Until != nil {
		conditions = append(conditions, fmt.Sprintf("performed_at <= $%d", argN))
		args = append(args, *filter.Until)
		argN++
	}

	if page.Cursor != "" {
		c, err := DecodeCursor(page.Cursor)
		if err != nil {
			return Page[domain.AuditEntry]{}, err
		}
		conditions = append(conditions, fmt.Sprintf("(performed_at, audit_id) < ($%d, $%d)", argN, argN+1))
		args = append(args, c.CreatedAt, c.ID)
		argN += 2
	}

	args = append(args, page.Limit+1)
	query := fmt.Sprintf(`
		SELECT audit_id, entity_type, entity_id, action, old_value, new_value, performed_by, performed_at
		FROM audit_entries WHERE %s
		ORDER BY performed_at DESC, audit_id DESC
		LIMIT $%d
	`, joinAnd(conditions), argN)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return Page[domain.AuditEntry]{}, apperr.Wrap(err, apperr.KindUnavailable, "listing audit_entries")
	}
	defer rows.Close()

	var items []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		if err := rows.Scan(&e.AuditID, &e.EntityType, &e.EntityID, &e.Action, &e.OldValue, &e.NewValue,
			&e.PerformedBy, &e.PerformedAt); err != nil {
			return Page[domain.AuditEntry]{}, apperr.Wrap(err, apperr.KindUnavailable, "scanning audit_entries row")
		}
		items = append(items, e)
	}

	return BuildPage(items, page.Limit, page.Cursor != "", func(v domain.AuditEntry) string { return v.AuditID },
		func(v domain.AuditEntry) time.Time { return v.PerformedAt }), nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
