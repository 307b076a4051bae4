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

// ApprovalRepository persists Approval rows for the maker-checker workflow.
//
// Schema:
//
//	approvals(approval_id PK, entity_type, entity_id, action, status, maker,
//	  checker, remarks, idempotency_key, created_at, decided_at,
//	  UNIQUE(entity_type, entity_id, idempotency_key) WHERE idempotency_key IS NOT NULL)
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository builds an ApprovalRepository bound to db.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// FindByIdempotencyKey returns the existing Approval row for
// (entity_type, entity_id, idempotency_key), if any.
func (r *ApprovalRepository) FindByIdempotencyKey(ctx context.Context, tx pgx.Tx, entityType domain.EntityType, entityID, idempotencyKey string) (domain.Approval, bool, error) {
	if idempotencyKey == "" {
		return domain.Approval{}, false, nil
	}
	query := `
		SELECT approval_id, entity_type, entity_id, action, status, maker, checker, remarks,
		       idempotency_key, created_at, decided_at
		FROM approvals WHERE entity_type = $1 AND entity_id = $2 AND idempotency_key = $3
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query, entityType, entityID, idempotencyKey)
	} else {
		row = r.db.QueryRow(ctx, query, entityType, entityID, idempotencyKey)
	}

	a, err := scanApproval(row)
	if err == nil {
		return a, true, nil
	}
	if ae, ok := apperr.As(err); ok && ae.Kind == apperr.KindNotFound {
		return domain.Approval{}, false, nil
	}
	return domain.Approval{}, false, err
}

// InsertSubmit records a SUBMIT Approval row.
func (r *ApprovalRepository) InsertSubmit(ctx context.Context, tx pgx.Tx, approvalID string, entityType domain.EntityType, entityID, maker, idempotencyKey string) (domain.Approval, error) {
	a := domain.Approval{
		ApprovalID:     approvalID,
		EntityType:     entityType,
		EntityID:       entityID,
		Action:         domain.ApprovalActionSubmit,
		Status:         domain.ApprovalPending,
		Maker:          maker,
		IdempotencyKey: idempotencyKey,
	}
	var idemp any
	if idempotencyKey != "" {
		idemp = idempotencyKey
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO approvals (approval_id, entity_type, entity_id, action, status, maker, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, a.ApprovalID, a.EntityType, a.EntityID, a.Action, a.Status, a.Maker, idemp).Scan(&a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return a, apperr.Conflict(fmt.Sprintf("idempotency_key %q already used for %s %s", idempotencyKey, entityType, entityID))
		}
		return a, apperr.Wrap(err, apperr.KindUnavailable, "inserting approvals row")
	}
	return a, nil
}

// InsertDecision records an APPROVE/REJECT Approval row.
func (r *ApprovalRepository) InsertDecision(ctx context.Context, tx pgx.Tx, approvalID string, entityType domain.EntityType, entityID string, action domain.ApprovalAction, status domain.ApprovalStatus, maker, checker, remarks string) (domain.Approval, error) {
	a := domain.Approval{
		ApprovalID: approvalID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Status:     status,
		Maker:      maker,
		Checker:    checker,
		Remarks:    remarks,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO approvals (approval_id, entity_type, entity_id, action, status, maker, checker, remarks, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING created_at, decided_at
	`, a.ApprovalID, a.EntityType, a.EntityID, a.Action, a.Status, a.Maker, a.Checker, a.Remarks,
	).Scan(&a.CreatedAt, &a.DecidedAt)
	if err != nil {
		return a, apperr.Wrap(err, apperr.KindUnavailable, "inserting approvals decision row")
	}
	return a, nil
}

// LatestMaker returns the maker recorded on the most recent SUBMIT for an
// entity, used to enforce maker != checker on approve/reject.
func (r *ApprovalRepository) LatestMaker(ctx context.Context, tx pgx.Tx, entityType domain.EntityType, entityID string) (string, error) {
	query := `
		SELECT maker FROM approvals
		WHERE entity_type = $1 AND entity_id = $2 AND action = 'SUBMIT'
		ORDER BY created_at DESC LIMIT 1
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query, entityType, entityID)
	} else {
		row = r.db.QueryRow(ctx, query, entityType, entityID)
	}
	var maker string
	err := row.Scan(&maker)
	if err == pgx.ErrNoRows {
		return "", apperr.NotFound("Approval", fmt.Sprintf("submit for %s %s", entityType, entityID))
	}
	if err != nil {
		return "", apperr.Wrap(err, apperr.KindUnavailable, "querying latest submit maker")
	}
	return maker, nil
}

// ListPendingFor lists PENDING approvals where the given principal is not
// the maker, i.e. entities the principal may act on as checker.
func (r *ApprovalRepository) ListPendingFor(ctx context.Context, principal string, page PageRequest) (Page[domain.Approval], error) {
	page = page.Normalize(50, 100)

	args := []any{principal}
	argN := 2
	conditions := []string{"status = 'PENDING'", "maker <> $1"}

	if page.Cursor != "" {
		c, err := DecodeCursor(page.Cursor)
		if err != nil {
			return Page[domain.Approval]{}, err
		}
		conditions = append(conditions, fmt.Sprintf("(created_at, approval_id) < ($%d, $%d)", argN, argN+1))
		args = append(args, c.CreatedAt, c.ID)
		argN += 2
	}

	args = append(args, page.Limit+1)
	query := fmt.Sprintf(`
		SELECT approval_id, entity_type, entity_id, action, status, maker, checker, remarks,
		       idempotency_key, created_at, decided_at
		FROM approvals WHERE %s
		ORDER BY created_at DESC, approval_id DESC
		LIMIT $%d
	`, joinAnd(conditions), argN)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return Page[domain.Approval]{}, apperr.Wrap(err, apperr.KindUnavailable, "listing pending approvals")
	}
	defer rows.Close()

	var items []domain.Approval
	for rows.Next() {
		a, err := scanApprovalRows(rows)
		if err != nil {
			return Page[domain.Approval]{}, err
		}
		items = append(items, a)
	}

	return BuildPage(items, page.Limit, page.Cursor != "", func(v domain.Approval) string { return v.ApprovalID },
		func(v domain.Approval) time.Time { return v.CreatedAt }), nil
}

func scanApproval(row pgx.Row) (domain.Approval, error) {
	var a domain.Approval
	var idemp *string
	err := row.Scan(&a.ApprovalID, &a.EntityType, &a.EntityID, &a.Action, &a.Status, &a.Maker, &a.Checker,
		&a.Remarks, &idemp, &a.CreatedAt, &a.DecidedAt)
	if err == pgx.ErrNoRows {
		return a, apperr.NotFound("Approval", "")
	}
	if err != nil {
		return a, apperr.Wrap(err, apperr.KindUnavailable, "scanning approvals row")
	}
	if idemp != nil {
		a.IdempotencyKey = *idemp
	}
	return a, nil
}

func scanApprovalRows(rows pgx.Rows) (domain.Approval, error) {
	var a domain.Approval
	var idemp *string
	err := rows.Scan(&a.ApprovalID, &a.EntityType, &a.EntityID, &a.Action, &a.Status, &a.Maker, &a.Checker,
		&a.Remarks, &idemp, &a.CreatedAt, &a.DecidedAt)
	if err != nil {
		return a, apperr.Wrap(err, apperr.KindUnavailable, "scanning approvals row")
	}
	if idemp != nil {
		a.IdempotencyKey = *idemp
	}
	return a, nil
}
