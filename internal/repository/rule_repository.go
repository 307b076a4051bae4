package repository

import (
	"fmt"
	"time"

	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
)

// RuleRepository persists Rule identities and their immutable RuleVersions.
//
// Schema:
//
//	rules(rule_id PK, rule_name, description, rule_type, status,
//	  current_version, row_version, created_by, created_at, updated_at)
//	rule_versions(rule_version_id PK, rule_id FK, version, condition_tree JSONB,
//	  scope JSONB, priority, action, status, created_by, created_at,
//	  approved_by, approved_at, UNIQUE(rule_id, version))
type RuleRepository struct {
	db *database.DB
}

// NewRuleRepository builds a RuleRepository bound to db.
func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// CreateRule creates a Rule identity in DRAFT with current_version = 1.
// ruleID is generated by the caller via idgen.
func (r *RuleRepository) CreateRule(ctx context.Context, ruleID string, rule domain.Rule) (domain.Rule, error) {
	rule.RuleID = ruleID
	rule.Status = domain.StatusDraft
	rule.CurrentVersion = 1
	rule.RowVersion = 0
	err := r.db.QueryRow(ctx, `
		INSERT INTO rules (rule_id, rule_name, description, rule_type, status, current_version, row_version, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, rule.RuleID, rule.RuleName, rule.Description, rule.RuleType, rule.Status, rule.CurrentVersion, rule.RowVersion, rule.CreatedBy,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return domain.Rule{}, apperr.Wrap(err, apperr.KindUnavailable, "inserting rules row")
	}
	return rule, nil
}

// GetRule loads a Rule identity by id, locking the row FOR UPDATE if tx is
// non-nil (used by version-creation / approval flows to serialize
// concurrent writers).
func (r *RuleRepository) GetRule(ctx context.Context, tx pgx.Tx, ruleID string) (domain.Rule, error) {
	query := `
		SELECT rule_id, rule_name, description, rule_type, status, current_version, row_version,
		       created_by, created_at, updated_at
		FROM rules WHERE rule_id = $1
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query+" FOR UPDATE", ruleID)
	} else {
		row = r.db.QueryRow(ctx, query, ruleID)
	}

	var rule domain.Rule
	err := row.Scan(&rule.RuleID, &rule.RuleName, &rule.Description, &rule.RuleType, &rule.Status,
		&rule.CurrentVersion, &rule.RowVersion, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err == pgx.ErrNoRows {
		return rule, apperr.NotFound("Rule", ruleID)
	}
	if err != nil {
		return rule, apperr.Wrap(err, apperr.KindUnavailable, "querying rules")
	}
	return rule, nil
}

// CreateRuleVersion validates the optimistic lock, assigns the next version
// integer under a row lock, and inserts the new RuleVersion, all within one
// transaction.
func (r *RuleRepository) CreateRuleVersion(ctx context.Context, ruleVersionID, ruleID string, expectedRowVersion *int, v domain.RuleVersion, by string) (domain.RuleVersion, error) {
	var out domain.RuleVersion
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rule, err := r.GetRule(ctx, tx, ruleID)
		if err != nil {
			return err
		}
		if expectedRowVersion != nil && *expectedRowVersion != rule.RowVersion {
			return apperr.Conflict(fmt.Sprintf("rule %q row_version mismatch: expected %d, got %d", ruleID, *expectedRowVersion, rule.RowVersion))
		}

		var nextVersion int
		err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM rule_versions WHERE rule_id = $1 FOR UPDATE`, ruleID).Scan(&nextVersion)
		if err != nil {
			return apperr.Wrap(err, apperr.KindUnavailable, "computing next rule version")
		}

		out = v
		out.RuleVersionID = ruleVersionID
		out.RuleID = ruleID
		out.Version = nextVersion
		out.Status = domain.StatusDraft
		out.CreatedBy = by

		err = tx.QueryRow(ctx, `
			INSERT INTO rule_versions (rule_version_id, rule_id, version, condition_tree, scope,
			                           priority, action, status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING created_at
		`, out.RuleVersionID, out.RuleID, out.Version, out.ConditionTree, jsonOf(out.Scope),
			out.Priority, out.Action, out.Status, out.CreatedBy,
		).Scan(&out.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.KindUnavailable, "inserting rule_versions row")
		}

		_, err = tx.Exec(ctx, `UPDATE rules SET row_version = row_version + 1, updated_at = now() WHERE rule_id = $1`, ruleID)
		if err != nil {
			return apperr.Wrap(err, apperr.KindUnavailable, "bumping rules.row_version")
		}
		return nil
	})
	return out, err
}

// GetRuleVersion loads one RuleVersion by id.
func (r *RuleRepository) GetRuleVersion(ctx context.Context, tx pgx.Tx, ruleVersionID string) (domain.RuleVersion, error) {
	query := `
		SELECT rule_version_id, rule_id, version, condition_tree, scope, priority, action, status,
		       created_by, created_at, approved_by, approved_at
		FROM rule_versions WHERE rule_version_id = $1
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query+" FOR UPDATE", ruleVersionID)
	} else {
		row = r.db.QueryRow(ctx, query, ruleVersionID)
	}

	var v domain.RuleVersion
	var scopeRaw []byte
	err := row.Scan(&v.RuleVersionID, &v.RuleID, &v.Version, &v.ConditionTree, &scopeRaw, &v.Priority, &v.Action,
		&v.Status, &v.CreatedBy, &v.CreatedAt, &v.ApprovedBy, &v.ApprovedAt)
	if err == pgx.ErrNoRows {
		return v, apperr.NotFound("RuleVersion", ruleVersionID)
	}
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "querying rule_versions")
	}
	v.Scope = unmarshalScope(scopeRaw)
	return v, nil
}

// ApproveRuleVersion transitions a PENDING_APPROVAL version to APPROVED,
// supersedes the prior APPROVED sibling, and updates the identity row's
// current_version. Caller has already enforced maker != checker.
func (r *RuleRepository) ApproveRuleVersion(ctx context.Context, tx pgx.Tx, ruleVersionID, checker string) (domain.RuleVersion, error) {
	v, err := r.GetRuleVersion(ctx, tx, ruleVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusPendingApproval {
		return v, apperr.InvalidState(fmt.Sprintf("rule version %q is %s, not PENDING_APPROVAL", ruleVersionID, v.Status))
	}

	_, err = tx.Exec(ctx, `
		UPDATE rule_versions SET status = 'SUPERSEDED'
		WHERE rule_id = $1 AND status = 'APPROVED'
	`, v.RuleID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "superseding prior rule version")
	}

	err = tx.QueryRow(ctx, `
		UPDATE rule_versions SET status = 'APPROVED', approved_by = $1, approved_at = now()
		WHERE rule_version_id = $2
		RETURNING approved_at
	`, checker, ruleVersionID).Scan(&v.ApprovedAt)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "approving rule version")
	}
	v.Status = domain.StatusApproved
	approvedBy := checker
	v.ApprovedBy = approvedBy

	_, err = tx.Exec(ctx, `UPDATE rules SET status = 'APPROVED', current_version = $1, updated_at = now() WHERE rule_id = $2`, v.Version, v.RuleID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "updating rules.current_version")
	}
	return v, nil
}

// RejectRuleVersion transitions a PENDING_APPROVAL version to REJECTED
// (terminal).
func (r *RuleRepository) RejectRuleVersion(ctx context.Context, tx pgx.Tx, ruleVersionID, checker, remarks string) (domain.RuleVersion, error) {
	v, err := r.GetRuleVersion(ctx, tx, ruleVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusPendingApproval {
		return v, apperr.InvalidState(fmt.Sprintf("rule version %q is %s, not PENDING_APPROVAL", ruleVersionID, v.Status))
	}
	_, err = tx.Exec(ctx, `UPDATE rule_versions SET status = 'REJECTED' WHERE rule_version_id = $1`, ruleVersionID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "rejecting rule version")
	}
	v.Status = domain.StatusRejected
	return v, nil
}

// SubmitRuleVersion transitions a DRAFT version to PENDING_APPROVAL.
func (r *RuleRepository) SubmitRuleVersion(ctx context.Context, tx pgx.Tx, ruleVersionID string) (domain.RuleVersion, error) {
	v, err := r.GetRuleVersion(ctx, tx, ruleVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusDraft {
		return v, apperr.InvalidState(fmt.Sprintf("rule version %q is %s, not DRAFT", ruleVersionID, v.Status))
	}
	_, err = tx.Exec(ctx, `UPDATE rule_versions SET status = 'PENDING_APPROVAL' WHERE rule_version_id = $1`, ruleVersionID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "submitting rule version")
	}
	v.Status = domain.StatusPendingApproval
	return v, nil
}

// ListRules lists rule identities with keyset pagination.
func (r *RuleRepository) ListRules(ctx context.Context, ruleType *domain.RuleType, page PageRequest) (Page[domain.Rule], error) {
	page = page.Normalize(50, 100)

	conditions := []string{"1=1"}
	args := []any{}
	argN := 1

	if ruleType != nil {
		conditions = append(conditions, fmt.Sprintf("rule_type = $%d", argN))
		args = append(args, *ruleType)
		argN++
	}

	if page.Cursor != "" {
		c, err := DecodeCursor(page.Cursor)
		if err != nil {
			return Page[domain.Rule]{}, err
		}
		conditions = append(conditions, fmt.Sprintf("(created_at, rule_id) < ($%d, $%d)", argN, argN+1))
		args = append(args, c.CreatedAt, c.ID)
		argN += 2
	}

	args = append(args, page.Limit+1)
	query := fmt.Sprintf(`
		SELECT rule_id, rule_name, description, rule_type, status, current_version, row_version,
		       created_by, created_at, updated_at
		FROM rules WHERE %s
		ORDER BY created_at DESC, rule_id DESC
		LIMIT $%d
	`, joinAnd(conditions), argN)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return Page[domain.Rule]{}, apperr.Wrap(err, apperr.KindUnavailable, "listing rules")
	}
	defer rows.Close()

	var items []domain.Rule
	for rows.Next() {
		var rule domain.Rule
		if err := rows.Scan(&rule.RuleID, &rule.RuleName, &rule.Description, &rule.RuleType, &rule.Status,
			&rule.CurrentVersion, &rule.RowVersion, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
			return Page[domain.Rule]{}, apperr.Wrap(err, apperr.KindUnavailable, "scanning rules row")
		}
		items = append(items, rule)
	}

	return BuildPage(items, page.Limit, page.Cursor != "", func(v domain.Rule) string { return v.RuleID },
		func(v domain.Rule) time.Time { return v.CreatedAt }), nil
}

func joinAnd(conditions []string) string {
	out := conditions[0]
	for _, c := range conditions[1:] {
		out += " AND " + c
	}
	return out
}
