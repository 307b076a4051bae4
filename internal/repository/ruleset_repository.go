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

// RulesetRepository persists Ruleset identities, their immutable
// RulesetVersions, and snapshot-bound rule-version membership.
//
// Schema:
//
//	rulesets(ruleset_id PK, environment, region, country, rule_type, name,
//	  description, created_by, created_at, updated_at,
//	  UNIQUE(environment, region, country, rule_type))
//	ruleset_versions(ruleset_version_id PK, ruleset_id FK, version, status,
//	  created_by, created_at, approved_by, approved_at, activated_at,
//	  UNIQUE(ruleset_id, version))
//	ruleset_version_rules(ruleset_version_id FK, rule_version_id FK,
//	  PRIMARY KEY(ruleset_version_id, rule_version_id))
//
// A trigger (or equivalent application check, enforced here in
// CreateRulesetVersion) forbids membership rows whose rule_type differs
// from the ruleset's rule_type.
type RulesetRepository struct {
	db *database.DB
}

// NewRulesetRepository builds a RulesetRepository bound to db.
func NewRulesetRepository(db *database.DB) *RulesetRepository {
	return &RulesetRepository{db: db}
}

// CreateRuleset creates a ruleset identity, unique by natural key
// (environment, region, country, rule_type); a conflicting natural key
// returns ConflictError with the existing identity.
func (r *RulesetRepository) CreateRuleset(ctx context.Context, rulesetID string, rs domain.Ruleset) (domain.Ruleset, error) {
	existing, err := r.findByNaturalKey(ctx, rs.Environment, rs.Region, rs.Country, rs.RuleType)
	if err == nil {
		return existing, apperr.Conflict(fmt.Sprintf(
			"ruleset (environment=%s, region=%s, country=%s, rule_type=%s) already exists",
			rs.Environment, rs.Region, rs.Country, rs.RuleType,
		)).WithDetails(map[string]any{"ruleset_id": existing.RulesetID})
	}
	if ae, ok := apperr.As(err); !ok || ae.Kind != apperr.KindNotFound {
		return domain.Ruleset{}, err
	}

	rs.RulesetID = rulesetID
	err = r.db.QueryRow(ctx, `
		INSERT INTO rulesets (ruleset_id, environment, region, country, rule_type, name, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, rs.RulesetID, rs.Environment, rs.Region, rs.Country, rs.RuleType, rs.Name, rs.Description, rs.CreatedBy,
	).Scan(&rs.CreatedAt, &rs.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Ruleset{}, apperr.Conflict("ruleset natural key already exists")
		}
		return domain.Ruleset{}, apperr.Wrap(err, apperr.KindUnavailable, "inserting rulesets row")
	}
	return rs, nil
}

func (r *RulesetRepository) findByNaturalKey(ctx context.Context, env, region, country string, ruleType domain.RuleType) (domain.Ruleset, error) {
	var rs domain.Ruleset
	err := r.db.QueryRow(ctx, `
		SELECT ruleset_id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4
	`, env, region, country, ruleType).Scan(
		&rs.RulesetID, &rs.Environment, &rs.Region, &rs.Country, &rs.RuleType, &rs.Name, &rs.Description,
		&rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return rs, apperr.NotFound("Ruleset", fmt.Sprintf("%s/%s/%s/%s", env, region, country, ruleType))
	}
	if err != nil {
		return rs, apperr.Wrap(err, apperr.KindUnavailable, "querying rulesets by natural key")
	}
	return rs, nil
}

// GetRuleset loads a ruleset identity by id.
func (r *RulesetRepository) GetRuleset(ctx context.Context, tx pgx.Tx, rulesetID string) (domain.Ruleset, error) {
	query := `
		SELECT ruleset_id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets WHERE ruleset_id = $1
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query+" FOR UPDATE", rulesetID)
	} else {
		row = r.db.QueryRow(ctx, query, rulesetID)
	}
	var rs domain.Ruleset
	err := row.Scan(&rs.RulesetID, &rs.Environment, &rs.Region, &rs.Country, &rs.RuleType, &rs.Name, &rs.Description,
		&rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt)
	if err == pgx.ErrNoRows {
		return rs, apperr.NotFound("Ruleset", rulesetID)
	}
	if err != nil {
		return rs, apperr.Wrap(err, apperr.KindUnavailable, "querying rulesets")
	}
	return rs, nil
}

// CreateRulesetVersion verifies each rule_version_id exists and matches the
// ruleset's rule_type, then inserts a DRAFT version with snapshot-bound
// membership rows. The next version integer is assigned under a row lock.
func (r *RulesetRepository) CreateRulesetVersion(ctx context.Context, rulesetVersionID, rulesetID string, ruleVersionIDs []string, ruleRepo *RuleRepository, by string) (domain.RulesetVersion, error) {
	var out domain.RulesetVersion
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		rs, err := r.GetRuleset(ctx, tx, rulesetID)
		if err != nil {
			return err
		}

		for _, rvID := range ruleVersionIDs {
			rv, err := ruleRepo.GetRuleVersion(ctx, tx, rvID)
			if err != nil {
				return err
			}
			rule, err := ruleRepo.GetRule(ctx, tx, rv.RuleID)
			if err != nil {
				return err
			}
			if rule.RuleType != rs.RuleType {
				return apperr.InvalidInput("rule_version_ids", fmt.Sprintf(
					"rule_version %q belongs to rule_type %s, ruleset requires %s", rvID, rule.RuleType, rs.RuleType,
				)).WithDetails(map[string]any{"rule_version_id": rvID})
			}
		}

		var nextVersion int
		err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM ruleset_versions WHERE ruleset_id = $1 FOR UPDATE`, rulesetID).Scan(&nextVersion)
		if err != nil {
			return apperr.Wrap(err, apperr.KindUnavailable, "computing next ruleset version")
		}

		out = domain.RulesetVersion{
			RulesetVersionID: rulesetVersionID,
			RulesetID:        rulesetID,
			Version:          nextVersion,
			Status:           domain.StatusDraft,
			CreatedBy:        by,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO ruleset_versions (ruleset_version_id, ruleset_id, version, status, created_by)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at
		`, out.RulesetVersionID, out.RulesetID, out.Version, out.Status, out.CreatedBy,
		).Scan(&out.CreatedAt)
		if err != nil {
			return apperr.Wrap(err, apperr.KindUnavailable, "inserting ruleset_versions row")
		}

		for _, rvID := range ruleVersionIDs {
			_, err = tx.Exec(ctx, `
				INSERT INTO ruleset_version_rules (ruleset_version_id, rule_version_id)
				VALUES ($1, $2)
			`, out.RulesetVersionID, rvID)
			if err != nil {
				return apperr.Wrap(err, apperr.KindUnavailable, "inserting ruleset_version_rules row")
			}
		}
		return nil
	})
	return out, err
}

// GetRulesetVersion loads one RulesetVersion by id.
func (r *RulesetRepository) GetRulesetVersion(ctx context.Context, tx pgx.Tx, rulesetVersionID string) (domain.RulesetVersion, error) {
	query := `
		SELECT ruleset_version_id, ruleset_id, version, status, created_by, created_at,
		       approved_by, approved_at, activated_at
		FROM ruleset_versions WHERE ruleset_version_id = $1
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query+" FOR UPDATE", rulesetVersionID)
	} else {
		row = r.db.QueryRow(ctx, query, rulesetVersionID)
	}
	var v domain.RulesetVersion
	err := row.Scan(&v.RulesetVersionID, &v.RulesetID, &v.Version, &v.Status, &v.CreatedBy, &v.CreatedAt,
		&v.ApprovedBy, &v.ApprovedAt, &v.ActivatedAt)
	if err == pgx.ErrNoRows {
		return v, apperr.NotFound("RulesetVersion", rulesetVersionID)
	}
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "querying ruleset_versions")
	}
	return v, nil
}

// MemberRuleVersionIDs returns the rule_version_ids bound to a ruleset
// version's immutable snapshot.
func (r *RulesetRepository) MemberRuleVersionIDs(ctx context.Context, tx pgx.Tx, rulesetVersionID string) ([]string, error) {
	query := `SELECT rule_version_id FROM ruleset_version_rules WHERE ruleset_version_id = $1`
	var rows pgx.Rows
	var err error
	if tx != nil {
		rows, err = tx.Query(ctx, query, rulesetVersionID)
	} else {
		rows, err = r.db.Query(ctx, query, rulesetVersionID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "querying ruleset_version_rules")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, "scanning ruleset_version_rules row")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ApproveRulesetVersion transitions PENDING_APPROVAL -> APPROVED. Publishing
// (if applicable) is orchestrated by the approval engine/publisher in the
// same transaction; this method only updates ruleset_versions state.
func (r *RulesetRepository) ApproveRulesetVersion(ctx context.Context, tx pgx.Tx, rulesetVersionID, checker string) (domain.RulesetVersion, error) {
	v, err := r.GetRulesetVersion(ctx, tx, rulesetVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusPendingApproval {
		return v, apperr.InvalidState(fmt.Sprintf("ruleset version %q is %s, not PENDING_APPROVAL", rulesetVersionID, v.Status))
	}
	err = tx.QueryRow(ctx, `
		UPDATE ruleset_versions SET status = 'APPROVED', approved_by = $1, approved_at = now()
		WHERE ruleset_version_id = $2
		RETURNING approved_at
	`, checker, rulesetVersionID).Scan(&v.ApprovedAt)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "approving ruleset version")
	}
	v.Status = domain.StatusApproved
	v.ApprovedBy = checker
	return v, nil
}

// RejectRulesetVersion transitions PENDING_APPROVAL -> REJECTED (terminal).
func (r *RulesetRepository) RejectRulesetVersion(ctx context.Context, tx pgx.Tx, rulesetVersionID string) (domain.RulesetVersion, error) {
	v, err := r.GetRulesetVersion(ctx, tx, rulesetVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusPendingApproval {
		return v, apperr.InvalidState(fmt.Sprintf("ruleset version %q is %s, not PENDING_APPROVAL", rulesetVersionID, v.Status))
	}
	_, err = tx.Exec(ctx, `UPDATE ruleset_versions SET status = 'REJECTED' WHERE ruleset_version_id = $1`, rulesetVersionID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "rejecting ruleset version")
	}
	v.Status = domain.StatusRejected
	return v, nil
}

// SubmitRulesetVersion transitions DRAFT -> PENDING_APPROVAL.
func (r *RulesetRepository) SubmitRulesetVersion(ctx context.Context, tx pgx.Tx, rulesetVersionID string) (domain.RulesetVersion, error) {
	v, err := r.GetRulesetVersion(ctx, tx, rulesetVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusDraft {
		return v, apperr.InvalidState(fmt.Sprintf("ruleset version %q is %s, not DRAFT", rulesetVersionID, v.Status))
	}
	_, err = tx.Exec(ctx, `UPDATE ruleset_versions SET status = 'PENDING_APPROVAL' WHERE ruleset_version_id = $1`, rulesetVersionID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "submitting ruleset version")
	}
	v.Status = domain.StatusPendingApproval
	return v, nil
}

// ActivateRulesetVersion demotes the sibling currently ACTIVE (if any) to
// SUPERSEDED and promotes the target to ACTIVE, under an advisory lock on
// the ruleset identity to serialize competing activations.
func (r *RulesetRepository) ActivateRulesetVersion(ctx context.Context, tx pgx.Tx, rulesetID, rulesetVersionID string) (domain.RulesetVersion, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rulesetID); err != nil {
		return domain.RulesetVersion{}, apperr.Wrap(err, apperr.KindUnavailable, "acquiring ruleset activation lock")
	}

	v, err := r.GetRulesetVersion(ctx, tx, rulesetVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusApproved {
		return v, apperr.InvalidState(fmt.Sprintf("ruleset version %q is %s, not APPROVED", rulesetVersionID, v.Status))
	}

	_, err = tx.Exec(ctx, `
		UPDATE ruleset_versions SET status = 'SUPERSEDED'
		WHERE ruleset_id = $1 AND status = 'ACTIVE'
	`, rulesetID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "superseding prior active ruleset version")
	}

	err = tx.QueryRow(ctx, `
		UPDATE ruleset_versions SET status = 'ACTIVE', activated_at = now()
		WHERE ruleset_version_id = $1
		RETURNING activated_at
	`, rulesetVersionID).Scan(&v.ActivatedAt)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "activating ruleset version")
	}
	v.Status = domain.StatusActive
	return v, nil
}

// ListRulesets lists ruleset identities with keyset pagination and optional
// filters.
func (r *RulesetRepository) ListRulesets(ctx context.Context, environment, region, country *string, page PageRequest) (Page[domain.Ruleset], error) {
	page = page.Normalize(50, 100)

	conditions := []string{"1=1"}
	args := []any{}
	argN := 1
	addEq := func(col string, val *string) {
		if val != nil {
			conditions = append(conditions, fmt.Sprintf("%s = $%d", col, argN))
			args = append(args, *val)
			argN++
		}
	}
	addEq("environment", environment)
	addEq("region", region)
	addEq("country", country)

	if page.Cursor != "" {
		c, err := DecodeCursor(page.Cursor)
		if err != nil {
			return Page[domain.Ruleset]{}, err
		}
		conditions = append(conditions, fmt.Sprintf("(created_at, ruleset_id) < ($%d, $%d)", argN, argN+1))
		args = append(args, c.CreatedAt, c.ID)
		argN += 2
	}

	args = append(args, page.Limit+1)
	query := fmt.Sprintf(`
		SELECT ruleset_id, environment, region, country, rule_type, name, description, created_by, created_at, updated_at
		FROM rulesets WHERE %s
		ORDER BY created_at DESC, ruleset_id DESC
		LIMIT $%d
	`, joinAnd(conditions), argN)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return Page[domain.Ruleset]{}, apperr.Wrap(err, apperr.KindUnavailable, "listing rulesets")
	}
	defer rows.Close()

	var items []domain.Ruleset
	for rows.Next() {
		var rs domain.Ruleset
		if err := rows.Scan(&rs.RulesetID, &rs.Environment, &rs.Region, &rs.Country, &rs.RuleType, &rs.Name,
			&rs.Description, &rs.CreatedBy, &rs.CreatedAt, &rs.UpdatedAt); err != nil {
			return Page[domain.Ruleset]{}, apperr.Wrap(err, apperr.KindUnavailable, "scanning rulesets row")
		}
		items = append(items, rs)
	}

	return BuildPage(items, page.Limit, page.Cursor != "", func(v domain.Ruleset) string { return v.RulesetID },
		func(v domain.Ruleset) time.Time { return v.CreatedAt }), nil
}

// ListRulesetVersions lists versions of one ruleset, optionally filtered by
// status, with keyset pagination.
func (r *RulesetRepository) ListRulesetVersions(ctx context.Context, rulesetID string, status *domain.VersionStatus, page PageRequest) (Page[domain.RulesetVersion], error) {
	page = page.Normalize(50, 100)

	conditions := []string{"ruleset_id = $1"}
	args := []any{rulesetID}
	argN := 2

	if status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argN))
		args = append(args, *status)
		argN++
	}

	if page.Cursor != "" {
		c, err := DecodeCursor(page.Cursor)
		if err != nil {
			return Page[domain.RulesetVersion]{}, err
		}
		conditions = append(conditions, fmt.Sprintf("(created_at, ruleset_version_id) < ($%d, $%d)", argN, argN+1))
		args = append(args, c.CreatedAt, c.ID)
		argN += 2
	}

	args = append(args, page.Limit+1)
	query := fmt.Sprintf(`
		SELECT ruleset_version_id, ruleset_id, version, status, created_by, created_at,
		       approved_by, approved_at, activated_at
		FROM ruleset_versions WHERE %s
		ORDER BY created_at DESC, ruleset_version_id DESC
		LIMIT $%d
	`, joinAnd(conditions), argN)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return Page[domain.RulesetVersion]{}, apperr.Wrap(err, apperr.KindUnavailable, "listing ruleset_versions")
	}
	defer rows.Close()

	var items []domain.RulesetVersion
	for rows.Next() {
		var v domain.RulesetVersion
		if err := rows.Scan(&v.RulesetVersionID, &v.RulesetID, &v.Version, &v.Status, &v.CreatedBy, &v.CreatedAt,
			&v.ApprovedBy, &v.ApprovedAt, &v.ActivatedAt); err != nil {
			return Page[domain.RulesetVersion]{}, apperr.Wrap(err, apperr.KindUnavailable, "scanning ruleset_versions row")
		}
		items = append(items, v)
	}

	return BuildPage(items, page.Limit, page.Cursor != "", func(v domain.RulesetVersion) string { return v.RulesetVersionID },
		func(v domain.RulesetVersion) time.Time { return v.CreatedAt }), nil
}
