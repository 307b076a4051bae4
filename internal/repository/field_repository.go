package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
)

// FieldRepository persists RuleField identities, their immutable versions,
// per-field metadata, and field-registry publication manifests.
//
// Schema (no migration tooling is included; enforced here at the semantic
// level):
//
//	rule_fields(field_key PK, field_id UNIQUE, display_name, description,
//	  data_type, allowed_operators TEXT[], multi_value_allowed, is_sensitive,
//	  current_version, row_version, status, created_by, created_at, updated_at)
//	rule_field_versions(field_version_id PK, field_key FK, version,
//	  display_name, description, data_type, allowed_operators, multi_value_allowed,
//	  is_sensitive, status, created_by, created_at, approved_by, approved_at,
//	  UNIQUE(field_key, version))
//	rule_field_metadata(field_key FK, meta_key, meta_value JSONB, description,
//	  PRIMARY KEY(field_key, meta_key))
//	field_registry_manifests(registry_version UNIQUE PK, artifact_uri, checksum,
//	  field_count, created_by, created_at)
type FieldRepository struct {
	db *database.DB
}

// NewFieldRepository builds a FieldRepository bound to db.
func NewFieldRepository(db *database.DB) *FieldRepository {
	return &FieldRepository{db: db}
}

// standardFieldCount is the number of seeded standard fields (field_id
// 1..26): transaction/card/merchant attributes, addresses, amount,
// currency, MCC, device fingerprint, timestamp. IDs 1..standardFieldCount
// are reserved and never reassigned.
const standardFieldCount = 26

// NextFieldID returns the first unused integer >= 27.
func (r *FieldRepository) NextFieldID(ctx context.Context) (int, error) {
	var max int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(field_id), $1) FROM rule_fields`, standardFieldCount).Scan(&max)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindUnavailable, "querying max field_id")
	}
	if max < standardFieldCount {
		max = standardFieldCount
	}
	return max + 1, nil
}

// GetActiveCatalog returns the latest APPROVED snapshot per field_key.
func (r *FieldRepository) GetActiveCatalog(ctx context.Context) (map[string]domain.RuleField, error) {
	rows, err := r.db.Query(ctx, `
		SELECT field_key, field_id, display_name, description, data_type,
		       allowed_operators, multi_value_allowed, is_sensitive,
		       current_version, row_version, created_by, created_at, updated_at
		FROM rule_fields
		WHERE status = 'APPROVED'
	`)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "querying active field catalog")
	}
	defer rows.Close()

	catalog := make(map[string]domain.RuleField)
	for rows.Next() {
		f, err := scanRuleField(rows)
		if err != nil {
			return nil, err
		}
		catalog[f.FieldKey] = f
	}

	enumRows, err := r.db.Query(ctx, `
		SELECT field_key, meta_value FROM rule_field_metadata WHERE meta_key = $1
	`, enumValuesMetaKey)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindUnavailable, "querying enum_values metadata")
	}
	defer enumRows.Close()

	for enumRows.Next() {
		var fieldKey string
		var raw json.RawMessage
		if err := enumRows.Scan(&fieldKey, &raw); err != nil {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, "scanning enum_values metadata row")
		}
		f, ok := catalog[fieldKey]
		if !ok {
			continue
		}
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil {
			return nil, apperr.Wrap(err, apperr.KindUnavailable, fmt.Sprintf("parsing enum_values for field %q", fieldKey))
		}
		f.EnumValues = values
		catalog[fieldKey] = f
	}
	return catalog, nil
}

// enumValuesMetaKey is the rule_field_metadata meta_key holding an ENUM
// field's permitted value set, as a JSON array of strings.
const enumValuesMetaKey = "enum_values"

// Lookup satisfies validator.FieldCatalog for a single in-memory snapshot;
// callers typically build this once per request from GetActiveCatalog.
type CatalogSnapshot map[string]domain.RuleField

func (s CatalogSnapshot) Lookup(fieldKey string) (domain.RuleField, bool) {
	f, ok := s[fieldKey]
	return f, ok
}

func scanRuleField(row pgx.Rows) (domain.RuleField, error) {
	var f domain.RuleField
	var ops []string
	err := row.Scan(
		&f.FieldKey, &f.FieldID, &f.DisplayName, &f.Description, &f.DataType,
		&ops, &f.MultiValueAllowed, &f.IsSensitive,
		&f.CurrentVersion, &f.RowVersion, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return f, apperr.Wrap(err, apperr.KindUnavailable, "scanning rule_fields row")
	}
	f.AllowedOperators = make([]domain.Operator, len(ops))
	for i, op := range ops {
		f.AllowedOperators[i] = domain.Operator(op)
	}
	return f, nil
}

// CreateField inserts the RuleField identity row (status DRAFT) and returns
// it together with an in-memory DRAFT version 1. That version is not
// written here and its FieldVersionID is empty; the caller assigns the id
// and persists it with InsertFieldVersion.
func (r *FieldRepository) CreateField(ctx context.Context, field domain.RuleField, by string) (domain.RuleField, domain.RuleFieldVersion, error) {
	var version domain.RuleFieldVersion
	err := r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		ops := operatorsToStrings(field.AllowedOperators)
		err := tx.QueryRow(ctx, `
			INSERT INTO rule_fields (field_key, field_id, display_name, description, data_type,
			                         allowed_operators, multi_value_allowed, is_sensitive,
			                         current_version, row_version, created_by, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, 0, $9, 'DRAFT')
			RETURNING created_at, updated_at
		`, field.FieldKey, field.FieldID, field.DisplayName, field.Description, field.DataType,
			ops, field.MultiValueAllowed, field.IsSensitive, by,
		).Scan(&field.CreatedAt, &field.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict(fmt.Sprintf("field_key %q or field_id %d already exists", field.FieldKey, field.FieldID))
			}
			return apperr.Wrap(err, apperr.KindUnavailable, "inserting rule_fields row")
		}

		version = domain.RuleFieldVersion{
			FieldVersionID: "", // assigned by caller via idgen before insert
			FieldKey:       field.FieldKey,
			Version:        1,
			DisplayName:    field.DisplayName,
			Description:    field.Description,
			DataType:       field.DataType,
			AllowedOperators:  field.AllowedOperators,
			MultiValueAllowed: field.MultiValueAllowed,
			IsSensitive:       field.IsSensitive,
			Status:         domain.StatusDraft,
			CreatedBy:      by,
			CreatedAt:      field.CreatedAt,
		}
		return nil
	})
	return field, version, err
}

// InsertFieldVersion writes a pre-built RuleFieldVersion row (the caller
// assigns FieldVersionID via idgen so the audit writer can reference it
// before commit).
func (r *FieldRepository) InsertFieldVersion(ctx context.Context, tx pgx.Tx, v domain.RuleFieldVersion) error {
	ops := operatorsToStrings(v.AllowedOperators)
	_, err := tx.Exec(ctx, `
		INSERT INTO rule_field_versions (field_version_id, field_key, version, display_name,
		                                 description, data_type, allowed_operators,
		                                 multi_value_allowed, is_sensitive, status,
		                                 created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	`, v.FieldVersionID, v.FieldKey, v.Version, v.DisplayName, v.Description, v.DataType,
		ops, v.MultiValueAllowed, v.IsSensitive, v.Status, v.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("field_key %q already has a version %d", v.FieldKey, v.Version))
		}
		return apperr.Wrap(err, apperr.KindUnavailable, "inserting rule_field_versions row")
	}
	return nil
}

// GetFieldVersion loads a single field version by id, locking the row FOR
// UPDATE if tx is non-nil.
func (r *FieldRepository) GetFieldVersion(ctx context.Context, tx pgx.Tx, fieldVersionID string) (domain.RuleFieldVersion, error) {
	query := `
		SELECT field_version_id, field_key, version, display_name, description, data_type,
		       allowed_operators, multi_value_allowed, is_sensitive, status,
		       created_by, created_at, approved_by, approved_at
		FROM rule_field_versions WHERE field_version_id = $1
	`
	var row pgx.Row
	if tx != nil {
		row = tx.QueryRow(ctx, query+" FOR UPDATE", fieldVersionID)
	} else {
		row = r.db.QueryRow(ctx, query, fieldVersionID)
	}

	var v domain.RuleFieldVersion
	var ops []string
	err := row.Scan(
		&v.FieldVersionID, &v.FieldKey, &v.Version, &v.DisplayName, &v.Description, &v.DataType,
		&ops, &v.MultiValueAllowed, &v.IsSensitive, &v.Status,
		&v.CreatedBy, &v.CreatedAt, &v.ApprovedBy, &v.ApprovedAt,
	)
	if err == pgx.ErrNoRows {
		return v, apperr.NotFound("RuleFieldVersion", fieldVersionID)
	}
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "querying rule_field_versions")
	}
	v.AllowedOperators = make([]domain.Operator, len(ops))
	for i, op := range ops {
		v.AllowedOperators[i] = domain.Operator(op)
	}
	return v, nil
}

// ListFieldVersions lists all versions for a field_key, newest first.
func (r *FieldRepository) ListFieldVersions(ctx context.Context, fieldKey string, page PageRequest) (Page[domain.RuleFieldVersion], error) {
	page = page.Normalize(50, 100)

	var rows pgx.Rows
	var err error
	if page.Cursor == "" {
		rows, err = r.db.Query(ctx, `
			SELECT field_version_id, field_key, version, display_name, description, data_type,
			       allowed_operators, multi_value_allowed, is_sensitive, status,
			       created_by, created_at, approved_by, approved_at
			FROM rule_field_versions WHERE field_key = $1
			ORDER BY created_at DESC, field_version_id DESC
			LIMIT $2
		`, fieldKey, page.Limit+1)
	} else {
		c, decodeErr := DecodeCursor(page.Cursor)
		if decodeErr != nil {
			return Page[domain.RuleFieldVersion]{}, decodeErr
		}
		rows, err = r.db.Query(ctx, `
			SELECT field_version_id, field_key, version, display_name, description, data_type,
			       allowed_operators, multi_value_allowed, is_sensitive, status,
			       created_by, created_at, approved_by, approved_at
			FROM rule_field_versions
			WHERE field_key = $1 AND (created_at, field_version_id) < ($2, $3)
			ORDER BY created_at DESC, field_version_id DESC
			LIMIT $4
		`, fieldKey, c.CreatedAt, c.ID, page.Limit+1)
	}
	if err != nil {
		return Page[domain.RuleFieldVersion]{}, apperr.Wrap(err, apperr.KindUnavailable, "listing rule_field_versions")
	}
	defer rows.Close()

	var items []domain.RuleFieldVersion
	for rows.Next() {
		var v domain.RuleFieldVersion
		var ops []string
		if err := rows.Scan(
			&v.FieldVersionID, &v.FieldKey, &v.Version, &v.DisplayName, &v.Description, &v.DataType,
			&ops, &v.MultiValueAllowed, &v.IsSensitive, &v.Status,
			&v.CreatedBy, &v.CreatedAt, &v.ApprovedBy, &v.ApprovedAt,
		); err != nil {
			return Page[domain.RuleFieldVersion]{}, apperr.Wrap(err, apperr.KindUnavailable, "scanning rule_field_versions row")
		}
		v.AllowedOperators = make([]domain.Operator, len(ops))
		for i, op := range ops {
			v.AllowedOperators[i] = domain.Operator(op)
		}
		items = append(items, v)
	}

	return BuildPage(items, page.Limit, page.Cursor != "", func(v domain.RuleFieldVersion) string { return v.FieldVersionID },
		func(v domain.RuleFieldVersion) time.Time { return v.CreatedAt }), nil
}

// SubmitFieldVersion transitions a DRAFT field version to PENDING_APPROVAL,
// mirroring RuleRepository.SubmitRuleVersion.
func (r *FieldRepository) SubmitFieldVersion(ctx context.Context, tx pgx.Tx, fieldVersionID string) (domain.RuleFieldVersion, error) {
	v, err := r.GetFieldVersion(ctx, tx, fieldVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusDraft {
		return v, apperr.InvalidState(fmt.Sprintf("field version %q is %s, not DRAFT", fieldVersionID, v.Status))
	}
	_, err = tx.Exec(ctx, `UPDATE rule_field_versions SET status = 'PENDING_APPROVAL' WHERE field_version_id = $1`, fieldVersionID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "submitting field version")
	}
	v.Status = domain.StatusPendingApproval
	return v, nil
}

// ApproveFieldVersion transitions PENDING_APPROVAL -> APPROVED, supersedes
// the prior APPROVED sibling, and updates the identity row's
// current_version.
func (r *FieldRepository) ApproveFieldVersion(ctx context.Context, tx pgx.Tx, fieldVersionID, checker string) (domain.RuleFieldVersion, error) {
	v, err := r.GetFieldVersion(ctx, tx, fieldVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusPendingApproval {
		return v, apperr.InvalidState(fmt.Sprintf("field version %q is %s, not PENDING_APPROVAL", fieldVersionID, v.Status))
	}

	_, err = tx.Exec(ctx, `
		UPDATE rule_field_versions SET status = 'SUPERSEDED'
		WHERE field_key = $1 AND status = 'APPROVED'
	`, v.FieldKey)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "superseding prior field version")
	}

	err = tx.QueryRow(ctx, `
		UPDATE rule_field_versions SET status = 'APPROVED', approved_by = $1, approved_at = now()
		WHERE field_version_id = $2
		RETURNING approved_at
	`, checker, fieldVersionID).Scan(&v.ApprovedAt)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "approving field version")
	}
	v.Status = domain.StatusApproved
	v.ApprovedBy = checker

	_, err = tx.Exec(ctx, `UPDATE rule_fields SET status = 'APPROVED', current_version = $1, updated_at = now() WHERE field_key = $2`, v.Version, v.FieldKey)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "updating rule_fields.current_version")
	}
	return v, nil
}

// RejectFieldVersion transitions PENDING_APPROVAL -> REJECTED (terminal).
func (r *FieldRepository) RejectFieldVersion(ctx context.Context, tx pgx.Tx, fieldVersionID string) (domain.RuleFieldVersion, error) {
	v, err := r.GetFieldVersion(ctx, tx, fieldVersionID)
	if err != nil {
		return v, err
	}
	if v.Status != domain.StatusPendingApproval {
		return v, apperr.InvalidState(fmt.Sprintf("field version %q is %s, not PENDING_APPROVAL", fieldVersionID, v.Status))
	}
	_, err = tx.Exec(ctx, `UPDATE rule_field_versions SET status = 'REJECTED' WHERE field_version_id = $1`, fieldVersionID)
	if err != nil {
		return v, apperr.Wrap(err, apperr.KindUnavailable, "rejecting field version")
	}
	v.Status = domain.StatusRejected
	return v, nil
}

// GetFieldMetadata reads one (field_key, meta_key) entry.
func (r *FieldRepository) GetFieldMetadata(ctx context.Context, fieldKey, metaKey string) (domain.RuleFieldMetadata, error) {
	var m domain.RuleFieldMetadata
	m.FieldKey, m.MetaKey = fieldKey, metaKey
	err := r.db.QueryRow(ctx, `
		SELECT meta_value, description FROM rule_field_metadata WHERE field_key = $1 AND meta_key = $2
	`, fieldKey, metaKey).Scan(&m.MetaValue, &m.Description)
	if err == pgx.ErrNoRows {
		return m, apperr.NotFound("RuleFieldMetadata", fmt.Sprintf("%s/%s", fieldKey, metaKey))
	}
	if err != nil {
		return m, apperr.Wrap(err, apperr.KindUnavailable, "querying rule_field_metadata")
	}
	return m, nil
}

// SetFieldMetadata upserts one (field_key, meta_key) entry.
func (r *FieldRepository) SetFieldMetadata(ctx context.Context, m domain.RuleFieldMetadata) error {
	if !json.Valid(m.MetaValue) {
		return apperr.InvalidInput("meta_value", "meta_value must be valid JSON")
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO rule_field_metadata (field_key, meta_key, meta_value, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (field_key, meta_key) DO UPDATE SET meta_value = $3, description = $4
	`, m.FieldKey, m.MetaKey, m.MetaValue, m.Description)
	if err != nil {
		return apperr.Wrap(err, apperr.KindUnavailable, "upserting rule_field_metadata")
	}
	return nil
}

// InsertRegistryManifest records a field-registry publication row; the next
// registry_version has already been computed by the caller.
func (r *FieldRepository) InsertRegistryManifest(ctx context.Context, tx pgx.Tx, m domain.FieldRegistryManifest) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO field_registry_manifests (registry_version, artifact_uri, checksum, field_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, m.RegistryVersion, m.ArtifactURI, m.Checksum, m.FieldCount, m.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf("registry_version %d already published", m.RegistryVersion))
		}
		return apperr.Wrap(err, apperr.KindUnavailable, "inserting field_registry_manifests row")
	}
	return nil
}

// LatestRegistryVersion returns the highest published registry_version, or 0
// if none has been published yet.
func (r *FieldRepository) LatestRegistryVersion(ctx context.Context) (int, error) {
	var v int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(registry_version), 0) FROM field_registry_manifests`).Scan(&v)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.KindUnavailable, "querying latest registry version")
	}
	return v, nil
}

func operatorsToStrings(ops []domain.Operator) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = string(op)
	}
	return out
}

// isUniqueViolation reports whether err is a Postgres unique_violation
// (SQLSTATE 23505), checked by inspecting the driver error rather than
// pre-checking existence.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "23505") || strings.Contains(err.Error(), "duplicate key")
}
