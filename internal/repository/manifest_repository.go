package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
)

// ManifestRepository persists RulesetManifest rows, the governance source
// of truth for a published ruleset artifact (C9 step 8).
//
// Schema:
//
//	ruleset_manifests(manifest_id PK, environment, region, country, rule_type,
//	  ruleset_version, ruleset_version_id FK, field_registry_version,
//	  artifact_uri, checksum, created_by, created_at,
//	  UNIQUE(environment, region, country, rule_type, ruleset_version))
type ManifestRepository struct {
	db *database.DB
}

// NewManifestRepository builds a ManifestRepository bound to db.
func NewManifestRepository(db *database.DB) *ManifestRepository {
	return &ManifestRepository{db: db}
}

// Insert records a published artifact's manifest row within tx, so it
// commits atomically with the approve transaction it belongs to.
func (r *ManifestRepository) Insert(ctx context.Context, tx pgx.Tx, m domain.RulesetManifest) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO ruleset_manifests (manifest_id, environment, region, country, rule_type,
		                               ruleset_version, ruleset_version_id, field_registry_version,
		                               artifact_uri, checksum, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	`, m.ManifestID, m.Environment, m.Region, m.Country, m.RuleType, m.RulesetVersion, m.RulesetVersionID,
		m.FieldRegistryVersion, m.ArtifactURI, m.Checksum, m.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflict(fmt.Sprintf(
				"manifest for (%s,%s,%s,%s,v%d) already exists", m.Environment, m.Region, m.Country, m.RuleType, m.RulesetVersion,
			))
		}
		return apperr.Wrap(err, apperr.KindUnavailable, "inserting ruleset_manifests row")
	}
	return nil
}

// GetByNaturalKey loads the manifest row for one published ruleset version.
func (r *ManifestRepository) GetByNaturalKey(ctx context.Context, env, region, country string, ruleType domain.RuleType, version int) (domain.RulesetManifest, error) {
	var m domain.RulesetManifest
	err := r.db.QueryRow(ctx, `
		SELECT manifest_id, environment, region, country, rule_type, ruleset_version, ruleset_version_id,
		       field_registry_version, artifact_uri, checksum, created_by, created_at
		FROM ruleset_manifests
		WHERE environment = $1 AND region = $2 AND country = $3 AND rule_type = $4 AND ruleset_version = $5
	`, env, region, country, ruleType, version).Scan(
		&m.ManifestID, &m.Environment, &m.Region, &m.Country, &m.RuleType, &m.RulesetVersion, &m.RulesetVersionID,
		&m.FieldRegistryVersion, &m.ArtifactURI, &m.Checksum, &m.CreatedBy, &m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return m, apperr.NotFound("RulesetManifest", fmt.Sprintf("%s/%s/%s/%s/v%d", env, region, country, ruleType, version))
	}
	if err != nil {
		return m, apperr.Wrap(err, apperr.KindUnavailable, "querying ruleset_manifests")
	}
	return m, nil
}
