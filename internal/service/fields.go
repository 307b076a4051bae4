package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/idgen"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
)

// FieldService implements the create-side and read operations that aren't
// part of the approval-state-machine surface: create_field, next_field_id,
// get_active_catalog, and the metadata/list supplements.
type FieldService struct {
	db     *database.DB
	fields *repository.FieldRepository
	ids    *idgen.Generator
}

// NewFieldService builds a FieldService.
func NewFieldService(db *database.DB, fields *repository.FieldRepository) *FieldService {
	return &FieldService{db: db, fields: fields, ids: idgen.New()}
}

// CreateFieldRequest is the input to create_field.
type CreateFieldRequest struct {
	DisplayName       string
	Description       string
	DataType          domain.DataType
	AllowedOperators  []domain.Operator
	MultiValueAllowed bool
	IsSensitive       bool
	CreatedBy         string
}

// CreateField creates a new custom RuleField identity (field_id >= 27) with
// its initial DRAFT version, all within one transaction.
func (s *FieldService) CreateField(ctx context.Context, req CreateFieldRequest, fieldKey string) (domain.RuleField, domain.RuleFieldVersion, error) {
	fieldID, err := s.fields.NextFieldID(ctx)
	if err != nil {
		return domain.RuleField{}, domain.RuleFieldVersion{}, err
	}

	field := domain.RuleField{
		FieldKey:          fieldKey,
		FieldID:           fieldID,
		DisplayName:       req.DisplayName,
		Description:       req.Description,
		DataType:          req.DataType,
		AllowedOperators:  req.AllowedOperators,
		MultiValueAllowed: req.MultiValueAllowed,
		IsSensitive:       req.IsSensitive,
	}

	field, _, err = s.fields.CreateField(ctx, field, req.CreatedBy)
	if err != nil {
		return domain.RuleField{}, domain.RuleFieldVersion{}, err
	}

	version := domain.RuleFieldVersion{
		FieldVersionID:    s.ids.NewID(),
		FieldKey:          fieldKey,
		Version:           1,
		DisplayName:       req.DisplayName,
		Description:       req.Description,
		DataType:          req.DataType,
		AllowedOperators:  req.AllowedOperators,
		MultiValueAllowed: req.MultiValueAllowed,
		IsSensitive:       req.IsSensitive,
		Status:            domain.StatusDraft,
		CreatedBy:         req.CreatedBy,
	}
	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return s.fields.InsertFieldVersion(ctx, tx, version)
	})
	if err != nil {
		return domain.RuleField{}, domain.RuleFieldVersion{}, err
	}
	return field, version, nil
}

// GetActiveCatalog implements get_active_catalog().
func (s *FieldService) GetActiveCatalog(ctx context.Context) (map[string]domain.RuleField, error) {
	return s.fields.GetActiveCatalog(ctx)
}

// SetFieldMetadata upserts one (field_key, meta_key) entry.
func (s *FieldService) SetFieldMetadata(ctx context.Context, m domain.RuleFieldMetadata) error {
	if m.FieldKey == "" || m.MetaKey == "" {
		return apperr.InvalidInput("meta_key", "field_key and meta_key are required")
	}
	return s.fields.SetFieldMetadata(ctx, m)
}

// GetFieldMetadata reads one (field_key, meta_key) entry.
func (s *FieldService) GetFieldMetadata(ctx context.Context, fieldKey, metaKey string) (domain.RuleFieldMetadata, error) {
	return s.fields.GetFieldMetadata(ctx, fieldKey, metaKey)
}

// ListFieldVersions lists all versions for a field_key.
func (s *FieldService) ListFieldVersions(ctx context.Context, fieldKey string, page repository.PageRequest) (repository.Page[domain.RuleFieldVersion], error) {
	return s.fields.ListFieldVersions(ctx, fieldKey, page)
}
