package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/canon"
	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/objectstore"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
)

// FieldRegistryService publishes a snapshot of the active field catalog,
// canonicalized and checksummed like a ruleset artifact, to a
// per-registry-version object-storage path.
type FieldRegistryService struct {
	db     *database.DB
	fields *repository.FieldRepository
	store  objectstore.Store
}

// NewFieldRegistryService builds a FieldRegistryService.
func NewFieldRegistryService(db *database.DB, fields *repository.FieldRepository, store objectstore.Store) *FieldRegistryService {
	return &FieldRegistryService{db: db, fields: fields, store: store}
}

// fieldSnapshot is the canonicalized shape written to fields/registry/v{N}/fields.json.
type fieldSnapshot struct {
	Fields []fieldEntry `json:"fields"`
}

type fieldEntry struct {
	FieldKey          string            `json:"fieldKey"`
	FieldID           int               `json:"fieldId"`
	DisplayName       string            `json:"displayName"`
	DataType          domain.DataType   `json:"dataType"`
	AllowedOperators  []domain.Operator `json:"allowedOperators"`
	MultiValueAllowed bool              `json:"multiValueAllowed"`
}

// PublishRegistry runs publish_registry(by) -> FieldRegistryManifest.
func (s *FieldRegistryService) PublishRegistry(ctx context.Context, by string) (domain.FieldRegistryManifest, error) {
	catalog, err := s.fields.GetActiveCatalog(ctx)
	if err != nil {
		return domain.FieldRegistryManifest{}, err
	}

	snapshot := fieldSnapshot{Fields: make([]fieldEntry, 0, len(catalog))}
	for _, f := range catalog {
		snapshot.Fields = append(snapshot.Fields, fieldEntry{
			FieldKey:          f.FieldKey,
			FieldID:           f.FieldID,
			DisplayName:       f.DisplayName,
			DataType:          f.DataType,
			AllowedOperators:  f.AllowedOperators,
			MultiValueAllowed: f.MultiValueAllowed,
		})
	}
	// The catalog is a map; fix the array order so equal catalogs yield
	// byte-identical snapshots and checksums.
	sort.Slice(snapshot.Fields, func(i, j int) bool {
		return snapshot.Fields[i].FieldKey < snapshot.Fields[j].FieldKey
	})

	bytes, checksum, err := canon.MarshalWithChecksum(snapshot)
	if err != nil {
		return domain.FieldRegistryManifest{}, apperr.Wrap(err, apperr.KindPublishing, "canonicalizing field registry snapshot")
	}

	next, err := s.fields.LatestRegistryVersion(ctx)
	if err != nil {
		return domain.FieldRegistryManifest{}, err
	}
	next++

	key := fmt.Sprintf("fields/registry/v%d/fields.json", next)
	if err := s.store.PutImmutable(ctx, key, bytes, checksum); err != nil {
		return domain.FieldRegistryManifest{}, apperr.Wrap(err, apperr.KindPublishing, "writing field registry artifact")
	}

	m := domain.FieldRegistryManifest{
		RegistryVersion: next,
		ArtifactURI:     s.store.URI(key),
		Checksum:        checksum,
		FieldCount:      len(snapshot.Fields),
		CreatedBy:       by,
	}

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return s.fields.InsertRegistryManifest(ctx, tx, m)
	})
	return m, err
}
