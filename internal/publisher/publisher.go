// Package publisher implements the atomic publish pipeline: compile, write
// the versioned artifact, insert the DB manifest row, write the manifest
// pointer, all triggered from within the approval commit.
package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"

	"github.com/fraud-platform/card-fraud-rule-management/internal/canon"
	"github.com/fraud-platform/card-fraud-rule-management/internal/compiler"
	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/objectstore"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
)

// maxPublishAttempts bounds the retry around each object-storage write:
// the initial attempt plus up to two retries with exponential backoff.
const maxPublishAttempts = 3

// retryStoreWrite runs write with exponential backoff, retrying transient
// object-storage failures up to maxPublishAttempts times.
func retryStoreWrite(ctx context.Context, write func() error) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, write()
	}, backoff.WithMaxTries(maxPublishAttempts), backoff.WithBackOff(backoff.NewExponentialBackOff()))
	return err
}

// ManifestWriter is the persistence surface the publisher needs (decoupled
// from *repository.ManifestRepository so this package has no pgx import
// beyond the transaction handle it's given).
type ManifestWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, m domain.RulesetManifest) error
}

// pointerPayload is the JSON shape written to each ruleset's manifest.json
// pointer object.
type pointerPayload struct {
	SchemaVersion   string `json:"schema_version"`
	Environment     string `json:"environment"`
	Region          string `json:"region"`
	Country         string `json:"country"`
	RulesetKey      string `json:"ruleset_key"`
	RulesetVersion  int    `json:"ruleset_version"`
	ArtifactURI     string `json:"artifact_uri"`
	Checksum        string `json:"checksum"`
	PublishedAt     string `json:"published_at"`
}

// Publisher orchestrates compile + object-storage writes + manifest insert.
type Publisher struct {
	compiler *compiler.Compiler
	store    objectstore.Store
	manifest ManifestWriter
	now      func() time.Time
}

// New builds a Publisher. now defaults to time.Now if nil (tests may
// override it for deterministic published_at values).
func New(c *compiler.Compiler, store objectstore.Store, manifest ManifestWriter, now func() time.Time) *Publisher {
	if now == nil {
		now = time.Now
	}
	return &Publisher{compiler: c, store: store, manifest: manifest, now: now}
}

// Publish is the input to Publisher.Publish. ManifestID is assigned by the
// caller (the approval engine draws it from its idgen.Generator).
type Publish struct {
	RulesetVersionID string
	ManifestID       string
	Environment      string
	Region           string
	Country          string
	RuleType         domain.RuleType
	RulesetVersion   int
	FieldRegistryVersion *int
	Actor            string
}

// Publish compiles the ruleset version and writes its artifact, manifest
// row, and pointer within tx (the caller's approval transaction); any
// error aborts that transaction.
func (p *Publisher) Publish(ctx context.Context, tx pgx.Tx, req Publish) (domain.RulesetManifest, error) {
	if !domain.PublishableRuleTypes[req.RuleType] {
		return domain.RulesetManifest{}, apperr.InvalidInput("rule_type", fmt.Sprintf(
			"rule_type %s is governance-only and must not be published", req.RuleType,
		))
	}
	rulesetKey := domain.RulesetKeyFor(req.RuleType)

	result, err := p.compiler.Compile(ctx, req.RulesetVersionID)
	if err != nil {
		return domain.RulesetManifest{}, err
	}

	artifactKey := fmt.Sprintf("rulesets/%s/%s/%s/%s/v%d/ruleset.json",
		req.Environment, req.Region, req.Country, rulesetKey, req.RulesetVersion)
	err = retryStoreWrite(ctx, func() error {
		werr := p.store.PutImmutable(ctx, artifactKey, result.ArtifactBytes, result.Checksum)
		if werr == objectstore.ErrChecksumMismatch {
			return backoff.Permanent(werr)
		}
		return werr
	})
	if err != nil {
		return domain.RulesetManifest{}, apperr.Wrap(err, apperr.KindPublishing, "writing ruleset artifact")
	}
	artifactURI := p.store.URI(artifactKey)

	m := domain.RulesetManifest{
		ManifestID:           req.ManifestID,
		Environment:          req.Environment,
		Region:               req.Region,
		Country:              req.Country,
		RuleType:             req.RuleType,
		RulesetVersion:       req.RulesetVersion,
		RulesetVersionID:     req.RulesetVersionID,
		FieldRegistryVersion: req.FieldRegistryVersion,
		ArtifactURI:          artifactURI,
		Checksum:             result.Checksum,
		CreatedBy:            req.Actor,
	}
	if err := p.manifest.Insert(ctx, tx, m); err != nil {
		return domain.RulesetManifest{}, err
	}

	pointerKey := fmt.Sprintf("rulesets/%s/%s/%s/%s/manifest.json", req.Environment, req.Region, req.Country, rulesetKey)
	pointer := pointerPayload{
		SchemaVersion:  "1.0",
		Environment:    req.Environment,
		Region:         req.Region,
		Country:        req.Country,
		RulesetKey:     string(rulesetKey),
		RulesetVersion: req.RulesetVersion,
		ArtifactURI:    artifactURI,
		Checksum:       result.Checksum,
		PublishedAt:    p.now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	pointerBytes, err := canon.Marshal(pointer)
	if err != nil {
		return domain.RulesetManifest{}, apperr.Wrap(err, apperr.KindPublishing, "canonicalizing manifest pointer")
	}
	err = retryStoreWrite(ctx, func() error {
		return p.store.PutPointer(ctx, pointerKey, pointerBytes)
	})
	if err != nil {
		return domain.RulesetManifest{}, apperr.Wrap(err, apperr.KindPublishing, "writing manifest pointer")
	}

	return m, nil
}
