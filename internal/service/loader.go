// Package service wraps the repository layer, with ID generation and
// condition-tree validation, into the create/read operations the transport
// layer (HTTP handler, rulesctl CLI) calls, and adapts the repositories to
// the compiler's Loader interface.
package service

import (
	"context"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
	"github.com/fraud-platform/card-fraud-rule-management/internal/validator"
)

// RepositoryLoader adapts RuleRepository/RulesetRepository/FieldRepository
// into compiler.Loader, decoupling the compiler package from persistence.
type RepositoryLoader struct {
	Rules    *repository.RuleRepository
	Rulesets *repository.RulesetRepository
	Fields   *repository.FieldRepository
}

// NewRepositoryLoader builds a RepositoryLoader.
func NewRepositoryLoader(rules *repository.RuleRepository, rulesets *repository.RulesetRepository, fields *repository.FieldRepository) *RepositoryLoader {
	return &RepositoryLoader{Rules: rules, Rulesets: rulesets, Fields: fields}
}

// LoadRulesetVersion implements compiler.Loader.
func (l *RepositoryLoader) LoadRulesetVersion(ctx context.Context, rulesetVersionID string) (domain.RulesetVersion, domain.Ruleset, error) {
	v, err := l.Rulesets.GetRulesetVersion(ctx, nil, rulesetVersionID)
	if err != nil {
		return domain.RulesetVersion{}, domain.Ruleset{}, err
	}
	rs, err := l.Rulesets.GetRuleset(ctx, nil, v.RulesetID)
	if err != nil {
		return domain.RulesetVersion{}, domain.Ruleset{}, err
	}
	return v, rs, nil
}

// LoadMemberRuleVersions implements compiler.Loader.
func (l *RepositoryLoader) LoadMemberRuleVersions(ctx context.Context, rulesetVersionID string) ([]domain.RuleVersion, error) {
	ids, err := l.Rulesets.MemberRuleVersionIDs(ctx, nil, rulesetVersionID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RuleVersion, 0, len(ids))
	for _, id := range ids {
		rv, err := l.Rules.GetRuleVersion(ctx, nil, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, nil
}

// LoadActiveCatalog implements compiler.Loader.
func (l *RepositoryLoader) LoadActiveCatalog(ctx context.Context) (validator.FieldCatalog, error) {
	catalog, err := l.Fields.GetActiveCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return repository.CatalogSnapshot(catalog), nil
}
