package service

import (
	"context"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/idgen"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
)

// RulesetService implements the create-side operations of C6: create_ruleset
// and create_ruleset_version.
type RulesetService struct {
	rulesets *repository.RulesetRepository
	rules    *repository.RuleRepository
	ids      *idgen.Generator
}

// NewRulesetService builds a RulesetService.
func NewRulesetService(rulesets *repository.RulesetRepository, rules *repository.RuleRepository) *RulesetService {
	return &RulesetService{rulesets: rulesets, rules: rules, ids: idgen.New()}
}

// CreateRulesetRequest is the input to create_ruleset.
type CreateRulesetRequest struct {
	Environment string
	Region      string
	Country     string
	RuleType    domain.RuleType
	Name        string
	Description string
	CreatedBy   string
}

// CreateRuleset implements create_ruleset(env, region, country, rule_type,
// name, description, by).
func (s *RulesetService) CreateRuleset(ctx context.Context, req CreateRulesetRequest) (domain.Ruleset, error) {
	return s.rulesets.CreateRuleset(ctx, s.ids.NewID(), domain.Ruleset{
		Environment: req.Environment,
		Region:      req.Region,
		Country:     req.Country,
		RuleType:    req.RuleType,
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
	})
}

// CreateRulesetVersion implements create_ruleset_version(ruleset_id,
// rule_version_ids[], by).
func (s *RulesetService) CreateRulesetVersion(ctx context.Context, rulesetID string, ruleVersionIDs []string, by string) (domain.RulesetVersion, error) {
	return s.rulesets.CreateRulesetVersion(ctx, s.ids.NewID(), rulesetID, ruleVersionIDs, s.rules, by)
}

// ListRulesets implements list_rulesets(filters).
func (s *RulesetService) ListRulesets(ctx context.Context, environment, region, country *string, page repository.PageRequest) (repository.Page[domain.Ruleset], error) {
	return s.rulesets.ListRulesets(ctx, environment, region, country, page)
}

// ListRulesetVersions implements list_ruleset_versions(ruleset_id, status?).
func (s *RulesetService) ListRulesetVersions(ctx context.Context, rulesetID string, status *domain.VersionStatus, page repository.PageRequest) (repository.Page[domain.RulesetVersion], error) {
	return s.rulesets.ListRulesetVersions(ctx, rulesetID, status, page)
}
