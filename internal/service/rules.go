package service

import (
	"context"
	"encoding/json"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/idgen"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
	"github.com/fraud-platform/card-fraud-rule-management/internal/validator"
)

// RuleService implements the create-side rule operations: create_rule and
// create_rule_version, validating condition trees against the active
// catalog before they ever reach PENDING_APPROVAL.
type RuleService struct {
	rules *repository.RuleRepository
	ids   *idgen.Generator
}

// NewRuleService builds a RuleService.
func NewRuleService(rules *repository.RuleRepository) *RuleService {
	return &RuleService{rules: rules, ids: idgen.New()}
}

// CreateRuleRequest is the input to create_rule.
type CreateRuleRequest struct {
	RuleName    string
	Description string
	RuleType    domain.RuleType
	CreatedBy   string
}

// CreateRule implements create_rule(name, description, rule_type, by).
func (s *RuleService) CreateRule(ctx context.Context, req CreateRuleRequest) (domain.Rule, error) {
	return s.rules.CreateRule(ctx, s.ids.NewID(), domain.Rule{
		RuleName:    req.RuleName,
		Description: req.Description,
		RuleType:    req.RuleType,
		CreatedBy:   req.CreatedBy,
	})
}

// CreateRuleVersionRequest is the input to create_rule_version.
type CreateRuleVersionRequest struct {
	RuleID               string
	ConditionTree        []byte
	Scope                domain.Scope
	Priority             int
	Action               domain.Action
	ExpectedRowVersion   *int
	CreatedBy            string
}

// CreateRuleVersion creates a new version of an existing rule, validating
// the condition tree against catalog before insert.
func (s *RuleService) CreateRuleVersion(ctx context.Context, catalog validator.FieldCatalog, req CreateRuleVersionRequest) (domain.RuleVersion, error) {
	tree, err := domain.ParseConditionTree(req.ConditionTree)
	if err != nil {
		return domain.RuleVersion{}, err
	}
	engine := validator.NewEngine(catalog)
	if err := engine.Validate(tree); err != nil {
		return domain.RuleVersion{}, err
	}

	normalized, err := json.Marshal(tree.ToWireShapeA())
	if err != nil {
		return domain.RuleVersion{}, err
	}

	return s.rules.CreateRuleVersion(ctx, s.ids.NewID(), req.RuleID, req.ExpectedRowVersion, domain.RuleVersion{
		ConditionTree: normalized,
		Scope:         req.Scope,
		Priority:      req.Priority,
		Action:        req.Action,
	}, req.CreatedBy)
}

// ListRules implements list_rules(rule_type?) with keyset pagination.
func (s *RuleService) ListRules(ctx context.Context, ruleType *domain.RuleType, page repository.PageRequest) (repository.Page[domain.Rule], error) {
	return s.rules.ListRules(ctx, ruleType, page)
}
