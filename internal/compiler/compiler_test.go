package compiler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/validator"
)

type fakeCatalog map[string]domain.RuleField

func (c fakeCatalog) Lookup(fieldKey string) (domain.RuleField, bool) {
	f, ok := c[fieldKey]
	return f, ok
}

type fakeLoader struct {
	version domain.RulesetVersion
	ruleset domain.Ruleset
	members []domain.RuleVersion
	catalog fakeCatalog
}

func (l *fakeLoader) LoadRulesetVersion(ctx context.Context, id string) (domain.RulesetVersion, domain.Ruleset, error) {
	return l.version, l.ruleset, nil
}

func (l *fakeLoader) LoadMemberRuleVersions(ctx context.Context, id string) ([]domain.RuleVersion, error) {
	return l.members, nil
}

func (l *fakeLoader) LoadActiveCatalog(ctx context.Context) (validator.FieldCatalog, error) {
	return l.catalog, nil
}

func leafTree(field, op string, value any) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"field": field, "op": op, "value": value})
	return b
}

func baseLoader() *fakeLoader {
	return &fakeLoader{
		ruleset: domain.Ruleset{RulesetID: "rst_1", RuleType: domain.RuleTypeAuth},
		version: domain.RulesetVersion{RulesetVersionID: "rsv_1", RulesetID: "rst_1", Version: 3, Status: domain.StatusApproved},
		catalog: fakeCatalog{
			"amount": {FieldKey: "amount", DataType: domain.DataTypeNumber, AllowedOperators: []domain.Operator{domain.OpGT}},
		},
		members: []domain.RuleVersion{
			{RuleVersionID: "rv_a", RuleID: "rul_b", Priority: 10, Status: domain.StatusApproved,
				ConditionTree: leafTree("amount", "GT", float64(100)), Action: domain.ActionDecline},
			{RuleVersionID: "rv_b", RuleID: "rul_a", Priority: 10, Status: domain.StatusApproved,
				ConditionTree: leafTree("amount", "GT", float64(50)), Action: domain.ActionReview},
			{RuleVersionID: "rv_c", RuleID: "rul_c", Priority: 20, Status: domain.StatusApproved,
				ConditionTree: leafTree("amount", "GT", float64(10)), Action: domain.ActionApprove},
		},
	}
}

func TestCompile_SortsByPriorityDescThenRuleIDAsc(t *testing.T) {
	c := New(baseLoader())
	result, err := c.Compile(context.Background(), "rsv_1")
	require.NoError(t, err)

	require.Len(t, result.AST.Rules, 3)
	assert.Equal(t, "rv_c", result.AST.Rules[0].RuleVersionID) // priority 20
	// priority 10 ties resolved by rule_id ascending: rul_a before rul_b
	assert.Equal(t, "rv_b", result.AST.Rules[1].RuleVersionID)
	assert.Equal(t, "rv_a", result.AST.Rules[2].RuleVersionID)
}

func TestCompile_IsDeterministicAcrossRuns(t *testing.T) {
	c := New(baseLoader())
	r1, err := c.Compile(context.Background(), "rsv_1")
	require.NoError(t, err)
	r2, err := c.Compile(context.Background(), "rsv_1")
	require.NoError(t, err)

	assert.Equal(t, r1.Checksum, r2.Checksum)
	assert.Equal(t, string(r1.ArtifactBytes), string(r2.ArtifactBytes))
}

func TestCompile_RejectsDraftRulesetVersion(t *testing.T) {
	loader := baseLoader()
	loader.version.Status = domain.StatusDraft
	_, err := New(loader).Compile(context.Background(), "rsv_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile requires")
}

func TestCompile_RejectsNonApprovedMemberWhenRulesetTerminal(t *testing.T) {
	loader := baseLoader()
	loader.members[0].Status = domain.StatusPendingApproval
	_, err := New(loader).Compile(context.Background(), "rsv_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not APPROVED")
}

func TestCompile_RejectsMemberFailingCatalogValidation(t *testing.T) {
	loader := baseLoader()
	loader.members[0].ConditionTree = leafTree("does_not_exist", "EQ", "x")
	_, err := New(loader).Compile(context.Background(), "rsv_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in active catalog")
}

func TestCompile_UsesLockedEvaluationModeForRuleType(t *testing.T) {
	loader := baseLoader()
	loader.ruleset.RuleType = domain.RuleTypeAllowlist
	result, err := New(loader).Compile(context.Background(), "rsv_1")
	require.NoError(t, err)
	assert.Equal(t, domain.EvaluationModeFor(domain.RuleTypeAllowlist), result.AST.Evaluation.Mode)
}
