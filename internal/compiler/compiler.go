// Package compiler implements the deterministic compile pipeline: load,
// validate, sort, annotate, canonicalize, producing the artifact byte
// sequence and its checksum.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/fraud-platform/card-fraud-rule-management/internal/canon"
	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/validator"
)

// terminalCompileStatuses are the RulesetVersion statuses compile() accepts.
// DRAFT is rejected: a draft ruleset has no guarantee its member rule
// versions are themselves approved.
var terminalCompileStatuses = map[domain.VersionStatus]bool{
	domain.StatusApproved:        true,
	domain.StatusActive:          true,
	domain.StatusPendingApproval: true, // accepted only mid-approve, by convention of the caller
}

// Loader is the read surface the compiler needs from the stores, decoupled
// so the compiler has no direct repository dependency.
type Loader interface {
	LoadRulesetVersion(ctx context.Context, rulesetVersionID string) (domain.RulesetVersion, domain.Ruleset, error)
	LoadMemberRuleVersions(ctx context.Context, rulesetVersionID string) ([]domain.RuleVersion, error)
	LoadActiveCatalog(ctx context.Context) (validator.FieldCatalog, error)
}

// Result is the output of a successful compile.
type Result struct {
	ArtifactBytes []byte
	Checksum      string
	AST           artifact
}

// Compiler runs the compile pipeline.
type Compiler struct {
	loader Loader
}

// New builds a Compiler bound to loader.
func New(loader Loader) *Compiler {
	return &Compiler{loader: loader}
}

// artifact is the compiled ruleset AST written as the published artifact.
type artifact struct {
	RulesetID            string           `json:"rulesetId"`
	Version              int              `json:"version"`
	RuleType             domain.RuleType  `json:"ruleType"`
	Evaluation           evaluationBlock  `json:"evaluation"`
	VelocityFailurePolicy string          `json:"velocityFailurePolicy"`
	Rules                []artifactRule   `json:"rules"`
}

type evaluationBlock struct {
	Mode domain.EvaluationMode `json:"mode"`
}

type artifactRule struct {
	RuleID        string       `json:"ruleId"`
	RuleVersionID string       `json:"ruleVersionId"`
	Priority      int          `json:"priority"`
	When          any          `json:"when"`
	Action        domain.Action `json:"action"`
	Scope         domain.Scope `json:"scope"`
}

// Compile runs the full pipeline for one ruleset version.
func (c *Compiler) Compile(ctx context.Context, rulesetVersionID string) (Result, error) {
	version, ruleset, err := c.loader.LoadRulesetVersion(ctx, rulesetVersionID)
	if err != nil {
		return Result{}, err
	}
	if !terminalCompileStatuses[version.Status] {
		return Result{}, apperr.New(apperr.KindCompilation, fmt.Sprintf(
			"ruleset version %q is %s; compile requires APPROVED, ACTIVE, or PENDING_APPROVAL-during-approve",
			rulesetVersionID, version.Status,
		)).WithDetails(map[string]any{"ruleset_version_id": rulesetVersionID})
	}

	members, err := c.loader.LoadMemberRuleVersions(ctx, rulesetVersionID)
	if err != nil {
		return Result{}, err
	}

	terminal := version.Status == domain.StatusApproved || version.Status == domain.StatusActive
	if terminal {
		for _, rv := range members {
			if rv.Status != domain.StatusApproved {
				return Result{}, apperr.New(apperr.KindCompilation, fmt.Sprintf(
					"rule version %q is %s, not APPROVED", rv.RuleVersionID, rv.Status,
				)).WithDetails(map[string]any{
					"ruleset_version_id": rulesetVersionID,
					"rule_version_id":    rv.RuleVersionID,
				})
			}
		}
	}

	catalog, err := c.loader.LoadActiveCatalog(ctx)
	if err != nil {
		return Result{}, err
	}
	engine := validator.NewEngine(catalog)

	type annotated struct {
		rv   domain.RuleVersion
		tree *domain.ConditionNode
	}
	parsed := make([]annotated, 0, len(members))
	for _, rv := range members {
		tree, err := domain.ParseConditionTree(rv.ConditionTree)
		if err != nil {
			return Result{}, apperr.New(apperr.KindCompilation, err.Error()).WithDetails(map[string]any{
				"ruleset_version_id": rulesetVersionID,
				"rule_version_id":    rv.RuleVersionID,
			})
		}
		if err := engine.Validate(tree); err != nil {
			ae, _ := apperr.As(err)
			details := map[string]any{
				"ruleset_version_id": rulesetVersionID,
				"rule_version_id":    rv.RuleVersionID,
				"rule_id":            rv.RuleID,
			}
			if ae != nil {
				for k, v := range ae.Details {
					details[k] = v
				}
				return Result{}, apperr.New(apperr.KindCompilation, ae.Message).WithDetails(details)
			}
			return Result{}, apperr.New(apperr.KindCompilation, err.Error()).WithDetails(details)
		}
		parsed = append(parsed, annotated{rv: rv, tree: tree})
	}

	// Sort by (priority DESC, rule_id ASC) so ties resolve deterministically.
	sort.SliceStable(parsed, func(i, j int) bool {
		if parsed[i].rv.Priority != parsed[j].rv.Priority {
			return parsed[i].rv.Priority > parsed[j].rv.Priority
		}
		return parsed[i].rv.RuleID < parsed[j].rv.RuleID
	})

	ast := artifact{
		RulesetID:             ruleset.RulesetID,
		Version:               version.Version,
		RuleType:               ruleset.RuleType,
		Evaluation:             evaluationBlock{Mode: domain.EvaluationModeFor(ruleset.RuleType)},
		VelocityFailurePolicy: "SKIP",
		Rules:                 make([]artifactRule, 0, len(parsed)),
	}
	for _, a := range parsed {
		scope := a.rv.Scope
		if scope == nil {
			scope = domain.Scope{}
		}
		ast.Rules = append(ast.Rules, artifactRule{
			RuleID:        a.rv.RuleID,
			RuleVersionID: a.rv.RuleVersionID,
			Priority:      a.rv.Priority,
			When:          a.tree.ToWireShapeA(),
			Action:        a.rv.Action,
			Scope:         scope,
		})
	}

	artifactBytes, checksum, err := canon.MarshalWithChecksum(ast)
	if err != nil {
		return Result{}, apperr.Wrap(err, apperr.KindCompilation, "canonicalizing compiled artifact")
	}

	return Result{ArtifactBytes: artifactBytes, Checksum: checksum, AST: ast}, nil
}

// MarshalAST is exposed for callers (e.g. tests) needing the AST as raw
// JSON without going through the canonical form.
func MarshalAST(ast any) ([]byte, error) {
	return json.Marshal(ast)
}
