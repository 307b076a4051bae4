// Package approval implements the maker-checker orchestration layer:
// submit/approve/reject for rule versions, ruleset versions, and field
// versions, plus ruleset activation, all enforcing maker != checker and
// idempotent submission. Each workflow method runs its transitions inside
// a single transaction and appends an audit entry before returning.
package approval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/events"
	"github.com/fraud-platform/card-fraud-rule-management/internal/idgen"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/database"
	"github.com/fraud-platform/card-fraud-rule-management/internal/publisher"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
)

// Engine orchestrates the maker-checker state machine over rule, ruleset,
// and field versions.
type Engine struct {
	db        *database.DB
	rules     *repository.RuleRepository
	rulesets  *repository.RulesetRepository
	fields    *repository.FieldRepository
	approvals *repository.ApprovalRepository
	audit     *repository.AuditRepository
	publisher *publisher.Publisher
	notifier  *events.Publisher
	ids       *idgen.Generator
	log       zerolog.Logger
}

// New builds an Engine wired to its collaborators. notifier may be nil.
func New(
	db *database.DB,
	rules *repository.RuleRepository,
	rulesets *repository.RulesetRepository,
	fields *repository.FieldRepository,
	approvals *repository.ApprovalRepository,
	audit *repository.AuditRepository,
	pub *publisher.Publisher,
	notifier *events.Publisher,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		db: db, rules: rules, rulesets: rulesets, fields: fields, approvals: approvals,
		audit: audit, publisher: pub, notifier: notifier, ids: idgen.New(), log: log,
	}
}

// PublishContext carries the facts the publisher needs that only the
// caller (the handler/CLI layer, which knows the target environment) has.
// FieldRegistryVersion is optional; nil when the caller doesn't track one.
type PublishContext struct {
	Environment          string
	Region               string
	Country              string
	FieldRegistryVersion *int
}

// ── Rule version workflow ────────────────────────────────────────────────

// SubmitRuleVersion moves a DRAFT rule version to PENDING_APPROVAL and
// records the SUBMIT approval row. A repeated call with the same
// idempotency_key returns the original Approval unchanged.
func (e *Engine) SubmitRuleVersion(ctx context.Context, ruleVersionID, maker, idempotencyKey string) (domain.RuleVersion, domain.Approval, error) {
	var outV domain.RuleVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if existing, ok, err := e.approvals.FindByIdempotencyKey(ctx, tx, domain.EntityRuleVersion, ruleVersionID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outA = existing
			outV, err = e.rules.GetRuleVersion(ctx, tx, ruleVersionID)
			return err
		}

		before, err := e.rules.GetRuleVersion(ctx, tx, ruleVersionID)
		if err != nil {
			return err
		}
		outV, err = e.rules.SubmitRuleVersion(ctx, tx, ruleVersionID)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertSubmit(ctx, tx, approvalID, domain.EntityRuleVersion, ruleVersionID, maker, idempotencyKey)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityRuleVersion, ruleVersionID, "SUBMIT", before, outV, maker)
	})
	return outV, outA, err
}

// ApproveRuleVersion transitions PENDING_APPROVAL -> APPROVED, superseding
// the prior APPROVED sibling, enforcing actor != original maker.
func (e *Engine) ApproveRuleVersion(ctx context.Context, ruleVersionID, checker, remarks string) (domain.RuleVersion, domain.Approval, error) {
	var outV domain.RuleVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		maker, err := e.approvals.LatestMaker(ctx, tx, domain.EntityRuleVersion, ruleVersionID)
		if err != nil {
			return err
		}
		if maker == checker {
			return apperr.Forbidden("checker must not be the original maker")
		}

		before, err := e.rules.GetRuleVersion(ctx, tx, ruleVersionID)
		if err != nil {
			return err
		}
		outV, err = e.rules.ApproveRuleVersion(ctx, tx, ruleVersionID, checker)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertDecision(ctx, tx, approvalID, domain.EntityRuleVersion, ruleVersionID,
			domain.ApprovalActionApprove, domain.ApprovalApproved, maker, checker, remarks)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityRuleVersion, ruleVersionID, "APPROVE", before, outV, checker)
	})
	return outV, outA, err
}

// RejectRuleVersion transitions PENDING_APPROVAL -> REJECTED (terminal).
func (e *Engine) RejectRuleVersion(ctx context.Context, ruleVersionID, checker, remarks string) (domain.RuleVersion, domain.Approval, error) {
	var outV domain.RuleVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		maker, err := e.approvals.LatestMaker(ctx, tx, domain.EntityRuleVersion, ruleVersionID)
		if err != nil {
			return err
		}
		if maker == checker {
			return apperr.Forbidden("checker must not be the original maker")
		}

		before, err := e.rules.GetRuleVersion(ctx, tx, ruleVersionID)
		if err != nil {
			return err
		}
		outV, err = e.rules.RejectRuleVersion(ctx, tx, ruleVersionID, checker, remarks)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertDecision(ctx, tx, approvalID, domain.EntityRuleVersion, ruleVersionID,
			domain.ApprovalActionReject, domain.ApprovalRejected, maker, checker, remarks)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityRuleVersion, ruleVersionID, "REJECT", before, outV, checker)
	})
	return outV, outA, err
}

// ── Ruleset version workflow ─────────────────────────────────────────────

// SubmitRulesetVersion moves a DRAFT ruleset version to PENDING_APPROVAL.
func (e *Engine) SubmitRulesetVersion(ctx context.Context, rulesetVersionID, maker, idempotencyKey string) (domain.RulesetVersion, domain.Approval, error) {
	var outV domain.RulesetVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if existing, ok, err := e.approvals.FindByIdempotencyKey(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outA = existing
			outV, err = e.rulesets.GetRulesetVersion(ctx, tx, rulesetVersionID)
			return err
		}

		before, err := e.rulesets.GetRulesetVersion(ctx, tx, rulesetVersionID)
		if err != nil {
			return err
		}
		outV, err = e.rulesets.SubmitRulesetVersion(ctx, tx, rulesetVersionID)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertSubmit(ctx, tx, approvalID, domain.EntityRulesetVersion, rulesetVersionID, maker, idempotencyKey)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID, "SUBMIT", before, outV, maker)
	})
	return outV, outA, err
}

// ApproveRulesetVersion transitions PENDING_APPROVAL -> APPROVED and, in the
// same transaction, invokes the publisher for publishable rule types.
// Publisher failure aborts the whole approve (no state change).
func (e *Engine) ApproveRulesetVersion(ctx context.Context, rulesetVersionID, checker, remarks string, pc PublishContext) (domain.RulesetVersion, domain.Approval, *domain.RulesetManifest, error) {
	var outV domain.RulesetVersion
	var outA domain.Approval
	var outM *domain.RulesetManifest

	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		maker, err := e.approvals.LatestMaker(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID)
		if err != nil {
			return err
		}
		if maker == checker {
			return apperr.Forbidden("checker must not be the original maker")
		}

		before, err := e.rulesets.GetRulesetVersion(ctx, tx, rulesetVersionID)
		if err != nil {
			return err
		}
		outV, err = e.rulesets.ApproveRulesetVersion(ctx, tx, rulesetVersionID, checker)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertDecision(ctx, tx, approvalID, domain.EntityRulesetVersion, rulesetVersionID,
			domain.ApprovalActionApprove, domain.ApprovalApproved, maker, checker, remarks)
		if err != nil {
			return err
		}

		rs, err := e.rulesets.GetRuleset(ctx, tx, outV.RulesetID)
		if err != nil {
			return err
		}
		if domain.PublishableRuleTypes[rs.RuleType] {
			m, err := e.publisher.Publish(ctx, tx, publisher.Publish{
				RulesetVersionID:     rulesetVersionID,
				ManifestID:           e.ids.NewID(),
				Environment:          pc.Environment,
				Region:               pc.Region,
				Country:              pc.Country,
				RuleType:             rs.RuleType,
				RulesetVersion:       outV.Version,
				FieldRegistryVersion: pc.FieldRegistryVersion,
				Actor:                checker,
			})
			if err != nil {
				return err
			}
			outM = &m
		}

		return e.appendAudit(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID, "APPROVE", before, outV, checker)
	})
	return outV, outA, outM, err
}

// RejectRulesetVersion transitions PENDING_APPROVAL -> REJECTED and never
// triggers publish.
func (e *Engine) RejectRulesetVersion(ctx context.Context, rulesetVersionID, checker, remarks string) (domain.RulesetVersion, domain.Approval, error) {
	var outV domain.RulesetVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		maker, err := e.approvals.LatestMaker(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID)
		if err != nil {
			return err
		}
		if maker == checker {
			return apperr.Forbidden("checker must not be the original maker")
		}

		before, err := e.rulesets.GetRulesetVersion(ctx, tx, rulesetVersionID)
		if err != nil {
			return err
		}
		outV, err = e.rulesets.RejectRulesetVersion(ctx, tx, rulesetVersionID)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertDecision(ctx, tx, approvalID, domain.EntityRulesetVersion, rulesetVersionID,
			domain.ApprovalActionReject, domain.ApprovalRejected, maker, checker, remarks)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID, "REJECT", before, outV, checker)
	})
	return outV, outA, err
}

// ActivateRuleset transitions an APPROVED ruleset version to ACTIVE,
// superseding the prior ACTIVE sibling under an advisory lock.
func (e *Engine) ActivateRuleset(ctx context.Context, rulesetID, rulesetVersionID, actor string) (domain.RulesetVersion, error) {
	var out domain.RulesetVersion
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		before, err := e.rulesets.GetRulesetVersion(ctx, tx, rulesetVersionID)
		if err != nil {
			return err
		}
		out, err = e.rulesets.ActivateRulesetVersion(ctx, tx, rulesetID, rulesetVersionID)
		if err != nil {
			return err
		}
		return e.appendAudit(ctx, tx, domain.EntityRulesetVersion, rulesetVersionID, "ACTIVATE", before, out, actor)
	})
	return out, err
}

// ── Field version workflow ───────────────────────────────────────────────

// SubmitFieldVersion moves a DRAFT field version to PENDING_APPROVAL.
func (e *Engine) SubmitFieldVersion(ctx context.Context, fieldVersionID, maker, idempotencyKey string) (domain.RuleFieldVersion, domain.Approval, error) {
	var outV domain.RuleFieldVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if existing, ok, err := e.approvals.FindByIdempotencyKey(ctx, tx, domain.EntityFieldVersion, fieldVersionID, idempotencyKey); err != nil {
			return err
		} else if ok {
			outA = existing
			outV, err = e.fields.GetFieldVersion(ctx, tx, fieldVersionID)
			return err
		}

		var err error
		outV, err = e.fields.SubmitFieldVersion(ctx, tx, fieldVersionID)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertSubmit(ctx, tx, approvalID, domain.EntityFieldVersion, fieldVersionID, maker, idempotencyKey)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityFieldVersion, fieldVersionID, "SUBMIT", nil, outV, maker)
	})
	return outV, outA, err
}

// ApproveFieldVersion transitions PENDING_APPROVAL -> APPROVED, enforcing
// actor != original maker.
func (e *Engine) ApproveFieldVersion(ctx context.Context, fieldVersionID, checker, remarks string) (domain.RuleFieldVersion, domain.Approval, error) {
	var outV domain.RuleFieldVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		maker, err := e.approvals.LatestMaker(ctx, tx, domain.EntityFieldVersion, fieldVersionID)
		if err != nil {
			return err
		}
		if maker == checker {
			return apperr.Forbidden("checker must not be the original maker")
		}

		outV, err = e.fields.ApproveFieldVersion(ctx, tx, fieldVersionID, checker)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertDecision(ctx, tx, approvalID, domain.EntityFieldVersion, fieldVersionID,
			domain.ApprovalActionApprove, domain.ApprovalApproved, maker, checker, remarks)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityFieldVersion, fieldVersionID, "APPROVE", nil, outV, checker)
	})
	return outV, outA, err
}

// RejectFieldVersion transitions PENDING_APPROVAL -> REJECTED (terminal).
func (e *Engine) RejectFieldVersion(ctx context.Context, fieldVersionID, checker, remarks string) (domain.RuleFieldVersion, domain.Approval, error) {
	var outV domain.RuleFieldVersion
	var outA domain.Approval
	err := e.db.InTransaction(ctx, func(tx pgx.Tx) error {
		maker, err := e.approvals.LatestMaker(ctx, tx, domain.EntityFieldVersion, fieldVersionID)
		if err != nil {
			return err
		}
		if maker == checker {
			return apperr.Forbidden("checker must not be the original maker")
		}

		outV, err = e.fields.RejectFieldVersion(ctx, tx, fieldVersionID)
		if err != nil {
			return err
		}

		approvalID := e.ids.NewID()
		outA, err = e.approvals.InsertDecision(ctx, tx, approvalID, domain.EntityFieldVersion, fieldVersionID,
			domain.ApprovalActionReject, domain.ApprovalRejected, maker, checker, remarks)
		if err != nil {
			return err
		}

		return e.appendAudit(ctx, tx, domain.EntityFieldVersion, fieldVersionID, "REJECT", nil, outV, checker)
	})
	return outV, outA, err
}

// ── Query helpers ────────────────────────────────────────────────────────

// PendingFor lists entities awaiting a decision from principal.
func (e *Engine) PendingFor(ctx context.Context, principal string, page repository.PageRequest) (repository.Page[domain.Approval], error) {
	return e.approvals.ListPendingFor(ctx, principal, page)
}

// ── Internal helpers ─────────────────────────────────────────────────────

func (e *Engine) appendAudit(ctx context.Context, tx pgx.Tx, entityType domain.EntityType, entityID, action string, before, after any, performedBy string) error {
	oldValue, err := json.Marshal(before)
	if err != nil {
		return fmt.Errorf("marshaling audit old_value: %w", err)
	}
	newValue, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("marshaling audit new_value: %w", err)
	}

	entry := domain.AuditEntry{
		AuditID:     e.ids.NewID(),
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		OldValue:    oldValue,
		NewValue:    newValue,
		PerformedBy: performedBy,
	}
	if err := e.audit.Append(ctx, tx, entry); err != nil {
		return err
	}
	if e.notifier != nil {
		e.notifier.PublishAudit(entry)
	}
	return nil
}
