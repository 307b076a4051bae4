// Package handler exposes the governance core over HTTP: stdlib net/http,
// one method per operation, the request decoded into a service-layer
// request struct, the response encoded as JSON. Errors render through the
// apperr envelope rather than plain-text http.Error.
package handler

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/fraud-platform/card-fraud-rule-management/internal/approval"
	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
	"github.com/fraud-platform/card-fraud-rule-management/internal/repository"
	"github.com/fraud-platform/card-fraud-rule-management/internal/service"
)

// HTTPHandler handles HTTP requests against the governance core.
type HTTPHandler struct {
	rules     *service.RuleService
	rulesets  *service.RulesetService
	fields    *service.FieldService
	registry  *service.FieldRegistryService
	loader    *service.RepositoryLoader
	approvals *approval.Engine
	auditRepo *repository.AuditRepository
	log       zerolog.Logger
}

// NewHTTPHandler builds an HTTPHandler wired to every service collaborator.
func NewHTTPHandler(
	rules *service.RuleService,
	rulesets *service.RulesetService,
	fields *service.FieldService,
	registry *service.FieldRegistryService,
	loader *service.RepositoryLoader,
	approvals *approval.Engine,
	auditRepo *repository.AuditRepository,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		rules: rules, rulesets: rulesets, fields: fields, registry: registry,
		loader: loader, approvals: approvals, auditRepo: auditRepo, log: log,
	}
}

// ── helpers ───────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	env := apperr.ToEnvelope(err)
	writeJSON(w, statusFor(env.Error), env)
}

func statusFor(kind string) int {
	switch apperr.Kind(kind) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidState:
		return http.StatusConflict
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindCompilation, apperr.KindPublishing, apperr.KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func pageRequestFromQuery(q url.Values) repository.PageRequest {
	dir := repository.DirectionNext
	if q.Get("direction") == "prev" {
		dir = repository.DirectionPrev
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	return repository.PageRequest{Cursor: q.Get("cursor"), Direction: dir, Limit: limit}
}

func actorFrom(r *http.Request) string {
	// Identity verification is an out-of-scope collaborator; the resolved
	// principal is expected to arrive via this header once the identity
	// middleware is wired in front of the mux.
	return r.Header.Get("X-Principal-Id")
}

// ── rules ────────────────────────────────────────────────────────────────

func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.InvalidInput("method", "POST required"))
		return
	}
	var req service.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	req.CreatedBy = actorFrom(r)

	rule, err := h.rules.CreateRule(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (h *HTTPHandler) CreateRuleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apperr.InvalidInput("method", "POST required"))
		return
	}
	var body struct {
		RuleID             string          `json:"rule_id"`
		ConditionTree      json.RawMessage `json:"condition_tree"`
		Scope              domain.Scope    `json:"scope"`
		Priority           int             `json:"priority"`
		Action             domain.Action   `json:"action"`
		ExpectedRowVersion *int            `json:"expected_rule_row_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}

	catalog, err := h.loader.LoadActiveCatalog(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	rv, err := h.rules.CreateRuleVersion(r.Context(), catalog, service.CreateRuleVersionRequest{
		RuleID:             body.RuleID,
		ConditionTree:      body.ConditionTree,
		Scope:              body.Scope,
		Priority:           body.Priority,
		Action:             body.Action,
		ExpectedRowVersion: body.ExpectedRowVersion,
		CreatedBy:          actorFrom(r),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *HTTPHandler) SubmitRuleVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RuleVersionID  string `json:"rule_version_id"`
		IdempotencyKey string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, a, err := h.approvals.SubmitRuleVersion(r.Context(), body.RuleVersionID, actorFrom(r), body.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_version": v, "approval": a})
}

func (h *HTTPHandler) ApproveRuleVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RuleVersionID string `json:"rule_version_id"`
		Remarks       string `json:"remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, a, err := h.approvals.ApproveRuleVersion(r.Context(), body.RuleVersionID, actorFrom(r), body.Remarks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_version": v, "approval": a})
}

func (h *HTTPHandler) RejectRuleVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RuleVersionID string `json:"rule_version_id"`
		Remarks       string `json:"remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, a, err := h.approvals.RejectRuleVersion(r.Context(), body.RuleVersionID, actorFrom(r), body.Remarks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule_version": v, "approval": a})
}

func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var ruleType *domain.RuleType
	if v := q.Get("rule_type"); v != "" {
		rt := domain.RuleType(v)
		ruleType = &rt
	}
	page, err := h.rules.ListRules(r.Context(), ruleType, pageRequestFromQuery(q))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ── rulesets ─────────────────────────────────────────────────────────────

func (h *HTTPHandler) CreateRuleset(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRulesetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	req.CreatedBy = actorFrom(r)
	rs, err := h.rulesets.CreateRuleset(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rs)
}

func (h *HTTPHandler) CreateRulesetVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RulesetID      string   `json:"ruleset_id"`
		RuleVersionIDs []string `json:"rule_version_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, err := h.rulesets.CreateRulesetVersion(r.Context(), body.RulesetID, body.RuleVersionIDs, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *HTTPHandler) SubmitRulesetVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RulesetVersionID string `json:"ruleset_version_id"`
		IdempotencyKey   string `json:"idempotency_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, a, err := h.approvals.SubmitRulesetVersion(r.Context(), body.RulesetVersionID, actorFrom(r), body.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ruleset_version": v, "approval": a})
}

func (h *HTTPHandler) ApproveRulesetVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RulesetVersionID     string `json:"ruleset_version_id"`
		Remarks              string `json:"remarks"`
		Environment          string `json:"environment"`
		Region               string `json:"region"`
		Country              string `json:"country"`
		FieldRegistryVersion *int   `json:"field_registry_version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, a, m, err := h.approvals.ApproveRulesetVersion(r.Context(), body.RulesetVersionID, actorFrom(r), body.Remarks, approval.PublishContext{
		Environment:          body.Environment,
		Region:               body.Region,
		Country:              body.Country,
		FieldRegistryVersion: body.FieldRegistryVersion,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ruleset_version": v, "approval": a, "manifest": m})
}

func (h *HTTPHandler) RejectRulesetVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RulesetVersionID string `json:"ruleset_version_id"`
		Remarks          string `json:"remarks"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, a, err := h.approvals.RejectRulesetVersion(r.Context(), body.RulesetVersionID, actorFrom(r), body.Remarks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ruleset_version": v, "approval": a})
}

func (h *HTTPHandler) ActivateRulesetVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RulesetID        string `json:"ruleset_id"`
		RulesetVersionID string `json:"ruleset_version_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	v, err := h.approvals.ActivateRuleset(r.Context(), body.RulesetID, body.RulesetVersionID, actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *HTTPHandler) ListRulesets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	strPtr := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}
	page, err := h.rulesets.ListRulesets(r.Context(), strPtr("environment"), strPtr("region"), strPtr("country"), pageRequestFromQuery(q))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *HTTPHandler) ListRulesetVersions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var status *domain.VersionStatus
	if v := q.Get("status"); v != "" {
		s := domain.VersionStatus(v)
		status = &s
	}
	page, err := h.rulesets.ListRulesetVersions(r.Context(), q.Get("ruleset_id"), status, pageRequestFromQuery(q))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ── field catalog ────────────────────────────────────────────────────────

func (h *HTTPHandler) CreateField(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FieldKey          string            `json:"field_key"`
		DisplayName       string            `json:"display_name"`
		Description       string            `json:"description"`
		DataType          domain.DataType   `json:"data_type"`
		AllowedOperators  []domain.Operator `json:"allowed_operators"`
		MultiValueAllowed bool              `json:"multi_value_allowed"`
		IsSensitive       bool              `json:"is_sensitive"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperr.InvalidInput("body", "malformed JSON"))
		return
	}
	field, version, err := h.fields.CreateField(r.Context(), service.CreateFieldRequest{
		DisplayName:       body.DisplayName,
		Description:       body.Description,
		DataType:          body.DataType,
		AllowedOperators:  body.AllowedOperators,
		MultiValueAllowed: body.MultiValueAllowed,
		IsSensitive:       body.IsSensitive,
		CreatedBy:         actorFrom(r),
	}, body.FieldKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"field": field, "version": version})
}

func (h *HTTPHandler) GetActiveCatalog(w http.ResponseWriter, r *http.Request) {
	catalog, err := h.fields.GetActiveCatalog(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (h *HTTPHandler) PublishFieldRegistry(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.PublishRegistry(r.Context(), actorFrom(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// ── audit ────────────────────────────────────────────────────────────────

func (h *HTTPHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter repository.AuditFilter
	if v := q.Get("entity_type"); v != "" {
		et := domain.EntityType(v)
		filter.EntityType = &et
	}
	if v := q.Get("entity_id"); v != "" {
		filter.EntityID = &v
	}
	if v := q.Get("action"); v != "" {
		filter.Action = &v
	}
	if v := q.Get("performed_by"); v != "" {
		filter.PerformedBy = &v
	}

	page, err := h.auditRepo.List(r.Context(), filter, pageRequestFromQuery(q))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// ── approvals ────────────────────────────────────────────────────────────

func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.approvals.PendingFor(r.Context(), actorFrom(r), pageRequestFromQuery(q))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
