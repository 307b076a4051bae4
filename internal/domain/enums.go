// Package domain holds the entity types, enums, and condition-tree model
// shared by every layer of the governance service.
package domain

// DataType is the closed set of field value types.
type DataType string

const (
	DataTypeString  DataType = "STRING"
	DataTypeNumber  DataType = "NUMBER"
	DataTypeBoolean DataType = "BOOLEAN"
	DataTypeDate    DataType = "DATE"
	DataTypeEnum    DataType = "ENUM"
)

// Operator is the closed set of condition-leaf operators.
type Operator string

const (
	OpEQ          Operator = "EQ"
	OpNE          Operator = "NE"
	OpGT          Operator = "GT"
	OpGTE         Operator = "GTE"
	OpLT          Operator = "LT"
	OpLTE         Operator = "LTE"
	OpIN          Operator = "IN"
	OpNotIN       Operator = "NOT_IN"
	OpBetween     Operator = "BETWEEN"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT_CONTAINS"
	OpStartsWith  Operator = "STARTS_WITH"
	OpEndsWith    Operator = "ENDS_WITH"
	OpRegex       Operator = "REGEX"
)

// multiValueOperators require a non-empty array value.
var multiValueOperators = map[Operator]bool{
	OpIN:      true,
	OpNotIN:   true,
	OpBetween: true,
}

// IsMultiValue reports whether op takes a list-shaped value.
func IsMultiValue(op Operator) bool { return multiValueOperators[op] }

// AllOperators is the closed operator set, used to validate allowed_operators
// configuration on a RuleField.
var AllOperators = []Operator{
	OpEQ, OpNE, OpGT, OpGTE, OpLT, OpLTE,
	OpIN, OpNotIN, OpBetween,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith, OpRegex,
}

// VersionStatus is the uniform lifecycle status shared by RuleFieldVersion,
// RuleVersion, and RulesetVersion.
type VersionStatus string

const (
	StatusDraft            VersionStatus = "DRAFT"
	StatusPendingApproval  VersionStatus = "PENDING_APPROVAL"
	StatusApproved         VersionStatus = "APPROVED"
	StatusRejected         VersionStatus = "REJECTED"
	StatusActive           VersionStatus = "ACTIVE"
	StatusSuperseded       VersionStatus = "SUPERSEDED"
)

// RuleType is the closed set of rule/ruleset classifications.
type RuleType string

const (
	RuleTypeAllowlist  RuleType = "ALLOWLIST"
	RuleTypeBlocklist  RuleType = "BLOCKLIST"
	RuleTypeAuth       RuleType = "AUTH"
	RuleTypeMonitoring RuleType = "MONITORING"
)

// PublishableRuleTypes are the only rule types whose rulesets may be
// published to the runtime engine.
var PublishableRuleTypes = map[RuleType]bool{
	RuleTypeAuth:       true,
	RuleTypeMonitoring: true,
}

// RulesetKey is the runtime-visible name a ruleset is published under.
type RulesetKey string

const (
	RulesetKeyCardAuth       RulesetKey = "CARD_AUTH"
	RulesetKeyCardMonitoring RulesetKey = "CARD_MONITORING"
)

// RulesetKeyFor maps a governance rule type to its runtime ruleset key.
// Callers must check PublishableRuleTypes first.
func RulesetKeyFor(rt RuleType) RulesetKey {
	switch rt {
	case RuleTypeAuth:
		return RulesetKeyCardAuth
	case RuleTypeMonitoring:
		return RulesetKeyCardMonitoring
	default:
		return ""
	}
}

// EvaluationMode is the locked rule_type → evaluation.mode mapping used by
// the compiler.
type EvaluationMode string

const (
	EvalFirstMatch  EvaluationMode = "FIRST_MATCH"
	EvalAllMatching EvaluationMode = "ALL_MATCHING"
)

// EvaluationModeFor returns the locked evaluation mode for rt.
func EvaluationModeFor(rt RuleType) EvaluationMode {
	if rt == RuleTypeMonitoring {
		return EvalAllMatching
	}
	return EvalFirstMatch
}

// Action is the decision a matched rule yields.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionDecline Action = "DECLINE"
	ActionReview  Action = "REVIEW"
)

// EntityType identifies which kind of versioned entity an Approval or
// AuditEntry refers to.
type EntityType string

const (
	EntityRuleVersion    EntityType = "RULE_VERSION"
	EntityRulesetVersion EntityType = "RULESET_VERSION"
	EntityFieldVersion   EntityType = "FIELD_VERSION"
)

// ApprovalAction is the action recorded on an Approval row.
type ApprovalAction string

const (
	ApprovalActionSubmit  ApprovalAction = "SUBMIT"
	ApprovalActionApprove ApprovalAction = "APPROVE"
	ApprovalActionReject  ApprovalAction = "REJECT"
)

// ApprovalStatus is the status of an Approval row.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)
