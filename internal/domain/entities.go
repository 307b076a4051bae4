package domain

import (
	"encoding/json"
	"time"
)

// RuleField is the immutable-identity row for a fraud-rule condition field.
// field_key and field_id never change once assigned.
type RuleField struct {
	FieldKey          string
	FieldID           int
	DisplayName       string
	Description       string
	DataType          DataType
	AllowedOperators  []Operator
	MultiValueAllowed bool
	IsSensitive       bool
	CurrentVersion    int
	RowVersion        int
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// EnumValues is the permitted value set for an ENUM-typed field, read
	// from its "enum_values" metadata entry. Empty for non-ENUM fields, and
	// for ENUM fields that have not had a value set configured yet.
	EnumValues []string
}

// RuleFieldVersion is an immutable snapshot of a RuleField at a point in
// time, carrying its own approval lifecycle.
type RuleFieldVersion struct {
	FieldVersionID string
	FieldKey       string
	Version        int
	DisplayName    string
	Description    string
	DataType       DataType
	AllowedOperators  []Operator
	MultiValueAllowed bool
	IsSensitive       bool
	Status         VersionStatus
	CreatedBy      string
	CreatedAt      time.Time
	ApprovedBy     string
	ApprovedAt     *time.Time
}

// RuleFieldMetadata is extensible per-field JSON data (UI hints, velocity
// parameters, validation rules) keyed by meta_key.
type RuleFieldMetadata struct {
	FieldKey    string
	MetaKey     string
	MetaValue   json.RawMessage
	Description string
}

// FieldRegistryManifest records one published snapshot of the active field
// catalog.
type FieldRegistryManifest struct {
	RegistryVersion int
	ArtifactURI     string
	Checksum        string
	FieldCount      int
	CreatedBy       string
	CreatedAt       time.Time
}

// Rule is the immutable-identity row for a fraud rule.
type Rule struct {
	RuleID         string
	RuleName       string
	Description    string
	RuleType       RuleType
	Status         VersionStatus
	CurrentVersion int
	RowVersion     int
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Scope is a per-rule-version dimension restriction; an empty Scope means
// universal within the ruleset's country.
type Scope map[string][]string

// RuleVersion is an immutable snapshot of a rule's condition tree, scope,
// priority, and action.
type RuleVersion struct {
	RuleVersionID  string
	RuleID         string
	Version        int
	ConditionTree  json.RawMessage
	Scope          Scope
	Priority       int
	Action         Action
	Status         VersionStatus
	CreatedBy      string
	CreatedAt      time.Time
	ApprovedBy     string
	ApprovedAt     *time.Time
}

// Ruleset is the immutable-natural-key identity row:
// (environment, region, country, rule_type) is unique and set at creation.
type Ruleset struct {
	RulesetID   string
	Environment string
	Region      string
	Country     string
	RuleType    RuleType
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RulesetVersion is an immutable snapshot of a ruleset's rule-version
// membership.
type RulesetVersion struct {
	RulesetVersionID string
	RulesetID        string
	Version          int
	Status           VersionStatus
	CreatedBy        string
	CreatedAt        time.Time
	ApprovedBy       string
	ApprovedAt       *time.Time
	ActivatedAt      *time.Time
}

// Approval is the decision row for a SUBMIT/APPROVE/REJECT action on any
// versioned entity.
type Approval struct {
	ApprovalID     string
	EntityType     EntityType
	EntityID       string
	Action         ApprovalAction
	Status         ApprovalStatus
	Maker          string
	Checker        string
	Remarks        string
	IdempotencyKey string
	CreatedAt      time.Time
	DecidedAt      *time.Time
}

// AuditEntry is one append-only row in the governance audit log.
type AuditEntry struct {
	AuditID     string
	EntityType  EntityType
	EntityID    string
	Action      string
	OldValue    json.RawMessage
	NewValue    json.RawMessage
	PerformedBy string
	PerformedAt time.Time
}

// RulesetManifest is the database record of record for a published
// ruleset artifact.
type RulesetManifest struct {
	ManifestID           string
	Environment          string
	Region               string
	Country              string
	RuleType             RuleType
	RulesetVersion        int
	RulesetVersionID      string
	FieldRegistryVersion *int
	ArtifactURI          string
	Checksum             string
	CreatedBy            string
	CreatedAt            time.Time
}
