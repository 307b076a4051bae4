package repository

import (
	"encoding/json"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
)

// jsonOf marshals a Scope for a JSONB column parameter; nil/empty scopes are
// stored as an empty JSON object ("universal", spec GLOSSARY).
func jsonOf(s domain.Scope) []byte {
	if s == nil {
		return []byte("{}")
	}
	raw, _ := json.Marshal(s)
	return raw
}

// unmarshalScope reverses jsonOf, tolerating a NULL/empty column value.
func unmarshalScope(raw []byte) domain.Scope {
	if len(raw) == 0 {
		return domain.Scope{}
	}
	var s domain.Scope
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Scope{}
	}
	return s
}
