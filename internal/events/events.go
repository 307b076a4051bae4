// Package events publishes non-fatal audit fan-out notifications to NATS:
// a subject per event type, JSON payload, publish failures logged but
// never propagated to the caller.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
)

// AuditEvent is the JSON schema published to NATS whenever an AuditEntry is
// appended.
type AuditEvent struct {
	AuditID     string `json:"audit_id"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Action      string `json:"action"`
	PerformedBy string `json:"performed_by"`
	PerformedAt string `json:"performed_at"`
}

// Publisher fans audit entries out over a plain NATS connection (core
// Conn.Publish; no JetStream stream or ack is involved). A nil *nats.Conn
// makes every Publish call a no-op, so the service runs without NATS
// configured.
type Publisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// New builds a Publisher. conn may be nil.
func New(conn *nats.Conn, log zerolog.Logger) *Publisher {
	return &Publisher{conn: conn, log: log}
}

// subject returns "governance.audit.<entity_type>.<action>" lower-cased.
func subject(entityType domain.EntityType, action string) string {
	return fmt.Sprintf("governance.audit.%s.%s", lower(string(entityType)), lower(action))
}

// PublishAudit fans an appended AuditEntry out as a best-effort notification.
// Never returns an error: a broker outage must never roll back the audit
// write it describes.
func (p *Publisher) PublishAudit(e domain.AuditEntry) {
	if p.conn == nil {
		return
	}

	event := AuditEvent{
		AuditID:     e.AuditID,
		EntityType:  string(e.EntityType),
		EntityID:    e.EntityID,
		Action:      e.Action,
		PerformedBy: e.PerformedBy,
		PerformedAt: e.PerformedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("audit_id", e.AuditID).Msg("events: failed to marshal audit event")
		return
	}

	subj := subject(e.EntityType, e.Action)
	if err := p.conn.Publish(subj, data); err != nil {
		p.log.Warn().Err(err).Str("subject", subj).Str("audit_id", e.AuditID).
			Msg("events: failed to publish audit event (non-fatal)")
		return
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
