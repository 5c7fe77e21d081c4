package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes procurement workflow events to NATS for
// consumption by the notifications service.
//
// Subject convention: notifications.procurement.<event_type>
// Event types: case_submitted, action_required, case_approved, case_declined,
//              stage_cascaded
//
// All publish operations are non-fatal — errors are logged but never propagated
// to the caller, so notification failures never interrupt workflow transitions.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType    string                 `json:"event_type"`
	ActorID      string                 `json:"actor_id"`
	Recipients   []string               `json:"recipients"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	GroupID      string                 `json:"group_id,omitempty"`
	IsActionable bool                   `json:"is_actionable,omitempty"`
	Severity     string                 `json:"severity,omitempty"`
	Category     string                 `json:"category,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// Connect dials the NATS server with reconnect handling suitable for a
// long-running service.
func Connect(url, serviceName string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(serviceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection disables publishing.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishCaseEvent publishes a procurement workflow event to NATS.
// Subject: notifications.procurement.<eventType>
func (p *NotificationPublisher) PublishCaseEvent(ctx context.Context, eventType, caseID, purchasingCaseID, actorID string, recipients []string, payload map[string]interface{}) {
	if p.conn == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	event := &NotificationEvent{
		EventType:    eventType,
		ActorID:      actorID,
		Recipients:   recipients,
		ResourceType: "case",
		ResourceID:   caseID,
		GroupID:      purchasingCaseID,
		IsActionable: true,
		Severity:     "info",
		Category:     "procurement_workflow",
		Payload:      payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.procurement.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("case_id", caseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("case_id", caseID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
