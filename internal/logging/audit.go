package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	AuthFailure           AuditEventType = "AUTH_FAILURE"
	IntegrationConnect    AuditEventType = "INTEGRATION_CONNECT"
	IntegrationDisconnect AuditEventType = "INTEGRATION_DISCONNECT"
	ReviewSync            AuditEventType = "REVIEW_SYNC"
	TestimonialCreate     AuditEventType = "TESTIMONIAL_CREATE"
	TestimonialUpdate     AuditEventType = "TESTIMONIAL_UPDATE"
	TestimonialDelete     AuditEventType = "TESTIMONIAL_DELETE"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent records an admin action against the site or the integration.
type AuditEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource,omitempty"`
	Status       AuditStatus            `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Action:    action,
		Status:    status,
	}
}

func (e *AuditEvent) WithIPAddress(ip string) *AuditEvent {
	e.IPAddress = ip
	return e
}

func (e *AuditEvent) WithResource(resource string) *AuditEvent {
	e.Resource = resource
	return e
}

func (e *AuditEvent) WithDetail(key string, value interface{}) *AuditEvent {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithError marks the event failed.
func (e *AuditEvent) WithError(err error) *AuditEvent {
	if err == nil {
		return e
	}
	e.ErrorMessage = err.Error()
	e.Status = StatusFailure
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// Audit writes the event as a structured log line. Failures log at warn.
func (l *Logger) Audit(ctx context.Context, e *AuditEvent) {
	level := LevelInfo
	if e.Status == StatusFailure {
		level = LevelWarn
	}
	fields := map[string]interface{}{
		"audit_id":   e.ID,
		"event_type": e.EventType,
		"action":     e.Action,
		"status":     e.Status,
	}
	if e.Resource != "" {
		fields["resource"] = e.Resource
	}
	if e.IPAddress != "" {
		fields["ip_address"] = e.IPAddress
	}
	if e.ErrorMessage != "" {
		fields["error"] = e.ErrorMessage
	}
	for k, v := range e.Details {
		fields[k] = v
	}
	l.log(level, "audit", GetCorrelationID(ctx), fields)
}
