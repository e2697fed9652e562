package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds
}

// Topic names for the compliance pipeline.
const (
	TopicCOISubmitted   = "kestrel.coi.submitted"
	TopicCheckCompleted = "kestrel.check.completed"
	TopicCOIDeficient   = "kestrel.coi.deficient"
	TopicCOIExpiring    = "kestrel.coi.expiring"
)

// COISubmittedEvent is published when a certificate is stored.
type COISubmittedEvent struct {
	COIID           string `json:"coiId"`
	ProjectID       string `json:"projectId,omitempty"`
	SubcontractorID string `json:"subcontractorId,omitempty"`
}

// CheckEvent is published when a compliance check completes.
type CheckEvent struct {
	CheckID         string           `json:"checkId"`
	COIID           string           `json:"coiId"`
	ProjectID       string           `json:"projectId,omitempty"`
	SubcontractorID string           `json:"subcontractorId,omitempty"`
	BrokerEmail     string           `json:"brokerEmail,omitempty"`
	Status          CheckStatus      `json:"status"`
	IssueCount      int              `json:"issueCount"`
	WarningCount    int              `json:"warningCount"`
	Severities      map[Severity]int `json:"severities,omitempty"`
	Reasons         []string         `json:"reasons,omitempty"`
	BrokerMessage   string           `json:"brokerMessage,omitempty"`
}

// ExpiringEvent is published once per policy approaching expiration.
type ExpiringEvent struct {
	COIID           string       `json:"coiId"`
	ProjectID       string       `json:"projectId,omitempty"`
	SubcontractorID string       `json:"subcontractorId,omitempty"`
	InsuredName     string       `json:"insuredName,omitempty"`
	BrokerEmail     string       `json:"brokerEmail,omitempty"`
	Line            CoverageLine `json:"line"`
	Policy          string       `json:"policy"`
	ExpirationDate  string       `json:"expirationDate"`
	DaysUntilExpiry int          `json:"daysUntilExpiry"`
}
