package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ================================================
// NOTIFICATION REQUEST
// ================================================

// NotificationRequest is the immutable unit of work accepted by the
// delivery pipeline. Created on enqueue, never mutated afterwards.
type NotificationRequest struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Type              string    `json:"type"`
	Language          string    `json:"language"`
	Priority          Priority  `json:"priority"`
	Variables         JSONB     `json:"variables,omitempty"`
	RequestedChannels []string  `json:"requested_channels"`
	CreatedAt         time.Time `json:"created_at"`
}

// Notification types (closed enum)
const (
	TypePasswordReset     = "password_reset"
	TypeEmailVerification = "email_verification"
	TypeSessionReminder   = "session_reminder"
	TypeSecurityAlert     = "security_alert"
	TypeMarketing         = "marketing"
	TypeWeeklySummary     = "weekly_summary"
	TypeHiveActivity      = "hive_activity"
	TypeSystemAlert       = "system_alert"
	TypeDigest            = "digest"
)

// ValidTypes lists every accepted notification type.
var ValidTypes = []string{
	TypePasswordReset,
	TypeEmailVerification,
	TypeSessionReminder,
	TypeSecurityAlert,
	TypeMarketing,
	TypeWeeklySummary,
	TypeHiveActivity,
	TypeSystemAlert,
	TypeDigest,
}

// IsValidType reports whether t is a known notification type.
func IsValidType(t string) bool {
	for _, vt := range ValidTypes {
		if t == vt {
			return true
		}
	}
	return false
}

// Notification channels (closed set)
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// IsValidChannel reports whether c is a supported channel.
func IsValidChannel(c string) bool {
	return c == ChannelInApp || c == ChannelEmail || c == ChannelPush
}

// Priority levels. Quiet-hour deferral applies below Critical.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "unknown"
}

// ParsePriority maps a wire string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// DefaultLanguage is the fallback when a template is missing for the
// requested language.
const DefaultLanguage = "en"

// ================================================
// NOTIFICATION PREFERENCE
// ================================================

// Delivery frequencies
const (
	FrequencyImmediate    = "immediate"
	FrequencyHourly       = "hourly"
	FrequencyDailyDigest  = "daily_digest"
	FrequencyWeeklyDigest = "weekly_digest"
	FrequencyOff          = "off"
)

// IsDigestFrequency reports whether f defers email delivery to the
// digest scheduler.
func IsDigestFrequency(f string) bool {
	return f == FrequencyDailyDigest || f == FrequencyWeeklyDigest
}

// IsValidFrequency reports whether f is a known frequency.
func IsValidFrequency(f string) bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDailyDigest,
		FrequencyWeeklyDigest, FrequencyOff:
		return true
	}
	return false
}

// NotificationPreference holds per (user, type) delivery settings.
// Exactly one row exists per key once persisted; absence means the
// built-in defaults apply (all channels enabled, immediate).
type NotificationPreference struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Type            string     `json:"type"`
	InAppEnabled    bool       `json:"in_app_enabled"`
	EmailEnabled    bool       `json:"email_enabled"`
	PushEnabled     bool       `json:"push_enabled"`
	Frequency       string     `json:"frequency"`
	QuietHoursStart *time.Time `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *time.Time `json:"quiet_hours_end,omitempty"`
	Timezone        string     `json:"timezone"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ChannelEnabled returns the toggle for the given channel.
func (p *NotificationPreference) ChannelEnabled(channel string) bool {
	switch channel {
	case ChannelInApp:
		return p.InAppEnabled
	case ChannelEmail:
		return p.EmailEnabled
	case ChannelPush:
		return p.PushEnabled
	}
	return false
}

// ================================================
// TEMPLATE
// ================================================

// NotificationTemplate is keyed by (type, language). BodyText is always
// non-empty; RequiredVariables is derived from placeholders found in
// subject, text, and HTML bodies.
type NotificationTemplate struct {
	ID                uuid.UUID `json:"id"`
	Type              string    `json:"type"`
	Language          string    `json:"language"`
	Subject           string    `json:"subject"`
	BodyText          string    `json:"body_text"`
	BodyHTML          string    `json:"body_html,omitempty"`
	RequiredVariables []string  `json:"required_variables"`
	Version           int       `json:"version"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ================================================
// NOTIFICATION (in-app row)
// ================================================

// Notification statuses
const (
	StatusUnread   = "unread"
	StatusRead     = "read"
	StatusArchived = "archived"
)

// Notification is the stored in-app row. Digest-deferred emails also
// persist one of these; the digest scheduler later stamps
// DigestProcessedAt exactly once.
type Notification struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	Type              string     `json:"type"`
	Title             string     `json:"title"`
	Content           string     `json:"content"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	DigestProcessedAt *time.Time `json:"digest_processed_at,omitempty"`
}

// ================================================
// DELIVERY RECORD
// ================================================

// Delivery states
const (
	DeliveryStatePending    = "pending"
	DeliveryStateScheduled  = "scheduled"
	DeliveryStateSending    = "sending"
	DeliveryStateSent       = "sent"
	DeliveryStateDelivered  = "delivered"
	DeliveryStateBounced    = "bounced"
	DeliveryStateComplained = "complained"
	DeliveryStateFailed     = "failed"
	DeliveryStateDeadLetter = "dead_letter"
)

// Failure reasons surfaced on a record
const (
	ReasonSuppressed       = "SUPPRESSED"
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonCancelled        = "CANCELLED"
	ReasonTemplateMissing  = "TEMPLATE_MISSING"
	ReasonMissingVariables = "MISSING_VARIABLES"
	ReasonInvalidRecipient = "INVALID_RECIPIENT"
	ReasonUnknownUser      = "UNKNOWN_USER"
	ReasonInternal         = "INTERNAL"
)

// IsTerminalDeliveryState reports whether no further transition is
// permitted from state.
func IsTerminalDeliveryState(state string) bool {
	switch state {
	case DeliveryStateDelivered, DeliveryStateBounced, DeliveryStateComplained,
		DeliveryStateFailed, DeliveryStateDeadLetter:
		return true
	}
	return false
}

// deliveryTransitions encodes the legal state machine. Terminal states
// have no successors. SENDING may loop back to SCHEDULED (retry with a
// due time) or repeat (next attempt).
var deliveryTransitions = map[string][]string{
	DeliveryStatePending:   {DeliveryStateScheduled, DeliveryStateSending, DeliveryStateFailed},
	DeliveryStateScheduled: {DeliveryStateSending, DeliveryStateFailed, DeliveryStateDeadLetter},
	DeliveryStateSending: {
		DeliveryStateSent, DeliveryStateFailed, DeliveryStateDeadLetter,
		DeliveryStateScheduled,
	},
	DeliveryStateSent: {DeliveryStateDelivered, DeliveryStateBounced, DeliveryStateComplained, DeliveryStateFailed},
}

// CanTransitionDelivery reports whether from -> to is a legal move.
// Repeating the current state is an idempotent no-op for non-terminal
// states, so redundant transport callbacks never regress a record.
func CanTransitionDelivery(from, to string) bool {
	if from == to {
		return !IsTerminalDeliveryState(from)
	}
	for _, next := range deliveryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// DeliveryRecord tracks the lifecycle of one (request, channel) pair.
type DeliveryRecord struct {
	TrackingID        uuid.UUID        `json:"tracking_id"`
	NotificationID    *uuid.UUID       `json:"notification_id,omitempty"`
	UserID            uuid.UUID        `json:"user_id"`
	Type              string           `json:"type"`
	Recipient         string           `json:"recipient"`
	Channel           string           `json:"channel"`
	State             string           `json:"state"`
	Reason            *string          `json:"reason,omitempty"`
	Attempts          int              `json:"attempts"`
	MaxAttempts       int              `json:"max_attempts"`
	LastError         *string          `json:"last_error,omitempty"`
	ProviderMessageID *string          `json:"provider_message_id,omitempty"`
	EstimatedCost     *decimal.Decimal `json:"estimated_cost,omitempty"`
	ScheduledFor      *time.Time       `json:"scheduled_for,omitempty"`
	QueuedAt          *time.Time       `json:"queued_at,omitempty"`
	SendingAt         *time.Time       `json:"sending_at,omitempty"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time       `json:"delivered_at,omitempty"`
	FailedAt          *time.Time       `json:"failed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// ================================================
// DEAD LETTER RECORD
// ================================================

// Dead letter statuses
const (
	DeadLetterStatusPending            = "pending"
	DeadLetterStatusProcessing         = "processing"
	DeadLetterStatusRetried            = "retried"
	DeadLetterStatusRetryFailed        = "retry_failed"
	DeadLetterStatusResolved           = "resolved"
	DeadLetterStatusMaxRetriesExceeded = "max_retries_exceeded"
	DeadLetterStatusExpired            = "expired"
)

// DeadLetterRecord preserves the full payload of a delivery that
// exhausted its retries, retained for inspection and manual retry.
type DeadLetterRecord struct {
	ID           uuid.UUID  `json:"id"`
	TrackingID   uuid.UUID  `json:"tracking_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Type         string     `json:"type"`
	Channel      string     `json:"channel"`
	Recipient    string     `json:"recipient"`
	Subject      string     `json:"subject"`
	Content      string     `json:"content"`
	ErrorMessage string     `json:"error_message"`
	RetryCount   int        `json:"retry_count"`
	MaxRetries   int        `json:"max_retries"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	RetriedAt    *time.Time `json:"retried_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
}

// CanRetry implements the retry invariant:
// status in {pending, retry_failed} and retryCount < maxRetries.
func (d *DeadLetterRecord) CanRetry() bool {
	if d.Status != DeadLetterStatusPending && d.Status != DeadLetterStatusRetryFailed {
		return false
	}
	return d.RetryCount < d.MaxRetries
}

// ================================================
// RENDERED MESSAGE
// ================================================

// RenderedMessage is the output of the template renderer.
type RenderedMessage struct {
	Subject       string    `json:"subject"`
	BodyText      string    `json:"body_text"`
	BodyHTML      string    `json:"body_html,omitempty"`
	VariableCount int       `json:"variable_count"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// ================================================
// USER INFO (identity collaborator)
// ================================================

// UserInfo is the resolved contact record for a user. Stale marks a
// cached entry served past its freshness window.
type UserInfo struct {
	UserID        uuid.UUID `json:"user_id"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone,omitempty"`
	Timezone      string    `json:"timezone"`
	EmailVerified bool      `json:"email_verified"`
	DeviceToken   string    `json:"device_token,omitempty"`
	Stale         bool      `json:"-"`
}

// ================================================
// JSONB TYPE (PostgreSQL JSONB support)
// ================================================

type JSONB map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(JSONB)
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return ErrInvalidJSONB
	}

	result := make(JSONB)
	if err := json.Unmarshal(bytes, &result); err != nil {
		return err
	}

	*j = result
	return nil
}

// Value implements driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// MarshalJSON implements json.Marshaler
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return json.Marshal(map[string]interface{}(j))
}

// UnmarshalJSON implements json.Unmarshaler
func (j *JSONB) UnmarshalJSON(data []byte) error {
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*j = JSONB(m)
	return nil
}
