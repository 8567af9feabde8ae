package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// ================================================
// ENQUEUE DTOs
// ================================================

// EnqueueRequest - Request to enqueue a notification for delivery
type EnqueueRequest struct {
	UserID    uuid.UUID              `json:"user_id" binding:"required"`
	Type      string                 `json:"type" binding:"required"`
	Language  string                 `json:"language,omitempty"`
	Priority  string                 `json:"priority,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Channels  []string               `json:"channels" binding:"required,min=1"`
}

// Validate validates EnqueueRequest
func (req EnqueueRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.UserID, validation.Required, validation.By(notNilUUID)),
		validation.Field(&req.Type, validation.Required, validation.In(typesAsInterfaces()...)),
		validation.Field(&req.Priority, validation.In("", "low", "normal", "high", "critical")),
		validation.Field(&req.Channels, validation.Required, validation.Length(1, 3),
			validation.Each(validation.In(ChannelInApp, ChannelEmail, ChannelPush))),
	)
}

// ToNotificationRequest builds the immutable pipeline request.
func (req EnqueueRequest) ToNotificationRequest(now time.Time) NotificationRequest {
	lang := req.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	return NotificationRequest{
		ID:                uuid.New(),
		UserID:            req.UserID,
		Type:              req.Type,
		Language:          lang,
		Priority:          ParsePriority(req.Priority),
		Variables:         JSONB(req.Variables),
		RequestedChannels: req.Channels,
		CreatedAt:         now,
	}
}

// EnqueueResponse - tracking IDs per channel
type EnqueueResponse struct {
	TrackingIDs map[string]uuid.UUID `json:"tracking_ids"`
}

// ================================================
// PREFERENCE DTOs
// ================================================

// UpdatePreferenceRequest - Update a (user, type) preference
type UpdatePreferenceRequest struct {
	InAppEnabled    *bool   `json:"in_app_enabled,omitempty"`
	EmailEnabled    *bool   `json:"email_enabled,omitempty"`
	PushEnabled     *bool   `json:"push_enabled,omitempty"`
	Frequency       *string `json:"frequency,omitempty"`
	QuietHoursStart *string `json:"quiet_hours_start,omitempty"` // HH:MM
	QuietHoursEnd   *string `json:"quiet_hours_end,omitempty"`   // HH:MM
	Timezone        *string `json:"timezone,omitempty"`
}

// Validate validates UpdatePreferenceRequest
func (req UpdatePreferenceRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Frequency, validation.By(optionalFrequency)),
		validation.Field(&req.QuietHoursStart, validation.By(optionalClock)),
		validation.Field(&req.QuietHoursEnd, validation.By(optionalClock)),
	)
}

// PreferenceResponse - per (user, type) preference
type PreferenceResponse struct {
	UserID          uuid.UUID `json:"user_id"`
	Type            string    `json:"type"`
	InAppEnabled    bool      `json:"in_app_enabled"`
	EmailEnabled    bool      `json:"email_enabled"`
	PushEnabled     bool      `json:"push_enabled"`
	Frequency       string    `json:"frequency"`
	QuietHoursStart *string   `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string   `json:"quiet_hours_end,omitempty"`
	Timezone        string    `json:"timezone"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ================================================
// TEMPLATE DTOs (Admin)
// ================================================

// UpsertTemplateRequest - Create or replace a (type, language) template
type UpsertTemplateRequest struct {
	Type     string `json:"type" binding:"required"`
	Language string `json:"language" binding:"required"`
	Subject  string `json:"subject" binding:"required"`
	BodyText string `json:"body_text" binding:"required"`
	BodyHTML string `json:"body_html,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"`
}

// Validate validates UpsertTemplateRequest
func (req UpsertTemplateRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.Type, validation.Required, validation.In(typesAsInterfaces()...)),
		validation.Field(&req.Language, validation.Required, validation.Length(2, 35)),
		validation.Field(&req.Subject, validation.Required, validation.Length(1, 255)),
		validation.Field(&req.BodyText, validation.Required),
	)
}

// TemplateResponse - admin view of a template
type TemplateResponse struct {
	ID                uuid.UUID `json:"id"`
	Type              string    `json:"type"`
	Language          string    `json:"language"`
	Subject           string    `json:"subject"`
	RequiredVariables []string  `json:"required_variables"`
	Version           int       `json:"version"`
	IsActive          bool      `json:"is_active"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ================================================
// STATUS / STATISTICS DTOs
// ================================================

// DeliveryStatusResponse - public view of a delivery record
type DeliveryStatusResponse struct {
	TrackingID   uuid.UUID  `json:"tracking_id"`
	Channel      string     `json:"channel"`
	State        string     `json:"state"`
	Reason       *string    `json:"reason,omitempty"`
	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DeliveryStatistics - aggregate delivery outcomes over a window
type DeliveryStatistics struct {
	Sent          int64   `json:"sent"`
	Delivered     int64   `json:"delivered"`
	Bounced       int64   `json:"bounced"`
	Complained    int64   `json:"complained"`
	Failed        int64   `json:"failed"`
	DeliveryRate  float64 `json:"delivery_rate"`
	BounceRate    float64 `json:"bounce_rate"`
	ComplaintRate float64 `json:"complaint_rate"`
}

// DigestSummary - read-only inspection of a pending digest
type DigestSummary struct {
	UserID        uuid.UUID      `json:"user_id"`
	Frequency     string         `json:"frequency"`
	TotalCount    int            `json:"total_count"`
	TypeBreakdown map[string]int `json:"type_breakdown"`
	Cutoff        time.Time      `json:"cutoff"`
}

// MarkAsReadRequest - Mark notification(s) as read
type MarkAsReadRequest struct {
	NotificationIDs []uuid.UUID `json:"notification_ids" binding:"required,min=1"`
}

// Validate validates MarkAsReadRequest
func (req MarkAsReadRequest) Validate() error {
	return validation.ValidateStruct(&req,
		validation.Field(&req.NotificationIDs, validation.Required, validation.Length(1, 0)),
	)
}

// ================================================
// DEAD LETTER DTOs (Admin)
// ================================================

// DeadLetterListResponse - paged DLQ view
type DeadLetterListResponse struct {
	Records []DeadLetterRecord `json:"records"`
	Total   int64              `json:"total"`
	Page    int                `json:"page"`
}

// ================================================
// VALIDATION HELPERS
// ================================================

func typesAsInterfaces() []interface{} {
	out := make([]interface{}, len(ValidTypes))
	for i, t := range ValidTypes {
		out[i] = t
	}
	return out
}

func notNilUUID(value interface{}) error {
	id, ok := value.(uuid.UUID)
	if !ok || id == uuid.Nil {
		return validation.NewError("validation_uuid", "must be a non-nil UUID")
	}
	return nil
}

func optionalFrequency(value interface{}) error {
	f, _ := value.(*string)
	if f == nil {
		return nil
	}
	if !IsValidFrequency(*f) {
		return ErrInvalidFrequency
	}
	return nil
}

func optionalClock(value interface{}) error {
	s, _ := value.(*string)
	if s == nil {
		return nil
	}
	if _, err := time.Parse("15:04", *s); err != nil {
		return validation.NewError("validation_clock", "must be in HH:MM format")
	}
	return nil
}
