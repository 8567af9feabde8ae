package audit

import (
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ================================================
// AUDIT LOGGER
// ================================================

// Event types emitted to the audit stream.
const (
	EventAuthSuccess           = "auth.success"
	EventAuthFailure           = "auth.failure"
	EventPreferenceCreated     = "preference.created"
	EventPreferenceUpdated     = "preference.updated"
	EventPreferenceDeleted     = "preference.deleted"
	EventAdminAction           = "admin.action"
	EventTemplateCreated       = "template.created"
	EventTemplateDeleted       = "template.deleted"
	EventSuspiciousActivity    = "security.suspicious_activity"
	EventRateLimitViolation    = "security.ratelimit_violation"
	EventBreakerTransition     = "security.breaker_transition"
	EventSecurityConfigChanged = "security.config_changed"
	EventInternalError         = "security.internal_error"
)

// Logger emits structured security-relevant events. Sensitive fields
// are masked before they reach the sink.
type Logger struct {
	sink zerolog.Logger
}

// NewLogger builds an audit logger on top of the global zerolog sink.
func NewLogger() *Logger {
	return &Logger{
		sink: log.With().Str("stream", "audit").Logger(),
	}
}

// NewLoggerWithSink is used by tests to capture output.
func NewLoggerWithSink(sink zerolog.Logger) *Logger {
	return &Logger{sink: sink.With().Str("stream", "audit").Logger()}
}

func (l *Logger) event(eventType string) *zerolog.Event {
	return l.sink.Info().Str("event", eventType)
}

// ================================================
// AUTHENTICATION
// ================================================

func (l *Logger) AuthSuccess(subject, ip string) {
	l.event(EventAuthSuccess).
		Str("subject", subject).
		Str("ip", ip).
		Msg("authentication succeeded")
}

func (l *Logger) AuthFailure(subject, ip, reason string) {
	l.event(EventAuthFailure).
		Str("subject", subject).
		Str("ip", ip).
		Str("reason", reason).
		Msg("authentication failed")
}

// ================================================
// PREFERENCES
// ================================================

// PreferenceChanged records a preference mutation with the field diff.
// Created is true when the row was materialized for the first time.
func (l *Logger) PreferenceChanged(userID, notificationType string, diff map[string]interface{}, created bool) {
	eventType := EventPreferenceUpdated
	if created {
		eventType = EventPreferenceCreated
	}
	l.event(eventType).
		Str("user_id", userID).
		Str("type", notificationType).
		Interface("diff", diff).
		Msg("notification preference changed")
}

func (l *Logger) PreferenceDeleted(userID, notificationType string) {
	l.event(EventPreferenceDeleted).
		Str("user_id", userID).
		Str("type", notificationType).
		Msg("notification preference removed")
}

// ================================================
// ADMIN / TEMPLATES
// ================================================

func (l *Logger) AdminAction(subject, action, target string) {
	l.event(EventAdminAction).
		Str("subject", subject).
		Str("action", action).
		Str("target", target).
		Msg("admin action")
}

func (l *Logger) TemplateCreated(subject, templateType, language string) {
	l.event(EventTemplateCreated).
		Str("subject", subject).
		Str("template_type", templateType).
		Str("language", language).
		Msg("template created")
}

func (l *Logger) TemplateDeleted(subject, templateType, language string) {
	l.event(EventTemplateDeleted).
		Str("subject", subject).
		Str("template_type", templateType).
		Str("language", language).
		Msg("template deleted")
}

// ================================================
// SECURITY SIGNALS
// ================================================

func (l *Logger) SuspiciousActivity(identity, detail string) {
	l.event(EventSuspiciousActivity).
		Str("identity", identity).
		Str("detail", detail).
		Msg("suspicious activity detected")
}

func (l *Logger) RateLimitViolation(identity, class string, violations int) {
	l.event(EventRateLimitViolation).
		Str("identity", identity).
		Str("class", class).
		Int("violations", violations).
		Msg("rate limit violation")
}

func (l *Logger) BreakerTransition(name, from, to string) {
	l.event(EventBreakerTransition).
		Str("breaker", name).
		Str("from", from).
		Str("to", to).
		Msg("circuit breaker state changed")
}

func (l *Logger) SecurityConfigChanged(subject, setting string) {
	l.event(EventSecurityConfigChanged).
		Str("subject", subject).
		Str("setting", setting).
		Msg("security configuration changed")
}

func (l *Logger) InternalError(component string, err error) {
	l.sink.Error().
		Str("event", EventInternalError).
		Str("component", component).
		Err(err).
		Msg("unexpected internal error")
}

// ================================================
// MASKING POLICY
// ================================================

// MaskToken keeps the first four and last four characters.
func MaskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

// MaskEmail replaces both the local part and the domain, keeping only
// the first character of each and the TLD.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	local, domain := email[:at], email[at+1:]

	maskedLocal := local[:1] + strings.Repeat("*", max(len(local)-1, 2))

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 {
		return maskedLocal + "@***"
	}
	maskedDomain := domain[:1] + strings.Repeat("*", max(dot-1, 2)) + domain[dot:]
	return maskedLocal + "@" + maskedDomain
}

// MaskPhone keeps only the last two digits.
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-2) + phone[len(phone)-2:]
}
