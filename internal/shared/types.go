package shared

// Asynq task types processed by cmd/worker.
const (
	TypeRunDailyDigests   = "digest:run_daily"
	TypeRunWeeklyDigests  = "digest:run_weekly"
	TypeRetryDeadLetters  = "deadletter:retry"
	TypeExpireDeadLetters = "deadletter:expire"
	TypeCleanupOldRead    = "notification:cleanup_old_read"
	TypeWarmTemplates     = "template:warm"
)

// Queue names, highest priority first.
const (
	QueueCritical     = "critical"
	QueueNotification = "default"
	QueueMaintenance  = "low"
)

// DigestPayload carries the frequency a sweep should process.
type DigestPayload struct {
	Frequency string `json:"frequency"`
}

// LimitPayload bounds how many rows a maintenance job touches per run.
type LimitPayload struct {
	Limit int `json:"limit"`
}

// CleanupPayload bounds retention for old read notifications.
type CleanupPayload struct {
	OlderThanDays int `json:"older_than_days"`
}
