package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanTransitionDelivery(t *testing.T) {
	t.Run("happy path transitions", func(t *testing.T) {
		assert.True(t, CanTransitionDelivery(DeliveryStatePending, DeliveryStateSending))
		assert.True(t, CanTransitionDelivery(DeliveryStatePending, DeliveryStateScheduled))
		assert.True(t, CanTransitionDelivery(DeliveryStateScheduled, DeliveryStateSending))
		assert.True(t, CanTransitionDelivery(DeliveryStateSending, DeliveryStateSent))
		assert.True(t, CanTransitionDelivery(DeliveryStateSent, DeliveryStateDelivered))
		assert.True(t, CanTransitionDelivery(DeliveryStateSent, DeliveryStateBounced))
		assert.True(t, CanTransitionDelivery(DeliveryStateSent, DeliveryStateComplained))
	})

	t.Run("retry loop", func(t *testing.T) {
		// A failed attempt goes back to scheduled with a due time.
		assert.True(t, CanTransitionDelivery(DeliveryStateSending, DeliveryStateScheduled))
		assert.True(t, CanTransitionDelivery(DeliveryStateScheduled, DeliveryStateDeadLetter))
	})

	t.Run("terminal states have no successors", func(t *testing.T) {
		for _, terminal := range []string{
			DeliveryStateDelivered, DeliveryStateBounced, DeliveryStateComplained,
			DeliveryStateFailed, DeliveryStateDeadLetter,
		} {
			assert.False(t, CanTransitionDelivery(terminal, DeliveryStateSending), terminal)
			assert.False(t, CanTransitionDelivery(terminal, DeliveryStateSent), terminal)
			assert.False(t, CanTransitionDelivery(terminal, terminal), terminal)
		}
	})

	t.Run("same state is idempotent for non-terminal", func(t *testing.T) {
		assert.True(t, CanTransitionDelivery(DeliveryStateSending, DeliveryStateSending))
		assert.True(t, CanTransitionDelivery(DeliveryStateSent, DeliveryStateSent))
	})

	t.Run("skipping states is illegal", func(t *testing.T) {
		assert.False(t, CanTransitionDelivery(DeliveryStatePending, DeliveryStateSent))
		assert.False(t, CanTransitionDelivery(DeliveryStatePending, DeliveryStateDelivered))
		assert.False(t, CanTransitionDelivery(DeliveryStateScheduled, DeliveryStateSent))
	})

	t.Run("no regression from delivered", func(t *testing.T) {
		assert.False(t, CanTransitionDelivery(DeliveryStateDelivered, DeliveryStateBounced))
	})
}

func TestIsTerminalDeliveryState(t *testing.T) {
	assert.False(t, IsTerminalDeliveryState(DeliveryStatePending))
	assert.False(t, IsTerminalDeliveryState(DeliveryStateScheduled))
	assert.False(t, IsTerminalDeliveryState(DeliveryStateSending))
	assert.False(t, IsTerminalDeliveryState(DeliveryStateSent))

	assert.True(t, IsTerminalDeliveryState(DeliveryStateDelivered))
	assert.True(t, IsTerminalDeliveryState(DeliveryStateBounced))
	assert.True(t, IsTerminalDeliveryState(DeliveryStateComplained))
	assert.True(t, IsTerminalDeliveryState(DeliveryStateFailed))
	assert.True(t, IsTerminalDeliveryState(DeliveryStateDeadLetter))
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityNormal, ParsePriority("normal"))
	assert.Equal(t, PriorityHigh, ParsePriority("high"))
	assert.Equal(t, PriorityCritical, ParsePriority("critical"))

	// Unknown and empty default to normal.
	assert.Equal(t, PriorityNormal, ParsePriority(""))
	assert.Equal(t, PriorityNormal, ParsePriority("urgent"))
}

func TestIsValidType(t *testing.T) {
	assert.True(t, IsValidType(TypePasswordReset))
	assert.True(t, IsValidType(TypeMarketing))
	assert.True(t, IsValidType(TypeDigest))
	assert.False(t, IsValidType("order_shipped"))
	assert.False(t, IsValidType(""))
}

func TestIsValidFrequency(t *testing.T) {
	assert.True(t, IsValidFrequency(FrequencyImmediate))
	assert.True(t, IsValidFrequency(FrequencyDailyDigest))
	assert.True(t, IsValidFrequency(FrequencyWeeklyDigest))
	assert.False(t, IsValidFrequency("monthly"))
}

func TestDeadLetterCanRetry(t *testing.T) {
	rec := &DeadLetterRecord{
		Status:     DeadLetterStatusPending,
		RetryCount: 0,
		MaxRetries: 3,
	}
	assert.True(t, rec.CanRetry())

	rec.Status = DeadLetterStatusRetryFailed
	assert.True(t, rec.CanRetry())

	rec.RetryCount = 3
	assert.False(t, rec.CanRetry())

	rec.RetryCount = 0
	rec.Status = DeadLetterStatusResolved
	assert.False(t, rec.CanRetry())
}

func TestEnqueueRequestValidate(t *testing.T) {
	valid := EnqueueRequest{
		UserID:   uuid.New(),
		Type:     TypeSecurityAlert,
		Channels: []string{ChannelEmail, ChannelInApp},
	}
	assert.NoError(t, valid.Validate())

	t.Run("rejects nil user", func(t *testing.T) {
		req := valid
		req.UserID = uuid.Nil
		assert.Error(t, req.Validate())
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		req := valid
		req.Type = "invoice_paid"
		assert.Error(t, req.Validate())
	})

	t.Run("rejects unknown channel", func(t *testing.T) {
		req := valid
		req.Channels = []string{"sms"}
		assert.Error(t, req.Validate())
	})

	t.Run("rejects empty channels", func(t *testing.T) {
		req := valid
		req.Channels = nil
		assert.Error(t, req.Validate())
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		req := valid
		req.Priority = "asap"
		assert.Error(t, req.Validate())
	})
}

func TestEnqueueRequestToNotificationRequest(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	req := EnqueueRequest{
		UserID:   uuid.New(),
		Type:     TypeSessionReminder,
		Priority: "high",
		Channels: []string{ChannelPush},
	}

	nr := req.ToNotificationRequest(now)
	assert.NotEqual(t, uuid.Nil, nr.ID)
	assert.Equal(t, DefaultLanguage, nr.Language)
	assert.Equal(t, PriorityHigh, nr.Priority)
	assert.Equal(t, now, nr.CreatedAt)
}

func TestUpdatePreferenceRequestValidate(t *testing.T) {
	bad := "25:99"
	good := "22:00"
	freq := "sometimes"

	assert.Error(t, UpdatePreferenceRequest{QuietHoursStart: &bad}.Validate())
	assert.NoError(t, UpdatePreferenceRequest{QuietHoursStart: &good}.Validate())
	assert.Error(t, UpdatePreferenceRequest{Frequency: &freq}.Validate())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientTransportError("SMTP_4XX", "greylisted", nil)))
	assert.False(t, IsRetryable(NewPermanentTransportError("SMTP_5XX", "no such user", nil)))
	assert.True(t, IsRetryable(ErrCircuitOpen))
	assert.False(t, IsRetryable(ErrInvalidRecipient))
	assert.False(t, IsRetryable(nil))
}
