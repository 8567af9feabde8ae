package push

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"notification-service/internal/domains/notification/model"
)

// ================================================
// PUSH PROVIDER
// ================================================

// Message is one outbound push notification.
type Message struct {
	TrackingID  uuid.UUID
	DeviceToken string
	Title       string
	Body        string
}

// Provider delivers push notifications to a device token.
type Provider interface {
	Send(ctx context.Context, msg Message) (providerMessageID string, err error)
}

// logProvider stands in for a real push gateway. Deliveries are logged
// and acknowledged immediately; tokenless sends fail permanently the
// way a gateway would reject them.
type logProvider struct{}

func NewLogProvider() Provider {
	return &logProvider{}
}

func (p *logProvider) Send(_ context.Context, msg Message) (string, error) {
	if msg.DeviceToken == "" {
		return "", model.NewPermanentTransportError("NO_DEVICE_TOKEN", "user has no registered device", nil)
	}

	log.Info().
		Str("tracking_id", msg.TrackingID.String()).
		Str("title", msg.Title).
		Msg("[Push] Dev provider, message logged instead of sent")

	return fmt.Sprintf("push-%s-%d", msg.TrackingID, time.Now().Unix()), nil
}
