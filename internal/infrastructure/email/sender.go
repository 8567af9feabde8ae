package email

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"notification-service/internal/config"
	"notification-service/internal/domains/notification/model"
)

// ================================================
// OUTBOUND EMAIL TRANSPORT
// ================================================

// Message is one outbound email.
type Message struct {
	TrackingID uuid.UUID
	To         string
	Subject    string
	BodyText   string
	BodyHTML   string
}

// Result carries provider metadata for a successful send.
type Result struct {
	ProviderMessageID string
	EstimatedCost     decimal.Decimal
}

// Sender is the outbound mail transport.
type Sender interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// costPerEmail is a flat provider-rate estimate recorded per delivery
// for cost reporting.
var costPerEmail = decimal.RequireFromString("0.0001")

type smtpSender struct {
	addr    string
	from    string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewSMTPSender builds the relay-backed transport. Outbound calls are
// paced so the relay is never hit faster than its contract allows, and
// each call is bounded by the configured timeout.
func NewSMTPSender(cfg config.SMTPConfig) Sender {
	return &smtpSender{
		addr:    cfg.Host + ":" + cfg.Port,
		from:    cfg.From,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerSec), cfg.SendsPerSec),
	}
}

func (s *smtpSender) Send(ctx context.Context, msg Message) (*Result, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, model.NewTransientTransportError("PACING_CANCELLED", "cancelled while waiting for send slot", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload := buildMime(s.from, msg)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(s.addr, nil, s.from, []string{msg.To}, payload)
	}()

	select {
	case <-ctx.Done():
		return nil, model.NewTransientTransportError("TIMEOUT", "smtp call exceeded deadline", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, classify(err)
		}
	}

	return &Result{
		// SMTP does not return a provider ID; synthesize a stable one.
		ProviderMessageID: fmt.Sprintf("smtp-%s-%d", msg.TrackingID, time.Now().Unix()),
		EstimatedCost:     costPerEmail,
	}, nil
}

// buildMime assembles the wire message. HTML bodies go out as
// multipart/alternative with the text part first.
func buildMime(from string, msg Message) []byte {
	var b strings.Builder

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.BodyHTML == "" {
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(msg.BodyText)
		return []byte(b.String())
	}

	boundary := "np-" + msg.TrackingID.String()
	b.WriteString("Content-Type: multipart/alternative; boundary=" + boundary + "\r\n\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(msg.BodyText + "\r\n")

	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(msg.BodyHTML + "\r\n")

	b.WriteString("--" + boundary + "--\r\n")
	return []byte(b.String())
}

// classify maps an SMTP failure onto the retry policy. Reply codes in
// the 4xx range are transient per RFC 5321; 5xx replies are permanent.
// Anything without a reply code is treated as a network fault and
// retried.
func classify(err error) error {
	text := err.Error()

	switch {
	case strings.HasPrefix(text, "4"):
		return model.NewTransientTransportError("SMTP_4XX", "relay reported a transient failure", err)
	case strings.HasPrefix(text, "5"):
		return model.NewPermanentTransportError("SMTP_5XX", "relay rejected the message", err)
	default:
		return model.NewTransientTransportError("SMTP_NETWORK", "relay unreachable", err)
	}
}

// ================================================
// DEV TRANSPORT
// ================================================

// logSender is the development transport. It logs the message instead
// of handing it to a relay.
type logSender struct {
	from string
}

func NewLogSender(cfg config.SMTPConfig) Sender {
	return &logSender{from: cfg.From}
}

func (s *logSender) Send(_ context.Context, msg Message) (*Result, error) {
	log.Info().
		Str("tracking_id", msg.TrackingID.String()).
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Msg("[Email] Dev transport, message logged instead of sent")

	return &Result{
		ProviderMessageID: "dev-" + msg.TrackingID.String(),
		EstimatedCost:     decimal.Zero,
	}, nil
}
