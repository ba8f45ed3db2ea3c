package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/charlesng35/ticketdesk/internal/models"
)

// ErrDescriptorGone means the push service no longer knows the descriptor.
var ErrDescriptorGone = errors.New("push: descriptor gone")

// Sender delivers an encoded payload to one descriptor.
type Sender interface {
	Send(ctx context.Context, descriptor models.PushDescriptor, payload Payload) error
}

// SenderConfig holds the VAPID identity.
type SenderConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        time.Duration
	HTTPClient *http.Client
}

// WebPushSender sends through the browser push services with VAPID authentication.
type WebPushSender struct {
	cfg SenderConfig
}

// NewWebPushSender builds a sender.
func NewWebPushSender(cfg SenderConfig) (*WebPushSender, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, fmt.Errorf("push: vapid key pair is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebPushSender{cfg: cfg}, nil
}

// Send implements Sender. 404 and 410 answers map to ErrDescriptorGone.
func (s *WebPushSender) Send(ctx context.Context, descriptor models.PushDescriptor, payload Payload) error {
	body, err := payload.Encode()
	if err != nil {
		return fmt.Errorf("push: encode payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: descriptor.Endpoint,
		Keys: webpush.Keys{
			P256dh: descriptor.Keys.P256dh,
			Auth:   descriptor.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.cfg.HTTPClient,
		Subscriber:      s.cfg.Subscriber,
		TTL:             int(s.cfg.TTL / time.Second),
		Urgency:         webpush.UrgencyNormal,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return ErrDescriptorGone
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return fmt.Errorf("push: push service answered %d", resp.StatusCode)
	}
}
