package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"Mansoor88-6/escort-alerts/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// ErrPushNotConfigured is returned when no VAPID key pair is configured
var ErrPushNotConfigured = errors.New("push delivery is not configured")

// DeliveryError is a non-2xx answer from a push service
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("push service returned %d: %s", e.StatusCode, e.Body)
}

// Gone reports whether the push service no longer knows the endpoint
func (e *DeliveryError) Gone() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// IsGone reports whether err means the subscription should be removed
func IsGone(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Gone()
}

// SendOptions are the per-dispatch transport knobs
type SendOptions struct {
	TTL     int
	Urgency string
}

// Sender delivers one encrypted payload to one subscription
type Sender interface {
	Send(ctx context.Context, sub models.PushSubscription, payload []byte, opts SendOptions) error
}

// VAPIDConfig is the application server identity
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subject    string
	TTL        int
	Timeout    time.Duration
}

// WebPushSender delivers through the browser push services with VAPID
type WebPushSender struct {
	cfg        VAPIDConfig
	httpClient *http.Client
}

// NewWebPushSender returns ErrPushNotConfigured when the key pair is incomplete
func NewWebPushSender(cfg VAPIDConfig) (*WebPushSender, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" {
		return nil, ErrPushNotConfigured
	}
	if cfg.Subject == "" {
		cfg.Subject = "mailto:alertas@localhost"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 3600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &WebPushSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (s *WebPushSender) Send(ctx context.Context, sub models.PushSubscription, payload []byte, opts SendOptions) error {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = s.cfg.TTL
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.httpClient,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             ttl,
		Urgency:         urgency(opts.Urgency),
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DeliveryError{StatusCode: resp.StatusCode, Body: string(body)}
}

func urgency(u string) webpush.Urgency {
	switch u {
	case string(webpush.UrgencyVeryLow):
		return webpush.UrgencyVeryLow
	case string(webpush.UrgencyLow):
		return webpush.UrgencyLow
	case string(webpush.UrgencyNormal):
		return webpush.UrgencyNormal
	}
	return webpush.UrgencyHigh
}
