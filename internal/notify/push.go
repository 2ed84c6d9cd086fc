package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// Message is the payload delivered to the device.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Sender delivers reminder payloads over web push.
type Sender struct {
	subscriber      string
	vapidPublicKey  string
	vapidPrivateKey string
}

// NewSender creates a push sender. subscriber is the contact address
// required by the push services (a mailto: or https: URL).
func NewSender(subscriber, vapidPublicKey, vapidPrivateKey string) *Sender {
	return &Sender{
		subscriber:      subscriber,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
	}
}

// Send pushes the message to one device subscription. A 404 or 410 from
// the push service means the subscription is dead; that is reported as
// ErrSubscriptionGone so the caller can drop it.
func (s *Sender) Send(ctx context.Context, sub *webpush.Subscription, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      s.subscriber,
		VAPIDPublicKey:  s.vapidPublicKey,
		VAPIDPrivateKey: s.vapidPrivateKey,
		TTL:             3600,
	})
	if err != nil {
		return fmt.Errorf("push delivery failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return fmt.Errorf("endpoint %s: %w", sub.Endpoint, ErrSubscriptionGone)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service rejected delivery: %s", resp.Status)
	}
	return nil
}
