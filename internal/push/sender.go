package push

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"carguard-backend/internal/store"
)

// Categories group notifications into client-side channels.
const (
	CategoryRequest     = "request_alerts"
	CategoryAccident    = "accident_alerts"
	CategoryAlcoholWarn = "alcohol_warn_alerts"
	CategoryAlcoholHigh = "alcohol_high_alerts"
)

// Result reports the outcome of one batch send. Skipped means push is not
// configured at all; callers must treat that as success.
type Result struct {
	Sent    int
	Failed  int
	Skipped bool
}

// Sink delivers a notification to a set of users. Implementations are
// best-effort; alerting never fails the path that triggered it.
type Sink interface {
	Send(ctx context.Context, userIDs []int64, title, body string, data map[string]string, category string) (Result, error)
}

// Sender defines the low-level web push call, split out so tests can inject
// a fake.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// webPushSender is the real implementation using the webpush library.
type webPushSender struct{}

func (s *webPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WebPushSink fans a notification out to every stored subscription of the
// target users.
type WebPushSink struct {
	store   store.Store
	options *webpush.Options
	sender  Sender
}

// NewWebPushSink creates a sink. options may carry empty VAPID keys, in which
// case every send reports Skipped.
func NewWebPushSink(s store.Store, options *webpush.Options) *WebPushSink {
	return &WebPushSink{
		store:   s,
		options: options,
		sender:  &webPushSender{},
	}
}

// SetSender overrides the low-level sender for tests.
func (w *WebPushSink) SetSender(sender Sender) {
	w.sender = sender
}

type pushPayload struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Category string            `json:"category"`
	Data     map[string]string `json:"data,omitempty"`
}

// Send delivers the notification to every subscription of the given users.
// Expired subscriptions (HTTP 410) are pruned on the way.
func (w *WebPushSink) Send(ctx context.Context, userIDs []int64, title, body string, data map[string]string, category string) (Result, error) {
	if w.options == nil || w.options.VAPIDPublicKey == "" || w.options.VAPIDPrivateKey == "" {
		return Result{Skipped: true}, nil
	}

	seen := make(map[int64]struct{}, len(userIDs))
	deduped := make([]int64, 0, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}

	subscriptions, err := w.store.SubscriptionsForUsers(ctx, deduped)
	if err != nil {
		return Result{}, err
	}
	if len(subscriptions) == 0 {
		return Result{}, nil
	}

	payload, err := json.Marshal(pushPayload{
		Title:    title,
		Body:     body,
		Category: category,
		Data:     data,
	})
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, sub := range subscriptions {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256DH,
				Auth:   sub.Auth,
			},
		}

		resp, err := w.sender.Send(payload, wpSub, w.options)
		if err != nil {
			log.Printf("Error sending notification to %s: %v", sub.Endpoint, err)
			result.Failed++
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusGone {
			log.Printf("Subscription for endpoint %s is expired. Deleting.", sub.Endpoint)
			if err := w.store.DeleteSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
				log.Printf("Failed to delete expired subscription %s: %v", sub.Endpoint, err)
			}
			result.Failed++
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			result.Sent++
		} else {
			result.Failed++
		}
	}

	return result, nil
}
