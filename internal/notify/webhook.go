// Package notify delivers domain events to merchant webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/merchant"
	"github.com/noah-isme/pedilo-api/internal/obs"
)

// ErrPermanent marks delivery failures that retrying cannot fix.
var ErrPermanent = errors.New("notify: permanent delivery failure")

// Doer sends one HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Sender posts signed event payloads to the emitting merchant's webhook URL.
type Sender struct {
	Merchants merchant.Querier
	HTTP      Doer
	Replay    ReplayProtector
	ReplayTTL time.Duration
	AllowHTTP bool
	Now       func() time.Time
	Logger    zerolog.Logger
}

type envelope struct {
	EventID    string          `json:"eventId"`
	Topic      string          `json:"topic"`
	Data       json.RawMessage `json:"data"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Deliver sends ev once. Merchants without a webhook URL are skipped. A
// delivery already acknowledged inside the replay window is not resent.
func (s *Sender) Deliver(ctx context.Context, ev events.Event) error {
	ctx, span := otel.Tracer("notify.Sender").Start(ctx, "Sender.Deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("webhook.event_id", ev.ID),
		attribute.String("webhook.topic", ev.Topic),
		attribute.String("webhook.merchant_id", ev.MerchantID),
	)

	m, err := s.Merchants.GetMerchantByID(ctx, ev.MerchantID)
	if err != nil {
		if errors.Is(err, merchant.ErrNotFound) {
			return fmt.Errorf("%w: merchant %s not found", ErrPermanent, ev.MerchantID)
		}
		return err
	}
	if strings.TrimSpace(m.WebhookURL) == "" {
		s.record("skipped", 0)
		return nil
	}
	if err := validateURL(m.WebhookURL, s.AllowHTTP); err != nil {
		s.record("invalid", 0)
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	key := replayKey(m.ID, ev.ID)
	if s.Replay != nil && s.ReplayTTL > 0 {
		fresh, err := s.Replay.Acquire(ctx, key, s.ReplayTTL)
		if err != nil {
			return err
		}
		if !fresh {
			span.AddEvent("delivery replay prevented")
			s.record("replayed", 0)
			return nil
		}
	}

	start := time.Now()
	status, err := s.post(ctx, m, ev)
	if err == nil && status >= 200 && status < 300 {
		s.record("delivered", time.Since(start))
		return nil
	}
	if s.Replay != nil && s.ReplayTTL > 0 {
		_ = s.Replay.Release(ctx, key)
	}
	if err == nil {
		err = fmt.Errorf("notify: webhook responded %d", status)
	}
	span.RecordError(err)
	s.record("failed", time.Since(start))
	s.Logger.Warn().Err(err).Str("event_id", ev.ID).Str("merchant_id", m.ID).Msg("webhook delivery failed")
	return err
}

func (s *Sender) post(ctx context.Context, m merchant.Merchant, ev events.Event) (int, error) {
	body, err := json.Marshal(envelope{EventID: ev.ID, Topic: ev.Topic, Data: ev.Payload, OccurredAt: ev.OccurredAt})
	if err != nil {
		return 0, err
	}
	ts := s.now().Unix()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pedilo-webhooks/1.0")
	req.Header.Set("X-Event-ID", ev.ID)
	req.Header.Set("X-Event-Topic", ev.Topic)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(m.WebhookSecret, ts, ev.ID, body))

	resp, err := s.HTTP.Do(ctx, req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

func (s *Sender) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Sender) record(result string, took time.Duration) {
	if obs.WebhookDispatchAttempts != nil {
		obs.WebhookDispatchAttempts.Inc()
	}
	if obs.WebhookDeliveriesTotal != nil {
		obs.WebhookDeliveriesTotal.WithLabelValues(result).Inc()
	}
	if took > 0 && obs.WebhookAttemptLatency != nil {
		obs.WebhookAttemptLatency.WithLabelValues(result).Observe(obs.DurationMillis(took))
	}
}

func validateURL(raw string, allowHTTP bool) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		host := parsed.Hostname()
		if allowHTTP || host == "localhost" || host == "127.0.0.1" {
			return nil
		}
		return errors.New("http webhook only allowed for localhost")
	default:
		return errors.New("webhook url must be http or https")
	}
}

// ComputeSignature is the hex HMAC-SHA256 of "<ts>.<eventID>.<body>" keyed by
// the merchant webhook secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10) + "." + eventID + "."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns a traced client for webhook delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
