package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/events"
	"github.com/noah-isme/pedilo-api/internal/obs"
)

// Emitter publishes domain events.
type Emitter interface {
	Emit(ctx context.Context, topic, merchantID, aggregateID string, payload any) (events.Event, error)
}

// Service implements order lookups and lifecycle changes.
type Service struct {
	Q      Querier
	Events Emitter
	Logger zerolog.Logger
}

// StatusChange is the payload of order.status_changed.
type StatusChange struct {
	OrderID      string `json:"orderId"`
	TrackingCode string `json:"trackingCode"`
	From         Status `json:"from"`
	To           Status `json:"to"`
}

// Track looks an order up by its public tracking code.
func (s *Service) Track(ctx context.Context, merchantID, code string) (Order, error) {
	code = NormalizeTrackingCode(code)
	if code == "" {
		return Order{}, ErrNotFound
	}
	return s.Q.GetOrderByTrackingCode(ctx, merchantID, code)
}

// List returns a page of the merchant's orders and the total matching count.
func (s *Service) List(ctx context.Context, merchantID string, f ListFilter) ([]Order, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%q: %w", f.Status, ErrInvalidStatus)
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.Q.ListOrders(ctx, merchantID, f)
}

// UpdateStatus moves an order along its lifecycle and emits order.status_changed.
func (s *Service) UpdateStatus(ctx context.Context, merchantID, id string, to Status) (Order, error) {
	to = Status(strings.ToLower(strings.TrimSpace(string(to))))
	current, err := s.Q.GetOrder(ctx, merchantID, id)
	if err != nil {
		return Order{}, err
	}
	if !to.Valid() {
		return Order{}, fmt.Errorf("%q: %w", to, ErrInvalidStatus)
	}
	if !CanTransition(current.Status, to) {
		return Order{}, fmt.Errorf("%s -> %s: %w", current.Status, to, ErrInvalidTransition)
	}
	updated, err := s.Q.UpdateOrderStatus(ctx, merchantID, id, current.Status, to)
	if err != nil {
		return Order{}, err
	}
	obs.ObserveOrderTransition(string(current.Status), string(to))
	if s.Events != nil {
		change := StatusChange{OrderID: updated.ID, TrackingCode: updated.TrackingCode, From: current.Status, To: to}
		if _, err := s.Events.Emit(ctx, events.TopicOrderStatusChanged, merchantID, updated.ID, change); err != nil {
			s.Logger.Warn().Err(err).Str("order_id", updated.ID).Msg("emit order.status_changed failed")
		}
	}
	return updated, nil
}
