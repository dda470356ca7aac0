package store

import (
	"context"

	"github.com/noah-isme/pedilo-api/internal/audit"
	"github.com/noah-isme/pedilo-api/internal/events"
)

// InsertAuditLog implements audit.Store.
func (s *Postgres) InsertAuditLog(ctx context.Context, e audit.Entry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_kind, merchant_id, action, resource_type, resource_id, method, path,
			route, status, ip, user_agent, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		e.ID, string(e.ActorKind), nullableText(e.MerchantID), e.Action, e.ResourceType, e.ResourceID, e.Method,
		e.Path, e.Route, int32(e.Status), e.IP, e.UserAgent, e.RequestID, metadata, e.CreatedAt)
	return err
}

// ListAuditLogs implements audit.Store, newest first.
func (s *Postgres) ListAuditLogs(ctx context.Context, merchantID string, limit, offset int) ([]audit.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_kind, COALESCE(merchant_id, ''), action, resource_type, resource_id, method, path, route,
			status, ip, user_agent, request_id, metadata, created_at
		FROM audit_logs
		WHERE merchant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, merchantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []audit.Entry{}
	for rows.Next() {
		var (
			e      audit.Entry
			kind   string
			status int32
			meta   []byte
		)
		if err := rows.Scan(&e.ID, &kind, &e.MerchantID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Method,
			&e.Path, &e.Route, &status, &e.IP, &e.UserAgent, &e.RequestID, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ActorKind = audit.ActorKind(kind)
		e.Status = int(status)
		e.Metadata = meta
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertDomainEvent implements events.EventStore.
func (s *Postgres) InsertDomainEvent(ctx context.Context, e events.Event) (events.Event, error) {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO domain_events (id, topic, merchant_id, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING occurred_at`,
		e.ID, e.Topic, e.MerchantID, e.AggregateID, []byte(e.Payload), e.OccurredAt,
	).Scan(&e.OccurredAt)
	return e, err
}
