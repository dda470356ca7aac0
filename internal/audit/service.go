package audit

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/pedilo-api/internal/common"
	"github.com/noah-isme/pedilo-api/internal/obs"
)

// ActorKind represents the source of an audited action.
type ActorKind string

const (
	// ActorKindMerchant represents an authenticated dashboard session.
	ActorKindMerchant ActorKind = "merchant"
	// ActorKindSystem represents internal automated actions.
	ActorKindSystem ActorKind = "system"
	// ActorKindAnonymous represents unauthenticated actors.
	ActorKindAnonymous ActorKind = "anonymous"
)

// Actor describes the entity performing the action.
type Actor struct {
	Kind       ActorKind
	MerchantID string
}

// Merchant returns the actor for a dashboard session.
func Merchant(id string) Actor {
	return Actor{Kind: ActorKindMerchant, MerchantID: id}
}

// Entry is one persisted audit record.
type Entry struct {
	ID           string          `json:"id"`
	ActorKind    ActorKind       `json:"actorKind"`
	MerchantID   string          `json:"merchantId,omitempty"`
	Action       string          `json:"action"`
	ResourceType string          `json:"resourceType"`
	ResourceID   string          `json:"resourceId,omitempty"`
	Method       string          `json:"method"`
	Path         string          `json:"path"`
	Route        string          `json:"route,omitempty"`
	Status       int             `json:"status"`
	IP           string          `json:"ip,omitempty"`
	UserAgent    string          `json:"userAgent,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Store defines the storage operations required for auditing.
type Store interface {
	InsertAuditLog(ctx context.Context, e Entry) error
	ListAuditLogs(ctx context.Context, merchantID string, limit, offset int) ([]Entry, error)
}

// Service persists audit logs for dashboard mutations.
type Service struct {
	Store        Store
	Enabled      bool
	SamplingRate float64
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Record persists an audit log entry when auditing is enabled.
func (s *Service) Record(ctx context.Context, actor Actor, action, resourceType, resourceID string, req *http.Request, status int, metadata map[string]any) error {
	if s == nil || !s.Enabled {
		return nil
	}
	if s.SamplingRate > 0 && s.SamplingRate < 1 {
		if rand.Float64() > s.SamplingRate {
			return nil
		}
	}
	if req == nil {
		return errors.New("audit: request is required")
	}
	if s.Store == nil {
		return errors.New("audit: store not configured")
	}

	method := req.Method
	route := obs.RoutePattern(req.Context())
	if route == "" {
		route = strings.TrimSpace(req.URL.Path)
	}
	if status == 0 {
		status = http.StatusOK
	}
	kind := normalizeActorKind(actor.Kind)
	merchantID := strings.TrimSpace(actor.MerchantID)
	if kind != ActorKindMerchant {
		merchantID = ""
	}

	entry := Entry{
		ID:           uuid.NewString(),
		ActorKind:    kind,
		MerchantID:   merchantID,
		Action:       buildAction(action, method, route),
		ResourceType: buildResource(resourceType, route),
		ResourceID:   strings.TrimSpace(resourceID),
		Method:       method,
		Path:         req.URL.Path,
		Route:        route,
		Status:       status,
		IP:           strings.TrimSpace(common.ClientIP(req)),
		UserAgent:    strings.TrimSpace(req.Header.Get("User-Agent")),
		RequestID:    strings.TrimSpace(req.Header.Get("X-Request-ID")),
		Metadata:     toJSON(metadata, req.URL.RawQuery),
		CreatedAt:    s.now(),
	}
	return s.Store.InsertAuditLog(ctx, entry)
}

// Track records a dashboard mutation and logs, rather than returns, storage failures.
func (s *Service) Track(ctx context.Context, merchantID, action, resourceType, resourceID string, req *http.Request, status int, metadata map[string]any) {
	if s == nil {
		return
	}
	if err := s.Record(ctx, Merchant(merchantID), action, resourceType, resourceID, req, status, metadata); err != nil {
		s.Logger.Warn().Err(err).Str("action", action).Str("resource_id", resourceID).Msg("audit record failed")
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func buildAction(action, method, route string) string {
	trimmed := strings.TrimSpace(action)
	if trimmed != "" {
		return trimmed
	}
	base := strings.ToUpper(strings.TrimSpace(method))
	target := route
	if target == "" {
		target = "/"
	}
	return base + " " + target
}

func buildResource(resourceType, route string) string {
	trimmed := strings.TrimSpace(resourceType)
	if trimmed != "" {
		return trimmed
	}
	route = strings.TrimSpace(route)
	if route == "" {
		return "unknown"
	}
	segments := strings.Split(strings.Trim(route, "/"), "/")
	if len(segments) >= 3 && segments[0] == "api" && segments[1] == "v1" {
		return strings.Join(segments[2:], ".")
	}
	return strings.ReplaceAll(strings.Trim(route, "/"), "/", ".")
}

func normalizeActorKind(kind ActorKind) ActorKind {
	switch kind {
	case ActorKindMerchant, ActorKindSystem:
		return kind
	default:
		return ActorKindAnonymous
	}
}

func toJSON(metadata map[string]any, query string) json.RawMessage {
	if len(metadata) == 0 {
		if strings.TrimSpace(query) == "" {
			return nil
		}
		metadata = map[string]any{"query": query}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return data
}
