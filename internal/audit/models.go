package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// ActorType classifies who (or what) performed an audited action.
type ActorType string

const (
	ActorTypeUser       ActorType = "user"
	ActorTypeSystem     ActorType = "system"
	ActorTypeAPIKey     ActorType = "api_key"
	ActorTypeWebhook    ActorType = "webhook"
	ActorTypeScheduler  ActorType = "scheduler"
	ActorTypeSuperadmin ActorType = "superadmin"
)

// Action enumerates the audited verbs.
type Action string

const (
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionLogin            Action = "login"
	ActionLogout           Action = "logout"
	ActionLoginFailed      Action = "login_failed"
	ActionExport           Action = "export"
	ActionInvite           Action = "invite"
	ActionPermissionChange Action = "permission_change"
)

// ResourceType enumerates the entity kinds that appear in the trail.
type ResourceType string

const (
	ResourceUser        ResourceType = "user"
	ResourceDocument    ResourceType = "document"
	ResourceSite        ResourceType = "site"
	ResourceIntegration ResourceType = "integration"
	ResourceRole        ResourceType = "role"
	ResourceTenant      ResourceType = "tenant"
	ResourceAPIKey      ResourceType = "api_key"
	ResourceWebhook     ResourceType = "webhook"
	ResourceSettings    ResourceType = "settings"
	ResourceAuditLog    ResourceType = "audit_log"
)

// FieldChange records a single attribute transition between two snapshots.
// Old/New may hold ciphertext for PII fields.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Event is an immutable audit record. ID and CreatedAt are assigned by the
// store; Timestamp and EventHash are stamped by the service.
type Event struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      *int64         `json:"actorId,omitempty"`
	ActorType    ActorType      `json:"actorType"`
	ActorEmail   *string        `json:"actorEmail,omitempty"`
	ActorIP      *string        `json:"actorIp,omitempty"`
	ActorDevice  *string        `json:"actorDevice,omitempty"`
	Action       Action         `json:"action"`
	ResourceType ResourceType   `json:"resourceType"`
	ResourceID   string         `json:"resourceId"`
	ResourceName *string        `json:"resourceName,omitempty"`
	Changes      []FieldChange  `json:"changes,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	EventHash    string         `json:"eventHash"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Filter narrows audit queries.
type Filter struct {
	ActorID      *int64
	ActorType    ActorType
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	From         *time.Time
	To           *time.Time
	Limit        int
	Offset       int
}

// Store is the persistence port for audit records. Implementations are
// append-only; events are never updated in place.
type Store interface {
	Create(ctx context.Context, event *Event) error
	CreateBatch(ctx context.Context, events []Event) error
	FindByID(ctx context.Context, id string) (*Event, error)
	List(ctx context.Context, filter Filter) ([]Event, int64, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	DeleteOlderThan(ctx context.Context, days int) (int64, error)
	VerifyIntegrity(ctx context.Context, id string) (bool, error)
}

// eventHashPayload is the canonical subset of fields covered by the
// integrity digest. Field order is fixed by the struct definition.
type eventHashPayload struct {
	Timestamp    int64         `json:"ts"`
	ActorID      *int64        `json:"actorId"`
	ActorType    ActorType     `json:"actorType"`
	Action       Action        `json:"action"`
	ResourceType ResourceType  `json:"resourceType"`
	ResourceID   string        `json:"resourceId"`
	Changes      []FieldChange `json:"changes,omitempty"`
}

// ComputeEventHash digests the canonical subset of an event. Integrity
// checks must recompute and compare; the stored hash is never trusted
// on its own.
func ComputeEventHash(e *Event) string {
	payload := eventHashPayload{
		Timestamp:    e.Timestamp.UnixMilli(),
		ActorID:      e.ActorID,
		ActorType:    e.ActorType,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Changes:      e.Changes,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
