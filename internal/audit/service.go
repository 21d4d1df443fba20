package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder receives pipeline counters. Implemented by the metrics
// service; a nil recorder disables instrumentation.
type Recorder interface {
	AuditEventPersisted()
	AuditPersistFailed()
}

// Config tunes the audit service.
type Config struct {
	// Enabled turns the whole trail off when false; every log call
	// becomes a no-op.
	Enabled bool
	// EncryptionKey is an optional base64-encoded 32-byte PII key.
	EncryptionKey string
}

// Entry is the caller-supplied portion of an audit event. Actor fields
// override the ambient context when set.
type Entry struct {
	Action       Action
	ResourceType ResourceType
	ResourceID   string
	ResourceName string
	ActorID      *int64
	ActorType    ActorType
	ActorEmail   string
	ActorIP      string
	ActorDevice  string
	Changes      []FieldChange
	Metadata     map[string]any
}

// Service builds immutable audit records from entries and the ambient
// request context and persists them through the storage port. Logging
// failures are caught here and never propagate to the business
// operation that triggered them.
type Service struct {
	store    Store
	registry *Registry
	cipher   *Cipher
	differ   *Differ
	logger   *zap.Logger
	metrics  Recorder
	enabled  bool
}

// NewService constructs the audit service.
func NewService(store Store, registry *Registry, logger *zap.Logger, metrics Recorder, cfg Config) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	cipher := NewCipher(cfg.EncryptionKey, logger)
	return &Service{
		store:    store,
		registry: registry,
		cipher:   cipher,
		differ:   NewDiffer(registry, cipher),
		logger:   logger,
		metrics:  metrics,
		enabled:  cfg.Enabled,
	}
}

// Registry exposes the PII catalog for startup registration.
func (s *Service) Registry() *Registry {
	return s.registry
}

// LogSync builds and persists one audit record. The ambient context is
// read when present; entry-level actor overrides win over context
// values. Storage failures are logged and swallowed.
func (s *Service) LogSync(ctx context.Context, entry Entry) {
	if s == nil || !s.enabled {
		return
	}

	event := s.buildEvent(ctx, entry)
	if err := s.store.Create(ctx, event); err != nil {
		s.logger.Error("audit event persist failed",
			zap.String("action", string(entry.Action)),
			zap.String("resource_type", string(entry.ResourceType)),
			zap.String("resource_id", entry.ResourceID),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.AuditPersistFailed()
		}
		return
	}
	if s.metrics != nil {
		s.metrics.AuditEventPersisted()
	}
}

// Log is the fire-and-forget variant. The write runs on a detached
// goroutine whose parent cannot be cancelled by the finishing request;
// failures drain into the log sink and the event may be lost if the
// process exits first.
func (s *Service) Log(ctx context.Context, entry Entry) {
	if s == nil || !s.enabled {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("audit logging panicked", zap.Any("panic", r))
			}
		}()
		s.LogSync(detached, entry)
	}()
}

// ComputeChanges exposes the diff engine for callers assembling a
// change list ahead of logging.
func (s *Service) ComputeChanges(oldValue, newValue map[string]any, resourceType ResourceType, trackedFields []string) []FieldChange {
	if s == nil {
		return []FieldChange{}
	}
	return s.differ.Diff(oldValue, newValue, resourceType, trackedFields)
}

// DecryptPII reveals a single encrypted value for authorized read
// paths.
func (s *Service) DecryptPII(value string) string {
	if s == nil {
		return value
	}
	return s.cipher.Decrypt(value)
}

// DecryptChanges reveals PII inside a stored change list.
func (s *Service) DecryptChanges(changes []FieldChange, resourceType ResourceType) []FieldChange {
	if s == nil {
		return changes
	}
	return s.cipher.DecryptChanges(s.registry, resourceType, changes)
}

// DecryptEvent returns a copy of the event with actor fields and
// changes decrypted.
func (s *Service) DecryptEvent(event Event) Event {
	if s == nil || !s.cipher.Enabled() {
		return event
	}
	event.ActorEmail = s.decryptPtr(event.ActorEmail)
	event.ActorIP = s.decryptPtr(event.ActorIP)
	event.ActorDevice = s.decryptPtr(event.ActorDevice)
	event.Changes = s.DecryptChanges(event.Changes, event.ResourceType)
	return event
}

func (s *Service) decryptPtr(value *string) *string {
	if value == nil {
		return nil
	}
	plain := s.cipher.Decrypt(*value)
	return &plain
}

func (s *Service) buildEvent(ctx context.Context, entry Entry) *Event {
	var snap ContextSnapshot
	if rc, ok := FromContext(ctx); ok {
		snap = rc.Snapshot()
	}

	event := &Event{
		Timestamp:    time.Now().UTC(),
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		Changes:      entry.Changes,
	}
	if entry.ResourceName != "" {
		event.ResourceName = &entry.ResourceName
	}

	event.ActorID = entry.ActorID
	if event.ActorID == nil {
		event.ActorID = snap.ActorID
	}
	event.ActorType = entry.ActorType
	if event.ActorType == "" {
		event.ActorType = snap.ActorType
	}
	if event.ActorType == "" {
		event.ActorType = ActorTypeSystem
	}

	event.ActorEmail = s.encryptActorField(coalesce(entry.ActorEmail, strPtrValue(snap.ActorEmail)))
	event.ActorIP = s.encryptActorField(coalesce(entry.ActorIP, snap.ActorIP))
	event.ActorDevice = s.encryptActorField(coalesce(entry.ActorDevice, snap.ActorDevice))

	event.Changes = s.encryptChanges(entry.Changes, entry.ResourceType)
	event.Metadata = buildMetadata(snap, entry.Metadata)
	event.EventHash = ComputeEventHash(event)
	return event
}

// encryptActorField encrypts actor-level PII unconditionally, subject
// only to key availability.
func (s *Service) encryptActorField(value string) *string {
	if value == "" {
		return nil
	}
	encrypted := value
	if s.cipher.Enabled() && !IsEncrypted(value) {
		encrypted = s.cipher.Encrypt(value)
	}
	return &encrypted
}

func (s *Service) encryptChanges(changes []FieldChange, resourceType ResourceType) []FieldChange {
	if changes == nil || !s.cipher.Enabled() {
		return changes
	}
	out := make([]FieldChange, len(changes))
	for i, change := range changes {
		out[i] = change
		if !s.registry.IsPII(resourceType, change.Field) {
			continue
		}
		out[i].Old = s.encryptValue(change.Old)
		out[i].New = s.encryptValue(change.New)
	}
	return out
}

func (s *Service) encryptValue(value any) any {
	switch v := value.(type) {
	case string:
		if v == "" || IsEncrypted(v) {
			return v
		}
		return s.cipher.Encrypt(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			if str, ok := item.(string); ok && str != "" && !IsEncrypted(str) {
				out[i] = s.cipher.Encrypt(str)
			} else {
				out[i] = item
			}
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			if item != "" && !IsEncrypted(item) {
				out[i] = s.cipher.Encrypt(item)
			} else {
				out[i] = item
			}
		}
		return out
	default:
		return value
	}
}

// buildMetadata assembles the metadata map: ambient HTTP fields when
// non-empty, then caller extras with sensitive keys redacted (redacted,
// never encrypted). Returns nil rather than an empty map.
func buildMetadata(snap ContextSnapshot, extras map[string]any) map[string]any {
	metadata := make(map[string]any)
	if snap.HTTPMethod != "" {
		metadata["httpMethod"] = snap.HTTPMethod
	}
	if snap.Endpoint != "" {
		metadata["endpoint"] = snap.Endpoint
	}
	if snap.RequestID != "" {
		metadata["requestId"] = snap.RequestID
	}
	for key, value := range extras {
		if IsSensitiveField(key) {
			metadata[key] = redactedMarker
			continue
		}
		metadata[key] = value
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func strPtrValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

var (
	defaultMu      sync.RWMutex
	defaultService *Service
)

// SetDefault installs the process-wide audit service. Called once from
// the composition root.
func SetDefault(s *Service) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultService = s
}

// Default returns the process-wide service, or nil when none is set.
// For optional, best-effort call sites.
func Default() *Service {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultService
}

// MustDefault returns the process-wide service and panics when unset.
// For code with a hard dependency wired at startup.
func MustDefault() *Service {
	s := Default()
	if s == nil {
		panic("audit: no default service registered")
	}
	return s
}

// LogEvent delegates to the default service, a no-op when unset.
func LogEvent(ctx context.Context, entry Entry) {
	Default().Log(ctx, entry)
}

// LogEventSync delegates to the default service, a no-op when unset.
func LogEventSync(ctx context.Context, entry Entry) {
	Default().LogSync(ctx, entry)
}

// ComputeAuditChanges delegates to the default service, returning an
// empty list when unset.
func ComputeAuditChanges(oldValue, newValue map[string]any, resourceType ResourceType, trackedFields []string) []FieldChange {
	return Default().ComputeChanges(oldValue, newValue, resourceType, trackedFields)
}
