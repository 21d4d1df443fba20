package audit

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"
)

type requestContextKey struct{}

// RequestMeta carries the transport-level inputs captured at the request
// boundary.
type RequestMeta struct {
	ForwardedFor string
	RemoteAddr   string
	UserAgent    string
	RequestID    string
	Method       string
	Path         string
}

// ActorUpdate fills actor identity into an existing request context once
// authentication has completed.
type ActorUpdate struct {
	ActorID    *int64
	ActorEmail *string
	ActorType  ActorType
}

// ContextSnapshot is a point-in-time copy of a request context's fields.
type ContextSnapshot struct {
	RequestID   string
	ActorID     *int64
	ActorEmail  *string
	ActorType   ActorType
	ActorIP     string
	ActorDevice string
	HTTPMethod  string
	Endpoint    string
}

// RequestContext is the ambient audit scope for one logical request. It
// is created once at the entry boundary and lives for the request's full
// asynchronous extent. Method and endpoint are immutable after creation;
// actor fields are filled in later by UpdateActor. The struct is stored
// in context.Context as a pointer, so enrichment is visible to all work
// forked from the same request and never to other requests.
type RequestContext struct {
	mu          sync.RWMutex
	requestID   string
	actorID     *int64
	actorEmail  *string
	actorType   ActorType
	actorIP     string
	actorDevice string
	httpMethod  string
	endpoint    string
}

// NewRequestContext builds a context from inbound request metadata. The
// client IP is the first comma-separated entry of the forwarded-for
// header, trimmed, falling back to the peer address. The request ID is
// taken verbatim from the inbound header or freshly generated.
func NewRequestContext(meta RequestMeta) *RequestContext {
	requestID := meta.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &RequestContext{
		requestID:   requestID,
		actorType:   ActorTypeUser,
		actorIP:     clientIP(meta.ForwardedFor, meta.RemoteAddr),
		actorDevice: meta.UserAgent,
		httpMethod:  meta.Method,
		endpoint:    meta.Path,
	}
}

func clientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// WithContext installs the request context into ctx.
func WithContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the ambient request context, if any. Absence is an
// expected condition outside request scope (cron jobs, tests).
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok
}

// MustFromContext returns the ambient request context and panics when
// absent. Reserve it for code that is always invoked within request
// scope; absence there is a wiring mistake.
func MustFromContext(ctx context.Context) *RequestContext {
	rc, ok := FromContext(ctx)
	if !ok {
		panic("audit: no request context in scope")
	}
	return rc
}

// UpdateActor mutates the actor fields of the currently active context
// in place. It is a silent no-op when no context is active.
func UpdateActor(ctx context.Context, update ActorUpdate) {
	rc, ok := FromContext(ctx)
	if !ok {
		return
	}
	rc.SetActor(update)
}

// SetActor applies the update to this context.
func (rc *RequestContext) SetActor(update ActorUpdate) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if update.ActorID != nil {
		rc.actorID = update.ActorID
	}
	if update.ActorEmail != nil {
		rc.actorEmail = update.ActorEmail
	}
	if update.ActorType != "" {
		rc.actorType = update.ActorType
	}
}

// Snapshot copies the current field values.
func (rc *RequestContext) Snapshot() ContextSnapshot {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return ContextSnapshot{
		RequestID:   rc.requestID,
		ActorID:     rc.actorID,
		ActorEmail:  rc.actorEmail,
		ActorType:   rc.actorType,
		ActorIP:     rc.actorIP,
		ActorDevice: rc.actorDevice,
		HTTPMethod:  rc.httpMethod,
		Endpoint:    rc.endpoint,
	}
}

// RequestID returns the stable request identifier.
func (rc *RequestContext) RequestID() string {
	return rc.requestID
}

// ActorID returns the actor id, nil before enrichment.
func (rc *RequestContext) ActorID() *int64 {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.actorID
}

// ActorEmail returns the actor email, nil before enrichment.
func (rc *RequestContext) ActorEmail() *string {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.actorEmail
}

// ActorType returns the actor classification, "user" by default.
func (rc *RequestContext) ActorType() ActorType {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return rc.actorType
}

// ActorIP returns the resolved client address.
func (rc *RequestContext) ActorIP() string {
	return rc.actorIP
}

// ActorDevice returns the raw user-agent string.
func (rc *RequestContext) ActorDevice() string {
	return rc.actorDevice
}

// HTTPMethod returns the method captured at creation.
func (rc *RequestContext) HTTPMethod() string {
	return rc.httpMethod
}

// Endpoint returns the path captured at creation.
func (rc *RequestContext) Endpoint() string {
	return rc.endpoint
}
