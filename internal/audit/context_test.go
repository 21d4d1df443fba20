package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContextForwardedFor(t *testing.T) {
	rc := NewRequestContext(RequestMeta{
		ForwardedFor: " 203.0.113.7 , 10.0.0.1, 10.0.0.2",
		RemoteAddr:   "192.0.2.1:51334",
		UserAgent:    "curl/8.0",
		Method:       "POST",
		Path:         "/v1/documents",
	})

	assert.Equal(t, "203.0.113.7", rc.ActorIP())
	assert.Equal(t, "curl/8.0", rc.ActorDevice())
	assert.Equal(t, "POST", rc.HTTPMethod())
	assert.Equal(t, "/v1/documents", rc.Endpoint())
	assert.Equal(t, ActorTypeUser, rc.ActorType())
	assert.Nil(t, rc.ActorID())
	assert.Nil(t, rc.ActorEmail())
	assert.NotEmpty(t, rc.RequestID())
}

func TestNewRequestContextFallsBackToPeerAddress(t *testing.T) {
	rc := NewRequestContext(RequestMeta{RemoteAddr: "192.0.2.1:51334"})
	assert.Equal(t, "192.0.2.1", rc.ActorIP())

	bare := NewRequestContext(RequestMeta{RemoteAddr: "192.0.2.9"})
	assert.Equal(t, "192.0.2.9", bare.ActorIP())
}

func TestNewRequestContextInboundRequestID(t *testing.T) {
	rc := NewRequestContext(RequestMeta{RequestID: "req-abc"})
	assert.Equal(t, "req-abc", rc.RequestID())

	generated := NewRequestContext(RequestMeta{})
	other := NewRequestContext(RequestMeta{})
	assert.NotEmpty(t, generated.RequestID())
	assert.NotEqual(t, generated.RequestID(), other.RequestID())
}

func TestFromContextAbsent(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestMustFromContextPanicsWhenAbsent(t *testing.T) {
	assert.Panics(t, func() {
		MustFromContext(context.Background())
	})
}

func TestUpdateActorEnrichesActiveContext(t *testing.T) {
	rc := NewRequestContext(RequestMeta{})
	ctx := WithContext(context.Background(), rc)

	actorID := int64(42)
	email := "admin@example.com"
	UpdateActor(ctx, ActorUpdate{ActorID: &actorID, ActorEmail: &email, ActorType: ActorTypeSuperadmin})

	got := MustFromContext(ctx)
	require.NotNil(t, got.ActorID())
	assert.Equal(t, int64(42), *got.ActorID())
	assert.Equal(t, "admin@example.com", *got.ActorEmail())
	assert.Equal(t, ActorTypeSuperadmin, got.ActorType())
}

func TestUpdateActorNoOpWithoutContext(t *testing.T) {
	actorID := int64(1)
	assert.NotPanics(t, func() {
		UpdateActor(context.Background(), ActorUpdate{ActorID: &actorID})
	})
}

func TestUpdateActorPartialKeepsExistingFields(t *testing.T) {
	rc := NewRequestContext(RequestMeta{})
	ctx := WithContext(context.Background(), rc)

	actorID := int64(7)
	UpdateActor(ctx, ActorUpdate{ActorID: &actorID})
	email := "user@example.com"
	UpdateActor(ctx, ActorUpdate{ActorEmail: &email})

	got := MustFromContext(ctx)
	assert.Equal(t, int64(7), *got.ActorID())
	assert.Equal(t, "user@example.com", *got.ActorEmail())
	assert.Equal(t, ActorTypeUser, got.ActorType())
}

// Interleaved request scopes must never observe each other's actor,
// even across suspension points.
func TestConcurrentContextsDoNotLeak(t *testing.T) {
	run := func(id int64, out chan<- int64) {
		rc := NewRequestContext(RequestMeta{})
		ctx := WithContext(context.Background(), rc)
		UpdateActor(ctx, ActorUpdate{ActorID: &id})
		time.Sleep(10 * time.Millisecond)
		out <- *MustFromContext(ctx).ActorID()
	}

	a := make(chan int64, 1)
	b := make(chan int64, 1)
	go run(1, a)
	go run(2, b)

	assert.Equal(t, int64(1), <-a)
	assert.Equal(t, int64(2), <-b)
}

func TestRequestContextActorUpdateVisibleAcrossGoroutines(t *testing.T) {
	rc := NewRequestContext(RequestMeta{})
	ctx := WithContext(context.Background(), rc)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		actorID := int64(99)
		UpdateActor(ctx, ActorUpdate{ActorID: &actorID})
	}()
	wg.Wait()

	require.NotNil(t, rc.ActorID())
	assert.Equal(t, int64(99), *rc.ActorID())
}
