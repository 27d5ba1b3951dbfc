package flow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcadelab/identity/domain"
)

func TestConsumeIsSingleUse(t *testing.T) {
	s := NewInMemoryAttemptStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Attempt{
		State:     "abc",
		Provider:  "github",
		ExpiresAt: time.Now().Add(time.Minute),
	}))

	first, err := s.Consume(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "github", first.Provider)

	_, err = s.Consume(ctx, "abc")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConsumeUnknownState(t *testing.T) {
	s := NewInMemoryAttemptStore()
	_, err := s.Consume(context.Background(), "never-issued")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestConsumeExpiredStateIsGoneForGood(t *testing.T) {
	s := NewInMemoryAttemptStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Attempt{
		State:     "stale",
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	_, err := s.Consume(ctx, "stale")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	// Expired consume still removed the record.
	assert.Equal(t, 0, s.Len())
}

func TestCleanupExpired(t *testing.T) {
	s := NewInMemoryAttemptStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, &Attempt{State: "live", ExpiresAt: time.Now().Add(time.Minute)}))
	require.NoError(t, s.Put(ctx, &Attempt{State: "dead", ExpiresAt: time.Now().Add(-time.Minute)}))

	assert.Equal(t, 1, s.CleanupExpired())
	assert.Equal(t, 1, s.Len())

	_, err := s.Consume(ctx, "live")
	assert.NoError(t, err)
}
