package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAndProbes(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("propdata", 2, time.Minute)
	b.now = func() time.Time { return now }

	fail := func(context.Context) (int, error) { return 0, &StatusError{StatusCode: 503} }
	succeed := func(context.Context) (int, error) { return 1, nil }

	_, _ = Call(context.Background(), b, fail)
	assert.False(t, b.Open())
	_, _ = Call(context.Background(), b, fail)
	assert.True(t, b.Open())

	_, err := Call(context.Background(), b, succeed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOpen))

	now = now.Add(2 * time.Minute)
	v, err := Call(context.Background(), b, succeed)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.False(t, b.Open())
}

func TestBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	b := NewBreaker("jina", 1, time.Minute)
	_, _ = Call(context.Background(), b, func(context.Context) (int, error) {
		return 0, &StatusError{StatusCode: 400}
	})
	assert.False(t, b.Open())
}

func TestBreaker_Nil(t *testing.T) {
	v, err := Call(context.Background(), (*Breaker)(nil), func(context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
