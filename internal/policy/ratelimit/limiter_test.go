package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Wait(t *testing.T) {
	// 10 requests per second = 100ms interval, burst 1.
	l := New(Config{
		PerHostRPS:   10,
		PerHostBurst: 1,
	})
	ctx := context.Background()

	// Consume initial token
	require.NoError(t, l.Wait(ctx, "https://test.example/a"))

	// Next one on the same host should wait ~100ms
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.example/b"))
	if dur := time.Since(start); dur < 80*time.Millisecond {
		t.Errorf("expected wait ~100ms, got %v", dur)
	}
	assert.Equal(t, 1, l.hosts())
}

func TestLimiter_DifferentHosts(t *testing.T) {
	l := New(Config{
		PerHostRPS:   1, // 1 RPS = 1s interval
		PerHostBurst: 1,
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.example/1"))

	// Host B should not be blocked by A
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.example/1"))
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("host B blocked unexpectedly")
	}
	assert.Equal(t, 2, l.hosts())
}

func TestLimiter_DisabledIsUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://busy.example/"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiter_ContextCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{PerHostRPS: 0.1, PerHostBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.example/"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "https://slow.example/")
	require.Error(t, err)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.org", hostOf("https://Example.org:8443/path"))
	assert.Equal(t, "unknown", hostOf("not a url"))
	assert.Equal(t, "unknown", hostOf("http://%"))
}
