package synthetic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Deterministic(t *testing.T) {
	t.Parallel()

	f := New(Options{FrameLen: 32})
	a, err := f.Fetch(context.Background(), "f1")
	require.NoError(t, err)
	b, err := f.Fetch(context.Background(), "f1")
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, Frame("f2", 32))
}

func TestFetcher_FailRate(t *testing.T) {
	t.Parallel()

	f := New(Options{FrameLen: 1, FailRate: 1})
	_, err := f.Fetch(context.Background(), "f0")
	require.ErrorIs(t, err, ErrInjected)
}

func TestFetcher_LatencyHonoursContext(t *testing.T) {
	t.Parallel()

	f := New(Options{FrameLen: 1, Latency: time.Hour})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, "f0")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
