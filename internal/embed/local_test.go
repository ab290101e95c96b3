package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBackend_Deterministic(t *testing.T) {
	b, err := NewLocalBackend("test-model", LocalDimensions, LocalMaxTokens, false)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	first, err := b.Embed(context.Background(), "weekly garden planning notes")
	require.NoError(t, err)
	second, err := b.Embed(context.Background(), "weekly garden planning notes")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, LocalDimensions)
}

func TestLocalBackend_UnitLength(t *testing.T) {
	b, err := NewLocalBackend("test-model", 0, 0, false)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	emb, err := b.Embed(context.Background(), "some meaningful note content here")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range emb {
		sumSquares += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSquares), 1e-5)
}

func TestLocalBackend_EmptyTextIsZeroVector(t *testing.T) {
	b, err := NewLocalBackend("test-model", 0, 0, false)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	emb, err := b.Embed(context.Background(), "   \n  ")
	require.NoError(t, err)
	require.Len(t, emb, LocalDimensions)
	for _, v := range emb {
		assert.Zero(t, v)
	}
}

func TestLocalBackend_DifferentTextsDiffer(t *testing.T) {
	b, err := NewLocalBackend("test-model", 0, 0, false)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	a, err := b.Embed(context.Background(), "compost rotation schedule")
	require.NoError(t, err)
	c, err := b.Embed(context.Background(), "quarterly tax filing checklist")
	require.NoError(t, err)

	assert.NotEqual(t, a, c)
}

func TestLocalBackend_AcceleratedMatchesPlain(t *testing.T) {
	plain, err := NewLocalBackend("test-model", 0, 0, false)
	require.NoError(t, err)
	defer func() { _ = plain.Close() }()

	fast, err := NewLocalBackend("test-model", 0, 0, true)
	if err != nil {
		t.Skipf("accelerated path unavailable: %v", err)
	}
	defer func() { _ = fast.Close() }()

	text := "seedlings go under the grow light in february"
	a, err := plain.Embed(context.Background(), text)
	require.NoError(t, err)
	b, err := fast.Embed(context.Background(), text)
	require.NoError(t, err)

	require.Len(t, b, len(a))
	for i := range a {
		assert.InDelta(t, a[i], b[i], 1e-4)
	}
}

func TestLocalBackend_CountTokens(t *testing.T) {
	b, err := NewLocalBackend("test-model", 0, 0, false)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Equal(t, 0, b.CountTokens(""))
	assert.Equal(t, 3, b.CountTokens("three word phrase"))
	assert.Equal(t, 2, b.CountTokens("  padded   words  "))
}

func TestLocalBackend_ClosedRejects(t *testing.T) {
	b, err := NewLocalBackend("test-model", 0, 0, false)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("ab"))
	assert.Equal(t, 2, ApproxTokens("abcdef"))
	// 3 chars/token is deliberately below the ~4 real-world ratio
	assert.GreaterOrEqual(t, ApproxTokens("a normal english sentence of average length"), 10)
}

func TestTruncateToTokens(t *testing.T) {
	assert.Equal(t, "short", TruncateToTokens("short", 100))

	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	got := TruncateToTokens(string(long), 100)
	assert.Len(t, got, 300)
	assert.LessOrEqual(t, ApproxTokens(got), 100)
}
