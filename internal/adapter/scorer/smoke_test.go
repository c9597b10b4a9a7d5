//go:build scorer

package scorer

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/couchcryptid/me-compute/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests hit a running scoring service and require SCORER_URL.
// Run with: go test -tags=scorer ./internal/adapter/scorer/ -v -count=1

func smokeClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("SCORER_URL")
	if url == "" {
		t.Fatal("SCORER_URL must be set to run smoke tests")
	}
	return NewClient(url, 10*time.Second, observability.NewMetricsForTesting(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSmoke_Score(t *testing.T) {
	c := smokeClient(t)

	score, err := c.Score(context.Background(), testInput())
	require.NoError(t, err)
	assert.False(t, math.IsNaN(score))
}

func TestSmoke_CachedScorer(t *testing.T) {
	cached := NewCachedScorer(smokeClient(t), 10, observability.NewMetricsForTesting())

	s1, err := cached.Score(context.Background(), testInput())
	require.NoError(t, err)
	s2, err := cached.Score(context.Background(), testInput())
	require.NoError(t, err)
	assert.Equal(t, s1, s2)
}
