package multi

import (
	"context"
	"errors"
	"testing"

	"github.com/couchcryptid/me-compute/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLoader struct {
	batches []domain.ResultBatch
	err     error
}

func (m *mockLoader) LoadBatch(_ context.Context, batch domain.ResultBatch) error {
	m.batches = append(m.batches, batch)
	return m.err
}

type closingLoader struct {
	mockLoader
	closed   bool
	closeErr error
}

func (c *closingLoader) Close() error {
	c.closed = true
	return c.closeErr
}

func testBatch() domain.ResultBatch {
	return domain.ResultBatch{
		Events: []domain.EventResult{{Aggregate: domain.EventAggregate{EventID: "ev-1"}}},
	}
}

func TestFanOutDeliversToAll(t *testing.T) {
	a, b, c := &mockLoader{}, &mockLoader{}, &mockLoader{}
	m := New(a, b, c)

	require.NoError(t, m.LoadBatch(context.Background(), testBatch()))

	for i, l := range []*mockLoader{a, b, c} {
		require.Len(t, l.batches, 1, "loader %d", i)
		assert.Equal(t, "ev-1", l.batches[0].Events[0].Aggregate.EventID)
	}
}

func TestErrorDoesNotPreventDelivery(t *testing.T) {
	failing := &mockLoader{err: errors.New("disk full")}
	healthy := &mockLoader{}
	m := New(failing, healthy)

	err := m.LoadBatch(context.Background(), testBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, healthy.batches, 1)
	assert.Len(t, failing.batches, 1)
}

func TestErrorsAreJoined(t *testing.T) {
	errA := errors.New("err-a")
	errB := errors.New("err-b")
	m := New(&mockLoader{err: errA}, &mockLoader{err: errB})

	err := m.LoadBatch(context.Background(), testBatch())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errB)
}

func TestCloseClosesClosers(t *testing.T) {
	a := &closingLoader{}
	b := &mockLoader{}
	c := &closingLoader{closeErr: errors.New("close failed")}
	m := New(a, b, c)

	err := m.Close()
	require.Error(t, err)
	assert.True(t, a.closed)
	assert.True(t, c.closed)
}

func TestNoLoaders(t *testing.T) {
	m := New()
	assert.Equal(t, 0, m.Len())
	require.NoError(t, m.LoadBatch(context.Background(), testBatch()))
	require.NoError(t, m.Close())
}
