package sink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/evmscan/internal/decoder"
)

type countingSink struct {
	failUntil int
	calls     int
}

func (c *countingSink) Write(decoder.Event) error {
	c.calls++
	if c.calls <= c.failUntil {
		return errors.New("transient failure")
	}
	return nil
}

func TestRetrySinkSucceedsWithinBudget(t *testing.T) {
	inner := &countingSink{failUntil: 2}
	rs := NewRetrySink(inner, 3, 1)

	err := rs.Write(decoder.Event{})
	require.NoError(t, err)
	require.Equal(t, 3, inner.calls)
}

func TestRetrySinkPropagatesLastErrorWhenBudgetExhausted(t *testing.T) {
	inner := &countingSink{failUntil: 5}
	rs := NewRetrySink(inner, 2, 1)

	err := rs.Write(decoder.Event{})
	require.Error(t, err)
	require.Equal(t, 2, inner.calls)
}

func TestNewRetrySinkDefaultsInvalidAttempts(t *testing.T) {
	inner := &countingSink{}
	rs := NewRetrySink(inner, 0, 0)

	err := rs.Write(decoder.Event{})
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
}

func TestNewRetrySinkNilInnerReturnsNil(t *testing.T) {
	require.Nil(t, NewRetrySink(nil, 3, 1))
}
