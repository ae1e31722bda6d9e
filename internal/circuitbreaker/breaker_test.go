package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterThresholdFailures(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 5 && c.FailureRatio() > 0.5
		},
	})

	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(failing)
	}

	assert.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitHalfOpensAfterTimeoutAndCloses(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool {
			return c.Requests >= 1 && c.FailureRatio() > 0
		},
	})

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	result, err := cb.Execute(func() (interface{}, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, cb.State())
}

func TestProviderBreakersKeyedPerProvider(t *testing.T) {
	pb := NewProviderBreakers(0.5, 20, 30*time.Second)

	a := pb.For("openai")
	b := pb.For("anthropic")
	again := pb.For("openai")

	assert.Same(t, a, again)
	assert.NotSame(t, a, b)

	status, detail := pb.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
	assert.Contains(t, detail, "openai")
	assert.Contains(t, detail, "anthropic")
}

func TestExecuteWithFallbackInvokedWhenCircuitOpen(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.Requests >= 1 },
	})
	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	require.Equal(t, StateOpen, cb.State())

	result, err := ExecuteWithFallback(cb,
		func() (string, error) { return "primary", nil },
		func(err error) (string, error) { return "fallback", nil },
	)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result)
}

func TestManagerGetIsIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig(""))
	a := m.Get("svc-a")
	b := m.Get("svc-a")
	assert.Same(t, a, b)
	assert.ElementsMatch(t, []string{"svc-a"}, m.List())

	m.Remove("svc-a")
	assert.Empty(t, m.List())
}
