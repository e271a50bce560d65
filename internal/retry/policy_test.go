package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/prebake/internal/config"
)

func TestFromConfig(t *testing.T) {
	p := FromConfig(config.CleanupConfig{})
	assert.Equal(t, DefaultPolicy(), p)

	p = FromConfig(config.CleanupConfig{Backoff: config.RetryBackoffFixed, Retries: 5, InitialDelay: 5 * time.Second, MaxDelay: 2 * time.Second})
	assert.Equal(t, config.RetryBackoffFixed, p.Backoff)
	assert.Equal(t, 5, p.Retries)
	assert.Equal(t, 2*time.Second, p.Initial, "initial is clamped to max")

	p = FromConfig(config.CleanupConfig{Backoff: "weird"})
	assert.Equal(t, config.RetryBackoffLinear, p.Backoff)
}

func TestDelay(t *testing.T) {
	cases := []struct {
		backoff config.RetryBackoffMode
		n       int
		want    time.Duration
	}{
		{config.RetryBackoffFixed, 3, 100 * time.Millisecond},
		{config.RetryBackoffLinear, 2, 200 * time.Millisecond},
		{config.RetryBackoffLinear, 4, 250 * time.Millisecond},
		{config.RetryBackoffExponential, 2, 200 * time.Millisecond},
		{config.RetryBackoffExponential, 3, 250 * time.Millisecond},
		{config.RetryBackoffExponential, 200, 250 * time.Millisecond},
		{config.RetryBackoffLinear, 0, 0},
		{config.RetryBackoffLinear, -1, 0},
	}
	for _, c := range cases {
		p := Policy{Backoff: c.backoff, Initial: 100 * time.Millisecond, Max: 250 * time.Millisecond, Retries: 5}
		assert.Equal(t, c.want, p.Delay(c.n), "%s retry %d", c.backoff, c.n)
	}
}

func TestValidate(t *testing.T) {
	bad := []Policy{
		{Backoff: config.RetryBackoffLinear, Initial: 0, Max: time.Second},
		{Backoff: config.RetryBackoffLinear, Initial: time.Second, Max: 0},
		{Backoff: config.RetryBackoffLinear, Initial: time.Second, Max: time.Second, Retries: -1},
	}
	for i, p := range bad {
		assert.Error(t, p.Validate(), "case %d", i)
	}
	assert.NoError(t, DefaultPolicy().Validate())
}

func TestDo(t *testing.T) {
	p := Policy{Backoff: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, Retries: 3}
	calls := 0
	err := p.Do(t.Context(), func() error {
		calls++
		if calls < 3 {
			return errors.New("busy")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = p.Do(t.Context(), func() error { calls++; return errors.New("busy") })
	require.Error(t, err)
	assert.Equal(t, 4, calls)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	slow := Policy{Backoff: config.RetryBackoffFixed, Initial: time.Hour, Max: time.Hour, Retries: 1}
	err = slow.Do(ctx, func() error { return errors.New("busy") })
	assert.ErrorIs(t, err, context.Canceled)
}
