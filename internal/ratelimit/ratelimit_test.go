package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bassline-events/mailroom-backend/pkg/config"
)

func testLimiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		MinInterval:            0,
		EmailHourly:            5,
		EmailDaily:             10,
		EmailWeekly:            30,
		EmailMonthly:           60,
		OriginHourly:           20,
		OriginDaily:            50,
		OriginWeekly:           150,
		OriginMonthly:          400,
		BlockDisposableDomains: true,
	}
}

func newTestLimiter(t *testing.T, cfg config.RateLimitConfig) *Limiter {
	t.Helper()
	limiter, err := NewLimiter(cfg, NewMemoryStore())
	require.NoError(t, err)
	return limiter
}

func TestHourlyLimitAllowsExactlyTheQuota(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.EmailHourly = 2
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		decision, err := limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d should pass", i+1)
	}

	decision, err := limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleEmailHourly, decision.Rule)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestMinimumIntervalPrecedesWindows(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.MinInterval = 300 * time.Second
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision, err := limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// 100s later: rejected on the interval even though every window has room
	decision, err = limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now.Add(100*time.Second))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleMinimumInterval, decision.Rule)
	assert.InDelta(t, 200, decision.RetryAfter.Seconds(), 1)

	// 301s later: allowed
	decision, err = limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now.Add(301*time.Second))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRejectedChecksDoNotConsumeQuota(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.MinInterval = 300 * time.Second
	cfg.EmailHourly = 2
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision, err := limiter.Check(ctx, "a@b.com", "", now)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	for i := 1; i <= 3; i++ {
		decision, err = limiter.Check(ctx, "a@b.com", "", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.False(t, decision.Allowed)
	}

	decision, err = limiter.Check(ctx, "a@b.com", "", now.Add(301*time.Second))
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "rejected attempts must not count toward the hourly window")
}

func TestEmailWindowsPrecedeOriginWindows(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.EmailHourly = 1
	cfg.OriginHourly = 1
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision, err := limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now)
	require.NoError(t, err)
	require.True(t, decision.Allowed)

	// both limits are simultaneously exhausted: the email rule wins
	decision, err = limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleEmailHourly, decision.Rule)
}

func TestOriginLimitAcrossEmails(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.OriginHourly = 2
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	emails := []string{"a@b.com", "c@d.com", "e@f.com"}
	for i, email := range emails[:2] {
		decision, err := limiter.Check(ctx, email, "ip:1.2.3.4", now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Check(ctx, emails[2], "ip:1.2.3.4", now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleOriginHourly, decision.Rule)
}

func TestDisposableDomainGate(t *testing.T) {
	limiter := newTestLimiter(t, testLimiterConfig())
	ctx := context.Background()
	now := time.Now().UTC()

	decision, err := limiter.Check(ctx, "user@mailinator.com", "ip:1.2.3.4", now)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RuleDisposableDomain, decision.Rule)

	cfg := testLimiterConfig()
	cfg.BlockDisposableDomains = false
	limiter = newTestLimiter(t, cfg)
	decision, err = limiter.Check(ctx, "user@mailinator.com", "ip:1.2.3.4", now)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "gate disabled by configuration")
}

func TestConcurrentChecksNeverOversubscribe(t *testing.T) {
	cfg := testLimiterConfig()
	cfg.EmailHourly = 3
	limiter := newTestLimiter(t, cfg)
	ctx := context.Background()
	now := time.Now().UTC()

	const attempts = 20
	var wg sync.WaitGroup
	allowed := make([]bool, attempts)
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			decision, err := limiter.Check(ctx, "a@b.com", "ip:1.2.3.4", now)
			allowed[idx] = decision.Allowed
			errs[idx] = err
		}(i)
	}
	wg.Wait()

	granted := 0
	for i := range allowed {
		require.NoError(t, errs[i])
		if allowed[i] {
			granted++
		}
	}
	assert.Equal(t, 3, granted, "exactly the hourly quota may pass under contention")
}

func TestLimiterValidation(t *testing.T) {
	limiter := newTestLimiter(t, testLimiterConfig())
	_, err := limiter.Check(context.Background(), "   ", "ip:1.2.3.4", time.Now().UTC())
	require.Error(t, err)
}

func TestRejectionError(t *testing.T) {
	err := RejectionError(Decision{Rule: RuleEmailHourly, RetryAfter: 90 * time.Second})
	assert.Contains(t, err.Error(), "hourly")
	details, ok := err.Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, RuleEmailHourly, details["rule"])
	assert.Equal(t, 90, details["retry_after_seconds"])
}
