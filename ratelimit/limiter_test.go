package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/farescout/farescout/core"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg Config, clock *fakeClock, opts ...Option) *Limiter {
	t.Helper()
	opts = append(opts, withClock(clock.Now))
	l, err := NewLimiter(cfg, opts...)
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	return l
}

func TestBurstThenRefusal(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 1,
		BurstLimit:        3,
		RequestsPerMinute: 100,
	}, clock)

	// The burst budget admits the first three back-to-back; each admission
	// spends one token.
	for i := 0; i < 3; i++ {
		allowed, _, reason := l.CanMakeRequest("flytoday")
		if !allowed {
			t.Fatalf("request %d refused by %s, want admitted", i, reason)
		}
		l.RecordRequest("flytoday", 100*time.Millisecond, nil)
	}

	allowed, wait, reason := l.CanMakeRequest("flytoday")
	if allowed {
		t.Fatal("fourth immediate request should be refused")
	}
	if reason != "bucket" {
		t.Errorf("refusal reason = %s, want bucket", reason)
	}
	if wait <= 0 {
		t.Errorf("refusal should carry a positive wait, got %v", wait)
	}
}

func TestAdmissionConsumesBudget(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 1,
		BurstLimit:        1,
		RequestsPerMinute: 100,
		CooldownPeriod:    time.Minute,
	}, clock)

	// One token of burst: the first check admits and spends it, the second
	// is refused with the refill wait even though nothing was reported yet.
	allowed, _, _ := l.CanMakeRequest("flytoday")
	if !allowed {
		t.Fatal("first check should be admitted")
	}
	allowed, wait, reason := l.CanMakeRequest("flytoday")
	if allowed {
		t.Fatal("second immediate check should be refused")
	}
	if reason != "bucket" {
		t.Errorf("refusal reason = %s, want bucket", reason)
	}
	if wait < time.Second {
		t.Errorf("refill wait = %v, want at least 1s", wait)
	}

	// A rate-limit failure report escalates the answer to the cooldown.
	rateErr := core.NewCrawlError("session.Navigate", "flytoday", core.CategoryRateLimit, core.ErrRateLimited)
	l.RecordRequest("flytoday", time.Second, rateErr)
	allowed, wait, reason = l.CanMakeRequest("flytoday")
	if allowed || reason != "cooldown" {
		t.Fatalf("third check: allowed=%v reason=%s, want cooldown refusal", allowed, reason)
	}
	if wait < 59*time.Second {
		t.Errorf("cooldown wait = %v, want near 1m", wait)
	}
}

func TestRefusedCheckDoesNotConsume(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 1,
		BurstLimit:        1,
		RequestsPerMinute: 100,
	}, clock)

	if allowed, _, _ := l.CanMakeRequest("flytoday"); !allowed {
		t.Fatal("first check should be admitted")
	}
	// Refused checks cancel their reservation, so one refill is enough to
	// admit again; repeated refusals must not push the wait further out.
	for i := 0; i < 5; i++ {
		if allowed, _, _ := l.CanMakeRequest("flytoday"); allowed {
			t.Fatalf("check %d admitted without budget", i)
		}
	}
	clock.Advance(time.Second)
	if allowed, _, _ := l.CanMakeRequest("flytoday"); !allowed {
		t.Error("one refill interval should admit the next request")
	}
}

func TestMinuteWindowCap(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 100,
		BurstLimit:        100,
		RequestsPerMinute: 5,
	}, clock)

	for i := 0; i < 5; i++ {
		l.RecordRequest("alibaba", time.Millisecond, nil)
		clock.Advance(time.Second)
	}

	allowed, wait, reason := l.CanMakeRequest("alibaba")
	if allowed {
		t.Fatal("sixth request inside the window should be refused")
	}
	if reason != "window" {
		t.Errorf("refusal reason = %s, want window", reason)
	}
	if wait <= 0 || wait > time.Minute {
		t.Errorf("unexpected wait %v", wait)
	}

	// Once the oldest stamps age out the window admits again.
	clock.Advance(time.Minute)
	allowed, _, _ = l.CanMakeRequest("alibaba")
	if !allowed {
		t.Error("request after window expiry should be admitted")
	}
}

func TestRateLimitFailureStartsCooldown(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 10,
		BurstLimit:        10,
		RequestsPerMinute: 100,
		CooldownPeriod:    5 * time.Minute,
	}, clock)

	err := core.NewCrawlError("session.Navigate", "flytoday", core.CategoryRateLimit, core.ErrRateLimited)
	l.RecordRequest("flytoday", time.Second, err)

	allowed, wait, reason := l.CanMakeRequest("flytoday")
	if allowed {
		t.Fatal("site in cooldown should refuse")
	}
	if reason != "cooldown" {
		t.Errorf("refusal reason = %s, want cooldown", reason)
	}
	if wait < 4*time.Minute {
		t.Errorf("cooldown wait %v, want near 5m", wait)
	}

	// Other sites are unaffected.
	if allowed, _, _ := l.CanMakeRequest("alibaba"); !allowed {
		t.Error("cooldown must not leak across sites")
	}

	clock.Advance(5*time.Minute + time.Second)
	if allowed, _, _ := l.CanMakeRequest("flytoday"); !allowed {
		t.Error("site should admit again after the cooldown expires")
	}
}

func TestNonRateLimitFailureNoCooldown(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 10,
		BurstLimit:        10,
		RequestsPerMinute: 100,
	}, clock)

	err := core.NewCrawlError("session.Navigate", "flytoday", core.CategoryNetwork, core.ErrConnectionFailed)
	l.RecordRequest("flytoday", time.Second, err)

	if allowed, _, reason := l.CanMakeRequest("flytoday"); !allowed {
		t.Errorf("network failure should not start cooldown, refused by %s", reason)
	}
}

func TestSnapshot(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 10,
		BurstLimit:        10,
		RequestsPerMinute: 10,
	}, clock)

	l.RecordRequest("flytoday", time.Millisecond, nil)
	l.RecordRequest("flytoday", time.Millisecond, nil)

	state := l.Snapshot("flytoday")
	if state.Used != 2 || state.Remaining != 8 || state.Limit != 10 {
		t.Errorf("snapshot = %+v", state)
	}
	if !state.CooldownUntil.IsZero() {
		t.Errorf("no cooldown expected, got %v", state.CooldownUntil)
	}

	l.StartCooldown("flytoday")
	state = l.Snapshot("flytoday")
	if state.CooldownUntil.IsZero() {
		t.Error("snapshot should expose the cooldown deadline")
	}
}

func TestCooldownPersistedAndRestored(t *testing.T) {
	clock := newFakeClock()
	store := core.NewMemoryStore()

	l := newTestLimiter(t, Config{
		RequestsPerSecond: 10,
		BurstLimit:        10,
		RequestsPerMinute: 100,
		CooldownPeriod:    10 * time.Minute,
	}, clock, WithStateStore(store))
	l.StartCooldown("flytoday")

	// A fresh limiter over the same store sees the cooldown.
	l2 := newTestLimiter(t, Config{
		RequestsPerSecond: 10,
		BurstLimit:        10,
		RequestsPerMinute: 100,
	}, clock, WithStateStore(store))

	allowed, _, reason := l2.CanMakeRequest("flytoday")
	if allowed || reason != "cooldown" {
		t.Errorf("restored limiter should refuse by cooldown, got allowed=%v reason=%s", allowed, reason)
	}
}

func TestWaitRespectsContextBudget(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(t, Config{
		RequestsPerSecond: 10,
		BurstLimit:        10,
		RequestsPerMinute: 100,
		CooldownPeriod:    10 * time.Minute,
	}, clock)
	l.StartCooldown("flytoday")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Wait(ctx, "flytoday")
	if err == nil {
		t.Fatal("wait longer than the context budget should fail fast")
	}
	if !core.IsRateLimited(err) {
		t.Errorf("expected a rate_limit error, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{RequestsPerSecond: 2, BurstLimit: 5}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if cfg.RequestsPerMinute != 120 {
		t.Errorf("requests_per_minute should default to 60*rps, got %d", cfg.RequestsPerMinute)
	}
	if cfg.CooldownPeriod != 5*time.Minute {
		t.Errorf("cooldown should default to 5m, got %v", cfg.CooldownPeriod)
	}

	bad := Config{RequestsPerSecond: 0, BurstLimit: 1}
	if err := bad.Validate(); err == nil {
		t.Error("zero rps should be rejected")
	}
}
