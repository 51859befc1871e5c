package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/bassline-events/mailroom-backend/pkg/config"
	pkgerrors "github.com/bassline-events/mailroom-backend/pkg/errors"
)

// Rule names surfaced in rejection reasons.
const (
	RuleDisposableDomain = "disposable_domain"
	RuleMinimumInterval  = "minimum_interval"
	RuleEmailHourly      = "email_hourly"
	RuleEmailDaily       = "email_daily"
	RuleEmailWeekly      = "email_weekly"
	RuleEmailMonthly     = "email_monthly"
	RuleOriginHourly     = "origin_hourly"
	RuleOriginDaily      = "origin_daily"
	RuleOriginWeekly     = "origin_weekly"
	RuleOriginMonthly    = "origin_monthly"
)

// Decision is the outcome of one limiter check.
type Decision struct {
	Allowed    bool
	Rule       string
	RetryAfter time.Duration
}

// windowRule is one (key, window, limit) constraint evaluated by a store.
type windowRule struct {
	Name  string
	Key   string
	Span  time.Duration
	Limit int64
}

// Request carries everything a store needs to atomically evaluate and record
// one qualifying event.
type Request struct {
	EmailKey    string
	OriginKey   string
	MinInterval time.Duration
	Rules       []windowRule
	Retention   time.Duration
}

// Store atomically evaluates the rules against its event history and, only
// when every rule passes, records the event. Violation returns identify the
// first rule hit in request order.
type Store interface {
	Reserve(ctx context.Context, req Request, now time.Time) (Decision, error)
}

// Limiter applies the multi-window quota policy ahead of code issuance and
// notification enqueues.
type Limiter struct {
	cfg       config.RateLimitConfig
	store     Store
	blocklist map[string]struct{}
}

// NewLimiter wires the limiter over the given store.
func NewLimiter(cfg config.RateLimitConfig, store Store) (*Limiter, error) {
	if store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "rate limit store required")
	}
	return &Limiter{
		cfg:       cfg,
		store:     store,
		blocklist: disposableDomains(),
	}, nil
}

// Check evaluates every configured rule for (email, origin) and records the
// event when allowed. The evaluation order is fixed: disposable-domain gate,
// minimum interval, email windows shortest to longest, then origin windows
// shortest to longest.
func (l *Limiter) Check(ctx context.Context, email, origin string, now time.Time) (Decision, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return Decision{}, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}
	origin = strings.TrimSpace(origin)

	if l.cfg.BlockDisposableDomains && l.isDisposable(email) {
		return Decision{Allowed: false, Rule: RuleDisposableDomain}, nil
	}

	req := Request{
		EmailKey:    "email:" + email,
		OriginKey:   "origin:" + origin,
		MinInterval: l.cfg.MinInterval,
		Rules:       l.rules(email, origin),
		Retention:   31 * 24 * time.Hour,
	}

	decision, err := l.store.Reserve(ctx, req, now)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limit store")
	}
	return decision, nil
}

func (l *Limiter) rules(email, origin string) []windowRule {
	emailKey := "email:" + email
	originKey := "origin:" + origin

	rules := make([]windowRule, 0, 8)
	appendRule := func(name, key string, span time.Duration, limit int) {
		if limit > 0 {
			rules = append(rules, windowRule{Name: name, Key: key, Span: span, Limit: int64(limit)})
		}
	}

	appendRule(RuleEmailHourly, emailKey, time.Hour, l.cfg.EmailHourly)
	appendRule(RuleEmailDaily, emailKey, 24*time.Hour, l.cfg.EmailDaily)
	appendRule(RuleEmailWeekly, emailKey, 7*24*time.Hour, l.cfg.EmailWeekly)
	appendRule(RuleEmailMonthly, emailKey, 30*24*time.Hour, l.cfg.EmailMonthly)

	if origin != "" {
		appendRule(RuleOriginHourly, originKey, time.Hour, l.cfg.OriginHourly)
		appendRule(RuleOriginDaily, originKey, 24*time.Hour, l.cfg.OriginDaily)
		appendRule(RuleOriginWeekly, originKey, 7*24*time.Hour, l.cfg.OriginWeekly)
		appendRule(RuleOriginMonthly, originKey, 30*24*time.Hour, l.cfg.OriginMonthly)
	}
	return rules
}

func (l *Limiter) isDisposable(email string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	_, blocked := l.blocklist[domain]
	return blocked
}

// RejectionError builds the caller-facing error for a denied decision.
func RejectionError(decision Decision) *pkgerrors.Error {
	details := map[string]any{"rule": decision.Rule}
	if decision.RetryAfter > 0 {
		details["retry_after_seconds"] = int(decision.RetryAfter.Seconds() + 0.5)
	}
	return pkgerrors.New(pkgerrors.CodeRateLimited, rejectionMessage(decision.Rule)).WithDetails(details)
}

func rejectionMessage(rule string) string {
	switch rule {
	case RuleDisposableDomain:
		return "disposable email domains are not allowed"
	case RuleMinimumInterval:
		return "please wait before requesting another message"
	case RuleEmailHourly, RuleOriginHourly:
		return "hourly limit reached"
	case RuleEmailDaily, RuleOriginDaily:
		return "daily limit reached"
	case RuleEmailWeekly, RuleOriginWeekly:
		return "weekly limit reached"
	case RuleEmailMonthly, RuleOriginMonthly:
		return "monthly limit reached"
	default:
		return "rate limit exceeded"
	}
}
