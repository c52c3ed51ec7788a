// Package security counts failed or throttled auth events per client and
// flags bursts that deserve an operator's attention.
package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithTTL increments KEYS[1], arming its expiry on first use.
var incrWithTTL = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Rule is the threshold for one event kind within a fixed window.
type Rule struct {
	Threshold int64
	Window    time.Duration
}

// failureRules apply to outcome "fail"; throttled applies to any event whose
// outcome is "rate_limited".
var (
	failureRules = map[string]Rule{
		"auth.login":      {Threshold: 10, Window: 5 * time.Minute},
		"auth.register":   {Threshold: 10, Window: 5 * time.Minute},
		"auth.logout":     {Threshold: 15, Window: 5 * time.Minute},
		"auth.authorize":  {Threshold: 25, Window: 5 * time.Minute},
		"users.authorize": {Threshold: 25, Window: 5 * time.Minute},
	}
	throttled = Rule{Threshold: 20, Window: time.Minute}
)

// AlertResult reports the counter after one observation.
type AlertResult struct {
	Triggered bool
	Count     int64
	Threshold int64
	Window    time.Duration
}

// AuditAlerter keeps its counters in Redis so every auth replica shares them.
type AuditAlerter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewAuditAlerter returns nil without a client; a nil alerter observes nothing.
func NewAuditAlerter(client *redis.Client, prefix string) *AuditAlerter {
	if client == nil {
		return nil
	}
	if prefix = strings.TrimSpace(prefix); prefix == "" {
		prefix = "edgepress:auth:alerts"
	}
	return &AuditAlerter{client: client, prefix: prefix, now: time.Now}
}

// Observe counts the event for ip when a rule covers it.
func (a *AuditAlerter) Observe(ctx context.Context, event, outcome, ip string) (AlertResult, error) {
	if a == nil {
		return AlertResult{}, nil
	}
	rule, ok := ruleFor(strings.TrimSpace(event), strings.TrimSpace(outcome))
	if !ok {
		return AlertResult{}, nil
	}
	window := rule.Window.Milliseconds()
	bucket := a.now().UnixMilli() / window
	key := fmt.Sprintf("%s:%s:%s:%s:%d", a.prefix, sanitizeSegment(event), sanitizeSegment(outcome), sanitizeSegment(ip), bucket)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := incrWithTTL.Run(ctx, a.client, []string{key}, window).Int64()
	if err != nil {
		return AlertResult{}, fmt.Errorf("alert counter: %w", err)
	}
	return AlertResult{
		Triggered: n >= rule.Threshold,
		Count:     n,
		Threshold: rule.Threshold,
		Window:    rule.Window,
	}, nil
}

func ruleFor(event, outcome string) (Rule, bool) {
	switch outcome {
	case "rate_limited":
		return throttled, true
	case "fail":
		rule, ok := failureRules[event]
		return rule, ok
	default:
		return Rule{}, false
	}
}

// sanitizeSegment keeps key separators out of caller-supplied values.
func sanitizeSegment(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', '|', ' ', '{', '}':
			return '_'
		}
		return r
	}, in)
}
