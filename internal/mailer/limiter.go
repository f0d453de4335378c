package mailer

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Per-second send rates for large mailbox providers. They throttle
// aggressively on bursts from a single sender.
var providerRates = map[string]rate.Limit{
	"gmail.com":      2,
	"googlemail.com": 2,
	"outlook.com":    1,
	"hotmail.com":    1,
	"live.com":       1,
	"yahoo.com":      1,
	"mail.ru":        1,
	"yandex.ru":      2,
	"icloud.com":     1,
}

// DomainLimiter paces deliveries per recipient domain inside one worker.
type DomainLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	fallback rate.Limit
}

func NewDomainLimiter(fallback rate.Limit) *DomainLimiter {
	if fallback <= 0 {
		fallback = 5
	}
	return &DomainLimiter{
		limiters: make(map[string]*rate.Limiter),
		fallback: fallback,
	}
}

func (d *DomainLimiter) limiter(domain string) *rate.Limiter {
	domain = strings.ToLower(domain)

	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.limiters[domain]; ok {
		return l
	}
	r, ok := providerRates[domain]
	if !ok {
		r = d.fallback
	}
	burst := int(r)
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(r, burst)
	d.limiters[domain] = l
	return l
}

// Wait blocks until a send to domain is allowed or ctx is done.
func (d *DomainLimiter) Wait(ctx context.Context, domain string) error {
	return d.limiter(domain).Wait(ctx)
}

func (d *DomainLimiter) Allow(domain string) bool {
	return d.limiter(domain).Allow()
}
