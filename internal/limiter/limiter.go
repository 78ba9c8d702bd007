// Package limiter paces outgoing requests per service: a single-permit rate
// guard that refills after a fixed delay, plus a cap on open connections.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxConnections caps concurrent requests per service.
const DefaultMaxConnections = 5

// guards is the per-service pair: request pacing and open-connection cap.
type guards struct {
	rate  *rate.Limiter
	conns chan struct{}
}

// Limiter hands out permits per service host. Hosts not registered at
// construction share a default guard pair.
type Limiter struct {
	delay    time.Duration
	maxConns int

	mu       sync.Mutex
	services map[string]*guards
	fallback *guards
}

// New creates a limiter for the given service hosts. A zero delay disables
// all pacing and connection capping.
func New(delay time.Duration, maxConns int, hosts ...string) *Limiter {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}

	l := &Limiter{
		delay:    delay,
		maxConns: maxConns,
		services: make(map[string]*guards, len(hosts)),
	}
	if delay == 0 {
		return l
	}

	for _, host := range hosts {
		l.services[host] = l.newGuards()
	}
	l.fallback = l.newGuards()
	return l
}

func (l *Limiter) newGuards() *guards {
	return &guards{
		rate:  rate.NewLimiter(rate.Every(l.delay), 1),
		conns: make(chan struct{}, l.maxConns),
	}
}

// Acquire blocks until a connection slot and a rate permit are available for
// the service. The returned release frees the connection slot and must be
// called once the request completes; the rate permit refills on its own.
func (l *Limiter) Acquire(ctx context.Context, service string) (release func(), err error) {
	if l.delay == 0 {
		return func() {}, nil
	}

	g := l.guardsFor(service)

	select {
	case g.conns <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := g.rate.Wait(ctx); err != nil {
		<-g.conns
		return nil, err
	}

	return func() { <-g.conns }, nil
}

func (l *Limiter) guardsFor(service string) *guards {
	l.mu.Lock()
	defer l.mu.Unlock()
	if g, ok := l.services[service]; ok {
		return g
	}
	return l.fallback
}
