package pool

import (
	"container/list"
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/valyala/fastrand"
)

const (
	dialBackoffBase = 200 * time.Millisecond
	dialBackoffCap  = 10 * time.Second
)

// Pool is a round-robin dispatcher over a deque of Conn, dialing a new
// one on demand and discarding any that cannot accept another stream —
// the Go translation of the spec's ClientPool / H2ClientPool. A Pool is
// safe for concurrent use.
type Pool struct {
	addr string
	tls  *tls.Config
	log  *logrus.Logger

	pingInterval time.Duration
	dialTimeout  time.Duration

	mu    sync.Mutex
	conns *list.List // of *Conn

	backoffMu   sync.Mutex
	failures    int
	nextDialAt  time.Time
}

// Options configures New.
type Options struct {
	TLSConfig    *tls.Config
	PingInterval time.Duration
	DialTimeout  time.Duration
	Log          *logrus.Logger
}

// New returns a Pool that dials addr on demand. It does not dial
// eagerly; the first Get call performs the first handshake.
func New(addr string, opts Options) *Pool {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Pool{
		addr:         addr,
		tls:          opts.TLSConfig,
		log:          log,
		pingInterval: opts.PingInterval,
		dialTimeout:  opts.DialTimeout,
		conns:        list.New(),
	}
}

// Get returns a Conn with available stream capacity, dialing a new one
// if the pool is empty or every pooled connection is saturated or dead.
// Ready connections are moved to the back of the deque so dispatch
// round-robins across them, matching pop()'s pop-front/push-back cycle
// in the pool this is grounded on.
func (p *Pool) Get(ctx context.Context) (*Conn, error) {
	for {
		p.mu.Lock()
		for n := p.conns.Len(); n > 0; n-- {
			e := p.conns.Front()
			c := e.Value.(*Conn)
			p.conns.Remove(e)
			if c.Closed() {
				continue
			}
			if c.CanOpenStream() {
				p.conns.PushBack(c)
				p.mu.Unlock()
				return c, nil
			}
			// Not ready right now but still alive: keep it in the
			// pool for a later Get, and keep scanning for another
			// candidate instead of dialing unnecessarily.
			p.conns.PushBack(c)
		}
		p.mu.Unlock()

		if err := p.waitDialBackoff(ctx); err != nil {
			return nil, err
		}

		c, err := p.dial(ctx)
		if err != nil {
			p.recordDialFailure()
			return nil, err
		}
		p.recordDialSuccess()

		p.mu.Lock()
		p.conns.PushBack(c)
		p.mu.Unlock()

		return c, nil
	}
}

func (p *Pool) dial(ctx context.Context) (*Conn, error) {
	c, err := Dial(ctx, p.addr, DialOpts{
		TLSConfig:    p.tls,
		PingInterval: p.pingInterval,
		DialTimeout:  p.dialTimeout,
		Log:          p.log,
	})
	if err != nil {
		return nil, fmt.Errorf("plasmodesmata/pool: %w", err)
	}
	c.onClose = p.forget
	return c, nil
}

func (p *Pool) forget(dead *Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.conns.Front(); e != nil; e = e.Next() {
		if e.Value.(*Conn) == dead {
			p.conns.Remove(e)
			return
		}
	}
}

// recordDialFailure/recordDialSuccess maintain the jittered backoff new
// to this implementation (DialBackoff in SPEC_FULL.md §3): a failed dial
// spaces out the next attempt so a dead remote doesn't get hammered by
// every incoming connection racing to dial.
func (p *Pool) recordDialFailure() {
	p.backoffMu.Lock()
	defer p.backoffMu.Unlock()
	p.failures++
	delay := dialBackoffBase * time.Duration(1<<uint(min(p.failures, 6)))
	if delay > dialBackoffCap {
		delay = dialBackoffCap
	}
	jitter := time.Duration(fastrand.Uint32n(uint32(delay / 4)))
	p.nextDialAt = time.Now().Add(delay + jitter)
}

func (p *Pool) recordDialSuccess() {
	p.backoffMu.Lock()
	defer p.backoffMu.Unlock()
	p.failures = 0
	p.nextDialAt = time.Time{}
}

func (p *Pool) waitDialBackoff(ctx context.Context) error {
	p.backoffMu.Lock()
	wait := time.Until(p.nextDialAt)
	p.backoffMu.Unlock()
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close retires every pooled connection.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for e := p.conns.Front(); e != nil; e = e.Next() {
		e.Value.(*Conn).Close()
	}
	p.conns.Init()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
