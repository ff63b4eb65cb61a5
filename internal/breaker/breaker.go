// Package breaker implements a circuit breaker guarding outbound calls to a
// named dependency, plus a registry so callers share breaker state per name.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// ErrOpen is returned without invoking the protected call while the breaker
// is open. Callers treat it as "dependency unavailable" and fall back where
// they can.
var ErrOpen = errors.New("circuit breaker open")

type Config struct {
	FailureThreshold int           // consecutive failures before opening
	SuccessThreshold int           // consecutive half-open successes before closing
	Timeout          time.Duration // open -> half-open cooldown
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// StateChangeFunc observes transitions for telemetry.
type StateChangeFunc func(name string, from, to State)

type Breaker struct {
	name string
	cfg  Config

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time

	now      func() time.Time
	onChange StateChangeFunc
}

func New(name string, cfg Config, onChange StateChangeFunc) *Breaker {
	return &Breaker{
		name:     name,
		cfg:      cfg.withDefaults(),
		state:    StateClosed,
		now:      time.Now,
		onChange: onChange,
	}
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, applying the lazy open->half-open
// transition if the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	return b.state
}

// Execute runs fn under the breaker's admission rules. While open it returns
// ErrOpen immediately; otherwise fn's error feeds the failure counters.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.allow(); err != nil {
		return err
	}
	err := fn()
	b.record(err == nil)
	return err
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpenLocked()
	if b.state == StateOpen {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if success {
		b.onSuccessLocked()
	} else {
		b.onFailureLocked()
	}
}

func (b *Breaker) maybeHalfOpenLocked() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.cfg.Timeout {
		b.transitionLocked(StateHalfOpen)
		b.successes = 0
	}
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.transitionLocked(StateClosed)
			b.failures = 0
			b.successes = 0
		}
	}
}

func (b *Breaker) onFailureLocked() {
	b.lastFailure = b.now()
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
		b.successes = 0
	}
}

// Reset forces the breaker closed; exposed for operator action.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
	b.failures = 0
	b.successes = 0
}

func (b *Breaker) transitionLocked(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// Registry hands out one shared breaker per dependency name. It is built at
// startup and injected; there is no package-level instance.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	onChange StateChangeFunc
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config, onChange StateChangeFunc) *Registry {
	return &Registry{cfg: cfg, onChange: onChange, breakers: make(map[string]*Breaker)}
}

func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.cfg, r.onChange)
	r.breakers[name] = b
	return b
}
