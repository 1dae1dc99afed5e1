package aws

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Circuit breaker states, one per AWS stage (Translate, Polly) a node
// worker drives.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreaker guards one AWS stage call (Translate.Translate,
// Polly.SynthesizeSpeech) so a string of upstream failures stops hammering
// the service and instead fails fast until a cooldown elapses, at which
// point a limited number of half-open probes decide whether to close
// again or re-open.
type CircuitBreaker struct {
	name             string
	state            string
	failureCount     int
	successCount     int
	failureThreshold int
	successThreshold int
	cooldownPeriod   time.Duration
	openTime         time.Time
	halfOpenRequests int
	maxHalfOpen      int
	mu               sync.RWMutex
	log              *zap.Logger

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	CooldownPeriod   time.Duration
	MaxHalfOpen      int
}

func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 3,
		CooldownPeriod:   30 * time.Second,
		MaxHalfOpen:      1,
	}
}

func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig("default")
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldownPeriod:   cfg.CooldownPeriod,
		maxHalfOpen:      cfg.MaxHalfOpen,
		log:              zap.NewNop(),
	}
}

// WithLogger attaches a logger that gets one Warn/Info line per state
// transition, so an operator can tell "translate has been open for two
// minutes" apart from a single blip in the node's structured logs.
func (cb *CircuitBreaker) WithLogger(log *zap.Logger) *CircuitBreaker {
	if log != nil {
		cb.log = log
	}
	return cb
}

// Execute runs fn under the breaker's current state, recording the
// outcome against the failure/success counters that drive transitions.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	allowed := cb.allowRequestLocked()
	if !allowed {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}

	cb.totalRequests++
	wasHalfOpen := cb.state == StateHalfOpen
	if wasHalfOpen {
		cb.halfOpenRequests++
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if wasHalfOpen && cb.state == StateHalfOpen {
		cb.halfOpenRequests--
	}

	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) allowRequestLocked() bool {
	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openTime) > cb.cooldownPeriod {
			cb.state = StateHalfOpen
			cb.halfOpenRequests = 0
			cb.successCount = 0
			cb.log.Info("circuit breaker entering half-open", zap.String("breaker", cb.name))
			return true
		}
		return false

	case StateHalfOpen:
		return cb.halfOpenRequests < cb.maxHalfOpen

	default:
		return true
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures++
	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.tripBreaker()
		}

	case StateHalfOpen:
		cb.tripBreaker()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.totalSuccesses++
	cb.successCount++
	cb.lastSuccessTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.reset()
		}
	}
}

func (cb *CircuitBreaker) tripBreaker() {
	cb.state = StateOpen
	cb.openTime = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
	cb.log.Warn("circuit breaker open",
		zap.String("breaker", cb.name),
		zap.Duration("cooldown", cb.cooldownPeriod),
		zap.Int64("total_failures", cb.totalFailures))
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
	cb.log.Info("circuit breaker closed", zap.String("breaker", cb.name))
}

func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Stats reports the breaker's state and counters as a map.
func (cb *CircuitBreaker) Stats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"name":            cb.name,
		"state":           cb.state,
		"totalRequests":   cb.totalRequests,
		"totalFailures":   cb.totalFailures,
		"totalSuccesses":  cb.totalSuccesses,
		"failureCount":    cb.failureCount,
		"successCount":    cb.successCount,
		"lastFailureTime": cb.lastFailureTime,
		"lastSuccessTime": cb.lastSuccessTime,
	}
}

// ForceOpen trips the breaker regardless of its failure counter, used to
// hand-drain a node off an AWS stage the operator knows is degraded.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripBreaker()
}

// ForceClose clears the breaker back to closed, used after an operator
// confirms the upstream AWS stage has recovered.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
}
