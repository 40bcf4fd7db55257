package bridge

import (
	"sync"
	"time"
)

// HealthState is the coarse connection state shown to callers.
type HealthState string

const (
	HealthChecking  HealthState = "checking"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// Health is a snapshot of the connection to the worker.
type Health struct {
	State   HealthState `json:"state"`
	Message string      `json:"message"`
	Since   time.Time   `json:"since"`
}

// OK reports whether the handshake succeeded and the worker is still up.
func (h Health) OK() bool {
	return h.State == HealthHealthy
}

// healthCell holds the current Health. Writers are the handshake and the
// exit handler; epoch lets the handshake detect an exit that raced it.
type healthCell struct {
	mu    sync.RWMutex
	cur   Health
	epoch uint64
}

func newHealthCell() *healthCell {
	return &healthCell{cur: Health{
		State:   HealthChecking,
		Message: "Handshake not started",
		Since:   time.Now(),
	}}
}

func (c *healthCell) get() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

func (c *healthCell) currentEpoch() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

func (c *healthCell) set(state HealthState, msg string) Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = Health{State: state, Message: msg, Since: time.Now()}
	return c.cur
}

// exited marks the connection unhealthy and invalidates in-flight handshakes.
func (c *healthCell) exited(msg string) Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.cur = Health{State: HealthUnhealthy, Message: msg, Since: time.Now()}
	return c.cur
}

// setIf applies the update only if no exit happened since epoch was read.
func (c *healthCell) setIf(epoch uint64, state HealthState, msg string) (Health, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return c.cur, false
	}
	c.cur = Health{State: state, Message: msg, Since: time.Now()}
	return c.cur, true
}
