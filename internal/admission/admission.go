// Package admission gates how many batch requests may be processed at once.
package admission

import (
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/batch-crawler/internal/metrics"
)

// ErrCapacityExceeded is returned when every admission slot is taken.
var ErrCapacityExceeded = errors.New("admission capacity exceeded")

// Controller holds a fixed number of request slots shared by the process.
type Controller struct {
	mu       sync.Mutex
	capacity int
	inFlight int
}

// New constructs a Controller with the given capacity.
func New(capacity int) (*Controller, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("admission capacity must be >= 1, got %d", capacity)
	}
	return &Controller{capacity: capacity}, nil
}

// TryAcquire takes a slot if one is free. When the controller is full it
// returns ErrCapacityExceeded and leaves the in-flight count untouched.
func (c *Controller) TryAcquire() (*Permit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight >= c.capacity {
		metrics.ObserveAdmissionRejected()
		return nil, ErrCapacityExceeded
	}
	c.inFlight++
	metrics.SetAdmissionInFlight(c.inFlight)
	return &Permit{controller: c}, nil
}

// InFlight reports how many permits are currently held.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Capacity reports the configured slot count.
func (c *Controller) Capacity() int {
	return c.capacity
}

func (c *Controller) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--
	metrics.SetAdmissionInFlight(c.inFlight)
}

// Permit is one held admission slot. Callers defer Release right after a
// successful TryAcquire.
type Permit struct {
	controller *Controller
	once       sync.Once
}

// Release returns the slot. Only the first call has an effect.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.controller.release)
}
