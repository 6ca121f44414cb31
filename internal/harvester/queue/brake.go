package queue

import (
	"sync"
	"sync/atomic"
)

// EmergencyBrake is a set-once cancellation signal shared by the producer and all workers. It is cooperative:
// holders check Pulled (or select on Done) between units of work.
type EmergencyBrake struct {
	pulled atomic.Bool
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	cause  error
}

func NewEmergencyBrake() *EmergencyBrake {
	return &EmergencyBrake{done: make(chan struct{})}
}

// Pull sets the brake. Only the first cause is kept; later pulls are no-ops. It reports whether this call was the
// one that set the brake.
func (b *EmergencyBrake) Pull(cause error) bool {
	pulledNow := false
	b.once.Do(func() {
		b.mu.Lock()
		b.cause = cause
		b.mu.Unlock()
		b.pulled.Store(true)
		close(b.done)
		pulledNow = true
	})
	return pulledNow
}

func (b *EmergencyBrake) Pulled() bool {
	return b.pulled.Load()
}

// Done is closed when the brake is pulled.
func (b *EmergencyBrake) Done() <-chan struct{} {
	return b.done
}

func (b *EmergencyBrake) Cause() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cause
}
