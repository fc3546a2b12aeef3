// Package heartbeat holds the liveness bookkeeping shared by the bridge server
// and the relay client.
//
// Transport liveness follows a two-miss rule: each tick either finds the peer
// answered the previous probe (Arm succeeds and a new probe is sent) or it did
// not (Arm fails and the caller terminates the connection). A dead peer is
// therefore evicted after at most two intervals.
package heartbeat

import (
	"context"
	"sync"
	"time"
)

// Liveness tracks whether a peer has answered the most recent probe
type Liveness struct {
	mu       sync.Mutex
	alive    bool
	lastSeen time.Time
}

// NewLiveness returns a Liveness that starts out alive
func NewLiveness() *Liveness {
	return &Liveness{alive: true, lastSeen: time.Now()}
}

// MarkAlive records proof of life from the peer
func (l *Liveness) MarkAlive() {
	l.mu.Lock()
	l.alive = true
	l.lastSeen = time.Now()
	l.mu.Unlock()
}

// Arm is called once per heartbeat tick before sending a probe. It returns
// false if the previous probe was never answered; otherwise it clears the
// alive flag so the next probe has to be answered to survive the next tick.
func (l *Liveness) Arm() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.alive {
		return false
	}
	l.alive = false
	return true
}

// Alive reports the current flag
func (l *Liveness) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive
}

// LastSeen is the last time the peer proved it was alive
func (l *Liveness) LastSeen() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeen
}

// Every calls fn each interval until ctx is done
func Every(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
