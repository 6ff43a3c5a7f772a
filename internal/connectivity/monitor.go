// Package connectivity keeps a live belief about whether the board is reachable.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"

	"drinky-board/internal/model"
	"drinky-board/internal/remote"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 500 * time.Millisecond

// StatusSource answers a single status request.
type StatusSource interface {
	ConnectionStatus(ctx context.Context) (model.ConnectionState, error)
}

// Monitor polls a StatusSource on a fixed interval. Failed polls become
// StatusUnresponsive; there is no retry besides the next tick.
type Monitor struct {
	src      StatusSource
	interval time.Duration
	now      func() time.Time

	pollMu sync.Mutex // serializes polls so published states stay ordered

	mu      sync.Mutex
	state   model.ConnectionState
	subs    map[int]func(model.ConnectionState)
	nextSub int
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a stopped monitor. interval <= 0 uses DefaultInterval.
func New(src StatusSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		src:      src,
		interval: interval,
		now:      time.Now,
		state: model.ConnectionState{
			Status:  model.StatusUnresponsive,
			Message: "Checking connection...",
		},
		subs: make(map[int]func(model.ConnectionState)),
	}
}

// Start begins polling in the background. It is a no-op when already running.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
}

// Stop halts polling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	// Immediate first poll
	m.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Poll(ctx)
		}
	}
}

// Current returns the latest snapshot.
func (m *Monitor) Current() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every state that differs from the previous one.
// fn runs while polls are serialized, so neither fn nor anything it calls
// synchronously may call Poll; hand such work to another goroutine.
func (m *Monitor) Subscribe(fn func(model.ConnectionState)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Poll issues one status request, publishes the outcome and returns it.
// It never fails: errors become StatusUnresponsive.
func (m *Monitor) Poll(ctx context.Context) model.ConnectionState {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	next, err := m.src.ConnectionStatus(ctx)
	if ctx.Err() != nil && err != nil {
		// shutting down; keep the last real observation
		return m.Current()
	}

	m.mu.Lock()
	prev := m.state
	if err != nil {
		// the port is kept for display only
		next = model.ConnectionState{
			Status:  model.StatusUnresponsive,
			Port:    prev.Port,
			Message: remote.UserMessage(err),
		}
	} else if !next.Status.Valid() {
		next.Status = model.StatusUnresponsive
	}
	m.state = next
	changed := !model.SameDisplay(prev, next, m.now())
	var fns []func(model.ConnectionState)
	if changed {
		fns = make([]func(model.ConnectionState), 0, len(m.subs))
		for _, fn := range m.subs {
			fns = append(fns, fn)
		}
	}
	m.mu.Unlock()

	if changed {
		if prev.Status != next.Status {
			if err != nil {
				log.Printf("monitor: %s -> %s: %v", prev.Status, next.Status, err)
			} else {
				log.Printf("monitor: %s -> %s: %s", prev.Status, next.Status, next.Message)
			}
		}
		for _, fn := range fns {
			fn(next)
		}
	}
	return next
}
