// Package relay forwards captured key transitions to the board in order.
package relay

import (
	"context"
	"errors"
	"log"
	"sync"

	"drinky-board/internal/model"
	"drinky-board/internal/remote"
)

// State of the single capture session.
type State int

const (
	Idle State = iota
	AwaitingConfirmation
	Capturing
)

func (s State) String() string {
	switch s {
	case AwaitingConfirmation:
		return "awaiting confirmation"
	case Capturing:
		return "capturing"
	default:
		return "idle"
	}
}

// ErrBusy is returned when a transition is requested from the wrong state.
var ErrBusy = errors.New("relay: capture session already in progress")

// ErrNotRequested is returned by Confirm without a preceding Request.
var ErrNotRequested = errors.New("relay: capture was not requested")

// Transport submits one key transition.
type Transport interface {
	Listen(ctx context.Context, ev model.KeyEvent) (remote.ListenAck, error)
}

// Checker returns a fresh connectivity reading.
type Checker interface {
	Poll(ctx context.Context) model.ConnectionState
}

// Level of a Notice.
type Level int

const (
	// Warning is a rejected single event; the session continues.
	Warning Level = iota
	// Failure ended the session.
	Failure
)

// Notice is an asynchronous, user-visible outcome of the relay.
type Notice struct {
	Level   Level
	Message string
	Err     error
}

// session owns the ordered queue of one capture. Fields are guarded by Relay.mu.
type session struct {
	pending []model.KeyEvent
	closed  bool
	wake    chan struct{}
}

func (s *session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Relay is the capture state machine. One sender goroutine per session
// awaits each submission before the next, so the service sees events in
// capture order.
type Relay struct {
	transport Transport
	checker   Checker
	notify    func(Notice)

	mu      sync.Mutex
	state   State
	request uint64
	session *session
	seq     uint64
	senders sync.WaitGroup
}

// New returns an idle relay. notify receives warnings and session failures;
// nil logs them instead.
func New(t Transport, c Checker, notify func(Notice)) *Relay {
	if notify == nil {
		notify = func(n Notice) { log.Printf("relay: %s", n.Message) }
	}
	return &Relay{transport: t, checker: c, notify: notify}
}

// State returns the current state.
func (r *Relay) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Request moves idle to awaiting confirmation.
func (r *Relay) Request() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Idle {
		return ErrBusy
	}
	r.state = AwaitingConfirmation
	r.request++
	return nil
}

// Cancel abandons a pending request.
func (r *Relay) Cancel() {
	r.mu.Lock()
	if r.state == AwaitingConfirmation {
		r.state = Idle
	}
	r.mu.Unlock()
}

// Confirm checks connectivity and starts capturing. When the board is not
// connected the relay returns to idle and the error carries the service's
// message.
func (r *Relay) Confirm(ctx context.Context) error {
	r.mu.Lock()
	if r.state != AwaitingConfirmation {
		st := r.state
		r.mu.Unlock()
		if st == Capturing {
			return ErrBusy
		}
		return ErrNotRequested
	}
	token := r.request
	r.mu.Unlock()

	cs := r.checker.Poll(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != AwaitingConfirmation || r.request != token {
		if r.state == Capturing {
			return ErrBusy
		}
		return ErrNotRequested
	}
	if !cs.Connected() {
		r.state = Idle
		msg := cs.Message
		if msg == "" {
			msg = "Device not connected"
		}
		return &remote.Error{Kind: remote.KindDeviceUnavailable, Op: "start capture", Message: msg}
	}

	s := &session{wake: make(chan struct{}, 1)}
	r.session = s
	r.state = Capturing
	r.senders.Add(1)
	go r.send(context.WithoutCancel(ctx), s)
	return nil
}

// Start is Request followed by Confirm.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.Request(); err != nil {
		return err
	}
	return r.Confirm(ctx)
}

// Stop is the exit gesture. Interception stops at once; events already
// captured are still delivered, their results ignored.
func (r *Relay) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case AwaitingConfirmation:
		r.state = Idle
	case Capturing:
		r.session.closed = true
		r.session.signal()
		r.session = nil
		r.state = Idle
	}
}

// KeyDown captures a key press. It reports whether the caller should
// suppress the default handling of the key.
func (r *Relay) KeyDown(code string) (preventDefault bool) {
	return r.capture(code, model.PhaseDown)
}

// KeyUp captures a key release. It reports whether the event was
// captured; default handling of key-up is never suppressed.
func (r *Relay) KeyUp(code string) (captured bool) {
	return r.capture(code, model.PhaseUp)
}

func (r *Relay) capture(code string, phase model.Phase) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Capturing {
		return false
	}
	r.seq++
	r.session.pending = append(r.session.pending, model.KeyEvent{Code: code, Phase: phase, Sequence: r.seq})
	r.session.signal()
	return true
}

// OnConnectivity ends a running capture when the board is no longer
// connected. It is meant to be subscribed to the connectivity monitor.
func (r *Relay) OnConnectivity(cs model.ConnectionState) {
	if cs.Connected() {
		return
	}
	r.mu.Lock()
	s := r.session
	r.mu.Unlock()
	if s == nil {
		return
	}
	n, ok := r.end(s, remote.Errorf(remote.KindDeviceUnavailable, "connectivity", "%s", cs.Message))
	if !ok {
		return
	}
	// off the monitor's poll, so notify may start a new capture
	r.senders.Add(1)
	go func() {
		defer r.senders.Done()
		r.notify(n)
	}()
}

// Wait blocks until every session's sender and every pending notice has
// finished.
func (r *Relay) Wait() { r.senders.Wait() }

func (r *Relay) next(s *session) (model.KeyEvent, bool) {
	r.mu.Lock()
	for len(s.pending) == 0 && !s.closed {
		r.mu.Unlock()
		<-s.wake
		r.mu.Lock()
	}
	defer r.mu.Unlock()
	if len(s.pending) == 0 {
		return model.KeyEvent{}, false
	}
	ev := s.pending[0]
	s.pending = s.pending[1:]
	return ev, true
}

func (r *Relay) send(ctx context.Context, s *session) {
	defer r.senders.Done()
	for {
		ev, ok := r.next(s)
		if !ok {
			return
		}
		_, err := r.transport.Listen(ctx, ev)
		if err == nil {
			continue
		}
		if !r.current(s) {
			log.Printf("relay: discarded result of event %d after session end: %v", ev.Sequence, err)
			continue
		}
		var re *remote.Error
		if remote.KindOf(err) == remote.KindApplication && errors.As(err, &re) {
			if re.StatusCode >= 200 && re.StatusCode < 300 {
				r.notify(Notice{Level: Warning, Message: remote.UserMessage(err), Err: err})
			} else {
				log.Printf("relay: event %d %s %s: %v", ev.Sequence, ev.Phase, ev.Code, err)
			}
			continue
		}
		r.fail(s, err)
	}
}

func (r *Relay) current(s *session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session == s && r.state == Capturing
}

func (r *Relay) fail(s *session, cause error) {
	if n, ok := r.end(s, cause); ok {
		r.notify(n)
	}
}

// end closes s and drops its queue; the board is gone so the rest can't
// land. It reports false when s was already over.
func (r *Relay) end(s *session, cause error) (Notice, bool) {
	r.mu.Lock()
	if r.session != s || r.state != Capturing {
		r.mu.Unlock()
		return Notice{}, false
	}
	dropped := len(s.pending)
	s.pending = nil
	s.closed = true
	s.signal()
	r.session = nil
	r.state = Idle
	r.mu.Unlock()

	log.Printf("relay: capture ended, %d queued events dropped: %v", dropped, cause)
	return Notice{Level: Failure, Message: "Device disconnected", Err: cause}, true
}
