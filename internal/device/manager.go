// Package device discovers the board on a serial port, watches its health
// and forwards key transitions to it.
package device

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"drinky-board/internal/config"
)

// ErrNoDevice is returned when no board is attached.
var ErrNoDevice = errors.New("device: no board attached")

// Link is an open connection to a board.
type Link interface {
	Port() string
	Send(frame []byte) error
	Close() error
}

// Opener opens the board at a port path.
type Opener func(port string) (Link, error)

// Status is a snapshot of the attached board.
type Status struct {
	Attached      bool
	Connected     bool
	Port          string
	LastHeartbeat time.Time
}

var heartbeatFrame = []byte("H\n")

// Manager owns at most one board link. Frames are "D <code>\n" for a press,
// "U <code>\n" for a release and "H\n" for a heartbeat.
type Manager struct {
	cfg      config.DeviceConfig
	open     Opener
	discover func(pattern string) ([]string, error)
	now      func() time.Time

	mu            sync.Mutex
	link          Link
	lastHeartbeat time.Time
}

// NewManager returns a manager with no board attached. A nil open uses the
// serial port settings of cfg.
func NewManager(cfg config.DeviceConfig, open Opener) *Manager {
	if open == nil {
		open = func(port string) (Link, error) {
			return OpenSerial(SerialParams{Address: port, BaudRate: cfg.BaudRate, Timeout: cfg.Timeout})
		}
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 2 * time.Second
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	return &Manager{cfg: cfg, open: open, discover: filepath.Glob, now: time.Now}
}

// Run scans for a board while none is attached and drops a board that
// fails its health check. It returns when ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if !m.scan() {
		log.Printf("device: no board found on startup")
	}
	scan := time.NewTicker(m.cfg.ScanInterval)
	defer scan.Stop()
	health := time.NewTicker(m.cfg.HealthInterval)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			m.detach(nil, "shutdown")
			return nil
		case <-health.C:
			if st := m.Status(); st.Attached && !st.Connected {
				m.detach(nil, "unresponsive")
			}
		case <-scan.C:
			m.mu.Lock()
			attached := m.link != nil
			m.mu.Unlock()
			if !attached {
				m.scan()
			}
		}
	}
}

// scan attaches the first candidate port that opens.
func (m *Manager) scan() bool {
	if m.cfg.SerialPort == "" {
		return false
	}
	ports, err := m.discover(m.cfg.SerialPort)
	if err != nil {
		log.Printf("device: scan %s: %v", m.cfg.SerialPort, err)
		return false
	}
	sort.Strings(ports)
	for _, p := range ports {
		link, err := m.open(p)
		if err != nil {
			log.Printf("device: %v", err)
			continue
		}
		m.Attach(link)
		return true
	}
	return false
}

// Attach makes link the current board, closing any previous one.
func (m *Manager) Attach(link Link) {
	m.mu.Lock()
	old := m.link
	m.link = link
	m.lastHeartbeat = m.now()
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	log.Printf("device: connected on %s", link.Port())
}

// detach drops the current link, or only want when it is non-nil.
func (m *Manager) detach(want Link, reason string) {
	m.mu.Lock()
	link := m.link
	if link == nil || (want != nil && link != want) {
		m.mu.Unlock()
		return
	}
	m.link = nil
	m.mu.Unlock()
	log.Printf("device: closing %s (%s)", link.Port(), reason)
	_ = link.Close()
}

// Status reports the board, sending a heartbeat when the last one is older
// than the heartbeat interval.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.link == nil {
		return Status{}
	}
	st := Status{Attached: true, Connected: true, Port: m.link.Port(), LastHeartbeat: m.lastHeartbeat}
	if m.now().Sub(m.lastHeartbeat) <= m.cfg.HeartbeatInterval {
		return st
	}
	if err := m.link.Send(heartbeatFrame); err != nil {
		log.Printf("device: heartbeat %s: %v", m.link.Port(), err)
		st.Connected = false
		return st
	}
	m.lastHeartbeat = m.now()
	st.LastHeartbeat = m.lastHeartbeat
	return st
}

// Press sends a key press frame.
func (m *Manager) Press(code string) error { return m.send('D', code) }

// Release sends a key release frame.
func (m *Manager) Release(code string) error { return m.send('U', code) }

func (m *Manager) send(action byte, code string) error {
	m.mu.Lock()
	link := m.link
	m.mu.Unlock()
	if link == nil {
		return ErrNoDevice
	}
	if err := link.Send([]byte(fmt.Sprintf("%c %s\n", action, code))); err != nil {
		m.detach(link, "write failed")
		return err
	}
	return nil
}
