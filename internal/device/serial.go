package device

import (
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/serial"
)

// SerialParams configures a board link.
type SerialParams struct {
	Address  string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func ensureSerialDefaults(sp *SerialParams) {
	if sp.BaudRate == 0 {
		sp.BaudRate = 115200
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = 50 * time.Millisecond
	}
}

// serialLink writes line frames to the board over a serial port.
type serialLink struct {
	mu   sync.Mutex
	addr string
	port serial.Port
}

// OpenSerial opens the board at sp.Address.
func OpenSerial(sp SerialParams) (Link, error) {
	ensureSerialDefaults(&sp)
	p, err := serial.Open(&serial.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   sp.Parity,
		Timeout:  sp.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", sp.Address, err)
	}
	return &serialLink{addr: sp.Address, port: p}, nil
}

func (l *serialLink) Port() string { return l.addr }

func (l *serialLink) Send(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return fmt.Errorf("%s: link closed", l.addr)
	}
	if _, err := l.port.Write(frame); err != nil {
		return fmt.Errorf("write %s: %w", l.addr, err)
	}
	return nil
}

func (l *serialLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}
