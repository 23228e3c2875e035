package serialline

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"
)

// DefaultBaudRate is used when the caller passes zero.
const DefaultBaudRate = 115200

// Port wraps a serial connection to the device bridge.
type Port struct {
	port serial.Port
	mu   sync.Mutex
}

// OpenPort opens the serial port at the given baud rate, 8N1.
func OpenPort(path string, baud int) (*Port, error) {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("reset input buffer: %w", err)
	}

	log.Info().Str("port", path).Int("baud", baud).Msg("Serial port opened")
	return &Port{port: port}, nil
}

// Write sends raw bytes. Concurrent writers never interleave.
func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Write(data)
}

// Read reads raw bytes.
func (p *Port) Read(buf []byte) (int, error) {
	return p.port.Read(buf)
}

// Close closes the port.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.port.Close()
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}
