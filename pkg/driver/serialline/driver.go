// Package serialline drives devices through a bridge that speaks a simple
// line protocol over a serial port.
//
// Gateway to bridge:
//
//	CMD <device command id> <device id> <command> <inputs json>
//
// Bridge to gateway:
//
//	ACK <device command id> received|pending|done|failed [message]
//	STATE <device id> <machine state> [extra json]
package serialline

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

// Handler receives messages coming back from the bridge.
type Handler interface {
	AcknowledgeCommand(ctx context.Context, deviceCommandID string, status device.Status, message string) (*device.CommandRecord, error)
	ReportState(ctx context.Context, deviceID string, u device.StateUpdate) error
}

// Driver implements device.Driver over any byte stream.
type Driver struct {
	rw      io.ReadWriteCloser
	handler Handler

	connected bool
	connMu    sync.RWMutex

	writeMu sync.Mutex
	done    chan struct{}
}

var _ device.Driver = (*Driver)(nil)

// New creates a Driver over rw. Call Start to begin reading.
func New(rw io.ReadWriteCloser, handler Handler) *Driver {
	return &Driver{
		rw:        rw,
		handler:   handler,
		connected: true,
		done:      make(chan struct{}),
	}
}

// Open opens a serial port and wraps it in a Driver.
func Open(path string, baud int, handler Handler) (*Driver, error) {
	port, err := OpenPort(path, baud)
	if err != nil {
		return nil, err
	}
	return New(port, handler), nil
}

// Start launches the read loop. It returns immediately.
func (d *Driver) Start(ctx context.Context) {
	go d.readLoop(ctx)
}

// Done is closed when the read loop exits.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// Execute writes a CMD line for rec.
func (d *Driver) Execute(_ context.Context, rec *device.CommandRecord) error {
	if !d.IsConnected() {
		return device.ErrNotConnected
	}
	inputs := rec.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	payload, err := json.Marshal(inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	line := fmt.Sprintf("CMD %s %s %s %s\n", rec.DeviceCommandID, rec.DeviceID, rec.CommandID, payload)

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := io.WriteString(d.rw, line); err != nil {
		d.setConnected(false)
		return fmt.Errorf("write command %s: %w", rec.DeviceCommandID, err)
	}
	log.Debug().Str("device_command_id", rec.DeviceCommandID).Str("command", rec.CommandID).Msg("Command sent to bridge")
	return nil
}

// IsConnected reports whether the stream is still usable.
func (d *Driver) IsConnected() bool {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return d.connected
}

func (d *Driver) setConnected(v bool) {
	d.connMu.Lock()
	d.connected = v
	d.connMu.Unlock()
}

// Close closes the stream, which also ends the read loop.
func (d *Driver) Close() error {
	d.setConnected(false)
	return d.rw.Close()
}

func (d *Driver) readLoop(ctx context.Context) {
	defer close(d.done)
	scanner := bufio.NewScanner(d.rw)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := d.handleLine(ctx, line); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("Bad line from bridge")
		}
	}
	d.setConnected(false)
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		log.Error().Err(err).Msg("Bridge read loop stopped")
		return
	}
	log.Info().Msg("Bridge stream closed")
}

// ErrMalformedLine is returned for lines that do not parse.
var ErrMalformedLine = errors.New("malformed line")

func (d *Driver) handleLine(ctx context.Context, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "ACK":
		return d.handleAck(ctx, rest)
	case "STATE":
		return d.handleState(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown verb %q", ErrMalformedLine, verb)
	}
}

func (d *Driver) handleAck(ctx context.Context, rest string) error {
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("%w: ACK needs an id and a status", ErrMalformedLine)
	}
	status, err := device.ParseStatus(parts[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}
	var message string
	if len(parts) == 3 {
		message = parts[2]
	}
	_, err = d.handler.AcknowledgeCommand(ctx, parts[0], status, message)
	return err
}

func (d *Driver) handleState(ctx context.Context, rest string) error {
	parts := strings.SplitN(rest, " ", 3)
	if len(parts) < 2 {
		return fmt.Errorf("%w: STATE needs a device id and a machine state", ErrMalformedLine)
	}
	ms, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return fmt.Errorf("%w: machine state %q", ErrMalformedLine, parts[1])
	}
	u := device.StateUpdate{
		MachineState:    device.Float(ms),
		ReportingSource: "serial",
	}
	if len(parts) == 3 {
		if err := json.Unmarshal([]byte(parts[2]), &u.Extra); err != nil {
			return fmt.Errorf("%w: extra: %v", ErrMalformedLine, err)
		}
	}
	return d.handler.ReportState(ctx, parts[0], u)
}
