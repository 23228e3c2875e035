package serialline

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yombo/yombo-gateway-sub004/pkg/device"
)

type ack struct {
	id      string
	status  device.Status
	message string
}

type report struct {
	deviceID string
	update   device.StateUpdate
}

type fakeHandler struct {
	mu      sync.Mutex
	acks    []ack
	reports []report
	seen    chan struct{}
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{seen: make(chan struct{}, 16)}
}

func (h *fakeHandler) AcknowledgeCommand(_ context.Context, id string, status device.Status, message string) (*device.CommandRecord, error) {
	h.mu.Lock()
	h.acks = append(h.acks, ack{id, status, message})
	h.mu.Unlock()
	h.seen <- struct{}{}
	return &device.CommandRecord{DeviceCommandID: id, Status: status}, nil
}

func (h *fakeHandler) ReportState(_ context.Context, deviceID string, u device.StateUpdate) error {
	h.mu.Lock()
	h.reports = append(h.reports, report{deviceID, u})
	h.mu.Unlock()
	h.seen <- struct{}{}
	return nil
}

func (h *fakeHandler) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-h.seen:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i+1)
		}
	}
}

func startDriver(t *testing.T) (*Driver, net.Conn, *fakeHandler) {
	t.Helper()
	gatewaySide, bridgeSide := net.Pipe()
	h := newFakeHandler()
	d := New(gatewaySide, h)
	d.Start(context.Background())
	t.Cleanup(func() {
		_ = d.Close()
		_ = bridgeSide.Close()
	})
	return d, bridgeSide, h
}

func TestExecute_WritesCommandLine(t *testing.T) {
	d, bridge, _ := startDriver(t)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(bridge).ReadString('\n')
		lines <- line
	}()

	err := d.Execute(context.Background(), &device.CommandRecord{
		DeviceCommandID: "dc-1",
		DeviceID:        "fan-1",
		CommandID:       "set_speed",
		Inputs:          map[string]any{"speed": 2},
	})
	require.NoError(t, err)

	select {
	case line := <-lines:
		assert.Equal(t, "CMD dc-1 fan-1 set_speed {\"speed\":2}\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no command line received")
	}
}

func TestExecute_NilInputs(t *testing.T) {
	d, bridge, _ := startDriver(t)

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(bridge).ReadString('\n')
		lines <- line
	}()

	require.NoError(t, d.Execute(context.Background(), &device.CommandRecord{
		DeviceCommandID: "dc-2", DeviceID: "sw", CommandID: "on",
	}))
	assert.Equal(t, "CMD dc-2 sw on {}\n", <-lines)
}

func TestReadLoop_Dispatches(t *testing.T) {
	_, bridge, h := startDriver(t)

	_, err := io.WriteString(bridge, "ACK dc-1 received\n"+
		"ACK dc-1 done switched on ok\n"+
		"\n"+
		"BOGUS line\n"+
		"ACK dc-2 exploded\n"+
		"STATE lamp-1 1 {\"brightness\":40}\n"+
		"STATE fan-1 0\n")
	require.NoError(t, err)
	h.wait(t, 4)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []ack{
		{"dc-1", device.StatusReceived, ""},
		{"dc-1", device.StatusDone, "switched on ok"},
	}, h.acks)

	require.Len(t, h.reports, 2)
	assert.Equal(t, "lamp-1", h.reports[0].deviceID)
	assert.Equal(t, 1.0, *h.reports[0].update.MachineState)
	assert.Equal(t, float64(40), h.reports[0].update.Extra["brightness"])
	assert.Equal(t, "serial", h.reports[0].update.ReportingSource)
	assert.Equal(t, 0.0, *h.reports[1].update.MachineState)
	assert.Nil(t, h.reports[1].update.Extra)
}

func TestHandleLine_Malformed(t *testing.T) {
	d := New(nopStream{}, newFakeHandler())
	for _, line := range []string{
		"ACK",
		"ACK dc-1",
		"ACK dc-1 sideways",
		"STATE lamp",
		"STATE lamp high",
		"STATE lamp 1 {not json",
		"PING",
	} {
		t.Run(line, func(t *testing.T) {
			assert.ErrorIs(t, d.handleLine(context.Background(), line), ErrMalformedLine)
		})
	}
}

func TestHandleLine_NonFiniteState(t *testing.T) {
	h := newFakeHandler()
	d := New(nopStream{}, h)
	for _, line := range []string{
		"STATE sw NaN",
		"STATE sw +Inf",
		"STATE sw -inf",
		"STATE sw 1e999",
	} {
		t.Run(line, func(t *testing.T) {
			assert.ErrorIs(t, d.handleLine(context.Background(), line), ErrMalformedLine)
		})
	}
	assert.Empty(t, h.reports)
}

func TestClose_Disconnects(t *testing.T) {
	d, _, _ := startDriver(t)
	require.True(t, d.IsConnected())

	require.NoError(t, d.Close())
	assert.False(t, d.IsConnected())
	err := d.Execute(context.Background(), &device.CommandRecord{DeviceCommandID: "x"})
	assert.ErrorIs(t, err, device.ErrNotConnected)

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not stop")
	}
}

type nopStream struct{}

func (nopStream) Read([]byte) (int, error)    { return 0, io.EOF }
func (nopStream) Write(p []byte) (int, error) { return len(p), nil }
func (nopStream) Close() error                { return nil }
