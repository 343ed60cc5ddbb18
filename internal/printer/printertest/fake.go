// Package printertest provides an in-memory printer.Device for tests.
package printertest

import (
	"context"
	"errors"
	"sync"

	"github.com/pcider/printbot/internal/printer"
)

// FakeDevice is a scriptable printer.Device. The zero value is disconnected.
type FakeDevice struct {
	mu sync.Mutex

	connected  bool
	ready      bool
	status     printer.Status
	statusErr  error
	frame      []byte
	nextFrame  []byte
	connectErr error

	ConnectCalls int
	LightCalls   []bool
	// OnLight, when set, runs after each SetLight call with the lock released.
	OnLight func(on bool)
	// PanicOnStatus makes Status panic, simulating a broken adapter.
	PanicOnStatus bool
}

var ErrNotConnected = errors.New("printertest: not connected")

// NewReady returns a connected device that already reports st.
func NewReady(st printer.Status) *FakeDevice {
	return &FakeDevice{connected: true, ready: true, status: st}
}

func (d *FakeDevice) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ConnectCalls++
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	d.ready = true
	return nil
}

func (d *FakeDevice) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.ready = false
	return nil
}

func (d *FakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *FakeDevice) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected && d.ready
}

func (d *FakeDevice) Status() (printer.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PanicOnStatus {
		panic("telemetry decode failed")
	}
	if d.statusErr != nil {
		return printer.Status{}, d.statusErr
	}
	if !d.connected {
		return printer.Status{}, ErrNotConnected
	}
	return d.status, nil
}

func (d *FakeDevice) LastCameraFrame() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frame
}

// ClearCameraFrame drops the cached frame. A frame scripted with
// SetNextFrame takes its place, as if the camera delivered it right away.
func (d *FakeDevice) ClearCameraFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = d.nextFrame
	d.nextFrame = nil
}

func (d *FakeDevice) SetLight(_ context.Context, on bool) error {
	d.mu.Lock()
	d.LightCalls = append(d.LightCalls, on)
	hook := d.OnLight
	d.mu.Unlock()
	if hook != nil {
		hook(on)
	}
	return nil
}

// SetStatus replaces the telemetry returned by Status.
func (d *FakeDevice) SetStatus(st printer.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = st
}

// Update mutates the current telemetry in place.
func (d *FakeDevice) Update(fn func(*printer.Status)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.status)
}

func (d *FakeDevice) SetStatusErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusErr = err
}

func (d *FakeDevice) SetFrame(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = b
}

func (d *FakeDevice) SetNextFrame(b []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextFrame = b
}

func (d *FakeDevice) SetConnectErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr = err
}

// Drop simulates a lost connection.
func (d *FakeDevice) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.ready = false
}

// SetReady toggles whether telemetry has arrived while staying connected.
func (d *FakeDevice) SetReady(ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ready = ready
}

func (d *FakeDevice) Lights() []bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]bool(nil), d.LightCalls...)
}
