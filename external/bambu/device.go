package bambu

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/pcider/printbot/internal/printer"
)

const (
	mqttPort               = 8883
	username               = "bblp"
	connectTimeout         = 10 * time.Second
	disconnectQuiesce      = 250
	publishTimeout         = 5 * time.Second
	keepAlive              = 30 * time.Second
	subscribeQoS      byte = 0
)

var ErrNotConnected = errors.New("printer not connected")

// Device talks to one printer over its LAN-mode MQTT broker and camera
// stream. Telemetry pushed by the printer is merged into a cache that Status
// reads.
type Device struct {
	cfg         printer.Config
	newClient   func(*mqtt.ClientOptions) mqtt.Client
	dialCamera  func(ctx context.Context) (net.Conn, error)
	cameraRetry time.Duration

	mu         sync.RWMutex
	client     mqtt.Client
	connected  bool
	telemetry  telemetry
	frame      []byte
	seq        int
	stopCamera context.CancelFunc
	cameraDone chan struct{}
}

var _ printer.Device = (*Device)(nil)

func NewDevice(cfg printer.Config) *Device {
	return &Device{
		cfg:         cfg,
		newClient:   mqtt.NewClient,
		dialCamera:  tlsCameraDialer(cfg.Host),
		cameraRetry: cameraRetryDelay,
		telemetry:   newTelemetry(),
	}
}

func (d *Device) reportTopic() string  { return fmt.Sprintf("device/%s/report", d.cfg.Serial) }
func (d *Device) requestTopic() string { return fmt.Sprintf("device/%s/request", d.cfg.Serial) }

func (d *Device) clientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s", net.JoinHostPort(d.cfg.Host, fmt.Sprint(mqttPort)))).
		SetClientID(fmt.Sprintf("printbot-%s-%d", d.cfg.Serial, time.Now().UnixNano())).
		SetUsername(username).
		SetPassword(d.cfg.AccessCode).
		// The printer's broker uses a self-signed certificate.
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(d.onConnectionLost)
}

// Connect opens the MQTT session, subscribes to reports, requests a full
// report and starts the camera stream. Ready turns true once the first
// report with a gcode state has arrived.
func (d *Device) Connect(ctx context.Context) error {
	_ = d.Disconnect()

	client := d.newClient(d.clientOptions())
	if err := waitToken(ctx, client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("failed to connect to printer %s: %w", d.cfg.Host, err)
	}
	if err := waitToken(ctx, client.Subscribe(d.reportTopic(), subscribeQoS, d.onReport), connectTimeout); err != nil {
		client.Disconnect(disconnectQuiesce)
		return fmt.Errorf("failed to subscribe to printer reports: %w", err)
	}

	d.mu.Lock()
	d.client = client
	d.connected = true
	d.telemetry = newTelemetry()
	d.seq++
	seq := d.seq
	if d.dialCamera != nil {
		camCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		d.stopCamera = cancel
		d.cameraDone = done
		go d.runCamera(camCtx, done)
	}
	d.mu.Unlock()

	if err := waitToken(ctx, client.Publish(d.requestTopic(), subscribeQoS, false, pushAllPayload(seq)), publishTimeout); err != nil {
		slog.Warn("failed to request full report", "printer", d.cfg.Name, "error", err)
	}
	slog.Info("printer connected", "printer", d.cfg.Name, "host", d.cfg.Host)
	return nil
}

func (d *Device) Disconnect() error {
	d.mu.Lock()
	client := d.client
	stop, done := d.stopCamera, d.cameraDone
	d.client = nil
	d.connected = false
	d.telemetry = newTelemetry()
	d.stopCamera, d.cameraDone = nil, nil
	d.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
	if client != nil {
		client.Disconnect(disconnectQuiesce)
		slog.Info("printer disconnected", "printer", d.cfg.Name)
	}
	return nil
}

func (d *Device) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected && d.client != nil && d.client.IsConnectionOpen()
}

func (d *Device) Ready() bool {
	if !d.IsConnected() {
		return false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.telemetry.seenState
}

func (d *Device) Status() (printer.Status, error) {
	if !d.IsConnected() {
		return printer.Status{}, ErrNotConnected
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.telemetry.status, nil
}

func (d *Device) LastCameraFrame() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.frame
}

func (d *Device) ClearCameraFrame() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = nil
}

func (d *Device) setFrame(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = frame
}

func (d *Device) SetLight(ctx context.Context, on bool) error {
	d.mu.Lock()
	client := d.client
	d.seq++
	seq := d.seq
	d.mu.Unlock()
	if client == nil {
		return ErrNotConnected
	}
	if err := waitToken(ctx, client.Publish(d.requestTopic(), subscribeQoS, false, lightPayload(seq, on)), publishTimeout); err != nil {
		return fmt.Errorf("failed to switch light: %w", err)
	}
	return nil
}

func (d *Device) onReport(_ mqtt.Client, msg mqtt.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.telemetry.merge(msg.Payload()); err != nil {
		slog.Warn("ignoring printer report", "printer", d.cfg.Name, "error", err)
	}
}

func (d *Device) onConnectionLost(_ mqtt.Client, err error) {
	slog.Warn("printer connection lost", "printer", d.cfg.Name, "error", err)
	d.mu.Lock()
	d.connected = false
	d.mu.Unlock()
}

// waitToken waits for an MQTT operation, bounded by ctx and timeout.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("mqtt operation timed out after %s", timeout)
	}
}
