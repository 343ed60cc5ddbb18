package bambu

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

const (
	cameraPort        = 6000
	cameraDialTimeout = 10 * time.Second
	cameraRetryDelay  = 5 * time.Second
	frameHeaderSize   = 16
	maxFrameSize      = 8 << 20
	authFieldSize     = 32
)

var errBadFrame = errors.New("invalid camera frame")

// cameraAuthPacket is the 80 byte login sent right after the TLS handshake.
func cameraAuthPacket(username, accessCode string) []byte {
	b := make([]byte, 16+2*authFieldSize)
	binary.LittleEndian.PutUint32(b[0:4], 0x40)
	binary.LittleEndian.PutUint32(b[4:8], 0x3000)
	copy(b[16:16+authFieldSize], username)
	copy(b[16+authFieldSize:], accessCode)
	return b
}

// readFrame reads one JPEG. Frames carry a 16 byte header whose first four
// bytes hold the little-endian payload size.
func readFrame(r io.Reader) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(header[0:4])
	if size < 4 || size > maxFrameSize {
		return nil, fmt.Errorf("%w: size %d", errBadFrame, size)
	}
	frame := make([]byte, size)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	if frame[0] != 0xFF || frame[1] != 0xD8 || frame[size-2] != 0xFF || frame[size-1] != 0xD9 {
		return nil, fmt.Errorf("%w: missing JPEG markers", errBadFrame)
	}
	return frame, nil
}

func tlsCameraDialer(host string) func(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(host, fmt.Sprint(cameraPort))
	return func(ctx context.Context) (net.Conn, error) {
		d := tls.Dialer{
			NetDialer: &net.Dialer{Timeout: cameraDialTimeout},
			// Printers present a self-signed certificate.
			Config: &tls.Config{InsecureSkipVerify: true},
		}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// runCamera keeps a camera stream open until ctx ends, redialing after
// failures.
func (d *Device) runCamera(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		err := d.streamCamera(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Debug("camera stream ended", "printer", d.cfg.Name, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cameraRetry):
		}
	}
}

func (d *Device) streamCamera(ctx context.Context) error {
	conn, err := d.dialCamera(ctx)
	if err != nil {
		return fmt.Errorf("failed to dial camera: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		conn.Close()
	}()

	if _, err := conn.Write(cameraAuthPacket(username, d.cfg.AccessCode)); err != nil {
		return fmt.Errorf("failed to authenticate camera: %w", err)
	}
	for {
		frame, err := readFrame(conn)
		if err != nil {
			return err
		}
		d.setFrame(frame)
	}
}
