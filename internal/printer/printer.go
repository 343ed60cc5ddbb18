package printer

import (
	"context"
	"fmt"
)

// Status is one consistent read of a printer's job telemetry.
type Status struct {
	GcodeState       GcodeState
	PrintStatus      PrintStatus
	Percentage       int
	CurrentLayer     int
	TotalLayers      int
	RemainingMinutes int
	ErrorCode        int
}

// Device is the per-printer connection the monitor polls.
//
// Implementations keep the latest telemetry pushed by the printer and answer
// Status from that cache, so Status never blocks on the network.
type Device interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	// Ready reports whether the connection is up and telemetry has arrived.
	Ready() bool
	Status() (Status, error)
	LastCameraFrame() []byte
	ClearCameraFrame()
	SetLight(ctx context.Context, on bool) error
}

// Config describes one statically configured printer.
type Config struct {
	Name       string `yaml:"name"`
	MAC        string `yaml:"mac"`
	Host       string `yaml:"host"`
	AccessCode string `yaml:"access_code"`
	Serial     string `yaml:"serial"`
}

// FormatMinutes renders a duration in minutes as "1h5m" or "42m".
func FormatMinutes(total int) string {
	if total < 0 {
		total = 0
	}
	hrs := total / 60
	mins := total % 60
	if hrs > 0 {
		return fmt.Sprintf("%dh%dm", hrs, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
