package bambu

import (
	"encoding/json"
	"fmt"

	"github.com/pcider/printbot/internal/printer"
)

// reportMessage is one push on device/<serial>/report. Printers send a full
// report after pushall and partial deltas afterwards, so every field is
// optional and merged into the cached state.
type reportMessage struct {
	Print *printReport `json:"print"`
}

type printReport struct {
	Command         string  `json:"command"`
	GcodeState      *string `json:"gcode_state"`
	StgCur          *int    `json:"stg_cur"`
	McPercent       *int    `json:"mc_percent"`
	LayerNum        *int    `json:"layer_num"`
	TotalLayerNum   *int    `json:"total_layer_num"`
	McRemainingTime *int    `json:"mc_remaining_time"`
	PrintError      *int    `json:"print_error"`
}

// telemetry is the merged view of all reports received on a connection.
type telemetry struct {
	status    printer.Status
	seenState bool
}

func newTelemetry() telemetry {
	return telemetry{status: printer.Status{PrintStatus: printer.StatusUnknown}}
}

// merge applies a report payload. Messages without a print section (system
// acks, info replies) are ignored.
func (t *telemetry) merge(payload []byte) error {
	var msg reportMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("failed to decode report: %w", err)
	}
	p := msg.Print
	if p == nil {
		return nil
	}

	if p.GcodeState != nil {
		t.status.GcodeState = printer.ParseGcodeState(*p.GcodeState)
		t.seenState = true
	}
	if p.StgCur != nil {
		t.status.PrintStatus = printer.PrintStatus(*p.StgCur)
	}
	if p.McPercent != nil {
		t.status.Percentage = *p.McPercent
	}
	if p.LayerNum != nil {
		t.status.CurrentLayer = *p.LayerNum
	}
	if p.TotalLayerNum != nil {
		t.status.TotalLayers = *p.TotalLayerNum
	}
	if p.McRemainingTime != nil {
		t.status.RemainingMinutes = *p.McRemainingTime
	}
	if p.PrintError != nil {
		t.status.ErrorCode = *p.PrintError
	}
	return nil
}

type pushingCommand struct {
	Pushing struct {
		SequenceID string `json:"sequence_id"`
		Command    string `json:"command"`
	} `json:"pushing"`
}

func pushAllPayload(seq int) []byte {
	var c pushingCommand
	c.Pushing.SequenceID = fmt.Sprint(seq)
	c.Pushing.Command = "pushall"
	b, _ := json.Marshal(c)
	return b
}

type ledCommand struct {
	System struct {
		SequenceID   string `json:"sequence_id"`
		Command      string `json:"command"`
		LedNode      string `json:"led_node"`
		LedMode      string `json:"led_mode"`
		LedOnTime    int    `json:"led_on_time"`
		LedOffTime   int    `json:"led_off_time"`
		LoopTimes    int    `json:"loop_times"`
		IntervalTime int    `json:"interval_time"`
	} `json:"system"`
}

func lightPayload(seq int, on bool) []byte {
	var c ledCommand
	c.System.SequenceID = fmt.Sprint(seq)
	c.System.Command = "ledctrl"
	c.System.LedNode = "chamber_light"
	c.System.LedMode = "off"
	if on {
		c.System.LedMode = "on"
	}
	c.System.LedOnTime = 500
	c.System.LedOffTime = 500
	b, _ := json.Marshal(c)
	return b
}
